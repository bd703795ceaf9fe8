package gateway

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/academyhub/backend/internal/models"
)

var (
	ErrRawDisabled  = errors.New("raw queries are not enabled")
	ErrNoRawGrant   = errors.New("raw query requires a grant")
	ErrRawForbidden = errors.New("raw query contains a forbidden statement")
)

// RawStore runs textual SQL.
type RawStore interface {
	QueryRaw(ctx context.Context, sql string, args ...any) ([]models.Record, error)
}

// RawGrant is the capability ExecuteRawQuery demands. It can only be made
// by GrantRawAccess, which requires a stated reason that is logged with
// every raw statement.
type RawGrant struct {
	reason string
}

func GrantRawAccess(reason string) (RawGrant, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return RawGrant{}, errors.New("raw access needs a reason")
	}
	return RawGrant{reason: reason}, nil
}

func (g RawGrant) Reason() string { return g.reason }

var (
	dropPattern     = regexp.MustCompile(`(?i)\bDROP\b`)
	truncatePattern = regexp.MustCompile(`(?i)\bTRUNCATE\b`)
	deletePattern   = regexp.MustCompile(`(?i)\bDELETE\b`)
	wherePattern    = regexp.MustCompile(`(?i)\bWHERE\b`)
)

// checkRawSQL applies the textual bans: DROP and TRUNCATE always, DELETE
// unless the statement has a WHERE.
func checkRawSQL(sql string) error {
	switch {
	case strings.TrimSpace(sql) == "":
		return fmt.Errorf("%w: empty statement", ErrRawForbidden)
	case dropPattern.MatchString(sql):
		return fmt.Errorf("%w: DROP", ErrRawForbidden)
	case truncatePattern.MatchString(sql):
		return fmt.Errorf("%w: TRUNCATE", ErrRawForbidden)
	case deletePattern.MatchString(sql) && !wherePattern.MatchString(sql):
		return fmt.Errorf("%w: DELETE without WHERE", ErrRawForbidden)
	}
	return nil
}

// ExecuteRawQuery runs pre-approved textual SQL. It skips the structured
// table and operation checks, so it needs a RawGrant and is never reachable
// from agent-facing handlers.
func (g *Gateway) ExecuteRawQuery(ctx context.Context, grant RawGrant, sql string, args ...any) Result {
	start := time.Now()
	fail := func(err error) Result {
		g.metrics.GatewayOperation("RAW", false, time.Since(start))
		return Result{Error: err.Error(), ExecutionTime: time.Since(start).Milliseconds()}
	}
	if grant.reason == "" {
		return fail(ErrNoRawGrant)
	}
	if g.raw == nil {
		return fail(ErrRawDisabled)
	}
	if err := checkRawSQL(sql); err != nil {
		g.log.Warn("raw query rejected", "reason", grant.reason, "error", err)
		return fail(err)
	}

	g.log.Info("executing raw query", "reason", grant.reason)
	rows, err := withTimeout(ctx, g.timeout, func(ctx context.Context) ([]models.Record, error) {
		return g.raw.QueryRaw(ctx, sql, args...)
	})
	elapsed := time.Since(start)
	switch {
	case errors.Is(err, ErrTimeout):
		g.log.Warn("raw query timed out; the statement may still complete on the server", "reason", grant.reason, "timeout", g.timeout)
		g.metrics.GatewayTimeout()
		return fail(fmt.Errorf("query timed out after %s", g.timeout))
	case err != nil:
		g.log.Error("raw query failed", "reason", grant.reason, "error", err)
		return fail(errors.New("failed to execute query"))
	}
	g.metrics.GatewayOperation("RAW", true, elapsed)
	n := int64(len(rows))
	return Result{Success: true, Data: rows, Count: &n, ExecutionTime: elapsed.Milliseconds()}
}
