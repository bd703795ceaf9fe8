// Package gateway is the guarded executor for structured database operations
// requested on behalf of agents. It validates every request against an
// operation whitelist, a table blocklist and structural rules before anything
// reaches the record store.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/academyhub/backend/internal/metrics"
	"github.com/academyhub/backend/internal/models"
	"github.com/academyhub/backend/internal/repository"
)

const (
	DefaultTimeout = 30 * time.Second
	MaxRows        = 1000
)

var (
	ErrOperationNotAllowed = errors.New("operation not allowed")
	ErrTableBlocked        = errors.New("table is blocked")
	ErrUnknownTable        = errors.New("unknown table")
	ErrUnscopedUpdate      = errors.New("UPDATE requires a non-empty WHERE clause")
	ErrEmptyData           = errors.New("operation requires non-empty data")
	ErrTimeout             = errors.New("query timed out")
)

var allowedOperations = map[models.Operation]struct{}{
	models.OpSelect: {},
	models.OpUpdate: {},
	models.OpInsert: {},
	models.OpCount:  {},
}

// blockedTables are compared after normalizeTable, so "ApiKey", "api_keys"
// and "apikey" are the same entry.
var blockedTables = map[string]struct{}{
	"session":           {},
	"account":           {},
	"verificationtoken": {},
	"apikey":            {},
	"user":              {},
	"agenttask":         {},
	"agentpermission":   {},
	"agentexecutionlog": {},
	"agentapikey":       {},
	"staffuser":         {},
}

func normalizeTable(name string) string {
	n := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), "_", ""))
	return strings.TrimSuffix(n, "s")
}

// IsBlocked reports whether table is one an agent may never touch.
func IsBlocked(table string) bool {
	_, ok := blockedTables[normalizeTable(table)]
	return ok
}

// Store is the persistence collaborator the gateway delegates to.
type Store interface {
	HasModel(table string) bool
	FindMany(ctx context.Context, table string, q repository.FindQuery) ([]models.Record, error)
	Count(ctx context.Context, table string, where models.Where) (int64, error)
	UpdateMany(ctx context.Context, table string, where models.Where, data models.Record) (int64, error)
	Create(ctx context.Context, table string, data models.Record) (models.Record, error)
}

// Result is the tagged outcome of every gateway call. Policy rejections and
// backend failures share this shape.
type Result struct {
	Success       bool   `json:"success"`
	Data          any    `json:"data,omitempty"`
	Count         *int64 `json:"count,omitempty"`
	RowsAffected  *int64 `json:"rowsAffected,omitempty"`
	Error         string `json:"error,omitempty"`
	ExecutionTime int64  `json:"executionTimeMs"`
}

type Gateway struct {
	store   Store
	raw     RawStore
	timeout time.Duration
	log     *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Gateway)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithRawStore enables ExecuteRawQuery.
func WithRawStore(raw RawStore) Option {
	return func(g *Gateway) { g.raw = raw }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

func New(store Store, logger *slog.Logger, opts ...Option) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{store: store, timeout: DefaultTimeout, log: logger}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Validate runs the policy pipeline without touching the store.
func (g *Gateway) Validate(req models.MutationRequest) error {
	if _, ok := allowedOperations[req.Operation]; !ok {
		return fmt.Errorf("%w: %q (allowed: SELECT, UPDATE, INSERT, COUNT)", ErrOperationNotAllowed, req.Operation)
	}
	if IsBlocked(req.Table) {
		return fmt.Errorf("%w: %s", ErrTableBlocked, req.Table)
	}
	if !repository.ValidIdentifier(req.Table) || !g.store.HasModel(req.Table) {
		return fmt.Errorf("%w: %s", ErrUnknownTable, req.Table)
	}
	switch req.Operation {
	case models.OpUpdate:
		if len(req.Where) == 0 {
			return ErrUnscopedUpdate
		}
		if err := repository.CheckRestrictive(req.Where); err != nil {
			return fmt.Errorf("%w: %v", ErrUnscopedUpdate, err)
		}
		if len(req.Data) == 0 {
			return fmt.Errorf("%w: UPDATE", ErrEmptyData)
		}
	case models.OpInsert:
		if len(req.Data) == 0 {
			return fmt.Errorf("%w: INSERT", ErrEmptyData)
		}
	}
	for _, col := range req.Columns {
		if !repository.ValidIdentifier(col) {
			return fmt.Errorf("%w: %q", repository.ErrInvalidIdentifier, col)
		}
	}
	for col := range req.Data {
		if !repository.ValidIdentifier(col) {
			return fmt.Errorf("%w: %q", repository.ErrInvalidIdentifier, col)
		}
	}
	return nil
}

// ExecuteQuery validates req and, when it passes, runs it against the store
// bounded by the gateway timeout.
func (g *Gateway) ExecuteQuery(ctx context.Context, req models.MutationRequest) Result {
	start := time.Now()
	op := string(req.Operation)

	if err := g.Validate(req); err != nil {
		g.log.Warn("gateway request rejected", "operation", op, "table", req.Table, "error", err)
		g.metrics.GatewayOperation(op, false, time.Since(start))
		return Result{Error: err.Error(), ExecutionTime: time.Since(start).Milliseconds()}
	}

	res, err := g.run(ctx, req)
	elapsed := time.Since(start)
	res.ExecutionTime = elapsed.Milliseconds()
	switch {
	case errors.Is(err, ErrTimeout):
		g.log.Warn("gateway query timed out; the statement may still complete on the server",
			"operation", op, "table", req.Table, "timeout", g.timeout)
		g.metrics.GatewayTimeout()
		g.metrics.GatewayOperation(op, false, elapsed)
		return Result{Error: fmt.Sprintf("query timed out after %s", g.timeout), ExecutionTime: res.ExecutionTime}
	case err != nil:
		g.log.Error("gateway query failed", "operation", op, "table", req.Table, "error", err)
		g.metrics.GatewayOperation(op, false, elapsed)
		return Result{Error: "failed to execute query", ExecutionTime: res.ExecutionTime}
	}
	g.metrics.GatewayOperation(op, true, elapsed)
	res.Success = true
	return res
}

func (g *Gateway) run(ctx context.Context, req models.MutationRequest) (Result, error) {
	return withTimeout(ctx, g.timeout, func(ctx context.Context) (Result, error) {
		switch req.Operation {
		case models.OpSelect:
			rows, err := g.store.FindMany(ctx, req.Table, repository.FindQuery{
				Where:   req.Where,
				Select:  req.Columns,
				Take:    clampLimit(req.Limit),
				OrderBy: req.OrderBy,
			})
			if err != nil {
				return Result{}, err
			}
			if len(rows) > MaxRows {
				rows = rows[:MaxRows]
			}
			n := int64(len(rows))
			return Result{Data: rows, Count: &n}, nil
		case models.OpCount:
			n, err := g.store.Count(ctx, req.Table, req.Where)
			if err != nil {
				return Result{}, err
			}
			return Result{Count: &n}, nil
		case models.OpUpdate:
			n, err := g.store.UpdateMany(ctx, req.Table, req.Where, req.Data)
			if err != nil {
				return Result{}, err
			}
			return Result{RowsAffected: &n}, nil
		case models.OpInsert:
			row, err := g.store.Create(ctx, req.Table, req.Data)
			if err != nil {
				return Result{}, err
			}
			n := int64(1)
			return Result{Data: row, RowsAffected: &n}, nil
		}
		return Result{}, fmt.Errorf("%w: %q", ErrOperationNotAllowed, req.Operation)
	})
}

// clampLimit bounds a requested limit to MaxRows. A missing limit means MaxRows.
func clampLimit(limit int) int {
	if limit <= 0 || limit > MaxRows {
		return MaxRows
	}
	return limit
}

// withTimeout runs fn with a deadline and stops waiting when it passes. The
// context is cancelled too, so a store that honours it aborts the statement;
// one that does not may still finish the write after ErrTimeout is returned.
func withTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type outcome struct {
		val T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(ctx)
		done <- outcome{v, err}
	}()

	select {
	case o := <-done:
		if o.err != nil && errors.Is(o.err, context.DeadlineExceeded) {
			var zero T
			return zero, ErrTimeout
		}
		return o.val, o.err
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, ErrTimeout
		}
		return zero, ctx.Err()
	}
}
