// Package catalog is the closed set of named, read-only, tenant-scoped
// queries an agent may run. Agents pick a query by name; they never send SQL.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/academyhub/backend/internal/metrics"
	"github.com/academyhub/backend/internal/models"
	"github.com/academyhub/backend/internal/repository"
)

// resultCap bounds every list a catalog query returns.
const resultCap = 100

// scanCap bounds internal reads that feed an aggregate instead of the result.
const scanCap = 10000

// tenantColumn is the column every academy table is scoped by.
const tenantColumn = "organizationId"

// Reader is the read half of the record store.
type Reader interface {
	FindMany(ctx context.Context, table string, q repository.FindQuery) ([]models.Record, error)
	Count(ctx context.Context, table string, where models.Where) (int64, error)
}

// Tenant is the only database handle a query function receives. Every read
// through it is filtered by the tenant's organization.
type Tenant struct {
	orgID string
	db    Reader
	now   time.Time
}

func (t Tenant) OrganizationID() string { return t.orgID }

// Now is the instant the query started; relative windows are computed from it.
func (t Tenant) Now() time.Time { return t.now }

func (t Tenant) FindMany(ctx context.Context, table string, q repository.FindQuery) ([]models.Record, error) {
	q.Where = t.scope(q.Where)
	return t.db.FindMany(ctx, table, q)
}

func (t Tenant) Count(ctx context.Context, table string, where models.Where) (int64, error) {
	return t.db.Count(ctx, table, t.scope(where))
}

func (t Tenant) scope(w models.Where) models.Where {
	scoped := make(models.Where, len(w)+1)
	for k, v := range w {
		scoped[k] = v
	}
	scoped[tenantColumn] = t.orgID
	return scoped
}

// Params are the optional, query-specific arguments.
type Params map[string]any

// Int returns params[key] as an int, or def when absent or not numeric.
func (p Params) Int(key string, def int) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// QueryFunc runs one catalog query for one tenant.
type QueryFunc func(ctx context.Context, t Tenant, p Params) (any, error)

type Descriptor struct {
	Name        string
	Description string
	run         QueryFunc
}

// QueryInfo is the discovery view of a Descriptor.
type QueryInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Result is the tagged outcome of ExecuteQuery.
type Result struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

type Catalog struct {
	db      Reader
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	queries map[string]Descriptor
}

func New(db Reader, logger *slog.Logger, m *metrics.Metrics) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Catalog{db: db, log: logger, metrics: m, now: time.Now}
	c.queries = make(map[string]Descriptor, len(builtinQueries))
	for _, d := range builtinQueries {
		c.queries[d.Name] = d
	}
	return c
}

// ExecuteQuery runs the named query for orgID. It never returns an error;
// failures come back as Result.Error.
func (c *Catalog) ExecuteQuery(ctx context.Context, name, orgID string, params Params) Result {
	d, ok := c.queries[name]
	if !ok {
		c.metrics.CatalogQuery("unknown", false)
		return Result{Error: fmt.Sprintf("query %q not found; available queries: %s", name, strings.Join(c.names(), ", "))}
	}
	if strings.TrimSpace(orgID) == "" {
		c.metrics.CatalogQuery(name, false)
		return Result{Error: "organizationId is required"}
	}
	if params == nil {
		params = Params{}
	}
	data, err := d.run(ctx, Tenant{orgID: orgID, db: c.db, now: c.now()}, params)
	if err != nil {
		c.log.Error("catalog query failed", "query", name, "organization_id", orgID, "error", err)
		c.metrics.CatalogQuery(name, false)
		return Result{Error: "failed to execute query"}
	}
	c.metrics.CatalogQuery(name, true)
	return Result{Success: true, Data: data}
}

// ListAvailableQueries returns every query sorted by name.
func (c *Catalog) ListAvailableQueries() []QueryInfo {
	out := make([]QueryInfo, 0, len(c.queries))
	for _, name := range c.names() {
		out = append(out, QueryInfo{Name: name, Description: c.queries[name].Description})
	}
	return out
}

// Has reports whether name is a catalog query.
func (c *Catalog) Has(name string) bool {
	_, ok := c.queries[name]
	return ok
}

func (c *Catalog) names() []string {
	names := make([]string, 0, len(c.queries))
	for n := range c.queries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
