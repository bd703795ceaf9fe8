// Package reports renders catalog query results as JSON, CSV or HTML
// snapshots for human review. Reports read data only through the query
// catalog, so they inherit its tenant scoping and row caps.
package reports

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/academyhub/backend/internal/catalog"
	"github.com/academyhub/backend/internal/metrics"
	"github.com/academyhub/backend/internal/models"
)

type Format string

const (
	FormatJSON Format = "JSON"
	FormatCSV  Format = "CSV"
	FormatPDF  Format = "PDF"
)

// ParseFormat is case-insensitive; empty means JSON.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToUpper(strings.TrimSpace(s))) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	case FormatPDF:
		return FormatPDF, nil
	}
	return "", fmt.Errorf("unsupported format %q (use JSON, CSV or PDF)", s)
}

func (f Format) extension() (string, string) {
	switch f {
	case FormatCSV:
		return "csv", "text/csv; charset=utf-8"
	case FormatPDF:
		return "html", "text/html; charset=utf-8"
	}
	return "json", "application/json"
}

// ReportType maps a report name to the catalog query that feeds it.
type ReportType struct {
	Name        string `json:"name"`
	Title       string `json:"title"`
	Description string `json:"description"`
	DataSource  string `json:"dataSource"`
}

var reportTypes = map[string]ReportType{
	"overdue_payments":   {"overdue_payments", "Overdue payments", "Payments past their due date with student contact data", "overdue_payments"},
	"inactive_students":  {"inactive_students", "Inactive students", "Active students without recent check-ins", "inactive_students"},
	"attendance_summary": {"attendance_summary", "Attendance summary", "Attendance totals and rate for the period", "attendance_rate"},
	"popular_plans":      {"popular_plans", "Popular plans", "Plans ranked by active subscriptions", "popular_plans"},
	"unconverted_leads":  {"unconverted_leads", "Unconverted leads", "Open leads that have not converted", "unconverted_leads"},
	"new_students":       {"new_students", "New students", "Students registered in the period", "new_students"},
}

// QueryRunner is the query catalog as seen by the compiler.
type QueryRunner interface {
	ExecuteQuery(ctx context.Context, name, orgID string, params catalog.Params) catalog.Result
}

// Archive stores a copy of each generated report.
type Archive interface {
	Put(ctx context.Context, key string, content []byte, contentType string) error
}

type GenerateParams struct {
	OrganizationID string         `json:"organizationId"`
	AgentID        string         `json:"agentId"`
	ReportType     string         `json:"reportType"`
	Format         Format         `json:"format"`
	Params         catalog.Params `json:"params,omitempty"`
}

type Report struct {
	ReportType  string    `json:"reportType"`
	Format      Format    `json:"format"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	GeneratedAt time.Time `json:"generatedAt"`
	Content     string    `json:"content"`
	ArchiveKey  string    `json:"archiveKey,omitempty"`
}

type Result struct {
	Success bool    `json:"success"`
	Data    *Report `json:"data,omitempty"`
	Error   string  `json:"error,omitempty"`
}

type Compiler struct {
	queries QueryRunner
	archive Archive
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

type Option func(*Compiler)

// WithArchive stores every report in a. Archive failures are logged and do
// not fail the report.
func WithArchive(a Archive) Option {
	return func(c *Compiler) { c.archive = a }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Compiler) { c.metrics = m }
}

func NewCompiler(queries QueryRunner, logger *slog.Logger, opts ...Option) *Compiler {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Compiler{queries: queries, log: logger, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListReportTypes returns the report table sorted by name.
func (c *Compiler) ListReportTypes() []ReportType {
	out := make([]ReportType, 0, len(reportTypes))
	for _, rt := range reportTypes {
		out = append(out, rt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (c *Compiler) Generate(ctx context.Context, p GenerateParams) Result {
	rt, ok := reportTypes[p.ReportType]
	if !ok {
		names := make([]string, 0, len(reportTypes))
		for n := range reportTypes {
			names = append(names, n)
		}
		sort.Strings(names)
		return Result{Error: fmt.Sprintf("report type %q not found; available types: %s", p.ReportType, strings.Join(names, ", "))}
	}
	format, err := ParseFormat(string(p.Format))
	if err != nil {
		return Result{Error: err.Error()}
	}

	qr := c.queries.ExecuteQuery(ctx, rt.DataSource, p.OrganizationID, p.Params)
	if !qr.Success {
		return Result{Error: qr.Error}
	}

	at := c.now().UTC()
	rows := asRows(qr.Data)
	var content string
	switch format {
	case FormatCSV:
		content, err = renderCSV(rows)
	case FormatPDF:
		content, err = renderHTML(rt, at, rows)
	default:
		content, err = renderJSON(rt, p.OrganizationID, at, qr.Data, rows)
	}
	if err != nil {
		c.log.Error("render report", "report_type", rt.Name, "format", format, "error", err)
		return Result{Error: "failed to generate report"}
	}

	report := &Report{
		ReportType:  rt.Name,
		Format:      format,
		Name:        rt.Title,
		Description: rt.Description,
		GeneratedAt: at,
		Content:     content,
	}
	if c.archive != nil {
		ext, contentType := format.extension()
		key := fmt.Sprintf("reports/%s/%s/%s.%s", p.OrganizationID, rt.Name, at.Format("20060102T150405Z"), ext)
		if err := c.archive.Put(ctx, key, []byte(content), contentType); err != nil {
			c.log.Warn("archive report", "key", key, "error", err)
		} else {
			report.ArchiveKey = key
		}
	}

	c.metrics.ReportGenerated(rt.Name, string(format))
	c.log.Info("report generated", "report_type", rt.Name, "format", format,
		"organization_id", p.OrganizationID, "agent_id", p.AgentID, "records", len(rows))
	return Result{Success: true, Data: report}
}

// asRows turns catalog data into table rows. A single object is one row.
func asRows(data any) []map[string]any {
	switch d := data.(type) {
	case []models.Record:
		return d
	case map[string]any:
		return []map[string]any{d}
	case []any:
		rows := make([]map[string]any, 0, len(d))
		for _, item := range d {
			if m, ok := item.(map[string]any); ok {
				rows = append(rows, m)
			}
		}
		return rows
	}
	return nil
}
