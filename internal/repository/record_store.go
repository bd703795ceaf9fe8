package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/academyhub/backend/internal/models"
)

// ErrUnknownModel is returned when a table is not one of the store's models.
var ErrUnknownModel = errors.New("unknown model")

// AcademyModels are the tables of the academy schema.
var AcademyModels = []string{
	"Organization", "User", "Account", "Session", "VerificationToken", "ApiKey",
	"Student", "Instructor", "Course", "Turma", "Enrollment", "Attendance",
	"Plan", "Subscription", "Payment", "Invoice", "Lead", "LandingPage",
	"AgentTask", "AgentPermission", "AgentExecutionLog",
}

// FindQuery is the projection/filter/sort/limit of a FindMany call.
type FindQuery struct {
	Where    models.Where
	Select   []string
	Take     int
	OrderBy  []models.SortField
	Distinct bool
}

// RecordStore is a model-agnostic Postgres store: every call names its table.
type RecordStore struct {
	pool   *pgxpool.Pool
	models map[string]struct{}
}

func NewRecordStore(pool *pgxpool.Pool, modelNames ...string) *RecordStore {
	if len(modelNames) == 0 {
		modelNames = AcademyModels
	}
	m := make(map[string]struct{}, len(modelNames))
	for _, name := range modelNames {
		m[name] = struct{}{}
	}
	return &RecordStore{pool: pool, models: m}
}

func (s *RecordStore) HasModel(table string) bool {
	_, ok := s.models[table]
	return ok
}

func (s *RecordStore) table(name string) (string, error) {
	if !s.HasModel(name) {
		return "", fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}
	return quoteIdent(name)
}

func (s *RecordStore) FindMany(ctx context.Context, table string, q FindQuery) ([]models.Record, error) {
	sql, args, err := buildSelect(table, q, s.table)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToMap)
}

func (s *RecordStore) Count(ctx context.Context, table string, where models.Where) (int64, error) {
	tbl, err := s.table(table)
	if err != nil {
		return 0, err
	}
	b := &sqlBuilder{}
	cond, err := b.where(where)
	if err != nil {
		return 0, err
	}
	sql := "SELECT COUNT(*) FROM " + tbl
	if cond != "" {
		sql += " WHERE " + cond
	}
	var n int64
	err = s.pool.QueryRow(ctx, sql, b.args...).Scan(&n)
	return n, err
}

// UpdateMany applies data to every row matching where. It does not refuse an
// empty filter; callers own that policy.
func (s *RecordStore) UpdateMany(ctx context.Context, table string, where models.Where, data models.Record) (int64, error) {
	sql, args, err := buildUpdate(table, where, data, s.table)
	if err != nil {
		return 0, err
	}
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *RecordStore) Create(ctx context.Context, table string, data models.Record) (models.Record, error) {
	sql, args, err := buildInsert(table, data, s.table)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectOneRow(rows, pgx.RowToMap)
}

// QueryRaw runs caller-supplied SQL. Only the mutation gateway's raw path uses it.
func (s *RecordStore) QueryRaw(ctx context.Context, sql string, args ...any) ([]models.Record, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToMap)
}

type tableResolver func(string) (string, error)

func buildSelect(table string, q FindQuery, resolve tableResolver) (string, []any, error) {
	tbl, err := resolve(table)
	if err != nil {
		return "", nil, err
	}
	cols, err := columnList(q.Select)
	if err != nil {
		return "", nil, err
	}
	b := &sqlBuilder{}
	var sb strings.Builder
	sb.WriteString("SELECT ")
	if q.Distinct {
		sb.WriteString("DISTINCT ")
	}
	sb.WriteString(cols + " FROM " + tbl)
	cond, err := b.where(q.Where)
	if err != nil {
		return "", nil, err
	}
	if cond != "" {
		sb.WriteString(" WHERE " + cond)
	}
	order, err := b.orderBy(q.OrderBy)
	if err != nil {
		return "", nil, err
	}
	sb.WriteString(order)
	if q.Take > 0 {
		sb.WriteString(" LIMIT " + b.placeholder(q.Take))
	}
	return sb.String(), b.args, nil
}

func buildUpdate(table string, where models.Where, data models.Record, resolve tableResolver) (string, []any, error) {
	tbl, err := resolve(table)
	if err != nil {
		return "", nil, err
	}
	if len(data) == 0 {
		return "", nil, fmt.Errorf("%w: no columns to update", ErrInvalidFilter)
	}
	b := &sqlBuilder{}
	sets := make([]string, 0, len(data))
	for _, k := range sortedKeys(data) {
		col, err := quoteIdent(k)
		if err != nil {
			return "", nil, err
		}
		sets = append(sets, col+" = "+b.placeholder(data[k]))
	}
	sql := "UPDATE " + tbl + " SET " + strings.Join(sets, ", ")
	cond, err := b.where(where)
	if err != nil {
		return "", nil, err
	}
	if cond != "" {
		sql += " WHERE " + cond
	}
	return sql, b.args, nil
}

func buildInsert(table string, data models.Record, resolve tableResolver) (string, []any, error) {
	tbl, err := resolve(table)
	if err != nil {
		return "", nil, err
	}
	if len(data) == 0 {
		return "", nil, fmt.Errorf("%w: no columns to insert", ErrInvalidFilter)
	}
	b := &sqlBuilder{}
	cols := make([]string, 0, len(data))
	vals := make([]string, 0, len(data))
	for _, k := range sortedKeys(data) {
		col, err := quoteIdent(k)
		if err != nil {
			return "", nil, err
		}
		cols = append(cols, col)
		vals = append(vals, b.placeholder(data[k]))
	}
	sql := "INSERT INTO " + tbl + " (" + strings.Join(cols, ", ") + ") VALUES (" + strings.Join(vals, ", ") + ") RETURNING *"
	return sql, b.args, nil
}
