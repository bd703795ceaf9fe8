package repository

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/academyhub/backend/internal/models"
)

var (
	// ErrInvalidIdentifier is returned for table or column names that are not plain identifiers.
	ErrInvalidIdentifier = errors.New("invalid identifier")
	// ErrInvalidFilter is returned for malformed where objects.
	ErrInvalidFilter = errors.New("invalid filter")
	// ErrVacuousFilter is returned by CheckRestrictive for filters that can match every row.
	ErrVacuousFilter = errors.New("filter does not restrict rows")
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// ValidIdentifier reports whether name can be used as a table or column name.
func ValidIdentifier(name string) bool {
	return identPattern.MatchString(name)
}

func quoteIdent(name string) (string, error) {
	if !ValidIdentifier(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	return pgx.Identifier{name}.Sanitize(), nil
}

// sqlBuilder accumulates positional arguments while a statement is assembled.
type sqlBuilder struct {
	args []any
}

func (b *sqlBuilder) placeholder(v any) string {
	b.args = append(b.args, v)
	return "$" + strconv.Itoa(len(b.args))
}

// where renders a filter object as a SQL boolean expression without the
// WHERE keyword. An empty filter renders as "".
func (b *sqlBuilder) where(w models.Where) (string, error) {
	if len(w) == 0 {
		return "", nil
	}
	parts := make([]string, 0, len(w))
	for _, key := range sortedKeys(w) {
		if key == "OR" {
			clause, err := b.or(w[key])
			if err != nil {
				return "", err
			}
			parts = append(parts, clause)
			continue
		}
		col, err := quoteIdent(key)
		if err != nil {
			return "", err
		}
		clause, err := b.condition(col, w[key])
		if err != nil {
			return "", err
		}
		parts = append(parts, clause)
	}
	return strings.Join(parts, " AND "), nil
}

// CheckRestrictive rejects filters containing a clause that matches every row
// or no row by construction: an empty filter or OR branch, an empty in/notIn
// list, or an empty contains/startsWith pattern. Writes use it so a non-empty
// filter cannot still compile to a blanket statement.
func CheckRestrictive(w models.Where) error {
	if len(w) == 0 {
		return fmt.Errorf("%w: empty filter", ErrVacuousFilter)
	}
	for _, key := range sortedKeys(w) {
		v := w[key]
		if key == "OR" {
			branches, err := filterList(v)
			if err != nil {
				return err
			}
			for i, branch := range branches {
				if err := CheckRestrictive(branch); err != nil {
					return fmt.Errorf("OR branch %d: %w", i, err)
				}
			}
			continue
		}
		ops, ok := v.(map[string]any)
		if !ok {
			continue
		}
		if len(ops) == 0 {
			return fmt.Errorf("%w: empty operator object for %s", ErrInvalidFilter, key)
		}
		for _, op := range sortedKeys(ops) {
			switch op {
			case "in", "notIn":
				list, err := valueList(ops[op])
				if err != nil {
					return fmt.Errorf("%w: %s.%s: %v", ErrInvalidFilter, key, op, err)
				}
				if len(list) == 0 {
					return fmt.Errorf("%w: %s.%s is empty", ErrVacuousFilter, key, op)
				}
			case "contains", "startsWith":
				if s, ok := ops[op].(string); ok && s == "" {
					return fmt.Errorf("%w: %s.%s is empty", ErrVacuousFilter, key, op)
				}
			}
		}
	}
	return nil
}

func (b *sqlBuilder) or(v any) (string, error) {
	branches, err := filterList(v)
	if err != nil {
		return "", err
	}
	parts := make([]string, 0, len(branches))
	for _, branch := range branches {
		clause, err := b.where(branch)
		if err != nil {
			return "", err
		}
		if clause == "" {
			clause = "TRUE"
		}
		parts = append(parts, "("+clause+")")
	}
	return "(" + strings.Join(parts, " OR ") + ")", nil
}

func (b *sqlBuilder) condition(col string, v any) (string, error) {
	if v == nil {
		return col + " IS NULL", nil
	}
	ops, ok := v.(map[string]any)
	if !ok {
		return col + " = " + b.placeholder(v), nil
	}
	if len(ops) == 0 {
		return "", fmt.Errorf("%w: empty operator object for %s", ErrInvalidFilter, col)
	}
	parts := make([]string, 0, len(ops))
	for _, op := range sortedKeys(ops) {
		val := ops[op]
		var clause string
		switch op {
		case "equals":
			if val == nil {
				clause = col + " IS NULL"
			} else {
				clause = col + " = " + b.placeholder(val)
			}
		case "not":
			if val == nil {
				clause = col + " IS NOT NULL"
			} else {
				clause = col + " <> " + b.placeholder(val)
			}
		case "lt":
			clause = col + " < " + b.placeholder(val)
		case "lte":
			clause = col + " <= " + b.placeholder(val)
		case "gt":
			clause = col + " > " + b.placeholder(val)
		case "gte":
			clause = col + " >= " + b.placeholder(val)
		case "in", "notIn":
			list, err := valueList(val)
			if err != nil {
				return "", fmt.Errorf("%w: %s.%s: %v", ErrInvalidFilter, col, op, err)
			}
			clause = b.inList(col, list, op == "notIn")
		case "contains", "startsWith":
			s, ok := val.(string)
			if !ok {
				return "", fmt.Errorf("%w: %s.%s expects a string", ErrInvalidFilter, col, op)
			}
			pattern := escapeLike(s) + "%"
			if op == "contains" {
				pattern = "%" + pattern
			}
			clause = col + " LIKE " + b.placeholder(pattern)
		default:
			return "", fmt.Errorf("%w: unknown operator %q", ErrInvalidFilter, op)
		}
		parts = append(parts, clause)
	}
	return strings.Join(parts, " AND "), nil
}

func (b *sqlBuilder) inList(col string, list []any, negate bool) string {
	if len(list) == 0 {
		if negate {
			return "TRUE"
		}
		return "FALSE"
	}
	ph := make([]string, len(list))
	for i, item := range list {
		ph[i] = b.placeholder(item)
	}
	kw := " IN ("
	if negate {
		kw = " NOT IN ("
	}
	return col + kw + strings.Join(ph, ", ") + ")"
}

func (b *sqlBuilder) orderBy(fields []models.SortField) (string, error) {
	if len(fields) == 0 {
		return "", nil
	}
	parts := make([]string, len(fields))
	for i, f := range fields {
		col, err := quoteIdent(f.Field)
		if err != nil {
			return "", err
		}
		dir := "ASC"
		if f.Desc() {
			dir = "DESC"
		}
		parts[i] = col + " " + dir
	}
	return " ORDER BY " + strings.Join(parts, ", "), nil
}

func columnList(cols []string) (string, error) {
	if len(cols) == 0 {
		return "*", nil
	}
	quoted := make([]string, len(cols))
	for i, c := range cols {
		q, err := quoteIdent(c)
		if err != nil {
			return "", err
		}
		quoted[i] = q
	}
	return strings.Join(quoted, ", "), nil
}

func filterList(v any) ([]models.Where, error) {
	switch t := v.(type) {
	case []models.Where:
		if len(t) == 0 {
			return nil, fmt.Errorf("%w: OR needs at least one branch", ErrInvalidFilter)
		}
		return t, nil
	case []any:
		if len(t) == 0 {
			return nil, fmt.Errorf("%w: OR needs at least one branch", ErrInvalidFilter)
		}
		out := make([]models.Where, len(t))
		for i, item := range t {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: OR branch %d is not an object", ErrInvalidFilter, i)
			}
			out[i] = m
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: OR expects a list of objects", ErrInvalidFilter)
}

func valueList(v any) ([]any, error) {
	switch t := v.(type) {
	case []any:
		return t, nil
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, nil
	case []int:
		out := make([]any, len(t))
		for i, n := range t {
			out[i] = n
		}
		return out, nil
	}
	return nil, errors.New("expected a list")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
