package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/academyhub/backend/internal/models"
)

// MemoryStore is an in-process record store with the same filter semantics as
// RecordStore. It backs tests and the local dev profile.
type MemoryStore struct {
	mu      sync.Mutex
	tables  map[string][]models.Record
	calls   map[string]int
	latency time.Duration
}

func NewMemoryStore(modelNames ...string) *MemoryStore {
	if len(modelNames) == 0 {
		modelNames = AcademyModels
	}
	s := &MemoryStore{
		tables: make(map[string][]models.Record, len(modelNames)),
		calls:  make(map[string]int),
	}
	for _, name := range modelNames {
		s.tables[name] = nil
	}
	return s
}

// SetLatency makes every call sleep for d. The sleep ignores the context,
// like a backend that cannot be interrupted mid-statement.
func (s *MemoryStore) SetLatency(d time.Duration) {
	s.mu.Lock()
	s.latency = d
	s.mu.Unlock()
}

// Calls returns how many times method was invoked.
func (s *MemoryStore) Calls(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[method]
}

// Seed appends copies of rows to table.
func (s *MemoryStore) Seed(table string, rows ...models.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		s.tables[table] = append(s.tables[table], copyRecord(r))
	}
}

// Rows returns copies of every row in table.
func (s *MemoryStore) Rows(table string) []models.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Record, len(s.tables[table]))
	for i, r := range s.tables[table] {
		out[i] = copyRecord(r)
	}
	return out
}

func (s *MemoryStore) HasModel(table string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tables[table]
	return ok
}

func (s *MemoryStore) enter(method, table string) error {
	s.mu.Lock()
	s.calls[method]++
	d := s.latency
	s.mu.Unlock()
	if d > 0 {
		time.Sleep(d)
	}
	s.mu.Lock()
	_, ok := s.tables[table]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownModel, table)
	}
	return nil
}

func (s *MemoryStore) FindMany(ctx context.Context, table string, q FindQuery) ([]models.Record, error) {
	if err := s.enter("FindMany", table); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.Record
	for _, row := range s.tables[table] {
		ok, err := matchWhere(row, q.Where)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, row)
		}
	}
	if len(q.OrderBy) > 0 {
		sort.SliceStable(out, func(i, j int) bool {
			for _, f := range q.OrderBy {
				c := compareValues(out[i][f.Field], out[j][f.Field])
				if c == 0 {
					continue
				}
				if f.Desc() {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}

	result := make([]models.Record, 0, len(out))
	seen := make(map[string]struct{})
	for _, row := range out {
		projected := project(row, q.Select)
		if q.Distinct {
			key := fmt.Sprint(orderedValues(projected))
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}
		result = append(result, projected)
		if q.Take > 0 && len(result) == q.Take {
			break
		}
	}
	return result, nil
}

func (s *MemoryStore) Count(ctx context.Context, table string, where models.Where) (int64, error) {
	if err := s.enter("Count", table); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, row := range s.tables[table] {
		ok, err := matchWhere(row, where)
		if err != nil {
			return 0, err
		}
		if ok {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) UpdateMany(ctx context.Context, table string, where models.Where, data models.Record) (int64, error) {
	if err := s.enter("UpdateMany", table); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, row := range s.tables[table] {
		ok, err := matchWhere(row, where)
		if err != nil {
			return 0, err
		}
		if !ok {
			continue
		}
		for k, v := range data {
			row[k] = v
		}
		n++
	}
	return n, nil
}

func (s *MemoryStore) Create(ctx context.Context, table string, data models.Record) (models.Record, error) {
	if err := s.enter("Create", table); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	row := copyRecord(data)
	if _, ok := row["id"]; !ok {
		row["id"] = uuid.NewString()
	}
	s.tables[table] = append(s.tables[table], row)
	return copyRecord(row), nil
}

// QueryRaw only records the call; the memory store has no SQL engine.
func (s *MemoryStore) QueryRaw(ctx context.Context, sql string, args ...any) ([]models.Record, error) {
	s.mu.Lock()
	s.calls["QueryRaw"]++
	s.mu.Unlock()
	return []models.Record{}, nil
}

func copyRecord(r models.Record) models.Record {
	out := make(models.Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func project(row models.Record, cols []string) models.Record {
	if len(cols) == 0 {
		return copyRecord(row)
	}
	out := make(models.Record, len(cols))
	for _, c := range cols {
		out[c] = row[c]
	}
	return out
}

func orderedValues(r models.Record) []any {
	keys := sortedKeys(r)
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = r[k]
	}
	return out
}

func matchWhere(row models.Record, w models.Where) (bool, error) {
	for key, cond := range w {
		if key == "OR" {
			branches, err := filterList(cond)
			if err != nil {
				return false, err
			}
			matched := false
			for _, b := range branches {
				ok, err := matchWhere(row, b)
				if err != nil {
					return false, err
				}
				if ok {
					matched = true
					break
				}
			}
			if !matched {
				return false, nil
			}
			continue
		}
		if !ValidIdentifier(key) {
			return false, fmt.Errorf("%w: %q", ErrInvalidIdentifier, key)
		}
		ok, err := matchCondition(row[key], cond)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func matchCondition(val, cond any) (bool, error) {
	if cond == nil {
		return val == nil, nil
	}
	ops, isOps := cond.(map[string]any)
	if !isOps {
		return val != nil && compareValues(val, cond) == 0, nil
	}
	if len(ops) == 0 {
		return false, fmt.Errorf("%w: empty operator object", ErrInvalidFilter)
	}
	for op, arg := range ops {
		var ok bool
		switch op {
		case "equals":
			if arg == nil {
				ok = val == nil
			} else {
				ok = val != nil && compareValues(val, arg) == 0
			}
		case "not":
			if arg == nil {
				ok = val != nil
			} else {
				ok = val != nil && compareValues(val, arg) != 0
			}
		case "lt", "lte", "gt", "gte":
			if val == nil || arg == nil {
				ok = false
				break
			}
			c := compareValues(val, arg)
			switch op {
			case "lt":
				ok = c < 0
			case "lte":
				ok = c <= 0
			case "gt":
				ok = c > 0
			case "gte":
				ok = c >= 0
			}
		case "in", "notIn":
			list, err := valueList(arg)
			if err != nil {
				return false, fmt.Errorf("%w: %s: %v", ErrInvalidFilter, op, err)
			}
			found := false
			for _, item := range list {
				if val != nil && compareValues(val, item) == 0 {
					found = true
					break
				}
			}
			if op == "in" {
				ok = found
			} else {
				ok = val != nil && !found
			}
		case "contains", "startsWith":
			s, isStr := arg.(string)
			if !isStr {
				return false, fmt.Errorf("%w: %s expects a string", ErrInvalidFilter, op)
			}
			v, isStr := val.(string)
			if !isStr {
				ok = false
				break
			}
			if op == "contains" {
				ok = strings.Contains(v, s)
			} else {
				ok = strings.HasPrefix(v, s)
			}
		default:
			return false, fmt.Errorf("%w: unknown operator %q", ErrInvalidFilter, op)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// compareValues orders two column values. nil sorts first; times compare
// chronologically (RFC 3339 strings included); numbers numerically.
func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if ta, ok := asTime(a); ok {
		if tb, ok := asTime(b); ok {
			return ta.Compare(tb)
		}
	}
	if fa, ok := asFloat(a); ok {
		if fb, ok := asFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	if ba, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case ba == bb:
				return 0
			case !ba:
				return -1
			}
			return 1
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
