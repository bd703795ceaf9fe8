package models

// Record is one row as returned by the record store: column name -> value.
type Record = map[string]any

// Where is a Prisma-style filter object. A plain value means equality, nil
// means IS NULL, and a nested object holds operators (equals, not, lt, lte,
// gt, gte, in, notIn, contains, startsWith). The "OR" key takes a list of
// filter objects.
type Where = map[string]any

// Operation is a structured mutation gateway operation.
type Operation string

const (
	OpSelect Operation = "SELECT"
	OpUpdate Operation = "UPDATE"
	OpInsert Operation = "INSERT"
	OpCount  Operation = "COUNT"
)

type SortField struct {
	Field     string `json:"field"`
	Direction string `json:"direction,omitempty"` // asc (default) | desc
}

// Desc reports whether the field sorts descending.
func (s SortField) Desc() bool {
	return s.Direction == "desc" || s.Direction == "DESC"
}

// MutationRequest is validated and discarded per call.
type MutationRequest struct {
	Operation Operation   `json:"operation"`
	Table     string      `json:"table"`
	Columns   []string    `json:"columns,omitempty"`
	Where     Where       `json:"where,omitempty"`
	Data      Record      `json:"data,omitempty"`
	Limit     int         `json:"limit,omitempty"`
	OrderBy   []SortField `json:"orderBy,omitempty"`
}
