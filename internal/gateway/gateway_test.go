package gateway

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/academyhub/backend/internal/models"
	"github.com/academyhub/backend/internal/repository"
)

func studentStore(n int) *repository.MemoryStore {
	s := repository.NewMemoryStore()
	for i := 0; i < n; i++ {
		s.Seed("Student", models.Record{"id": fmt.Sprintf("s%d", i), "organizationId": "o1", "isActive": true})
	}
	return s
}

func TestExecuteQuery_UpdateWithoutWhereNeverReachesStore(t *testing.T) {
	for _, where := range []models.Where{nil, {}} {
		store := studentStore(3)
		g := New(store, nil)

		res := g.ExecuteQuery(context.Background(), models.MutationRequest{
			Operation: models.OpUpdate,
			Table:     "Student",
			Where:     where,
			Data:      models.Record{"isActive": false},
		})

		assert.False(t, res.Success)
		assert.Regexp(t, "WHERE", res.Error)
		assert.Zero(t, store.Calls("UpdateMany"))
		assert.Zero(t, store.Calls("FindMany"))
	}
}

func TestExecuteQuery_UpdateWithVacuousWhereNeverReachesStore(t *testing.T) {
	wheres := []models.Where{
		{"OR": []any{map[string]any{}}},
		{"id": map[string]any{"notIn": []any{}}},
		{"organizationId": "o1", "name": map[string]any{"startsWith": ""}},
	}
	for _, where := range wheres {
		store := studentStore(3)
		g := New(store, nil)

		res := g.ExecuteQuery(context.Background(), models.MutationRequest{
			Operation: models.OpUpdate,
			Table:     "Student",
			Where:     where,
			Data:      models.Record{"isActive": false},
		})

		assert.False(t, res.Success, "%v", where)
		assert.Regexp(t, "WHERE", res.Error)
		assert.Zero(t, store.Calls("UpdateMany"))
		rows := store.Rows("Student")
		for _, r := range rows {
			assert.Equal(t, true, r["isActive"])
		}
	}
}

func TestExecuteQuery_BlockedTablesRejectEveryOperation(t *testing.T) {
	store := repository.NewMemoryStore()
	g := New(store, nil)
	tables := []string{"Session", "Account", "VerificationToken", "ApiKey", "api_keys", "User", "users",
		"AgentTask", "agent_tasks", "AgentPermission", "AgentExecutionLog"}
	ops := []models.Operation{models.OpSelect, models.OpCount, models.OpUpdate, models.OpInsert}

	for _, table := range tables {
		for _, op := range ops {
			t.Run(table+"/"+string(op), func(t *testing.T) {
				res := g.ExecuteQuery(context.Background(), models.MutationRequest{
					Operation: op,
					Table:     table,
					Where:     models.Where{"id": "x"},
					Data:      models.Record{"status": "APPROVED"},
				})
				assert.False(t, res.Success)
				assert.Contains(t, res.Error, "blocked")
			})
		}
	}
	assert.Zero(t, store.Calls("FindMany")+store.Calls("Count")+store.Calls("UpdateMany")+store.Calls("Create"))
}

func TestExecuteQuery_OperationWhitelist(t *testing.T) {
	store := studentStore(1)
	g := New(store, nil)
	for _, op := range []models.Operation{"DELETE", "DROP", "select", ""} {
		res := g.ExecuteQuery(context.Background(), models.MutationRequest{Operation: op, Table: "Session"})
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "operation not allowed", "op %q must fail before the table check", op)
	}
}

func TestExecuteQuery_UnknownTable(t *testing.T) {
	g := New(repository.NewMemoryStore(), nil)
	for _, table := range []string{"Nope", `Student"; DROP TABLE x; --`} {
		res := g.ExecuteQuery(context.Background(), models.MutationRequest{Operation: models.OpSelect, Table: table})
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "unknown table")
	}
}

func TestExecuteQuery_RowCap(t *testing.T) {
	store := studentStore(MaxRows + 500)
	g := New(store, nil)

	res := g.ExecuteQuery(context.Background(), models.MutationRequest{
		Operation: models.OpSelect,
		Table:     "Student",
		Limit:     5000,
	})
	require.True(t, res.Success, res.Error)
	assert.Len(t, res.Data, MaxRows)
	assert.Equal(t, int64(MaxRows), *res.Count)
}

// greedyStore ignores Take, like a backend that over-returns.
type greedyStore struct {
	*repository.MemoryStore
}

func (s greedyStore) FindMany(ctx context.Context, table string, q repository.FindQuery) ([]models.Record, error) {
	q.Take = 0
	return s.MemoryStore.FindMany(ctx, table, q)
}

func TestExecuteQuery_RowCapTruncatesOverReturningStore(t *testing.T) {
	g := New(greedyStore{studentStore(MaxRows + 10)}, nil)
	res := g.ExecuteQuery(context.Background(), models.MutationRequest{Operation: models.OpSelect, Table: "Student", Limit: 10})
	require.True(t, res.Success)
	assert.Len(t, res.Data, MaxRows)
}

func TestExecuteQuery_LimitIsNeverRaised(t *testing.T) {
	g := New(studentStore(50), nil)
	res := g.ExecuteQuery(context.Background(), models.MutationRequest{Operation: models.OpSelect, Table: "Student", Limit: 5})
	require.True(t, res.Success)
	assert.Len(t, res.Data, 5)
}

func TestExecuteQuery_StructuralChecks(t *testing.T) {
	g := New(studentStore(1), nil)
	tests := []struct {
		name string
		req  models.MutationRequest
		want string
	}{
		{"update without data", models.MutationRequest{Operation: models.OpUpdate, Table: "Student", Where: models.Where{"id": "s0"}}, "non-empty data"},
		{"insert without data", models.MutationRequest{Operation: models.OpInsert, Table: "Student"}, "non-empty data"},
		{"bad column", models.MutationRequest{Operation: models.OpSelect, Table: "Student", Columns: []string{"id, password"}}, "invalid identifier"},
		{"bad data key", models.MutationRequest{Operation: models.OpInsert, Table: "Student", Data: models.Record{"a=1": 1}}, "invalid identifier"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := g.ExecuteQuery(context.Background(), tt.req)
			assert.False(t, res.Success)
			assert.Contains(t, res.Error, tt.want)
		})
	}
}

func TestExecuteQuery_UpdateCountInsert(t *testing.T) {
	store := studentStore(3)
	g := New(store, nil)
	ctx := context.Background()

	upd := g.ExecuteQuery(ctx, models.MutationRequest{
		Operation: models.OpUpdate, Table: "Student",
		Where: models.Where{"id": "s1"}, Data: models.Record{"isActive": false},
	})
	require.True(t, upd.Success, upd.Error)
	assert.Equal(t, int64(1), *upd.RowsAffected)

	cnt := g.ExecuteQuery(ctx, models.MutationRequest{Operation: models.OpCount, Table: "Student", Where: models.Where{"isActive": true}})
	require.True(t, cnt.Success)
	assert.Equal(t, int64(2), *cnt.Count)

	ins := g.ExecuteQuery(ctx, models.MutationRequest{Operation: models.OpInsert, Table: "Lead", Data: models.Record{"name": "Eva"}})
	require.True(t, ins.Success)
	assert.Len(t, store.Rows("Lead"), 1)
}

func TestExecuteQuery_TimeoutStopsWaiting(t *testing.T) {
	store := studentStore(1)
	store.SetLatency(150 * time.Millisecond)
	g := New(store, nil, WithTimeout(20*time.Millisecond))

	start := time.Now()
	res := g.ExecuteQuery(context.Background(), models.MutationRequest{
		Operation: models.OpUpdate, Table: "Student",
		Where: models.Where{"id": "s0"}, Data: models.Record{"isActive": false},
	})
	assert.Less(t, time.Since(start), 140*time.Millisecond)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "timed out")

	// The store ignores cancellation, so the write lands after the caller gave up.
	require.Eventually(t, func() bool {
		return store.Rows("Student")[0]["isActive"] == false
	}, time.Second, 10*time.Millisecond)
}

type brokenStore struct{ *repository.MemoryStore }

func (brokenStore) Count(context.Context, string, models.Where) (int64, error) {
	return 0, errors.New("pq: relation does not exist")
}

func TestExecuteQuery_BackendErrorIsGeneric(t *testing.T) {
	g := New(brokenStore{repository.NewMemoryStore()}, nil)
	res := g.ExecuteQuery(context.Background(), models.MutationRequest{Operation: models.OpCount, Table: "Student"})
	assert.False(t, res.Success)
	assert.Equal(t, "failed to execute query", res.Error)
}

// Scenario: blanket deactivation of every student.
func TestExecuteQuery_BlanketStudentUpdate(t *testing.T) {
	g := New(studentStore(2), nil)
	res := g.ExecuteQuery(context.Background(), models.MutationRequest{
		Operation: models.OpUpdate,
		Table:     "Student",
		Where:     models.Where{},
		Data:      models.Record{"isActive": false},
	})
	assert.False(t, res.Success)
	assert.Regexp(t, `WHERE`, res.Error)
}

func TestIsBlocked(t *testing.T) {
	assert.True(t, IsBlocked("sessions"))
	assert.True(t, IsBlocked(" Agent_Permissions "))
	assert.False(t, IsBlocked("Student"))
	assert.False(t, IsBlocked("Payment"))
}
