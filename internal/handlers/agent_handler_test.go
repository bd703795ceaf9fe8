package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/academyhub/backend/internal/catalog"
	"github.com/academyhub/backend/internal/middleware"
	"github.com/academyhub/backend/internal/models"
	"github.com/academyhub/backend/internal/notification"
	"github.com/academyhub/backend/internal/reports"
	"github.com/academyhub/backend/internal/repository"
	"github.com/academyhub/backend/internal/services"
	"github.com/academyhub/backend/internal/tasks"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type memTasks struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*models.AgentTask
}

func newMemTasks() *memTasks { return &memTasks{tasks: map[uuid.UUID]*models.AgentTask{}} }

func (m *memTasks) Create(_ context.Context, t *models.AgentTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.tasks[t.ID] = &cp
	return nil
}

func (m *memTasks) GetByID(_ context.Context, id uuid.UUID) (*models.AgentTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, repository.ErrTaskNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memTasks) only(t *testing.T) *models.AgentTask {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.Len(t, m.tasks, 1)
	for _, task := range m.tasks {
		return task
	}
	return nil
}

type countingProvider struct {
	mu   sync.Mutex
	sent int
}

func (p *countingProvider) Send(_ context.Context, msg notification.Message) (notification.Receipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent++
	return notification.Receipt{Channel: msg.Channel, MessageID: "m-1"}, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type agentFixture struct {
	mux      http.Handler
	store    *repository.MemoryStore
	tasks    *memTasks
	provider *countingProvider
}

func newAgentFixture(t *testing.T) *agentFixture {
	t.Helper()
	store := repository.NewMemoryStore()
	store.Seed("Student",
		models.Record{"id": "s1", "organizationId": "org-a", "name": "Ana", "isActive": true, "lastCheckInAt": nil},
		models.Record{"id": "s2", "organizationId": "org-b", "name": "Bia", "isActive": true, "lastCheckInAt": nil},
	)
	v, err := services.NewValidator()
	require.NoError(t, err)

	cat := catalog.New(store, nil, nil)
	taskStore := newMemTasks()
	proposer := tasks.NewService(taskStore, nil, nil)
	provider := &countingProvider{}
	h := &AgentHandler{
		Catalog:   cat,
		Tasks:     proposer,
		Notifier:  notification.NewGateway(proposer, taskStore, provider, nil, nil),
		Reports:   reports.NewCompiler(cat, nil),
		Validator: v,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/queries", h.ListQueries)
	mux.HandleFunc("POST /v1/queries/{name}", h.ExecuteQuery)
	mux.HandleFunc("POST /v1/tasks", h.CreateTask)
	mux.HandleFunc("POST /v1/tasks/whatsapp", h.CreateWhatsAppTask)
	mux.HandleFunc("POST /v1/tasks/database-update", h.CreateDatabaseUpdateTask)
	mux.HandleFunc("POST /v1/notifications/{channel}", h.SendNotification)
	mux.HandleFunc("GET /v1/reports", h.ListReportTypes)
	mux.HandleFunc("POST /v1/reports", h.GenerateReport)

	return &agentFixture{mux: mux, store: store, tasks: taskStore, provider: provider}
}

func (f *agentFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req = req.WithContext(middleware.WithPrincipal(req.Context(), middleware.AgentPrincipal{
		AgentID: "retention-bot", OrganizationID: "org-a",
	}))
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestListQueries(t *testing.T) {
	f := newAgentFixture(t)
	rec := f.do(t, http.MethodGet, "/v1/queries", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "inactive_students")
}

func TestExecuteQuery_ScopedToAgentOrganization(t *testing.T) {
	f := newAgentFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/queries/inactive_students", `{"params":{"days":30}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	out := decode(t, rec)
	rows, ok := out["data"].([]any)
	require.True(t, ok)
	require.Len(t, rows, 1)
	assert.Equal(t, "Ana", rows[0].(map[string]any)["name"])
}

func TestExecuteQuery_Unknown(t *testing.T) {
	f := newAgentFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/queries/drop_everything", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "available queries")
}

func TestCreateTask_IdentityFromKey(t *testing.T) {
	f := newAgentFixture(t)
	body := `{"agentId":"someone-else","organizationId":"org-b","title":"Reactivate Ana",
		"description":"Ana has been inactive for 45 days","category":"DATABASE_CHANGE",
		"actionType":"UPDATE_RECORD","targetEntity":"Student","actionPayload":{"records":[]}}`
	rec := f.do(t, http.MethodPost, "/v1/tasks", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	task := f.tasks.only(t)
	assert.Equal(t, "retention-bot", task.AgentID)
	assert.Equal(t, "org-a", task.OrganizationID)
	assert.Equal(t, models.ApprovalPending, task.ApprovalStatus)
}

func TestCreateTask_SchemaViolation(t *testing.T) {
	f := newAgentFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/tasks", `{"title":"x"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Empty(t, f.tasks.tasks)
}

func TestCreateWhatsAppTask(t *testing.T) {
	f := newAgentFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/tasks/whatsapp",
		`{"title":"Payment reminder","description":"Remind overdue students","recipients":["11999990000"],"message":"Olá!"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, models.CategoryWhatsAppMessage, f.tasks.only(t).Category)
}

func TestCreateDatabaseUpdateTask(t *testing.T) {
	f := newAgentFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/tasks/database-update",
		`{"title":"Deactivate","description":"Deactivate churned students","targetEntity":"Student","operation":"update",
		  "records":[{"where":{"id":"s1"},"data":{"isActive":false}}]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, models.ActionUpdateRecord, f.tasks.only(t).ActionType)
	assert.Equal(t, 0, f.store.Calls("UpdateMany"))
}

func TestSendNotification_AlwaysGated(t *testing.T) {
	for _, tc := range []struct{ channel, body string }{
		{"sms", `{"recipients":["11999990000"],"message":"Oi","requirePermission":false}`},
		{"email", `{"recipients":["ana@gym.com"],"subject":"Oi","body":"Volte!","requirePermission":false}`},
		{"push", `{"recipients":["device-1"],"title":"Oi","message":"Volte!","requirePermission":false}`},
	} {
		t.Run(tc.channel, func(t *testing.T) {
			f := newAgentFixture(t)
			rec := f.do(t, http.MethodPost, "/v1/notifications/"+tc.channel, tc.body)
			require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

			out := decode(t, rec)
			assert.Equal(t, true, out["requiresApproval"])
			assert.NotEmpty(t, out["permissionId"])
			assert.Zero(t, f.provider.sent)
			assert.Equal(t, "org-a", f.tasks.only(t).OrganizationID)
		})
	}
}

func TestSendNotification_InvalidRecipient(t *testing.T) {
	f := newAgentFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/notifications/sms", `{"recipients":["12"],"message":"Oi"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.tasks.tasks)
}

func TestSendNotification_UnknownChannel(t *testing.T) {
	f := newAgentFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/notifications/fax", `{}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGenerateReport_CSV(t *testing.T) {
	f := newAgentFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/reports", `{"reportType":"inactive_students","format":"CSV"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res reports.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, reports.FormatCSV, res.Data.Format)
	assert.Contains(t, res.Data.Content, "Ana")
	assert.NotContains(t, res.Data.Content, "Bia")
}

func TestGenerateReport_UnknownType(t *testing.T) {
	f := newAgentFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/reports", `{"reportType":"salaries"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAgentHandler_RequiresPrincipal(t *testing.T) {
	f := newAgentFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/tasks", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
