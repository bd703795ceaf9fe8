package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/academyhub/backend/internal/models"
	"github.com/academyhub/backend/internal/tasks"
)

type spyProvider struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (p *spyProvider) Send(_ context.Context, msg Message) (Receipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return Receipt{}, p.err
	}
	p.sent = append(p.sent, msg)
	return Receipt{Channel: msg.Channel, MessageID: "m-1", Recipients: len(msg.Recipients)}, nil
}

func (p *spyProvider) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sent)
}

// taskStore backs both the proposer (through tasks.Service) and the lookup.
type taskStore struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*models.AgentTask
}

func newTaskStore() *taskStore {
	return &taskStore{tasks: map[uuid.UUID]*models.AgentTask{}}
}

func (s *taskStore) Create(_ context.Context, t *models.AgentTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t
	return nil
}

func (s *taskStore) GetByID(_ context.Context, id uuid.UUID) (*models.AgentTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *t
	return &cp, nil
}

func (s *taskStore) approve(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[uuid.MustParse(id)].ApprovalStatus = models.ApprovalApproved
}

func (s *taskStore) get(id string) *models.AgentTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[uuid.MustParse(id)]
}

func newTestGateway() (*Gateway, *taskStore, *spyProvider) {
	store := newTaskStore()
	provider := &spyProvider{}
	g := NewGateway(tasks.NewService(store, nil, nil), store, provider, nil, nil)
	return g, store, provider
}

var origin = Origin{AgentID: "a1", OrganizationID: "o1"}

func boolPtr(b bool) *bool { return &b }

func TestSendSMS_GatedByDefault(t *testing.T) {
	g, store, provider := newTestGateway()

	res := g.SendSMS(context.Background(), SMSParams{
		Origin:     origin,
		Recipients: []string{"(11) 99999-0000"},
		Message:    "Sua mensalidade venceu",
	})

	require.True(t, res.Success, res.Error)
	assert.True(t, res.RequiresApproval)
	require.NotEmpty(t, res.PermissionID)
	assert.Nil(t, res.Data)
	assert.Zero(t, provider.count())

	task := store.get(res.PermissionID)
	assert.Equal(t, models.CategorySMS, task.Category)
	assert.Equal(t, models.ActionSendMessage, task.ActionType)
	assert.Equal(t, models.ApprovalPending, task.ApprovalStatus)

	var action ApprovedAction
	require.NoError(t, json.Unmarshal(task.ActionPayload, &action))
	assert.Equal(t, ChannelSMS, action.Type)
	assert.Equal(t, []string{"11999990000"}, action.Recipients)
}

func TestSendPushNotification_AlsoGated(t *testing.T) {
	g, store, provider := newTestGateway()
	res := g.SendPushNotification(context.Background(), PushParams{
		Origin: origin, Recipients: []string{"device-1"}, Title: "Aula cancelada", Message: "A aula das 19h foi cancelada",
	})
	require.True(t, res.Success, res.Error)
	assert.True(t, res.RequiresApproval)
	assert.Zero(t, provider.count())
	assert.Equal(t, models.CategoryMarketing, store.get(res.PermissionID).Category)
}

func TestSendEmail_GatedByDefault(t *testing.T) {
	g, store, provider := newTestGateway()
	res := g.SendEmail(context.Background(), EmailParams{
		Origin: origin, Recipients: []string{"aluno@example.com"}, Subject: "Bem-vindo", Body: "Olá!",
	})
	require.True(t, res.Success, res.Error)
	assert.True(t, res.RequiresApproval)
	assert.Zero(t, provider.count())
	assert.Equal(t, models.CategoryEmail, store.get(res.PermissionID).Category)
}

func TestSend_ExplicitlyUngated(t *testing.T) {
	g, _, provider := newTestGateway()
	res := g.SendSMS(context.Background(), SMSParams{
		Origin: origin, Recipients: []string{"+55 21 98888-7777"}, Message: "oi", RequirePermission: boolPtr(false),
	})
	require.True(t, res.Success, res.Error)
	assert.False(t, res.RequiresApproval)
	require.NotNil(t, res.Data)
	assert.Equal(t, 1, provider.count())
}

func TestSend_Validation(t *testing.T) {
	g, store, provider := newTestGateway()
	ctx := context.Background()

	tests := []struct {
		name string
		res  Result
		want error
	}{
		{"no recipients", g.SendSMS(ctx, SMSParams{Origin: origin, Message: "oi"}), ErrNoRecipients},
		{"empty message", g.SendSMS(ctx, SMSParams{Origin: origin, Recipients: []string{"11999990000"}}), ErrEmptyMessage},
		{"bad phone", g.SendSMS(ctx, SMSParams{Origin: origin, Recipients: []string{"12345"}, Message: "oi"}), ErrInvalidPhone},
		{"bad email", g.SendEmail(ctx, EmailParams{Origin: origin, Recipients: []string{"not-an-email"}, Subject: "s", Body: "b"}), ErrInvalidEmail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, tt.res.Success)
			assert.Contains(t, tt.res.Error, tt.want.Error())
		})
	}
	assert.Empty(t, store.tasks)
	assert.Zero(t, provider.count())
}

func TestExecuteApprovedAction(t *testing.T) {
	g, store, provider := newTestGateway()
	ctx := context.Background()

	gated := g.SendSMS(ctx, SMSParams{Origin: origin, Recipients: []string{"11999990000"}, Message: "Lembrete"})
	require.True(t, gated.Success)
	action := ApprovedAction{Type: ChannelSMS, Recipients: []string{"11999990000"}, Message: "Lembrete"}

	res := g.ExecuteApprovedAction(ctx, gated.PermissionID, action)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "not approved")
	assert.Zero(t, provider.count())

	store.approve(gated.PermissionID)
	res = g.ExecuteApprovedAction(ctx, gated.PermissionID, action)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, 1, provider.count())
	assert.Equal(t, gated.PermissionID, provider.sent[0].TaskID)
}

func TestExecuteApprovedAction_UnknownPermission(t *testing.T) {
	g, _, provider := newTestGateway()
	for _, id := range []string{"garbage", uuid.NewString()} {
		res := g.ExecuteApprovedAction(context.Background(), id, ApprovedAction{Type: ChannelSMS})
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "permission not found")
	}
	assert.Zero(t, provider.count())
}

func TestExecuteApprovedAction_ProviderFailure(t *testing.T) {
	g, store, provider := newTestGateway()
	provider.err = errors.New("smtp: 421")
	gated := g.SendEmail(context.Background(), EmailParams{Origin: origin, Recipients: []string{"a@b.com"}, Subject: "s", Body: "b"})
	store.approve(gated.PermissionID)

	res := g.ExecuteApprovedAction(context.Background(), gated.PermissionID,
		ApprovedAction{Type: ChannelEmail, Recipients: []string{"a@b.com"}, Subject: "s", Body: "b"})
	assert.False(t, res.Success)
	assert.Equal(t, "failed to send email", res.Error)
}

func TestNormalizePhone(t *testing.T) {
	for raw, want := range map[string]string{
		"11999990000":         "11999990000",
		"+55 (11) 99999-0000": "5511999990000",
		"1133334444":          "1133334444",
	} {
		got, err := NormalizePhone(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got)
	}
	for _, raw := range []string{"", "0199999000", "999", "551199999000011"} {
		_, err := NormalizePhone(raw)
		assert.ErrorIs(t, err, ErrInvalidPhone, raw)
	}
}

func TestWebhookProvider(t *testing.T) {
	var got Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"messageId":"relay-42"}`))
	}))
	defer srv.Close()

	p := NewWebhookProvider(srv.URL, srv.Client())
	r, err := p.Send(context.Background(), Message{Channel: ChannelSMS, Recipients: []string{"11999990000"}, Message: "oi"})
	require.NoError(t, err)
	assert.Equal(t, "relay-42", r.MessageID)
	assert.Equal(t, "oi", got.Message)
}

func TestWebhookProvider_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewWebhookProvider(srv.URL, nil).Send(context.Background(), Message{Channel: ChannelSMS})
	assert.ErrorContains(t, err, "502")
}
