package services

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator()
	require.NoError(t, err)
	return v
}

func TestNewValidator_CompilesAllSchemas(t *testing.T) {
	v := newTestValidator(t)
	assert.Equal(t, []string{
		SchemaDatabaseUpdateTask,
		SchemaNotificationEmail,
		SchemaNotificationPush,
		SchemaNotificationSMS,
		SchemaQueryRequest,
		SchemaReportRequest,
		SchemaReviewDecision,
		SchemaTaskProposal,
		SchemaWhatsAppTask,
	}, v.Names())
}

func TestValidate_TaskProposal(t *testing.T) {
	v := newTestValidator(t)

	valid := `{"title":"Reactivate","description":"Student inactive for 30 days","category":"DATABASE_CHANGE",
		"actionType":"UPDATE_RECORD","targetEntity":"Student","actionPayload":{"records":[]},"priority":"HIGH"}`
	assert.NoError(t, v.Validate(SchemaTaskProposal, []byte(valid)))

	cases := []struct {
		name string
		body string
	}{
		{"missing title", `{"description":"long enough text","category":"SMS","actionType":"SEND_MESSAGE","actionPayload":{}}`},
		{"short description", `{"title":"abc","description":"short","category":"SMS","actionType":"SEND_MESSAGE","actionPayload":{}}`},
		{"unknown category", `{"title":"abc","description":"long enough text","category":"PHONE","actionType":"SEND_MESSAGE","actionPayload":{}}`},
		{"payload not object", `{"title":"abc","description":"long enough text","category":"SMS","actionType":"SEND_MESSAGE","actionPayload":[1]}`},
		{"bad due date", `{"title":"abc","description":"long enough text","category":"SMS","actionType":"SEND_MESSAGE","actionPayload":{},"dueDate":"tomorrow"}`},
		{"not json", `{"title":`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := v.Validate(SchemaTaskProposal, []byte(tc.body))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation), err.Error())
		})
	}
}

func TestValidate_DatabaseUpdateOperation(t *testing.T) {
	v := newTestValidator(t)
	body := func(op string) []byte {
		return []byte(`{"title":"Fix plans","description":"Correct plan prices","targetEntity":"Plan","operation":"` + op + `","records":[{"where":{"id":"p1"},"data":{"price":99}}]}`)
	}
	assert.NoError(t, v.Validate(SchemaDatabaseUpdateTask, body("update")))
	assert.NoError(t, v.Validate(SchemaDatabaseUpdateTask, body("CREATE")))
	assert.ErrorIs(t, v.Validate(SchemaDatabaseUpdateTask, body("DROP")), ErrValidation)
}

func TestValidate_NotificationBodies(t *testing.T) {
	v := newTestValidator(t)
	assert.NoError(t, v.Validate(SchemaNotificationSMS, []byte(`{"recipients":["11999990000"],"message":"Oi"}`)))
	assert.ErrorIs(t, v.Validate(SchemaNotificationSMS, []byte(`{"recipients":[],"message":"Oi"}`)), ErrValidation)
	assert.ErrorIs(t, v.Validate(SchemaNotificationEmail, []byte(`{"recipients":["a@b.com"],"subject":"s"}`)), ErrValidation)
	assert.NoError(t, v.Validate(SchemaNotificationPush, []byte(`{"recipients":["dev-1"],"title":"t","message":"m","data":{"k":1}}`)))
}

func TestValidate_ReportRequest(t *testing.T) {
	v := newTestValidator(t)
	assert.NoError(t, v.Validate(SchemaReportRequest, []byte(`{"reportType":"overdue_payments"}`)))
	assert.NoError(t, v.Validate(SchemaReportRequest, []byte(`{"reportType":"overdue_payments","format":"csv"}`)))
	assert.ErrorIs(t, v.Validate(SchemaReportRequest, []byte(`{"reportType":"overdue_payments","format":"XLSX"}`)), ErrValidation)
}

func TestValidate_UnknownSchema(t *testing.T) {
	v := newTestValidator(t)
	err := v.Validate("nope", []byte(`{}`))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrValidation))
}

func TestValidate_ErrorNamesField(t *testing.T) {
	v := newTestValidator(t)
	err := v.Validate(SchemaWhatsAppTask, []byte(`{"title":"Hi","description":"Remind overdue students","recipients":["1"],"message":"x"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/title")
}
