package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.CatalogQuery("x", true)
		m.GatewayOperation("SELECT", false, time.Millisecond)
		m.GatewayTimeout()
		m.TaskProposed("SMS")
		m.Notification("sms", "gated")
	})
	h := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	assert.NotNil(t, m.Middleware("/x", h))
}

func TestCounters(t *testing.T) {
	m := New("test", prometheus.NewRegistry())
	m.CatalogQuery("overdue_payments", true)
	m.CatalogQuery("overdue_payments", true)
	m.GatewayTimeout()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CatalogQueries.WithLabelValues("overdue_payments", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GatewayTimeouts))
}

func TestMiddlewareRecordsStatus(t *testing.T) {
	m := New("test", prometheus.NewRegistry())
	h := m.Middleware("/v1/tasks", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/tasks", nil))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/v1/tasks", "418")))
}
