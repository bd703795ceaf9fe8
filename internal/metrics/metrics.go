// Package metrics holds the Prometheus collectors of the agent subsystem.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is safe to use as a nil pointer; every method is then a no-op.
type Metrics struct {
	CatalogQueries      *prometheus.CounterVec
	GatewayOperations   *prometheus.CounterVec
	GatewayDuration     *prometheus.HistogramVec
	GatewayTimeouts     prometheus.Counter
	TasksProposed       *prometheus.CounterVec
	TaskReviews         *prometheus.CounterVec
	TaskExecutions      *prometheus.CounterVec
	Notifications       *prometheus.CounterVec
	ReportsGenerated    *prometheus.CounterVec
	RateLimited         prometheus.Counter
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New registers the collectors on reg. A nil reg uses the default registerer.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		CatalogQueries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "catalog_queries_total",
			Help:      "Catalog queries executed, by query name and outcome",
		}, []string{"query", "outcome"}),
		GatewayOperations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_operations_total",
			Help:      "Mutation gateway calls, by operation and outcome",
		}, []string{"operation", "outcome"}),
		GatewayDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_operation_duration_seconds",
			Help:      "Mutation gateway call duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"operation"}),
		GatewayTimeouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_timeouts_total",
			Help:      "Mutation gateway calls that stopped waiting on the backend",
		}),
		TasksProposed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_proposed_total",
			Help:      "Agent tasks persisted for review, by category",
		}, []string{"category"}),
		TaskReviews: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_reviews_total",
			Help:      "Review decisions, by outcome",
		}, []string{"decision"}),
		TaskExecutions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_executions_total",
			Help:      "Approved task executions, by action type and outcome",
		}, []string{"action_type", "outcome"}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notification requests, by channel and result (gated, sent, invalid, failed)",
		}, []string{"channel", "result"}),
		ReportsGenerated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_generated_total",
			Help:      "Reports compiled, by type and format",
		}, []string{"report_type", "format"}),
		RateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_requests_total",
			Help:      "Agent requests refused by the rate limiter",
		}),
		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "path"}),
	}
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func (m *Metrics) CatalogQuery(name string, ok bool) {
	if m == nil {
		return
	}
	m.CatalogQueries.WithLabelValues(name, outcome(ok)).Inc()
}

func (m *Metrics) GatewayOperation(op string, ok bool, d time.Duration) {
	if m == nil {
		return
	}
	m.GatewayOperations.WithLabelValues(op, outcome(ok)).Inc()
	m.GatewayDuration.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) GatewayTimeout() {
	if m == nil {
		return
	}
	m.GatewayTimeouts.Inc()
}

func (m *Metrics) TaskProposed(category string) {
	if m == nil {
		return
	}
	m.TasksProposed.WithLabelValues(category).Inc()
}

func (m *Metrics) TaskReviewed(decision string) {
	if m == nil {
		return
	}
	m.TaskReviews.WithLabelValues(decision).Inc()
}

func (m *Metrics) TaskExecuted(actionType string, ok bool) {
	if m == nil {
		return
	}
	m.TaskExecutions.WithLabelValues(actionType, outcome(ok)).Inc()
}

func (m *Metrics) Notification(channel, result string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(channel, result).Inc()
}

func (m *Metrics) ReportGenerated(reportType, format string) {
	if m == nil {
		return
	}
	m.ReportsGenerated.WithLabelValues(reportType, format).Inc()
}

func (m *Metrics) RateLimitHit() {
	if m == nil {
		return
	}
	m.RateLimited.Inc()
}

// Middleware records request counts and durations. path should be the route
// pattern, not the raw URL, to keep label cardinality bounded.
func (m *Metrics) Middleware(path string, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(sw.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
