package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/njprem/Visitor_Invite_Console/internal/domain"
	"github.com/njprem/Visitor_Invite_Console/internal/service"
)

const namespace = "invite_console"

// BulkMetrics records bulk-upload activity. It implements service.Observer.
type BulkMetrics struct {
	registry *prometheus.Registry
	uploads  *prometheus.CounterVec
	polls    *prometheus.CounterVec
	patches  *prometheus.CounterVec
	confirms *prometheus.CounterVec
	sessions prometheus.Gauge
	closed   *prometheus.CounterVec
}

var _ service.Observer = (*BulkMetrics)(nil)

func New() *BulkMetrics {
	m := &BulkMetrics{
		registry: prometheus.NewRegistry(),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulk_uploads_total",
			Help:      "Guest list uploads handed to the Job Service.",
		}, []string{"result"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_polls_total",
			Help:      "Validation status polls.",
		}, []string{"result"}),
		patches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "row_patches_total",
			Help:      "Debounced row edits sent to the Job Service.",
		}, []string{"result"}),
		confirms: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulk_confirms_total",
			Help:      "Confirm outcomes reported by the Job Service.",
		}, []string{"outcome"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bulk_sessions_open",
			Help:      "Bulk upload sessions currently open.",
		}),
		closed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulk_sessions_closed_total",
			Help:      "Bulk upload sessions closed, by the state they were in.",
		}, []string{"state"}),
	}
	m.registry.MustRegister(
		m.uploads, m.polls, m.patches, m.confirms, m.sessions, m.closed,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *BulkMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *BulkMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *BulkMetrics) UploadCompleted(err error) {
	m.uploads.WithLabelValues(result(err)).Inc()
}

func (m *BulkMetrics) PollCompleted(err error) {
	m.polls.WithLabelValues(result(err)).Inc()
}

func (m *BulkMetrics) PatchCompleted(err error) {
	m.patches.WithLabelValues(patchResult(err)).Inc()
}

func (m *BulkMetrics) ConfirmCompleted(kind domain.ConfirmOutcomeKind) {
	m.confirms.WithLabelValues(string(kind)).Inc()
}

func (m *BulkMetrics) SessionOpened() {
	m.sessions.Inc()
}

func (m *BulkMetrics) SessionClosed(state service.ControllerState) {
	m.sessions.Dec()
	m.closed.WithLabelValues(state.String()).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func patchResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case domain.IsRowValidation(err):
		return "rejected"
	default:
		return "error"
	}
}
