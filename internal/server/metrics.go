package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsRegistry struct {
	registry          *prometheus.Registry
	submissionsTotal  *prometheus.CounterVec
	approvalsTotal    prometheus.Counter
	callbacksTotal    *prometheus.CounterVec
	catalogFetchTotal *prometheus.CounterVec
	pendingDepth      prometheus.Gauge
}

func newMetricsRegistry() *metricsRegistry {
	submissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "airtopup_submissions_total",
		Help: "Payment submissions by outcome",
	}, []string{"outcome"})

	approvals := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "airtopup_approvals_total",
		Help: "Allowance approval transactions submitted",
	})

	callbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "airtopup_delivery_callbacks_total",
		Help: "Delivery status callbacks processed",
	}, []string{"status"})

	catalogFetches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "airtopup_catalog_fetches_total",
		Help: "Catalog fetches by source",
	}, []string{"source"})

	pending := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "airtopup_pending_fulfillments",
		Help: "Confirmed payments awaiting top-up delivery",
	})

	r := prometheus.NewRegistry()
	r.MustRegister(submissions, approvals, callbacks, catalogFetches, pending)

	return &metricsRegistry{
		registry:          r,
		submissionsTotal:  submissions,
		approvalsTotal:    approvals,
		callbacksTotal:    callbacks,
		catalogFetchTotal: catalogFetches,
		pendingDepth:      pending,
	}
}

func (m *metricsRegistry) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metricsRegistry) incSubmission(outcome string) {
	m.submissionsTotal.WithLabelValues(outcome).Inc()
}

func (m *metricsRegistry) incApproval() {
	m.approvalsTotal.Inc()
}

func (m *metricsRegistry) incCallback(status string) {
	m.callbacksTotal.WithLabelValues(status).Inc()
}

func (m *metricsRegistry) incCatalogFetch(source string) {
	m.catalogFetchTotal.WithLabelValues(source).Inc()
}

func (m *metricsRegistry) setPendingDepth(depth int) {
	m.pendingDepth.Set(float64(depth))
}
