package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service counters on a private registry so tests can build
// as many instances as they like. A nil *Metrics is a valid no-op recorder.
type Metrics struct {
	registry *prometheus.Registry

	postings        *prometheus.CounterVec
	feeGaps         *prometheus.CounterVec
	corrections     prometheus.Counter
	limitRejections *prometheus.CounterVec
	eventsDropped   prometheus.Counter
}

// New registers every counter on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		postings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_postings_total",
				Help: "Ledger operations by outcome",
			},
			[]string{"operation", "result"},
		),
		feeGaps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fee_configuration_gaps_total",
				Help: "Fee lookups that found no configured rule",
			},
			[]string{"transaction_type"},
		),
		corrections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reconciliation_corrections_total",
			Help: "Wallet balances overwritten from the transaction log",
		}),
		limitRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "withdrawal_limit_rejections_total",
				Help: "Withdrawals rejected by a rolling window cap",
			},
			[]string{"window"},
		),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ledger_events_dropped_total",
			Help: "Outbound ledger events that could not be delivered",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.postings,
		m.feeGaps,
		m.corrections,
		m.limitRejections,
		m.eventsDropped,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Posting records the outcome of a ledger operation.
func (m *Metrics) Posting(operation string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.postings.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) FeeGap(txType string) {
	if m == nil {
		return
	}
	m.feeGaps.WithLabelValues(txType).Inc()
}

func (m *Metrics) Correction() {
	if m == nil {
		return
	}
	m.corrections.Inc()
}

func (m *Metrics) LimitRejected(window string) {
	if m == nil {
		return
	}
	m.limitRejections.WithLabelValues(window).Inc()
}

func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
