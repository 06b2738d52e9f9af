// Package metrics holds the daemon's Prometheus collectors. A nil *Metrics
// is valid and records nothing.
package metrics

import (
	"net/http"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "focos"

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	webhookEntries   *prometheus.CounterVec
	messagesIngested *prometheus.CounterVec
	mediaFailures    *prometheus.CounterVec
	statusUpdates    *prometheus.CounterVec
	sweepProcessed   prometheus.Counter
	sweepErrors      prometheus.Counter
	outboxSends      *prometheus.CounterVec
	wsConnections    prometheus.Gauge
	wsRateLimited    prometheus.Counter
}

// New creates and registers every collector.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		webhookEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_entries_total",
			Help:      "Webhook entries processed, by outcome.",
		}, []string{"outcome"}),
		messagesIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_ingested_total",
			Help:      "Messages persisted, by direction.",
		}, []string{"direction"}),
		mediaFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "media_failures_total",
			Help:      "Media pipeline failures, by classified kind.",
		}, []string{"kind"}),
		statusUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_updates_total",
			Help:      "Channel status events, by result.",
		}, []string{"result"}),
		sweepProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_reassigned_total",
			Help:      "Conversations reassigned to the fallback bot.",
		}),
		sweepErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_errors_total",
			Help:      "Per-conversation sweep failures.",
		}),
		outboxSends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_sends_total",
			Help:      "Outbound channel sends, by result.",
		}, []string{"result"}),
		wsConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections",
			Help:      "Open realtime connections.",
		}),
		wsRateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_rate_limited_total",
			Help:      "Realtime connections closed by the rate limiter.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "goroutines",
			Help:      "Number of active goroutines.",
		}, func() float64 { return float64(runtime.NumGoroutine()) }),
		m.webhookEntries,
		m.messagesIngested,
		m.mediaFailures,
		m.statusUpdates,
		m.sweepProcessed,
		m.sweepErrors,
		m.outboxSends,
		m.wsConnections,
		m.wsRateLimited,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) WebhookEntry(outcome string) {
	if m != nil {
		m.webhookEntries.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) MessageIngested(direction string) {
	if m != nil {
		m.messagesIngested.WithLabelValues(direction).Inc()
	}
}

func (m *Metrics) MediaFailure(kind string) {
	if m != nil {
		m.mediaFailures.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) StatusUpdate(result string) {
	if m != nil {
		m.statusUpdates.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Sweep(processed, errs int) {
	if m != nil {
		m.sweepProcessed.Add(float64(processed))
		m.sweepErrors.Add(float64(errs))
	}
}

func (m *Metrics) OutboxSend(result string) {
	if m != nil {
		m.outboxSends.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.wsConnections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.wsConnections.Dec()
	}
}

func (m *Metrics) RateLimited() {
	if m != nil {
		m.wsRateLimited.Inc()
	}
}
