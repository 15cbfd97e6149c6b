// Package telemetry provides logging, metrics and tracing for the chat
// backend.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	turnsTotal     *prometheus.CounterVec
	tokensTotal    *prometheus.CounterVec
	toolCallsTotal *prometheus.CounterVec
	turnDuration   prometheus.Histogram

	rollupsTotal    prometheus.Counter
	rollupFailures  prometheus.Counter
	foldedMessages  prometheus.Counter
	windowMessages  prometheus.Histogram
	windowTokens    prometheus.Histogram
	rateLimited     prometheus.Counter
	activeSessions  prometheus.Gauge
	eventsPublished *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "minime_turns_total",
			Help: "Chat turns processed, by status.",
		}, []string{"status"}),
		tokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "minime_llm_tokens_total",
			Help: "Model tokens consumed, by direction.",
		}, []string{"type"}),
		toolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "minime_tool_calls_total",
			Help: "Tool invocations, by tool and status.",
		}, []string{"tool", "status"}),
		turnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "minime_turn_duration_seconds",
			Help:    "Wall time of a chat turn.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		rollupsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "minime_memory_rollups_total",
			Help: "Successful summary roll-ups.",
		}),
		rollupFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "minime_memory_rollup_failures_total",
			Help: "Roll-ups where the summarizer failed and the previous summary was kept.",
		}),
		foldedMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "minime_memory_folded_messages_total",
			Help: "Messages removed from the window by roll-ups.",
		}),
		windowMessages: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "minime_memory_window_messages",
			Help:    "Messages in the window after a turn.",
			Buckets: prometheus.LinearBuckets(0, 5, 10),
		}),
		windowTokens: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "minime_memory_window_tokens",
			Help:    "Approximate tokens in the window after a turn.",
			Buckets: prometheus.LinearBuckets(0, 250, 13),
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "minime_rate_limited_requests_total",
			Help: "Requests rejected by the per-client rate limiter.",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "minime_active_sessions",
			Help: "Sessions currently tracked by the gateway.",
		}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "minime_events_published_total",
			Help: "Lifecycle events handed to the publisher, by type and status.",
		}, []string{"type", "status"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.turnsTotal, m.tokensTotal, m.toolCallsTotal, m.turnDuration,
		m.rollupsTotal, m.rollupFailures, m.foldedMessages,
		m.windowMessages, m.windowTokens, m.rateLimited,
		m.activeSessions, m.eventsPublished,
	)
	return m
}

// RecordTurn records one completed or failed chat turn.
func (m *Metrics) RecordTurn(status string, duration time.Duration, inputTokens, outputTokens int) {
	m.turnsTotal.WithLabelValues(status).Inc()
	m.turnDuration.Observe(duration.Seconds())
	m.tokensTotal.WithLabelValues("input").Add(float64(inputTokens))
	m.tokensTotal.WithLabelValues("output").Add(float64(outputTokens))
}

// RecordToolCall records a tool invocation.
func (m *Metrics) RecordToolCall(tool, status string) {
	m.toolCallsTotal.WithLabelValues(tool, status).Inc()
}

// RollupFolded implements memory.Recorder.
func (m *Metrics) RollupFolded(n int) {
	m.rollupsTotal.Inc()
	m.foldedMessages.Add(float64(n))
}

// RollupFailed implements memory.Recorder.
func (m *Metrics) RollupFailed() {
	m.rollupFailures.Inc()
}

// WindowObserved implements memory.Recorder.
func (m *Metrics) WindowObserved(messages, tokens int) {
	m.windowMessages.Observe(float64(messages))
	m.windowTokens.Observe(float64(tokens))
}

// RateLimited counts a rejected request.
func (m *Metrics) RateLimited() {
	m.rateLimited.Inc()
}

// SetActiveSessions sets the tracked session gauge.
func (m *Metrics) SetActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
}

// RecordEvent counts a published lifecycle event.
func (m *Metrics) RecordEvent(eventType, status string) {
	m.eventsPublished.WithLabelValues(eventType, status).Inc()
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler serving the metrics in text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
