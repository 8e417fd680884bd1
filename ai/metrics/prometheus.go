// Package metrics exports router metrics in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hrygo/fincue/ai/stats"
)

const (
	namespace = "fincue"
	subsystem = "router"
)

// PrometheusExporter implements stats.Exporter and the router's dispatch observer.
type PrometheusExporter struct {
	registry *prometheus.Registry

	// Dispatch metrics
	dispatches        *prometheus.CounterVec
	dispatchLatency   *prometheus.HistogramVec
	fallbacks         *prometheus.CounterVec
	confidence        *prometheus.HistogramVec
	effectiveStrategy *prometheus.GaugeVec

	// Backend call metrics
	backendCalls   *prometheus.CounterVec
	backendLatency *prometheus.HistogramVec

	// Cache metrics
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// LLM metrics
	llmTokens  *prometheus.CounterVec
	llmLatency *prometheus.HistogramVec

	// Aggregates published by the performance monitor
	successRate       *prometheus.GaugeVec
	avgConfidence     prometheus.Gauge
	avgProcessingTime prometheus.Gauge
	costSavings       prometheus.Gauge
	remoteSpend       prometheus.Gauge
}

// Config configures the Prometheus exporter.
type Config struct {
	// Registry to use (if nil, creates a new one)
	Registry *prometheus.Registry

	// Buckets for latency histograms (in seconds)
	LatencyBuckets []float64
}

// DefaultConfig returns default Prometheus configuration.
func DefaultConfig() Config {
	return Config{
		LatencyBuckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}
}

// NewPrometheusExporter creates and registers every collector.
func NewPrometheusExporter(cfg Config) *PrometheusExporter {
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = DefaultConfig().LatencyBuckets
	}
	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	e := &PrometheusExporter{registry: registry}

	e.dispatches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name: "dispatch_total",
		Help: "Total number of routed tasks",
	}, []string{"task", "strategy", "source", "status"})

	e.dispatchLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name:    "dispatch_latency_seconds",
		Help:    "End-to-end routed task latency in seconds",
		Buckets: cfg.LatencyBuckets,
	}, []string{"task", "strategy"})

	e.fallbacks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name: "fallback_total",
		Help: "Results served by a backend other than the first attempted",
	}, []string{"task", "strategy"})

	e.confidence = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name:    "result_confidence",
		Help:    "Confidence of returned results",
		Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
	}, []string{"task", "source"})

	e.effectiveStrategy = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: subsystem,
		Name: "effective_strategy",
		Help: "1 for the strategy currently in effect, 0 otherwise",
	}, []string{"strategy"})

	e.backendCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "backend",
		Name: "calls_total",
		Help: "Total number of backend adapter calls",
	}, []string{"source", "task", "status"})

	e.backendLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "backend",
		Name:    "latency_seconds",
		Help:    "Backend adapter call latency in seconds",
		Buckets: cfg.LatencyBuckets,
	}, []string{"source", "task"})

	e.cacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "cache",
		Name: "hits_total",
		Help: "Remote result cache hits",
	}, []string{"task"})

	e.cacheMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "cache",
		Name: "misses_total",
		Help: "Remote result cache misses",
	}, []string{"task"})

	e.llmTokens = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "llm",
		Name: "tokens_total",
		Help: "Tokens consumed by model calls",
	}, []string{"model", "type"})

	e.llmLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: "llm",
		Name:    "latency_seconds",
		Help:    "Model call latency in seconds",
		Buckets: cfg.LatencyBuckets,
	}, []string{"model", "provider"})

	e.successRate = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "performance",
		Name: "success_rate",
		Help: "Backend success rate since the last reset",
	}, []string{"source"})

	e.avgConfidence = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "performance",
		Name: "average_confidence",
		Help: "Average confidence of successful backend calls",
	})

	e.avgProcessingTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "performance",
		Name: "average_processing_seconds",
		Help: "Average backend call duration in seconds",
	})

	e.costSavings = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "performance",
		Name: "cost_savings_usd",
		Help: "Estimated remote cost avoided by local processing",
	})

	e.remoteSpend = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: "performance",
		Name: "remote_spend_usd",
		Help: "Total remote processing spend",
	})

	registry.MustRegister(
		e.dispatches, e.dispatchLatency, e.fallbacks, e.confidence, e.effectiveStrategy,
		e.backendCalls, e.backendLatency,
		e.cacheHits, e.cacheMisses,
		e.llmTokens, e.llmLatency,
		e.successRate, e.avgConfidence, e.avgProcessingTime, e.costSavings, e.remoteSpend,
	)
	return e
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordDispatch records one routed task. source is empty for failed dispatches.
func (e *PrometheusExporter) RecordDispatch(task, strategy, source string, latency time.Duration, confidence float64, fallback, success bool) {
	e.dispatches.WithLabelValues(task, strategy, source, status(success)).Inc()
	e.dispatchLatency.WithLabelValues(task, strategy).Observe(latency.Seconds())
	if !success {
		return
	}
	e.confidence.WithLabelValues(task, source).Observe(confidence)
	if fallback {
		e.fallbacks.WithLabelValues(task, strategy).Inc()
	}
}

// SetEffectiveStrategy marks current as the strategy in effect among all.
func (e *PrometheusExporter) SetEffectiveStrategy(current string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1
		}
		e.effectiveStrategy.WithLabelValues(s).Set(v)
	}
}

// RecordBackendCall implements stats.Exporter.
func (e *PrometheusExporter) RecordBackendCall(source, task string, latency time.Duration, success bool) {
	e.backendCalls.WithLabelValues(source, task, status(success)).Inc()
	e.backendLatency.WithLabelValues(source, task).Observe(latency.Seconds())
}

// PublishAggregates implements stats.Exporter.
func (e *PrometheusExporter) PublishAggregates(a stats.Aggregates) {
	e.successRate.WithLabelValues("local").Set(a.Local.SuccessRate)
	e.successRate.WithLabelValues("remote").Set(a.Remote.SuccessRate)
	e.avgConfidence.Set(a.AverageConfidence)
	e.avgProcessingTime.Set(a.AverageProcessingTime.Seconds())
	e.costSavings.Set(a.CostSavingsUSD)
	e.remoteSpend.Set(a.RemoteSpendUSD)
}

// RecordCacheHit records a result cache hit.
func (e *PrometheusExporter) RecordCacheHit(task string) {
	e.cacheHits.WithLabelValues(task).Inc()
}

// RecordCacheMiss records a result cache miss.
func (e *PrometheusExporter) RecordCacheMiss(task string) {
	e.cacheMisses.WithLabelValues(task).Inc()
}

// RecordLLMTokens records token usage for a model call.
func (e *PrometheusExporter) RecordLLMTokens(model, tokenType string, count int) {
	e.llmTokens.WithLabelValues(model, tokenType).Add(float64(count))
}

// RecordLLMLatency records model call latency.
func (e *PrometheusExporter) RecordLLMLatency(model, provider string, latency time.Duration) {
	e.llmLatency.WithLabelValues(model, provider).Observe(latency.Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (e *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// ServeHTTP implements http.Handler for the metrics endpoint.
func (e *PrometheusExporter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.Handler().ServeHTTP(w, r)
}

// GetRegistry returns the Prometheus registry.
func (e *PrometheusExporter) GetRegistry() *prometheus.Registry {
	return e.registry
}
