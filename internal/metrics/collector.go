package metrics

import (
	"net/http"

	"github.com/mikey/llm-phish-filter/internal/config"
	"github.com/mikey/llm-phish-filter/internal/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector records verdict metrics on its own Prometheus registry.
// The Observe methods are no-ops on a nil or disabled collector.
type Collector struct {
	enabled  bool
	registry *prometheus.Registry

	verdicts     *prometheus.CounterVec
	escalations  prometheus.Counter
	stageErrors  *prometheus.CounterVec
	whitelisted  prometheus.Counter
	rejected     prometheus.Counter
	scores       prometheus.Histogram
	analysisTime prometheus.Histogram
}

// NewCollector creates a collector. A nil registry gets a fresh one.
func NewCollector(cfg config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "phish_filter"
	}

	c := &Collector{
		enabled:  cfg.Enabled,
		registry: registry,
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verdicts_total",
			Help:      "Verdicts produced, by detection method and risk level.",
		}, []string{"method", "risk"}),
		escalations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "arbiter_escalations_total",
			Help:      "Emails escalated to the AI arbiter.",
		}),
		stageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_errors_total",
			Help:      "Sub-analyzer failures recorded in verdict evidence.",
		}, []string{"stage"}),
		whitelisted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "whitelisted_total",
			Help:      "Emails passed without analysis because the sender domain is whitelisted.",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_total",
			Help:      "High risk emails rejected at SMTP time.",
		}),
		scores: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "phishing_score",
			Help:      "Distribution of final phishing scores.",
			Buckets:   []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		}),
		analysisTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "Time spent analyzing a single email.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
	}

	registry.MustRegister(
		c.verdicts,
		c.escalations,
		c.stageErrors,
		c.whitelisted,
		c.rejected,
		c.scores,
		c.analysisTime,
	)

	return c
}

// ObserveVerdict records a finished analysis
func (c *Collector) ObserveVerdict(v *core.Verdict, seconds float64) {
	if c == nil || !c.enabled || v == nil {
		return
	}

	c.verdicts.WithLabelValues(string(v.DetectionMethod), string(v.RiskLevel)).Inc()
	c.scores.Observe(v.PhishingScore)
	c.analysisTime.Observe(seconds)

	if v.Evidence.Escalated() {
		c.escalations.Inc()
	}
	if v.Evidence.MLError != "" {
		c.stageErrors.WithLabelValues("classifier").Inc()
	}
	if v.Evidence.AIError != "" {
		c.stageErrors.WithLabelValues("arbiter").Inc()
	}
}

// ObserveWhitelisted counts an email that skipped analysis
func (c *Collector) ObserveWhitelisted() {
	if c != nil && c.enabled {
		c.whitelisted.Inc()
	}
}

// ObserveRejected counts an email refused at SMTP time
func (c *Collector) ObserveRejected() {
	if c != nil && c.enabled {
		c.rejected.Inc()
	}
}

// Handler returns the /metrics handler for this collector's registry
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
