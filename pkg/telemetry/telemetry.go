// Package telemetry exposes pass counters in Prometheus format.
package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/opscart/personalize-monitor/pkg/models"
)

const namespace = "personalize_monitor"

// JobName is the Pushgateway job pass metrics are grouped under
const JobName = "personalize_monitor"

// Metrics holds the collectors updated after every pass
type Metrics struct {
	registry *prometheus.Registry

	passes          prometheus.Counter
	passDuration    prometheus.Histogram
	lastPass        prometheus.Gauge
	resources       *prometheus.GaugeVec
	decisions       *prometheus.CounterVec
	errors          *prometheus.CounterVec
	alarmsCreated   prometheus.Counter
	eventsPublished prometheus.Counter
}

// New registers the pass collectors on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		passes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "passes_total",
			Help:      "Monitoring passes completed.",
		}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pass_duration_seconds",
			Help:      "Wall-clock duration of monitoring passes.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 240, 480},
		}),
		lastPass: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_pass_timestamp_seconds",
			Help:      "Unix time the last pass finished.",
		}),
		resources: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "resources",
			Help:      "Resources seen by the last pass.",
		}, []string{"stage"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Decisions made, by type.",
		}, []string{"type"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors recorded during passes, by kind.",
		}, []string{"kind"}),
		alarmsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alarms_created_total",
			Help:      "Alarms created by reconciliation.",
		}),
		eventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Decision events accepted by the bus.",
		}),
	}

	m.registry.MustRegister(
		m.passes, m.passDuration, m.lastPass, m.resources,
		m.decisions, m.errors, m.alarmsCreated, m.eventsPublished,
	)

	// pre-create label values so they are exported as zero
	for _, t := range []models.DecisionType{models.NoAction, models.LowerMinRate, models.MarkIdle} {
		m.decisions.WithLabelValues(string(t))
	}
	return m
}

// WithRuntimeCollectors adds Go runtime and process metrics, for serve mode
func (m *Metrics) WithRuntimeCollectors() *Metrics {
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObservePass records a finished pass
func (m *Metrics) ObservePass(report *models.PassReport) {
	m.passes.Inc()
	m.passDuration.Observe(report.Duration().Seconds())
	m.lastPass.Set(float64(report.FinishedAt.Unix()))
	m.resources.WithLabelValues("discovered").Set(float64(report.ResourcesDiscovered))
	m.resources.WithLabelValues("evaluated").Set(float64(report.ResourcesEvaluated))
	for t, n := range report.Decisions {
		m.decisions.WithLabelValues(string(t)).Add(float64(n))
	}
	for k, n := range report.ErrorCounts {
		m.errors.WithLabelValues(string(k)).Add(float64(n))
	}
	m.alarmsCreated.Add(float64(report.AlarmsCreated))
	m.eventsPublished.Add(float64(report.EventsPublished))
}

// Registry exposes the underlying registry as a gatherer
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry for scraping
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Push sends the current values to a Pushgateway
func (m *Metrics) Push(ctx context.Context, url string) error {
	if err := push.New(url, JobName).Gatherer(m.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", url, err)
	}
	return nil
}
