// Package metrics exposes pull, fetch and token counters. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"catalog_sync/internal/domain"
)

const namespace = "catalog_sync"

type Metrics struct {
	registry *prometheus.Registry

	pulls          *prometheus.CounterVec
	pullDuration   *prometheus.HistogramVec
	records        *prometheus.CounterVec
	drops          *prometheus.CounterVec
	retries        *prometheus.CounterVec
	tokenRefreshes *prometheus.CounterVec
	violations     *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		pulls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pulls_total",
			Help:      "Finished pulls by platform and outcome.",
		}, []string{"platform", "outcome"}),
		pullDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pull_duration_seconds",
			Help:      "Wall time of finished pulls.",
			Buckets:   []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
		}, []string{"platform"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Records fetched and loaded by platform.",
		}, []string{"platform", "stage"}),
		drops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_dropped_total",
			Help:      "Records rejected by normalization.",
		}, []string{"platform", "reason"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_retries_total",
			Help:      "Page fetch retries by failure kind.",
		}, []string{"platform", "kind"}),
		tokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refreshes_total",
			Help:      "Access token refresh attempts by result.",
		}, []string{"platform", "result"}),
		violations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quality_violations_total",
			Help:      "Post-load quality violations by kind.",
		}, []string{"platform", "kind"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.pulls,
		m.pullDuration,
		m.records,
		m.drops,
		m.retries,
		m.tokenRefreshes,
		m.violations,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObservePull(report *domain.PullReport) {
	if m == nil || report == nil {
		return
	}
	p := report.Platform
	m.pulls.WithLabelValues(p, report.Outcome()).Inc()
	m.pullDuration.WithLabelValues(p).Observe(report.Duration.Seconds())
	m.records.WithLabelValues(p, "fetched").Add(float64(report.RecordsFetched))
	m.records.WithLabelValues(p, "loaded").Add(float64(report.RecordsLoaded))
	for _, v := range report.Violations {
		m.violations.WithLabelValues(p, string(v.Kind)).Inc()
	}
}

func (m *Metrics) RecordDrop(platform, reason string) {
	if m == nil {
		return
	}
	m.drops.WithLabelValues(platform, reason).Inc()
}

func (m *Metrics) RecordRetry(platform string, kind domain.FetchErrorKind) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(platform, string(kind)).Inc()
}

func (m *Metrics) RecordRefresh(platform string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.tokenRefreshes.WithLabelValues(platform, result).Inc()
}
