// Package metrics provides attendance engine metrics for observability.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine collectors. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	capturesTotal        *prometheus.CounterVec
	headcountDuration    prometheus.Histogram
	recognitionTotal     *prometheus.CounterVec
	fallbacksTotal       *prometheus.CounterVec
	transcriptionSeconds *prometheus.HistogramVec
	mismatchesTotal      prometheus.Counter
	resolutionsTotal     *prometheus.CounterVec
	commitsTotal         *prometheus.CounterVec
	openSessions         prometheus.Gauge
}

// New creates the collectors and registers them on registry.
func New(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.capturesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartattend_captures_total",
			Help: "Total number of still captures",
		},
		[]string{"result"}, // success, error
	)
	m.headcountDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "smartattend_headcount_duration_seconds",
		Help:    "Time taken by capture plus the head-count call",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	})
	m.recognitionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartattend_recognition_total",
			Help: "Roll-call recognitions by the path that produced the present-set",
		},
		[]string{"source"}, // local, server, manual
	)
	m.fallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartattend_recognition_fallbacks_total",
			Help: "Server transcription fallbacks by reason",
		},
		[]string{"reason"},
	)
	m.transcriptionSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "smartattend_transcription_duration_seconds",
			Help:    "Time from stop to a recognized present-set",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"source"},
	)
	m.mismatchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "smartattend_headcount_mismatches_total",
		Help: "Reconciliations where the present count differed from the head count",
	})
	m.resolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartattend_mismatch_resolutions_total",
			Help: "Mismatch resolutions chosen by the operator",
		},
		[]string{"resolution"},
	)
	m.commitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smartattend_commits_total",
			Help: "Attendance session commits",
		},
		[]string{"result"},
	)
	m.openSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "smartattend_open_sessions",
		Help: "Attendance sessions currently open",
	})
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.capturesTotal,
		m.headcountDuration,
		m.recognitionTotal,
		m.fallbacksTotal,
		m.transcriptionSeconds,
		m.mismatchesTotal,
		m.resolutionsTotal,
		m.commitsTotal,
		m.openSessions,
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (m *Metrics) RecordCapture(seconds float64, err error) {
	if m == nil {
		return
	}
	m.capturesTotal.WithLabelValues(result(err)).Inc()
	if err == nil {
		m.headcountDuration.Observe(seconds)
	}
}

func (m *Metrics) RecordRecognition(source, fallbackReason string, seconds float64) {
	if m == nil {
		return
	}
	m.recognitionTotal.WithLabelValues(source).Inc()
	m.transcriptionSeconds.WithLabelValues(source).Observe(seconds)
	if fallbackReason != "" {
		m.fallbacksTotal.WithLabelValues(fallbackReason).Inc()
	}
}

func (m *Metrics) RecordMismatch() {
	if m == nil {
		return
	}
	m.mismatchesTotal.Inc()
}

func (m *Metrics) RecordResolution(resolution string) {
	if m == nil {
		return
	}
	m.resolutionsTotal.WithLabelValues(resolution).Inc()
}

func (m *Metrics) RecordCommit(err error) {
	if m == nil {
		return
	}
	m.commitsTotal.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.openSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.openSessions.Dec()
}
