package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ccmetrics"

// Metrics holds the Prometheus collectors of one server. Each server gets its
// own registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	WorkbookLoads       *prometheus.CounterVec
	WorkbookLoadTime    prometheus.Histogram
	WorkbookSaveTime    prometheus.Histogram
	WorkbookBytes       prometheus.Gauge
	RowsUpserted        *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		WorkbookLoads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workbook",
			Name:      "loads_total",
			Help:      "Workbook downloads by outcome.",
		}, []string{"outcome"}),
		WorkbookLoadTime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "workbook",
			Name:      "load_duration_seconds",
			Help:      "Time to download and decode the workbook.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
		WorkbookSaveTime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "workbook",
			Name:      "save_duration_seconds",
			Help:      "Time to encode and upload the workbook.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		}),
		WorkbookBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "workbook",
			Name:      "size_bytes",
			Help:      "Size of the last workbook transferred.",
		}),
		RowsUpserted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "staging",
			Name:      "rows_upserted_total",
			Help:      "StagingData rows written by submissions, by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) ObserveLoad(started time.Time, size int, err error) {
	if err != nil {
		m.WorkbookLoads.WithLabelValues("error").Inc()
		return
	}
	m.WorkbookLoads.WithLabelValues("ok").Inc()
	m.WorkbookLoadTime.Observe(time.Since(started).Seconds())
	m.WorkbookBytes.Set(float64(size))
}

func (m *Metrics) ObserveSave(started time.Time, size int) {
	m.WorkbookSaveTime.Observe(time.Since(started).Seconds())
	m.WorkbookBytes.Set(float64(size))
}

func (m *Metrics) ObserveUpsert(added, updated, removed int) {
	m.RowsUpserted.WithLabelValues("added").Add(float64(added))
	m.RowsUpserted.WithLabelValues("updated").Add(float64(updated))
	m.RowsUpserted.WithLabelValues("removed").Add(float64(removed))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}
