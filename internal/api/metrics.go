// internal/api/metrics.go
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xkilldash9x/totemscrape/api/schemas"
	"github.com/xkilldash9x/totemscrape/internal/service"
)

// Metrics holds all Prometheus metrics for the service. It doubles as the
// service lifecycle observer.
type Metrics struct {
	registry *prometheus.Registry

	TasksSubmitted prometheus.Counter
	TasksFinished  *prometheus.CounterVec
	RunDuration    prometheus.Histogram
	RowsScraped    prometheus.Counter
	RunsInFlight   prometheus.Gauge
	HTTPRequests   *prometheus.CounterVec
}

var _ service.Observer = (*Metrics)(nil)

// NewMetrics registers the metrics on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		TasksSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "totem_tasks_submitted_total",
			Help: "The total number of extraction tasks accepted",
		}),
		TasksFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "totem_tasks_finished_total",
			Help: "The total number of extraction tasks that finished",
		}, []string{"task_status", "result_status"}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "totem_run_duration_seconds",
			Help:    "Wall time of a single extraction run",
			Buckets: []float64{5, 10, 20, 30, 60, 120, 300, 600},
		}),
		RowsScraped: factory.NewCounter(prometheus.CounterOpts{
			Name: "totem_rows_scraped_total",
			Help: "The total number of table rows returned by successful runs",
		}),
		RunsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "totem_runs_in_flight",
			Help: "Extraction runs currently driving a browser",
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "totem_http_requests_total",
			Help: "HTTP requests served, by route and status code",
		}, []string{"method", "route", "code"}),
	}
}

func (m *Metrics) TaskSubmitted() { m.TasksSubmitted.Inc() }

func (m *Metrics) RunStarted() { m.RunsInFlight.Inc() }

func (m *Metrics) RunFinished(status schemas.TaskStatus, result *schemas.ExtractionResult, elapsed time.Duration) {
	m.RunsInFlight.Dec()
	m.RunDuration.Observe(elapsed.Seconds())
	resultStatus := "none"
	if result != nil {
		resultStatus = string(result.Status)
		if result.Succeeded() {
			m.RowsScraped.Add(float64(len(result.Data)))
		}
	}
	m.TasksFinished.WithLabelValues(string(status), resultStatus).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware counts requests by their chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		m.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(code)).Inc()
	})
}
