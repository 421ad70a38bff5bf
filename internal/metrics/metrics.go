package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the Prometheus collectors exported by lheq. A nil *Registry
// is valid and records nothing.
type Registry struct {
	reg *prometheus.Registry

	FilesProcessed *prometheus.CounterVec
	StatsRuns      *prometheus.CounterVec
	JobsFinished   *prometheus.CounterVec
	HTTPRequests   *prometheus.CounterVec
	HTTPDuration   *prometheus.HistogramVec
	WSClients      prometheus.Gauge
}

// New builds a registry with process and Go runtime collectors attached.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		FilesProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lheq_files_processed_total",
				Help: "Game files handled by backfill jobs, by job and outcome",
			},
			[]string{"job", "outcome"},
		),
		StatsRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lheq_stats_runs_total",
				Help: "Dual statistics generation runs, by result",
			},
			[]string{"result"},
		),
		JobsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lheq_jobs_finished_total",
				Help: "Queued jobs that reached a terminal state",
			},
			[]string{"job", "status"},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lheq_http_requests_total",
				Help: "HTTP requests served, by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lheq_http_request_duration_seconds",
				Help:    "HTTP request latency by route",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			},
			[]string{"route"},
		),
		WSClients: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "lheq_ws_clients",
				Help: "Connected websocket clients",
			},
		),
	}

	r.reg.MustRegister(
		r.FilesProcessed,
		r.StatsRuns,
		r.JobsFinished,
		r.HTTPRequests,
		r.HTTPDuration,
		r.WSClients,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

func (r *Registry) RecordFile(job, outcome string) {
	if r == nil {
		return
	}
	r.FilesProcessed.WithLabelValues(job, outcome).Inc()
}

func (r *Registry) RecordStatsRun(result string) {
	if r == nil {
		return
	}
	r.StatsRuns.WithLabelValues(result).Inc()
}

func (r *Registry) RecordJob(job, status string) {
	if r == nil {
		return
	}
	r.JobsFinished.WithLabelValues(job, status).Inc()
}

func (r *Registry) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	if r == nil {
		return
	}
	r.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.HTTPDuration.WithLabelValues(route).Observe(d.Seconds())
}

func (r *Registry) SetWSClients(n int) {
	if r == nil {
		return
	}
	r.WSClients.Set(float64(n))
}
