// Package metrics exposes pipeline counters in the Prometheus format.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stage outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeSkipped  = "skipped"
	OutcomeDegraded = "degraded"
	OutcomeFailed   = "failed"
)

// Metrics holds the pipeline collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	records  *prometheus.CounterVec
	sink     *prometheus.CounterVec
	recovery *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.records = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "etenders",
		Name:      "records_total",
		Help:      "Records processed per pipeline stage by outcome",
	}, []string{"stage", "outcome"})
	m.sink = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "etenders",
		Name:      "sink_records_total",
		Help:      "Sink writes by sink and outcome",
	}, []string{"sink", "outcome"})
	m.recovery = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "etenders",
		Name:      "classifier_recovery_total",
		Help:      "Classifier replies by the recovery attempt that produced them",
	}, []string{"attempt"})
	m.duration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "etenders",
		Name:      "stage_duration_seconds",
		Help:      "Time spent per pipeline stage",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120},
	}, []string{"stage"})

	m.registry.MustRegister(
		m.records, m.sink, m.recovery, m.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// RecordStage counts one record passing stage with outcome.
func (m *Metrics) RecordStage(stage, outcome string) {
	if m == nil {
		return
	}

	m.records.WithLabelValues(stage, outcome).Inc()
}

// ObserveStage records how long a stage took.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}

	m.duration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordSink counts one sink write.
func (m *Metrics) RecordSink(sink string, ok bool) {
	if m == nil {
		return
	}

	outcome := OutcomeOK
	if !ok {
		outcome = OutcomeFailed
	}

	m.sink.WithLabelValues(sink, outcome).Inc()
}

// ObserveRecovery counts a classifier reply by recovery attempt.
func (m *Metrics) ObserveRecovery(attempt string) {
	if m == nil {
		return
	}

	m.recovery.WithLabelValues(attempt).Inc()
}

// Server serves /metrics and /healthz.
type Server struct {
	server *http.Server
}

// NewServer creates a server for m on addr.
func NewServer(m *Metrics, addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}
}

// Handler returns the server's mux.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// Serve blocks until the server stops. A clean shutdown returns nil.
func (s *Server) Serve() error {
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error { return s.server.Shutdown(ctx) }
