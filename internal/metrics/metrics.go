// Package metrics exposes hermitd's Prometheus instrumentation on a
// private registry. A nil *Metrics is valid and records nothing, so
// components take one unconditionally.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Request outcomes used as the outcome label.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Metrics holds every collector hermitd exports.
type Metrics struct {
	reg *prometheus.Registry

	SessionsActive     prometheus.Gauge
	SessionsCapacity   prometheus.Gauge
	RequestsTotal      *prometheus.CounterVec
	GenerationDuration prometheus.Histogram
	BackendUp          prometheus.Gauge
}

// New creates the collectors and registers them, with the Go runtime and
// process collectors, on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "hermitd_sessions_active",
			Help: "Number of live shell sessions",
		}),
		SessionsCapacity: f.NewGauge(prometheus.GaugeOpts{
			Name: "hermitd_sessions_capacity",
			Help: "Maximum number of concurrent shell sessions",
		}),
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hermitd_requests_total",
			Help: "Messages handled, by message type and outcome",
		}, []string{"type", "outcome"}),
		GenerationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "hermitd_generation_duration_seconds",
			Help:    "Wall time of command generation requests",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}),
		BackendUp: f.NewGauge(prometheus.GaugeOpts{
			Name: "hermitd_backend_up",
			Help: "Whether the model backend answered its last health check",
		}),
	}
}

// ObserveRequest counts one handled message.
func (m *Metrics) ObserveRequest(msgType, outcome string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(msgType, outcome).Inc()
}

// ObserveGeneration records the duration of one generation.
func (m *Metrics) ObserveGeneration(d time.Duration) {
	if m == nil {
		return
	}
	m.GenerationDuration.Observe(d.Seconds())
}

// SetSessions publishes the session table occupancy.
func (m *Metrics) SetSessions(active, capacity int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(float64(active))
	m.SessionsCapacity.Set(float64(capacity))
}

// SetBackendUp records the backend health state.
func (m *Metrics) SetBackendUp(up bool) {
	if m == nil {
		return
	}
	if up {
		m.BackendUp.Set(1)
	} else {
		m.BackendUp.Set(0)
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return m.serve(ctx, ln, logger)
}

func (m *Metrics) serve(ctx context.Context, ln net.Listener, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", m.Handler())

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics server listening", "address", ln.Addr().String())
	if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
