// File: internal/observability/metrics.go
package observability

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// OutcomeComplete is the kind label recorded for successful attempts.
const OutcomeComplete = "complete"

// Metrics holds the benchmark collectors on a private registry, so several
// instances can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	outcomes  *prometheus.CounterVec
	retries   *prometheus.CounterVec
	detection *prometheus.HistogramVec
	length    *prometheus.HistogramVec
}

// NewMetrics creates and registers the collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tgbench",
				Name:      "attempts_total",
				Help:      "Prompt attempts by provider and outcome kind.",
			},
			[]string{"provider", "kind"},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "tgbench",
				Name:      "retries_total",
				Help:      "Attempts repeated after a driver fault or rejected submission.",
			},
			[]string{"provider"},
		),
		detection: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "tgbench",
				Name:      "detection_seconds",
				Help:      "Time from submission to completion or failure.",
				Buckets:   []float64{5, 10, 20, 30, 45, 60, 90, 120, 180},
			},
			[]string{"provider", "kind"},
		),
		length: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "tgbench",
				Name:      "response_length_chars",
				Help:      "Length of extracted responses.",
				Buckets:   prometheus.ExponentialBuckets(100, 2, 10),
			},
			[]string{"provider"},
		),
	}
	m.registry.MustRegister(m.outcomes, m.retries, m.detection, m.length)
	return m
}

// Registry exposes the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveAttempt records one finished attempt. kind is OutcomeComplete or an error kind;
// length is only recorded for completed attempts.
func (m *Metrics) ObserveAttempt(provider, kind string, elapsed time.Duration, length int) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(provider, kind).Inc()
	m.detection.WithLabelValues(provider, kind).Observe(elapsed.Seconds())
	if kind == OutcomeComplete {
		m.length.WithLabelValues(provider).Observe(float64(length))
	}
}

// IncRetry counts an attempt that is about to be repeated.
func (m *Metrics) IncRetry(provider string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(provider).Inc()
}

// Serve exposes /metrics on addr until ctx is done. The listener is bound before
// Serve returns, so a bad address is reported to the caller.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server stopped.", zap.Error(err))
		}
	}()
	logger.Info("Serving metrics.", zap.String("addr", ln.Addr().String()))
	return ln.Addr(), nil
}
