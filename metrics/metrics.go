// Package metrics exposes Prometheus metrics for the registry host.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "daoregistry"

// Metrics holds the registry host collectors.
type Metrics struct {
	RequestDuration *prometheus.HistogramVec
	RequestTotal    *prometheus.CounterVec

	Members      prometheus.Gauge
	BatchSize    prometheus.Histogram
	Unauthorized prometheus.Counter
	StaleNonces  prometheus.Counter

	registry *prometheus.Registry
}

// New creates all collectors and registers them with reg. A nil reg gets a
// fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Histogram of JSON-RPC request latencies",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "code"},
		),
		RequestTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "rpc",
				Name:      "request_total",
				Help:      "Total number of JSON-RPC requests",
			},
			[]string{"method", "code"},
		),
		Members: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "registry",
				Name:      "members",
				Help:      "Current number of registry members",
			},
		),
		BatchSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "registry",
				Name:      "batch_entries",
				Help:      "Number of entries per accepted snapshot batch",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
			},
		),
		Unauthorized: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "registry",
				Name:      "unauthorized_total",
				Help:      "Total number of batch submissions rejected for a non-owner caller",
			},
		),
		StaleNonces: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "registry",
				Name:      "stale_nonce_total",
				Help:      "Total number of batch submissions rejected for a replayed nonce",
			},
		),
		registry: reg,
	}
}

// ObserveRequest records one RPC call.
func (m *Metrics) ObserveRequest(method, code string, start time.Time) {
	m.RequestTotal.WithLabelValues(method, code).Inc()
	m.RequestDuration.WithLabelValues(method, code).Observe(time.Since(start).Seconds())
}

// Handler serves the registered collectors in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errC := make(chan error, 1)
	go func() { errC <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errC:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
