// Package metrics exposes server counters in the Prometheus format.
//
// Everything is registered on a private registry so tests can build as many
// instances as they like. A nil *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/eternalApril/lunakv/internal/pubsub"
	"github.com/eternalApril/lunakv/internal/storage"
)

const namespace = "lunakv"

type Metrics struct {
	registry *prometheus.Registry

	commands    *prometheus.CounterVec
	errors      *prometheus.CounterVec
	duration    prometheus.Histogram
	connections prometheus.Gauge
	gcCycles    prometheus.Counter
}

// New registers the command and connection metrics plus gauges reading the given
// keyspace and broker on every scrape. stats and broker may be nil
func New(stats interface{ Stats() storage.Stats }, broker *pubsub.Broker) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands executed, by command name.",
		}, []string{"command"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "command_errors_total",
			Help:      "Commands that returned an error, by error kind.",
		}, []string{"kind"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Command execution latency.",
			Buckets:   prometheus.ExponentialBuckets(0.000005, 4, 10),
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Currently open client connections.",
		}),
		gcCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gc",
			Name:      "productive_cycles_total",
			Help:      "Active expiration cycles that reclaimed at least one key.",
		}),
	}

	m.registry.MustRegister(
		m.commands,
		m.errors,
		m.duration,
		m.connections,
		m.gcCycles,
		collectors.NewGoCollector(),
	)

	if stats != nil {
		m.registerKeyspace(stats)
	}
	if broker != nil {
		m.registerBroker(broker)
	}

	return m
}

func (m *Metrics) registerKeyspace(src interface{ Stats() storage.Stats }) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "keys",
			Help:      "Keys in the keyspace, including expired ones not reclaimed yet.",
		}, func() float64 { return float64(src.Stats().Keys) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "expiring_keys",
			Help:      "Keys carrying a TTL.",
		}, func() float64 { return float64(src.Stats().Expires) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "expired_keys_total",
			Help:        "Keys reclaimed after their TTL passed.",
			ConstLabels: prometheus.Labels{"path": "passive"},
		}, func() float64 { return float64(src.Stats().ExpiredPassive) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "expired_keys_total",
			Help:        "Keys reclaimed after their TTL passed.",
			ConstLabels: prometheus.Labels{"path": "active"},
		}, func() float64 { return float64(src.Stats().ExpiredActive) }),
	)
}

func (m *Metrics) registerBroker(b *pubsub.Broker) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pubsub",
			Name:      "channels",
			Help:      "Channels with at least one subscriber.",
		}, func() float64 { return float64(b.Stats().Channels) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pubsub",
			Name:      "patterns",
			Help:      "Patterns with at least one subscriber.",
		}, func() float64 { return float64(b.Stats().Patterns) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pubsub",
			Name:      "published_total",
			Help:      "PUBLISH calls.",
		}, func() float64 { return float64(b.Stats().Published) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pubsub",
			Name:      "delivered_total",
			Help:      "Messages accepted by subscriber outboxes.",
		}, func() float64 { return float64(b.Stats().Delivered) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pubsub",
			Name:      "dropped_total",
			Help:      "Messages dropped because a subscriber outbox was full.",
		}, func() float64 { return float64(b.Stats().Dropped) }),
	)
}

// ObserveCommand records one executed command. kind is empty on success
func (m *Metrics) ObserveCommand(name, kind string, took time.Duration) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(name).Inc()
	m.duration.Observe(took.Seconds())
	if kind != "" {
		m.errors.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) ConnOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) ConnClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

// GCCycle counts a productive active expiration cycle
func (m *Metrics) GCCycle() {
	if m == nil {
		return
	}
	m.gcCycles.Inc()
}

// Registry exposes the underlying registry, mostly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Metrics endpoint listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
