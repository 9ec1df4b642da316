// Package metrics holds the Prometheus collectors shared by the services.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "perpdex"

type Metrics struct {
	registry *prometheus.Registry

	CrankAttempts      *prometheus.CounterVec
	QueueDepth         *prometheus.GaugeVec
	Liquidations       *prometheus.CounterVec
	PositionsScanned   prometheus.Gauge
	IndexerTicks       *prometheus.CounterVec
	SnapshotsPublished prometheus.Counter
	IndexerBackoff     prometheus.Gauge
	SubscribedUsers    prometheus.Gauge
	WSConnections      prometheus.Gauge
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		CrankAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crank_attempts_total",
			Help:      "Crank instructions sent, by loop, market and outcome.",
		}, []string{"loop", "market", "outcome"}),
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Last observed entry count of the request and event queues.",
		}, []string{"queue"}),
		Liquidations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "liquidations_total",
			Help:      "Liquidation attempts by outcome.",
		}, []string{"outcome"}),
		PositionsScanned: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "liquidator_positions_scanned",
			Help:      "Open positions evaluated in the last scan.",
		}),
		IndexerTicks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "indexer_ticks_total",
			Help:      "Indexer poll ticks by outcome.",
		}, []string{"outcome"}),
		SnapshotsPublished: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "indexer_snapshots_published_total",
			Help:      "Snapshots published because their fingerprint changed.",
		}),
		IndexerBackoff: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "indexer_next_delay_seconds",
			Help:      "Delay before the next indexer tick.",
		}),
		SubscribedUsers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "indexer_subscribed_users",
			Help:      "Users currently tracked by the indexer.",
		}),
		WSConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections",
			Help:      "Open push channel connections.",
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve exposes /metrics on addr until ctx is cancelled. An empty addr is a no-op.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	if addr == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics server listening", "addr", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
