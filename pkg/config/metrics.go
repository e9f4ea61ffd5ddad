package config

import (
	"context"
	"time"

	"github.com/marmos91/boowebserver/internal/logger"
	"github.com/marmos91/boowebserver/pkg/metrics"
	promMetrics "github.com/marmos91/boowebserver/pkg/metrics/prometheus"
)

// metricsStopTimeout bounds how long Stop waits for the metrics listener.
const metricsStopTimeout = 5 * time.Second

// MetricsResult bundles the metrics exporter with the collector handed to the
// dispatcher and handler. With metrics disabled Server is nil and Dispatcher
// is the no-op implementation.
type MetricsResult struct {
	Server     *metrics.Server
	Dispatcher metrics.DispatcherMetrics
}

// InitializeMetrics builds the metrics components for cfg.Metrics. The
// Prometheus registry is only created when metrics are enabled, so a disabled
// server registers nothing.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{Dispatcher: metrics.NewNoopDispatcherMetrics()}
	}

	metrics.InitRegistry()
	return &MetricsResult{
		Server:     metrics.NewServer(metrics.ServerConfig{Port: cfg.Metrics.Port}),
		Dispatcher: promMetrics.NewDispatcherMetrics(),
	}
}

// Start runs the exporter in the background until ctx is cancelled. It is a
// no-op when metrics are disabled.
func (r *MetricsResult) Start(ctx context.Context) {
	if r.Server == nil {
		return
	}
	go func() {
		if err := r.Server.Start(ctx); err != nil {
			logger.Error("Metrics server error: %v", err)
		}
	}()
}

// Stop shuts the exporter down, waiting at most metricsStopTimeout.
func (r *MetricsResult) Stop() {
	if r.Server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), metricsStopTimeout)
	defer cancel()
	if err := r.Server.Stop(ctx); err != nil {
		logger.Warn("Metrics server shutdown: %v", err)
	}
}
