package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	StageRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maestro_stage_runs_total",
			Help: "Total number of stage runs by outcome",
		},
		[]string{"stage", "outcome"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "maestro_stage_duration_seconds",
			Help:    "Duration of stage runs in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 1800},
		},
		[]string{"stage"},
	)

	PluginInvocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maestro_plugin_invocations_total",
			Help: "Total number of plugin calls by result",
		},
		[]string{"kind", "plugin", "result"},
	)

	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maestro_cache_lookups_total",
			Help: "Fetcher result cache lookups",
		},
		[]string{"result"},
	)

	GatherRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maestro_gather_requests_total",
			Help: "Total number of HTTP requests made while gathering",
		},
		[]string{"domain", "status", "detected", "detection_src"},
	)

	GatherDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "maestro_gather_request_duration_seconds",
			Help:    "Duration of gather requests in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"domain"},
	)

	GatherBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maestro_gather_bytes_total",
			Help: "Total bytes downloaded while gathering",
		},
		[]string{"domain"},
	)

	WebhookDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maestro_webhook_deliveries_total",
			Help: "Provide stage deliveries by outcome",
		},
		[]string{"outcome"},
	)
)

// RecordStage updates the stage counters.
func RecordStage(stage, outcome string, d time.Duration) {
	StageRunsTotal.WithLabelValues(stage, outcome).Inc()
	StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordPlugin counts one plugin call.
func RecordPlugin(kind, plugin string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	PluginInvocationsTotal.WithLabelValues(kind, plugin, result).Inc()
}

// RecordCache counts one cache lookup.
func RecordCache(hit bool) {
	if hit {
		CacheLookupsTotal.WithLabelValues("hit").Inc()
		return
	}
	CacheLookupsTotal.WithLabelValues("miss").Inc()
}

// RecordRequest updates the gather request metrics. A zero status with a
// non-nil err counts as "error".
func RecordRequest(domain string, status int, err error, detectionSrc string, d time.Duration, bytes int) {
	statusStr := strconv.Itoa(status)
	if err != nil {
		statusStr = "error"
	}
	detectedStr := "false"
	if detectionSrc != "" {
		detectedStr = "true"
	}

	GatherRequestsTotal.WithLabelValues(domain, statusStr, detectedStr, detectionSrc).Inc()
	GatherDuration.WithLabelValues(domain).Observe(d.Seconds())
	GatherBytesTotal.WithLabelValues(domain).Add(float64(bytes))
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Server encapsulates an HTTP server for Prometheus metrics.
type Server struct {
	srv *http.Server
}

// Start begins listening on the specified port and exposes /metrics.
func Start(port int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		// Suppress the error from intentional shutdown
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "err", err)
		}
	}()

	return &Server{srv: srv}
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
