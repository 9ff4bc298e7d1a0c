// Package metrics exposes Prometheus metrics for a long-running sentvec
// server.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ToolCallsTotal counts MCP tool calls by tool and outcome ("ok" or "error").
	ToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentvec_tool_calls_total",
			Help: "Total number of tool calls processed",
		},
		[]string{"tool", "status"},
	)

	// ToolCallDuration measures tool call latency, including inference.
	ToolCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentvec_tool_call_duration_seconds",
			Help:    "Duration of tool calls in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"tool"},
	)

	// TextsEmbeddedTotal counts texts successfully turned into vectors.
	TextsEmbeddedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentvec_texts_embedded_total",
			Help: "Total number of texts embedded",
		},
		[]string{"model"},
	)

	// ModelLoadSeconds records how long the last model load took.
	ModelLoadSeconds = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sentvec_model_load_seconds",
			Help: "Duration of the last model load in seconds",
		},
		[]string{"model"},
	)
)

// ObserveToolCall records one finished tool call that started at start.
func ObserveToolCall(tool string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	ToolCallsTotal.WithLabelValues(tool, status).Inc()
	ToolCallDuration.WithLabelValues(tool).Observe(time.Since(start).Seconds())
}

// ObserveEmbedded adds n texts embedded with model.
func ObserveEmbedded(model string, n int) {
	TextsEmbeddedTotal.WithLabelValues(model).Add(float64(n))
}

// ObserveModelLoad records the load time of model.
func ObserveModelLoad(model string, d time.Duration) {
	ModelLoadSeconds.WithLabelValues(model).Set(d.Seconds())
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving metrics", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
