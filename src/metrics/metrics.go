// Package metrics exposes Prometheus counters and histograms for the
// control and broadcast paths, plus the lightweight in-process latency
// introspection served alongside the HTTP middleware.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"overlaycore/src/utils"
)

var (
	// ControlCommandsTotal counts control commands by route and outcome.
	ControlCommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "overlaycore_control_commands_total",
		Help: "Total number of control API commands handled, by command and outcome.",
	}, []string{"command", "outcome"})

	// BroadcastEmitTotal counts broadcaster deliveries by event and outcome.
	BroadcastEmitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "overlaycore_broadcast_emit_total",
		Help: "Total number of broadcaster emit attempts, by event and outcome.",
	}, []string{"event", "outcome"})

	// ActiveSessions tracks currently connected broadcaster sessions.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "overlaycore_active_sessions",
		Help: "Current number of connected broadcaster sessions.",
	})

	// RunningTimers tracks currently running timers across every project.
	RunningTimers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "overlaycore_running_timers",
		Help: "Current number of running timers across all projects.",
	})

	// OverlayReadDuration tracks the overlay merge read path's latency.
	OverlayReadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "overlaycore_overlay_read_duration_seconds",
		Help:    "Latency of the public overlay scene read path.",
		Buckets: prometheus.DefBuckets,
	})
)

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

var apiLatency utils.LatencyRing

// RecordAPILatency records one control-path request duration for the
// /debug/latency introspection endpoint, independent of the Prometheus
// histograms above.
func RecordAPILatency(d time.Duration) {
	apiLatency.Record(d)
}

// LatencyHandler serves a lightweight p99 introspection endpoint as a small
// JSON body.
func LatencyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		utils.WriteJSON(w, http.StatusOK, map[string]any{
			"p99_ms": apiLatency.P99().Milliseconds(),
		})
	}
}
