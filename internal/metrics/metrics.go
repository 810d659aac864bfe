package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	bridgeCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ff7link",
			Subsystem: "bridge",
			Name:      "calls_total",
			Help:      "Command bridge calls by operation and result.",
		}, []string{"op", "result"},
	)
	bridgeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ff7link",
			Subsystem: "bridge",
			Name:      "call_duration_seconds",
			Help:      "Command bridge call latency.",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		}, []string{"op"},
	)
	attached = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ff7link",
			Subsystem: "process",
			Name:      "attached",
			Help:      "1 while the game process is attached.",
		},
	)
	attachTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ff7link",
			Subsystem: "process",
			Name:      "attach_transitions_total",
			Help:      "Number of attach/detach transitions.",
		}, []string{"to"},
	)
	updateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ff7link",
			Subsystem: "update",
			Name:      "state_transitions_total",
			Help:      "Update controller state transitions.",
		}, []string{"from", "to"},
	)
	updateState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "ff7link",
			Subsystem: "update",
			Name:      "state",
			Help:      "Current update controller state (1 = active state, 0 = inactive).",
		}, []string{"state"},
	)
	downloadedBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ff7link",
			Subsystem: "update",
			Name:      "downloaded_bytes_total",
			Help:      "Bytes of update artifacts received.",
		},
	)
)

// UpdateStates lists the label values used by SetUpdateState.
var UpdateStates = []string{"idle", "checking", "downloading", "installed", "not_available", "failed"}

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{bridgeCalls, bridgeDuration, attached, attachTransitions, updateTransitions, updateState, downloadedBytes}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves metrics from a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func ObserveBridgeCall(op, result string, seconds float64) {
	if regOK.Load() {
		bridgeCalls.WithLabelValues(op, result).Inc()
		bridgeDuration.WithLabelValues(op).Observe(seconds)
	}
}

func SetAttached(on bool) {
	if regOK.Load() {
		attached.Set(boolValue(on))
	}
}

func IncAttachTransition(on bool) {
	if regOK.Load() {
		to := "detached"
		if on {
			to = "attached"
		}
		attachTransitions.WithLabelValues(to).Inc()
	}
}

func RecordUpdateTransition(from, to string) {
	if regOK.Load() {
		updateTransitions.WithLabelValues(from, to).Inc()
	}
}

// SetUpdateState marks state as the only active update state.
func SetUpdateState(state string) {
	if regOK.Load() {
		for _, s := range UpdateStates {
			updateState.WithLabelValues(s).Set(boolValue(s == state))
		}
	}
}

func AddDownloadedBytes(n int) {
	if regOK.Load() && n > 0 {
		downloadedBytes.Add(float64(n))
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
