package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dogsight/alert-server/pkg/types"
)

// Metrics holds all application metrics
type Metrics struct {
	// Frame pipeline counters
	FramesProcessed    atomic.Uint64
	FramesSkipped      atomic.Uint64
	PresenceDetections atomic.Uint64
	StableDetections   atomic.Uint64

	// Alert counters, one per notification kind
	WanderingAlerts               atomic.Uint64
	DisappearedAlerts             atomic.Uint64
	DisappearedAfterOutsideAlerts atomic.Uint64
	ReturnedAlerts                atomic.Uint64
	NotifyErrors                  atomic.Uint64

	// Track registry state
	TracksActive  atomic.Uint64
	TracksPruned  atomic.Uint64
	TracksDemoted atomic.Uint64

	// Monitor session state (0/1)
	MonitorRunning atomic.Uint64

	// Ingest connection tracking
	IngestReconnects atomic.Uint64
	IngestErrors     atomic.Uint64

	// Live share clients
	LiveClients        atomic.Uint64
	LiveSamplesRelayed atomic.Uint64
	LiveSamplesDropped atomic.Uint64

	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) registerPrometheusMetrics() {
	gauge := func(name, help string, load func() uint64) {
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: name, Help: help},
			func() float64 { return float64(load()) },
		))
	}

	gauge("dogsight_frames_processed_total", "Total detector frames processed", m.FramesProcessed.Load)
	gauge("dogsight_frames_skipped_total", "Total malformed frames skipped", m.FramesSkipped.Load)
	gauge("dogsight_presence_detections_total", "Detections passing the presence filter", m.PresenceDetections.Load)
	gauge("dogsight_stable_detections_total", "Detections passing the stability filter", m.StableDetections.Load)

	gauge("dogsight_alerts_wandering_total", "Wandering alerts dispatched", m.WanderingAlerts.Load)
	gauge("dogsight_alerts_disappeared_total", "Disappearance alerts dispatched", m.DisappearedAlerts.Load)
	gauge("dogsight_alerts_disappeared_after_outside_total", "Disappeared-after-outside alerts dispatched", m.DisappearedAfterOutsideAlerts.Load)
	gauge("dogsight_alerts_returned_total", "Recovery notifications dispatched", m.ReturnedAlerts.Load)
	gauge("dogsight_notify_errors_total", "Notification channel failures", m.NotifyErrors.Load)

	gauge("dogsight_tracks_active", "Tracks currently held by the registry", m.TracksActive.Load)
	gauge("dogsight_tracks_pruned_total", "Tracks removed by the prune window", m.TracksPruned.Load)
	gauge("dogsight_tracks_demoted_total", "Tracks demoted by the known-pet TTL", m.TracksDemoted.Load)

	gauge("dogsight_monitor_running", "Monitoring session active (0=stopped, 1=running)", m.MonitorRunning.Load)

	gauge("dogsight_ingest_reconnects_total", "Detector socket reconnects", m.IngestReconnects.Load)
	gauge("dogsight_ingest_errors_total", "Detector socket errors", m.IngestErrors.Load)

	gauge("dogsight_live_clients", "Connected live-share peers", m.LiveClients.Load)
	gauge("dogsight_live_samples_relayed_total", "H.264 samples relayed to peers", m.LiveSamplesRelayed.Load)
	gauge("dogsight_live_samples_dropped_total", "H.264 samples dropped for slow peers", m.LiveSamplesDropped.Load)
}

// CountAlert increments the counter for one dispatched notification.
func (m *Metrics) CountAlert(kind types.AlertKind) {
	switch kind {
	case types.AlertWandering:
		m.WanderingAlerts.Add(1)
	case types.AlertDisappeared:
		m.DisappearedAlerts.Add(1)
	case types.AlertDisappearedAfterOutside:
		m.DisappearedAfterOutsideAlerts.Add(1)
	case types.AlertReturned:
		m.ReturnedAlerts.Add(1)
	}
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer starts the metrics HTTP server
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
