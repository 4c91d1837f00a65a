package engine

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dogsight/alert-server/internal/geometry"
	"github.com/dogsight/alert-server/internal/logger"
	"github.com/dogsight/alert-server/internal/metrics"
	"github.com/dogsight/alert-server/pkg/types"
)

// Notifier delivers one alert or recovery message. Implementations are
// expected to be best-effort: failures are logged, never retried, and never
// surfaced back into the evaluation loop.
type Notifier interface {
	Send(kind types.AlertKind, text string)
}

// Status is a point-in-time view of the monitor for UI/API consumption.
type Status struct {
	Running              bool      `json:"running"`
	SessionID            string    `json:"session_id,omitempty"`
	Target               string    `json:"target,omitempty"`
	DogDetected          bool      `json:"dog_detected"`
	DogInZone            bool      `json:"dog_in_zone"`
	LastSeenAnywhereAt   time.Time `json:"last_seen_anywhere_at"`
	LastSeenInZoneAt     time.Time `json:"last_seen_in_zone_at"`
	WanderingAlertSent   bool      `json:"wandering_alert_sent"`
	DisappearedAlertSent bool      `json:"disappeared_alert_sent"`
	ZoneVertices         int       `json:"zone_vertices"`
	ActiveTracks         int       `json:"active_tracks"`
}

// Monitor is the alert monitoring engine for one watched subject. Two
// triggers mutate its state: the frame path (HandleFrame, driven by the
// detection source) and the periodic tick. A single mutex serializes them so
// the two can never race on the latched alert flags. Notification dispatch
// happens outside the lock and never blocks either trigger.
type Monitor struct {
	cfg      Config
	gate     detectionGate
	notifier Notifier
	metrics  *metrics.Metrics

	// now is swappable so elapsed-time behavior is testable.
	now func() time.Time

	mu       sync.Mutex
	registry *trackRegistry
	running  bool
	stop     chan struct{}
	wg       sync.WaitGroup

	sessionID string
	target    string
	zone      geometry.Polygon

	lastSeenAnywhereAt   time.Time
	lastSeenInZoneAt     time.Time
	wanderingAlertSent   bool
	disappearedAlertSent bool
	dogDetected          bool
	dogInZone            bool
}

// New creates a Monitor. notifier may be nil, in which case alerts are
// evaluated and latched but dispatch is a logged no-op. m may be nil.
func New(cfg Config, notifier Notifier, m *metrics.Metrics) *Monitor {
	cfg = cfg.withDefaults()
	return &Monitor{
		cfg:      cfg,
		gate:     newDetectionGate(cfg),
		notifier: notifier,
		metrics:  m,
		now:      time.Now,
		registry: newTrackRegistry(cfg),
	}
}

// Config returns the effective engine configuration.
func (m *Monitor) Config() Config {
	return m.cfg
}

// Start begins a monitoring session for the given target identity. The
// baseline is always fresh: both last-seen timestamps are set to now and the
// alert latches are cleared, regardless of any previous session.
func (m *Monitor) Start(target string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return "", fmt.Errorf("monitoring already running (session %s)", m.sessionID)
	}

	now := m.now()
	m.registry.reset()
	m.sessionID = uuid.NewString()
	m.target = target
	m.lastSeenAnywhereAt = now
	m.lastSeenInZoneAt = now
	m.wanderingAlertSent = false
	m.disappearedAlertSent = false
	m.dogDetected = false
	m.dogInZone = false
	m.running = true
	m.stop = make(chan struct{})

	m.wg.Add(1)
	go m.run(m.stop)

	if m.metrics != nil {
		m.metrics.MonitorRunning.Store(1)
	}
	logger.Info("Monitor", "Session %s started (target=%s, zone=%d vertices)",
		m.sessionID, target, len(m.zone))
	return m.sessionID, nil
}

// Stop ends the monitoring session: the tick timer is disabled, the tick
// goroutine is joined, and all per-session memory is cleared. No new
// notification is dispatched after Stop returns; a dispatch already in
// flight is not cancelled.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stop)
	sessionID := m.sessionID
	m.mu.Unlock()

	m.wg.Wait()

	m.mu.Lock()
	m.registry.reset()
	m.sessionID = ""
	m.target = ""
	m.dogDetected = false
	m.dogInZone = false
	m.wanderingAlertSent = false
	m.disappearedAlertSent = false
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.MonitorRunning.Store(0)
		m.metrics.TracksActive.Store(0)
	}
	logger.Info("Monitor", "Session %s stopped", sessionID)
}

// SetSafeZone replaces the safe zone. The new ring takes effect on the next
// frame. Rings supplied in pixel coordinates are corrected against the
// configured reference resolution.
func (m *Monitor) SetSafeZone(zone geometry.Polygon) {
	zone = geometry.Normalize(zone, m.cfg.RefWidth, m.cfg.RefHeight)

	m.mu.Lock()
	m.zone = zone
	m.mu.Unlock()

	logger.Info("Monitor", "Safe zone updated (%d vertices)", len(zone))
}

// SafeZone returns the current safe zone.
func (m *Monitor) SafeZone() geometry.Polygon {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(geometry.Polygon, len(m.zone))
	copy(out, m.zone)
	return out
}

// RegisterTrack marks a track id as trusted without requiring inside-hit
// confirmation. The engine never calls this itself.
func (m *Monitor) RegisterTrack(trackID int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.registry.register(trackID)
}

// HandleFrame processes one detector frame to completion. Malformed frames
// are skipped; they never crash the engine or corrupt track state.
func (m *Monitor) HandleFrame(ev types.FrameEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	if ev.FrameWidth <= 0 || ev.FrameHeight <= 0 {
		if m.metrics != nil {
			m.metrics.FramesSkipped.Add(1)
		}
		logger.Debug("Monitor", "Skipping malformed frame (%dx%d)", ev.FrameWidth, ev.FrameHeight)
		return
	}

	now := m.now()
	presenceSeen := false
	inZoneSeen := false

	for _, det := range ev.Detections {
		if !m.gate.passesPresence(det) {
			continue
		}
		presenceSeen = true
		if m.metrics != nil {
			m.metrics.PresenceDetections.Add(1)
		}

		if !m.gate.passesStability(det, m.registry.hits(det.TrackID)) {
			continue
		}
		if m.metrics != nil {
			m.metrics.StableDetections.Add(1)
		}

		inZone := geometry.DetectionInZone(det, ev.FrameWidth, ev.FrameHeight, m.zone)
		m.registry.update(det.TrackID, inZone, now)
		if inZone {
			inZoneSeen = true
		}
	}

	if presenceSeen {
		m.lastSeenAnywhereAt = now
		m.dogDetected = true
	}
	m.dogInZone = inZoneSeen

	if inZoneSeen {
		// An in-zone sighting short-circuits everything else: refresh both
		// timestamps and recover from any latched alert with exactly one
		// returned notification.
		m.lastSeenInZoneAt = now
		if m.wanderingAlertSent || m.disappearedAlertSent {
			m.wanderingAlertSent = false
			m.disappearedAlertSent = false
			m.dispatchLocked(types.AlertReturned, "Your dog is back in the safe zone.")
		}
	} else if presenceSeen && m.disappearedAlertSent {
		// Reappearing outside the zone cancels "disappeared" silently; it
		// does not cancel a latched wandering alert.
		m.disappearedAlertSent = false
	}

	if m.metrics != nil {
		m.metrics.FramesProcessed.Add(1)
		m.metrics.TracksActive.Store(uint64(m.registry.size()))
	}
}

// run drives the periodic elapsed-time evaluation. It is the only place
// alerts based on pure elapsed time (disappearance, wandering) are raised.
func (m *Monitor) run(stop chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

func (m *Monitor) tick() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	now := m.now()

	pruned, demoted := m.registry.prune(now)
	if m.metrics != nil {
		if pruned > 0 {
			m.metrics.TracksPruned.Add(uint64(pruned))
		}
		if demoted > 0 {
			m.metrics.TracksDemoted.Add(uint64(demoted))
		}
		m.metrics.TracksActive.Store(uint64(m.registry.size()))
	}

	sinceAnywhere := now.Sub(m.lastSeenAnywhereAt)
	sinceInZone := now.Sub(m.lastSeenInZoneAt)

	// Disappearance takes priority and short-circuits wandering evaluation
	// for the tick where it fires.
	if sinceAnywhere >= m.cfg.DisappearedTimeout && !m.disappearedAlertSent {
		m.disappearedAlertSent = true
		if m.registry.anyKnownOutside(now) {
			m.dispatchLocked(types.AlertDisappearedAfterOutside,
				"Your dog left the safe zone and is now out of view!")
		} else {
			m.dispatchLocked(types.AlertDisappeared, "Your dog is nowhere to be seen.")
		}
		return
	}

	if !m.wanderingAlertSent && m.dogDetected &&
		sinceInZone >= m.cfg.GlobalOutsideTimeout &&
		m.registry.anyKnownOutsideLonger(m.cfg.PerTrackOutsideTimeout, now) {
		m.wanderingAlertSent = true
		m.dispatchLocked(types.AlertWandering, "Your dog has left the safe zone!")
	}
}

// dispatchLocked hands the notification to the sink without holding up the
// caller: the send runs on its own goroutine and may still be in flight
// while the next frame or tick is evaluated.
func (m *Monitor) dispatchLocked(kind types.AlertKind, text string) {
	if m.metrics != nil {
		m.metrics.CountAlert(kind)
	}
	if m.notifier == nil {
		logger.Warn("Monitor", "No notification sink configured, dropping %s alert", kind)
		return
	}

	logger.Info("Monitor", "Dispatching %s: %s", kind, text)
	n := m.notifier
	go n.Send(kind, text)
}

// Status returns the current monitor state.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	return Status{
		Running:              m.running,
		SessionID:            m.sessionID,
		Target:               m.target,
		DogDetected:          m.dogDetected,
		DogInZone:            m.dogInZone,
		LastSeenAnywhereAt:   m.lastSeenAnywhereAt,
		LastSeenInZoneAt:     m.lastSeenInZoneAt,
		WanderingAlertSent:   m.wanderingAlertSent,
		DisappearedAlertSent: m.disappearedAlertSent,
		ZoneVertices:         len(m.zone),
		ActiveTracks:         m.registry.size(),
	}
}

// Tracks returns a copy of the track registry for status reporting.
func (m *Monitor) Tracks() map[int]TrackEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registry.snapshot()
}
