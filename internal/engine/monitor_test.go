package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dogsight/alert-server/internal/geometry"
	"github.com/dogsight/alert-server/pkg/types"
)

// spyNotifier records dispatched notifications. Dispatch runs on its own
// goroutine, so assertions go through waitCalls / assertNoMoreCalls.
type spyNotifier struct {
	mu    sync.Mutex
	calls []types.AlertKind
}

func (s *spyNotifier) Send(kind types.AlertKind, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, kind)
}

func (s *spyNotifier) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *spyNotifier) count(kind types.AlertKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, k := range s.calls {
		if k == kind {
			n++
		}
	}
	return n
}

func waitCalls(t *testing.T, spy *spyNotifier, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return spy.total() >= n },
		time.Second, 2*time.Millisecond, "expected %d notifications", n)
	assertNoMoreCalls(t, spy, n)
}

func assertNoMoreCalls(t *testing.T, spy *spyNotifier, n int) {
	t.Helper()
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, n, spy.total(), "unexpected extra notifications")
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// newTestMonitor starts a monitor whose periodic tick never fires on its
// own; tests drive tick() directly against the fake clock.
func newTestMonitor(t *testing.T) (*Monitor, *spyNotifier, *fakeClock) {
	t.Helper()

	cfg := DefaultConfig()
	cfg.TickInterval = time.Hour

	spy := &spyNotifier{}
	m := New(cfg, spy, nil)
	clk := &fakeClock{t: time.Unix(1700000000, 0)}
	m.now = clk.now

	// Left half of the frame is the safe zone.
	m.SetSafeZone(geometry.Polygon{{X: 0, Y: 0}, {X: 0.5, Y: 0}, {X: 0.5, Y: 1}, {X: 0, Y: 1}})

	_, err := m.Start("user-1")
	require.NoError(t, err)
	t.Cleanup(m.Stop)

	return m, spy, clk
}

// dogAt builds a dog detection whose bbox center lands at the given
// normalized coordinates in a 640x480 frame.
func dogAt(trackID int, cx, cy float64, hits int) types.Detection {
	px := cx * 640
	py := cy * 480
	return types.Detection{
		TrackID:    trackID,
		ClassName:  "dog",
		Confidence: 0.9,
		BBox:       types.BBox{X1: px - 60, Y1: py - 40, X2: px + 60, Y2: py + 40},
		Area:       9600,
		Hits:       hits,
	}
}

func frame(dets ...types.Detection) types.FrameEvent {
	return types.FrameEvent{FrameWidth: 640, FrameHeight: 480, Detections: dets}
}

// confirmInside feeds enough stable in-zone sightings for the track to be
// confirmed as the monitored pet.
func confirmInside(m *Monitor, clk *fakeClock, trackID int) {
	for i := 0; i < 2; i++ {
		clk.advance(time.Second)
		m.HandleFrame(frame(dogAt(trackID, 0.25, 0.5, 5)))
	}
}

func TestDisappearedAfterSilence(t *testing.T) {
	m, spy, clk := newTestMonitor(t)

	// 11 seconds with zero detections, evaluated at the 5s tick cadence.
	clk.advance(5 * time.Second)
	m.tick()
	assertNoMoreCalls(t, spy, 0)

	clk.advance(6 * time.Second)
	m.tick()
	waitCalls(t, spy, 1)
	assert.Equal(t, 1, spy.count(types.AlertDisappeared))
	assert.Zero(t, spy.count(types.AlertWandering))
	assert.True(t, m.Status().DisappearedAlertSent)

	// The latch holds: further ticks stay silent.
	clk.advance(5 * time.Second)
	m.tick()
	assertNoMoreCalls(t, spy, 1)
}

func TestDisappearedAfterOutsideTakesPriority(t *testing.T) {
	m, spy, clk := newTestMonitor(t)
	confirmInside(m, clk, 1)

	// 20 seconds outside the zone, frames still arriving.
	for i := 0; i < 20; i++ {
		clk.advance(time.Second)
		m.HandleFrame(frame(dogAt(1, 0.75, 0.5, 5)))
	}
	m.tick() // sinceInZone=20s < 30s, nothing fires yet
	assertNoMoreCalls(t, spy, 0)

	// Then the dog vanishes for 10 seconds. The per-track outside run also
	// exceeds its threshold, but disappearance wins the tick.
	clk.advance(10 * time.Second)
	m.tick()
	waitCalls(t, spy, 1)
	assert.Equal(t, 1, spy.count(types.AlertDisappearedAfterOutside))
	assert.Zero(t, spy.count(types.AlertWandering))
}

func TestWanderingThenReturned(t *testing.T) {
	m, spy, clk := newTestMonitor(t)
	confirmInside(m, clk, 1)

	// Outside continuously, frames never stopping.
	for i := 0; i < 16; i++ {
		clk.advance(time.Second)
		m.HandleFrame(frame(dogAt(1, 0.75, 0.5, 5)))
	}
	// The per-track outside run has reached its threshold but the global
	// window is not exhausted yet; both timescales must agree.
	m.tick()
	assertNoMoreCalls(t, spy, 0)

	for i := 0; i < 16; i++ {
		clk.advance(time.Second)
		m.HandleFrame(frame(dogAt(1, 0.75, 0.5, 5)))
	}
	m.tick()
	waitCalls(t, spy, 1)
	assert.Equal(t, 1, spy.count(types.AlertWandering))
	assert.True(t, m.Status().WanderingAlertSent)

	// Repeated qualifying ticks must not re-notify.
	clk.advance(5 * time.Second)
	m.HandleFrame(frame(dogAt(1, 0.75, 0.5, 5)))
	m.tick()
	assertNoMoreCalls(t, spy, 1)

	// Coming home clears the latch with exactly one recovery notification.
	clk.advance(time.Second)
	m.HandleFrame(frame(dogAt(1, 0.25, 0.5, 5)))
	waitCalls(t, spy, 2)
	assert.Equal(t, 1, spy.count(types.AlertReturned))

	st := m.Status()
	assert.False(t, st.WanderingAlertSent)
	assert.False(t, st.DisappearedAlertSent)
	assert.True(t, st.DogInZone)
}

func TestWanderingMayLatchAfterDisappearance(t *testing.T) {
	m, spy, clk := newTestMonitor(t)
	confirmInside(m, clk, 1)

	for i := 0; i < 16; i++ {
		clk.advance(time.Second)
		m.HandleFrame(frame(dogAt(1, 0.75, 0.5, 5)))
	}

	clk.advance(10 * time.Second)
	m.tick()
	waitCalls(t, spy, 1)
	require.Equal(t, 1, spy.count(types.AlertDisappearedAfterOutside))

	// Disappearance only short-circuits the tick where it fires. On the
	// next tick the outside run is still open and the global window has
	// expired, so wandering is free to latch on top.
	clk.advance(5 * time.Second)
	m.tick()
	waitCalls(t, spy, 2)
	assert.Equal(t, 1, spy.count(types.AlertWandering))
	st := m.Status()
	assert.True(t, st.DisappearedAlertSent)
	assert.True(t, st.WanderingAlertSent)

	// Both latches clear with a single recovery notification.
	clk.advance(time.Second)
	m.HandleFrame(frame(dogAt(1, 0.25, 0.5, 5)))
	waitCalls(t, spy, 3)
	assert.Equal(t, 1, spy.count(types.AlertReturned))
	st = m.Status()
	assert.False(t, st.DisappearedAlertSent)
	assert.False(t, st.WanderingAlertSent)
}

func TestReturnedClearsBothLatches(t *testing.T) {
	m, spy, clk := newTestMonitor(t)
	confirmInside(m, clk, 1)

	clk.advance(11 * time.Second)
	m.tick()
	waitCalls(t, spy, 1)
	require.True(t, m.Status().DisappearedAlertSent)

	clk.advance(time.Second)
	m.HandleFrame(frame(dogAt(1, 0.25, 0.5, 5)))
	waitCalls(t, spy, 2)
	assert.Equal(t, 1, spy.count(types.AlertReturned))

	st := m.Status()
	assert.False(t, st.DisappearedAlertSent)
	assert.False(t, st.WanderingAlertSent)
}

func TestReappearingOutsideCancelsDisappearedSilently(t *testing.T) {
	m, spy, clk := newTestMonitor(t)

	clk.advance(11 * time.Second)
	m.tick()
	waitCalls(t, spy, 1)
	require.True(t, m.Status().DisappearedAlertSent)

	// A presence-only sighting outside the zone (not even stable) cancels
	// the disappearance latch without a recovery notification.
	clk.advance(time.Second)
	m.HandleFrame(frame(dogAt(2, 0.75, 0.5, 0)))
	assertNoMoreCalls(t, spy, 1)
	assert.False(t, m.Status().DisappearedAlertSent)
	assert.True(t, m.Status().DogDetected)
}

func TestWanderingRequiresPresence(t *testing.T) {
	m, spy, clk := newTestMonitor(t)

	// With no sighting ever, only disappearance may fire, never wandering.
	clk.advance(31 * time.Second)
	m.tick()
	waitCalls(t, spy, 1)
	assert.Equal(t, 1, spy.count(types.AlertDisappeared))
	assert.Zero(t, spy.count(types.AlertWandering))
}

func TestRegisteredTrackBypassesConfirmation(t *testing.T) {
	m, spy, clk := newTestMonitor(t)
	m.RegisterTrack(5)

	// The allow-listed track is trusted while outside even though it was
	// never confirmed inside.
	for i := 0; i < 31; i++ {
		clk.advance(time.Second)
		m.HandleFrame(frame(dogAt(5, 0.75, 0.5, 5)))
	}
	m.tick()
	waitCalls(t, spy, 1)
	assert.Equal(t, 1, spy.count(types.AlertWandering))
}

func TestMalformedFrameSkipped(t *testing.T) {
	m, spy, clk := newTestMonitor(t)

	clk.advance(time.Second)
	m.HandleFrame(types.FrameEvent{FrameWidth: 0, FrameHeight: 480,
		Detections: []types.Detection{dogAt(1, 0.25, 0.5, 5)}})

	st := m.Status()
	assert.False(t, st.DogDetected)
	assert.Zero(t, st.ActiveTracks)
	assertNoMoreCalls(t, spy, 0)
}

func TestStopAndRestartResetsBaseline(t *testing.T) {
	m, spy, clk := newTestMonitor(t)
	confirmInside(m, clk, 1)

	clk.advance(11 * time.Second)
	m.tick()
	waitCalls(t, spy, 1)

	m.Stop()
	assert.False(t, m.Status().Running)

	// Frames and ticks while stopped are ignored.
	clk.advance(time.Minute)
	m.HandleFrame(frame(dogAt(1, 0.25, 0.5, 5)))
	m.tick()
	assertNoMoreCalls(t, spy, 1)

	// Restart begins from a fresh baseline: no stale flags or timestamps.
	_, err := m.Start("user-1")
	require.NoError(t, err)
	st := m.Status()
	assert.False(t, st.DisappearedAlertSent)
	assert.False(t, st.WanderingAlertSent)
	assert.False(t, st.DogDetected)
	assert.Zero(t, st.ActiveTracks)

	m.tick() // immediately after start nothing has elapsed
	assertNoMoreCalls(t, spy, 1)
}

func TestStartWhileRunningFails(t *testing.T) {
	m, _, _ := newTestMonitor(t)
	_, err := m.Start("user-1")
	assert.Error(t, err)
}

func TestNilNotifierStillLatches(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TickInterval = time.Hour
	m := New(cfg, nil, nil)
	clk := &fakeClock{t: time.Unix(1700000000, 0)}
	m.now = clk.now

	_, err := m.Start("user-1")
	require.NoError(t, err)
	defer m.Stop()

	clk.advance(11 * time.Second)
	m.tick() // must not panic; the latch still engages
	assert.True(t, m.Status().DisappearedAlertSent)
}
