package notify

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/dogsight/alert-server/internal/logger"
	"github.com/dogsight/alert-server/internal/metrics"
	"github.com/dogsight/alert-server/pkg/types"
)

// Webhook posts alert messages to the user's notification backend (the
// DogSight backend forwards them as LINE push messages). Delivery is
// best-effort: failures are logged and counted, never retried, and a failed
// delivery does not un-latch the alert that triggered it.
type Webhook struct {
	url     string
	target  string
	client  *http.Client
	metrics *metrics.Metrics
}

// NewWebhook creates a webhook notifier for the given endpoint. m may be nil.
func NewWebhook(url, target string, m *metrics.Metrics) *Webhook {
	return &Webhook{
		url:     url,
		target:  target,
		client:  &http.Client{Timeout: 5 * time.Second},
		metrics: m,
	}
}

type alertPayload struct {
	Kind      string  `json:"kind"`
	Message   string  `json:"message"`
	Target    string  `json:"target,omitempty"`
	Timestamp float64 `json:"timestamp"`
}

// Send delivers one notification. Safe to call concurrently.
func (w *Webhook) Send(kind types.AlertKind, text string) {
	payload := alertPayload{
		Kind:      string(kind),
		Message:   text,
		Target:    w.target,
		Timestamp: float64(time.Now().UnixMilli()) / 1000,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		w.fail("marshal alert: %v", err)
		return
	}

	resp, err := w.client.Post(w.url, "application/json", bytes.NewReader(body))
	if err != nil {
		w.fail("deliver %s alert: %v", kind, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		w.fail("deliver %s alert: backend returned %d", kind, resp.StatusCode)
		return
	}

	logger.Debug("Notify", "Delivered %s notification", kind)
}

func (w *Webhook) fail(format string, args ...interface{}) {
	if w.metrics != nil {
		w.metrics.NotifyErrors.Add(1)
	}
	logger.Warn("Notify", format, args...)
}

// Nop is the sink used when no notification channel is configured.
// Monitoring still runs and tracks state; dispatch just warns.
type Nop struct{}

// Send logs and discards the notification.
func (Nop) Send(kind types.AlertKind, text string) {
	logger.Warn("Notify", "No notification channel configured, dropping %s: %s", kind, text)
}

// Sink is anything that can receive a notification.
type Sink interface {
	Send(kind types.AlertKind, text string)
}

// Multi fans one notification out to several sinks (e.g. webhook + journal).
type Multi []Sink

// Send forwards the notification to every sink in order.
func (m Multi) Send(kind types.AlertKind, text string) {
	for _, sink := range m {
		sink.Send(kind, text)
	}
}

// Switch gates delivery on the user's alert-enabled preference. Monitoring
// and journaling keep running either way; only outbound delivery is held.
type Switch struct {
	mu      sync.RWMutex
	enabled bool
	sink    Sink
}

// NewSwitch wraps sink with an on/off toggle.
func NewSwitch(sink Sink, enabled bool) *Switch {
	return &Switch{sink: sink, enabled: enabled}
}

// SetEnabled toggles delivery.
func (s *Switch) SetEnabled(enabled bool) {
	s.mu.Lock()
	s.enabled = enabled
	s.mu.Unlock()
}

// Enabled reports whether delivery is on.
func (s *Switch) Enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled
}

// SetSink replaces the delivery channel, keeping the toggle state.
func (s *Switch) SetSink(sink Sink) {
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
}

// Send forwards the notification when enabled and drops it otherwise.
func (s *Switch) Send(kind types.AlertKind, text string) {
	s.mu.RLock()
	enabled, sink := s.enabled, s.sink
	s.mu.RUnlock()

	if !enabled {
		logger.Debug("Notify", "Alerts disabled for this user, dropping %s", kind)
		return
	}
	sink.Send(kind, text)
}
