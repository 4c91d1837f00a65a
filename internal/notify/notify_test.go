package notify

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dogsight/alert-server/internal/metrics"
	"github.com/dogsight/alert-server/pkg/types"
)

func TestWebhookSendPostsPayload(t *testing.T) {
	var got alertPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &got))
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, "user-1", nil)
	w.Send(types.AlertWandering, "Your dog has left the safe zone!")

	assert.Equal(t, "wandering", got.Kind)
	assert.Equal(t, "Your dog has left the safe zone!", got.Message)
	assert.Equal(t, "user-1", got.Target)
	assert.NotZero(t, got.Timestamp)
}

func TestWebhookSendCountsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	m := metrics.New()
	w := NewWebhook(srv.URL, "user-1", m)
	w.Send(types.AlertDisappeared, "gone")
	assert.Equal(t, uint64(1), m.NotifyErrors.Load())

	// Unreachable endpoint counts too, and Send still returns.
	w = NewWebhook("http://127.0.0.1:0/hook", "user-1", m)
	w.Send(types.AlertDisappeared, "gone")
	assert.Equal(t, uint64(2), m.NotifyErrors.Load())
}

type recordingSink struct {
	kinds []types.AlertKind
}

func (r *recordingSink) Send(kind types.AlertKind, text string) {
	r.kinds = append(r.kinds, kind)
}

func TestMultiFansOut(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{}

	Multi{a, b}.Send(types.AlertReturned, "back")

	assert.Equal(t, []types.AlertKind{types.AlertReturned}, a.kinds)
	assert.Equal(t, []types.AlertKind{types.AlertReturned}, b.kinds)
}

func TestSwitchGatesWebhookDelivery(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	sw := NewSwitch(NewWebhook(srv.URL, "user-1", nil), false)
	assert.False(t, sw.Enabled())

	sw.Send(types.AlertWandering, "held")
	assert.Zero(t, calls.Load(), "disabled user must not trigger a webhook call")

	sw.SetEnabled(true)
	sw.Send(types.AlertWandering, "delivered")
	assert.Equal(t, int32(1), calls.Load())

	sw.SetEnabled(false)
	sw.Send(types.AlertDisappeared, "held again")
	assert.Equal(t, int32(1), calls.Load())
}

func TestSwitchSetSinkKeepsToggle(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{}

	sw := NewSwitch(a, true)
	sw.Send(types.AlertWandering, "first")

	sw.SetSink(b)
	sw.Send(types.AlertReturned, "second")

	assert.Equal(t, []types.AlertKind{types.AlertWandering}, a.kinds)
	assert.Equal(t, []types.AlertKind{types.AlertReturned}, b.kinds)
}

func TestNopSendDoesNotPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		Nop{}.Send(types.AlertWandering, "dropped")
	})
}
