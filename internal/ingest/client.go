package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/dogsight/alert-server/internal/logger"
	"github.com/dogsight/alert-server/internal/metrics"
	"github.com/dogsight/alert-server/pkg/types"
)

const (
	defaultInitialBackoff = time.Second
	defaultMaxBackoff     = 30 * time.Second
)

// FrameSink consumes parsed detector frames.
type FrameSink interface {
	HandleFrame(types.FrameEvent)
}

// MediaSink consumes H.264 access units for live sharing. Optional.
type MediaSink interface {
	SendSample(types.MediaSample)
}

// Client maintains a websocket connection to the detector daemon. Text
// messages carry JSON frame events; binary messages carry H.264 access
// units. The connection is re-established with exponential backoff; the
// detector owns the cadence and any backpressure.
type Client struct {
	url     string
	frames  FrameSink
	media   MediaSink
	metrics *metrics.Metrics

	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// New creates an ingest client. media and m may be nil.
func New(url string, frames FrameSink, media MediaSink, m *metrics.Metrics) *Client {
	return &Client{
		url:            url,
		frames:         frames,
		media:          media,
		metrics:        m,
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
	}
}

// Run connects and consumes events until ctx is cancelled.
func (c *Client) Run(ctx context.Context) {
	backoff := c.initialBackoff

	for {
		if ctx.Err() != nil {
			return
		}

		connected, err := c.consume(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			// A session that made it past the handshake restarts the
			// backoff schedule; only consecutive dial failures escalate.
			backoff = c.initialBackoff
		}
		if err != nil {
			logger.Warn("Ingest", "Detector connection lost: %v (retrying in %v)", err, backoff)
			if c.metrics != nil {
				c.metrics.IngestErrors.Add(1)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
	}
}

// consume reports whether the dial succeeded along with the terminal error.
func (c *Client) consume(ctx context.Context) (bool, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return false, errors.Wrap(err, "dial detector")
	}
	defer conn.Close()

	logger.Info("Ingest", "Connected to detector at %s", c.url)
	if c.metrics != nil {
		c.metrics.IngestReconnects.Add(1)
	}

	// Close the socket when the context ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return true, errors.Wrap(err, "read detector message")
		}

		switch msgType {
		case websocket.TextMessage:
			c.handleFrameEvent(data)
		case websocket.BinaryMessage:
			if c.media != nil {
				c.media.SendSample(types.MediaSample{Data: data, Timestamp: time.Now()})
			}
		}
	}
}

// handleFrameEvent parses and forwards one frame event. Malformed payloads
// are skipped and counted, never fatal.
func (c *Client) handleFrameEvent(data []byte) {
	var ev types.FrameEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		logger.Debug("Ingest", "Skipping unparseable frame event: %v", err)
		if c.metrics != nil {
			c.metrics.FramesSkipped.Add(1)
		}
		return
	}

	c.frames.HandleFrame(ev)
}
