package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/signalsense/voice-engine/internal/audio"
)

// defaultConnectTimeout bounds the dial and the wait for the opened frame when
// the caller's context carries no deadline of its own.
const defaultConnectTimeout = 15 * time.Second

// Config describes one live session's connection parameters.
type Config struct {
	URL          string
	APIKey       string
	Model        string
	Voice        string
	SystemPrompt string

	// InputSampleRate/OutputSampleRate declare the PCM formats of the two
	// directions in the setup frame (16 kHz capture, 24 kHz playback).
	InputSampleRate  int
	OutputSampleRate int
}

// ConnectError reports a failed connection attempt: remote unreachable,
// rejected setup, or an unexpected first frame.
type ConnectError struct {
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect to live service: %v", e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Channel is a duplex, message-oriented connection to the remote inference
// service. The send and receive directions are independent: Send may be called
// from the encode path while inbound events are being read, and neither blocks
// the other.
type Channel struct {
	conn   *websocket.Conn
	logger zerolog.Logger

	events  chan Event
	done    chan struct{} // closed when the read loop exits
	closing chan struct{} // closed by Close to unblock event delivery

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
}

// Connect dials the remote service, sends the setup frame, and waits for the
// opened frame. The returned channel is streaming events once Connect returns.
// Close is always safe to call on the result of a successful Connect.
func Connect(ctx context.Context, cfg Config, logger zerolog.Logger) (*Channel, error) {
	if cfg.URL == "" {
		return nil, &ConnectError{Err: fmt.Errorf("service URL is empty")}
	}

	dialCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, defaultConnectTimeout)
		defer cancel()
	}

	headers := make(http.Header)
	if cfg.APIKey != "" {
		headers.Set("Authorization", "Bearer "+cfg.APIKey)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, cfg.URL, headers)
	if err != nil {
		if resp != nil {
			return nil, &ConnectError{Err: fmt.Errorf("dial failed (status %d): %w", resp.StatusCode, err)}
		}
		return nil, &ConnectError{Err: err}
	}

	setup := clientSetup{
		Type:         "setup",
		Model:        cfg.Model,
		Voice:        cfg.Voice,
		SystemPrompt: cfg.SystemPrompt,
		AudioIn: audioFormat{
			Encoding:     "pcm_s16le",
			SampleRateHz: cfg.InputSampleRate,
			Channels:     1,
		},
		AudioOut: audioFormat{
			Encoding:     "pcm_s16le",
			SampleRateHz: cfg.OutputSampleRate,
			Channels:     1,
		},
	}
	if err := conn.WriteJSON(setup); err != nil {
		_ = conn.Close()
		return nil, &ConnectError{Err: fmt.Errorf("send setup: %w", err)}
	}

	// The remote signals readiness with an opened frame before anything else.
	deadline, ok := dialCtx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultConnectTimeout)
	}
	_ = conn.SetReadDeadline(deadline)
	_, payload, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, &ConnectError{Err: fmt.Errorf("read opened frame: %w", err)}
	}
	_ = conn.SetReadDeadline(time.Time{})

	first, err := decodeEvent(payload)
	if err != nil {
		_ = conn.Close()
		return nil, &ConnectError{Err: err}
	}
	switch e := first.(type) {
	case OpenedEvent:
		// Ready to stream.
	case ErrorEvent:
		_ = conn.Close()
		return nil, &ConnectError{Err: fmt.Errorf("remote rejected session: %s", e.Message)}
	default:
		_ = conn.Close()
		return nil, &ConnectError{Err: fmt.Errorf("unexpected first frame %q", e.eventType())}
	}

	c := &Channel{
		conn:    conn,
		logger:  logger,
		events:  make(chan Event, 256),
		done:    make(chan struct{}),
		closing: make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Events yields inbound server events in arrival order. The channel is closed
// when the connection ends, after a final ErrorEvent or ClosedEvent.
func (c *Channel) Events() <-chan Event {
	return c.events
}

// Send transmits one encoded capture frame. Frames are delivered to the remote
// in the order sent. Safe to call concurrently with event handling; fails once
// the channel is closed.
func (c *Channel) Send(frame audio.WireFrame) error {
	if c.closed.Load() {
		return fmt.Errorf("channel is closed")
	}
	msg := clientAudioFrame{
		Type:     "audio_frame",
		MimeType: frame.MimeType,
		DataB64:  audio.EncodeBase64(frame.Data),
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(msg)
}

// Close terminates both directions. Idempotent, and safe to call at any time,
// including while the read loop is mid-delivery.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.closing)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(2*time.Second),
		)
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
	<-c.done
	return nil
}

func (c *Channel) readLoop() {
	defer close(c.done)
	defer close(c.events)

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if c.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.deliver(ClosedEvent{})
				return
			}
			c.logger.Warn().Err(err).Msg("Transport read failed")
			c.deliver(ErrorEvent{Message: err.Error()})
			return
		}

		event, err := decodeEvent(payload)
		if err != nil {
			// An undecodable audio payload costs one chunk, not the session.
			var decodeErr *audio.DecodeError
			if errors.As(err, &decodeErr) {
				c.logger.Warn().Err(err).Msg("Dropped undecodable audio frame")
				continue
			}
			// Anything else is a protocol violation.
			c.logger.Error().Err(err).Msg("Malformed server frame")
			c.deliver(ErrorEvent{Message: err.Error()})
			return
		}
		if _, ok := event.(OpenedEvent); ok {
			// Already consumed during Connect; a duplicate is harmless.
			continue
		}
		c.deliver(event)
		switch event.(type) {
		case ClosedEvent, ErrorEvent:
			// Both end the stream; a remote error is terminal for the session.
			return
		}
	}
}

// deliver hands an event to the consumer without ever dropping it; Close
// unblocks a stalled delivery.
func (c *Channel) deliver(event Event) {
	select {
	case c.events <- event:
	case <-c.closing:
	}
}
