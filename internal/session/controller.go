// Package session ties capture, transport, playback, and transcript handling
// into one live conversation lifecycle.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/signalsense/voice-engine/internal/audio"
	"github.com/signalsense/voice-engine/internal/capture"
	"github.com/signalsense/voice-engine/internal/config"
	"github.com/signalsense/voice-engine/internal/observability"
	"github.com/signalsense/voice-engine/internal/playback"
	"github.com/signalsense/voice-engine/internal/transcript"
	"github.com/signalsense/voice-engine/internal/transport"
)

// State is the controller's lifecycle position.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateActive     State = "active"
)

// ErrSessionActive is returned by Start when a session is already connecting
// or running.
var ErrSessionActive = errors.New("session already active")

// Channel is the duplex connection to the remote service.
type Channel interface {
	Events() <-chan transport.Event
	Send(frame audio.WireFrame) error
	Close() error
}

// Capture is the running microphone pipeline.
type Capture interface {
	Stop()
	Dropped() int64
}

// Scheduler is the playback side.
type Scheduler interface {
	Schedule(chunk audio.PlaybackChunk) error
	Interrupt()
	Teardown()
}

// Deps holds the constructors for the session's three resources. Production
// code uses Defaults; tests substitute fakes.
type Deps struct {
	Connect      func(ctx context.Context, cfg transport.Config, logger zerolog.Logger) (Channel, error)
	StartCapture func(cfg capture.Config, logger zerolog.Logger, sink func([]float32)) (Capture, error)
	OpenPlayback func(sampleRate int, logger zerolog.Logger) (Scheduler, error)
}

// Defaults returns the production wiring: real microphone, real speaker, real
// websocket.
func Defaults() Deps {
	return Deps{
		Connect: func(ctx context.Context, cfg transport.Config, logger zerolog.Logger) (Channel, error) {
			return transport.Connect(ctx, cfg, logger)
		},
		StartCapture: func(cfg capture.Config, logger zerolog.Logger, sink func([]float32)) (Capture, error) {
			return capture.Start(cfg, logger, sink)
		},
		OpenPlayback: func(sampleRate int, logger zerolog.Logger) (Scheduler, error) {
			device, err := playback.OpenDevice(sampleRate)
			if err != nil {
				return nil, err
			}
			return playback.NewScheduler(device, device, logger), nil
		},
	}
}

// Entry re-exports the transcript entry type for snapshot consumers.
type Entry = transcript.Entry

// Snapshot is a point-in-time view of the session for status surfaces.
type Snapshot struct {
	State        State   `json:"state"`
	SessionID    string  `json:"session_id,omitempty"`
	Connecting   bool    `json:"connecting"`
	Connected    bool    `json:"connected"`
	Muted        bool    `json:"muted"`
	UserSpeaking bool    `json:"user_speaking"`
	Transcript   []Entry `json:"transcript"`
	Error        string  `json:"error,omitempty"`
}

// Controller owns at most one live session at a time. It outlives individual
// sessions: after End the controller is idle and Start may be called again.
type Controller struct {
	cfg    *config.Config
	logger zerolog.Logger
	deps   Deps

	mu      sync.Mutex
	state   State
	sess    *liveSession
	entries []Entry
	lastErr error
}

// liveSession bundles the resources of one Start..End span.
type liveSession struct {
	id        string
	channel   Channel
	pipeline  Capture
	scheduler Scheduler
	acc       *transcript.Accumulator
	meter     *audio.ActivityMeter
	metrics   *observability.Metrics
	logger    zerolog.Logger

	muted    atomic.Bool
	speaking atomic.Bool
	endOnce  sync.Once
	done     chan struct{} // closed when the event loop exits
}

// NewController creates an idle controller.
func NewController(cfg *config.Config, logger zerolog.Logger, deps Deps) *Controller {
	return &Controller{
		cfg:    cfg,
		logger: logger,
		deps:   deps,
		state:  StateIdle,
	}
}

// Start connects to the remote service and begins streaming microphone audio.
// Acquisition order: playback, connection, capture. Any failure releases
// whatever was already acquired and returns the controller to idle with the
// error recorded.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrSessionActive
	}
	c.state = StateConnecting
	c.lastErr = nil
	c.mu.Unlock()

	id := observability.NewSessionID()
	logger := c.logger.With().Str("session_id", id).Logger()

	sess := &liveSession{
		id:      id,
		acc:     transcript.NewAccumulator(),
		meter:   audio.NewActivityMeter(audio.ActivityConfig{EnergyThreshold: c.cfg.ActivityEnergyThreshold, SilenceFrames: c.cfg.ActivitySilenceFrames}),
		metrics: observability.NewSessionMetrics(id),
		logger:  logger,
		done:    make(chan struct{}),
	}

	fail := func(err error) error {
		if sess.scheduler != nil {
			sess.scheduler.Teardown()
		}
		if sess.channel != nil {
			_ = sess.channel.Close()
		}
		c.mu.Lock()
		c.state = StateIdle
		c.lastErr = err
		c.mu.Unlock()
		logger.Error().Err(err).Msg("Session start failed")
		return err
	}

	scheduler, err := c.deps.OpenPlayback(c.cfg.PlaybackSampleRate, logger)
	if err != nil {
		return fail(fmt.Errorf("open playback: %w", err))
	}
	sess.scheduler = scheduler

	channel, err := c.deps.Connect(ctx, transport.Config{
		URL:              c.cfg.ServiceURL,
		APIKey:           c.cfg.ServiceAPIKey,
		Model:            c.cfg.Model,
		Voice:            c.cfg.Voice,
		SystemPrompt:     c.cfg.SystemPrompt,
		InputSampleRate:  c.cfg.CaptureSampleRate,
		OutputSampleRate: c.cfg.PlaybackSampleRate,
	}, logger)
	if err != nil {
		return fail(err)
	}
	sess.channel = channel

	pipeline, err := c.deps.StartCapture(capture.Config{
		SampleRate: c.cfg.CaptureSampleRate,
		FrameSize:  c.cfg.FrameSize,
	}, logger, sess.captureSink)
	if err != nil {
		return fail(err)
	}
	sess.pipeline = pipeline

	c.mu.Lock()
	c.sess = sess
	c.state = StateActive
	c.mu.Unlock()

	sess.metrics.RecordSessionStart()
	go c.eventLoop(sess)

	logger.Info().Msg("Session active")
	return nil
}

// captureSink receives assembled microphone frames off the real-time thread.
// While muted, frames are still captured but discarded here, before encoding.
func (s *liveSession) captureSink(frame []float32) {
	speaking, started, ended := s.meter.Process(frame)
	s.speaking.Store(speaking)
	if started {
		s.logger.Debug().Msg("User speech started")
	}
	if ended {
		s.logger.Debug().Msg("User speech ended")
	}

	if s.muted.Load() {
		s.metrics.RecordFrameMuted()
		return
	}

	wf := audio.EncodeFrame(frame)
	if err := s.channel.Send(wf); err != nil {
		// Expected during teardown; the event loop handles real failures.
		s.logger.Debug().Err(err).Msg("Frame send failed")
		return
	}
	s.metrics.RecordFrameSent(len(wf.Data))
}

// eventLoop consumes inbound events until the connection ends.
func (c *Controller) eventLoop(sess *liveSession) {
	defer close(sess.done)

	for event := range sess.channel.Events() {
		switch e := event.(type) {
		case transport.AudioChunkEvent:
			chunk, err := audio.DecodeChunk(e.Data, c.cfg.PlaybackSampleRate, 1)
			if err != nil {
				// One bad chunk is dropped; the session keeps going.
				sess.logger.Warn().Err(err).Msg("Dropped undecodable audio chunk")
				sess.metrics.RecordDecodeError()
				continue
			}
			if err := sess.scheduler.Schedule(chunk); err != nil {
				sess.logger.Warn().Err(err).Msg("Chunk scheduling failed")
				continue
			}
			sess.metrics.RecordChunkScheduled(len(e.Data))

		case transport.InputTranscriptDeltaEvent:
			sess.acc.AddInput(e.Text)

		case transport.OutputTranscriptDeltaEvent:
			sess.acc.AddOutput(e.Text)

		case transport.TurnCompleteEvent:
			entries := sess.acc.EndTurn()
			if len(entries) > 0 {
				c.mu.Lock()
				c.entries = append(c.entries, entries...)
				c.mu.Unlock()
			}
			sess.metrics.RecordTurnComplete()
			sess.logger.Debug().Int("entries", len(entries)).Msg("Turn complete")

		case transport.InterruptedEvent:
			sess.scheduler.Interrupt()
			sess.metrics.RecordInterruption()
			sess.logger.Info().Msg("Playback interrupted by barge-in")

		case transport.ErrorEvent:
			// A remote error is terminal: record it and run the same teardown
			// path as a local End.
			sess.logger.Error().Str("message", e.Message).Msg("Session error from service")
			sess.metrics.RecordError("remote", "transport")
			c.mu.Lock()
			c.lastErr = fmt.Errorf("session error: %s", e.Message)
			c.mu.Unlock()
			c.teardown(sess)
			return

		case transport.ClosedEvent:
			sess.logger.Info().Msg("Connection closed by remote")
		}
	}

	// The stream is over, whether by error, remote close, or local End.
	c.teardown(sess)
}

// End terminates the session: capture first so no new frames chase a dying
// connection, then the connection, then playback. Idempotent; safe while the
// event loop is still draining.
func (c *Controller) End() {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return
	}

	c.teardown(sess)
	<-sess.done
}

func (c *Controller) teardown(sess *liveSession) {
	sess.endOnce.Do(func() {
		if sess.pipeline != nil {
			sess.pipeline.Stop()
			if n := sess.pipeline.Dropped(); n > 0 {
				sess.metrics.RecordFramesDropped(n)
			}
		}
		_ = sess.channel.Close()
		sess.scheduler.Teardown()
		sess.metrics.RecordSessionEnd()

		c.mu.Lock()
		c.sess = nil
		c.state = StateIdle
		c.mu.Unlock()

		sess.logger.Info().Msg("Session ended")
	})
}

// Play schedules a locally produced chunk, such as one-shot synthesis output,
// on the active session's speaker.
func (c *Controller) Play(chunk audio.PlaybackChunk) error {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return errors.New("no active session")
	}
	return sess.scheduler.Schedule(chunk)
}

// SetMuted discards microphone frames before encoding while leaving capture
// and playback running.
func (c *Controller) SetMuted(muted bool) {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess != nil {
		sess.muted.Store(muted)
		sess.logger.Info().Bool("muted", muted).Msg("Mute changed")
	}
}

// ToggleMute flips the mute flag and returns the new value. False when no
// session is running.
func (c *Controller) ToggleMute() bool {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return false
	}
	muted := !sess.muted.Load()
	sess.muted.Store(muted)
	sess.logger.Info().Bool("muted", muted).Msg("Mute changed")
	return muted
}

// Muted reports the current mute flag.
func (c *Controller) Muted() bool {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	return sess != nil && sess.muted.Load()
}

// Transcript returns a copy of all finalized entries, oldest first.
func (c *Controller) Transcript() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Snapshot returns the current view for status surfaces.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		State:      c.state,
		Connecting: c.state == StateConnecting,
		Connected:  c.state == StateActive,
		Transcript: append([]Entry(nil), c.entries...),
	}
	if c.sess != nil {
		snap.SessionID = c.sess.id
		snap.Muted = c.sess.muted.Load()
		snap.UserSpeaking = c.sess.speaking.Load()
	}
	if c.lastErr != nil {
		snap.Error = c.lastErr.Error()
	}
	return snap
}
