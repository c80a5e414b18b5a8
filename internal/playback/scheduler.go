// Package playback schedules decoded audio chunks for gapless sequential
// output and supports immediate flush on barge-in.
package playback

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/signalsense/voice-engine/internal/audio"
)

// Clock reports the output device's current time in seconds. All cursor
// arithmetic happens in this clock domain.
type Clock interface {
	Now() float64
}

// Handle refers to one scheduled chunk. Stop cancels any audio the chunk has
// not yet produced; it is safe to call more than once.
type Handle interface {
	Stop()
}

// Output is the playback device abstraction. Play schedules pcm samples to
// begin at startAt (device clock) and must invoke done asynchronously when the
// chunk finishes naturally; done must never fire after Stop. Flush discards
// any device-buffered audio that has not reached the speaker yet.
type Output interface {
	Play(chunk audio.PlaybackChunk, startAt float64, done func()) (Handle, error)
	Flush()
	Close() error
}

// Scheduler owns the playback cursor. Chunks arriving faster than real time
// play back-to-back with no gap; chunks arriving late fall back to the current
// device time, accepting a brief silence rather than overlap.
type Scheduler struct {
	clock  Clock
	out    Output
	logger zerolog.Logger

	mu       sync.Mutex
	cursor   float64
	nextID   int
	pending  map[int]Handle
	torndown bool
}

// NewScheduler creates a scheduler with its cursor at the device's current
// time.
func NewScheduler(clock Clock, out Output, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		clock:   clock,
		out:     out,
		logger:  logger,
		cursor:  clock.Now(),
		pending: make(map[int]Handle),
	}
}

// Schedule queues one chunk: startAt = max(cursor, now), then the cursor
// advances by the chunk's duration. Ownership of the chunk transfers to the
// scheduler.
func (s *Scheduler) Schedule(chunk audio.PlaybackChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.torndown {
		return fmt.Errorf("scheduler is torn down")
	}

	startAt := s.cursor
	if now := s.clock.Now(); now > startAt {
		startAt = now
	}

	id := s.nextID
	s.nextID++

	handle, err := s.out.Play(chunk, startAt, func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	})
	if err != nil {
		return fmt.Errorf("schedule chunk: %w", err)
	}

	s.pending[id] = handle
	s.cursor = startAt + chunk.Duration()

	s.logger.Debug().
		Float64("start_at", startAt).
		Float64("duration", chunk.Duration()).
		Int("pending", len(s.pending)).
		Msg("Scheduled playback chunk")
	return nil
}

// Interrupt stops every pending chunk, clears the set, and resets the cursor
// to the current device time. The next chunk schedules relative to real time,
// never to the pre-interruption cursor or a stream-origin zero.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, handle := range s.pending {
		handle.Stop()
		delete(s.pending, id)
	}
	s.out.Flush()
	s.cursor = s.clock.Now()

	s.logger.Debug().Float64("cursor", s.cursor).Msg("Playback flushed")
}

// Pending returns the number of scheduled chunks that have not finished.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Cursor returns the time the next gapless chunk would start at.
func (s *Scheduler) Cursor() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Teardown stops all pending chunks and releases the output device.
// Idempotent; further Schedule calls fail.
func (s *Scheduler) Teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.torndown {
		return
	}
	s.torndown = true

	for id, handle := range s.pending {
		handle.Stop()
		delete(s.pending, id)
	}
	s.out.Flush()
	if err := s.out.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("Closing playback output failed")
	}
}
