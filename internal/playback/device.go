package playback

import (
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/signalsense/voice-engine/internal/audio"
)

// The oto context is process-global and can only be initialized once, so it is
// shared across sessions; each session gets its own player and ring buffer.
var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoErr  error
)

func sharedContext(sampleRate int) (*oto.Context, error) {
	otoOnce.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: 1,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   100 * time.Millisecond,
		})
		if err != nil {
			otoErr = err
			return
		}
		<-ready
		otoCtx = ctx
	})
	return otoCtx, otoErr
}

// Device is the real speaker output. A single oto player drains a ring buffer
// at the device rate; chunks are committed to the ring by per-chunk start
// timers, which keeps the Play/Stop handle semantics explicit while the
// hardware side stays a plain pull loop.
type Device struct {
	player     *oto.Player
	ring       *audio.RingBuffer
	sampleRate int
	start      time.Time

	mu     sync.Mutex
	closed bool
}

// OpenDevice opens the speaker at the given rate (mono PCM16).
func OpenDevice(sampleRate int) (*Device, error) {
	ctx, err := sharedContext(sampleRate)
	if err != nil {
		return nil, fmt.Errorf("open playback device: %w", err)
	}

	// Ring sized for several seconds of audio so bursts of fast-arriving
	// chunks never truncate.
	ring := audio.NewRingBuffer(sampleRate * 2 * 10)
	d := &Device{
		ring:       ring,
		sampleRate: sampleRate,
		start:      time.Now(),
	}
	d.player = ctx.NewPlayer(&silenceFillReader{ring: ring})
	d.player.Play()
	return d, nil
}

// Now implements Clock: seconds since the device opened, monotonic. This is
// the same clock the start timers run against, so scheduler arithmetic and
// actual playback share one domain.
func (d *Device) Now() float64 {
	return time.Since(d.start).Seconds()
}

// Play arms a timer that commits the chunk's PCM bytes to the ring at startAt
// and a second timer that reports natural completion.
func (d *Device) Play(chunk audio.PlaybackChunk, startAt float64, done func()) (Handle, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, fmt.Errorf("playback device is closed")
	}
	d.mu.Unlock()

	pcm := audio.EncodePCM16(chunk.Samples)
	delay := time.Duration((startAt - d.Now()) * float64(time.Second))
	if delay < 0 {
		delay = 0
	}

	h := &deviceHandle{}
	h.startTimer = time.AfterFunc(delay, func() {
		h.mu.Lock()
		if h.stopped {
			h.mu.Unlock()
			return
		}
		h.started = true
		h.mu.Unlock()

		if n := d.ring.Write(pcm); n < len(pcm) {
			// Ring overflow: the remainder is lost, which audibly truncates
			// this chunk but cannot corrupt later ones.
			return
		}
	})
	h.doneTimer = time.AfterFunc(delay+chunkDuration(chunk), func() {
		h.mu.Lock()
		stopped := h.stopped
		h.mu.Unlock()
		if !stopped {
			done()
		}
	})
	return h, nil
}

// Flush discards everything queued in the ring that has not reached the
// speaker.
func (d *Device) Flush() {
	d.ring.Clear()
}

// Close stops the player. The shared oto context stays alive for the next
// session.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	d.ring.Clear()
	return d.player.Close()
}

func chunkDuration(chunk audio.PlaybackChunk) time.Duration {
	return time.Duration(chunk.Duration() * float64(time.Second))
}

// deviceHandle cancels the chunk's timers. Audio already committed to the
// ring is removed by Device.Flush, which interruption always pairs with.
type deviceHandle struct {
	mu         sync.Mutex
	startTimer *time.Timer
	doneTimer  *time.Timer
	started    bool
	stopped    bool
}

func (h *deviceHandle) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.stopped = true
	h.startTimer.Stop()
	h.doneTimer.Stop()
}

// silenceFillReader feeds the oto player: buffered audio when available,
// silence otherwise, so the player never starves or stalls the device clock.
type silenceFillReader struct {
	ring *audio.RingBuffer
}

func (r *silenceFillReader) Read(p []byte) (int, error) {
	n := r.ring.Read(p)
	if n == 0 {
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}
	return n, nil
}
