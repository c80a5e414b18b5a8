// Package capture owns the microphone and turns the hardware-paced device
// callback into fixed-size float sample frames.
package capture

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"
)

// DeviceUnavailableError reports that the microphone could not be acquired:
// permission denied, no input device, or a backend initialization failure.
type DeviceUnavailableError struct {
	Err error
}

func (e *DeviceUnavailableError) Error() string {
	return fmt.Sprintf("capture device unavailable: %v", e.Err)
}

func (e *DeviceUnavailableError) Unwrap() error { return e.Err }

// Config sets the capture format.
type Config struct {
	SampleRate int // Hz, mono
	FrameSize  int // samples per emitted frame
}

// Pipeline owns the capture device and the handoff between the real-time
// callback and the consumer. The callback never blocks: completed frames are
// queued on a buffered channel and a dedicated goroutine delivers them to the
// sink; if the queue is ever full the frame is dropped and counted, because a
// stalled callback corrupts subsequent capture timing.
type Pipeline struct {
	logger zerolog.Logger

	ctx    *malgo.AllocatedContext
	device *malgo.Device

	frames  chan []float32
	done    chan struct{}
	dropped atomic.Int64

	stopOnce sync.Once
}

// Start acquires the microphone and begins delivering frames to sink on a
// dedicated goroutine. Every exit path of a failed Start releases whatever was
// acquired before the failure.
func Start(cfg Config, logger zerolog.Logger, sink func([]float32)) (*Pipeline, error) {
	ctxCfg := malgo.ContextConfig{}
	ctxCfg.ThreadPriority = malgo.ThreadPriorityRealtime

	mctx, err := malgo.InitContext(nil, ctxCfg, nil)
	if err != nil {
		return nil, &DeviceUnavailableError{Err: fmt.Errorf("init audio context: %w", err)}
	}

	p := &Pipeline{
		logger: logger,
		ctx:    mctx,
		frames: make(chan []float32, 8),
		done:   make(chan struct{}),
	}
	asm := newAssembler(cfg.FrameSize)

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			asm.push(input, func(frame []float32) {
				select {
				case p.frames <- frame:
				default:
					p.dropped.Add(1)
				}
			})
		},
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		return nil, &DeviceUnavailableError{Err: fmt.Errorf("init capture device: %w", err)}
	}
	p.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		return nil, &DeviceUnavailableError{Err: fmt.Errorf("start capture device: %w", err)}
	}

	go p.deliver(sink)

	logger.Info().
		Int("sample_rate", cfg.SampleRate).
		Int("frame_size", cfg.FrameSize).
		Msg("Capture pipeline started")
	return p, nil
}

// deliver drains the frame queue toward the sink, off the real-time thread.
func (p *Pipeline) deliver(sink func([]float32)) {
	for {
		select {
		case frame := <-p.frames:
			sink(frame)
		case <-p.done:
			return
		}
	}
}

// Dropped returns how many frames were discarded because the consumer fell
// behind the hardware clock.
func (p *Pipeline) Dropped() int64 {
	return p.dropped.Load()
}

// Stop disconnects the callback and releases the device. Idempotent.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
		if err := p.device.Stop(); err != nil {
			p.logger.Warn().Err(err).Msg("Stopping capture device failed")
		}
		p.device.Uninit()
		if err := p.ctx.Uninit(); err != nil {
			p.logger.Warn().Err(err).Msg("Releasing audio context failed")
		}
		if n := p.dropped.Load(); n > 0 {
			p.logger.Warn().Int64("frames", n).Msg("Capture frames dropped during session")
		}
		p.logger.Info().Msg("Capture pipeline stopped")
	})
}
