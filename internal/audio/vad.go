package audio

import "math"

// ActivityConfig tunes the capture-side speech activity meter.
type ActivityConfig struct {
	// EnergyThreshold is the RMS level (0..1 scale, matching the engine's
	// float sample representation) above which a frame counts as speech.
	EnergyThreshold float64
	// SilenceFrames is the number of consecutive quiet frames after which
	// speech is considered ended.
	SilenceFrames int
}

// DefaultActivityConfig returns thresholds tuned for 4096-sample frames at
// 16 kHz from a typical close microphone.
func DefaultActivityConfig() ActivityConfig {
	return ActivityConfig{
		EnergyThreshold: 0.015,
		SilenceFrames:   4, // ~1s of silence at 256ms per frame
	}
}

// ActivityMeter detects speech start/end transitions over capture frames.
// It is informational only: the remote service does its own endpointing, the
// meter just drives logging and metrics.
type ActivityMeter struct {
	cfg      ActivityConfig
	quiet    int
	speaking bool
}

// NewActivityMeter creates a meter; non-positive config fields fall back to
// defaults.
func NewActivityMeter(cfg ActivityConfig) *ActivityMeter {
	if cfg.EnergyThreshold <= 0 {
		cfg.EnergyThreshold = DefaultActivityConfig().EnergyThreshold
	}
	if cfg.SilenceFrames <= 0 {
		cfg.SilenceFrames = DefaultActivityConfig().SilenceFrames
	}
	return &ActivityMeter{cfg: cfg}
}

// Process updates the meter with one frame and reports transitions.
func (m *ActivityMeter) Process(samples []float32) (speaking, started, ended bool) {
	loud := RMS(samples) > m.cfg.EnergyThreshold

	if loud {
		m.quiet = 0
		if !m.speaking {
			m.speaking = true
			started = true
		}
	} else {
		m.quiet++
		if m.speaking && m.quiet >= m.cfg.SilenceFrames {
			m.speaking = false
			m.quiet = 0
			ended = true
		}
	}
	return m.speaking, started, ended
}

// Speaking reports whether the meter currently detects speech.
func (m *ActivityMeter) Speaking() bool {
	return m.speaking
}

// Reset returns the meter to its initial quiet state.
func (m *ActivityMeter) Reset() {
	m.quiet = 0
	m.speaking = false
}

// RMS computes the root mean square level of float samples.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
