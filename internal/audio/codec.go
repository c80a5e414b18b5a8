package audio

import (
	"encoding/base64"
	"fmt"
	"math"
)

// MimeTypePCM16k is the format tag attached to outbound capture frames:
// 16-bit signed little-endian PCM, 16 kHz, mono.
const MimeTypePCM16k = "audio/pcm;rate=16000"

// WireFrame is the encoded form of a capture frame: raw PCM16LE bytes plus the
// format tag the remote service expects. Immutable once constructed.
type WireFrame struct {
	Data     []byte
	MimeType string
}

// PlaybackChunk holds decoded audio samples ready for scheduling, tagged with
// the rate and channel count they were decoded at.
type PlaybackChunk struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// Duration returns the chunk's play time in seconds.
func (c PlaybackChunk) Duration() float64 {
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate*c.Channels)
}

// DecodeError reports a malformed audio payload from the remote service.
// It is recoverable: the offending chunk is dropped and the session continues.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("audio decode: %s", e.Reason)
}

// EncodePCM16 converts internal float samples (-1.0..1.0) to PCM16LE bytes.
// Each sample is rounded to round(s * 32768) and saturated at int16 bounds,
// so out-of-range input never wraps. Deterministic, never fails.
func EncodePCM16(samples []float32) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := math.Round(float64(s) * 32768)
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		n := int16(v)
		data[i*2] = byte(n)
		data[i*2+1] = byte(n >> 8)
	}
	return data
}

// EncodeFrame converts one capture frame to its wire form.
func EncodeFrame(samples []float32) WireFrame {
	return WireFrame{Data: EncodePCM16(samples), MimeType: MimeTypePCM16k}
}

// DecodePCM16 converts raw PCM16LE bytes back to float samples in -1.0..1.0.
// A trailing odd byte is ignored; use DecodeChunk when the payload must
// validate against an expected format.
func DecodePCM16(data []byte) []float32 {
	samples := make([]float32, len(data)/2)
	for i := range samples {
		n := int16(data[i*2]) | int16(data[i*2+1])<<8
		samples[i] = float32(n) / 32768
	}
	return samples
}

// DecodeChunk validates a raw PCM payload against the expected sample rate and
// channel count and decodes it into a playback chunk. The byte length must be
// a whole number of frames (2 bytes per sample per channel).
func DecodeChunk(data []byte, sampleRate, channels int) (PlaybackChunk, error) {
	if sampleRate <= 0 || channels <= 0 {
		return PlaybackChunk{}, &DecodeError{Reason: fmt.Sprintf("invalid format %d Hz / %d ch", sampleRate, channels)}
	}
	frameSize := 2 * channels
	if len(data) == 0 {
		return PlaybackChunk{}, &DecodeError{Reason: "empty payload"}
	}
	if len(data)%frameSize != 0 {
		return PlaybackChunk{}, &DecodeError{
			Reason: fmt.Sprintf("payload length %d is not a multiple of frame size %d", len(data), frameSize),
		}
	}
	return PlaybackChunk{
		Samples:    DecodePCM16(data),
		SampleRate: sampleRate,
		Channels:   channels,
	}, nil
}

// EncodeBase64 wraps binary audio in the text-safe encoding used for transport
// framing.
func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeBase64 reverses EncodeBase64.
func DecodeBase64(s string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, &DecodeError{Reason: fmt.Sprintf("invalid base64 payload: %v", err)}
	}
	return data, nil
}
