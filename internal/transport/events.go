package transport

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/signalsense/voice-engine/internal/audio"
)

// Event is one tagged message received from the remote inference service.
// Exactly one concrete variant is active per received wire frame; the session
// controller dispatches on the concrete type.
type Event interface {
	eventType() string
}

// OpenedEvent signals the remote is ready; Connect consumes it internally.
type OpenedEvent struct{}

func (OpenedEvent) eventType() string { return "opened" }

// AudioChunkEvent carries a chunk of synthesized assistant audio
// (raw PCM16LE after base64 decode, 24 kHz mono).
type AudioChunkEvent struct {
	Data []byte
}

func (AudioChunkEvent) eventType() string { return "audio" }

// InputTranscriptDeltaEvent carries a partial transcript of the user's speech.
type InputTranscriptDeltaEvent struct {
	Text string
}

func (InputTranscriptDeltaEvent) eventType() string { return "input_transcript" }

// OutputTranscriptDeltaEvent carries a partial transcript of the assistant's
// speech.
type OutputTranscriptDeltaEvent struct {
	Text string
}

func (OutputTranscriptDeltaEvent) eventType() string { return "output_transcript" }

// TurnCompleteEvent marks the boundary of one exchange; accumulated partial
// transcripts are finalized when it arrives.
type TurnCompleteEvent struct{}

func (TurnCompleteEvent) eventType() string { return "turn_complete" }

// InterruptedEvent signals barge-in: the user started speaking while assistant
// audio was still playing, and scheduled playback must flush immediately.
type InterruptedEvent struct{}

func (InterruptedEvent) eventType() string { return "interrupted" }

// ErrorEvent carries a remote-reported failure. Fatal for the session.
type ErrorEvent struct {
	Message string
}

func (ErrorEvent) eventType() string { return "error" }

// ClosedEvent signals the remote ended the session.
type ClosedEvent struct{}

func (ClosedEvent) eventType() string { return "closed" }

// serverFrame is the wire envelope for every inbound message.
type serverFrame struct {
	Type    string `json:"type"`
	DataB64 string `json:"data_b64,omitempty"`
	Text    string `json:"text,omitempty"`
	Message string `json:"message,omitempty"`
}

// decodeEvent parses one inbound text frame into its Event variant.
func decodeEvent(data []byte) (Event, error) {
	var frame serverFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("decode server frame: %w", err)
	}

	switch strings.TrimSpace(frame.Type) {
	case "opened":
		return OpenedEvent{}, nil
	case "audio":
		payload, err := audio.DecodeBase64(frame.DataB64)
		if err != nil {
			return nil, fmt.Errorf("decode audio frame: %w", err)
		}
		return AudioChunkEvent{Data: payload}, nil
	case "input_transcript":
		return InputTranscriptDeltaEvent{Text: frame.Text}, nil
	case "output_transcript":
		return OutputTranscriptDeltaEvent{Text: frame.Text}, nil
	case "turn_complete":
		return TurnCompleteEvent{}, nil
	case "interrupted":
		return InterruptedEvent{}, nil
	case "error":
		return ErrorEvent{Message: frame.Message}, nil
	case "closed":
		return ClosedEvent{}, nil
	case "":
		return nil, fmt.Errorf("server frame missing type")
	default:
		return nil, fmt.Errorf("unknown server frame type %q", frame.Type)
	}
}

// audioFormat declares one direction's PCM encoding in the setup frame.
type audioFormat struct {
	Encoding     string `json:"encoding"`
	SampleRateHz int    `json:"sample_rate_hz"`
	Channels     int    `json:"channels"`
}

// clientSetup is the first frame sent after dialing; the remote answers with
// an opened frame once it is ready to stream.
type clientSetup struct {
	Type         string      `json:"type"`
	Model        string      `json:"model"`
	SystemPrompt string      `json:"system_prompt,omitempty"`
	Voice        string      `json:"voice,omitempty"`
	AudioIn      audioFormat `json:"audio_in"`
	AudioOut     audioFormat `json:"audio_out"`
}

// clientAudioFrame carries one encoded capture frame to the remote.
type clientAudioFrame struct {
	Type     string `json:"type"`
	MimeType string `json:"mime_type"`
	DataB64  string `json:"data_b64"`
}
