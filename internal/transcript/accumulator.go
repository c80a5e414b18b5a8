// Package transcript accumulates streamed transcript deltas and finalizes
// them into ordered conversation entries at turn boundaries.
package transcript

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Speaker identifies who produced a transcript entry.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// Entry is one finalized utterance.
type Entry struct {
	ID      string  `json:"id"`
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
}

// Accumulator buffers in-flight transcript text for both directions of a
// turn. Deltas append; EndTurn finalizes. Safe for concurrent use, though in
// practice all calls arrive on the session's event loop.
type Accumulator struct {
	mu     sync.Mutex
	input  strings.Builder
	output strings.Builder
}

func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// AddInput appends a delta of the user's speech recognition.
func (a *Accumulator) AddInput(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.input.WriteString(text)
}

// AddOutput appends a delta of the assistant's spoken response.
func (a *Accumulator) AddOutput(text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.output.WriteString(text)
}

// EndTurn finalizes the buffered text into entries, user first, and clears
// both buffers. Buffers that are empty after trimming produce no entry, so a
// turn with no recognized user speech yields only the assistant entry and an
// entirely empty turn yields nothing.
func (a *Accumulator) EndTurn() []Entry {
	a.mu.Lock()
	defer a.mu.Unlock()

	var entries []Entry
	if text := strings.TrimSpace(a.input.String()); text != "" {
		entries = append(entries, Entry{
			ID:      "user-" + uuid.NewString(),
			Speaker: SpeakerUser,
			Text:    text,
		})
	}
	if text := strings.TrimSpace(a.output.String()); text != "" {
		entries = append(entries, Entry{
			ID:      "assistant-" + uuid.NewString(),
			Speaker: SpeakerAssistant,
			Text:    text,
		})
	}
	a.input.Reset()
	a.output.Reset()
	return entries
}

// Pending reports the in-flight text without finalizing it.
func (a *Accumulator) Pending() (input, output string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.input.String(), a.output.String()
}

// Reset discards any in-flight text.
func (a *Accumulator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.input.Reset()
	a.output.Reset()
}
