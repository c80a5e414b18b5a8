package transcribe

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"github.com/signalsense/voice-engine/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		ServiceAPIKey:              "test-key",
		Model:                      "test-model",
		CircuitBreakerMaxFailures:  5,
		CircuitBreakerResetTimeout: 30,
		RetryMaxAttempts:           3,
		RetryInitialBackoff:        1,
	}
}

func TestTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("Missing bearer token, got %q", r.Header.Get("Authorization"))
		}

		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("Decoding request failed: %v", err)
		}
		if req.Model != "test-model" {
			t.Errorf("Expected model 'test-model', got %q", req.Model)
		}
		if req.MimeType != "audio/pcm;rate=16000" {
			t.Errorf("Unexpected mime type %q", req.MimeType)
		}
		if req.DataB64 == "" {
			t.Error("Expected audio payload")
		}

		json.NewEncoder(w).Encode(response{Text: "hello world"})
	}))
	defer srv.Close()

	c := NewClient(testConfig(), zerolog.Nop())
	c.apiURL = srv.URL

	text, err := c.Transcribe(context.Background(), []float32{0.1, -0.1, 0.2, -0.2})
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if text != "hello world" {
		t.Errorf("Expected 'hello world', got %q", text)
	}
}

func TestTranscribe_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(response{Text: "recovered"})
	}))
	defer srv.Close()

	c := NewClient(testConfig(), zerolog.Nop())
	c.apiURL = srv.URL

	text, err := c.Transcribe(context.Background(), []float32{0.1})
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if text != "recovered" {
		t.Errorf("Expected 'recovered', got %q", text)
	}
	if calls.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", calls.Load())
	}
}

func TestTranscribe_ClientErrorDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(testConfig(), zerolog.Nop())
	c.apiURL = srv.URL

	if _, err := c.Transcribe(context.Background(), []float32{0.1}); err == nil {
		t.Fatal("Expected error for 400 response")
	}
	if calls.Load() != 1 {
		t.Errorf("Expected 1 attempt for a client error, got %d", calls.Load())
	}
}
