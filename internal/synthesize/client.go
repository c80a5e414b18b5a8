// Package synthesize is the one-shot text-to-speech client, separate from the
// live streaming path.
package synthesize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/signalsense/voice-engine/internal/audio"
	"github.com/signalsense/voice-engine/internal/config"
	"github.com/signalsense/voice-engine/internal/observability"
	"github.com/signalsense/voice-engine/internal/resilience"
)

const defaultAPIURL = "https://api.signalsense.dev/v1/audio:synthesize"

// Client calls the service's REST synthesis endpoint with retry and circuit
// breaker protection.
type Client struct {
	apiURL     string
	apiKey     string
	model      string
	voice      string
	sampleRate int
	httpClient *http.Client
	logger     zerolog.Logger

	breaker  *resilience.CircuitBreaker
	retryCfg *resilience.RetryConfig
}

type request struct {
	Model        string `json:"model"`
	Voice        string `json:"voice"`
	Text         string `json:"text"`
	SampleRateHz int    `json:"sample_rate_hz"`
}

type response struct {
	AudioB64     string `json:"audio_b64"`
	SampleRateHz int    `json:"sample_rate_hz"`
}

// NewClient creates a synthesis client from service configuration.
func NewClient(cfg *config.Config, logger zerolog.Logger) *Client {
	return &Client{
		apiURL:     defaultAPIURL,
		apiKey:     cfg.ServiceAPIKey,
		model:      cfg.Model,
		voice:      cfg.Voice,
		sampleRate: cfg.PlaybackSampleRate,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		breaker: resilience.NewCircuitBreaker(
			"synthesize",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		),
		retryCfg: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
	}
}

// Synthesize converts text to a playable chunk at the configured voice and
// sample rate.
func (c *Client) Synthesize(ctx context.Context, text string) (audio.PlaybackChunk, error) {
	payload, err := json.Marshal(request{
		Model:        c.model,
		Voice:        c.voice,
		Text:         text,
		SampleRateHz: c.sampleRate,
	})
	if err != nil {
		return audio.PlaybackChunk{}, fmt.Errorf("marshal synthesize request: %w", err)
	}

	start := time.Now()
	var chunk audio.PlaybackChunk
	err = resilience.Retry(ctx, func(ctx context.Context) error {
		return c.breaker.Call(func() error {
			result, err := c.post(ctx, payload)
			if err != nil {
				return err
			}
			chunk = result
			return nil
		})
	}, c.retryCfg, resilience.IsRetryable)

	observability.RecordOneshot("synthesize", err == nil, time.Since(start))
	observability.UpdateCircuitBreakerState("synthesize", int(c.breaker.GetState()))
	if err != nil {
		c.logger.Error().Err(err).Msg("Synthesis failed")
		return audio.PlaybackChunk{}, err
	}
	return chunk, nil
}

func (c *Client) post(ctx context.Context, payload []byte) (audio.PlaybackChunk, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(payload))
	if err != nil {
		return audio.PlaybackChunk{}, fmt.Errorf("create synthesize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return audio.PlaybackChunk{}, resilience.NewRetryableError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("synthesize API returned status %d", resp.StatusCode)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return audio.PlaybackChunk{}, resilience.NewRetryableError(err)
		}
		return audio.PlaybackChunk{}, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return audio.PlaybackChunk{}, resilience.NewRetryableError(fmt.Errorf("read synthesize response: %w", err))
	}

	var out response
	if err := json.Unmarshal(body, &out); err != nil {
		return audio.PlaybackChunk{}, fmt.Errorf("decode synthesize response: %w", err)
	}

	data, err := audio.DecodeBase64(out.AudioB64)
	if err != nil {
		return audio.PlaybackChunk{}, err
	}
	// The playback device runs at one fixed rate; audio at any other rate
	// would play pitch-shifted, so a mismatch is rejected outright.
	if out.SampleRateHz > 0 && out.SampleRateHz != c.sampleRate {
		return audio.PlaybackChunk{}, fmt.Errorf(
			"synthesize API returned %d Hz audio, expected %d Hz", out.SampleRateHz, c.sampleRate)
	}
	return audio.DecodeChunk(data, c.sampleRate, 1)
}
