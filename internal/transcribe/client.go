// Package transcribe is the one-shot speech-to-text client for recorded
// audio, separate from the live streaming path.
package transcribe

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

const defaultAPIURL = "https://api.signalsense.dev/v1/audio:transcribe"

// Client calls the service's REST transcription endpoint. Unlike the live
// stream, these calls retry on transient failures and sit behind a circuit
// breaker.
type Client struct {
	apiURL     string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     zerolog.Logger

	breaker  *resilience.CircuitBreaker
	retryCfg *resilience.RetryConfig
}

type request struct {
	Model    string `json:"model"`
	MimeType string `json:"mime_type"`
	DataB64  string `json:"data_b64"`
}

type response struct {
	Text string `json:"text"`
}

// NewClient creates a transcription client from service configuration.
func NewClient(cfg *config.Config, logger zerolog.Logger) *Client {
	return &Client{
		apiURL:     defaultAPIURL,
		apiKey:     cfg.ServiceAPIKey,
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		breaker: resilience.NewCircuitBreaker(
			"transcribe",
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

// Transcribe converts recorded PCM samples (16 kHz mono) to text.
func (c *Client) Transcribe(ctx context.Context, samples []float32) (string, error) {
	frame := audio.EncodeFrame(samples)
	payload, err := json.Marshal(request{
		Model:    c.model,
		MimeType: frame.MimeType,
		DataB64:  audio.EncodeBase64(frame.Data),
	})
	if err != nil {
		return "", fmt.Errorf("marshal transcribe request: %w", err)
	}

	start := time.Now()
	var text string
	err = resilience.Retry(ctx, func(ctx context.Context) error {
		return c.breaker.Call(func() error {
			result, err := c.post(ctx, payload)
			if err != nil {
				return err
			}
			text = result
			return nil
		})
	}, c.retryCfg, resilience.IsRetryable)

	observability.RecordOneshot("transcribe", err == nil, time.Since(start))
	observability.UpdateCircuitBreakerState("transcribe", int(c.breaker.GetState()))
	if err != nil {
		c.logger.Error().Err(err).Msg("Transcription failed")
		return "", err
	}
	return text, nil
}

func (c *Client) post(ctx context.Context, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create transcribe request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", resilience.NewRetryableError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("transcribe API returned status %d", resp.StatusCode)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return "", resilience.NewRetryableError(err)
		}
		return "", err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", resilience.NewRetryableError(fmt.Errorf("read transcribe response: %w", err))
	}

	var out response
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode transcribe response: %w", err)
	}
	return out.Text, nil
}
