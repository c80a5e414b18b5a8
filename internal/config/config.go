package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the voice engine
type Config struct {
	// HTTP server configuration (health, status, metrics)
	Port string `envconfig:"PORT" default:"8080"`

	// Inference service configuration
	ServiceURL     string `envconfig:"SERVICE_URL" default:"wss://api.signalsense.dev/v1/live"`
	ServiceAPIKey  string `envconfig:"SERVICE_API_KEY" required:"true"`
	Model          string `envconfig:"MODEL" default:"gemini-2.0-flash-live"`
	Voice          string `envconfig:"VOICE" default:"Puck"`
	SystemPrompt   string `envconfig:"SYSTEM_PROMPT" default:""`
	ConnectTimeout int    `envconfig:"CONNECT_TIMEOUT" default:"15"` // seconds

	// Audio format configuration
	CaptureSampleRate  int `envconfig:"CAPTURE_SAMPLE_RATE" default:"16000"`  // Hz, mic capture
	PlaybackSampleRate int `envconfig:"PLAYBACK_SAMPLE_RATE" default:"24000"` // Hz, remote audio
	FrameSize          int `envconfig:"FRAME_SIZE" default:"4096"`            // Samples per outbound frame

	// Activity meter configuration
	ActivityEnergyThreshold float64 `envconfig:"ACTIVITY_ENERGY_THRESHOLD" default:"0.015"` // RMS threshold on [-1,1] samples
	ActivitySilenceFrames   int     `envconfig:"ACTIVITY_SILENCE_FRAMES" default:"4"`       // Quiet frames to mark speech end

	// Resilience configuration (one-shot transcribe/synthesize calls only)
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum retry attempts
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.ServiceAPIKey == "" {
		return nil, fmt.Errorf("SERVICE_API_KEY is required")
	}
	if cfg.FrameSize <= 0 {
		return nil, fmt.Errorf("FRAME_SIZE must be positive, got %d", cfg.FrameSize)
	}
	if cfg.CaptureSampleRate <= 0 || cfg.PlaybackSampleRate <= 0 {
		return nil, fmt.Errorf("sample rates must be positive")
	}

	return &cfg, nil
}

// ConnectTimeoutDuration returns the dial timeout as a duration.
func (c *Config) ConnectTimeoutDuration() time.Duration {
	return time.Duration(c.ConnectTimeout) * time.Second
}
