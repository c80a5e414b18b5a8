package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	os.Setenv("SERVICE_API_KEY", "test-service-key")
	defer os.Unsetenv("SERVICE_API_KEY")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.ServiceAPIKey != "test-service-key" {
		t.Errorf("Expected ServiceAPIKey 'test-service-key', got '%s'", cfg.ServiceAPIKey)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	os.Unsetenv("SERVICE_API_KEY")

	_, err := Load()
	if err == nil {
		t.Error("Expected error when required keys are missing")
	}
}

func TestLoad_Defaults(t *testing.T) {
	os.Setenv("SERVICE_API_KEY", "test-service-key")
	defer os.Unsetenv("SERVICE_API_KEY")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected default Port '8080', got '%s'", cfg.Port)
	}

	if cfg.Model != "gemini-2.0-flash-live" {
		t.Errorf("Expected default Model 'gemini-2.0-flash-live', got '%s'", cfg.Model)
	}

	if cfg.Voice != "Puck" {
		t.Errorf("Expected default Voice 'Puck', got '%s'", cfg.Voice)
	}

	if cfg.CaptureSampleRate != 16000 {
		t.Errorf("Expected default CaptureSampleRate 16000, got %d", cfg.CaptureSampleRate)
	}

	if cfg.PlaybackSampleRate != 24000 {
		t.Errorf("Expected default PlaybackSampleRate 24000, got %d", cfg.PlaybackSampleRate)
	}

	if cfg.FrameSize != 4096 {
		t.Errorf("Expected default FrameSize 4096, got %d", cfg.FrameSize)
	}

	if cfg.ActivityEnergyThreshold != 0.015 {
		t.Errorf("Expected default ActivityEnergyThreshold 0.015, got %f", cfg.ActivityEnergyThreshold)
	}

	if cfg.ActivitySilenceFrames != 4 {
		t.Errorf("Expected default ActivitySilenceFrames 4, got %d", cfg.ActivitySilenceFrames)
	}

	if cfg.ConnectTimeout != 15 {
		t.Errorf("Expected default ConnectTimeout 15, got %d", cfg.ConnectTimeout)
	}
}

func TestLoad_InvalidFrameSize(t *testing.T) {
	os.Setenv("SERVICE_API_KEY", "test-service-key")
	os.Setenv("FRAME_SIZE", "0")
	defer os.Unsetenv("SERVICE_API_KEY")
	defer os.Unsetenv("FRAME_SIZE")

	_, err := Load()
	if err == nil {
		t.Error("Expected error for zero frame size")
	}
}

func TestLoadFromEnv(t *testing.T) {
	os.Setenv("SERVICE_API_KEY", "test-service-key")
	defer os.Unsetenv("SERVICE_API_KEY")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.ServiceAPIKey != "test-service-key" {
		t.Errorf("Expected ServiceAPIKey 'test-service-key', got '%s'", cfg.ServiceAPIKey)
	}
}

func TestConnectTimeoutDuration(t *testing.T) {
	os.Setenv("SERVICE_API_KEY", "test-service-key")
	os.Setenv("CONNECT_TIMEOUT", "5")
	defer os.Unsetenv("SERVICE_API_KEY")
	defer os.Unsetenv("CONNECT_TIMEOUT")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.ConnectTimeoutDuration() != 5*time.Second {
		t.Errorf("Expected 5s connect timeout, got %v", cfg.ConnectTimeoutDuration())
	}
}

func TestConfig_ResilienceDefaults(t *testing.T) {
	os.Setenv("SERVICE_API_KEY", "test-service-key")
	defer os.Unsetenv("SERVICE_API_KEY")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.CircuitBreakerMaxFailures != 5 {
		t.Errorf("Expected default CircuitBreakerMaxFailures 5, got %d", cfg.CircuitBreakerMaxFailures)
	}

	if cfg.CircuitBreakerResetTimeout != 30 {
		t.Errorf("Expected default CircuitBreakerResetTimeout 30, got %d", cfg.CircuitBreakerResetTimeout)
	}

	if cfg.RetryMaxAttempts != 3 {
		t.Errorf("Expected default RetryMaxAttempts 3, got %d", cfg.RetryMaxAttempts)
	}

	if cfg.RetryInitialBackoff != 100 {
		t.Errorf("Expected default RetryInitialBackoff 100, got %d", cfg.RetryInitialBackoff)
	}
}

func TestConfig_ObservabilityDefaults(t *testing.T) {
	os.Setenv("SERVICE_API_KEY", "test-service-key")
	os.Unsetenv("LOG_LEVEL")
	defer os.Unsetenv("SERVICE_API_KEY")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("Expected default LogLevel 'info', got '%s'", cfg.LogLevel)
	}

	if cfg.LogPretty {
		t.Error("Expected default LogPretty false, got true")
	}

	if !cfg.MetricsEnabled {
		t.Error("Expected default MetricsEnabled true, got false")
	}
}
