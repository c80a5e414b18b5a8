package main

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/signalsense/voice-engine/internal/config"
	"github.com/signalsense/voice-engine/internal/observability"
	"github.com/signalsense/voice-engine/internal/session"
	"github.com/signalsense/voice-engine/internal/synthesize"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("service_url", cfg.ServiceURL).
		Str("model", cfg.Model).
		Str("voice", cfg.Voice).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("SignalSense voice engine starting")

	controller := session.NewController(cfg, logger, session.Defaults())

	// HTTP server for health, status, and metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/health", observability.HealthCheckHandler())
	mux.HandleFunc("/status", observability.StatusHandler(func() interface{} {
		return controller.Snapshot()
	}))
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("Status server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Status server failed to start")
		}
	}()

	// Start the live session
	if err := controller.Start(context.Background()); err != nil {
		logger.Error().Err(err).Msg("Failed to start session")
		os.Exit(1)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	synth := synthesize.NewClient(cfg, logger)
	go commandLoop(controller, synth, logger, quit)

	<-quit
	logger.Info().Msg("Shutting down...")

	controller.End()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Status server forced to shutdown")
	}

	printTranscript(controller)
	logger.Info().Msg("Voice engine exited gracefully")
}

// commandLoop reads interactive commands from stdin until EOF or quit.
func commandLoop(controller *session.Controller, synth *synthesize.Client, logger zerolog.Logger, quit chan<- os.Signal) {
	fmt.Println("Commands: mute | unmute | toggle | status | say <text> | quit")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if text, ok := strings.CutPrefix(line, "say "); ok {
			sayText(controller, synth, logger, strings.TrimSpace(text))
			continue
		}
		switch strings.ToLower(line) {
		case "":
			continue
		case "mute":
			controller.SetMuted(true)
			fmt.Println("Microphone muted")
		case "unmute":
			controller.SetMuted(false)
			fmt.Println("Microphone live")
		case "toggle":
			if controller.ToggleMute() {
				fmt.Println("Microphone muted")
			} else {
				fmt.Println("Microphone live")
			}
		case "status":
			snap := controller.Snapshot()
			fmt.Printf("state=%s muted=%v speaking=%v turns=%d\n",
				snap.State, snap.Muted, snap.UserSpeaking, len(snap.Transcript))
		case "quit", "exit":
			quit <- syscall.SIGTERM
			return
		default:
			fmt.Println("Unknown command. Commands: mute | unmute | toggle | status | say <text> | quit")
		}
	}

	if err := scanner.Err(); err != nil {
		logger.Warn().Err(err).Msg("Stdin read failed")
	}
}

// sayText speaks arbitrary text through the session's speaker using the
// one-shot synthesis endpoint.
func sayText(controller *session.Controller, synth *synthesize.Client, logger zerolog.Logger, text string) {
	if text == "" {
		fmt.Println("Usage: say <text>")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	chunk, err := synth.Synthesize(ctx, text)
	if err != nil {
		logger.Error().Err(err).Msg("Synthesis failed")
		return
	}
	if err := controller.Play(chunk); err != nil {
		logger.Error().Err(err).Msg("Playback failed")
	}
}

func printTranscript(controller *session.Controller) {
	entries := controller.Transcript()
	if len(entries) == 0 {
		return
	}
	fmt.Println("\n--- Conversation transcript ---")
	for _, e := range entries {
		fmt.Printf("[%s] %s\n", e.Speaker, e.Text)
	}
}
