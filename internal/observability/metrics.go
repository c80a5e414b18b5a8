package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_engine_active_sessions",
		Help: "Number of active live sessions",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_engine_sessions_total",
		Help: "Total number of sessions started",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_engine_session_duration_seconds",
		Help:    "Duration of live sessions in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	// Capture metrics
	framesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_engine_frames_sent_total",
		Help: "Total microphone frames sent to the service",
	})

	framesMuted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_engine_frames_muted_total",
		Help: "Total microphone frames discarded while muted",
	})

	framesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_engine_frames_dropped_total",
		Help: "Total microphone frames dropped because the sender fell behind",
	})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_engine_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"

	// Playback metrics
	chunksScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_engine_chunks_scheduled_total",
		Help: "Total playback chunks scheduled",
	})

	interruptions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_engine_interruptions_total",
		Help: "Total barge-in interruptions",
	})

	decodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_engine_decode_errors_total",
		Help: "Total audio chunks dropped due to decode failures",
	})

	// Transcript metrics
	transcriptTurns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_engine_transcript_turns_total",
		Help: "Total completed conversation turns",
	})

	// One-shot request metrics
	oneshotRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_engine_oneshot_requests_total",
		Help: "Total one-shot transcribe/synthesize requests",
	}, []string{"operation", "status"})

	oneshotLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voice_engine_oneshot_latency_seconds",
		Help:    "One-shot request latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	}, []string{"operation"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_engine_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voice_engine_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_engine_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// Metrics tracks metrics for a single session
type Metrics struct {
	sessionID string
	startTime time.Time
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(sessionID string) *Metrics {
	return &Metrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a session
func (m *Metrics) RecordSessionStart() {
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a session
func (m *Metrics) RecordSessionEnd() {
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordFrameSent records one microphone frame sent to the service
func (m *Metrics) RecordFrameSent(bytes int) {
	framesSent.Inc()
	audioBytesProcessed.WithLabelValues("out").Add(float64(bytes))
}

// RecordFrameMuted records one microphone frame discarded while muted
func (m *Metrics) RecordFrameMuted() {
	framesMuted.Inc()
}

// RecordFramesDropped records frames lost to consumer backpressure
func (m *Metrics) RecordFramesDropped(count int64) {
	framesDropped.Add(float64(count))
}

// RecordChunkScheduled records one inbound chunk committed to playback
func (m *Metrics) RecordChunkScheduled(bytes int) {
	chunksScheduled.Inc()
	audioBytesProcessed.WithLabelValues("in").Add(float64(bytes))
}

// RecordInterruption records a barge-in interruption
func (m *Metrics) RecordInterruption() {
	interruptions.Inc()
}

// RecordDecodeError records a dropped undecodable chunk
func (m *Metrics) RecordDecodeError() {
	decodeErrors.Inc()
}

// RecordTurnComplete records a finished conversation turn
func (m *Metrics) RecordTurnComplete() {
	transcriptTurns.Inc()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordOneshot records a one-shot transcribe or synthesize request
func RecordOneshot(operation string, success bool, latency time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	oneshotRequests.WithLabelValues(operation, status).Inc()
	oneshotLatency.WithLabelValues(operation).Observe(latency.Seconds())
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
