package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_sessions_active",
		Help: "Currently active compare and voice sessions",
	})

	SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_sessions_total",
		Help: "Total sessions served, by kind",
	}, []string{"kind"}) // compare | voice

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_stage_duration_seconds",
		Help:    "Per-stage latency",
		Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.8, 1.0, 2.0, 5.0},
	}, []string{"stage"})

	VoiceE2EDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_e2e_duration_seconds",
		Help:    "Latency from user final transcript to first TTS audio",
		Buckets: []float64{0.1, 0.2, 0.5, 0.8, 1.0, 1.5, 2.0, 3.0, 5.0},
	})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_errors_total",
		Help: "Error counts by stage",
	}, []string{"stage", "error_type"})

	AudioChunks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audio_chunks_processed_total",
		Help: "Total audio frames received across all sessions",
	})

	SpeechSegments = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vad_speech_segments_total",
		Help: "Speech segments detected by the meeting gate",
	})

	// Comparator (C2/C4/C5) series.

	GateDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "meeting_gate_decisions_total",
		Help: "Meeting audio gate open/close decisions",
	}, []string{"decision"}) // allow | suppress

	NormalizerRevisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "normalizer_window_revisions_total",
		Help: "Normalized transcript window revisions emitted, by provider",
	}, []string{"provider"})

	AdapterQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "compare_adapter_queue_bytes",
		Help: "Current queued PCM bytes per adapter in a compare session",
	}, []string{"provider"})

	AdapterDegraded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "compare_adapter_degraded_total",
		Help: "Times an adapter's queue crossed its hard backpressure threshold",
	}, []string{"provider"})

	// Availability (C7) series.

	ProviderAvailable = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "provider_available",
		Help: "1 if the provider's last availability probe succeeded, else 0",
	}, []string{"provider"})
)
