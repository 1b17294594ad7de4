package main

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/nlpodyssey/openai-agents-go/agents"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sttcompare/gateway/internal/availability"
	"github.com/sttcompare/gateway/internal/compare"
	"github.com/sttcompare/gateway/internal/config"
	"github.com/sttcompare/gateway/internal/denoise"
	"github.com/sttcompare/gateway/internal/gate"
	"github.com/sttcompare/gateway/internal/prompts"
	"github.com/sttcompare/gateway/internal/provider"
	"github.com/sttcompare/gateway/internal/storage"
	"github.com/sttcompare/gateway/internal/voiceagent"
)

// deps holds everything the two session kinds need to construct a
// per-connection Session/Handler. compare.Session and
// voiceagent.Handler are built fresh per upgrade, so deps here holds
// the shared, process-lifetime collaborators instead.
type deps struct {
	cfg         config.Provider
	providers   *provider.Registry[provider.Adapter]
	availCache  *availability.Cache
	llmProvider agents.ModelProvider
	denoiser    *denoise.Denoiser
	silero      *gate.SileroDetector
	sink        storage.Sink
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16384,
	WriteBufferSize: 16384,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// registerRoutes wires the two wire-contract endpoints (/ws/compare,
// /ws/voice) plus /health and /metrics.
func registerRoutes(mux *http.ServeMux, d deps) {
	mux.HandleFunc("/ws/compare", d.handleCompare)
	mux.Handle("/ws/voice", d.voiceHandler())
	mux.HandleFunc("/health", handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// handleCompare upgrades the connection and runs one compare session
// (C5) to completion, resolving providers by name against the adapters
// registered at startup and gating each one through the availability
// cache (C7) inside Session.Run/startAdapters.
func (d deps) handleCompare(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("compare: websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	session := compare.New(compare.Config{
		BucketMs:       int64(d.cfg.Tuning.BucketMs),
		SoftQueueBytes: d.cfg.Tuning.MaxPcmQueueBytes,
		Resolve: d.providers.Lookup,
		Availability: d.availCache,
		Sink:         d.sink,
		Denoiser:     d.denoiser,
		Silero:       d.silero,
	}, conn)

	if err := session.Run(r.Context()); err != nil {
		slog.Info("compare: session ended", "error", err)
	}
}

// voiceHandler builds the C6 /ws/voice handler. STT is resolved from
// the wscloud adapter when configured, falling back to the mock
// adapter so the voice path still works end-to-end without a
// streaming ASR backend configured.
func (d deps) voiceHandler() *voiceagent.Handler {
	stt, ok := d.providers.Lookup("wscloud")
	if !ok {
		stt, _ = d.providers.Lookup("mock")
	}

	return voiceagent.NewHandler(voiceagent.HandlerConfig{
		STT: stt,
		NewLLMClient: func() voiceagent.LLMClient {
			return voiceagent.NewAgentLLMClient(d.llmProvider, d.cfg.VoiceLLMModel(), d.cfg.Tuning.LLMMaxTokens)
		},
		NewTTSClient: func() voiceagent.TTSClient {
			return voiceagent.NewPiperTTSClient(d.cfg.PiperURL, d.cfg.TTSVoice)
		},
		SystemPrompt:    prompts.ForSession(""),
		MaxHistoryTurns: d.cfg.VoiceHistoryMaxTurns(),
		STTSampleRate:   16000,
		LLMTimeout:      d.cfg.OpenAIChatTimeout,
		TTSTimeout:      d.cfg.TTSTimeout,
	})
}
