package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nlpodyssey/openai-agents-go/agents"
	"github.com/openai/openai-go/v2/packages/param"

	"github.com/sttcompare/gateway/internal/availability"
	"github.com/sttcompare/gateway/internal/config"
	"github.com/sttcompare/gateway/internal/denoise"
	"github.com/sttcompare/gateway/internal/gate"
	"github.com/sttcompare/gateway/internal/orchestrator"
	"github.com/sttcompare/gateway/internal/provider"
	"github.com/sttcompare/gateway/internal/storage"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg := config.Load("gateway.json")
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	sink, err := openSink(cfg)
	if err != nil {
		slog.Error("storage sink open failed", "error", err)
		os.Exit(1)
	}
	defer sink.Close()

	providers := initProviders(cfg)
	supervisor := initSupervisor(cfg)
	availCache := initAvailability(cfg, providers, sink, supervisor)
	llmProvider := initLLMProvider(cfg)
	denoiser := initDenoiser()
	silero := initSilero(cfg)

	mux := http.NewServeMux()
	registerRoutes(mux, deps{
		cfg:         cfg,
		providers:   provider.NewRegistry(providers),
		availCache:  availCache,
		llmProvider: llmProvider,
		denoiser:    denoiser,
		silero:      silero,
		sink:        sink,
	})

	addr := ":" + cfg.GatewayPort
	srv := &http.Server{Addr: addr, Handler: mux}

	go awaitShutdown(srv)

	slog.Info("gateway starting", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}

	slog.Info("gateway stopped")
}

// awaitShutdown blocks until SIGINT/SIGTERM, then stops the HTTP
// server. There is no local model lifecycle to unload in this
// gateway, so shutdown is just the HTTP server drain.
func awaitShutdown(srv *http.Server) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}

// openSink selects Postgres when POSTGRES_URL is set, else SQLite when
// SQLITE_PATH is set, else a no-op sink. Persistence is optional;
// startup never fails over a missing sink configuration.
func openSink(cfg config.Provider) (storage.Sink, error) {
	if cfg.PostgresURL != "" {
		s, err := storage.OpenPostgres(cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		slog.Info("storage: postgres")
		return storage.NewAsyncSink(s), nil
	}
	if cfg.SQLitePath != "" {
		s, err := storage.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		slog.Info("storage: sqlite", "path", cfg.SQLitePath)
		return storage.NewAsyncSink(s), nil
	}
	slog.Info("storage: none configured, summaries/availability not persisted")
	return storage.NewAsyncSink(noopSink{}), nil
}

type noopSink struct{}

func (noopSink) WriteSessionSummary(storage.SessionSummary) error { return nil }
func (noopSink) WriteAvailabilityRecord(storage.ProviderAvailabilityRecord) error { return nil }
func (noopSink) Close() error { return nil }

// initProviders constructs every adapter kind, each only when its
// prerequisite URL/key is configured. An adapter with no
// backend configured is simply absent from the map — both the compare
// session's Resolve hook and the availability cache treat a missing
// provider as unimplemented.
func initProviders(cfg config.Provider) map[string]provider.Adapter {
	backends := make(map[string]provider.Adapter)

	if cfg.WhisperWSURL != "" {
		backends["wscloud"] = provider.NewWSCloudAdapter(provider.WSCloudConfig{
			BaseURL: cfg.WhisperWSURL,
			APIKey:  cfg.OpenAIAPIKey,
		})
	}
	if cfg.OpenAIAPIKey != "" {
		backends["realtime"] = provider.NewRealtimeAdapter(provider.RealtimeConfig{
			URL:    "wss://api.openai.com/v1/realtime?intent=transcription",
			APIKey: cfg.OpenAIAPIKey,
		})
	}
	if cfg.WhisperHTTPURL != "" {
		backends["subprocess"] = provider.NewSubprocessAdapter(provider.SubprocessConfig{
			BinaryPath: cfg.WhisperHTTPURL,
		})
	}
	backends["mock"] = provider.NewMockAdapter("this is a mock transcript")

	return backends
}

// initSupervisor builds the backing-service lifecycle manager when one
// is configured: docker compose when COMPOSE_FILE is set, else the
// whisper-control HTTP server when WHISPER_CONTROL_URL is set, else
// nil (services are assumed externally managed).
func initSupervisor(cfg config.Provider) orchestrator.ServiceManager {
	registry := orchestrator.NewRegistry(map[string]orchestrator.ServiceMeta{
		"whisper-streaming": {
			Category:   "stt",
			HealthURL:  cfg.WhisperStreamingReadyURL,
			ControlURL: cfg.WhisperControlURL,
		},
		"piper": {
			Category:  "tts",
			HealthURL: cfg.PiperURL + "/health",
		},
	})

	if cfg.ComposeFile != "" {
		slog.Info("service supervisor: docker compose", "file", cfg.ComposeFile)
		return orchestrator.NewComposeManager(cfg.ComposeFile, cfg.ComposeEnvFile, cfg.ComposeProject, registry)
	}
	if cfg.WhisperControlURL != "" {
		slog.Info("service supervisor: whisper-control", "url", cfg.WhisperControlURL)
		return orchestrator.NewHTTPControlManager(registry)
	}
	return nil
}

// initAvailability registers one Probe per configured provider and
// returns the shared availability cache. ReadyURL/Handshake are left
// unset where an adapter has no separate readiness endpoint of its
// own, reducing the probe to "implemented + secret present".
func initAvailability(cfg config.Provider, providers map[string]provider.Adapter, sink storage.Sink, supervisor orchestrator.ServiceManager) *availability.Cache {
	cache := availability.NewCache(5*time.Second, sink)

	if _, ok := providers["wscloud"]; ok {
		cache.Register(availability.Probe{
			ID:                "wscloud",
			Implemented:       true,
			SupportsStreaming: true,
			SecretPresent:     func() bool { return cfg.OpenAIAPIKey != "" },
			ReadyURL:          cfg.WhisperStreamingReadyURL,
			ReadyTimeout:      cfg.ReadyTimeout,
			ReadyInterval:     cfg.ReadyInterval,
			Supervisor:        supervisor,
			ServiceName:       "whisper-streaming",
		})
	}
	if _, ok := providers["realtime"]; ok {
		cache.Register(availability.Probe{
			ID:                "realtime",
			Implemented:       true,
			SupportsStreaming: true,
			SecretPresent:     func() bool { return cfg.OpenAIAPIKey != "" },
		})
	}
	if _, ok := providers["subprocess"]; ok {
		cache.Register(availability.Probe{
			ID:            "subprocess",
			Implemented:   true,
			SupportsBatch: true,
		})
	}
	cache.Register(availability.Probe{
		ID:                "mock",
		Implemented:       true,
		SupportsStreaming: true,
		SupportsBatch:     true,
	})

	return cache
}

// initLLMProvider builds the agents-go model provider backing the
// voice turn machine's LLM step. One active provider per process: a
// voice session is pinned to one assistant persona rather than a
// per-request engine choice, so there is no router to register
// multiple engines into.
func initLLMProvider(cfg config.Provider) agents.ModelProvider {
	if cfg.OpenAIAPIKey != "" {
		return agents.NewOpenAIProvider(agents.OpenAIProviderParams{
			BaseURL:      param.NewOpt("https://api.openai.com/v1/"),
			APIKey:       param.NewOpt(cfg.OpenAIAPIKey),
			UseResponses: param.NewOpt(true),
		})
	}
	return agents.NewOpenAIProvider(agents.OpenAIProviderParams{
		BaseURL:      param.NewOpt(cfg.OllamaURL + "/v1/"),
		APIKey:       param.NewOpt("ollama"),
		UseResponses: param.NewOpt(false),
	})
}

func initDenoiser() *denoise.Denoiser {
	return denoise.New()
}

// initSilero loads the ONNX VAD model when SILERO_MODEL_PATH is set.
// Absent or unloadable, meeting gates stay on the pure-Go estimator.
func initSilero(cfg config.Provider) *gate.SileroDetector {
	if cfg.SileroModelPath == "" {
		return nil
	}
	d, err := gate.NewSileroDetector(gate.DefaultSileroConfig(cfg.SileroModelPath, 16000))
	if err != nil {
		slog.Warn("silero model load failed, using heuristic VAD", "error", err)
		return nil
	}
	slog.Info("silero VAD loaded", "path", cfg.SileroModelPath)
	return d
}
