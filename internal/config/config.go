// Package config implements the ConfigProvider design note: all
// configuration is snapshotted once, at session start, into a plain
// struct. Nothing in the rest of the gateway reads os.Getenv directly —
// changing the environment mid-process never affects an in-flight
// session. Mixing import-time and call-time env reads has caused bugs
// before (some values captured at startup, others read per call);
// here every knob is read exactly once, in Load.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/sttcompare/gateway/internal/env"
	"gopkg.in/yaml.v3"
)

// Tuning holds knobs that are not secrets and may reasonably live in a
// checked-in file rather than the environment.
type Tuning struct {
	BucketMs             int     `json:"bucket_ms" yaml:"bucket_ms"`
	NormalizePreset      string  `json:"normalize_preset" yaml:"normalize_preset"`
	MaxPcmQueueBytes     int     `json:"max_pcm_queue_bytes" yaml:"max_pcm_queue_bytes"`
	VoiceHistoryMaxTurns int     `json:"voice_history_max_turns" yaml:"voice_history_max_turns"`
	LLMMaxTokens         int     `json:"llm_max_tokens" yaml:"llm_max_tokens"`
	GateMinRMS           float64 `json:"gate_min_rms" yaml:"gate_min_rms"`
	GateNoiseAlpha       float64 `json:"gate_noise_alpha" yaml:"gate_noise_alpha"`
	GateOpenFactor       float64 `json:"gate_open_factor" yaml:"gate_open_factor"`
	GateCloseFactor      float64 `json:"gate_close_factor" yaml:"gate_close_factor"`
	GateHangoverMs       int     `json:"gate_hangover_ms" yaml:"gate_hangover_ms"`
	GateAssistantGuard   float64 `json:"gate_assistant_guard_factor" yaml:"gate_assistant_guard_factor"`
}

// DefaultTuning returns the stock knob values.
func DefaultTuning() Tuning {
	return Tuning{
		BucketMs:             250,
		NormalizePreset:      "",
		MaxPcmQueueBytes:     1 << 20,
		VoiceHistoryMaxTurns: 20,
		LLMMaxTokens:         2048,
		GateMinRMS:           0.01,
		GateNoiseAlpha:       0.03,
		GateOpenFactor:       3.0,
		GateCloseFactor:      1.8,
		GateHangoverMs:       250,
		GateAssistantGuard:   1.5,
	}
}

// LoadTuning reads a JSON or YAML tuning file if present, otherwise
// returns defaults. A malformed file also falls back to defaults;
// startup never fails over an optional file.
func LoadTuning(path string) Tuning {
	t := DefaultTuning()
	data, err := os.ReadFile(path)
	if err != nil {
		slog.Info("no tuning file, using defaults", "path", path)
		return t
	}
	if isYAML(path) {
		if err = yaml.Unmarshal(data, &t); err != nil {
			slog.Warn("bad tuning file, using defaults", "path", path, "error", err)
			return DefaultTuning()
		}
		return t
	}
	if err = json.Unmarshal(data, &t); err != nil {
		slog.Warn("bad tuning file, using defaults", "path", path, "error", err)
		return DefaultTuning()
	}
	slog.Info("loaded tuning", "path", path)
	return t
}

func isYAML(path string) bool {
	n := len(path)
	return n >= 5 && (path[n-5:] == ".yaml" || path[n-4:] == ".yml")
}

// Provider is the environment/secret snapshot captured once at process
// or session start. Every field is read via internal/env at construction
// time; nothing downstream touches os.Getenv again.
type Provider struct {
	Tuning Tuning

	GatewayPort string

	OpenAIAPIKey      string
	OpenAIChatURL     string
	OpenAIResponseURL string
	OpenAIChatTimeout time.Duration

	AnthropicAPIKey string

	OllamaURL   string
	OllamaModel string
	OpenAIModel string

	TTSModel   string
	TTSVoice   string
	TTSFrameMs int
	TTSTimeout time.Duration
	PiperURL   string

	WhisperWSURL             string
	WhisperHTTPURL           string
	WhisperStreamingReadyURL string
	WhisperControlURL        string
	ReadyTimeout             time.Duration
	ReadyInterval            time.Duration

	ComposeFile    string
	ComposeEnvFile string
	ComposeProject string

	SileroModelPath string

	PostgresURL string
	SQLitePath  string
}

// Load snapshots the process environment plus an optional tuning file
// into a Provider. Call this once, in main, and pass the resulting
// Provider by value (or a pointer to an immutable value) into sessions.
func Load(tuningPath string) Provider {
	return Provider{
		Tuning: LoadTuning(tuningPath),

		GatewayPort: env.Str("GATEWAY_PORT", "8000"),

		OpenAIAPIKey:      env.Str("OPENAI_API_KEY", ""),
		OpenAIChatURL:     env.Str("OPENAI_CHAT_URL", "https://api.openai.com/v1/chat/completions"),
		OpenAIResponseURL: env.Str("OPENAI_RESPONSES_URL", "https://api.openai.com/v1/responses"),
		OpenAIChatTimeout: env.Duration("OPENAI_CHAT_TIMEOUT_MS", 60*time.Second),

		AnthropicAPIKey: env.Str("ANTHROPIC_API_KEY", ""),

		OllamaURL:   env.Str("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel: env.Str("OLLAMA_MODEL", "llama3.2:3b"),
		OpenAIModel: env.Str("OPENAI_MODEL", "gpt-4.1-nano"),

		TTSModel:   env.Str("OPENAI_TTS_MODEL", "tts-1"),
		TTSVoice:   env.Str("OPENAI_TTS_VOICE", "en_US-lessac-low"),
		TTSFrameMs: clampInt(env.Int("OPENAI_TTS_FRAME_MS", 40), 10, 500),
		TTSTimeout: env.Duration("OPENAI_TTS_TIMEOUT_MS", 60*time.Second),
		PiperURL:   env.Str("PIPER_URL", "http://localhost:5000"),

		WhisperWSURL:             env.Str("WHISPER_WS_URL", ""),
		WhisperHTTPURL:           env.Str("WHISPER_HTTP_URL", ""),
		WhisperStreamingReadyURL: env.Str("WHISPER_STREAMING_READY_URL", ""),
		WhisperControlURL:        env.Str("WHISPER_CONTROL_URL", ""),
		ReadyTimeout:             env.Duration("WHISPER_READY_TIMEOUT_MS", 90*time.Second),
		ReadyInterval:            env.Duration("WHISPER_READY_INTERVAL_MS", 1*time.Second),

		ComposeFile:    env.Str("COMPOSE_FILE", ""),
		ComposeEnvFile: env.Str("COMPOSE_ENV_FILE", ".env"),
		ComposeProject: env.Str("COMPOSE_PROJECT", "sttcompare"),

		SileroModelPath: env.Str("SILERO_MODEL_PATH", ""),

		PostgresURL: env.Str("POSTGRES_URL", ""),
		SQLitePath:  env.Str("SQLITE_PATH", ""),
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// allowedOpenAIURLs pins the overridable OpenAI endpoints to the exact
// URLs they may take. Anything else — non-https, a different host, a
// different path — is a configuration mistake, and silently sending
// chat traffic to an arbitrary URL is worse than refusing to start.
var allowedOpenAIURLs = map[string]string{
	"OPENAI_CHAT_URL":      "https://api.openai.com/v1/chat/completions",
	"OPENAI_RESPONSES_URL": "https://api.openai.com/v1/responses",
}

// Validate checks the snapshot's URL overrides against the allow-list.
// A non-nil error is fatal: main exits rather than run with a chat or
// responses endpoint pointed somewhere unexpected.
func (p Provider) Validate() error {
	for name, raw := range map[string]string{
		"OPENAI_CHAT_URL":      p.OpenAIChatURL,
		"OPENAI_RESPONSES_URL": p.OpenAIResponseURL,
	} {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		want := allowedOpenAIURLs[name]
		if u.Scheme != "https" {
			return fmt.Errorf("%s: scheme %q not allowed, must be https", name, u.Scheme)
		}
		if u.Host != "api.openai.com" {
			return fmt.Errorf("%s: host %q not allowed, must be api.openai.com", name, u.Host)
		}
		if raw != want {
			return fmt.Errorf("%s: %q not allowed, must be %q", name, raw, want)
		}
	}
	return nil
}

// VoiceHistoryMaxTurns resolves VOICE_HISTORY_MAX_TURNS, defaulting to
// the tuning file's value when the env var is absent.
func (p Provider) VoiceHistoryMaxTurns() int {
	return env.Int("VOICE_HISTORY_MAX_TURNS", p.Tuning.VoiceHistoryMaxTurns)
}

// VoiceLLMModel picks the model name matching whichever provider
// initLLMProvider actually constructed: OpenAI's when a key is present,
// Ollama's otherwise.
func (p Provider) VoiceLLMModel() string {
	if p.OpenAIAPIKey != "" {
		return p.OpenAIModel
	}
	return p.OllamaModel
}
