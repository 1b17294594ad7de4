package voiceagent

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sttcompare/gateway/internal/audio"
	"github.com/sttcompare/gateway/internal/frame"
	"github.com/sttcompare/gateway/internal/gate"
	"github.com/sttcompare/gateway/internal/metrics"
	"github.com/sttcompare/gateway/internal/provider"
	"github.com/sttcompare/gateway/internal/wsproto"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  16384,
	WriteBufferSize: 16384,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// HandlerConfig holds what every /ws/voice session needs: one STT
// adapter feeding user speech into the turn machine, and constructors
// for the per-session LLM/TTS clients. OutputSampleRate is the PCM
// rate of the synthesized audio streamed back to the client.
type HandlerConfig struct {
	STT              provider.Adapter
	NewLLMClient     func() LLMClient
	NewTTSClient     func() TTSClient
	SystemPrompt     string
	MaxHistoryTurns  int
	FallbackText     string
	OutputSampleRate int
	STTSampleRate    int
	STTLanguage      string
	LLMTimeout       time.Duration
	TTSTimeout       time.Duration
}

// Handler serves one /ws/voice session per upgraded connection.
type Handler struct {
	cfg HandlerConfig
}

func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.OutputSampleRate <= 0 {
		cfg.OutputSampleRate = 24000
	}
	if cfg.STTSampleRate <= 0 {
		cfg.STTSampleRate = 16000
	}
	if cfg.FallbackText == "" {
		cfg.FallbackText = "Sorry, I had trouble with that. Could you repeat it?"
	}
	return &Handler{cfg: cfg}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("voice: websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	h.runSession(conn)
}

func (h *Handler) runSession(conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics.SessionsActive.Inc()
	metrics.SessionsTotal.WithLabelValues("voice").Inc()
	defer metrics.SessionsActive.Dec()

	sessionID := uuid.NewString()
	var writeMu sync.Mutex
	sendJSON := func(v any) {
		writeMu.Lock()
		defer writeMu.Unlock()
		data, err := json.Marshal(v)
		if err != nil {
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			slog.Error("voice: write json", "error", err)
		}
	}
	sendAudio := func(pcm []byte) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
			slog.Error("voice: write audio", "error", err)
		}
	}

	cfgMsg, err := h.readConfig(conn)
	if err != nil {
		sendJSON(wsproto.ErrorMessage{Type: wsproto.TypeError, Kind: "protocol_error", Reason: err.Error()})
		return
	}

	tm := New(Config{
		SystemPrompt:    h.cfg.SystemPrompt,
		MaxHistoryTurns: h.cfg.MaxHistoryTurns,
		LLM:             h.cfg.NewLLMClient(),
		TTS:             h.cfg.NewTTSClient(),
		FallbackText:    h.cfg.FallbackText,
		LLMTimeout:      h.cfg.LLMTimeout,
		TTSTimeout:      h.cfg.TTSTimeout,
	}, Events{
		OnState: func(phase Phase, turnID string) {
			sendJSON(wsproto.VoiceStateMessage{Type: wsproto.TypeVoiceState, State: string(phase), TurnID: turnID})
		},
		OnUserTranscript: func(turnID, text string) {
			sendJSON(wsproto.VoiceUserTranscriptMessage{Type: wsproto.TypeVoiceUserTranscript, TurnID: turnID, Text: text})
		},
		OnAssistantText: func(turnID, text string, isFinal bool) {
			sendJSON(wsproto.VoiceAssistantTextMessage{Type: wsproto.TypeVoiceAssistantText, TurnID: turnID, Text: text, IsFinal: isFinal})
		},
		OnAudioStart: func(turnID string, llmMs, ttsTTFBMs float64) {
			sendJSON(wsproto.VoiceAudioStartMessage{Type: wsproto.TypeVoiceAudioStart, TurnID: turnID, LLMMs: llmMs, TTSTtfbMs: ttsTTFBMs})
		},
		OnAudioChunk: func(turnID string, pcm []byte) {
			sendAudio(pcm)
		},
		OnAudioEnd: func(turnID, reason string) {
			sendJSON(wsproto.VoiceAudioEndMessage{Type: wsproto.TypeVoiceAudioEnd, TurnID: turnID, Reason: reason})
		},
		OnError: func(turnID string, err error) {
			sendJSON(wsproto.ErrorMessage{Type: wsproto.TypeError, Kind: "turn", Reason: err.Error()})
		},
	})

	sendJSON(wsproto.VoiceSessionMessage{Type: wsproto.TypeVoiceSession, SessionID: sessionID, OutputRate: h.cfg.OutputSampleRate})

	sttRate := h.cfg.STTSampleRate
	if cfgMsg.ClientSampleRate > 0 {
		sttRate = cfgMsg.ClientSampleRate
	}

	var meetingGate *gate.Gate
	if cfgMsg.Options.MeetingMode {
		gcfg := gate.DefaultConfig()
		gcfg.VADEnabled = true
		gcfg.VADProfile = 1
		gcfg.SampleRate = sttRate
		meetingGate = gate.New(gcfg)
	}

	// Local energy VAD drives barge-in ahead of the STT provider: the
	// moment user speech starts while the assistant is talking, the
	// active turn's audio is cut instead of waiting for a final
	// transcript to arrive.
	vadCfg := audio.DefaultVADConfig()
	vadCfg.SampleRate = sttRate
	localVAD := audio.NewVAD(vadCfg)

	ctrl, err := h.cfg.STT.StartStreaming(ctx, provider.StreamingOptions{
		Language:       h.cfg.STTLanguage,
		SampleRate:     sttRate,
		InterimEnabled: cfgMsg.EnableInterim,
	})
	if err != nil {
		sendJSON(wsproto.ErrorMessage{Type: wsproto.TypeError, Kind: "stt_start", Reason: err.Error()})
		return
	}
	defer ctrl.Close()

	ctrl.OnData(func(t provider.PartialTranscript) {
		if !t.IsFinal || t.Text == "" {
			return
		}
		if cfgMsg.Options.MeetingRequireWake && !containsWakeWord(t.Text, cfgMsg.Options.WakeWords) {
			return
		}
		tm.OnFinalTranscript(ctx, t.Text)
	})
	ctrl.OnError(func(err error) {
		sendJSON(wsproto.ErrorMessage{Type: wsproto.TypeError, Kind: "stt", Reason: err.Error()})
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			slog.Info("voice: connection closed", "error", err)
			return
		}

		switch msgType {
		case websocket.TextMessage:
			h.handleCommand(tm, data)
		case websocket.BinaryMessage:
			f, err := frame.Decode(data)
			if err != nil {
				continue
			}
			metrics.AudioChunks.Inc()
			samples := f.Samples()
			if meetingGate != nil {
				decision := meetingGate.Process(samples, int64(f.CaptureTs), tm.Phase() == PhaseSpeaking)
				if !decision.Allow {
					continue
				}
			}
			wasActive := localVAD.SpeechActive()
			localVAD.Process(samples)
			if !wasActive && localVAD.SpeechActive() && tm.Phase() == PhaseSpeaking {
				tm.BargeIn()
			}
			_ = ctrl.SendAudio(ctx, f.PCM, provider.FrameMeta{CaptureTs: f.CaptureTs, Seq: f.Seq})
		}
	}
}

// readConfig consumes the mandatory first frame of a voice session.
func (h *Handler) readConfig(conn *websocket.Conn) (wsproto.ConfigMessage, error) {
	msgType, data, err := conn.ReadMessage()
	if err != nil {
		return wsproto.ConfigMessage{}, err
	}
	if msgType != websocket.TextMessage {
		return wsproto.ConfigMessage{}, errors.New("binary frame before config")
	}
	var cfg wsproto.ConfigMessage
	if err := wsproto.DecodeStrict(data, &cfg); err != nil {
		return wsproto.ConfigMessage{}, err
	}
	if err := wsproto.ValidateConfig(cfg); err != nil {
		return wsproto.ConfigMessage{}, err
	}
	return cfg, nil
}

// containsWakeWord reports whether any configured wake word appears in
// the utterance, case-insensitively. With no wake words configured the
// requirement cannot be satisfied and every utterance is ignored, which
// is the safe reading of "require a wake word" with none given.
func containsWakeWord(text string, wakeWords []string) bool {
	lower := strings.ToLower(text)
	for _, w := range wakeWords {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" && strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

func (h *Handler) handleCommand(tm *TurnMachine, data []byte) {
	var cmd wsproto.CommandMessage
	if err := wsproto.DecodeStrict(data, &cmd); err != nil {
		return
	}
	switch cmd.Name {
	case "barge_in":
		tm.BargeIn()
	case "stop_speaking":
		tm.StopSpeaking()
	case "reset_history":
		tm.ResetHistory()
	}
}
