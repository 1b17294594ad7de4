// Package voiceagent implements the voice turn machine (C6): phase
// state (listening/thinking/speaking), turn-scoped cancellation,
// append-only trimmed history, an LLM step and a sentence-pipelined TTS
// step, barge-in/stop/reset commands, and a guard so a late-completing
// aborted turn never mutates session state. Synthesis runs
// sentence-by-sentence: a producer goroutine writes PCM chunks to a
// bounded channel and the turn machine forwards them, checking its
// cancellation token at every chunk boundary.
package voiceagent

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/sttcompare/gateway/internal/apierr"
	"github.com/sttcompare/gateway/internal/ctxutil"
	"github.com/sttcompare/gateway/internal/metrics"
)

// Phase is the turn machine's current activity.
type Phase string

const (
	PhaseListening Phase = "listening"
	PhaseThinking  Phase = "thinking"
	PhaseSpeaking  Phase = "speaking"
)

// Message is one history entry.
type Message struct {
	Role    string // "system" | "user" | "assistant"
	Content string
}

// Events is how the turn machine reports state to its caller (the
// /ws/voice handler), one hook per voice_* message kind.
type Events struct {
	OnState          func(phase Phase, turnID string)
	OnUserTranscript func(turnID, text string)
	OnAssistantText  func(turnID, text string, isFinal bool)
	OnAudioStart     func(turnID string, llmMs, ttsTTFBMs float64)
	OnAudioChunk     func(turnID string, pcm []byte)
	OnAudioEnd       func(turnID, reason string) // completed | barge_in | stopped
	OnError          func(turnID string, err error)
}

// LLMClient is the minimal chat contract the turn machine needs.
type LLMClient interface {
	Chat(ctx context.Context, history []Message, onToken func(string)) (text string, err error)
}

// TTSClient synthesizes one sentence at a time. Synthesize may be
// called many times per turn (once per sentence boundary): a producer
// writes PCM chunks to a channel; TurnMachine is the consumer.
type TTSClient interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Config configures a TurnMachine.
type Config struct {
	SystemPrompt    string
	MaxHistoryTurns int
	LLM             LLMClient
	TTS             TTSClient
	FallbackText    string        // spoken/text reply on LLM error
	LLMTimeout      time.Duration // per-turn LLM request budget
	TTSTimeout      time.Duration // per-sentence synthesis budget
}

// TurnMachine owns one voice session's state. Not safe for concurrent
// calls to its command methods; the /ws/voice handler serializes calls
// from its single reader goroutine.
type TurnMachine struct {
	cfg     Config
	events  Events
	mu      sync.Mutex
	phase   Phase
	history []Message

	currentTurnID string
	cancelCurrent context.CancelFunc
	playedMs      int
}

func New(cfg Config, events Events) *TurnMachine {
	if cfg.MaxHistoryTurns <= 0 {
		cfg.MaxHistoryTurns = 20
	}
	if cfg.LLMTimeout <= 0 {
		cfg.LLMTimeout = 60 * time.Second
	}
	if cfg.TTSTimeout <= 0 {
		cfg.TTSTimeout = 60 * time.Second
	}
	return &TurnMachine{
		cfg:    cfg,
		events: events,
		phase:  PhaseListening,
		history: []Message{
			{Role: "system", Content: cfg.SystemPrompt},
		},
	}
}

// Phase returns the current phase (safe for concurrent reads via the
// internal mutex).
func (m *TurnMachine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// OnFinalTranscript handles a completed user utterance: it aborts any
// in-flight turn (barge-in), appends the user's
// text, and starts a new turn's LLM+TTS pipeline.
func (m *TurnMachine) OnFinalTranscript(ctx context.Context, text string) {
	m.mu.Lock()
	m.abortCurrentLocked("barge_in", false)

	turnID := uuid.NewString()
	turnCtx, cancel := context.WithCancel(ctx)
	m.currentTurnID = turnID
	m.cancelCurrent = cancel
	m.history = append(m.history, Message{Role: "user", Content: text})
	m.phase = PhaseThinking
	m.mu.Unlock()

	if m.events.OnUserTranscript != nil {
		m.events.OnUserTranscript(turnID, text)
	}
	if m.events.OnState != nil {
		m.events.OnState(PhaseThinking, turnID)
	}

	go m.runTurn(turnCtx, turnID)
}

// abortCurrentLocked cancels the in-flight turn, if any. Callers must
// hold m.mu. It does NOT await the aborted goroutine — runTurn's own
// turnID re-check guarantees it cannot mutate state after this point.
// An explicit client command (fromCommand) terminates even a thinking
// turn with reason "stopped", since the LLM call was aborted before any
// audio went out; a barge-in from new speech only announces an end when
// audio was actually playing.
func (m *TurnMachine) abortCurrentLocked(reason string, fromCommand bool) {
	if m.cancelCurrent == nil {
		return
	}
	wasSpeaking := m.phase == PhaseSpeaking
	wasThinking := m.phase == PhaseThinking
	turnID := m.currentTurnID
	m.cancelCurrent()
	m.cancelCurrent = nil

	if m.events.OnAudioEnd == nil {
		return
	}
	if wasSpeaking {
		m.events.OnAudioEnd(turnID, reason)
	} else if wasThinking && fromCommand {
		m.events.OnAudioEnd(turnID, "stopped")
	}
}

// BargeIn and StopSpeaking both abort the current turn; BargeIn is
// triggered by new user speech mid-turn (reason "barge_in"),
// StopSpeaking by an explicit client command (reason "stopped").
func (m *TurnMachine) BargeIn() { m.abort("barge_in") }

func (m *TurnMachine) StopSpeaking() { m.abort("stopped") }

func (m *TurnMachine) abort(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.abortCurrentLocked(reason, true)
	m.phase = PhaseListening
	m.currentTurnID = ""
}

// ResetHistory clears all turn messages, keeping the system message.
func (m *TurnMachine) ResetHistory() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.abortCurrentLocked("stopped", true)
	m.history = m.history[:1]
	m.phase = PhaseListening
	m.currentTurnID = ""
}

// isCurrent reports whether turnID still matches the session's active
// turn. Re-checked before every state mutation, so a late-completing
// aborted turn cannot corrupt state.
func (m *TurnMachine) isCurrent(turnID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentTurnID == turnID
}

func (m *TurnMachine) runTurn(ctx context.Context, turnID string) {
	var llmMs float64
	var replyText string
	var err error

	replyText, llmMs, err = m.runLLMStep(ctx, turnID)
	if ctx.Err() != nil {
		return // aborted mid-LLM-call; discard silently
	}
	if err != nil {
		if !m.isCurrent(turnID) {
			return
		}
		fallback := m.cfg.FallbackText
		if m.events.OnAssistantText != nil {
			m.events.OnAssistantText(turnID, fallback, true)
		}
		if m.events.OnError != nil {
			m.events.OnError(turnID, err)
		}
		m.returnToListening(turnID)
		return
	}

	if !m.isCurrent(turnID) {
		return
	}
	if m.events.OnAssistantText != nil {
		m.events.OnAssistantText(turnID, replyText, true)
	}

	m.runTTSStep(ctx, turnID, replyText, llmMs)
}

func (m *TurnMachine) runLLMStep(ctx context.Context, turnID string) (string, float64, error) {
	m.mu.Lock()
	history := append([]Message(nil), m.history...)
	m.mu.Unlock()

	var tokenBuf atomic.Value
	tokenBuf.Store("")

	scope := ctxutil.WithTimeout(ctx, m.cfg.LLMTimeout)
	defer scope.Cancel()

	start := time.Now()
	text, err := m.cfg.LLM.Chat(scope.Context(), history, func(tok string) {
		prev, _ := tokenBuf.Load().(string)
		tokenBuf.Store(prev + tok)
	})
	llmMs := float64(time.Since(start).Milliseconds())
	if err != nil && scope.DidTimeout() {
		err = apierr.New(apierr.Timeout, "voice.llm", err)
	}
	return text, llmMs, err
}

func (m *TurnMachine) runTTSStep(ctx context.Context, turnID, replyText string, llmMs float64) {
	if !m.isCurrent(turnID) {
		return
	}
	m.mu.Lock()
	m.phase = PhaseSpeaking
	m.mu.Unlock()

	sentences := splitSentences(replyText)

	var ttfb float64
	first := true
	ttsStart := time.Now()
	for _, sentence := range sentences {
		if ctx.Err() != nil || !m.isCurrent(turnID) {
			return
		}
		scope := ctxutil.WithTimeout(ctx, m.cfg.TTSTimeout)
		chunk, err := m.cfg.TTS.Synthesize(scope.Context(), sentence)
		if err != nil && scope.DidTimeout() {
			err = apierr.New(apierr.Timeout, "voice.tts", err)
		}
		scope.Cancel()
		if err != nil {
			if m.events.OnError != nil {
				m.events.OnError(turnID, err)
			}
			return
		}
		if first {
			ttfb = float64(time.Since(ttsStart).Milliseconds())
			metrics.VoiceE2EDuration.Observe((llmMs + ttfb) / 1000)
			if m.events.OnAudioStart != nil {
				m.events.OnAudioStart(turnID, llmMs, ttfb)
			}
			first = false
		}
		if ctx.Err() != nil || !m.isCurrent(turnID) {
			return
		}
		if m.events.OnAudioChunk != nil {
			m.events.OnAudioChunk(turnID, chunk)
		}
	}

	if !m.isCurrent(turnID) {
		return
	}

	m.mu.Lock()
	m.history = append(m.history, Message{Role: "assistant", Content: replyText})
	m.trimHistoryLocked()
	m.mu.Unlock()

	if m.events.OnAudioEnd != nil {
		m.events.OnAudioEnd(turnID, "completed")
	}
	m.returnToListening(turnID)
}

func (m *TurnMachine) returnToListening(turnID string) {
	m.mu.Lock()
	if m.currentTurnID == turnID {
		m.phase = PhaseListening
		m.currentTurnID = ""
		m.cancelCurrent = nil
	}
	m.mu.Unlock()
	if m.events.OnState != nil {
		m.events.OnState(PhaseListening, turnID)
	}
}

// trimHistoryLocked drops the oldest user/assistant pairs once the
// count exceeds MaxHistoryTurns, keeping the system message. Callers
// must hold m.mu.
func (m *TurnMachine) trimHistoryLocked() {
	pairs := (len(m.history) - 1) / 2
	if pairs <= m.cfg.MaxHistoryTurns {
		return
	}
	excess := pairs - m.cfg.MaxHistoryTurns
	m.history = append(m.history[:1], m.history[1+excess*2:]...)
}
