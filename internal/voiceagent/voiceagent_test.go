package voiceagent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubLLM struct {
	mu    sync.Mutex
	delay time.Duration
	reply string
	err   error
}

func (s *stubLLM) Chat(ctx context.Context, history []Message, onToken func(string)) (string, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if s.err != nil {
		return "", s.err
	}
	if onToken != nil {
		onToken(s.reply)
	}
	return s.reply, nil
}

type stubTTS struct {
	calls int32
	mu    sync.Mutex
}

func (s *stubTTS) Synthesize(ctx context.Context, text string) ([]byte, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return []byte(text), nil
}

func newTestEvents(t *testing.T) (Events, chan string) {
	states := make(chan string, 64)
	return Events{
		OnState: func(phase Phase, turnID string) {
			states <- string(phase)
		},
		OnAudioEnd: func(turnID, reason string) {
			states <- "end:" + reason
		},
	}, states
}

func TestTurnMachine_HappyPath(t *testing.T) {
	events, states := newTestEvents(t)
	tm := New(Config{
		SystemPrompt:    "you are helpful",
		MaxHistoryTurns: 10,
		LLM:             &stubLLM{reply: "hello there"},
		TTS:             &stubTTS{},
		FallbackText:    "sorry",
	}, events)

	tm.OnFinalTranscript(context.Background(), "hi")

	require.Eventually(t, func() bool {
		return tm.Phase() == PhaseListening
	}, time.Second, 5*time.Millisecond)

	var seen []string
	drain:
	for {
		select {
		case s := <-states:
			seen = append(seen, s)
		default:
			break drain
		}
	}
	require.Contains(t, seen, "thinking")
	require.Contains(t, seen, "speaking")
	require.Contains(t, seen, "end:completed")
}

func TestTurnMachine_LLMErrorFallsBack(t *testing.T) {
	var gotErr error
	tm := New(Config{
		SystemPrompt:    "sys",
		MaxHistoryTurns: 10,
		LLM:             &stubLLM{err: errors.New("boom")},
		TTS:             &stubTTS{},
		FallbackText:    "i had trouble",
	}, Events{
		OnError: func(turnID string, err error) { gotErr = err },
	})

	tm.OnFinalTranscript(context.Background(), "hi")

	require.Eventually(t, func() bool {
		return tm.Phase() == PhaseListening
	}, time.Second, 5*time.Millisecond)
	require.Error(t, gotErr)
}

func TestTurnMachine_BargeInAbortsSpeaking(t *testing.T) {
	events, states := newTestEvents(t)
	slowLLM := &stubLLM{reply: "a long reply", delay: 50 * time.Millisecond}
	tm := New(Config{
		SystemPrompt:    "sys",
		MaxHistoryTurns: 10,
		LLM:             slowLLM,
		TTS:             &stubTTS{},
	}, events)

	tm.OnFinalTranscript(context.Background(), "first")
	time.Sleep(20 * time.Millisecond)
	tm.OnFinalTranscript(context.Background(), "second") // barges in mid-thinking

	require.Eventually(t, func() bool {
		return tm.Phase() == PhaseListening
	}, time.Second, 5*time.Millisecond)

	var seen []string
	for {
		select {
		case s := <-states:
			seen = append(seen, s)
			continue
		default:
		}
		break
	}
	require.Contains(t, seen, "thinking")
}

func TestTurnMachine_StopWhileThinkingEmitsStopped(t *testing.T) {
	events, states := newTestEvents(t)
	tm := New(Config{
		SystemPrompt:    "sys",
		MaxHistoryTurns: 10,
		LLM:             &stubLLM{reply: "late reply", delay: 200 * time.Millisecond},
		TTS:             &stubTTS{},
	}, events)

	tm.OnFinalTranscript(context.Background(), "hi")
	require.Eventually(t, func() bool {
		return tm.Phase() == PhaseThinking
	}, time.Second, time.Millisecond)

	tm.StopSpeaking()
	require.Equal(t, PhaseListening, tm.Phase())

	var seen []string
	for {
		select {
		case s := <-states:
			seen = append(seen, s)
			continue
		default:
		}
		break
	}
	require.Contains(t, seen, "end:stopped")

	// The aborted LLM call completes later without touching history.
	time.Sleep(250 * time.Millisecond)
	tm.mu.Lock()
	defer tm.mu.Unlock()
	for _, m := range tm.history {
		require.NotEqual(t, "assistant", m.Role)
	}
}

func TestTurnMachine_ResetHistoryKeepsSystemMessage(t *testing.T) {
	tm := New(Config{
		SystemPrompt:    "sys",
		MaxHistoryTurns: 10,
		LLM:             &stubLLM{reply: "ok"},
		TTS:             &stubTTS{},
	}, Events{})

	tm.OnFinalTranscript(context.Background(), "hi")
	require.Eventually(t, func() bool {
		return tm.Phase() == PhaseListening
	}, time.Second, 5*time.Millisecond)

	tm.ResetHistory()
	tm.mu.Lock()
	defer tm.mu.Unlock()
	require.Len(t, tm.history, 1)
	require.Equal(t, "system", tm.history[0].Role)
}

func TestTrimHistoryKeepsRecentTurns(t *testing.T) {
	tm := New(Config{SystemPrompt: "sys", MaxHistoryTurns: 2}, Events{})
	tm.mu.Lock()
	for i := 0; i < 5; i++ {
		tm.history = append(tm.history, Message{Role: "user", Content: "u"}, Message{Role: "assistant", Content: "a"})
	}
	tm.trimHistoryLocked()
	n := len(tm.history)
	tm.mu.Unlock()
	require.Equal(t, 1+2*2, n)
}

func TestSplitSentences(t *testing.T) {
	out := splitSentences("Hello world. How are you? Fine!")
	require.Equal(t, []string{"Hello world.", "How are you?", "Fine!"}, out)
}

func TestSplitSentences_NoTerminalPunctuation(t *testing.T) {
	out := splitSentences("no boundary here")
	require.Equal(t, []string{"no boundary here"}, out)
}
