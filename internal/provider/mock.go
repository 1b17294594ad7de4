package provider

import (
	"context"
	"fmt"
	"time"
)

// MockAdapter is the adapter used by tests and as a safe fallback: it
// echoes each chunk's byte length as interim text and emits a fixed
// final transcript on End().
type MockAdapter struct {
	FinalText string
}

// NewMockAdapter creates a MockAdapter with the given fixed final text.
func NewMockAdapter(finalText string) *MockAdapter {
	if finalText == "" {
		finalText = "mock final transcript"
	}
	return &MockAdapter{FinalText: finalText}
}

func (m *MockAdapter) Name() string { return "mock" }

func (m *MockAdapter) StartStreaming(ctx context.Context, opts StreamingOptions) (StreamController, error) {
	c := &mockController{final: m.FinalText}
	c.setState(Open)
	return c, nil
}

func (m *MockAdapter) TranscribeFileFromPCM(ctx context.Context, pcm []byte, opts StreamingOptions) (*BatchResult, error) {
	return &BatchResult{Text: m.FinalText, LatencyMs: 1}, nil
}

type mockController struct {
	broadcaster
	final string
	seq   int
}

func (c *mockController) SendAudio(ctx context.Context, chunk []byte, meta FrameMeta) error {
	if c.State() != Open {
		return fmt.Errorf("mock: send on non-open controller (%s)", c.State())
	}
	c.seq++
	c.emitData(PartialTranscript{
		Provider:        "mock",
		IsFinal:         false,
		Text:            fmt.Sprintf("%d bytes", len(chunk)),
		Timestamp:       float64(time.Now().UnixMilli()),
		OriginCaptureTs: meta.CaptureTs,
		Channel:         "mic",
		Seq:             c.seq,
	})
	return nil
}

func (c *mockController) End(ctx context.Context) error {
	c.setState(Closing)
	c.emitData(PartialTranscript{
		Provider:  "mock",
		IsFinal:   true,
		Text:      c.final,
		Timestamp: float64(time.Now().UnixMilli()),
		Channel:   "mic",
	})
	c.setState(Closed)
	c.emitClose()
	return nil
}

func (c *mockController) Close() error {
	c.setState(Closed)
	c.emitClose()
	return nil
}
