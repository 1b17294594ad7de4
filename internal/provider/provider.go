// Package provider implements the uniform streaming contract over the
// upstream ASR providers: a single Adapter contract with streaming and
// batch operations, one concrete adapter per upstream, plus an
// explicit fan-out pub-sub (a tiny broadcaster holding a vector of
// callbacks, delivery in subscription order, one subscriber's error
// never suppressing the others).
package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sttcompare/gateway/internal/apierr"
)

// Word is one recognized token with timing and optional confidence.
type Word struct {
	Start      float64
	End        float64
	Text       string
	Confidence float64
}

// PartialTranscript is produced by an adapter for every interim or final
// hypothesis it receives from upstream.
type PartialTranscript struct {
	Provider        string
	IsFinal         bool
	Text            string
	Words           []Word
	Timestamp       float64
	OriginCaptureTs float64
	Channel         string // "mic" | "file"
	LatencyMs       float64
	SpeakerID       string
	Seq             int
}

// StreamingOptions is the immutable, per-session negotiated configuration
// passed to StartStreaming and TranscribeFileFromPCM.
type StreamingOptions struct {
	Language          string
	SampleRate        int
	Encoding          string
	InterimEnabled    bool
	Diarization       bool
	PunctuationPolicy string
	DictionaryPhrases []string // ≤100, enforced by the caller (C5 handshake)
	ContextPhrases    []string // ≤100
	VADEnabled        bool
	NormalizePreset   string
	ParallelFanOut    int
}

// BatchResult is the outcome of TranscribeFileFromPCM.
type BatchResult struct {
	Text      string
	Words     []Word
	LatencyMs float64
}

// FrameMeta accompanies one SendAudio call.
type FrameMeta struct {
	CaptureTs float64
	Seq       uint32
}

// ConnState is the lifecycle state every streaming adapter session moves
// through: Connecting → Open → Closing → Closed.
type ConnState int

const (
	Connecting ConnState = iota
	Open
	Closing
	Closed
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// StreamController is the handle returned by StartStreaming.
type StreamController interface {
	// SendAudio buffers/awaits upstream readiness internally; the first
	// call may block until the handshake completes. Fails with
	// AdapterConnect (not ready within budget) or AdapterTransport
	// (definitive failure).
	SendAudio(ctx context.Context, chunk []byte, meta FrameMeta) error
	// End politely signals end-of-audio upstream. After End, further
	// SendAudio calls are a programmer error.
	End(ctx context.Context) error
	// Close aborts immediately. Safe to call repeatedly and from any state.
	Close() error
	// OnData/OnError/OnClose register callbacks invoked in subscription
	// order; multiple subscribers are allowed, and one subscriber's panic
	// recovery/error never suppresses the others' delivery.
	OnData(func(PartialTranscript))
	OnError(func(error))
	OnClose(func())

	State() ConnState
}

// Adapter is the contract every provider variant implements.
type Adapter interface {
	// Name identifies the adapter for logging, metrics, and availability.
	Name() string
	// StartStreaming establishes the upstream connection. Returns
	// UnsupportedCapability if the adapter is batch-only.
	StartStreaming(ctx context.Context, opts StreamingOptions) (StreamController, error)
	// TranscribeFileFromPCM is the batch path: buffer the full PCM, POST
	// with bounded-retry semantics (see batch.go), parse the result.
	TranscribeFileFromPCM(ctx context.Context, pcm []byte, opts StreamingOptions) (*BatchResult, error)
}

// broadcaster is the shared fan-out primitive every adapter variant
// embeds: an explicit list of subscribers per event kind, delivered in
// subscription order. An error in one subscriber never suppresses the
// others.
type broadcaster struct {
	mu        sync.Mutex
	state     ConnState
	dataSubs  []func(PartialTranscript)
	errSubs   []func(error)
	closeSubs []func()
	closeOnce sync.Once
}

func (b *broadcaster) OnData(fn func(PartialTranscript)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dataSubs = append(b.dataSubs, fn)
}

func (b *broadcaster) OnError(fn func(error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errSubs = append(b.errSubs, fn)
}

func (b *broadcaster) OnClose(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closeSubs = append(b.closeSubs, fn)
}

func (b *broadcaster) emitData(t PartialTranscript) {
	b.mu.Lock()
	subs := append([]func(PartialTranscript){}, b.dataSubs...)
	b.mu.Unlock()
	for _, fn := range subs {
		fn(t)
	}
}

func (b *broadcaster) emitError(err error) {
	b.mu.Lock()
	subs := append([]func(error){}, b.errSubs...)
	b.mu.Unlock()
	for _, fn := range subs {
		fn(err)
	}
}

// emitClose is safe to call more than once; only the first call fires
// subscribers, matching Close()'s idempotency requirement.
func (b *broadcaster) emitClose() {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		subs := append([]func(){}, b.closeSubs...)
		b.mu.Unlock()
		for _, fn := range subs {
			fn()
		}
	})
}

func (b *broadcaster) setState(s ConnState) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
}

func (b *broadcaster) State() ConnState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// joinNonEmpty trims and comma-joins non-empty phrases, used by the
// websocket-cloud adapter for keywords/context query params.
func joinNonEmpty(phrases []string, sep string) string {
	out := make([]string, 0, len(phrases))
	for _, p := range phrases {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}

// errUnsupported is a convenience constructor for UnsupportedCapability.
func errUnsupported(op string) error {
	return apierr.New(apierr.UnsupportedCapability, op, nil)
}

// apierrInvalidLanguage is a convenience constructor for InvalidLanguage,
// shared by the wscloud and realtime adapters.
func apierrInvalidLanguage(lang string) error {
	return apierr.New(apierr.InvalidLanguage, "normalize_language", fmt.Errorf("unsupported language %q", lang))
}
