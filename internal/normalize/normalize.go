// Package normalize implements the stream normalizer (C4): folding
// each provider's interim/final transcripts into fixed-width time
// windows, assigning monotonic per-(window,provider) revisions, and
// computing stable IDs and incremental text deltas.
package normalize

import (
	"fmt"
	"time"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/sttcompare/gateway/internal/provider"
)

// NormalizedEvent is the output of one Ingest call.
type NormalizedEvent struct {
	NormalizedID       string
	SessionID          string
	Provider           string
	WindowID           int64
	WindowStartMs      int64
	WindowEndMs        int64
	TextRaw            string
	TextNorm           string
	TextDelta          string
	IsFinal            bool
	Revision           int
	LatencyMs          float64
	Confidence         float64
	PunctuationApplied bool
	CasingApplied      bool
}

// windowKey identifies one (windowId, provider) cell in the table.
type windowKey struct {
	windowID int64
	provider string
}

// windowState is the per-(windowId, provider) state the normalizer
// maintains.
type windowState struct {
	revision int
	isFinal  bool
	textRaw  string
	textNorm string
	words    []provider.Word
}

// Normalizer folds one session's streaming transcripts into normalized
// events. Not safe for concurrent use from multiple goroutines on the
// same provider stream; the compare session serializes Ingest calls
// per adapter.
type Normalizer struct {
	sessionID string
	bucketMs  int64
	preset    Preset

	// windows is an insertion-ordered map so session-summary dumps can
	// iterate "windows seen so far, in first-seen order" without a
	// second sort pass.
	windows *orderedmap.OrderedMap[windowKey, *windowState]

	// prevFull tracks the last full raw text seen per provider, for
	// longest-common-prefix delta computation.
	prevFull map[string]string
}

// New constructs a Normalizer for one session. bucketMs defaults to
// 250 if <= 0.
func New(sessionID string, bucketMs int64, presetID string) *Normalizer {
	if bucketMs <= 0 {
		bucketMs = 250
	}
	return &Normalizer{
		sessionID: sessionID,
		bucketMs:  bucketMs,
		preset:    ResolvePreset(presetID),
		windows:   orderedmap.New[windowKey, *windowState](),
		prevFull:  make(map[string]string),
	}
}

// Ingest folds one transcript into its time window: bucket by capture
// time, diff against the provider's last full text, bump the window
// revision. A final freezes its window; a later interim only repeats
// the frozen content.
func (n *Normalizer) Ingest(providerName string, t provider.PartialTranscript) NormalizedEvent {
	captureTs := t.OriginCaptureTs
	if captureTs == 0 {
		captureTs = t.Timestamp
	}
	if captureTs == 0 {
		captureTs = float64(time.Now().UnixMilli())
	}
	windowID := int64(captureTs) / n.bucketMs
	windowStart := windowID * n.bucketMs
	windowEnd := windowStart + n.bucketMs

	prevFull := n.prevFull[providerName]
	lcp := longestCommonPrefix(prevFull, t.Text)
	delta := t.Text[lcp:]

	normInput := delta
	if delta == "" && t.Text != "" {
		normInput = t.Text
	}
	textNorm, punctApplied, caseApplied := n.preset.Apply(normInput)

	n.prevFull[providerName] = t.Text

	key := windowKey{windowID: windowID, provider: providerName}
	state, existed := n.windows.Get(key)

	if existed && state.isFinal && !t.IsFinal {
		// Final freezes the window: a later interim produces a repeat
		// event carrying the previous final content, with no state
		// change.
		return NormalizedEvent{
			NormalizedID:  fmt.Sprintf("%s:%s:%d:%d", n.sessionID, providerName, windowID, state.revision),
			SessionID:     n.sessionID,
			Provider:      providerName,
			WindowID:      windowID,
			WindowStartMs: windowStart,
			WindowEndMs:   windowEnd,
			TextRaw:       state.textRaw,
			TextNorm:      state.textNorm,
			IsFinal:       true,
			Revision:      state.revision,
			Confidence:    averageConfidence(t.Words),
		}
	}

	revision := 1
	isFinal := t.IsFinal
	if existed {
		revision = state.revision + 1
		isFinal = t.IsFinal || state.isFinal
	}

	newState := &windowState{
		revision: revision,
		isFinal:  isFinal,
		textRaw:  t.Text,
		textNorm: textNorm,
		words:    t.Words,
	}
	n.windows.Set(key, newState)

	return NormalizedEvent{
		NormalizedID:       fmt.Sprintf("%s:%s:%d:%d", n.sessionID, providerName, windowID, revision),
		SessionID:          n.sessionID,
		Provider:           providerName,
		WindowID:           windowID,
		WindowStartMs:      windowStart,
		WindowEndMs:        windowEnd,
		TextRaw:            t.Text,
		TextNorm:           textNorm,
		TextDelta:          delta,
		IsFinal:            isFinal,
		Revision:           revision,
		LatencyMs:          t.LatencyMs,
		Confidence:         averageConfidence(t.Words),
		PunctuationApplied: punctApplied,
		CasingApplied:      caseApplied,
	}
}

// Windows returns the windows seen so far in first-seen order, for
// session-summary dumps.
func (n *Normalizer) Windows() []NormalizedEvent {
	out := make([]NormalizedEvent, 0, n.windows.Len())
	for pair := n.windows.Oldest(); pair != nil; pair = pair.Next() {
		k, v := pair.Key, pair.Value
		out = append(out, NormalizedEvent{
			NormalizedID:  fmt.Sprintf("%s:%s:%d:%d", n.sessionID, k.provider, k.windowID, v.revision),
			SessionID:     n.sessionID,
			Provider:      k.provider,
			WindowID:      k.windowID,
			WindowStartMs: k.windowID * n.bucketMs,
			WindowEndMs:   k.windowID*n.bucketMs + n.bucketMs,
			TextRaw:       v.textRaw,
			TextNorm:      v.textNorm,
			IsFinal:       v.isFinal,
			Revision:      v.revision,
		})
	}
	return out
}

func longestCommonPrefix(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

// averageConfidence averages a word list's per-word confidence; 0 for
// an empty list.
func averageConfidence(words []provider.Word) float64 {
	if len(words) == 0 {
		return 0
	}
	var sum float64
	for _, word := range words {
		sum += word.Confidence
	}
	return sum / float64(len(words))
}
