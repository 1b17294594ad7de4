package normalize

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/sttcompare/gateway/internal/provider"
)

func TestIngest_RevisionsIncreasePerWindow(t *testing.T) {
	n := New("sess1", 250, "")

	ev1 := n.Ingest("wscloud", provider.PartialTranscript{
		Text: "hel", OriginCaptureTs: 10,
	})
	require.Equal(t, 1, ev1.Revision)
	require.False(t, ev1.IsFinal)

	ev2 := n.Ingest("wscloud", provider.PartialTranscript{
		Text: "hello", OriginCaptureTs: 120,
	})
	require.Equal(t, 2, ev2.Revision)
	require.Equal(t, int64(0), ev2.WindowID)
	require.Equal(t, "lo", ev2.TextDelta) // LCP("hel", "hello") = 3

	ev3 := n.Ingest("wscloud", provider.PartialTranscript{
		Text: "hello there", OriginCaptureTs: 200, IsFinal: true,
	})
	require.Equal(t, 3, ev3.Revision)
	require.True(t, ev3.IsFinal)
}

func TestIngest_ReplayProducesIdenticalEvents(t *testing.T) {
	input := []provider.PartialTranscript{
		{Text: "hello", OriginCaptureTs: 1000},
		{Text: "hello world", OriginCaptureTs: 1020, IsFinal: true},
		{Text: "next", OriginCaptureTs: 1300},
	}

	run := func() []NormalizedEvent {
		n := New("s", 250, "")
		out := make([]NormalizedEvent, 0, len(input))
		for _, in := range input {
			out = append(out, n.Ingest("P", in))
		}
		return out
	}

	first, second := run(), run()
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("replay diverged (-first +second):\n%s", diff)
	}
	require.Equal(t, "s:P:4:1", first[0].NormalizedID)
	require.Equal(t, "s:P:4:2", first[1].NormalizedID)
}

func TestIngest_FinalFreezesWindow(t *testing.T) {
	n := New("sess1", 250, "")

	n.Ingest("wscloud", provider.PartialTranscript{Text: "done", OriginCaptureTs: 10, IsFinal: true})

	// A later interim in the same window is a frozen repeat: same
	// revision, same text, no state mutation.
	repeat := n.Ingest("wscloud", provider.PartialTranscript{Text: "done more", OriginCaptureTs: 50})
	require.Equal(t, 1, repeat.Revision)
	require.True(t, repeat.IsFinal)
	require.Equal(t, "done", repeat.TextRaw)

	windows := n.Windows()
	require.Len(t, windows, 1)
	require.Equal(t, "done", windows[0].TextRaw)
}

func TestIngest_SeparateWindowsPerBucket(t *testing.T) {
	n := New("sess1", 250, "")

	n.Ingest("wscloud", provider.PartialTranscript{Text: "a", OriginCaptureTs: 10})
	n.Ingest("wscloud", provider.PartialTranscript{Text: "b", OriginCaptureTs: 260})

	windows := n.Windows()
	require.Len(t, windows, 2)
}

func TestIngest_SeparateProvidersDoNotShareWindows(t *testing.T) {
	n := New("sess1", 250, "")

	n.Ingest("wscloud", provider.PartialTranscript{Text: "a", OriginCaptureTs: 10})
	n.Ingest("realtime", provider.PartialTranscript{Text: "a", OriginCaptureTs: 10})

	windows := n.Windows()
	require.Len(t, windows, 2)
}

func TestIngest_AverageConfidence(t *testing.T) {
	n := New("sess1", 250, "")

	ev := n.Ingest("wscloud", provider.PartialTranscript{
		Text:            "hi",
		OriginCaptureTs: 10,
		Words: []provider.Word{
			{Text: "hi", Confidence: 0.8},
			{Text: "there", Confidence: 0.4},
		},
	})
	require.InDelta(t, 0.6, ev.Confidence, 1e-9)
}

func TestResolvePreset(t *testing.T) {
	cases := []struct {
		id   string
		want Preset
	}{
		{"wer", PresetWER},
		{"cer", PresetCER},
		{"", PresetUnset},
		{"unknown", PresetUnset},
	}
	for _, c := range cases {
		require.Equal(t, c.want, ResolvePreset(c.id))
	}
}

func TestPresetApply(t *testing.T) {
	cases := []struct {
		name       string
		preset     Preset
		in         string
		wantText   string
		wantPunct  bool
		wantCasing bool
	}{
		{"unset trims only", PresetUnset, "  Hello, World!  ", "Hello, World!", false, false},
		{"wer strips punct and lowercases", PresetWER, "Hello, World!", "hello world", true, true},
		{"cer strips punct keeps case", PresetCER, "Hello, World!", "Hello World", true, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			out, punct, casing := c.preset.Apply(c.in)
			require.Equal(t, c.wantText, out)
			require.Equal(t, c.wantPunct, punct)
			require.Equal(t, c.wantCasing, casing)
		})
	}
}

func TestComputeWER(t *testing.T) {
	require.Equal(t, 0.0, ComputeWER("hello world", "hello world"))
	require.Greater(t, ComputeWER("hello world", "hello there"), 0.0)
	require.Equal(t, 0.0, ComputeWER("", "anything"))
}
