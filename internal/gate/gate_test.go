package gate

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func constSamples(amplitude float32, n int) []float32 {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = amplitude
	}
	return samples
}

func TestGate_OpensOnLoudFrame(t *testing.T) {
	g := New(DefaultConfig())

	loud := constSamples(0.5, 320)
	d := g.Process(loud, 0, false)

	require.True(t, d.Allow)
	require.True(t, d.Opened)
	require.True(t, d.SpeechDetected)
}

func TestGate_StaysOpenWithinHangover(t *testing.T) {
	g := New(DefaultConfig())

	g.Process(constSamples(0.5, 320), 0, false)

	quiet := constSamples(0.001, 320)
	d := g.Process(quiet, 100, false) // within the 250ms hangover

	require.True(t, d.Allow)
	require.False(t, d.Closed)
}

func TestGate_ClosesAfterHangoverExpires(t *testing.T) {
	g := New(DefaultConfig())

	g.Process(constSamples(0.5, 320), 0, false)
	g.Process(constSamples(0.001, 320), 100, false)

	d := g.Process(constSamples(0.001, 320), 260, false) // hangoverUntil was 250

	require.False(t, d.Allow)
	require.True(t, d.Closed)
}

func TestGate_AssistantGuardRaisesThreshold(t *testing.T) {
	cfg := DefaultConfig()
	borderline := constSamples(0.012, 320) // >= MinRMS*OpenFactor-floor(0.01), < guarded (0.015)

	withoutGuard := New(cfg)
	d1 := withoutGuard.Process(borderline, 0, false)
	require.True(t, d1.Allow, "a borderline frame should open the gate when the assistant is silent")

	withGuard := New(cfg)
	d2 := withGuard.Process(borderline, 0, true)
	require.False(t, d2.Allow, "the same frame should be suppressed while the assistant is speaking")
}

func TestGate_SilenceNeverOpens(t *testing.T) {
	g := New(DefaultConfig())

	d := g.Process(constSamples(0, 320), 0, false)
	require.False(t, d.Allow)
	require.False(t, d.Opened)
}

func sineSamples(freqHz float64, amplitude float32, sampleRate int, dur int) []float32 {
	n := sampleRate * dur / 1000
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = amplitude * float32(math.Sin(2*math.Pi*freqHz*float64(i)/float64(sampleRate)))
	}
	return samples
}

func mixSamples(a, b []float32) []float32 {
	out := make([]float32, len(a))
	for i := range out {
		out[i] = 0.5*a[i] + 0.5*b[i]
	}
	return out
}

func TestGateVAD_SuppressesPureTone(t *testing.T) {
	cfg := DefaultConfig()
	cfg.VADEnabled = true
	cfg.VADProfile = 1
	g := New(cfg)

	tone := sineSamples(1000, 0.05, cfg.SampleRate, 200)
	d := g.Process(tone, 0, false)

	require.False(t, d.Allow)
	require.False(t, d.SpeechDetected)
}

func TestGateVAD_AllowsDualToneMix(t *testing.T) {
	cfg := DefaultConfig()
	cfg.VADEnabled = true
	cfg.VADProfile = 1
	g := New(cfg)

	mix := mixSamples(
		sineSamples(300, 0.06, cfg.SampleRate, 200),
		sineSamples(900, 0.06, cfg.SampleRate, 200),
	)
	d := g.Process(mix, 0, false)

	require.True(t, d.Allow)
	require.True(t, d.SpeechDetected)
}

func TestClampConfig_RejectsNonPositiveValues(t *testing.T) {
	g := New(Config{})
	require.Equal(t, DefaultConfig().MinRMS, g.cfg.MinRMS)
	require.Equal(t, DefaultConfig().OpenFactor, g.cfg.OpenFactor)
	require.Equal(t, DefaultConfig().SampleRate, g.cfg.SampleRate)
}
