// Package gate implements the meeting audio gate (C2): a per-session
// speech detector that suppresses room noise, hold music, and the
// assistant's own playback before audio ever reaches a provider
// adapter. It is a sibling of internal/audio.VAD (silence-timeout,
// energy-only, adaptive calibration) rather than a copy of it: this
// gate runs an EMA noise floor with open/close hysteresis and an
// optional zero-crossing-rate/tonality sub-frame estimator instead of
// VAD's speech-segment buffering.
package gate

import "math"

// Config holds the gate's tunable thresholds, all clamped to sane
// ranges by NewGate.
type Config struct {
	MinRMS               float32
	NoiseAlpha           float32
	OpenFactor           float32
	CloseFactor          float32
	HangoverMs           int64
	AssistantGuardFactor float32
	VADEnabled           bool
	VADProfile           int // 0..3, more aggressive as it increases
	SampleRate           int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		MinRMS:               0.01,
		NoiseAlpha:           0.03,
		OpenFactor:           3.0,
		CloseFactor:          1.8,
		HangoverMs:           250,
		AssistantGuardFactor: 1.5,
		VADEnabled:           false,
		VADProfile:           0,
		SampleRate:           16000,
	}
}

// vadProfile is one of the four fixed VAD-lite threshold tuples. More
// aggressive profiles (higher index) raise all thresholds.
type vadProfile struct {
	snrThreshold    float32
	zcrMin          float32
	zcrMax          float32
	minSpeechFrames int
	speechRatio     float32
	toneStdRatio    float32
}

var vadProfiles = [4]vadProfile{
	{snrThreshold: 1.5, zcrMin: 0.02, zcrMax: 0.35, minSpeechFrames: 2, speechRatio: 0.3, toneStdRatio: 0.15},
	{snrThreshold: 2.0, zcrMin: 0.03, zcrMax: 0.30, minSpeechFrames: 3, speechRatio: 0.4, toneStdRatio: 0.20},
	{snrThreshold: 2.5, zcrMin: 0.04, zcrMax: 0.28, minSpeechFrames: 4, speechRatio: 0.5, toneStdRatio: 0.25},
	{snrThreshold: 3.0, zcrMin: 0.05, zcrMax: 0.25, minSpeechFrames: 5, speechRatio: 0.6, toneStdRatio: 0.30},
}

func clampConfig(c Config) Config {
	if c.MinRMS <= 0 {
		c.MinRMS = 0.01
	}
	if c.NoiseAlpha <= 0 || c.NoiseAlpha > 1 {
		c.NoiseAlpha = 0.03
	}
	if c.OpenFactor <= 0 {
		c.OpenFactor = 3.0
	}
	if c.CloseFactor <= 0 {
		c.CloseFactor = 1.8
	}
	if c.HangoverMs <= 0 {
		c.HangoverMs = 250
	}
	if c.AssistantGuardFactor <= 0 {
		c.AssistantGuardFactor = 1.5
	}
	if c.VADProfile < 0 {
		c.VADProfile = 0
	}
	if c.VADProfile > 3 {
		c.VADProfile = 3
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	return c
}

// Decision is the outcome of one Process call.
type Decision struct {
	Allow         bool
	Opened        bool
	Closed        bool
	SpeechDetected bool
}

// Gate is a per-session speech detector. Not safe for concurrent use;
// one Gate per session, fed serially from the audio loop.
type Gate struct {
	cfg Config

	open          bool
	noiseRms      float32
	hangoverUntil int64 // ms, compared against captureTs
	lastCaptureTs int64

	silero *SileroDetector // non-nil only when VADProfile == 3 and WithSilero was called
}

// New constructs a Gate with clamped config.
func New(cfg Config) *Gate {
	return &Gate{cfg: clampConfig(cfg)}
}

// Process runs one frame of PCM samples (already decoded to float32)
// through the gate, given its capture timestamp in epoch-ms and
// whether the assistant is currently speaking (echo guard).
func (g *Gate) Process(samples []float32, captureTs int64, assistantSpeaking bool) Decision {
	if captureTs > g.lastCaptureTs {
		g.lastCaptureTs = captureTs
	}

	rms := computeRMS(samples)

	guard := float32(1.0)
	if assistantSpeaking {
		guard = g.cfg.AssistantGuardFactor
	}
	factor := g.cfg.OpenFactor
	if g.open {
		factor = g.cfg.CloseFactor
	}
	threshold := max32(g.cfg.MinRMS, g.noiseRms*factor) * guard

	var speechDetected bool
	if g.cfg.VADEnabled {
		speechDetected = g.detectSpeechVAD(samples, rms, threshold)
	} else {
		speechDetected = rms >= threshold
	}

	if !g.open || rms < g.noiseRms {
		g.noiseRms = g.noiseRms*(1-g.cfg.NoiseAlpha) + rms*g.cfg.NoiseAlpha
	}

	var opened, closed bool
	if !g.open && speechDetected {
		g.open = true
		opened = true
		g.hangoverUntil = captureTs + g.cfg.HangoverMs
	} else if g.open {
		if speechDetected {
			g.hangoverUntil = captureTs + g.cfg.HangoverMs
		} else if captureTs >= g.hangoverUntil {
			g.open = false
			closed = true
		}
	}

	return Decision{
		Allow:          g.open,
		Opened:         opened,
		Closed:         closed,
		SpeechDetected: speechDetected,
	}
}

// detectSpeechVAD splits the frame into ~20ms sub-frames and classifies
// each via RMS/SNR, zero-crossing rate, and tonality (subframe.go).
func (g *Gate) detectSpeechVAD(samples []float32, frameRMS, threshold float32) bool {
	if g.cfg.VADProfile == 3 && g.silero != nil {
		speech, err := g.silero.DetectSpeech(samples)
		if err == nil {
			return speech
		}
		// Fall through to the pure-Go estimator on a model failure rather
		// than silently allowing (or blocking) every frame.
	}

	profile := vadProfiles[g.cfg.VADProfile]
	subLen := g.cfg.SampleRate / 50 // ~20ms
	if subLen <= 0 {
		subLen = 320
	}

	total := 0
	speechCount := 0
	for start := 0; start < len(samples); start += subLen {
		end := start + subLen
		if end > len(samples) {
			end = len(samples)
		}
		sub := samples[start:end]
		if len(sub) == 0 {
			continue
		}
		total++
		if isSubframeSpeech(sub, threshold, g.noiseRms, profile) {
			speechCount++
		}
	}
	if total == 0 {
		return false
	}
	ratio := float32(speechCount) / float32(total)
	return speechCount >= profile.minSpeechFrames && ratio > profile.speechRatio
}

func computeRMS(samples []float32) float32 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return float32(math.Sqrt(sum / float64(len(samples))))
}

func max32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}
