package gate

import (
	"fmt"

	"github.com/streamer45/silero-vad-go/speech"
)

// SileroConfig configures the optional ONNX-backed VAD delegate used
// for VAD profile 3 (the most aggressive profile). Profiles 0-2 never
// touch this file — they stay on the pure-Go estimator in subframe.go,
// so the common path carries no ONNX runtime dependency.
type SileroConfig struct {
	ModelPath            string
	SampleRate           int
	WindowSize           int
	Threshold            float32
	MinSilenceDurationMs int
	SpeechPadMs          int
}

// DefaultSileroConfig returns the stock detector thresholds.
func DefaultSileroConfig(modelPath string, sampleRate int) SileroConfig {
	return SileroConfig{
		ModelPath:            modelPath,
		SampleRate:           sampleRate,
		WindowSize:           512,
		Threshold:            0.5,
		MinSilenceDurationMs: 350,
		SpeechPadMs:          200,
	}
}

// SileroDetector wraps the ONNX speech detector as a single-call,
// stateless-per-frame speech classifier so Gate can use it as a drop-in
// replacement for isSubframeSpeech when VADProfile == 3.
type SileroDetector struct {
	sd *speech.Detector
}

// NewSileroDetector loads the ONNX model at cfg.ModelPath.
func NewSileroDetector(cfg SileroConfig) (*SileroDetector, error) {
	sd, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:            cfg.ModelPath,
		SampleRate:           cfg.SampleRate,
		WindowSize:           cfg.WindowSize,
		Threshold:            cfg.Threshold,
		MinSilenceDurationMs: cfg.MinSilenceDurationMs,
		SpeechPadMs:          cfg.SpeechPadMs,
	})
	if err != nil {
		return nil, fmt.Errorf("gate: silero detector: %w", err)
	}
	return &SileroDetector{sd: sd}, nil
}

// DetectSpeech reports whether the given window contains any speech
// segment per the ONNX model, and resets internal state between calls
// so each Gate.Process call is judged independently.
func (d *SileroDetector) DetectSpeech(samples []float32) (bool, error) {
	segments, err := d.sd.Detect(samples)
	if err != nil {
		return false, fmt.Errorf("gate: silero detect: %w", err)
	}
	if resetErr := d.sd.Reset(); resetErr != nil {
		return false, fmt.Errorf("gate: silero reset: %w", resetErr)
	}
	return len(segments) > 0, nil
}

// Close releases the ONNX runtime resources. Safe to call once.
func (d *SileroDetector) Close() error {
	return d.sd.Destroy()
}

// WithSilero attaches a loaded SileroDetector to g, which Process uses
// instead of the pure-Go sub-frame estimator whenever cfg.VADProfile == 3.
func (g *Gate) WithSilero(d *SileroDetector) {
	g.silero = d
}
