package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/sttcompare/gateway/internal/apierr"
	"github.com/sttcompare/gateway/internal/audio"
)

// SubprocessConfig configures the local subprocess ASR adapter: a
// binary invoked once per utterance, fed a temp WAV file, and expected
// to print a JSON transcript result on stdout.
type SubprocessConfig struct {
	BinaryPath string
	ExtraArgs  []string
	Timeout    time.Duration
}

// SubprocessAdapter is batch-only: local CLI-driven ASR engines have no
// streaming protocol of their own, so StartStreaming reports
// UnsupportedCapability.
type SubprocessAdapter struct {
	cfg SubprocessConfig
}

func NewSubprocessAdapter(cfg SubprocessConfig) *SubprocessAdapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SubprocessAdapter{cfg: cfg}
}

func (a *SubprocessAdapter) Name() string { return "subprocess" }

func (a *SubprocessAdapter) StartStreaming(ctx context.Context, opts StreamingOptions) (StreamController, error) {
	return nil, errUnsupported("subprocess.start_streaming")
}

type subprocessResult struct {
	Text  string `json:"text"`
	Words []struct {
		Start      float64 `json:"start"`
		End        float64 `json:"end"`
		Word       string  `json:"word"`
		Confidence float64 `json:"confidence"`
	} `json:"words"`
}

// TranscribeFileFromPCM writes the PCM as a temp WAV file, runs the
// configured binary against it, and parses a JSON result from stdout.
func (a *SubprocessAdapter) TranscribeFileFromPCM(ctx context.Context, pcm []byte, opts StreamingOptions) (*BatchResult, error) {
	samples := bytesToFloat32(pcm)
	wav := audio.SamplesToWAV(samples, opts.SampleRate)

	tmpFile, err := os.CreateTemp("", "subprocess-asr-*.wav")
	if err != nil {
		return nil, apierr.New(apierr.Fatal, "subprocess.temp_file", err)
	}
	inPath := tmpFile.Name()
	defer os.Remove(inPath)

	if _, err = tmpFile.Write(wav); err != nil {
		tmpFile.Close()
		return nil, apierr.New(apierr.Fatal, "subprocess.write_temp", err)
	}
	tmpFile.Close()

	runCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	args := append([]string{"--input", inPath}, a.cfg.ExtraArgs...)
	cmd := exec.CommandContext(runCtx, a.cfg.BinaryPath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err = cmd.Run(); err != nil {
		return nil, apierr.New(apierr.AdapterTransport, "subprocess.run",
			fmt.Errorf("%w: %s", err, stderr.String()))
	}

	var res subprocessResult
	if err = json.Unmarshal(stdout.Bytes(), &res); err != nil {
		return nil, apierr.New(apierr.Fatal, "subprocess.parse_result", err)
	}

	words := make([]Word, 0, len(res.Words))
	for _, w := range res.Words {
		words = append(words, Word{Start: w.Start, End: w.End, Text: w.Word, Confidence: w.Confidence})
	}

	return &BatchResult{Text: res.Text, Words: words}, nil
}
