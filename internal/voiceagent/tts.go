package voiceagent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sttcompare/gateway/internal/metrics"
)

// PiperTTSClient synthesizes speech over the Piper HTTP API: one fixed
// voice per turn machine instance, since a voice session doesn't
// switch engines mid-call.
type PiperTTSClient struct {
	baseURL string
	voice   string
	client  *http.Client
}

func NewPiperTTSClient(baseURL, voice string) *PiperTTSClient {
	if voice == "" {
		voice = "en_US-lessac-low"
	}
	return &PiperTTSClient{
		baseURL: baseURL,
		voice:   voice,
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:          8,
				MaxIdleConnsPerHost:   8,
				IdleConnTimeout:       90 * time.Second,
				ResponseHeaderTimeout: 30 * time.Second,
				ForceAttemptHTTP2:     true,
			},
		},
	}
}

type piperTTSRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

func (c *PiperTTSClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	start := time.Now()

	body, err := json.Marshal(piperTTSRequest{Text: text, Voice: c.voice})
	if err != nil {
		return nil, fmt.Errorf("marshal tts request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/synthesize", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.Errors.WithLabelValues("voice_tts", "http").Inc()
		return nil, fmt.Errorf("tts request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.Errors.WithLabelValues("voice_tts", "status").Inc()
		return nil, fmt.Errorf("tts status %d", resp.StatusCode)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read tts response: %w", err)
	}

	metrics.StageDuration.WithLabelValues("voice_tts").Observe(time.Since(start).Seconds())
	return audio, nil
}
