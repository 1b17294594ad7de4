package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sttcompare/gateway/internal/apierr"
)

// realtimeSampleRate is the fixed input rate the realtime-session
// provider requires (24 kHz).
const realtimeSampleRate = 24000

// RealtimeConfig configures the realtime-session provider adapter.
type RealtimeConfig struct {
	URL         string // wss://api.openai.com/v1/realtime?intent=transcription style endpoint
	APIKey      string
	DialTimeout time.Duration
}

// RealtimeAdapter streams audio to an OpenAI-realtime-session-shaped
// provider: a single control+data socket carrying
// transcription_session.update, input_audio_buffer.append/.commit, and
// conversation.item.input_audio_transcription.delta/.completed events.
type RealtimeAdapter struct {
	cfg RealtimeConfig
}

func NewRealtimeAdapter(cfg RealtimeConfig) *RealtimeAdapter {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	return &RealtimeAdapter{cfg: cfg}
}

func (a *RealtimeAdapter) Name() string { return "realtime" }

// RequiredSampleRate reports the fixed input rate this provider
// accepts; callers resample before SendAudio.
func (a *RealtimeAdapter) RequiredSampleRate() int { return realtimeSampleRate }

func (a *RealtimeAdapter) StartStreaming(ctx context.Context, opts StreamingOptions) (StreamController, error) {
	lang, err := normalizeLanguage(opts.Language)
	if err != nil {
		return nil, err
	}

	c := &realtimeController{
		ready:     make(chan struct{}),
		bufferLen: 0,
	}
	c.setState(Connecting)
	go c.connect(a.cfg, lang)
	return c, nil
}

func (a *RealtimeAdapter) TranscribeFileFromPCM(ctx context.Context, pcm []byte, opts StreamingOptions) (*BatchResult, error) {
	return nil, errUnsupported("realtime.transcribe_file_from_pcm")
}

type realtimeSessionUpdate struct {
	Type                    string `json:"type"`
	InputAudioFormat        string `json:"input_audio_format"`
	InputAudioSampleRate    int    `json:"input_audio_sample_rate"`
	InputAudioTranscription struct {
		Language string `json:"language"`
	} `json:"input_audio_transcription"`
}

type realtimeController struct {
	broadcaster
	conn       *websocket.Conn
	ready      chan struct{}
	connectErr error
	bufferLen  int // bytes appended since last commit, tracks the 100ms minimum
}

func (c *realtimeController) connect(cfg RealtimeConfig, lang string) {
	dialer := websocket.Dialer{HandshakeTimeout: cfg.DialTimeout}
	header := map[string][]string{"Authorization": {"Bearer " + cfg.APIKey}}

	conn, _, err := dialer.Dial(cfg.URL, header)
	if err != nil {
		c.connectErr = apierr.New(apierr.AdapterConnect, "realtime.dial", err)
		c.setState(Closed)
		close(c.ready)
		c.emitClose()
		return
	}

	update := realtimeSessionUpdate{Type: "transcription_session.update"}
	update.InputAudioFormat = "pcm16"
	update.InputAudioSampleRate = realtimeSampleRate
	update.InputAudioTranscription.Language = lang

	payload, _ := json.Marshal(update)
	if err = conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.connectErr = apierr.New(apierr.AdapterConnect, "realtime.session_update", err)
		_ = conn.Close()
		c.setState(Closed)
		close(c.ready)
		c.emitClose()
		return
	}

	c.conn = conn
	deferredClose := c.State() == Closing
	c.setState(Open)
	close(c.ready)

	if deferredClose {
		_ = c.closeNow()
		return
	}

	go c.readLoop()
}

type realtimeEvent struct {
	Type       string `json:"type"`
	Delta      string `json:"delta,omitempty"`
	Transcript string `json:"transcript,omitempty"`
}

func (c *realtimeController) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.State() != Closed {
				c.emitError(apierr.New(apierr.AdapterTransport, "realtime.read", err))
			}
			c.setState(Closed)
			c.emitClose()
			return
		}
		var ev realtimeEvent
		if jsonErr := json.Unmarshal(data, &ev); jsonErr != nil {
			continue
		}
		switch ev.Type {
		case "conversation.item.input_audio_transcription.delta":
			c.emitData(PartialTranscript{Provider: "realtime", IsFinal: false, Text: ev.Delta, Timestamp: nowMs(), Channel: "mic"})
		case "conversation.item.input_audio_transcription.completed":
			c.emitData(PartialTranscript{Provider: "realtime", IsFinal: true, Text: ev.Transcript, Timestamp: nowMs(), Channel: "mic"})
		}
	}
}

func nowMs() float64 { return float64(time.Now().UnixMilli()) }

func (c *realtimeController) SendAudio(ctx context.Context, chunk []byte, meta FrameMeta) error {
	select {
	case <-c.ready:
	case <-ctx.Done():
		return apierr.New(apierr.Timeout, "realtime.send_audio", ctx.Err())
	}
	if c.connectErr != nil {
		return c.connectErr
	}
	switch c.State() {
	case Closing, Closed:
		return apierr.New(apierr.AdapterClosed, "realtime.send_audio", nil)
	}

	msg := map[string]string{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(chunk),
	}
	payload, _ := json.Marshal(msg)
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		wrapped := apierr.New(apierr.AdapterTransport, "realtime.send_audio", err)
		c.emitError(wrapped)
		return wrapped
	}
	c.bufferLen += len(chunk)
	return nil
}

// End flushes any buffered audio — even shorter than the provider's
// 100ms minimum — with input_audio_buffer.commit.
func (c *realtimeController) End(ctx context.Context) error {
	select {
	case <-c.ready:
	case <-ctx.Done():
		return apierr.New(apierr.Timeout, "realtime.end", ctx.Err())
	}
	if c.connectErr != nil || c.conn == nil {
		return nil
	}
	c.setState(Closing)
	if c.bufferLen > 0 {
		commit := map[string]string{"type": "input_audio_buffer.commit"}
		payload, _ := json.Marshal(commit)
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return fmt.Errorf("realtime: commit: %w", err)
		}
		c.bufferLen = 0
	}
	return nil
}

func (c *realtimeController) Close() error {
	select {
	case <-c.ready:
		return c.closeNow()
	default:
		c.setState(Closing)
		return nil
	}
}

func (c *realtimeController) closeNow() error {
	c.setState(Closed)
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.emitClose()
	return nil
}
