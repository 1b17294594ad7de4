package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sttcompare/gateway/internal/apierr"
)

// defaultEndpointingMs is the endpointing window sent upstream when
// VAD is enabled.
const defaultEndpointingMs = 400

// WSCloudConfig configures the websocket cloud provider adapter
// (Deepgram-shaped query contract).
type WSCloudConfig struct {
	BaseURL     string // e.g. wss://api.deepgram.com/v1/listen
	APIKey      string
	Model       string
	Tier        string
	SmartFormat bool
	DialTimeout time.Duration
}

// WSCloudAdapter streams audio to a WebSocket-based cloud ASR provider.
type WSCloudAdapter struct {
	cfg WSCloudConfig
}

// NewWSCloudAdapter constructs the adapter. DialTimeout defaults to 5s.
func NewWSCloudAdapter(cfg WSCloudConfig) *WSCloudAdapter {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	return &WSCloudAdapter{cfg: cfg}
}

func (a *WSCloudAdapter) Name() string { return "wscloud" }

func (a *WSCloudAdapter) buildURL(opts StreamingOptions) (string, error) {
	lang, err := normalizeLanguage(opts.Language)
	if err != nil {
		return "", err
	}

	q := url.Values{}
	q.Set("language", lang)
	q.Set("sample_rate", fmt.Sprintf("%d", opts.SampleRate))
	q.Set("channels", "1")
	q.Set("punctuate", boolStr(opts.PunctuationPolicy != "" && opts.PunctuationPolicy != "none"))
	if a.cfg.Model != "" {
		q.Set("model", a.cfg.Model)
	}
	if a.cfg.Tier != "" {
		q.Set("tier", a.cfg.Tier)
	}
	if a.cfg.SmartFormat {
		q.Set("smart_format", "true")
	}
	q.Set("interim_results", boolStr(opts.InterimEnabled))

	if keywords := joinNonEmpty(opts.DictionaryPhrases, ","); keywords != "" {
		q.Set("keywords", keywords)
	}
	if context := joinNonEmpty(opts.ContextPhrases, ","); context != "" {
		q.Set("context", context)
	}

	if !opts.VADEnabled {
		q.Set("endpointing", "false")
	} else {
		q.Set("endpointing", fmt.Sprintf("%d", defaultEndpointingMs))
		q.Set("vad_events", "true")
	}

	return a.cfg.BaseURL + "?" + q.Encode(), nil
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// StartStreaming dials the provider in the background; SendAudio blocks
// on the handshake via the controller's ready channel.
func (a *WSCloudAdapter) StartStreaming(ctx context.Context, opts StreamingOptions) (StreamController, error) {
	target, err := a.buildURL(opts)
	if err != nil {
		return nil, err
	}

	c := &wsCloudController{ready: make(chan struct{})}
	c.setState(Connecting)

	go c.connect(target, a.cfg.APIKey, a.cfg.DialTimeout)

	return c, nil
}

func (a *WSCloudAdapter) TranscribeFileFromPCM(ctx context.Context, pcm []byte, opts StreamingOptions) (*BatchResult, error) {
	return transcribeFileFromPCMViaBatch(ctx, a.cfg.BaseURL, a.cfg.APIKey, pcm, opts)
}

type wsCloudController struct {
	broadcaster
	conn       *websocket.Conn
	ready      chan struct{}
	connectErr error

	closeOnceWrite chan struct{}
}

func (c *wsCloudController) connect(target, apiKey string, dialTimeout time.Duration) {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	header := map[string][]string{"Authorization": {"Token " + apiKey}}

	conn, _, err := dialer.Dial(target, header)
	if err != nil {
		c.connectErr = apierr.New(apierr.AdapterConnect, "wscloud.dial", err)
		c.setState(Closed)
		close(c.ready)
		c.emitClose()
		return
	}

	// Deferred close() requested while Connecting is honored once open.
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

func (c *wsCloudController) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.State() != Closed {
				c.emitError(apierr.New(apierr.AdapterTransport, "wscloud.read", err))
			}
			c.setState(Closed)
			c.emitClose()
			return
		}
		var msg wsCloudMessage
		if jsonErr := json.Unmarshal(data, &msg); jsonErr != nil {
			continue
		}
		c.emitData(msg.toTranscript())
	}
}

// wsCloudMessage is the Deepgram-shaped transcript envelope.
type wsCloudMessage struct {
	IsFinal bool `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

func (m wsCloudMessage) toTranscript() PartialTranscript {
	text := ""
	if len(m.Channel.Alternatives) > 0 {
		text = m.Channel.Alternatives[0].Transcript
	}
	return PartialTranscript{
		Provider:  "wscloud",
		IsFinal:   m.IsFinal,
		Text:      text,
		Timestamp: float64(time.Now().UnixMilli()),
		Channel:   "mic",
	}
}

func (c *wsCloudController) SendAudio(ctx context.Context, chunk []byte, meta FrameMeta) error {
	select {
	case <-c.ready:
	case <-ctx.Done():
		return apierr.New(apierr.Timeout, "wscloud.send_audio", ctx.Err())
	}
	if c.connectErr != nil {
		return c.connectErr
	}
	switch c.State() {
	case Closing, Closed:
		return apierr.New(apierr.AdapterClosed, "wscloud.send_audio", nil)
	}
	if err := c.conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
		wrapped := apierr.New(apierr.AdapterTransport, "wscloud.send_audio", err)
		c.emitError(wrapped)
		return wrapped
	}
	return nil
}

func (c *wsCloudController) End(ctx context.Context) error {
	select {
	case <-c.ready:
	case <-ctx.Done():
		return apierr.New(apierr.Timeout, "wscloud.end", ctx.Err())
	}
	if c.connectErr != nil || c.conn == nil {
		return nil
	}
	c.setState(Closing)
	return c.conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
}

func (c *wsCloudController) Close() error {
	select {
	case <-c.ready:
		return c.closeNow()
	default:
		// Connecting: defer close until connect() observes Closing.
		c.setState(Closing)
		return nil
	}
}

func (c *wsCloudController) closeNow() error {
	c.setState(Closed)
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.emitClose()
	return nil
}
