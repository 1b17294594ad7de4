// Package compare implements the compare session (C5): handshake,
// per-provider adapter startup against the availability cache, an
// audio loop with meeting-mode gating and per-adapter resampling,
// transcript fan-out to the client, backpressure, and teardown with a
// persisted latency summary. The session loop is one reader and one
// mutex-guarded writer multiplexing N parallel provider adapters.
package compare

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sttcompare/gateway/internal/apierr"
	"github.com/sttcompare/gateway/internal/audio"
	"github.com/sttcompare/gateway/internal/availability"
	"github.com/sttcompare/gateway/internal/denoise"
	"github.com/sttcompare/gateway/internal/frame"
	"github.com/sttcompare/gateway/internal/gate"
	"github.com/sttcompare/gateway/internal/latency"
	"github.com/sttcompare/gateway/internal/metrics"
	"github.com/sttcompare/gateway/internal/normalize"
	"github.com/sttcompare/gateway/internal/provider"
	"github.com/sttcompare/gateway/internal/storage"
	"github.com/sttcompare/gateway/internal/wsproto"
)

// Config wires a Session to the rest of the gateway.
type Config struct {
	BucketMs       int64
	SoftQueueBytes int // default per-adapter soft byte threshold; hard = 2x
	Resolve        func(providerName string) (provider.Adapter, bool)
	Availability   *availability.Cache
	Sink           storage.Sink
	// Denoiser, if set, suppresses background noise on incoming 16kHz
	// audio before the meeting gate and per-adapter resampling see it.
	Denoiser *denoise.Denoiser
	// Silero, if set, upgrades the meeting gate to the ONNX VAD
	// (profile 3) instead of the pure-Go sub-frame estimator.
	Silero *gate.SileroDetector
}

// Session runs one client's compare request end to end.
type Session struct {
	cfg       Config
	sessionID string

	writeMu sync.Mutex
	conn    *websocket.Conn

	normalizer *normalize.Normalizer

	adaptersMu sync.Mutex
	adapters   map[string]*adapterState

	// ingestMu serializes the normalizer, the latency recorder, and the
	// audio-sent timestamps: transcripts arrive on each adapter's read
	// goroutine while the audio loop stamps send times.
	ingestMu        sync.Mutex
	latencyRec      *latency.Recorder
	firstAudioSent  time.Time
	lastAudioSent   time.Time
	assistantSpeaks atomic.Bool
}

// fixedRateAdapter is implemented by adapters whose upstream requires
// one specific input rate regardless of the client's; the session
// resamples their audio on enqueue.
type fixedRateAdapter interface {
	RequiredSampleRate() int
}

type queuedFrame struct {
	pcm  []byte
	meta provider.FrameMeta
}

type adapterState struct {
	name       string
	ctrl       provider.StreamController
	opts       provider.StreamingOptions
	queue      chan queuedFrame
	queuedByte int64
	soft, hard int64
	degraded   atomic.Bool
}

// New constructs a Session bound to one WebSocket connection.
func New(cfg Config, conn *websocket.Conn) *Session {
	if cfg.SoftQueueBytes <= 0 {
		cfg.SoftQueueBytes = 1 << 20 // 1 MiB
	}
	return &Session{
		cfg:        cfg,
		sessionID:  uuid.NewString(),
		conn:       conn,
		adapters:   make(map[string]*adapterState),
		latencyRec: latency.NewRecorder(),
	}
}

// Run blocks for the lifetime of the session: reads the handshake,
// starts adapters, processes audio frames, and tears down on close.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfgMsg, err := s.readConfig()
	if err != nil {
		s.sendError("", err)
		return err
	}
	if err = wsproto.ValidateConfig(cfgMsg); err != nil {
		err = apierr.New(apierr.Protocol, "compare.handshake", err)
		s.sendError("", err)
		return err
	}

	s.normalizer = normalize.New(s.sessionID, s.cfg.BucketMs, cfgMsg.NormalizePreset)

	metrics.SessionsActive.Inc()
	metrics.SessionsTotal.WithLabelValues("compare").Inc()
	defer metrics.SessionsActive.Dec()

	startedAt := time.Now()
	s.sendJSON(wsproto.SessionMessage{
		Type:      wsproto.TypeSession,
		SessionID: s.sessionID,
		Provider:  cfgMsg.Providers,
		StartedAt: startedAt.UTC().Format(time.RFC3339Nano),
		AudioSpec: wsproto.AudioSpec{SampleRate: cfgMsg.ClientSampleRate, Channels: 1},
	})

	opts := provider.StreamingOptions{
		Language:          cfgMsg.Language,
		SampleRate:        cfgMsg.ClientSampleRate,
		Encoding:          cfgMsg.Options.Encoding,
		InterimEnabled:    cfgMsg.EnableInterim,
		PunctuationPolicy: cfgMsg.Options.PunctuationPolicy,
		DictionaryPhrases: cfgMsg.Options.DictionaryPhrases,
		ContextPhrases:    cfgMsg.ContextPhrases,
		VADEnabled:        cfgMsg.Options.EnableVad,
		NormalizePreset:   cfgMsg.NormalizePreset,
	}

	started := s.startAdapters(ctx, cfgMsg.Providers, opts)
	if started == 0 {
		err := apierrAllUnavailable()
		s.sendError("", err)
		return err
	}

	var meetingGate *gate.Gate
	if cfgMsg.Options.MeetingMode {
		gcfg := gate.DefaultConfig()
		gcfg.VADEnabled = true
		gcfg.VADProfile = 1
		gcfg.SampleRate = cfgMsg.ClientSampleRate
		if s.cfg.Silero != nil {
			gcfg.VADProfile = 3
		}
		meetingGate = gate.New(gcfg)
		if s.cfg.Silero != nil {
			meetingGate.WithSilero(s.cfg.Silero)
		}
	}

	s.audioLoop(ctx, cfgMsg, opts, meetingGate)
	s.teardown(startedAt, cfgMsg.Providers)
	return nil
}

func (s *Session) readConfig() (wsproto.ConfigMessage, error) {
	msgType, data, err := s.conn.ReadMessage()
	if err != nil {
		return wsproto.ConfigMessage{}, err
	}
	if msgType != websocket.TextMessage {
		return wsproto.ConfigMessage{}, apierr.New(apierr.Protocol, "compare.handshake",
			errors.New("binary frame before config"))
	}
	var cfg wsproto.ConfigMessage
	if err = wsproto.DecodeStrict(data, &cfg); err != nil {
		return wsproto.ConfigMessage{}, apierr.New(apierr.Protocol, "compare.handshake", err)
	}
	return cfg, nil
}

// sendError reports a session- or provider-scoped error to the client,
// tagging it with its closed-set kind.
func (s *Session) sendError(providerName string, err error) {
	s.sendJSON(wsproto.ErrorMessage{
		Type:     wsproto.TypeError,
		Provider: providerName,
		Kind:     string(apierr.KindOf(err)),
		Reason:   err.Error(),
	})
}

// startAdapters checks availability for each requested provider,
// starting admitted ones in parallel.
func (s *Session) startAdapters(ctx context.Context, providers []string, opts provider.StreamingOptions) int {
	var wg sync.WaitGroup
	var startedCount atomic.Int32

	for _, name := range providers {
		name := name
		if s.cfg.Availability != nil {
			rec, err := s.cfg.Availability.Get(ctx, name, false)
			if err != nil || !rec.Available {
				reason := "unavailable"
				if err == nil && rec.Reason != "" {
					reason = rec.Reason
				}
				s.sendError(name, apierr.New(apierr.AdapterConnect, "compare.admit", errors.New(reason)))
				continue
			}
		}

		adapter, ok := s.cfg.Resolve(name)
		if !ok {
			s.sendError(name, apierr.New(apierr.UnsupportedCapability, "compare.admit", errors.New("no adapter registered")))
			continue
		}

		adapterOpts := opts
		if fr, ok := adapter.(fixedRateAdapter); ok {
			adapterOpts.SampleRate = fr.RequiredSampleRate()
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			ctrl, err := adapter.StartStreaming(ctx, adapterOpts)
			if err != nil {
				s.sendError(name, err)
				return
			}
			st := &adapterState{
				name:  name,
				ctrl:  ctrl,
				opts:  adapterOpts,
				queue: make(chan queuedFrame, 256),
				soft:  int64(s.cfg.SoftQueueBytes),
				hard:  int64(s.cfg.SoftQueueBytes) * 2,
			}
			s.wireAdapter(st)

			s.adaptersMu.Lock()
			s.adapters[name] = st
			s.adaptersMu.Unlock()

			go s.drainAdapter(ctx, st)
			startedCount.Add(1)
		}()
	}
	wg.Wait()
	return int(startedCount.Load())
}

func (s *Session) wireAdapter(st *adapterState) {
	st.ctrl.OnData(func(t provider.PartialTranscript) {
		t.Provider = st.name
		s.onTranscript(st, t)
	})
	st.ctrl.OnError(func(err error) {
		s.sendError(st.name, err)
	})
	st.ctrl.OnClose(func() {
		slog.Info("adapter closed", "session_id", s.sessionID, "provider", st.name)
	})
}

func (s *Session) onTranscript(st *adapterState, t provider.PartialTranscript) {
	s.ingestMu.Lock()
	reference := s.lastAudioSent
	if reference.IsZero() {
		reference = s.firstAudioSent
	}
	if !reference.IsZero() {
		latencyMs := float64(time.Since(reference).Milliseconds())
		t.LatencyMs = latencyMs
		s.latencyRec.Record(latencyMs)
	}
	s.ingestMu.Unlock()

	s.sendJSON(wsproto.TranscriptMessage{
		Type:      wsproto.TypeTranscript,
		Provider:  t.Provider,
		IsFinal:   t.IsFinal,
		Text:      t.Text,
		LatencyMs: t.LatencyMs,
		Degraded:  st.degraded.Load(),
	})

	s.ingestMu.Lock()
	ev := s.normalizer.Ingest(st.name, t)
	s.ingestMu.Unlock()
	metrics.NormalizerRevisions.WithLabelValues(st.name).Inc()
	s.sendJSON(wsproto.NormalizedMessage{
		Type:               wsproto.TypeNormalized,
		NormalizedID:       ev.NormalizedID,
		SessionID:          ev.SessionID,
		Provider:           ev.Provider,
		WindowID:           ev.WindowID,
		WindowStartMs:      ev.WindowStartMs,
		WindowEndMs:        ev.WindowEndMs,
		TextRaw:            ev.TextRaw,
		TextNorm:           ev.TextNorm,
		TextDelta:          ev.TextDelta,
		IsFinal:            ev.IsFinal,
		Revision:           ev.Revision,
		PunctuationApplied: ev.PunctuationApplied,
		CasingApplied:      ev.CasingApplied,
	})
}

// audioLoop reads binary audio frames until the client disconnects.
// Telephony-encoded streams (G.711 µ-law/A-law) are decoded to 16-bit
// PCM at their native 8 kHz before anything downstream sees them.
func (s *Session) audioLoop(ctx context.Context, cfgMsg wsproto.ConfigMessage, opts provider.StreamingOptions, meetingGate *gate.Gate) {
	codec := audio.Codec(cfgMsg.Options.Encoding)
	if codec == "" {
		codec = audio.CodecPCM
	}

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		f, err := frame.Decode(data)
		if err != nil {
			continue
		}
		metrics.AudioChunks.Inc()

		clientRate := cfgMsg.ClientSampleRate
		if codec != audio.CodecPCM {
			samples, rate, decErr := audio.Decode(f.PCM, codec, clientRate)
			if decErr != nil {
				continue
			}
			f.PCM = floatsToPCM(samples)
			clientRate = rate
		}

		if s.cfg.Denoiser != nil && clientRate == 16000 {
			f.PCM = floatsToPCM(s.cfg.Denoiser.Denoise(f.Samples()))
		}

		if meetingGate != nil {
			decision := meetingGate.Process(f.Samples(), int64(f.CaptureTs), s.assistantSpeaks.Load())
			if decision.Opened {
				metrics.SpeechSegments.Inc()
			}
			if !decision.Allow {
				metrics.GateDecisions.WithLabelValues("suppress").Inc()
				continue
			}
			metrics.GateDecisions.WithLabelValues("allow").Inc()
		}

		s.enqueueToAdapters(f, clientRate)
	}
}

func (s *Session) enqueueToAdapters(f frame.Frame, clientRate int) {
	now := time.Now()
	s.ingestMu.Lock()
	if s.firstAudioSent.IsZero() {
		s.firstAudioSent = now
	}
	s.lastAudioSent = now
	s.ingestMu.Unlock()

	s.adaptersMu.Lock()
	states := make([]*adapterState, 0, len(s.adapters))
	for _, st := range s.adapters {
		states = append(states, st)
	}
	s.adaptersMu.Unlock()

	for _, st := range states {
		pcm := f.PCM
		if st.opts.SampleRate > 0 && st.opts.SampleRate != clientRate {
			resampled := audio.Resample(f.Samples(), clientRate, st.opts.SampleRate)
			pcm = floatsToPCM(resampled)
		}

		size := int64(len(pcm))
		queued := atomic.LoadInt64(&st.queuedByte)

		if queued+size > st.hard {
			// Drop the oldest queued frame for this adapter and mark
			// it degraded.
			select {
			case dropped := <-st.queue:
				atomic.AddInt64(&st.queuedByte, -int64(len(dropped.pcm)))
			default:
			}
			st.degraded.Store(true)
			metrics.AdapterDegraded.WithLabelValues(st.name).Inc()
		} else if queued+size > st.soft {
			// Soft threshold: pause briefly to let the drain goroutine
			// catch up before enqueueing more for this adapter.
			time.Sleep(5 * time.Millisecond)
		}

		select {
		case st.queue <- queuedFrame{pcm: pcm, meta: provider.FrameMeta{CaptureTs: f.CaptureTs, Seq: f.Seq}}:
			newQueued := atomic.AddInt64(&st.queuedByte, size)
			metrics.AdapterQueueDepth.WithLabelValues(st.name).Set(float64(newQueued))
		default:
			st.degraded.Store(true)
			metrics.AdapterDegraded.WithLabelValues(st.name).Inc()
		}
	}
}

// drainAdapter is the single consumer of one adapter's queue,
// serializing SendAudio calls to preserve provider-side ordering.
func (s *Session) drainAdapter(ctx context.Context, st *adapterState) {
	for {
		select {
		case <-ctx.Done():
			return
		case qf, ok := <-st.queue:
			if !ok {
				return
			}
			atomic.AddInt64(&st.queuedByte, -int64(len(qf.pcm)))
			if err := st.ctrl.SendAudio(ctx, qf.pcm, qf.meta); err != nil {
				slog.Warn("send audio failed", "provider", st.name, "error", err)
			}
		}
	}
}

// teardown cancels audio intake (the caller already returned from
// audioLoop), best-effort ends/closes every adapter, and persists a
// latency summary.
func (s *Session) teardown(startedAt time.Time, providers []string) {
	s.adaptersMu.Lock()
	states := make([]*adapterState, 0, len(s.adapters))
	for _, st := range s.adapters {
		states = append(states, st)
	}
	s.adaptersMu.Unlock()

	endCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	for _, st := range states {
		_ = st.ctrl.End(endCtx)
		_ = st.ctrl.Close()
		close(st.queue)
	}

	s.ingestMu.Lock()
	sum, ok := s.latencyRec.Summarize()
	s.ingestMu.Unlock()
	if ok {
		// Best effort: the client socket may already be gone.
		s.sendJSON(wsproto.SessionEndMessage{
			Type:  wsproto.TypeSessionEnd,
			Count: sum.Count,
			AvgMs: sum.Avg,
			P50Ms: sum.P50,
			P95Ms: sum.P95,
			MinMs: sum.Min,
			MaxMs: sum.Max,
		})
	}
	slog.Info("session_end",
		"session_id", s.sessionID,
		"providers", providers,
		"latency_count", sum.Count,
		"duration_ms", time.Since(startedAt).Milliseconds())

	if !ok || s.cfg.Sink == nil {
		return
	}
	_ = s.cfg.Sink.WriteSessionSummary(storage.SessionSummary{
		SessionID: s.sessionID,
		Providers: providers,
		StartedAt: startedAt,
		EndedAt:   time.Now(),
		Count:     sum.Count,
		AvgMs:     sum.Avg,
		P50Ms:     sum.P50,
		P95Ms:     sum.P95,
		MinMs:     sum.Min,
		MaxMs:     sum.Max,
	})
}

func (s *Session) sendJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err = s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Warn("write message failed", "session_id", s.sessionID, "error", err)
	}
}

func floatsToPCM(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, v := range samples {
		s := int16(v * 32768.0)
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}
