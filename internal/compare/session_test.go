package compare

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/sttcompare/gateway/internal/frame"
	"github.com/sttcompare/gateway/internal/provider"
	"github.com/sttcompare/gateway/internal/storage"
)

type fakeSink struct {
	mu        sync.Mutex
	summaries []storage.SessionSummary
}

func (s *fakeSink) WriteSessionSummary(sum storage.SessionSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries = append(s.summaries, sum)
	return nil
}
func (s *fakeSink) WriteAvailabilityRecord(storage.ProviderAvailabilityRecord) error { return nil }
func (s *fakeSink) Close() error { return nil }

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.summaries)
}

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

func newTestServer(t *testing.T, sink storage.Sink) *httptest.Server {
	mock := provider.NewMockAdapter("final answer")
	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		s := New(Config{
			BucketMs:       250,
			SoftQueueBytes: 1 << 16,
			Resolve: func(name string) (provider.Adapter, bool) {
				if name == "mock" {
					return mock, true
				}
				return nil, false
			},
			Sink: sink,
		}, conn)
		_ = s.Run(r.Context())
		close(done)
	}))
	t.Cleanup(func() {
		srv.Close()
		<-done
	})
	return srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return conn
}

func TestSession_TranscriptsAndNormalizedEventsReachClient(t *testing.T) {
	sink := &fakeSink{}
	srv := newTestServer(t, sink)
	conn := dial(t, srv)
	defer conn.Close()

	cfgMsg := `{"type":"config","providers":["mock"],"enableInterim":true,"pcm":true,"clientSampleRate":16000}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(cfgMsg)))

	f := frame.Encode(frame.Frame{Seq: 1, CaptureTs: 0, DurationMs: 20, PCM: []byte{1, 2, 3, 4}})
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, f))

	sawTranscript, sawNormalized := false, false
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for i := 0; i < 4 && !(sawTranscript && sawNormalized); i++ {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		switch {
		case strings.Contains(string(data), `"type":"transcript"`):
			sawTranscript = true
			require.Contains(t, string(data), "4 bytes")
		case strings.Contains(string(data), `"type":"normalized"`):
			sawNormalized = true
		}
	}
	require.True(t, sawTranscript, "expected a transcript message")
	require.True(t, sawNormalized, "expected a normalized message")
}

func TestSession_NoProvidersAvailableReturnsError(t *testing.T) {
	sink := &fakeSink{}
	srv := newTestServer(t, sink)
	conn := dial(t, srv)
	defer conn.Close()

	cfgMsg := `{"type":"config","providers":["unregistered"],"pcm":false}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(cfgMsg)))

	sawError := false
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for i := 0; i < 3 && !sawError; i++ {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		sawError = strings.Contains(string(data), `"type":"error"`)
	}
	require.True(t, sawError, "expected an error message")
}

func TestSession_AnnouncesSessionAfterHandshake(t *testing.T) {
	sink := &fakeSink{}
	srv := newTestServer(t, sink)
	conn := dial(t, srv)
	defer conn.Close()

	cfgMsg := `{"type":"config","providers":["mock"],"pcm":true,"clientSampleRate":16000}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(cfgMsg)))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(data), `"type":"session"`)
	require.Contains(t, string(data), `"sessionId"`)
}

func TestSession_BinaryBeforeConfigIsProtocolError(t *testing.T) {
	sink := &fakeSink{}
	srv := newTestServer(t, sink)
	conn := dial(t, srv)
	defer conn.Close()

	f := frame.Encode(frame.Frame{Seq: 1, CaptureTs: 0, DurationMs: 20, PCM: []byte{1, 2, 3, 4}})
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, f))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(data), `"type":"error"`)
	require.Contains(t, string(data), "protocol_error")
}

func TestSession_TeardownPersistsLatencySummary(t *testing.T) {
	sink := &fakeSink{}
	srv := newTestServer(t, sink)
	conn := dial(t, srv)

	cfgMsg := `{"type":"config","providers":["mock"],"enableInterim":true,"pcm":true,"clientSampleRate":16000}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(cfgMsg)))
	f := frame.Encode(frame.Frame{Seq: 1, CaptureTs: 0, DurationMs: 20, PCM: []byte{1, 2, 3, 4}})
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, f))

	// Drain until a transcript arrives so the session has recorded a
	// latency sample before the client disconnects.
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for i := 0; i < 4; i++ {
		_, data, err := conn.ReadMessage()
		if err != nil || strings.Contains(string(data), `"type":"transcript"`) {
			break
		}
	}
	conn.Close()

	require.Eventually(t, func() bool {
		return sink.count() == 1
	}, 2*time.Second, 10*time.Millisecond)
}
