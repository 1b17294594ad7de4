package availability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sttcompare/gateway/internal/storage"
)

type recordingSink struct {
	records []storage.ProviderAvailabilityRecord
}

func (s *recordingSink) WriteSessionSummary(storage.SessionSummary) error { return nil }
func (s *recordingSink) WriteAvailabilityRecord(rec storage.ProviderAvailabilityRecord) error {
	s.records = append(s.records, rec)
	return nil
}
func (s *recordingSink) Close() error { return nil }

func TestCache_UnknownProviderIsUnavailable(t *testing.T) {
	c := NewCache(time.Minute, nil)
	rec, err := c.Get(context.Background(), "nope", false)
	require.NoError(t, err)
	require.False(t, rec.Available)
	require.Equal(t, "unknown provider", rec.Reason)
}

func TestCache_NotImplementedIsUnavailable(t *testing.T) {
	c := NewCache(time.Minute, nil)
	c.Register(Probe{ID: "wscloud", Implemented: false})

	rec, err := c.Get(context.Background(), "wscloud", false)
	require.NoError(t, err)
	require.False(t, rec.Available)
	require.Equal(t, "not implemented", rec.Reason)
}

func TestCache_MissingSecretIsUnavailable(t *testing.T) {
	c := NewCache(time.Minute, nil)
	c.Register(Probe{
		ID:            "wscloud",
		Implemented:   true,
		SecretPresent: func() bool { return false },
	})

	rec, err := c.Get(context.Background(), "wscloud", false)
	require.NoError(t, err)
	require.False(t, rec.Available)
	require.Equal(t, "missing credential", rec.Reason)
}

func TestCache_ReadyURLFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewCache(time.Minute, nil)
	c.Register(Probe{
		ID:            "wscloud",
		Implemented:   true,
		ReadyURL:      srv.URL,
		ReadyTimeout:  50 * time.Millisecond,
		ReadyInterval: 10 * time.Millisecond,
	})

	rec, err := c.Get(context.Background(), "wscloud", false)
	require.NoError(t, err)
	require.False(t, rec.Available)
	require.Contains(t, rec.Reason, "readiness check failed")
}

func TestCache_ReadyURLPollsUntilSuccess(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewCache(time.Minute, nil)
	c.Register(Probe{
		ID:            "wscloud",
		Implemented:   true,
		ReadyURL:      srv.URL,
		ReadyTimeout:  time.Second,
		ReadyInterval: 10 * time.Millisecond,
	})

	rec, err := c.Get(context.Background(), "wscloud", false)
	require.NoError(t, err)
	require.True(t, rec.Available)
	require.GreaterOrEqual(t, atomic.LoadInt32(&hits), int32(3))
}

func TestCache_AllChecksPassIsAvailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := &recordingSink{}
	c := NewCache(time.Minute, sink)
	c.Register(Probe{
		ID:                "wscloud",
		Implemented:       true,
		SupportsStreaming: true,
		SecretPresent:     func() bool { return true },
		ReadyURL:          srv.URL,
		Handshake:         func(ctx context.Context) error { return nil },
	})

	rec, err := c.Get(context.Background(), "wscloud", false)
	require.NoError(t, err)
	require.True(t, rec.Available)
	require.True(t, rec.SupportsStreaming)

	require.Len(t, sink.records, 1)
	require.Equal(t, "wscloud", sink.records[0].ProviderID)
	require.True(t, sink.records[0].Available)
}

func TestCache_TTLServesCachedResultUntilExpiry(t *testing.T) {
	calls := 0
	c := NewCache(20*time.Millisecond, nil)
	c.Register(Probe{
		ID:          "mock",
		Implemented: true,
		Handshake: func(ctx context.Context) error {
			calls++
			return nil
		},
	})

	_, err := c.Get(context.Background(), "mock", false)
	require.NoError(t, err)
	_, err = c.Get(context.Background(), "mock", false)
	require.NoError(t, err)
	require.Equal(t, 1, calls, "second call within TTL should hit the cache, not re-probe")

	time.Sleep(30 * time.Millisecond)
	_, err = c.Get(context.Background(), "mock", false)
	require.NoError(t, err)
	require.Equal(t, 2, calls, "a call after TTL expiry should re-probe")
}

func TestCache_RegisterInvalidatesCachedEntry(t *testing.T) {
	c := NewCache(time.Minute, nil)
	c.Register(Probe{ID: "mock", Implemented: false})

	rec, _ := c.Get(context.Background(), "mock", false)
	require.False(t, rec.Available)

	c.Register(Probe{ID: "mock", Implemented: true})

	rec, _ = c.Get(context.Background(), "mock", false)
	require.True(t, rec.Available)
}

func TestCache_ForceBypassesTTL(t *testing.T) {
	calls := 0
	c := NewCache(time.Hour, nil)
	c.Register(Probe{
		ID:          "mock",
		Implemented: true,
		Handshake: func(ctx context.Context) error {
			calls++
			return nil
		},
	})

	_, _ = c.Get(context.Background(), "mock", false)
	_, _ = c.Get(context.Background(), "mock", true)
	require.Equal(t, 2, calls)
}
