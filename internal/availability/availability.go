// Package availability implements the provider availability cache
// (C7): a TTL-cached conjunction of "adapter implemented" + "secret
// present" + "readiness endpoint reachable" + "handshake succeeds",
// de-duplicating concurrent refreshes and persisting one record per
// probe via internal/storage.
package availability

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/sttcompare/gateway/internal/metrics"
	"github.com/sttcompare/gateway/internal/orchestrator"
	"github.com/sttcompare/gateway/internal/storage"
)

// Record is one provider's probed capability and availability state.
type Record struct {
	ID                        string
	Available                 bool
	Implemented               bool
	SupportsStreaming         bool
	SupportsBatch             bool
	SupportsDictionaryPhrases bool
	SupportsPunctuationPolicy bool
	SupportsContextPhrases    bool
	SupportsDiarization       bool
	Reason                    string
}

// Probe describes how to check one provider: a declared capability set
// plus however many of the optional checks apply.
type Probe struct {
	ID                        string
	Implemented               bool
	SupportsStreaming         bool
	SupportsBatch             bool
	SupportsDictionaryPhrases bool
	SupportsPunctuationPolicy bool
	SupportsContextPhrases    bool
	SupportsDiarization       bool

	// SecretPresent reports whether the provider's required env secret
	// is set. Nil means "no secret required".
	SecretPresent func() bool
	// ReadyURL, if non-empty, is GET-checked for status < 500, polled
	// every ReadyInterval until it passes or ReadyTimeout elapses.
	ReadyURL      string
	ReadyTimeout  time.Duration
	ReadyInterval time.Duration
	// Handshake, if non-nil, attempts a short-lived connection (e.g. a
	// WebSocket open) within 5s and reports success.
	Handshake func(ctx context.Context) error
	// Supervisor, if non-nil, is consulted for the backing service's
	// lifecycle state: the provider is unavailable unless the service
	// named ServiceName reports running or healthy.
	Supervisor  orchestrator.ServiceManager
	ServiceName string
}

type cacheEntry struct {
	at    time.Time
	value Record
}

// Cache is the per-provider TTL availability cache, de-duplicating
// concurrent Get calls for the same provider via singleflight.
type Cache struct {
	mu      sync.RWMutex
	probes  map[string]Probe
	entries map[string]cacheEntry
	ttl     time.Duration
	group   singleflight.Group
	sink    storage.Sink
	client  *http.Client
}

func NewCache(ttl time.Duration, sink storage.Sink) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	return &Cache{
		probes:  make(map[string]Probe),
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		sink:    sink,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// Register adds or replaces a provider's probe definition and
// invalidates any cached entry for it, so a config replacement takes
// effect on the next Get.
func (c *Cache) Register(p Probe) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probes[p.ID] = p
	delete(c.entries, p.ID)
}

// Get returns the cached Record for providerID if still within TTL;
// otherwise it computes once (de-duplicating concurrent callers of the
// same provider) and caches the result. force bypasses the TTL check.
func (c *Cache) Get(ctx context.Context, providerID string, force bool) (Record, error) {
	if !force {
		c.mu.RLock()
		entry, ok := c.entries[providerID]
		c.mu.RUnlock()
		if ok && time.Since(entry.at) < c.ttl {
			return entry.value, nil
		}
	}

	v, err, _ := c.group.Do(providerID, func() (any, error) {
		return c.refresh(ctx, providerID), nil
	})
	if err != nil {
		return Record{}, err
	}
	return v.(Record), nil
}

func (c *Cache) refresh(ctx context.Context, providerID string) Record {
	c.mu.RLock()
	probe, ok := c.probes[providerID]
	c.mu.RUnlock()

	rec := Record{ID: providerID}
	if !ok {
		rec.Reason = "unknown provider"
		c.store(rec)
		return rec
	}

	rec.Implemented = probe.Implemented
	rec.SupportsStreaming = probe.SupportsStreaming
	rec.SupportsBatch = probe.SupportsBatch
	rec.SupportsDictionaryPhrases = probe.SupportsDictionaryPhrases
	rec.SupportsPunctuationPolicy = probe.SupportsPunctuationPolicy
	rec.SupportsContextPhrases = probe.SupportsContextPhrases
	rec.SupportsDiarization = probe.SupportsDiarization

	if !probe.Implemented {
		rec.Reason = "not implemented"
		c.finalize(providerID, rec)
		return rec
	}

	if probe.SecretPresent != nil && !probe.SecretPresent() {
		rec.Reason = "missing credential"
		c.finalize(providerID, rec)
		return rec
	}

	if probe.Supervisor != nil && probe.ServiceName != "" {
		info, err := probe.Supervisor.Status(ctx, probe.ServiceName)
		if err != nil {
			rec.Reason = fmt.Sprintf("service status: %v", err)
			c.finalize(providerID, rec)
			return rec
		}
		if info.Status != orchestrator.StatusRunning && info.Status != orchestrator.StatusHealthy {
			rec.Reason = fmt.Sprintf("service %s is %s", probe.ServiceName, info.Status)
			c.finalize(providerID, rec)
			return rec
		}
	}

	if probe.ReadyURL != "" {
		timeout := probe.ReadyTimeout
		if timeout <= 0 {
			timeout = 3 * time.Second
		}
		interval := probe.ReadyInterval
		if interval <= 0 {
			interval = time.Second
		}
		if err := c.checkReady(ctx, probe.ReadyURL, timeout, interval); err != nil {
			rec.Reason = fmt.Sprintf("readiness check failed: %v", err)
			c.finalize(providerID, rec)
			return rec
		}
	}

	if probe.Handshake != nil {
		hsCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := probe.Handshake(hsCtx)
		cancel()
		if err != nil {
			rec.Reason = fmt.Sprintf("handshake failed: %v", err)
			c.finalize(providerID, rec)
			return rec
		}
	}

	rec.Available = true
	c.finalize(providerID, rec)
	return rec
}

// checkReady polls the readiness endpoint until it answers with a
// sub-500 status or the total timeout budget runs out. The poll pace
// is shaped by a token bucket so a slow endpoint is never hammered
// faster than one probe per interval.
func (c *Cache) checkReady(ctx context.Context, url string, timeout, interval time.Duration) error {
	deadline, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(interval), 1)
	var lastErr error
	for {
		if err := limiter.Wait(deadline); err != nil {
			return fmt.Errorf("%w (last: %v)", err, lastErr)
		}
		lastErr = orchestrator.ProbeHealthURL(deadline, c.client, url)
		if lastErr == nil {
			return nil
		}
	}
}

func (c *Cache) finalize(providerID string, rec Record) {
	c.mu.Lock()
	c.entries[providerID] = cacheEntry{at: time.Now(), value: rec}
	c.mu.Unlock()

	avail := 0.0
	if rec.Available {
		avail = 1.0
	}
	metrics.ProviderAvailable.WithLabelValues(providerID).Set(avail)

	c.store(rec)
}

// store persists one audit row per probe. Failures here never
// propagate to Get's caller.
func (c *Cache) store(rec Record) {
	if c.sink == nil {
		return
	}
	_ = c.sink.WriteAvailabilityRecord(storage.ProviderAvailabilityRecord{
		ProviderID: rec.ID,
		ObservedAt: time.Now(),
		Available:  rec.Available,
		Reason:     rec.Reason,
	})
}
