package storage

import "log/slog"

// sinkChannelBuffer is how many pending writes can queue before the
// drain goroutine falls behind.
const sinkChannelBuffer = 64

type sinkMsg struct {
	summary *SessionSummary
	record  *ProviderAvailabilityRecord
}

// AsyncSink wraps a Sink so a slow backend never blocks the caller —
// writes queue on a buffered channel drained by one background
// goroutine. All methods are nil-safe.
type AsyncSink struct {
	inner Sink
	ch    chan sinkMsg
	done  chan struct{}
}

func NewAsyncSink(inner Sink) *AsyncSink {
	a := &AsyncSink{
		inner: inner,
		ch:    make(chan sinkMsg, sinkChannelBuffer),
		done:  make(chan struct{}),
	}
	go a.drain()
	return a
}

func (a *AsyncSink) drain() {
	defer close(a.done)
	for msg := range a.ch {
		a.handle(msg)
	}
}

func (a *AsyncSink) handle(msg sinkMsg) {
	var err error
	switch {
	case msg.summary != nil:
		err = a.inner.WriteSessionSummary(*msg.summary)
	case msg.record != nil:
		err = a.inner.WriteAvailabilityRecord(*msg.record)
	}
	if err != nil {
		slog.Warn("storage write failed", "error", err)
	}
}

func (a *AsyncSink) WriteSessionSummary(sum SessionSummary) error {
	if a == nil {
		return nil
	}
	a.ch <- sinkMsg{summary: &sum}
	return nil
}

func (a *AsyncSink) WriteAvailabilityRecord(rec ProviderAvailabilityRecord) error {
	if a == nil {
		return nil
	}
	a.ch <- sinkMsg{record: &rec}
	return nil
}

// Close drains pending writes, stops the goroutine, and closes the
// underlying sink.
func (a *AsyncSink) Close() error {
	if a == nil {
		return nil
	}
	close(a.ch)
	<-a.done
	return a.inner.Close()
}
