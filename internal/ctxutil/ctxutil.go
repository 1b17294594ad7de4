// Package ctxutil provides a small timeout helper:
// a context.Context replacement for AbortController-style
// per-operation deadlines, propagating parent cancellation and
// reporting whether the deadline (rather than the parent) triggered
// cancellation.
package ctxutil

import (
	"context"
	"time"
)

// Scope is a child cancellation scope created by WithTimeout.
type Scope struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Context returns the scope's context.
func (s *Scope) Context() context.Context { return s.ctx }

// Cancel releases the scope's timer immediately. Safe to call more
// than once and must be called on every exit path (defer s.Cancel())
// to avoid leaking the underlying timer.
func (s *Scope) Cancel() { s.cancel() }

// DidTimeout reports whether the scope's own deadline — not the
// parent's cancellation — is what ended the context.
func (s *Scope) DidTimeout() bool {
	return s.ctx.Err() == context.DeadlineExceeded
}

// WithTimeout yields a child cancellation scope that propagates parent
// cancellation and additionally expires after duration.
func WithTimeout(parent context.Context, duration time.Duration) *Scope {
	ctx, cancel := context.WithTimeout(parent, duration)
	return &Scope{ctx: ctx, cancel: cancel}
}
