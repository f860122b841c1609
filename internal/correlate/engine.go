// Package correlate matches the single inbound frame stream against the
// set of outstanding requests. Every request is keyed, single-shot, and
// deadline-bound: it completes exactly once, with whichever of a matching
// frame, a timeout, a connection-lost failure, or a cancellation wins.
package correlate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/meshctl/internal/protocol/frame"
)

var (
	ErrDuplicateKey   = errors.New("correlate: pending request already registered for key")
	ErrTimeout        = errors.New("correlate: deadline elapsed")
	ErrConnectionLost = errors.New("correlate: connection lost")
	ErrCanceled       = errors.New("correlate: request canceled")
)

// Result is the single outcome delivered to a pending request.
type Result struct {
	Msg frame.Message
	Err error
}

// Pending is the caller's handle for one registered request.
type Pending struct {
	key   Key
	codes map[frame.Code]struct{}
	done  chan Result
	timer *time.Timer
	eng   *Engine

	// completed is guarded by eng.mu and makes the at-most-once
	// invariant mechanically enforceable: every completion path checks
	// and sets it under the same lock.
	completed bool
}

// Key returns the key the request was registered under.
func (p *Pending) Key() Key { return p.key }

// Wait blocks until the request completes or ctx is done. A ctx abort
// cancels the registration so no callback or timer leaks.
func (p *Pending) Wait(ctx context.Context) (frame.Message, error) {
	select {
	case r := <-p.done:
		return r.Msg, r.Err
	case <-ctx.Done():
		p.Cancel()
		return nil, ctx.Err()
	}
}

// Cancel releases the registration without delivering a value. Safe to
// call after completion; later matches for the key are ignored either way.
func (p *Pending) Cancel() {
	p.eng.mu.Lock()
	defer p.eng.mu.Unlock()
	if p.completed {
		return
	}
	p.completed = true
	p.timer.Stop()
	delete(p.eng.pending, p.key)
}

func (p *Pending) accepts(code frame.Code) bool {
	_, ok := p.codes[code]
	return ok
}

// Engine owns the live pending-request table. All entry points are safe
// to invoke concurrently; no caller can observe a request between
// "matched" and "removed".
type Engine struct {
	mu      sync.Mutex
	pending map[Key]*Pending
	log     zerolog.Logger
}

func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{
		pending: make(map[Key]*Pending),
		log:     log.With().Str("component", "correlate").Logger(),
	}
}

// Register creates a pending request for key accepting the given codes,
// expiring after timeout. A live request already holding the same key is
// a caller contract violation and is rejected, never overwritten.
func (e *Engine) Register(key Key, codes []frame.Code, timeout time.Duration) (*Pending, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.pending[key]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateKey, key)
	}
	p := &Pending{
		key:   key,
		codes: make(map[frame.Code]struct{}, len(codes)),
		done:  make(chan Result, 1),
		eng:   e,
	}
	for _, c := range codes {
		p.codes[c] = struct{}{}
	}
	p.timer = time.AfterFunc(timeout, func() { e.expire(p) })
	e.pending[key] = p
	return p, nil
}

// Has reports whether a live request holds key. Used for tag allocation.
func (e *Engine) Has(key Key) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.pending[key]
	return ok
}

// Dispatch offers one inbound frame to the pending table. At most one
// request completes per frame; the frame is consumed only when both its
// derived key and its code match. Returns false for frames that are not
// for any pending request so the caller can route them elsewhere.
func (e *Engine) Dispatch(msg frame.Message) bool {
	key, ok := keyFor(msg)
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.pending[key]
	if !ok || !p.accepts(msg.Code()) {
		return false
	}
	e.completeLocked(p, Result{Msg: msg})
	return true
}

// FailAll completes every live request with err in one pass. Used on
// disconnect so no waiter is silently dropped.
func (e *Engine) FailAll(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range e.pending {
		e.completeLocked(p, Result{Err: err})
	}
}

func (e *Engine) expire(p *Pending) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p.completed {
		// Lost the race against a matching frame or a cancel.
		return
	}
	e.completeLocked(p, Result{Err: ErrTimeout})
}

// completeLocked delivers the single outcome for p. Callers hold e.mu.
func (e *Engine) completeLocked(p *Pending, r Result) {
	if p.completed {
		return
	}
	p.completed = true
	p.timer.Stop()
	delete(e.pending, p.key)
	// done is buffered; delivery never blocks the dispatch path.
	p.done <- r
	if r.Err != nil {
		e.log.Debug().Str("key", p.key.String()).Err(r.Err).Msg("pending request failed")
	}
}
