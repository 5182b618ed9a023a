package dhttp

import (
	"context"
	"sync"
	"time"
)

// Canceller is the per-request composite cancellation token. It merges up to
// three abort sources into one observable transition: the socket closing, an
// externally supplied shutdown signal and the body-read timeout. The transition
// is one-shot: pending to aborted, terminal, with the first reason recorded.
type Canceller struct {
	mu        sync.Mutex
	aborted   bool
	reason    error
	done      chan struct{}
	disposed  chan struct{}
	closeOnce sync.Once
	listeners map[int]func(error)
	nextID    int
	timer     *time.Timer
}

// NewCanceller inits a token in the pending state.
func NewCanceller() *Canceller {
	return &Canceller{
		done:      make(chan struct{}),
		disposed:  make(chan struct{}),
		listeners: map[int]func(error){},
	}
}

// Abort transitions the token to aborted with the given reason. Only the first
// call takes effect; the reason never changes afterwards and every registered
// listener is invoked at most once. Reports whether this call did the transition.
func (c *Canceller) Abort(reason error) bool {
	c.mu.Lock()
	if c.aborted {
		c.mu.Unlock()
		return false
	}

	c.aborted = true
	c.reason = reason

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}

	fns := make([]func(error), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.listeners = map[int]func(error){}

	close(c.done)
	c.mu.Unlock()

	for _, fn := range fns {
		fn(reason)
	}

	return true
}

// Aborted reports whether the token fired. Once true it never reverts.
func (c *Canceller) Aborted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.aborted
}

// Reason returns the recorded abort reason, nil while pending.
func (c *Canceller) Reason() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// Done returns a channel closed when the token aborts.
func (c *Canceller) Done() <-chan struct{} {
	return c.done
}

// Subscribe registers a listener called at most once with the abort reason. If
// the token already aborted the listener fires immediately. The returned
// function unsubscribes; it is safe to call after the listener fired.
func (c *Canceller) Subscribe(fn func(error)) func() {
	c.mu.Lock()

	if c.aborted {
		reason := c.reason
		c.mu.Unlock()
		fn(reason)
		return func() {}
	}

	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// BindContext aborts the token when the given context is done, recording the
// reason produced by wrap. The watching goroutine exits when the token aborts
// or is disposed, so externally owned contexts are never mutated or leaked.
func (c *Canceller) BindContext(ctx context.Context, wrap func(error) error) {
	if ctx == nil {
		return
	}

	go func() {
		select {
		case <-ctx.Done():
			c.Abort(wrap(ctx.Err()))
		case <-c.done:
		case <-c.disposed:
		}
	}()
}

// ArmTimeout starts the body-read deadline: the internal controller fires a
// timeout abort unless a read completes (see [Canceller.DisarmTimeout]) first.
func (c *Canceller) ArmTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.aborted || c.timer != nil {
		return
	}

	c.timer = time.AfterFunc(d, func() {
		c.Abort(NewTimeoutError(d))
	})
}

// DisarmTimeout stops the body-read deadline, typically after the first
// completed body read.
func (c *Canceller) DisarmTimeout() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// Dispose releases child subscriptions and stops the timer without aborting.
// Called when the request settles so downstream listeners do not leak.
func (c *Canceller) Dispose() {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.listeners = map[int]func(error){}
	c.mu.Unlock()

	c.closeOnce.Do(func() { close(c.disposed) })
}
