package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/SteelMorgan/journal-ingest/internal/domain"
	"github.com/rs/zerolog/log"
)

const (
	defaultBufferSize   = 1024
	defaultDrainTimeout = 5 * time.Second
)

// AsyncOption configures an Async wrapper
type AsyncOption func(*Async)

// WithBufferSize sets the channel buffer capacity
func WithBufferSize(n int) AsyncOption {
	return func(a *Async) { a.bufSize = n }
}

// WithDropOnFull makes Deliver drop the message when the buffer is full
// instead of blocking
func WithDropOnFull() AsyncOption {
	return func(a *Async) { a.dropOnFull = true }
}

// WithOnError sets the callback invoked when the inner subscriber fails
func WithOnError(f func(error)) AsyncOption {
	return func(a *Async) { a.errFunc = f }
}

// Async decouples the dispatcher from a slow subscriber via a buffered
// channel drained by a background goroutine
type Async struct {
	inner      Subscriber
	ch         chan domain.Message
	done       chan struct{}
	errFunc    func(error)
	bufSize    int
	dropOnFull bool

	mu     sync.RWMutex
	closed bool
}

// NewAsync wraps inner. The drain goroutine starts immediately.
func NewAsync(inner Subscriber, opts ...AsyncOption) *Async {
	a := &Async{
		inner:   inner,
		bufSize: defaultBufferSize,
		errFunc: func(err error) {
			log.Warn().Err(err).Msg("Async subscriber delivery failed")
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	a.ch = make(chan domain.Message, a.bufSize)
	a.done = make(chan struct{})
	go a.drain()
	return a
}

// Deliver enqueues msg. Messages delivered after Close are dropped.
func (a *Async) Deliver(ctx context.Context, msg domain.Message) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil
	}

	if a.dropOnFull {
		select {
		case a.ch <- msg:
		default:
			log.Warn().Str("type", string(msg.Kind)).Msg("Async subscriber buffer full, dropping message")
		}
		return nil
	}
	select {
	case a.ch <- msg:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Close stops accepting messages and waits for the buffer to drain
func (a *Async) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.ch)
	a.mu.Unlock()

	select {
	case <-a.done:
	case <-time.After(defaultDrainTimeout):
		log.Warn().Msg("Async subscriber drain timed out")
	}
	return nil
}

// Done is closed once the drain goroutine exits
func (a *Async) Done() <-chan struct{} {
	return a.done
}

func (a *Async) drain() {
	defer close(a.done)
	for msg := range a.ch {
		if err := a.deliver(msg); err != nil {
			a.errFunc(err)
		}
	}
}

func (a *Async) deliver(msg domain.Message) (err error) {
	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic", p).Msg("Async subscriber panicked")
		}
	}()
	return a.inner.Deliver(context.Background(), msg)
}
