package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const sendTimeout = 10 * time.Second

type job struct {
	kind    Kind
	payload any
}

// Async hands notifications to a background worker so callers never wait on
// delivery. When the queue is full the notification is dropped.
type Async struct {
	next  Dispatcher
	queue chan job

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewAsync(next Dispatcher, queueSize int) *Async {
	if queueSize <= 0 {
		queueSize = 1
	}
	a := &Async{
		next:  next,
		queue: make(chan job, queueSize),
		done:  make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) Notify(_ context.Context, kind Kind, payload any) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return ErrClosed
	}

	select {
	case a.queue <- job{kind: kind, payload: payload}:
		return nil
	default:
		log.Warn().Stringer("kind", kind).Msg("notify: queue full, dropping notification")
		return ErrQueueFull
	}
}

func (a *Async) run() {
	defer close(a.done)

	for j := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		if err := a.next.Notify(ctx, j.kind, j.payload); err != nil {
			log.Warn().Err(err).Stringer("kind", j.kind).Msg("notify: delivery failed")
		}
		cancel()
	}
}

// Close stops accepting notifications and waits until the queued ones are
// delivered or ctx expires.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
