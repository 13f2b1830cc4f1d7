package pubsub

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned when subscribing to a closed broadcaster
var ErrClosed = errors.New("pubsub: broadcaster closed")

// Broadcaster fans the latest value out to subscribers. Each subscriber
// channel holds at most one value; a slow reader sees the newest value
// rather than a backlog of stale ones.
type Broadcaster[T any] struct {
	mu     sync.Mutex
	subs   map[chan T]struct{}
	closed bool
	done   chan struct{}
}

// New creates an empty broadcaster
func New[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{subs: make(map[chan T]struct{}), done: make(chan struct{})}
}

// Subscribe registers a subscriber primed with initial. The channel is
// closed when ctx ends or the broadcaster is closed.
//
// Callers that must not miss a publish between reading initial and
// registering should hold their own write lock across both.
func (b *Broadcaster[T]) Subscribe(ctx context.Context, initial T) (<-chan T, error) {
	ch := make(chan T, 1)
	ch <- initial

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			b.remove(ch)
		case <-b.done:
		}
	}()
	return ch, nil
}

// Publish replaces whatever value each subscriber has not yet read
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs {
		// Only Publish sends, and it holds the lock, so after the drain
		// the buffer is empty and the send cannot block.
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
}

// Len returns the number of live subscribers
func (b *Broadcaster[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close closes every subscriber channel and rejects new subscribers
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	close(b.done)
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}

func (b *Broadcaster[T]) remove(ch chan T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
}
