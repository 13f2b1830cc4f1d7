package services

import (
	"context"
	"sync"

	"github.com/scanlog/server/internal/models"
	"github.com/scanlog/server/internal/pubsub"
)

// DefaultRecentCapacity is how many scans the live feed keeps
const DefaultRecentCapacity = 50

// RecentEvents is a bounded newest-first list of recorded scans. It lives
// only in memory and is independent of the tally: undo does not remove
// the event it reversed.
type RecentEvents struct {
	mu       sync.Mutex
	capacity int
	events   []models.ScanEvent
	subs     *pubsub.Broadcaster[[]models.ScanEvent]
}

// NewRecentEvents creates a buffer holding at most capacity events.
// A non-positive capacity uses DefaultRecentCapacity.
func NewRecentEvents(capacity int) *RecentEvents {
	if capacity <= 0 {
		capacity = DefaultRecentCapacity
	}
	return &RecentEvents{
		capacity: capacity,
		events:   make([]models.ScanEvent, 0, capacity),
		subs:     pubsub.New[[]models.ScanEvent](),
	}
}

// Capacity returns the maximum number of retained events
func (r *RecentEvents) Capacity() int {
	return r.capacity
}

// Push prepends event, dropping the oldest beyond capacity
func (r *RecentEvents) Push(event models.ScanEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.events) + 1
	if n > r.capacity {
		n = r.capacity
	}
	next := make([]models.ScanEvent, n)
	next[0] = event
	copy(next[1:], r.events)
	r.events = next

	r.subs.Publish(r.copyLocked())
}

// Snapshot returns the events newest first
func (r *RecentEvents) Snapshot() []models.ScanEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.copyLocked()
}

// Subscribe emits the current events, then the latest list after each change
func (r *RecentEvents) Subscribe(ctx context.Context) (<-chan []models.ScanEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subs.Subscribe(ctx, r.copyLocked())
}

// Clear drops every event
func (r *RecentEvents) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = r.events[:0]
	r.subs.Publish(r.copyLocked())
}

// Close ends every subscription
func (r *RecentEvents) Close() {
	r.subs.Close()
}

func (r *RecentEvents) copyLocked() []models.ScanEvent {
	out := make([]models.ScanEvent, len(r.events))
	copy(out, r.events)
	return out
}
