package repository

import (
	"context"
	"sync"

	"github.com/scanlog/server/internal/models"
	"github.com/scanlog/server/internal/pubsub"
)

// MemoryStore is a PreferenceStore held entirely in memory. It has the same
// transaction and subscription semantics as the SQL repository.
type MemoryStore struct {
	mu      sync.Mutex
	current models.Preferences
	subs    *pubsub.Broadcaster[models.Preferences]
	closed  bool

	// failCommit, when set, is returned in place of committing
	failCommit error
}

// NewMemoryStore creates a store seeded with initial values
func NewMemoryStore(initial map[string]models.PreferenceValue) *MemoryStore {
	return &MemoryStore{
		current: models.NewPreferences(initial),
		subs:    pubsub.New[models.Preferences](),
	}
}

// FailCommits makes every subsequent changing transaction fail with err.
// Pass nil to restore normal behaviour.
func (s *MemoryStore) FailCommits(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCommit = err
}

func (s *MemoryStore) Snapshot(ctx context.Context) (models.Preferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return models.Preferences{}, ErrStoreClosed
	}
	return s.current, nil
}

func (s *MemoryStore) Transact(ctx context.Context, fn func(*models.PreferenceEdit) error) (models.Preferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return models.Preferences{}, ErrStoreClosed
	}
	if err := ctx.Err(); err != nil {
		return models.Preferences{}, err
	}

	edit := s.current.Edit()
	if err := fn(edit); err != nil {
		return models.Preferences{}, err
	}
	if !edit.Changed() {
		return s.current, nil
	}
	if s.failCommit != nil {
		return models.Preferences{}, s.failCommit
	}

	s.current = edit.Apply()
	s.subs.Publish(s.current)
	return s.current, nil
}

func (s *MemoryStore) Subscribe(ctx context.Context) (<-chan models.Preferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	return s.subs.Subscribe(ctx, s.current)
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		s.subs.Close()
	}
	return nil
}
