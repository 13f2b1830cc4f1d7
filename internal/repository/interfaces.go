package repository

import (
	"context"
	"errors"

	"github.com/scanlog/server/internal/models"
)

// ErrStoreClosed is returned by operations on a closed store
var ErrStoreClosed = errors.New("repository: preference store closed")

// PreferenceStore is a flat typed key-value store with atomic
// read-modify-write transactions and change subscriptions
type PreferenceStore interface {
	// Snapshot returns the committed state
	Snapshot(ctx context.Context) (models.Preferences, error)

	// Transact runs fn with exclusive access to the store. Changes made
	// through the edit are committed together when fn returns nil; an error
	// from fn discards them. A transaction that changes nothing is not
	// written and does not notify subscribers. The committed state is
	// returned.
	Transact(ctx context.Context, fn func(*models.PreferenceEdit) error) (models.Preferences, error)

	// Subscribe emits the current state, then the latest state after each
	// commit. The channel closes when ctx ends or the store is closed.
	Subscribe(ctx context.Context) (<-chan models.Preferences, error)

	Close() error
}
