package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/scanlog/server/internal/models"
	"github.com/scanlog/server/internal/observability"
	"github.com/scanlog/server/internal/pubsub"
)

const preferencesTable = "preferences"

// PreferenceRepository implements PreferenceStore on a SQL database.
// Transactions are serialized in-process; fn must not call back into the
// repository.
type PreferenceRepository struct {
	db     *observability.TraceDB
	mu     sync.Mutex
	subs   *pubsub.Broadcaster[models.Preferences]
	closed bool
	logger *observability.Logger
}

// NewPreferenceRepository creates a PreferenceRepository over a traced connection
func NewPreferenceRepository(db *observability.TraceDB) *PreferenceRepository {
	return &PreferenceRepository{
		db:     db,
		subs:   pubsub.New[models.Preferences](),
		logger: observability.GetLogger().With("component", "preferences", "db", db.System()),
	}
}

func (r *PreferenceRepository) Snapshot(ctx context.Context) (models.Preferences, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return models.Preferences{}, ErrStoreClosed
	}
	return r.load(ctx, r.db.QueryContext)
}

func (r *PreferenceRepository) Transact(ctx context.Context, fn func(*models.PreferenceEdit) error) (models.Preferences, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return models.Preferences{}, ErrStoreClosed
	}

	ctx, span := observability.StartDBSpan(ctx, r.db.System(), "TRANSACT", preferencesTable)
	defer span.End()
	start := time.Now()

	committed, err := r.transact(ctx, fn)
	r.db.Metrics().RecordQuery(ctx, "TRANSACT", preferencesTable, time.Since(start), err)
	if err != nil {
		observability.RecordError(span, err)
		return models.Preferences{}, err
	}
	observability.SetSuccess(span)
	return committed, nil
}

func (r *PreferenceRepository) transact(ctx context.Context, fn func(*models.PreferenceEdit) error) (models.Preferences, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Preferences{}, fmt.Errorf("repository: begin transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := r.load(ctx, tx.QueryContext)
	if err != nil {
		return models.Preferences{}, err
	}

	edit := current.Edit()
	if err := fn(edit); err != nil {
		return models.Preferences{}, err
	}
	if !edit.Changed() {
		return current, nil
	}

	now := time.Now().UTC()
	for key, value := range edit.Changes() {
		if value == nil {
			if _, err := tx.ExecContext(ctx, `DELETE FROM preferences WHERE key = $1`, key); err != nil {
				return models.Preferences{}, fmt.Errorf("repository: delete preference %q: %w", key, err)
			}
			continue
		}

		query := `
			INSERT INTO preferences (key, value, value_type, updated_at) VALUES ($1, $2, $3, $4)
			ON CONFLICT (key) DO UPDATE SET value = $2, value_type = $3, updated_at = $4
		`
		if _, err := tx.ExecContext(ctx, query, key, value.Raw, string(value.Type), now); err != nil {
			return models.Preferences{}, fmt.Errorf("repository: write preference %q: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return models.Preferences{}, fmt.Errorf("repository: commit preferences: %w", err)
	}

	committed := edit.Apply()
	r.subs.Publish(committed)
	return committed, nil
}

func (r *PreferenceRepository) Subscribe(ctx context.Context) (<-chan models.Preferences, error) {
	// Holding mu across the read and the registration means no commit can
	// land between them.
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrStoreClosed
	}
	current, err := r.load(ctx, r.db.QueryContext)
	if err != nil {
		return nil, err
	}
	return r.subs.Subscribe(ctx, current)
}

// Close ends every subscription. The underlying connection belongs to the caller.
func (r *PreferenceRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	r.subs.Close()
	return nil
}

type queryFunc func(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)

func (r *PreferenceRepository) load(ctx context.Context, query queryFunc) (models.Preferences, error) {
	rows, err := query(ctx, `SELECT key, value, value_type FROM preferences`)
	if err != nil {
		return models.Preferences{}, fmt.Errorf("repository: read preferences: %w", err)
	}
	defer rows.Close()

	values := make(map[string]models.PreferenceValue)
	for rows.Next() {
		var key, value, valueType string
		if err := rows.Scan(&key, &value, &valueType); err != nil {
			return models.Preferences{}, fmt.Errorf("repository: scan preference: %w", err)
		}
		values[key] = models.PreferenceValue{Type: models.PreferenceType(valueType), Raw: value}
	}
	if err := rows.Err(); err != nil {
		return models.Preferences{}, fmt.Errorf("repository: read preferences: %w", err)
	}

	r.logger.Debug("loaded preferences", "keys", len(values))
	return models.NewPreferences(values), nil
}
