package repository

import (
	"database/sql"
	"fmt"

	"github.com/scanlog/server/internal/observability"
)

// Open connects to PostgreSQL when databaseURL is set and to the SQLite
// file at databasePath otherwise. Closing the returned *sql.DB is the
// caller's job, after closing the repository.
func Open(databasePath, databaseURL string) (*PreferenceRepository, *sql.DB, error) {
	var (
		db     *sql.DB
		system string
		err    error
	)
	if databaseURL != "" {
		db, err = NewPostgresDB(databaseURL)
		system = "postgresql"
	} else {
		db, err = NewSQLiteDB(databasePath)
		system = "sqlite"
	}
	if err != nil {
		return nil, nil, fmt.Errorf("repository: open %s: %w", system, err)
	}

	traced, err := observability.NewTraceDB(db, system)
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	return NewPreferenceRepository(traced), db, nil
}
