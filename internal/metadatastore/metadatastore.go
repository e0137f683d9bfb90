// Package metadatastore implements spec §4.10/§6's two database operations
// (load_match_metadata, record_save) plus the SPEC_FULL.md-supplemented
// SaveOutcome enum recovered from original_source/. Backed by
// modernc.org/sqlite, the pure-Go driver this repo's pack uses
// (sonroyaalmerol-m3u-stream-merger-proxy's go.mod), accessed through the
// standard database/sql interface exactly as the teacher accesses its own
// datastore.
package metadatastore

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// MatchMetadata is the row load_match_metadata fetches ahead of a save.
type MatchMetadata struct {
	MatchID uint32
	Name    string
	Found   bool
}

// SaveOutcome is the supplemented result enum recorded per spec §4.10 step
// 4 (original_source/ tracked more than a boolean success flag here).
type SaveOutcome int

const (
	SaveOK SaveOutcome = iota
	SaveVaultError
	SaveMetadataError
)

func (o SaveOutcome) String() string {
	switch o {
	case SaveOK:
		return "ok"
	case SaveVaultError:
		return "vault_error"
	case SaveMetadataError:
		return "metadata_error"
	default:
		return "unknown"
	}
}

// Store wraps a *sql.DB configured for the replay metadata schema.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the sqlite database at dsn and ensures
// the schema exists.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("metadatastore: opening database: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY churn

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("metadatastore: applying schema: %w", err)
	}
	return &Store{db: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS match_metadata (
	match_id INTEGER PRIMARY KEY,
	name     TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS save_outcomes (
	match_id  INTEGER NOT NULL,
	outcome   TEXT NOT NULL,
	saved_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// LoadMatchMetadata fetches the row for id, per spec §4.10 step 1. A
// missing row is not an error: Found is false and the caller proceeds with
// whatever defaults it has (the name from the connection header, say).
func (s *Store) LoadMatchMetadata(ctx context.Context, id uint32) (MatchMetadata, error) {
	row := s.db.QueryRowContext(ctx, `SELECT match_id, name FROM match_metadata WHERE match_id = ?`, id)
	var m MatchMetadata
	if err := row.Scan(&m.MatchID, &m.Name); err != nil {
		if err == sql.ErrNoRows {
			return MatchMetadata{MatchID: id}, nil
		}
		return MatchMetadata{}, fmt.Errorf("metadatastore: loading metadata for match %d: %w", id, err)
	}
	m.Found = true
	return m, nil
}

// UpsertMatchMetadata records or updates the name associated with a match
// id; a later LoadMatchMetadata for that id returns this name. The server
// packages do not call it.
func (s *Store) UpsertMatchMetadata(ctx context.Context, id uint32, name string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO match_metadata (match_id, name) VALUES (?, ?)
		ON CONFLICT(match_id) DO UPDATE SET name = excluded.name
	`, id, name)
	if err != nil {
		return fmt.Errorf("metadatastore: upserting metadata for match %d: %w", id, err)
	}
	return nil
}

// RecordSave implements spec §4.10 step 4: append a save-outcome row. The
// call never fails the calling Replay's lifecycle (spec §7); callers log
// and continue on error.
func (s *Store) RecordSave(ctx context.Context, id uint32, outcome SaveOutcome) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO save_outcomes (match_id, outcome) VALUES (?, ?)`, id, outcome.String())
	if err != nil {
		return fmt.Errorf("metadatastore: recording save outcome for match %d: %w", id, err)
	}
	return nil
}
