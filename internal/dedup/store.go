// Package dedup persists which message identifiers have been seen and
// whether processing completed, backed by a local SQLite file.
package dedup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/gardna/rocketdrop/internal/models"
)

// ErrDuplicate is returned by MarkPending when a record for the message
// identifier already exists.
var ErrDuplicate = errors.New("message already recorded")

// ErrUnknownMessage is returned by MarkProcessed when no record exists for
// the message identifier. It indicates a logic bug upstream: the pipeline
// must create a pending record before any side effect.
var ErrUnknownMessage = errors.New("no record for message")

// Store is the durable ProcessingRecord table.
type Store struct {
	db *sqlx.DB
}

// Open opens (or creates) the SQLite database at dbPath, enables WAL mode,
// and runs any pending schema migrations.
func Open(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// HasSeen reports whether a record exists for the message identifier.
func (s *Store) HasSeen(ctx context.Context, messageID string) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM emails WHERE message_id = ?", messageID)
	if err != nil {
		return false, fmt.Errorf("checking message %s: %w", messageID, err)
	}
	return count > 0, nil
}

// Record returns the ProcessingRecord for the message identifier, or nil
// when none exists.
func (s *Store) Record(ctx context.Context, messageID string) (*models.ProcessingRecord, error) {
	var record models.ProcessingRecord
	err := s.db.GetContext(ctx, &record,
		"SELECT message_id, processed FROM emails WHERE message_id = ?", messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading record for %s: %w", messageID, err)
	}
	return &record, nil
}

// MarkPending inserts a record with processed=false. Returns ErrDuplicate
// if a record for the message identifier is already present.
func (s *Store) MarkPending(ctx context.Context, messageID string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO emails (message_id, processed) VALUES (?, 0)", messageID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("message %s: %w", messageID, ErrDuplicate)
		}
		return fmt.Errorf("inserting record for %s: %w", messageID, err)
	}
	return nil
}

// MarkProcessed flips the record to processed=true. Returns
// ErrUnknownMessage if no record exists.
func (s *Store) MarkProcessed(ctx context.Context, messageID string) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE emails SET processed = 1 WHERE message_id = ?", messageID)
	if err != nil {
		return fmt.Errorf("updating record for %s: %w", messageID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected for %s: %w", messageID, err)
	}
	if affected == 0 {
		return fmt.Errorf("message %s: %w", messageID, ErrUnknownMessage)
	}
	return nil
}

// isUniqueViolation reports whether err is a SQLite unique-constraint
// failure. modernc.org/sqlite does not export a typed error for this, so
// the extended error string is matched.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
