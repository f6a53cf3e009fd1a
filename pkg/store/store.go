// Copyright 2024-2026 Aiku AI

// Package store persists the source-to-destination identity mappings in
// SQLite. All inserts are idempotent: re-recording an existing row is a
// no-op reported through the inserted flag, which is what lets the relay
// process duplicate or replayed events safely.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/aiku/slackcord/pkg/relay"
)

// Schema for the relay mapping store. message_map rows are unique per
// destination message: one source message fans out to several destination
// messages, never the other way around.
const schema = `
CREATE TABLE IF NOT EXISTS message_map (
    source_message_id   TEXT NOT NULL,
    dest_message_id     TEXT NOT NULL UNIQUE,
    source_thread_id    TEXT NOT NULL DEFAULT 'Main',
    dest_thread_id      TEXT NOT NULL DEFAULT 'Main',
    source_channel_id   TEXT NOT NULL,
    dest_channel_id     TEXT NOT NULL,
    text_only           INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_message_map_source ON message_map(source_message_id);
CREATE INDEX IF NOT EXISTS idx_message_map_thread ON message_map(source_thread_id);

CREATE TABLE IF NOT EXISTS channel_map (
    source_channel_id   TEXT PRIMARY KEY,
    dest_channel_id     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS thread_map (
    source_thread_id    TEXT PRIMARY KEY,
    dest_thread_id      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS file_map (
    source_file_id      TEXT PRIMARY KEY,
    dest_message_id     TEXT NOT NULL
);
`

// Store is the SQLite-backed mapping store. It implements relay.Store.
type Store struct {
	db *sql.DB
}

var _ relay.Store = (*Store)(nil)

// Open opens or creates the SQLite database at the given path and applies the
// schema.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// RecordMessageMapping inserts one message mapping row. A row with the same
// destination message ID already present leaves the store unchanged and
// reports inserted=false.
func (s *Store) RecordMessageMapping(ctx context.Context, m relay.MessageMapping) (bool, error) {
	sourceThread := m.SourceThreadID
	if sourceThread == "" {
		sourceThread = relay.MainThread
	}
	destThread := m.DestinationThreadID
	if destThread == "" {
		destThread = relay.MainThread
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO message_map
			(source_message_id, dest_message_id, source_thread_id, dest_thread_id, source_channel_id, dest_channel_id, text_only)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.SourceMessageID, m.DestinationMessageID, sourceThread, destThread,
		m.SourceChannelID, m.DestinationChannelID, boolToInt(m.IsPrimaryTextCarrier),
	)
	if err != nil {
		return false, fmt.Errorf("insert message mapping: %w", err)
	}
	return insertedRows(res)
}

// RecordChannelMapping inserts one channel mapping. The first write for a
// source channel wins; later writes report inserted=false.
func (s *Store) RecordChannelMapping(ctx context.Context, sourceChannelID, destChannelID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO channel_map (source_channel_id, dest_channel_id) VALUES (?, ?)`,
		sourceChannelID, destChannelID,
	)
	if err != nil {
		return false, fmt.Errorf("insert channel mapping: %w", err)
	}
	return insertedRows(res)
}

// RecordThreadMapping inserts one thread mapping, first write wins.
func (s *Store) RecordThreadMapping(ctx context.Context, sourceThreadID, destThreadID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO thread_map (source_thread_id, dest_thread_id) VALUES (?, ?)`,
		sourceThreadID, destThreadID,
	)
	if err != nil {
		return false, fmt.Errorf("insert thread mapping: %w", err)
	}
	return insertedRows(res)
}

// RecordFileMapping associates a source file with the destination message
// that carries it.
func (s *Store) RecordFileMapping(ctx context.Context, sourceFileID, destMessageID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO file_map (source_file_id, dest_message_id) VALUES (?, ?)`,
		sourceFileID, destMessageID,
	)
	if err != nil {
		return false, fmt.Errorf("insert file mapping: %w", err)
	}
	return insertedRows(res)
}

// FindMessageMappings returns every mapping row for a source message in
// insertion order, so the primary text carrier comes before attachment
// carriers. No rows is a normal outcome, not an error.
func (s *Store) FindMessageMappings(ctx context.Context, sourceMessageID string) ([]relay.MessageMapping, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_message_id, dest_message_id, source_thread_id, dest_thread_id, source_channel_id, dest_channel_id, text_only
		FROM message_map WHERE source_message_id = ? ORDER BY rowid`,
		sourceMessageID,
	)
	if err != nil {
		return nil, fmt.Errorf("query message mappings: %w", err)
	}
	defer rows.Close()

	var out []relay.MessageMapping
	for rows.Next() {
		var m relay.MessageMapping
		var textOnly int
		if err := rows.Scan(&m.SourceMessageID, &m.DestinationMessageID, &m.SourceThreadID, &m.DestinationThreadID,
			&m.SourceChannelID, &m.DestinationChannelID, &textOnly); err != nil {
			return nil, fmt.Errorf("scan message mapping: %w", err)
		}
		m.IsPrimaryTextCarrier = textOnly != 0
		out = append(out, m)
	}
	return out, rows.Err()
}

// FindChannelMapping looks up the destination channel for a source channel.
func (s *Store) FindChannelMapping(ctx context.Context, sourceChannelID string) (string, bool, error) {
	return s.findOne(ctx,
		`SELECT dest_channel_id FROM channel_map WHERE source_channel_id = ?`, sourceChannelID)
}

// FindThreadMapping looks up the destination thread for a source thread key.
func (s *Store) FindThreadMapping(ctx context.Context, sourceThreadID string) (string, bool, error) {
	return s.findOne(ctx,
		`SELECT dest_thread_id FROM thread_map WHERE source_thread_id = ?`, sourceThreadID)
}

// FindFileMapping looks up the destination message carrying a source file.
func (s *Store) FindFileMapping(ctx context.Context, sourceFileID string) (string, bool, error) {
	return s.findOne(ctx,
		`SELECT dest_message_id FROM file_map WHERE source_file_id = ?`, sourceFileID)
}

func (s *Store) findOne(ctx context.Context, query, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, query, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query mapping: %w", err)
	}
	return value, true, nil
}

func insertedRows(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
