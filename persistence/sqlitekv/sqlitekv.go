/*
 * Copyright 2025 The FlowCore Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package sqlitekv implements persistence.Backend over a single-file,
// pure-Go SQLite database (modernc.org/sqlite, no cgo). It gives the
// abstract "remote KV" shape of spec §6.3 one concrete, swappable tenant,
// grounded on dshills-langgraph-go's graph/store/sqlite.go: a single
// key/value table, WAL mode for concurrent readers, and transactional
// writes for the rename-as-commit-point pattern the checkpoint coordinator
// relies on.
package sqlitekv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/flowcore/cep/persistence"
)

// Store is a persistence.Backend backed by a `kv(key TEXT PRIMARY KEY,
// value BLOB)` table.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates (or reopens) a SQLite-backed store at path. ":memory:" is
// accepted for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitekv: open %q: %w", path, err)
	}
	// SQLite supports exactly one writer; force the pool down to a single
	// connection so writes serialize through the same transactional path
	// dshills-langgraph-go's SQLiteStore uses rather than racing sql.DB's
	// default pool against SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlitekv: %s: %w", pragma, err)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.createTable(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) createTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS kv (
			key   TEXT PRIMARY KEY,
			value BLOB NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("sqlitekv: create table: %w", err)
	}
	return nil
}

// Put implements persistence.Backend.
func (s *Store) Put(key string, value []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("sqlitekv: put %q: %w", key, err)
	}
	return nil
}

// Get implements persistence.Backend.
func (s *Store) Get(key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlitekv: get %q: %w", key, err)
	}
	return value, nil
}

// List implements persistence.Backend.
func (s *Store) List(prefix string) ([]string, error) {
	rows, err := s.db.Query(`SELECT key FROM kv WHERE key LIKE ? ORDER BY key`, prefix+"%")
	if err != nil {
		return nil, fmt.Errorf("sqlitekv: list %q: %w", prefix, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("sqlitekv: scan key: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// Delete implements persistence.Backend.
func (s *Store) Delete(key string) error {
	_, err := s.db.Exec(`DELETE FROM kv WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("sqlitekv: delete %q: %w", key, err)
	}
	return nil
}

// AtomicRename implements persistence.Backend.AtomicRename as an
// in-transaction select-then-upsert/delete pair (spec SPEC_FULL §4.9):
// readers using their own connection either see the row under `to` with
// its old value or its new value, never a half-written row, because the
// delete-and-insert is committed as one unit.
func (s *Store) AtomicRename(from, to string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("sqlitekv: begin rename %q->%q: %w", from, to, err)
	}
	defer func() { _ = tx.Rollback() }()

	var value []byte
	err = tx.QueryRow(`SELECT value FROM kv WHERE key = ?`, from).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("sqlitekv: rename read %q: %w", from, err)
	}

	if _, err := tx.Exec(`
		INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, to, value); err != nil {
		return fmt.Errorf("sqlitekv: rename write %q: %w", to, err)
	}
	if _, err := tx.Exec(`DELETE FROM kv WHERE key = ?`, from); err != nil {
		return fmt.Errorf("sqlitekv: rename delete %q: %w", from, err)
	}
	return tx.Commit()
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path, for logging/debugging.
func (s *Store) Path() string { return s.path }

var _ persistence.Backend = (*Store)(nil)
