// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

// Package journal keeps an append-only history of installed patch
// generations in SQLite.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one installed generation.
type Entry struct {
	ID          int64     `json:"id"`
	Engine      string    `json:"engine"`
	Method      string    `json:"method"`
	Generation  int       `json:"generation"`
	Replacement string    `json:"replacement"`
	Prefixes    int       `json:"prefixes"`
	Postfixes   int       `json:"postfixes"`
	Transpilers int       `json:"transpilers"`
	Owners      []string  `json:"owners"`
	From        uint64    `json:"from"`
	To          uint64    `json:"to"`
	Snapshot    []byte    `json:"-"`
	Timestamp   time.Time `json:"timestamp"`
}

// Store is a journal database.
type Store struct {
	db *sql.DB
}

// DefaultPath is ~/.ilpatch/journal.db.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home dir: %w", err)
	}
	return filepath.Join(home, ".ilpatch", "journal.db"), nil
}

// Open opens or creates the journal at path. An empty path uses
// DefaultPath; ":memory:" keeps the journal in memory.
func Open(path string) (*Store, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create journal dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	// one connection so an in-memory journal is a single database
	db.SetMaxOpenConns(1)

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS generations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		engine TEXT NOT NULL,
		method TEXT NOT NULL,
		generation INTEGER NOT NULL,
		replacement TEXT NOT NULL,
		prefixes INTEGER NOT NULL,
		postfixes INTEGER NOT NULL,
		transpilers INTEGER NOT NULL,
		owners TEXT,
		entry_from INTEGER NOT NULL,
		entry_to INTEGER NOT NULL,
		snapshot BLOB,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_generations_method ON generations(method);
	`
	if _, err := db.Exec(query); err != nil {
		return fmt.Errorf("failed to init schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends e. A zero timestamp is set to now.
func (s *Store) Record(ctx context.Context, e Entry) error {
	owners, _ := json.Marshal(e.Owners)
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	query := `
	INSERT INTO generations (engine, method, generation, replacement, prefixes, postfixes, transpilers, owners, entry_from, entry_to, snapshot, timestamp)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	// sqlite integers are signed; addresses round-trip through int64
	_, err := s.db.ExecContext(ctx, query, e.Engine, e.Method, e.Generation, e.Replacement,
		e.Prefixes, e.Postfixes, e.Transpilers, string(owners),
		int64(e.From), int64(e.To), e.Snapshot, e.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert generation: %w", err)
	}
	return nil
}

// Query selects journal entries. Zero fields match everything.
type Query struct {
	Method     string
	Engine     string
	OwnerRegex string
	Limit      int
}

// Search returns matching entries, newest first.
func (s *Store) Search(ctx context.Context, q Query) ([]Entry, error) {
	query := "SELECT id, engine, method, generation, replacement, prefixes, postfixes, transpilers, owners, entry_from, entry_to, snapshot, timestamp FROM generations WHERE 1=1"
	args := []any{}
	if q.Method != "" {
		query += " AND method = ?"
		args = append(args, q.Method)
	}
	if q.Engine != "" {
		query += " AND engine = ?"
		args = append(args, q.Engine)
	}
	query += " ORDER BY id DESC"

	var ownerRe *regexp.Regexp
	if q.OwnerRegex != "" {
		var err error
		if ownerRe, err = regexp.Compile(q.OwnerRegex); err != nil {
			return nil, fmt.Errorf("invalid owner regex: %w", err)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var results []Entry
	for rows.Next() {
		if q.Limit > 0 && len(results) >= q.Limit {
			break
		}
		var (
			e         Entry
			ownersRaw string
			from, to  int64
		)
		if err := rows.Scan(&e.ID, &e.Engine, &e.Method, &e.Generation, &e.Replacement,
			&e.Prefixes, &e.Postfixes, &e.Transpilers, &ownersRaw, &from, &to, &e.Snapshot, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan generation: %w", err)
		}
		e.From, e.To = uint64(from), uint64(to)
		_ = json.Unmarshal([]byte(ownersRaw), &e.Owners)

		if ownerRe != nil && !anyMatch(ownerRe, e.Owners) {
			continue
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

func anyMatch(re *regexp.Regexp, values []string) bool {
	for _, v := range values {
		if re.MatchString(v) {
			return true
		}
	}
	return false
}
