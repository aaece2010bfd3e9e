// Package session persists the CLI conversation transcript in SQLite.
package session

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteTimeFormat = "2006-01-02 15:04:05"

const transcriptSchema = `CREATE TABLE IF NOT EXISTS transcript (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TEXT NOT NULL
)`

// Entry is one persisted transcript line.
type Entry struct {
	ID        int64
	Role      string
	Content   string
	CreatedAt time.Time
}

// Transcript is the SQLite-backed ordered message log.
type Transcript struct {
	db *sql.DB
}

// Open creates or opens the transcript database at dir/transcript.db.
func Open(dir string) (*Transcript, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, "transcript.db"))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec(transcriptSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Transcript{db: db}, nil
}

// Append stores one message at the end of the log.
func (t *Transcript) Append(role, content string) error {
	_, err := t.db.Exec(
		"INSERT INTO transcript (role, content, created_at) VALUES (?, ?, ?)",
		role, content, time.Now().UTC().Format(sqliteTimeFormat),
	)
	if err != nil {
		return fmt.Errorf("append transcript: %w", err)
	}
	return nil
}

// Recent returns the last n entries in chronological order.
func (t *Transcript) Recent(n int) ([]Entry, error) {
	rows, err := t.db.Query(
		"SELECT id, role, content, created_at FROM transcript ORDER BY id DESC LIMIT ?", n)
	if err != nil {
		return nil, fmt.Errorf("query transcript: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var created string
		if err := rows.Scan(&e.ID, &e.Role, &e.Content, &created); err != nil {
			return nil, fmt.Errorf("scan transcript row: %w", err)
		}
		e.CreatedAt, _ = time.Parse(sqliteTimeFormat, created)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcript: %w", err)
	}

	// Reverse the DESC result so callers read oldest first.
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

func (t *Transcript) Close() error {
	return t.db.Close()
}
