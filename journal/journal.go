package journal

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"tapasrm.dev/file-drop/storage"
)

// db schema:
// CREATE TABLE IF NOT EXISTS events (
//   id TEXT PRIMARY KEY,
//   action TEXT NOT NULL,
//   storage_name TEXT NOT NULL,
//   original_name TEXT,
//   replaced_name TEXT,
//   size INTEGER,
//   created_at INTEGER NOT NULL
// );

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Event is one recorded file operation.
type Event struct {
	ID           string    `json:"id"`
	Action       string    `json:"action"`
	StorageName  string    `json:"storageName"`
	OriginalName string    `json:"originalName,omitempty"`
	ReplacedName string    `json:"replacedName,omitempty"`
	Size         int64     `json:"size"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Journal is an append-only audit log of file operations kept in SQLite.
type Journal struct {
	db   *sql.DB
	path string
	// sqlite allows one writer at a time
	writeMu sync.Mutex
}

func Open(path string) (*Journal, error) {
	// github.com/mattn/go-sqlite3 registers the driver name "sqlite3"
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	schema := `CREATE TABLE IF NOT EXISTS events (
        id TEXT PRIMARY KEY,
        action TEXT NOT NULL,
        storage_name TEXT NOT NULL,
        original_name TEXT,
        replaced_name TEXT,
        size INTEGER,
        created_at INTEGER NOT NULL
    );
    CREATE INDEX IF NOT EXISTS events_created_at ON events(created_at);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}
	return &Journal{db: db, path: path}, nil
}

// Path is the database file backing the journal.
func (j *Journal) Path() string {
	return j.path
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// Record appends ev, filling in ID and CreatedAt when unset.
func (j *Journal) Record(ctx context.Context, ev Event) (Event, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}

	j.writeMu.Lock()
	defer j.writeMu.Unlock()

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO events(id,action,storage_name,original_name,replaced_name,size,created_at)
         VALUES(?,?,?,?,?,?,?)`,
		ev.ID, ev.Action, ev.StorageName, nullString(ev.OriginalName), nullString(ev.ReplacedName),
		ev.Size, ev.CreatedAt.UnixNano())
	if err != nil {
		return Event{}, fmt.Errorf("insert event: %w", err)
	}
	return ev, nil
}

// RecordActivity adapts Record to storage.ActivityRecorder.
func (j *Journal) RecordActivity(ctx context.Context, a storage.Activity) error {
	_, err := j.Record(ctx, Event{
		Action:       a.Action,
		StorageName:  a.StorageName,
		OriginalName: a.OriginalName,
		ReplacedName: a.ReplacedName,
		Size:         a.Size,
	})
	return err
}

// Recent returns up to limit events, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Event, error) {
	limit = clampLimit(limit)
	rows, err := j.db.QueryContext(ctx,
		`SELECT id,action,storage_name,original_name,replaced_name,size,created_at
         FROM events ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var (
			ev                     Event
			originalName, replaced sql.NullString
			size                   sql.NullInt64
			createdAt              int64
		)
		if err := rows.Scan(&ev.ID, &ev.Action, &ev.StorageName, &originalName, &replaced, &size, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.OriginalName = originalName.String
		ev.ReplacedName = replaced.String
		ev.Size = size.Int64
		ev.CreatedAt = time.Unix(0, createdAt)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Checkpoint flushes the WAL, if any, so the database file can be copied.
func (j *Journal) Checkpoint(ctx context.Context) error {
	j.writeMu.Lock()
	defer j.writeMu.Unlock()
	_, err := j.db.ExecContext(ctx, `PRAGMA wal_checkpoint(TRUNCATE)`)
	return err
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
