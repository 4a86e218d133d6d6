package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Fixed-width UTC so that text comparison orders like time.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

const memoryPath = ":memory:"

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, zero CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database and runs migrations.
// The database file is created with 0600 permissions and its parent directory with 0700.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != memoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}

		// Pre-create the file with restrictive permissions if it doesn't exist
		if _, err := os.Stat(path); os.IsNotExist(err) {
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0600)
			if err != nil {
				return nil, fmt.Errorf("creating database file: %w", err)
			}
			_ = f.Close()
		}
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite handles one writer at a time
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	var current int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for i := current; i < len(migrations); i++ {
		slog.Info("applying migration", "version", i+1)
		if _, err := s.db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_version (version) VALUES (?)", i+1); err != nil {
			return fmt.Errorf("recording migration %d: %w", i+1, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Reminders ---

func (s *SQLiteStore) CreateReminder(r *ReminderRecord) error {
	if r.Status == "" {
		r.Status = StatusScheduled
	}
	_, err := s.db.Exec(`INSERT INTO reminders (id, key, data, fire_at, cron, status, created_at, fired_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Key, r.Data, formatTime(r.FireAt), r.Cron, r.Status,
		formatTime(r.CreatedAt), formatTime(r.FiredAt))
	if err != nil {
		return fmt.Errorf("inserting reminder: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetReminder(id string) (*ReminderRecord, error) {
	row := s.db.QueryRow(`SELECT id, key, data, fire_at, cron, status, created_at, fired_at
		FROM reminders WHERE id = ?`, id)
	r, err := scanReminder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reminder %q: %w", id, ErrNotFound)
	}
	return r, err
}

func (s *SQLiteStore) MarkReminderFired(id string, at time.Time) error {
	res, err := s.db.Exec(`UPDATE reminders SET status = ?, fired_at = ? WHERE id = ?`,
		StatusFired, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("marking reminder fired: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("reminder %q: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) ListReminders(f ReminderFilter) ([]ReminderRecord, error) {
	query := "SELECT id, key, data, fire_at, cron, status, created_at, fired_at FROM reminders WHERE 1=1"
	var args []any

	if f.Status != "" && f.Status != "all" {
		query += " AND status = ?"
		args = append(args, f.Status)
	}
	if f.Key != "" {
		query += " AND key = ?"
		args = append(args, f.Key)
	}

	query += " ORDER BY fire_at ASC"

	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing reminders: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ReminderRecord
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// --- Event journal ---

func (s *SQLiteStore) AddEvent(e *EventRecord) error {
	res, err := s.db.Exec(`INSERT INTO events (key, data, origin, created_at) VALUES (?, ?, ?, ?)`,
		e.Key, e.Data, e.Origin, formatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("adding event: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		e.ID = id
	}
	return nil
}

func (s *SQLiteStore) GetEvents(key string, limit int) ([]EventRecord, error) {
	query := "SELECT id, key, data, origin, created_at FROM events"
	var args []any

	if key != "" {
		query += " WHERE key = ?"
		args = append(args, key)
	}
	query += " ORDER BY id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("getting events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []EventRecord
	for rows.Next() {
		var e EventRecord
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Key, &e.Data, &e.Origin, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		e.CreatedAt = parseTime(createdAt)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Maintenance ---

// Cleanup deletes fired reminders and journal entries older than before.
func (s *SQLiteStore) Cleanup(before time.Time) error {
	cutoff := formatTime(before)

	if _, err := s.db.Exec("DELETE FROM reminders WHERE status = ? AND fired_at < ?", StatusFired, cutoff); err != nil {
		return fmt.Errorf("cleaning reminders: %w", err)
	}
	if _, err := s.db.Exec("DELETE FROM events WHERE created_at < ?", cutoff); err != nil {
		return fmt.Errorf("cleaning events: %w", err)
	}

	return nil
}

// --- Helpers ---

type scanner interface {
	Scan(dest ...any) error
}

func scanReminder(row scanner) (*ReminderRecord, error) {
	var r ReminderRecord
	var fireAt, createdAt, firedAt string

	err := row.Scan(&r.ID, &r.Key, &r.Data, &fireAt, &r.Cron, &r.Status, &createdAt, &firedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning reminder: %w", err)
	}

	r.FireAt = parseTime(fireAt)
	r.CreatedAt = parseTime(createdAt)
	r.FiredAt = parseTime(firedAt)

	return &r, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(timeFormat, s)
	return t
}
