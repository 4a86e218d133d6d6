package store

// migrations are applied in order; index i is schema version i+1.
var migrations = []string{
	`CREATE TABLE reminders (
		id         TEXT PRIMARY KEY,
		key        TEXT NOT NULL,
		data       TEXT NOT NULL DEFAULT '',
		fire_at    TEXT NOT NULL,
		cron       TEXT NOT NULL DEFAULT '',
		status     TEXT NOT NULL DEFAULT 'scheduled',
		created_at TEXT NOT NULL,
		fired_at   TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX idx_reminders_status ON reminders(status, fire_at);`,

	`CREATE TABLE events (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		key        TEXT NOT NULL,
		data       TEXT NOT NULL DEFAULT '',
		origin     TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);
	CREATE INDEX idx_events_key ON events(key, created_at);`,
}
