package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "articles and engagement tables",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS articles (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    slug TEXT UNIQUE NOT NULL,
    title TEXT NOT NULL,
    body_markdown TEXT NOT NULL DEFAULT '',
    view_count INTEGER NOT NULL DEFAULT 0 CHECK(view_count >= 0),
    like_count INTEGER NOT NULL DEFAULT 0 CHECK(like_count >= 0),
    last_read_at TEXT,
    created_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%f000', 'now'))
);

CREATE TABLE IF NOT EXISTS view_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    article_id INTEGER NOT NULL REFERENCES articles(id) ON DELETE CASCADE,
    source_address TEXT NOT NULL,
    user_agent TEXT NOT NULL DEFAULT '',
    referrer TEXT,
    viewed_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS like_marks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    article_id INTEGER NOT NULL REFERENCES articles(id) ON DELETE CASCADE,
    user_id TEXT NOT NULL,
    created_at TEXT NOT NULL,
    UNIQUE(article_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_view_events_dedup ON view_events(article_id, source_address, viewed_at);
CREATE INDEX IF NOT EXISTS idx_like_marks_user ON like_marks(user_id);

CREATE TRIGGER IF NOT EXISTS view_events_immutable
BEFORE UPDATE ON view_events
BEGIN
    SELECT RAISE(ABORT, 'view_events rows are append-only');
END;
`)
			return err
		},
	},
	{
		Version:     2,
		Description: "user role assignments",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS user_roles (
    user_id TEXT NOT NULL,
    role TEXT NOT NULL,
    region TEXT,
    granted_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%d %H:%M:%f000', 'now')),
    PRIMARY KEY (user_id, role)
);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
