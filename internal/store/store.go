// Package store is the SQLite persistence layer. It exposes atomic
// operations only; callers never see raw rows or cursors.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"newslens/internal/core"
	"newslens/internal/logger"
)

// Store wraps the SQLite database.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database at path and bootstraps the
// schema. Bootstrap is idempotent: running it N times leaves the schema
// identical. The parent directory is created automatically.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, core.Errorf(core.KindStorage, "creating data directory: %v", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, core.Errorf(core.KindStorage, "opening database: %v", err)
	}
	db.SetMaxOpenConns(5)

	s := &Store{db: db, path: path}
	if err := s.bootstrap(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// bootstrap ensures the schema exists, migrating a legacy layout first when
// one is detected.
func (s *Store) bootstrap() error {
	if err := s.migrateLegacyFeeds(); err != nil {
		return err
	}

	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return core.Errorf(core.KindStorage, "ensuring schema: %v", err)
		}
	}
	return nil
}

// migrateLegacyFeeds detects the old single-table layout, where feeds carried
// a user_id column, and splits it into normalized feeds + subscriptions.
func (s *Store) migrateLegacyFeeds() error {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info('feeds') WHERE name = 'user_id'`,
	).Scan(&n)
	if err != nil || n == 0 {
		return nil
	}

	logger.Info("legacy feeds layout detected, migrating to feeds + subscriptions")

	tx, err := s.db.Begin()
	if err != nil {
		return core.NewError(core.KindSchemaMigrate, err)
	}
	defer tx.Rollback()

	steps := []string{
		`ALTER TABLE feeds RENAME TO feeds_old`,
		schemaFeeds,
		schemaSubscriptions,
		`INSERT OR IGNORE INTO feeds (url, site_url, title, last_checked, status)
		 SELECT url, site_url, title, last_checked, status FROM feeds_old`,
		`INSERT INTO subscriptions (user_id, feed_id, title)
		 SELECT fo.user_id, f.id, fo.title
		 FROM feeds_old fo JOIN feeds f ON fo.url = f.url`,
		`DROP TABLE feeds_old`,
	}
	for _, step := range steps {
		if _, err := tx.Exec(step); err != nil {
			return core.Errorf(core.KindSchemaMigrate, "migrating feeds: %v", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return core.NewError(core.KindSchemaMigrate, err)
	}

	logger.Info("legacy feeds migration complete")
	return nil
}

const schemaFeeds = `
CREATE TABLE IF NOT EXISTS feeds (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	url TEXT NOT NULL UNIQUE,
	site_url TEXT,
	title TEXT,
	last_checked TIMESTAMP,
	status TEXT,
	next_poll_at TIMESTAMP,
	poll_interval_minutes INTEGER DEFAULT 60,
	adaptive_scheduling BOOLEAN DEFAULT TRUE
);`

const schemaSubscriptions = `
CREATE TABLE IF NOT EXISTS subscriptions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL,
	feed_id INTEGER NOT NULL,
	title TEXT,
	weight INTEGER DEFAULT 0,
	created_at TIMESTAMP DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
	FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE,
	FOREIGN KEY(feed_id) REFERENCES feeds(id) ON DELETE CASCADE,
	UNIQUE(user_id, feed_id)
);`

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		display_name TEXT,
		password_hash TEXT,
		prefs_json TEXT,
		created_at TIMESTAMP DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
		last_login TIMESTAMP
	);`,
	schemaFeeds,
	schemaSubscriptions,
	`CREATE TABLE IF NOT EXISTS articles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		canonical_url TEXT NOT NULL UNIQUE,
		title TEXT,
		content TEXT,
		full_content TEXT,
		published_at TIMESTAMP,
		first_seen_at TIMESTAMP DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
		processing_status TEXT DEFAULT 'pending',
		processed_at TIMESTAMP
	);`,
	`CREATE TABLE IF NOT EXISTS article_occurrences (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		article_id INTEGER NOT NULL,
		feed_id INTEGER NOT NULL,
		feed_item_id TEXT,
		discovered_at TIMESTAMP DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
		FOREIGN KEY(article_id) REFERENCES articles(id) ON DELETE CASCADE,
		FOREIGN KEY(feed_id) REFERENCES feeds(id) ON DELETE CASCADE,
		UNIQUE(article_id, feed_id)
	);`,
	`CREATE TABLE IF NOT EXISTS article_summaries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		article_id INTEGER NOT NULL UNIQUE,
		headline TEXT,
		bullets_json TEXT,
		details TEXT,
		model TEXT,
		categories_json TEXT,
		prompt_tokens INTEGER,
		completion_tokens INTEGER,
		created_at TIMESTAMP DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
		FOREIGN KEY(article_id) REFERENCES articles(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS user_article_summaries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		article_id INTEGER NOT NULL,
		relevance_score REAL,
		relevance_reasons_json TEXT,
		is_relevant BOOLEAN,
		personalized_headline TEXT,
		personalized_bullets_json TEXT,
		personalized_details TEXT,
		language TEXT,
		complexity_level TEXT,
		summary_length TEXT,
		llm_model TEXT,
		prompt_tokens INTEGER,
		completion_tokens INTEGER,
		created_at TIMESTAMP DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE,
		FOREIGN KEY(article_id) REFERENCES articles(id) ON DELETE CASCADE,
		UNIQUE(user_id, article_id)
	);`,
	`CREATE TABLE IF NOT EXISTS user_article_views (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		article_id INTEGER NOT NULL,
		session_id INTEGER,
		viewed_at TIMESTAMP DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
		rating INTEGER,
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE,
		FOREIGN KEY(article_id) REFERENCES articles(id) ON DELETE CASCADE,
		UNIQUE(user_id, article_id)
	);`,
	`CREATE TABLE IF NOT EXISTS user_preferences (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		preference_type TEXT NOT NULL,
		preference_key TEXT NOT NULL,
		preference_value REAL,
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE,
		UNIQUE(user_id, preference_type, preference_key)
	);`,
	`CREATE TABLE IF NOT EXISTS vec_articles (
		article_id INTEGER PRIMARY KEY,
		embedding BLOB NOT NULL,
		FOREIGN KEY(article_id) REFERENCES articles(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS vec_users (
		user_id INTEGER PRIMARY KEY,
		embedding BLOB NOT NULL,
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS processing_jobs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_type TEXT NOT NULL,
		entity_id INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		llm_model TEXT,
		error_message TEXT,
		created_at TIMESTAMP DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
		started_at TIMESTAMP,
		completed_at TIMESTAMP,
		prompt_tokens INTEGER,
		completion_tokens INTEGER,
		processing_time_ms INTEGER
	);`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		start_at TIMESTAMP DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
		duration_requested_seconds INTEGER,
		title TEXT,
		digest_summary_id INTEGER,
		FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
	);`,
	`CREATE TABLE IF NOT EXISTS chat_messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id INTEGER NOT NULL,
		author TEXT NOT NULL,
		message TEXT,
		created_at TIMESTAMP DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
		FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);`,
	`CREATE INDEX IF NOT EXISTS idx_articles_status ON articles(processing_status);`,
	`CREATE INDEX IF NOT EXISTS idx_occurrences_feed ON article_occurrences(feed_id, discovered_at);`,
	`CREATE INDEX IF NOT EXISTS idx_user_summaries_user ON user_article_summaries(user_id, is_relevant);`,
	`CREATE INDEX IF NOT EXISTS idx_chat_messages_session ON chat_messages(session_id, created_at);`,
}

// timeFormat is the canonical timestamp layout used in the database.
const timeFormat = "2006-01-02T15:04:05Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

// parseTime accepts the canonical layout plus the variants SQLite and feed
// sources produce.
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{timeFormat, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// nullTime scans an optional TIMESTAMP column stored as text.
type nullTime struct {
	Time  time.Time
	Valid bool
}

func (n *nullTime) Scan(value any) error {
	if value == nil {
		n.Valid = false
		return nil
	}
	switch v := value.(type) {
	case time.Time:
		n.Time, n.Valid = v.UTC(), true
		return nil
	case string:
		t, err := parseTime(v)
		if err != nil {
			return err
		}
		n.Time, n.Valid = t, true
		return nil
	case []byte:
		t, err := parseTime(string(v))
		if err != nil {
			return err
		}
		n.Time, n.Valid = t, true
		return nil
	default:
		return fmt.Errorf("cannot scan %T as timestamp", value)
	}
}

func (n nullTime) ptr() *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}
