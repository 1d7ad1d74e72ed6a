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
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS events (
    id TEXT PRIMARY KEY,
    url TEXT UNIQUE NOT NULL,
    title TEXT NOT NULL,
    source TEXT,
    category TEXT,
    published_at TEXT,
    content TEXT,
    content_fetched INTEGER DEFAULT 0,
    period_id TEXT,
    collected_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS event_analyses (
    event_id TEXT PRIMARY KEY REFERENCES events(id),
    analysis_json TEXT NOT NULL,
    risk_level TEXT NOT NULL,
    overall_confidence REAL NOT NULL,
    is_fallback INTEGER DEFAULT 0,
    fallback_reason TEXT,
    producer TEXT,
    analyzed_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_reports (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    period_id TEXT UNIQUE NOT NULL,
    generated_at TEXT DEFAULT (datetime('now')),
    event_count INTEGER DEFAULT 0,
    analyzed_count INTEGER DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_events_period ON events(period_id);
CREATE INDEX IF NOT EXISTS idx_events_url ON events(url);
`)
			return err
		},
	},
	{
		Version:     2,
		Description: "source predictions and sentiment scores",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS source_predictions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    subject TEXT NOT NULL,
    source TEXT NOT NULL,
    is_positive INTEGER NOT NULL,
    confidence REAL,
    explanation TEXT,
    observed_at TEXT,
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS sentiment_scores (
    subject TEXT PRIMARY KEY,
    score REAL NOT NULL,
    prediction_count INTEGER NOT NULL,
    last_updated TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_source_predictions_subject ON source_predictions(subject, id);
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
