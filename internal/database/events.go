package database

import (
	"database/sql"
	"strings"

	"github.com/google/uuid"
)

const eventColumns = `id, url, title, source, category, published_at, content, content_fetched, period_id, collected_at`

// InsertEvent inserts an event under a new UUID. Returns the ID on success,
// "" if the URL was already collected.
func (db *DB) InsertEvent(url, title string, source, category, publishedAt, content, periodID *string) (string, error) {
	id := uuid.NewString()
	result, err := db.conn.Exec(
		`INSERT OR IGNORE INTO events (id, url, title, source, category, published_at, content, period_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, url, title, source, category, publishedAt, content, periodID,
	)
	if err != nil {
		return "", err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	return id, nil
}

// GetEventsForPeriod returns events for a given period, newest first.
func (db *DB) GetEventsForPeriod(periodID string) ([]Event, error) {
	rows, err := db.conn.Query(
		`SELECT `+eventColumns+` FROM events WHERE period_id = ? ORDER BY collected_at DESC`, periodID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// GetEventsNeedingFetch returns events with empty content that haven't been fetched.
func (db *DB) GetEventsNeedingFetch(periodID *string) ([]Event, error) {
	query := `SELECT ` + eventColumns + `
		FROM events WHERE (content IS NULL OR content = '') AND content_fetched = 0`
	var args []any
	if periodID != nil {
		query += " AND period_id = ?"
		args = append(args, *periodID)
	}
	query += " ORDER BY collected_at DESC"

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// UpdateEventContent updates event content after fetching.
func (db *DB) UpdateEventContent(eventID string, content *string) error {
	_, err := db.conn.Exec(
		"UPDATE events SET content = ?, content_fetched = 1 WHERE id = ?",
		content, eventID,
	)
	return err
}

// MarkEventFetchAttempted marks that we tried to fetch content.
func (db *DB) MarkEventFetchAttempted(eventID string) error {
	_, err := db.conn.Exec(
		"UPDATE events SET content_fetched = 1 WHERE id = ?", eventID,
	)
	return err
}

// GetUnanalyzedEvents returns events that have no analysis yet, plus
// fallback analyses stored for one of retryReasons.
func (db *DB) GetUnanalyzedEvents(periodID *string, retryReasons ...string) ([]Event, error) {
	query := `SELECT e.id, e.url, e.title, e.source, e.category, e.published_at, e.content,
		e.content_fetched, e.period_id, e.collected_at
		FROM events e LEFT JOIN event_analyses a ON e.id = a.event_id
		WHERE (a.event_id IS NULL`
	var args []any
	if len(retryReasons) > 0 {
		query += " OR (a.is_fallback = 1 AND a.fallback_reason IN (?" +
			strings.Repeat(", ?", len(retryReasons)-1) + "))"
		for _, r := range retryReasons {
			args = append(args, r)
		}
	}
	query += ")"
	if periodID != nil {
		query += " AND e.period_id = ?"
		args = append(args, *periodID)
	}
	query += " ORDER BY e.collected_at DESC"

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// GetEventByID returns a single event by ID.
func (db *DB) GetEventByID(eventID string) (*Event, error) {
	row := db.conn.QueryRow(`SELECT `+eventColumns+` FROM events WHERE id = ?`, eventID)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var e Event
		var fetched int
		if err := rows.Scan(&e.ID, &e.URL, &e.Title, &e.Source, &e.Category, &e.PublishedAt,
			&e.Content, &fetched, &e.PeriodID, &e.CollectedAt); err != nil {
			return nil, err
		}
		e.ContentFetched = fetched != 0
		events = append(events, e)
	}
	return events, rows.Err()
}

func scanEvent(row *sql.Row) (*Event, error) {
	var e Event
	var fetched int
	if err := row.Scan(&e.ID, &e.URL, &e.Title, &e.Source, &e.Category, &e.PublishedAt,
		&e.Content, &fetched, &e.PeriodID, &e.CollectedAt); err != nil {
		return nil, err
	}
	e.ContentFetched = fetched != 0
	return &e, nil
}
