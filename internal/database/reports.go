package database

import (
	"database/sql"
)

// InsertReport inserts or replaces a run report.
func (db *DB) InsertReport(periodID string, eventCount, analyzedCount int) (int64, error) {
	result, err := db.conn.Exec(
		`INSERT OR REPLACE INTO run_reports (period_id, event_count, analyzed_count)
		VALUES (?, ?, ?)`,
		periodID, eventCount, analyzedCount,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// GetLastRunDate returns the end date from the most recent run report.
// Returns empty string if no runs exist.
func (db *DB) GetLastRunDate() (string, error) {
	row := db.conn.QueryRow(
		"SELECT period_id FROM run_reports ORDER BY period_id DESC LIMIT 1",
	)

	var periodID string
	if err := row.Scan(&periodID); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}

	p, err := ParsePeriod(periodID)
	if err != nil {
		return "", err
	}
	return p.End.Format(dateLayout), nil
}

// GetStats returns aggregate database statistics.
func (db *DB) GetStats() (*Stats, error) {
	s := &Stats{}

	queries := []struct {
		sql  string
		dest *int
	}{
		{"SELECT COUNT(*) FROM events", &s.TotalEvents},
		{"SELECT COUNT(*) FROM event_analyses", &s.AnalyzedEvents},
		{"SELECT COUNT(*) FROM event_analyses WHERE is_fallback = 1", &s.FallbackAnalyses},
		{"SELECT COUNT(DISTINCT period_id) FROM events", &s.PeriodsWithEvents},
		{"SELECT COUNT(*) FROM source_predictions", &s.Predictions},
		{"SELECT COUNT(DISTINCT subject) FROM source_predictions", &s.TrackedSubjects},
	}

	for _, q := range queries {
		if err := db.conn.QueryRow(q.sql).Scan(q.dest); err != nil {
			return nil, err
		}
	}

	return s, nil
}
