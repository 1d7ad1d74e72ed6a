package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/TobiSchelling/MarketPulse/internal/impact"
)

// UpsertAnalysis stores the analysis for an event, replacing any previous one.
func (db *DB) UpsertAnalysis(eventID string, v impact.Valid, isFallback bool, reason *string, producer string) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding analysis: %w", err)
	}
	a := v.Analysis()

	fallback := 0
	if isFallback {
		fallback = 1
	}

	_, err = db.conn.Exec(
		`INSERT OR REPLACE INTO event_analyses
		(event_id, analysis_json, risk_level, overall_confidence, is_fallback, fallback_reason, producer)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		eventID, string(data), string(a.RiskLevel), a.StockPredictions.ConfidenceScores.OverallPrediction,
		fallback, reason, producer,
	)
	return err
}

// GetAnalysis returns the stored analysis for an event, or nil if none.
func (db *DB) GetAnalysis(eventID string) (*EventAnalysis, error) {
	row := db.conn.QueryRow(
		`SELECT event_id, analysis_json, is_fallback, fallback_reason, producer, analyzed_at
		FROM event_analyses WHERE event_id = ?`, eventID,
	)

	var ea EventAnalysis
	var data string
	var fallback int
	if err := row.Scan(&ea.EventID, &data, &fallback, &ea.FallbackReason, &ea.Producer, &ea.AnalyzedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	ea.Analysis = impact.FromStored([]byte(data))
	ea.IsFallback = fallback != 0
	return &ea, nil
}

// severityOrder ranks a.risk_level the way impact.RiskLevel.Severity does.
var severityOrder = func() string {
	var b strings.Builder
	b.WriteString("CASE a.risk_level")
	for _, r := range impact.RiskLevels() {
		fmt.Fprintf(&b, " WHEN '%s' THEN %d", r, r.Severity())
	}
	b.WriteString(" ELSE 0 END")
	return b.String()
}()

// GetRankedEvents returns analyzed events ordered by risk severity, then
// overall prediction confidence, then recency. A nil periodID spans all
// periods; limit <= 0 means no limit.
func (db *DB) GetRankedEvents(periodID *string, limit int) ([]AnalyzedEvent, error) {
	query := `SELECT e.id, e.url, e.title, e.source, e.category, e.published_at, e.content,
		e.content_fetched, e.period_id, e.collected_at,
		a.analysis_json, a.is_fallback, a.fallback_reason, a.producer, a.analyzed_at
		FROM events e JOIN event_analyses a ON e.id = a.event_id`
	var args []any
	if periodID != nil {
		query += " WHERE e.period_id = ?"
		args = append(args, *periodID)
	}
	query += " ORDER BY " + severityOrder + " DESC, a.overall_confidence DESC, e.collected_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AnalyzedEvent
	for rows.Next() {
		var ae AnalyzedEvent
		var fetched, fallback int
		var data string
		e := &ae.Event
		a := &ae.Analysis
		if err := rows.Scan(&e.ID, &e.URL, &e.Title, &e.Source, &e.Category, &e.PublishedAt,
			&e.Content, &fetched, &e.PeriodID, &e.CollectedAt,
			&data, &fallback, &a.FallbackReason, &a.Producer, &a.AnalyzedAt); err != nil {
			return nil, err
		}
		e.ContentFetched = fetched != 0
		a.EventID = e.ID
		a.Analysis = impact.FromStored([]byte(data))
		a.IsFallback = fallback != 0
		out = append(out, ae)
	}
	return out, rows.Err()
}
