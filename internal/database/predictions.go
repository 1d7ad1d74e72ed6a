package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/TobiSchelling/MarketPulse/internal/sentiment"
)

// DB implements sentiment.AtomicStore so trackers in separate processes
// sharing one database file never save a score over a partial history.
var _ sentiment.AtomicStore = (*DB)(nil)

// querier is satisfied by both *sql.DB and *sql.Conn.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// AppendPrediction appends a prediction to a subject's history.
func (db *DB) AppendPrediction(ctx context.Context, subject string, p sentiment.SourcePrediction) error {
	return appendPrediction(ctx, db.conn, subject, p)
}

// Predictions returns a subject's full history in arrival order.
func (db *DB) Predictions(ctx context.Context, subject string) ([]sentiment.SourcePrediction, error) {
	return predictions(ctx, db.conn, subject)
}

// SaveScore stores the latest computed score for a subject.
func (db *DB) SaveScore(ctx context.Context, subject string, s sentiment.Score) error {
	return saveScore(ctx, db.conn, subject, s)
}

// UpdateScore appends p (when non-nil), reloads the subject's history and
// saves score(history), all inside one BEGIN IMMEDIATE transaction. The
// write lock is taken before the history is read, so another process
// appending to the same file waits until this score is committed.
func (db *DB) UpdateScore(ctx context.Context, subject string, p *sentiment.SourcePrediction, score func([]sentiment.SourcePrediction) sentiment.Score) (out sentiment.Score, err error) {
	conn, err := db.conn.Conn(ctx)
	if err != nil {
		return sentiment.Score{}, fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Close()

	// database/sql cannot request an immediate transaction, so it is
	// driven by hand on a dedicated connection.
	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return sentiment.Score{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if err != nil {
			conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	if p != nil {
		if err := appendPrediction(ctx, conn, subject, *p); err != nil {
			return sentiment.Score{}, err
		}
	}
	preds, err := predictions(ctx, conn, subject)
	if err != nil {
		return sentiment.Score{}, err
	}
	out = score(preds)
	if err := ctx.Err(); err != nil {
		return sentiment.Score{}, err
	}
	if err := saveScore(ctx, conn, subject, out); err != nil {
		return sentiment.Score{}, err
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return sentiment.Score{}, fmt.Errorf("committing score: %w", err)
	}
	return out, nil
}

func appendPrediction(ctx context.Context, q querier, subject string, p sentiment.SourcePrediction) error {
	var observed *string
	if p.Timestamp != nil {
		s := p.Timestamp.UTC().Format(time.RFC3339Nano)
		observed = &s
	}
	positive := 0
	if p.IsPositive {
		positive = 1
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO source_predictions (subject, source, is_positive, confidence, explanation, observed_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		subject, p.Source, positive, p.Confidence, p.Explanation, observed,
	)
	return err
}

func predictions(ctx context.Context, q querier, subject string) ([]sentiment.SourcePrediction, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT source, is_positive, confidence, explanation, observed_at
		FROM source_predictions WHERE subject = ? ORDER BY id`, subject,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	preds := []sentiment.SourcePrediction{}
	for rows.Next() {
		var p sentiment.SourcePrediction
		var positive int
		var confidence sql.NullFloat64
		var observed *string
		if err := rows.Scan(&p.Source, &positive, &confidence, &p.Explanation, &observed); err != nil {
			return nil, err
		}
		p.IsPositive = positive != 0
		if confidence.Valid {
			c := confidence.Float64
			p.Confidence = &c
		}
		if observed != nil {
			if ts, err := time.Parse(time.RFC3339Nano, *observed); err == nil {
				p.Timestamp = &ts
			}
		}
		preds = append(preds, p)
	}
	return preds, rows.Err()
}

func saveScore(ctx context.Context, q querier, subject string, s sentiment.Score) error {
	_, err := q.ExecContext(ctx,
		`INSERT OR REPLACE INTO sentiment_scores (subject, score, prediction_count, last_updated)
		VALUES (?, ?, ?, ?)`,
		subject, s.Score, len(s.Predictions), s.LastUpdated.UTC().Format(time.RFC3339Nano),
	)
	return err
}

// GetSubjectScores returns every tracked subject's last saved score,
// most bullish first.
func (db *DB) GetSubjectScores() ([]SubjectScore, error) {
	rows, err := db.conn.Query(
		`SELECT subject, score, prediction_count, last_updated
		FROM sentiment_scores ORDER BY score DESC, subject`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SubjectScore
	for rows.Next() {
		var s SubjectScore
		if err := rows.Scan(&s.Subject, &s.Score, &s.PredictionCount, &s.LastUpdated); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetSubjects returns every subject with at least one prediction.
func (db *DB) GetSubjects() ([]string, error) {
	rows, err := db.conn.Query(`SELECT DISTINCT subject FROM source_predictions ORDER BY subject`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
