package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/TobiSchelling/MarketPulse/internal/database"
	"github.com/TobiSchelling/MarketPulse/internal/impact"
	"github.com/TobiSchelling/MarketPulse/internal/metrics"
	"github.com/TobiSchelling/MarketPulse/internal/sentiment"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func ptr(s string) *string { return &s }

func newServer(t *testing.T, db *database.DB) *Server {
	t.Helper()
	tracker := sentiment.NewTracker(db, sentiment.Options{DefaultWeight: 0.5}, nil)
	srv, err := New(db, tracker, metrics.New())
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	return srv
}

func do(srv *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if method == http.MethodPost && strings.HasPrefix(path, "/sentiment/") {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

// seedAnalyzed stores an event with a validated analysis of the given risk.
func seedAnalyzed(t *testing.T, db *database.DB, url, title string, risk impact.RiskLevel) string {
	t.Helper()
	id, err := db.InsertEvent(url, title, ptr("Wire"), ptr("economic"), nil, nil, ptr("2026-10-18"))
	if err != nil {
		t.Fatalf("InsertEvent: %v", err)
	}
	a := impact.Default().Analysis()
	a.RiskLevel = risk
	a.MarketImpact = "Freight rates **spike**."
	a.StockPredictions.Positive = []impact.StockPrediction{{Symbol: "ZIM", Rationale: "Spot rates"}}
	if err := db.UpsertAnalysis(id, impact.ValidateOrDefault(a), false, nil, "llm"); err != nil {
		t.Fatalf("UpsertAnalysis: %v", err)
	}
	return id
}

func TestIndexRoute(t *testing.T) {
	db := openTestDB(t)
	seedAnalyzed(t, db, "https://a.com", "Minor tariff tweak", impact.RiskLow)
	seedAnalyzed(t, db, "https://b.com", "Strait closed to shipping", impact.RiskCritical)
	srv := newServer(t, db)

	rec := do(srv, "GET", "/", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	critical := strings.Index(body, "Strait closed to shipping")
	low := strings.Index(body, "Minor tariff tweak")
	if critical < 0 || low < 0 || critical > low {
		t.Error("expected critical event listed before low-risk event")
	}
}

func TestUnknownPathNotFound(t *testing.T) {
	srv := newServer(t, openTestDB(t))
	if rec := do(srv, "GET", "/nope", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestEventRoute(t *testing.T) {
	db := openTestDB(t)
	id := seedAnalyzed(t, db, "https://a.com", "Port strike", impact.RiskHigh)
	srv := newServer(t, db)

	rec := do(srv, "GET", "/event/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<strong>spike</strong>") {
		t.Error("expected market impact rendered as markdown")
	}
	if !strings.Contains(body, "ZIM") {
		t.Error("expected stock prediction in response")
	}
	if !strings.Contains(body, impact.PlaceholderRationale) {
		t.Error("expected placeholder shown for empty negative list")
	}

	if rec := do(srv, "GET", "/event/missing", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for missing event, got %d", rec.Code)
	}
}

func TestAPIEvents(t *testing.T) {
	db := openTestDB(t)
	seedAnalyzed(t, db, "https://a.com", "Low", impact.RiskLow)
	seedAnalyzed(t, db, "https://b.com", "High", impact.RiskHigh)
	srv := newServer(t, db)

	rec := do(srv, "GET", "/api/events?limit=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var events []struct {
		Title    string `json:"title"`
		Analysis struct {
			RiskLevel string `json:"risk_level"`
		} `json:"analysis"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &events); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if len(events) != 1 || events[0].Title != "High" || events[0].Analysis.RiskLevel != "high" {
		t.Errorf("unexpected events %+v", events)
	}

	if rec := do(srv, "GET", "/api/events?limit=zero", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", rec.Code)
	}
}

func TestAPIEventDetail(t *testing.T) {
	db := openTestDB(t)
	id := seedAnalyzed(t, db, "https://a.com", "Port strike", impact.RiskHigh)
	pending, _ := db.InsertEvent("https://b.com", "Pending", nil, nil, nil, nil, ptr("2026-10-18"))
	srv := newServer(t, db)

	rec := do(srv, "GET", "/api/events/"+id, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"risk_level":"high"`) {
		t.Errorf("expected analysis in body, got %s", rec.Body.String())
	}

	rec = do(srv, "GET", "/api/events/"+pending, "")
	if rec.Code != http.StatusOK || strings.Contains(rec.Body.String(), `"analysis"`) {
		t.Errorf("expected pending event without analysis, got %d %s", rec.Code, rec.Body.String())
	}

	if rec := do(srv, "GET", "/api/events/missing", ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestAPIAppendAndRead(t *testing.T) {
	db := openTestDB(t)
	srv := newServer(t, db)

	rec := do(srv, "POST", "/api/sentiment/AAPL", `{"isPositive": true, "confidence": 0.9}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = do(srv, "POST", "/api/sentiment/AAPL", `{"isPositive": false, "confidence": 0.9, "source": "analyst"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	rec = do(srv, "GET", "/api/sentiment/AAPL", "")
	var got struct {
		Subject     string  `json:"subject"`
		Score       float64 `json:"score"`
		Predictions []struct {
			Source string `json:"source"`
		} `json:"predictions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if got.Score != 50 {
		t.Errorf("expected opposing predictions to cancel to 50, got %v", got.Score)
	}
	if len(got.Predictions) != 2 || got.Predictions[0].Source != UserSource || got.Predictions[1].Source != "analyst" {
		t.Errorf("unexpected predictions %+v", got.Predictions)
	}

	rec = do(srv, "GET", "/api/sentiment", "")
	if !strings.Contains(rec.Body.String(), `"subject":"AAPL"`) {
		t.Errorf("expected AAPL in score list, got %s", rec.Body.String())
	}
}

func TestAPIAppendRejectsBadInput(t *testing.T) {
	srv := newServer(t, openTestDB(t))
	tests := map[string]string{
		"missing direction":  `{"confidence": 0.5}`,
		"confidence too big": `{"isPositive": true, "confidence": 1.5}`,
		"not json":           `positive`,
		"unknown field":      `{"isPositive": true, "weight": 2}`,
	}
	for name, body := range tests {
		if rec := do(srv, "POST", "/api/sentiment/AAPL", body); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", name, rec.Code)
		}
	}
}

func TestAPISubjectWithoutHistory(t *testing.T) {
	srv := newServer(t, openTestDB(t))
	rec := do(srv, "GET", "/api/sentiment/NONE", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"score":50`) {
		t.Errorf("expected neutral score, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestSentimentFormAdd(t *testing.T) {
	db := openTestDB(t)
	srv := newServer(t, db)

	rec := do(srv, "POST", "/sentiment/add", "subject=TSLA&direction=negative&confidence=0.8&explanation=Recall")
	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}

	preds, err := db.Predictions(context.Background(), "TSLA")
	if err != nil {
		t.Fatalf("Predictions: %v", err)
	}
	if len(preds) != 1 || preds[0].IsPositive || preds[0].Source != UserSource {
		t.Fatalf("unexpected stored predictions %+v", preds)
	}
	if preds[0].Timestamp == nil || time.Since(*preds[0].Timestamp) > time.Minute {
		t.Errorf("expected recent timestamp, got %v", preds[0].Timestamp)
	}

	rec = do(srv, "GET", "/sentiment", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "TSLA") {
		t.Errorf("expected TSLA on sentiment page, got %d", rec.Code)
	}
}

func TestMetricsRoute(t *testing.T) {
	srv := newServer(t, openTestDB(t))
	do(srv, "POST", "/api/sentiment/AAPL", `{"isPositive": true}`)

	rec := do(srv, "GET", "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `marketpulse_predictions_total{source="user"} 1`) {
		t.Error("expected user prediction counter in metrics output")
	}
}

func TestStaticRoute(t *testing.T) {
	srv := newServer(t, openTestDB(t))

	rec := do(srv, "GET", "/static/style.css", "")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), ".risk-critical") {
		t.Error("expected CSS content")
	}
}
