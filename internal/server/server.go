package server

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/TobiSchelling/MarketPulse/internal/database"
	"github.com/TobiSchelling/MarketPulse/internal/impact"
	"github.com/TobiSchelling/MarketPulse/internal/metrics"
	"github.com/TobiSchelling/MarketPulse/internal/sentiment"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var md = goldmark.New()

// UserSource is the source recorded for predictions entered by hand.
const UserSource = "user"

const defaultEventLimit = 100

// Server is the HTTP server for the dashboard and JSON API.
type Server struct {
	db      *database.DB
	tracker *sentiment.Tracker
	metrics *metrics.Registry
	pages   map[string]*template.Template
	mux     *http.ServeMux
}

// New creates a new Server. m may be nil, in which case /metrics is not found.
func New(db *database.DB, tracker *sentiment.Tracker, m *metrics.Registry) (*Server, error) {
	funcMap := template.FuncMap{
		"markdown":     renderMarkdown,
		"formatPeriod": database.FormatPeriodDisplay,
		"deref": func(s *string) string {
			if s == nil {
				return ""
			}
			return *s
		},
		"pct": func(f float64) string {
			return fmt.Sprintf("%.0f%%", f*100)
		},
		"score": func(f float64) string {
			return strconv.FormatFloat(math.Round(f*10)/10, 'f', -1, 64)
		},
		"placeholder": impact.IsPlaceholder,
	}

	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// Each page is parsed into its own clone of base so that every page can
	// define "title" and "content".
	pageNames := []string{"index.html", "event.html", "sentiment.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		_, err = clone.ParseFS(templateFS, "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{db: db, tracker: tracker, metrics: m, pages: pages, mux: http.NewServeMux()}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))
	s.mux.Handle("GET /metrics", s.metrics.Handler())

	// Pages
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /event/{id}", s.handleEvent)
	s.mux.HandleFunc("GET /sentiment", s.handleSentiment)
	s.mux.HandleFunc("POST /sentiment/add", s.handleAddPrediction)

	// JSON API
	s.mux.HandleFunc("GET /api/events", s.apiEvents)
	s.mux.HandleFunc("GET /api/events/{id}", s.apiEvent)
	s.mux.HandleFunc("GET /api/sentiment", s.apiScores)
	s.mux.HandleFunc("GET /api/sentiment/{subject}", s.apiSubject)
	s.mux.HandleFunc("POST /api/sentiment/{subject}", s.apiAppend)
}

// eventView is an analyzed event prepared for templates.
type eventView struct {
	Event          database.Event
	Analysis       impact.Analysis
	IsFallback     bool
	FallbackReason *string
	AnalyzedAt     *string
}

func toView(ae database.AnalyzedEvent) eventView {
	return eventView{
		Event:          ae.Event,
		Analysis:       ae.Analysis.Analysis.Analysis(),
		IsFallback:     ae.Analysis.IsFallback,
		FallbackReason: ae.Analysis.FallbackReason,
		AnalyzedAt:     ae.Analysis.AnalyzedAt,
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	var periodID *string
	if p := r.URL.Query().Get("period"); p != "" {
		periodID = &p
	}

	ranked, err := s.db.GetRankedEvents(periodID, defaultEventLimit)
	if err != nil {
		log.Printf("Error loading ranked events: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	views := make([]eventView, len(ranked))
	for i, ae := range ranked {
		views[i] = toView(ae)
	}

	stats, _ := s.db.GetStats()
	s.render(w, "index.html", map[string]any{
		"Events":   views,
		"Stats":    stats,
		"PeriodID": periodID,
	})
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	event, err := s.db.GetEventByID(id)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if event == nil {
		http.NotFound(w, r)
		return
	}

	data := map[string]any{"Event": event}
	if a, _ := s.db.GetAnalysis(id); a != nil {
		data["View"] = toView(database.AnalyzedEvent{Event: *event, Analysis: *a})
	}
	s.render(w, "event.html", data)
}

func (s *Server) handleSentiment(w http.ResponseWriter, r *http.Request) {
	scores, err := s.db.GetSubjectScores()
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	s.render(w, "sentiment.html", map[string]any{
		"Scores": scores,
	})
}

func (s *Server) handleAddPrediction(w http.ResponseWriter, r *http.Request) {
	subject := strings.TrimSpace(r.FormValue("subject"))
	direction := r.FormValue("direction")
	if subject == "" || (direction != "positive" && direction != "negative") {
		http.Redirect(w, r, "/sentiment", http.StatusFound)
		return
	}

	p := sentiment.SourcePrediction{Source: UserSource, IsPositive: direction == "positive"}
	if c := strings.TrimSpace(r.FormValue("confidence")); c != "" {
		v, err := strconv.ParseFloat(c, 64)
		if err != nil || v < 0 || v > 1 {
			http.Error(w, "confidence must be a number within [0,1]", http.StatusBadRequest)
			return
		}
		p.Confidence = &v
	}
	if e := strings.TrimSpace(r.FormValue("explanation")); e != "" {
		p.Explanation = &e
	}

	if _, err := s.appendPrediction(r, subject, p); err != nil {
		log.Printf("Error appending prediction for %s: %v", subject, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/sentiment", http.StatusFound)
}

func (s *Server) appendPrediction(r *http.Request, subject string, p sentiment.SourcePrediction) (sentiment.Score, error) {
	if p.Timestamp == nil {
		now := time.Now().UTC()
		p.Timestamp = &now
	}
	score, err := s.tracker.Append(r.Context(), subject, p)
	if err != nil {
		return sentiment.Score{}, err
	}
	s.metrics.ObservePrediction(p.Source, subject, score.Score)
	return score, nil
}

// apiEventJSON is the wire form of an analyzed event.
type apiEventJSON struct {
	ID             string        `json:"id"`
	URL            string        `json:"url"`
	Title          string        `json:"title"`
	Source         *string       `json:"source"`
	Category       *string       `json:"category"`
	PublishedAt    *string       `json:"published_at"`
	PeriodID       *string       `json:"period_id"`
	CollectedAt    *string       `json:"collected_at"`
	Analysis       *impact.Valid `json:"analysis,omitempty"`
	IsFallback     bool          `json:"is_fallback"`
	FallbackReason *string       `json:"fallback_reason,omitempty"`
	AnalyzedAt     *string       `json:"analyzed_at,omitempty"`
}

func toAPIEvent(e database.Event, a *database.EventAnalysis) apiEventJSON {
	out := apiEventJSON{
		ID:          e.ID,
		URL:         e.URL,
		Title:       e.Title,
		Source:      e.Source,
		Category:    e.Category,
		PublishedAt: e.PublishedAt,
		PeriodID:    e.PeriodID,
		CollectedAt: e.CollectedAt,
	}
	if a != nil {
		v := a.Analysis
		out.Analysis = &v
		out.IsFallback = a.IsFallback
		out.FallbackReason = a.FallbackReason
		out.AnalyzedAt = a.AnalyzedAt
	}
	return out
}

func (s *Server) apiEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var periodID *string
	if p := q.Get("period"); p != "" {
		periodID = &p
	}
	limit := defaultEventLimit
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	ranked, err := s.db.GetRankedEvents(periodID, limit)
	if err != nil {
		log.Printf("Error loading ranked events: %v", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	out := make([]apiEventJSON, len(ranked))
	for i, ae := range ranked {
		out[i] = toAPIEvent(ae.Event, &ae.Analysis)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) apiEvent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	event, err := s.db.GetEventByID(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if event == nil {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}
	a, err := s.db.GetAnalysis(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, toAPIEvent(*event, a))
}

type apiScoreJSON struct {
	Subject         string  `json:"subject"`
	Score           float64 `json:"score"`
	PredictionCount int     `json:"prediction_count"`
	LastUpdated     string  `json:"last_updated"`
}

func (s *Server) apiScores(w http.ResponseWriter, r *http.Request) {
	scores, err := s.db.GetSubjectScores()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	out := make([]apiScoreJSON, len(scores))
	for i, sc := range scores {
		out[i] = apiScoreJSON(sc)
	}
	writeJSON(w, http.StatusOK, out)
}

type apiSubjectJSON struct {
	Subject string `json:"subject"`
	sentiment.Score
}

func (s *Server) apiSubject(w http.ResponseWriter, r *http.Request) {
	subject := r.PathValue("subject")
	score, err := s.tracker.Current(r.Context(), subject)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, apiSubjectJSON{Subject: subject, Score: score})
}

// appendRequest is the body of POST /api/sentiment/{subject}. Source
// defaults to "user".
type appendRequest struct {
	Source      string     `json:"source"`
	IsPositive  *bool      `json:"isPositive"`
	Confidence  *float64   `json:"confidence"`
	Explanation *string    `json:"explanation"`
	Timestamp   *time.Time `json:"timestamp"`
}

func (s *Server) apiAppend(w http.ResponseWriter, r *http.Request) {
	subject := strings.TrimSpace(r.PathValue("subject"))
	if subject == "" {
		writeError(w, http.StatusBadRequest, "subject is required")
		return
	}

	var req appendRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.IsPositive == nil {
		writeError(w, http.StatusBadRequest, "isPositive is required")
		return
	}
	if req.Confidence != nil && (math.IsNaN(*req.Confidence) || *req.Confidence < 0 || *req.Confidence > 1) {
		writeError(w, http.StatusBadRequest, "confidence must be within [0,1]")
		return
	}
	if req.Source == "" {
		req.Source = UserSource
	}

	score, err := s.appendPrediction(r, subject, sentiment.SourcePrediction{
		Source:      req.Source,
		IsPositive:  *req.IsPositive,
		Confidence:  req.Confidence,
		Explanation: req.Explanation,
		Timestamp:   req.Timestamp,
	})
	if err != nil {
		log.Printf("Error appending prediction for %s: %v", subject, err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusCreated, apiSubjectJSON{Subject: subject, Score: score})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		log.Printf("Template %s not found", name)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base.html", data); err != nil {
		log.Printf("Error rendering template %s: %v", name, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	buf.WriteTo(w)
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

// Serve starts the HTTP server on the given port.
func Serve(db *database.DB, tracker *sentiment.Tracker, m *metrics.Registry, port int) error {
	srv, err := New(db, tracker, m)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	log.Printf("Server listening on http://%s", addr)
	return http.ListenAndServe(addr, srv.Handler())
}
