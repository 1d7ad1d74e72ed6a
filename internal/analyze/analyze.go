package analyze

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/TobiSchelling/MarketPulse/internal/database"
	"github.com/TobiSchelling/MarketPulse/internal/fetch"
	"github.com/TobiSchelling/MarketPulse/internal/impact"
	"github.com/TobiSchelling/MarketPulse/internal/llm"
	"github.com/TobiSchelling/MarketPulse/internal/metrics"
	"github.com/TobiSchelling/MarketPulse/internal/sentiment"
)

const analysisPrompt = `You are a market analyst assessing how a real-world event affects financial markets.

Event Title: %s
Category: %s
Source: %s
Content:
%s

Respond with ONLY this JSON, no prose:
{
    "affected_sectors": ["sector", ...],
    "market_impact": "How the event moves markets, 1-3 sentences",
    "supply_chain_impact": "Effect on supply chains, 1-2 sentences",
    "market_sentiment": {
        "short_term": "Positive" | "Negative" | "Neutral" | "Mixed",
        "long_term": "Positive" | "Negative" | "Neutral" | "Mixed"
    },
    "stock_predictions": {
        "positive": [{"symbol": "TICKER", "rationale": "why it benefits"}],
        "negative": [{"symbol": "TICKER", "rationale": "why it suffers"}],
        "confidence_scores": {
            "overall_prediction": 0.0-1.0,
            "sector_impact": 0.0-1.0,
            "market_direction": 0.0-1.0
        }
    },
    "risk_level": "low" | "medium" | "high" | "critical",
    "analysis_metadata": {
        "confidence_factors": ["..."],
        "uncertainty_factors": ["..."],
        "data_quality_score": 0.0-1.0
    }
}

Use exchange ticker symbols. Leave a list empty rather than guessing.`

// MarketSubject is the subject that tracks overall market direction.
const MarketSubject = "market"

// Fallback reasons recorded with an analysis that was replaced by the default.
// Events stored with ReasonProducerError are offered again on the next run.
const (
	ReasonProducerError = "producer_error"
	ReasonMalformed     = "malformed"
	ReasonOutOfRange    = "out_of_range"
)

// errDeferred reports a producer failure that says nothing about the event:
// the run was cancelled or the circuit breaker is open. The event stays
// pending instead of receiving a fallback.
var errDeferred = errors.New("analysis deferred")

// Result holds the results of an analysis run.
type Result struct {
	Processed   int
	Fallbacks   int
	Predictions int
	Errors      int
}

// Options configures an Analyzer.
type Options struct {
	SourceName string
	MaxTokens  int
	Metrics    *metrics.Registry
	Clock      func() time.Time
}

// Analyzer asks the producer for an impact analysis of each event, stores
// the validated result and feeds derived predictions to the tracker.
type Analyzer struct {
	db        *database.DB
	provider  llm.Provider
	tracker   *sentiment.Tracker
	metrics   *metrics.Registry
	source    string
	maxTokens int
	now       func() time.Time
}

// NewAnalyzer creates a new event analyzer.
func NewAnalyzer(db *database.DB, provider llm.Provider, tracker *sentiment.Tracker, opts Options) *Analyzer {
	a := &Analyzer{
		db:        db,
		provider:  provider,
		tracker:   tracker,
		metrics:   opts.Metrics,
		source:    opts.SourceName,
		maxTokens: opts.MaxTokens,
		now:       opts.Clock,
	}
	if a.source == "" {
		a.source = "llm"
	}
	if a.maxTokens <= 0 {
		a.maxTokens = 1024
	}
	if a.now == nil {
		a.now = time.Now
	}
	return a
}

// AnalyzeEvents analyzes the period's pending events. With force, every
// event in the period is analyzed again and its stored analysis replaced.
func (a *Analyzer) AnalyzeEvents(ctx context.Context, periodID string, force bool) *Result {
	if a.provider == nil {
		log.Println("No LLM provider available for analysis")
		return &Result{Errors: 1}
	}

	var events []database.Event
	var err error
	if force {
		events, err = a.db.GetEventsForPeriod(periodID)
	} else {
		events, err = a.db.GetUnanalyzedEvents(&periodID, ReasonProducerError)
	}
	if err != nil {
		log.Printf("Error getting events to analyze: %v", err)
		return &Result{Errors: 1}
	}

	if len(events) == 0 {
		log.Println("No events pending analysis")
		return &Result{}
	}

	r := &Result{}
	for i, event := range events {
		if ctx.Err() != nil {
			log.Printf("Analysis interrupted: %v", ctx.Err())
			r.Errors++
			break
		}

		v, reason, err := a.analyzeEvent(ctx, event)
		if err != nil {
			r.Errors++
			log.Printf("Leaving %d events pending: %v", len(events)-i, err)
			break
		}
		var reasonPtr *string
		if reason != "" {
			reasonPtr = &reason
		}
		if err := a.db.UpsertAnalysis(event.ID, v, reason != "", reasonPtr, a.source); err != nil {
			log.Printf("Error storing analysis for %s: %v", event.ID, err)
			r.Errors++
			continue
		}
		a.metrics.ObserveAnalysis(reason)
		r.Processed++

		if reason != "" {
			r.Fallbacks++
			log.Printf("Analyzed [fallback: %s]: %s", reason, event.Title)
			continue
		}

		analysis := v.Analysis()
		log.Printf("Analyzed [%s]: %s", analysis.RiskLevel, event.Title)

		ts := a.now()
		if event.PublishedAt != nil {
			if t, err := time.Parse(time.RFC3339, *event.PublishedAt); err == nil {
				ts = t
			}
		}
		for _, d := range DerivePredictions(analysis, a.source, ts) {
			score, err := a.tracker.Append(ctx, d.Subject, d.Prediction)
			if err != nil {
				log.Printf("Error recording prediction for %s: %v", d.Subject, err)
				r.Errors++
				continue
			}
			a.metrics.ObservePrediction(a.source, d.Subject, score.Score)
			r.Predictions++
		}
	}

	log.Printf("Analysis complete: %d processed (%d fallback), %d predictions, %d errors",
		r.Processed, r.Fallbacks, r.Predictions, r.Errors)
	return r
}

// analyzeEvent returns the event's analysis and, when the default had to be
// substituted, the reason why. An error wrapping errDeferred means nothing
// should be stored for the event.
func (a *Analyzer) analyzeEvent(ctx context.Context, event database.Event) (impact.Valid, string, error) {
	responseText, err := a.provider.Generate(ctx, buildPrompt(event), a.maxTokens)
	if err != nil {
		if ctx.Err() != nil || errors.Is(err, llm.ErrCircuitOpen) {
			return impact.Valid{}, "", fmt.Errorf("%w: %v", errDeferred, err)
		}
		log.Printf("Producer error for %s: %v", event.ID, err)
		return impact.Default(), ReasonProducerError, nil
	}

	parsed := llm.ParseJSONResponse(responseText)
	if parsed == nil {
		log.Printf("Rejected analysis for %s: response is not a JSON object", event.ID)
		return impact.Default(), ReasonMalformed, nil
	}
	v, err := impact.Resolve(parsed)
	if err != nil {
		log.Printf("Rejected analysis for %s: %v", event.ID, err)
		if errors.Is(err, impact.ErrOutOfRange) {
			return v, ReasonOutOfRange, nil
		}
		return v, ReasonMalformed, nil
	}
	return v, "", nil
}

func buildPrompt(event database.Event) string {
	content := ""
	if event.Content != nil {
		content = *event.Content
	}
	if content == "" {
		content = event.Title
	}
	content = fetch.Truncate(content, fetch.MaxContentRunes)

	return fmt.Sprintf(analysisPrompt, event.Title,
		orUnknown(event.Category), orUnknown(event.Source), content)
}

func orUnknown(s *string) string {
	if s == nil || *s == "" {
		return "Unknown"
	}
	return *s
}

// Derived is a prediction together with the subject it is about.
type Derived struct {
	Subject    string
	Prediction sentiment.SourcePrediction
}

// DerivePredictions turns an analysis into source predictions: one per named
// stock (confidence overall_prediction) and one for MarketSubject when the
// short-term outlook is Positive or Negative (confidence market_direction).
// Placeholder entries yield nothing. Symbols are upper-cased.
func DerivePredictions(a impact.Analysis, source string, ts time.Time) []Derived {
	scores := a.StockPredictions.ConfidenceScores
	var out []Derived

	add := func(subject string, positive bool, confidence float64, explanation string) {
		at := ts
		p := sentiment.SourcePrediction{
			Source:     source,
			IsPositive: positive,
			Confidence: &confidence,
			Timestamp:  &at,
		}
		if explanation != "" {
			p.Explanation = &explanation
		}
		out = append(out, Derived{Subject: subject, Prediction: p})
	}

	stocks := func(preds []impact.StockPrediction, positive bool) {
		for _, sp := range preds {
			if impact.IsPlaceholder(sp) {
				continue
			}
			symbol := strings.ToUpper(strings.TrimSpace(sp.Symbol))
			if symbol == "" || symbol == impact.PlaceholderSymbol {
				continue
			}
			add(symbol, positive, scores.OverallPrediction, sp.Rationale)
		}
	}
	stocks(a.StockPredictions.Positive, true)
	stocks(a.StockPredictions.Negative, false)

	switch a.MarketSentiment.ShortTerm {
	case impact.Positive:
		add(MarketSubject, true, scores.MarketDirection, a.MarketImpact)
	case impact.Negative:
		add(MarketSubject, false, scores.MarketDirection, a.MarketImpact)
	}

	return out
}
