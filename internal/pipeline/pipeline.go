package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/TobiSchelling/MarketPulse/internal/analyze"
	"github.com/TobiSchelling/MarketPulse/internal/collect"
	"github.com/TobiSchelling/MarketPulse/internal/config"
	"github.com/TobiSchelling/MarketPulse/internal/database"
	"github.com/TobiSchelling/MarketPulse/internal/fetch"
	"github.com/TobiSchelling/MarketPulse/internal/llm"
	"github.com/TobiSchelling/MarketPulse/internal/metrics"
	"github.com/TobiSchelling/MarketPulse/internal/sentiment"
)

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// Result holds the results of a full pipeline run.
type Result struct {
	PeriodID string
	Steps    []StepResult
}

// Pipeline orchestrates the 4-step collect, fetch, analyze, aggregate run.
type Pipeline struct {
	cfg      *config.Config
	db       *database.DB
	provider llm.Provider
	tracker  *sentiment.Tracker
	metrics  *metrics.Registry
}

// New creates a new pipeline. The configured producer is wrapped in a rate
// limiter and circuit breaker whose state is reported to m.
func New(cfg *config.Config, db *database.DB, m *metrics.Registry) *Pipeline {
	an := cfg.Analysis
	var provider llm.Provider
	if inner := llm.CreateProvider(an.Provider, an.Model, an.OllamaURL, an.OpenAIModel, an.APIKeyEnv); inner != nil {
		guarded := llm.NewGuardedProvider(inner, llm.GuardConfig{
			Name:              an.SourceName,
			RequestsPerMinute: an.RequestsPerMinute,
			MaxFailures:       an.BreakerFailures,
			OpenTimeout:       an.BreakerTimeout,
			OnStateChange:     m.SetBreakerState,
		})
		m.SetBreakerState(an.SourceName, guarded.State())
		provider = guarded
	}
	return newPipeline(cfg, db, provider, m)
}

func newPipeline(cfg *config.Config, db *database.DB, provider llm.Provider, m *metrics.Registry) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		db:       db,
		provider: provider,
		tracker:  NewTracker(cfg, db),
		metrics:  m,
	}
}

// NewTracker builds the sentiment tracker over db using the configured
// weighting.
func NewTracker(cfg *config.Config, db *database.DB) *sentiment.Tracker {
	opts := sentiment.Options{
		DefaultWeight: cfg.Sentiment.DefaultWeight,
		HalfLife:      cfg.Sentiment.HalfLife,
	}
	return sentiment.NewTracker(db, opts, nil)
}

// Tracker returns the tracker the pipeline appends predictions through.
func (p *Pipeline) Tracker() *sentiment.Tracker {
	return p.tracker
}

// Run executes the full pipeline. With force, events already analyzed in the
// period are analyzed again.
func (p *Pipeline) Run(ctx context.Context, period database.Period, force bool) *Result {
	periodID := period.ID()
	r := &Result{PeriodID: periodID}

	// Step 1: Collect
	step := p.timed("collect", func() StepResult { return p.runCollect(period) })
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return r
	}

	// Step 2: Fetch content
	step = p.timed("fetch", func() StepResult { return p.runFetch(ctx, periodID) })
	r.Steps = append(r.Steps, step)

	// Step 3: Analyze
	step = p.timed("analyze", func() StepResult { return p.runAnalyze(ctx, periodID, force) })
	r.Steps = append(r.Steps, step)

	// Step 4: Aggregate
	step = p.timed("aggregate", func() StepResult { return p.runAggregate(ctx) })
	r.Steps = append(r.Steps, step)

	p.writeReport(periodID)
	return r
}

// Analyze runs only the analyze and aggregate steps, for events already
// collected into periodID.
func (p *Pipeline) Analyze(ctx context.Context, periodID string, force bool) *Result {
	r := &Result{PeriodID: periodID}
	r.Steps = append(r.Steps,
		p.timed("analyze", func() StepResult { return p.runAnalyze(ctx, periodID, force) }),
		p.timed("aggregate", func() StepResult { return p.runAggregate(ctx) }),
	)
	return r
}

// DryRun shows what would be done without executing.
func (p *Pipeline) DryRun(periodID string) *Result {
	r := &Result{PeriodID: periodID}

	events, _ := p.db.GetEventsForPeriod(periodID)
	r.Steps = append(r.Steps, StepResult{
		Name:    "Collect",
		Summary: fmt.Sprintf("[dry-run] %d events already in DB for %s", len(events), periodID),
	})

	needing, _ := p.db.GetEventsNeedingFetch(&periodID)
	r.Steps = append(r.Steps, StepResult{
		Name:    "Fetch",
		Summary: fmt.Sprintf("[dry-run] %d events need content fetching", len(needing)),
	})

	pending, _ := p.db.GetUnanalyzedEvents(&periodID, analyze.ReasonProducerError)
	r.Steps = append(r.Steps, StepResult{
		Name:    "Analyze",
		Summary: fmt.Sprintf("[dry-run] %d events need analysis", len(pending)),
	})

	subjects, _ := p.db.GetSubjects()
	r.Steps = append(r.Steps, StepResult{
		Name:    "Aggregate",
		Summary: fmt.Sprintf("[dry-run] Would refresh %d subject scores", len(subjects)),
	})

	return r
}

func (p *Pipeline) timed(name string, fn func() StepResult) StepResult {
	start := time.Now()
	step := fn()
	p.metrics.ObserveStep(name, time.Since(start), step.Err)
	return step
}

func (p *Pipeline) runCollect(period database.Period) StepResult {
	log.Println("Step 1/4: Collecting events...")
	collector := collect.NewCollector(p.cfg, p.db, period)
	result := collector.Collect()
	p.metrics.AddEvents(result.NewEvents)
	return StepResult{
		Name:    "Collect",
		Summary: fmt.Sprintf("Found %d new events (%d total, %d duplicates)", result.NewEvents, result.TotalFound, result.Duplicates),
	}
}

func (p *Pipeline) runFetch(ctx context.Context, periodID string) StepResult {
	log.Println("Step 2/4: Fetching event content...")
	fetcher := fetch.NewContentFetcher(p.db, 15*time.Second)
	result := fetcher.FetchMissingContent(ctx, &periodID)
	return StepResult{
		Name: "Fetch",
		Summary: fmt.Sprintf("Fetched %d events, %d failed, %d skipped",
			result.Fetched, result.Failed, result.Skipped),
	}
}

func (p *Pipeline) runAnalyze(ctx context.Context, periodID string, force bool) StepResult {
	log.Println("Step 3/4: Analyzing market impact...")
	analyzer := analyze.NewAnalyzer(p.db, p.provider, p.tracker, analyze.Options{
		SourceName: p.cfg.Analysis.SourceName,
		MaxTokens:  p.cfg.Analysis.MaxTokens,
		Metrics:    p.metrics,
	})
	result := analyzer.AnalyzeEvents(ctx, periodID, force)
	return StepResult{
		Name: "Analyze",
		Summary: fmt.Sprintf("Analyzed %d events (%d fallback), %d predictions recorded",
			result.Processed, result.Fallbacks, result.Predictions),
	}
}

// runAggregate recomputes every subject's score so recency weights reflect
// the current time.
func (p *Pipeline) runAggregate(ctx context.Context) StepResult {
	log.Println("Step 4/4: Refreshing sentiment scores...")
	subjects, err := p.db.GetSubjects()
	if err != nil {
		return StepResult{Name: "Aggregate", Err: err}
	}

	var firstErr error
	refreshed := 0
	for _, subject := range subjects {
		score, err := p.tracker.Refresh(ctx, subject)
		if err != nil {
			log.Printf("Error refreshing %s: %v", subject, err)
			if firstErr == nil {
				firstErr = fmt.Errorf("refreshing %s: %w", subject, err)
			}
			continue
		}
		p.metrics.SetScore(subject, score.Score)
		refreshed++
	}

	return StepResult{
		Name:    "Aggregate",
		Summary: fmt.Sprintf("Refreshed %d of %d subject scores", refreshed, len(subjects)),
		Err:     firstErr,
	}
}

func (p *Pipeline) writeReport(periodID string) {
	events, err := p.db.GetEventsForPeriod(periodID)
	if err != nil {
		log.Printf("Error counting events for report: %v", err)
		return
	}
	analyzed, err := p.db.GetRankedEvents(&periodID, 0)
	if err != nil {
		log.Printf("Error counting analyses for report: %v", err)
		return
	}
	if _, err := p.db.InsertReport(periodID, len(events), len(analyzed)); err != nil {
		log.Printf("Error writing run report: %v", err)
	}
}
