package database

import "github.com/TobiSchelling/MarketPulse/internal/impact"

// Event is a collected real-world occurrence to be analyzed.
type Event struct {
	ID             string
	URL            string
	Title          string
	Source         *string
	Category       *string
	PublishedAt    *string
	Content        *string
	ContentFetched bool
	PeriodID       *string
	CollectedAt    *string
}

// EventAnalysis is the stored impact analysis of an event. The analysis is
// revalidated on load, so it is always schema-valid.
type EventAnalysis struct {
	EventID        string
	Analysis       impact.Valid
	IsFallback     bool
	FallbackReason *string
	Producer       *string
	AnalyzedAt     *string
}

// AnalyzedEvent joins an event with its analysis for ranking and display.
type AnalyzedEvent struct {
	Event    Event
	Analysis EventAnalysis
}

// SubjectScore is the persisted sentiment score of one subject.
type SubjectScore struct {
	Subject         string
	Score           float64
	PredictionCount int
	LastUpdated     string
}

// RunReport holds metadata about a pipeline run.
type RunReport struct {
	ID            int64
	PeriodID      string
	GeneratedAt   *string
	EventCount    int
	AnalyzedCount int
}

// Stats contains aggregate database statistics.
type Stats struct {
	TotalEvents       int
	AnalyzedEvents    int
	FallbackAnalyses  int
	PeriodsWithEvents int
	Predictions       int
	TrackedSubjects   int
}
