package sentiment

import (
	"math"
	"time"
)

const (
	// NeutralScore is the score of a subject with no signal.
	NeutralScore = 50.0

	// DefaultWeight is the strength given to a prediction that asserts a
	// direction without a confidence.
	DefaultWeight = 0.5

	// DefaultHalfLife is how long it takes a prediction's influence to halve.
	DefaultHalfLife = 24 * time.Hour
)

// SourcePrediction is one source's directional call on a subject.
type SourcePrediction struct {
	Source      string     `json:"source"`
	IsPositive  bool       `json:"isPositive"`
	Confidence  *float64   `json:"confidence,omitempty"`
	Explanation *string    `json:"explanation,omitempty"`
	Timestamp   *time.Time `json:"timestamp,omitempty"`
}

// Score is the aggregate sentiment of a subject over its full history.
type Score struct {
	Score       float64            `json:"score"`
	Predictions []SourcePrediction `json:"predictions"`
	LastUpdated time.Time          `json:"lastUpdated"`
}

// Options control weighting. The zero value uses DefaultWeight and disables
// recency decay.
type Options struct {
	// DefaultWeight applies to predictions without a confidence.
	DefaultWeight float64
	// HalfLife enables recency decay when positive: a prediction's weight
	// halves for every HalfLife of age at aggregation time.
	HalfLife time.Duration
}

// DefaultOptions returns the weighting used by the application.
func DefaultOptions() Options {
	return Options{DefaultWeight: DefaultWeight, HalfLife: DefaultHalfLife}
}

// Aggregate computes the score of preds as of now. It recomputes from the
// whole history on every call; the result depends only on its arguments.
func Aggregate(preds []SourcePrediction, now time.Time, opts Options) Score {
	out := Score{
		Score:       NeutralScore,
		Predictions: append([]SourcePrediction{}, preds...),
		LastUpdated: now,
	}

	var net, total float64
	for _, p := range preds {
		w := opts.weight(p) * opts.recency(p, now)
		if w <= 0 {
			continue
		}
		if p.IsPositive {
			net += w
		} else {
			net -= w
		}
		total += w
	}
	if total == 0 {
		return out
	}

	out.Score = clamp(NeutralScore+NeutralScore*(net/total), 0, 100)
	return out
}

func (o Options) weight(p SourcePrediction) float64 {
	if p.Confidence == nil || math.IsNaN(*p.Confidence) {
		return o.defaultWeight()
	}
	return clamp(*p.Confidence, 0, 1)
}

func (o Options) defaultWeight() float64 {
	if o.DefaultWeight <= 0 || math.IsNaN(o.DefaultWeight) {
		return DefaultWeight
	}
	return clamp(o.DefaultWeight, 0, 1)
}

// recency returns the decay multiplier for p. Undated predictions and those
// stamped in the future count as current.
func (o Options) recency(p SourcePrediction, now time.Time) float64 {
	if o.HalfLife <= 0 || p.Timestamp == nil {
		return 1
	}
	age := now.Sub(*p.Timestamp)
	if age <= 0 {
		return 1
	}
	return math.Pow(0.5, float64(age)/float64(o.HalfLife))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
