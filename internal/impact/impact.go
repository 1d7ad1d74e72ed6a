package impact

import (
	"encoding/json"
	"fmt"
)

// RiskLevel is the severity classification of an event's market impact.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RiskLevels returns every risk level, least severe first.
func RiskLevels() []RiskLevel {
	return []RiskLevel{RiskLow, RiskMedium, RiskHigh, RiskCritical}
}

// ParseRiskLevel returns the RiskLevel named by s. Matching is exact.
func ParseRiskLevel(s string) (RiskLevel, error) {
	for _, r := range RiskLevels() {
		if string(r) == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: unknown risk level %q", ErrOutOfRange, s)
}

// Severity orders risk levels from 1 (low) to 4 (critical).
func (r RiskLevel) Severity() int {
	switch r {
	case RiskLow:
		return 1
	case RiskMedium:
		return 2
	case RiskHigh:
		return 3
	case RiskCritical:
		return 4
	}
	return 0
}

func (r *RiskLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: risk_level must be a string", ErrMalformed)
	}
	level, err := ParseRiskLevel(s)
	if err != nil {
		return err
	}
	*r = level
	return nil
}

// SentimentLabel is a qualitative market direction.
type SentimentLabel string

const (
	Positive SentimentLabel = "Positive"
	Negative SentimentLabel = "Negative"
	Neutral  SentimentLabel = "Neutral"
	Mixed    SentimentLabel = "Mixed"
)

// ParseSentimentLabel returns the SentimentLabel named by s. Matching is exact.
func ParseSentimentLabel(s string) (SentimentLabel, error) {
	switch SentimentLabel(s) {
	case Positive, Negative, Neutral, Mixed:
		return SentimentLabel(s), nil
	}
	return "", fmt.Errorf("%w: unknown sentiment label %q", ErrOutOfRange, s)
}

func (l *SentimentLabel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: sentiment label must be a string", ErrMalformed)
	}
	label, err := ParseSentimentLabel(s)
	if err != nil {
		return err
	}
	*l = label
	return nil
}

// MarketSentiment pairs the short- and long-term outlook.
type MarketSentiment struct {
	ShortTerm SentimentLabel `json:"short_term"`
	LongTerm  SentimentLabel `json:"long_term"`
}

// StockPrediction is a single security called out by an analysis.
type StockPrediction struct {
	Symbol    string `json:"symbol"`
	Rationale string `json:"rationale"`
}

// ConfidenceScores are the producer's self-reported confidences, each in [0,1].
type ConfidenceScores struct {
	OverallPrediction float64 `json:"overall_prediction"`
	SectorImpact      float64 `json:"sector_impact"`
	MarketDirection   float64 `json:"market_direction"`
}

// StockPredictions groups per-security calls with their confidence.
type StockPredictions struct {
	Positive         []StockPrediction `json:"positive"`
	Negative         []StockPrediction `json:"negative"`
	ConfidenceScores ConfidenceScores  `json:"confidence_scores"`
}

// Metadata describes what the analysis rests on.
type Metadata struct {
	ConfidenceFactors  []string `json:"confidence_factors"`
	UncertaintyFactors []string `json:"uncertainty_factors"`
	DataQualityScore   float64  `json:"data_quality_score"`
}

// Analysis is the structured market-impact assessment of one event.
type Analysis struct {
	AffectedSectors   []string         `json:"affected_sectors"`
	MarketImpact      string           `json:"market_impact"`
	SupplyChainImpact string           `json:"supply_chain_impact"`
	MarketSentiment   MarketSentiment  `json:"market_sentiment"`
	StockPredictions  StockPredictions `json:"stock_predictions"`
	RiskLevel         RiskLevel        `json:"risk_level"`
	AnalysisMetadata  Metadata         `json:"analysis_metadata"`
}

// Valid holds an Analysis that satisfies every schema invariant. Values
// come from Default, ValidateOrDefault or Resolve; the zero Valid behaves
// as Default.
type Valid struct {
	a Analysis
}

// Analysis returns a copy of the validated record.
func (v Valid) Analysis() Analysis {
	return v.analysis().clone()
}

// MarshalJSON encodes the wrapped analysis.
func (v Valid) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.analysis())
}

// analysis substitutes the default for the zero value. Every validated
// record carries one of the four risk levels.
func (v Valid) analysis() Analysis {
	if v.a.RiskLevel == "" {
		return Default().a
	}
	return v.a
}

func (a Analysis) clone() Analysis {
	c := a
	c.AffectedSectors = cloneStrings(a.AffectedSectors)
	c.StockPredictions.Positive = append([]StockPrediction{}, a.StockPredictions.Positive...)
	c.StockPredictions.Negative = append([]StockPrediction{}, a.StockPredictions.Negative...)
	c.AnalysisMetadata.ConfidenceFactors = cloneStrings(a.AnalysisMetadata.ConfidenceFactors)
	c.AnalysisMetadata.UncertaintyFactors = cloneStrings(a.AnalysisMetadata.UncertaintyFactors)
	return c
}

func cloneStrings(s []string) []string {
	return append([]string{}, s...)
}
