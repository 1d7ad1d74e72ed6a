package impact

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrMalformed reports an analysis that does not fit the schema.
	ErrMalformed = errors.New("malformed analysis")
	// ErrOutOfRange reports a numeric field outside [0,1] or an enum value
	// outside its closed set. It always also matches ErrMalformed.
	ErrOutOfRange = fmt.Errorf("%w: value out of range", ErrMalformed)
)

var validate = validator.New()

// The wire types mirror Analysis with pointer fields so that a missing key
// can be told apart from a zero value.
type wireAnalysis struct {
	AffectedSectors   []string              `json:"affected_sectors" validate:"required"`
	MarketImpact      *string               `json:"market_impact" validate:"required"`
	SupplyChainImpact *string               `json:"supply_chain_impact" validate:"required"`
	MarketSentiment   *wireMarketSentiment  `json:"market_sentiment" validate:"required"`
	StockPredictions  *wireStockPredictions `json:"stock_predictions" validate:"required"`
	RiskLevel         *RiskLevel            `json:"risk_level" validate:"required"`
	AnalysisMetadata  *wireMetadata         `json:"analysis_metadata" validate:"required"`
}

type wireMarketSentiment struct {
	ShortTerm *SentimentLabel `json:"short_term" validate:"required"`
	LongTerm  *SentimentLabel `json:"long_term" validate:"required"`
}

type wireStockPredictions struct {
	Positive         []StockPrediction     `json:"positive" validate:"required,dive"`
	Negative         []StockPrediction     `json:"negative" validate:"required,dive"`
	ConfidenceScores *wireConfidenceScores `json:"confidence_scores" validate:"required"`
}

type wireConfidenceScores struct {
	OverallPrediction *float64 `json:"overall_prediction" validate:"required,gte=0,lte=1"`
	SectorImpact      *float64 `json:"sector_impact" validate:"required,gte=0,lte=1"`
	MarketDirection   *float64 `json:"market_direction" validate:"required,gte=0,lte=1"`
}

type wireMetadata struct {
	ConfidenceFactors  []string `json:"confidence_factors" validate:"required"`
	UncertaintyFactors []string `json:"uncertainty_factors" validate:"required"`
	DataQualityScore   *float64 `json:"data_quality_score" validate:"required,gte=0,lte=1"`
}

func init() {
	validate.RegisterStructValidation(func(sl validator.StructLevel) {
		p := sl.Current().Interface().(StockPrediction)
		if strings.TrimSpace(p.Symbol) == "" {
			sl.ReportError(p.Symbol, "Symbol", "symbol", "required", "")
		}
	}, StockPrediction{})
}

// Validate checks an untrusted analysis. raw may be a map decoded from JSON,
// raw JSON as []byte or string, or any value that marshals to the schema.
// Errors wrap ErrMalformed, and ErrOutOfRange where a value fell outside
// its allowed range or set.
func Validate(raw any) (Analysis, error) {
	data, err := toJSON(raw)
	if err != nil {
		return Analysis{}, err
	}

	var w wireAnalysis
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&w); err != nil {
		if errors.Is(err, ErrMalformed) {
			return Analysis{}, err
		}
		return Analysis{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return Analysis{}, fmt.Errorf("%w: trailing data after analysis", ErrMalformed)
	}

	if err := validate.Struct(&w); err != nil {
		return Analysis{}, classify(err)
	}

	return w.analysis(), nil
}

// ValidateOrDefault returns raw as a Valid analysis, or Default if any
// check fails. Partially valid input is never merged with defaults.
func ValidateOrDefault(raw any) Valid {
	a, err := Validate(raw)
	if err != nil {
		return Default()
	}
	return Valid{a: a}
}

// Resolve is ValidateOrDefault that also reports why the default was
// substituted. The Valid value is always usable.
func Resolve(raw any) (Valid, error) {
	a, err := Validate(raw)
	if err != nil {
		return Default(), err
	}
	return Valid{a: a}, nil
}

// FromStored rebuilds a Valid from JSON previously produced by MarshalJSON.
// Stored records are revalidated, so a corrupt row degrades to Default.
func FromStored(data []byte) Valid {
	return ValidateOrDefault(data)
}

func toJSON(raw any) ([]byte, error) {
	switch v := raw.(type) {
	case nil:
		return nil, fmt.Errorf("%w: no analysis", ErrMalformed)
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case json.RawMessage:
		return v, nil
	case Analysis:
		raw = v.withEmptyLists()
	case *Analysis:
		if v == nil {
			return nil, fmt.Errorf("%w: no analysis", ErrMalformed)
		}
		raw = v.withEmptyLists()
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return data, nil
}

// withEmptyLists turns nil lists into empty ones so that a Go value with
// no sectors or factors encodes them as [] rather than null.
func (a Analysis) withEmptyLists() Analysis {
	c := a
	if c.AffectedSectors == nil {
		c.AffectedSectors = []string{}
	}
	if c.StockPredictions.Positive == nil {
		c.StockPredictions.Positive = []StockPrediction{}
	}
	if c.StockPredictions.Negative == nil {
		c.StockPredictions.Negative = []StockPrediction{}
	}
	if c.AnalysisMetadata.ConfidenceFactors == nil {
		c.AnalysisMetadata.ConfidenceFactors = []string{}
	}
	if c.AnalysisMetadata.UncertaintyFactors == nil {
		c.AnalysisMetadata.UncertaintyFactors = []string{}
	}
	return c
}

// classify maps validator failures onto the error taxonomy.
func classify(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "gte", "lte":
		return fmt.Errorf("%w: %s = %v", ErrOutOfRange, fe.Namespace(), fe.Value())
	}
	return fmt.Errorf("%w: %s failed %q", ErrMalformed, fe.Namespace(), fe.Tag())
}

func (w *wireAnalysis) analysis() Analysis {
	cs := w.StockPredictions.ConfidenceScores
	return Analysis{
		AffectedSectors:   w.AffectedSectors,
		MarketImpact:      *w.MarketImpact,
		SupplyChainImpact: *w.SupplyChainImpact,
		MarketSentiment: MarketSentiment{
			ShortTerm: *w.MarketSentiment.ShortTerm,
			LongTerm:  *w.MarketSentiment.LongTerm,
		},
		StockPredictions: StockPredictions{
			Positive: w.StockPredictions.Positive,
			Negative: w.StockPredictions.Negative,
			ConfidenceScores: ConfidenceScores{
				OverallPrediction: *cs.OverallPrediction,
				SectorImpact:      *cs.SectorImpact,
				MarketDirection:   *cs.MarketDirection,
			},
		},
		RiskLevel: *w.RiskLevel,
		AnalysisMetadata: Metadata{
			ConfidenceFactors:  w.AnalysisMetadata.ConfidenceFactors,
			UncertaintyFactors: w.AnalysisMetadata.UncertaintyFactors,
			DataQualityScore:   *w.AnalysisMetadata.DataQualityScore,
		},
	}
}
