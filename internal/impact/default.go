package impact

const (
	DefaultMarketImpact      = "Unable to analyze impact"
	DefaultSupplyChainImpact = "Unable to analyze supply chain impact"

	// PlaceholderSymbol marks the single entry the default analysis carries in
	// each prediction list: the analysis ran but found nothing confident.
	PlaceholderSymbol    = "N/A"
	PlaceholderRationale = "No confident prediction available"

	neutralScore = 0.5
)

// Default returns the fallback analysis used whenever the producer fails,
// its output cannot be parsed, or it does not validate.
func Default() Valid {
	placeholder := StockPrediction{Symbol: PlaceholderSymbol, Rationale: PlaceholderRationale}
	return Valid{a: Analysis{
		AffectedSectors:   []string{},
		MarketImpact:      DefaultMarketImpact,
		SupplyChainImpact: DefaultSupplyChainImpact,
		MarketSentiment: MarketSentiment{
			ShortTerm: Neutral,
			LongTerm:  Neutral,
		},
		StockPredictions: StockPredictions{
			Positive: []StockPrediction{placeholder},
			Negative: []StockPrediction{placeholder},
			ConfidenceScores: ConfidenceScores{
				OverallPrediction: neutralScore,
				SectorImpact:      neutralScore,
				MarketDirection:   neutralScore,
			},
		},
		RiskLevel: RiskMedium,
		AnalysisMetadata: Metadata{
			ConfidenceFactors:  []string{},
			UncertaintyFactors: []string{},
			DataQualityScore:   neutralScore,
		},
	}}
}

// IsPlaceholder reports whether p is the default "nothing confident" entry.
func IsPlaceholder(p StockPrediction) bool {
	return p.Symbol == PlaceholderSymbol && p.Rationale == PlaceholderRationale
}
