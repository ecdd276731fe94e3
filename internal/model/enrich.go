package model

// ClaimsMetrics holds the Medicare Part D utilization totals for one NPI.
type ClaimsMetrics struct {
	Claims        int64
	Beneficiaries int64
	Cost          float64
}

// ZipDemographics holds ZIP-level census metrics used for market scoring.
type ZipDemographics struct {
	Population   int64
	MedianIncome float64
	Pct65Plus    float64
	PopGrowthPct float64
}

// ScoringInput is the slice of stored fields the scoring engine reads for
// one pharmacy. Nil means the value was never loaded.
type ScoringInput struct {
	NPI               string
	MedicareClaims    *int64
	ZipMedicareClaims *int64
	PharmaciesPer10k  *float64
	Pct65Plus         *float64
	MedianIncome      *float64
	PopGrowthPct      *float64
	YearsInOperation  *float64
}

// Scores holds the computed score columns written back for one pharmacy.
type Scores struct {
	NPI          string
	Competition  float64
	MarketDemand float64
	Acquisition  float64
}
