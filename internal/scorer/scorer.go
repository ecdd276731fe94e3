package scorer

import (
	"context"
	"math"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pharmacy-intel/internal/model"
	"github.com/sells-group/pharmacy-intel/internal/store"
)

// Reference ceilings for the linear-ramp sub-scores. A pharmacy at or above
// the ceiling scores 100.
const (
	volumeCeiling = 80000  // annual Part D claims for one pharmacy
	demandCeiling = 400000 // annual Part D claims across a ZIP
	incomeCeiling = 100000 // median household income
	agingCeiling  = 30     // percent of population 65+
)

// Each sub-score is bounded to [0, 100]. Absent inputs fall back to a fixed
// default rather than zero, so unknown data is penalized less than bad data.

func volumeScore(claims *int64) float64 {
	if claims == nil || *claims <= 0 {
		return 20
	}
	return math.Min(100, float64(*claims)/volumeCeiling*100)
}

func demandScore(zipClaims *int64) float64 {
	if zipClaims == nil || *zipClaims <= 0 {
		return 20
	}
	return math.Min(100, float64(*zipClaims)/demandCeiling*100)
}

// competitionScore steps down as pharmacy density per 10k residents rises.
func competitionScore(per10k *float64) float64 {
	if per10k == nil {
		return 50
	}
	switch v := *per10k; {
	case v <= 1:
		return 100
	case v <= 3:
		return 80
	case v <= 5:
		return 60
	case v <= 8:
		return 40
	case v <= 12:
		return 20
	default:
		return 10
	}
}

func agingScore(pct65 *float64) float64 {
	if pct65 == nil {
		return 50
	}
	return math.Min(100, *pct65/agingCeiling*100)
}

// tenureScore rises with years in operation: long-tenured owners are the
// likeliest sellers.
func tenureScore(years *float64) float64 {
	if years == nil {
		return 30
	}
	switch v := *years; {
	case v >= 25:
		return 100
	case v >= 20:
		return 80
	case v >= 15:
		return 50
	case v >= 10:
		return 30
	default:
		return 10
	}
}

func incomeScore(income *float64) float64 {
	if income == nil || *income <= 0 {
		return 50
	}
	return math.Min(100, *income/incomeCeiling*100)
}

func growthScore(growthPct *float64) float64 {
	if growthPct == nil {
		return 50
	}
	return math.Min(100, math.Max(0, 50+*growthPct*5))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Compute scores one pharmacy under the given profile. The competition and
// demand sub-scores are also persisted standalone for filtering.
func Compute(in model.ScoringInput, p Profile) model.Scores {
	subs := map[string]float64{
		ComponentVolume:      volumeScore(in.MedicareClaims),
		ComponentDemand:      demandScore(in.ZipMedicareClaims),
		ComponentCompetition: competitionScore(in.PharmaciesPer10k),
		ComponentAging:       agingScore(in.Pct65Plus),
		ComponentTenure:      tenureScore(in.YearsInOperation),
		ComponentIncome:      incomeScore(in.MedianIncome),
		ComponentGrowth:      growthScore(in.PopGrowthPct),
	}

	// Accumulate in sorted component order so the float summation order,
	// and therefore the composite, is identical on every run.
	components := make([]string, 0, len(p.Weights))
	for component := range p.Weights {
		components = append(components, component)
	}
	sort.Strings(components)

	var composite float64
	for _, component := range components {
		composite += subs[component] * p.Weights[component]
	}

	return model.Scores{
		NPI:          in.NPI,
		Competition:  round2(subs[ComponentCompetition]),
		MarketDemand: round2(subs[ComponentDemand]),
		Acquisition:  round2(composite),
	}
}

// Rescore recomputes scores for every stored pharmacy under the given
// profile and persists them. No re-ingestion happens; it reads only stored
// columns, so it is safe to run after changing weights or ceilings.
func Rescore(ctx context.Context, st store.Store, p Profile) (int, error) {
	if err := ValidateProfile(p); err != nil {
		return 0, err
	}

	inputs, err := st.ScoringInputs(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "scorer: load inputs")
	}

	scores := make([]model.Scores, 0, len(inputs))
	for _, in := range inputs {
		scores = append(scores, Compute(in, p))
	}

	if err := st.SaveScores(ctx, scores); err != nil {
		return 0, eris.Wrap(err, "scorer: save scores")
	}

	zap.L().Info("rescore complete",
		zap.String("profile", p.Name),
		zap.Int("pharmacies", len(scores)),
	)
	return len(scores), nil
}
