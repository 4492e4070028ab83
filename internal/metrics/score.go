package metrics

import "math"

// Composite score weights. They sum to 1.
const (
	WeightMatch    = 0.30
	WeightTopN     = 0.25
	WeightCPLDelta = 0.25
	WeightBook     = 0.10
	WeightCPLGap   = 0.10

	// CPLDeltaScale is the centipawn distance at which the delta sub-score reaches zero.
	CPLDeltaScale = 50.0
	// CPLGapScale is the centipawn distance at which the gap sub-score reaches zero.
	CPLGapScale = 30.0
)

// CompositeScore blends the sub-scores of m into one value in [0,1].
// Terms whose inputs are missing are dropped and the remaining weights are
// renormalized, so triage runs without error data stay comparable with full runs.
// Only the CPL delta and CPL gap terms depend on error data; match, top-N and
// book coverage are always measured, so without error data exactly those two
// weights drop out.
func CompositeScore(m Measures) float64 {
	type term struct {
		score, weight float64
	}
	terms := []term{
		{clampRate(m.MatchRate), WeightMatch},
		{clampRate(m.TopNRate), WeightTopN},
		{clampRate(m.BookCoverage), WeightBook},
	}
	if !IsMissing(m.CPLDelta) {
		terms = append(terms, term{similarity(m.CPLDelta, CPLDeltaScale), WeightCPLDelta})
	}
	if gap := m.Gap(); !IsMissing(gap) {
		terms = append(terms, term{similarity(gap, CPLGapScale), WeightCPLGap})
	}

	var sum, total float64
	for _, t := range terms {
		sum += t.score * t.weight
		total += t.weight
	}
	if total == 0 {
		return 0
	}
	return clampRate(sum / total)
}

// similarity maps a distance to [0,1]: 1 at zero, 0 at or beyond scale.
func similarity(distance, scale float64) float64 {
	return 1 - math.Min(math.Abs(distance)/scale, 1)
}
