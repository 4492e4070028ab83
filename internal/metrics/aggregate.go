package metrics

import "sort"

// Sample is one weighted observation.
type Sample struct {
	Value  float64
	Weight float64
}

// WeightedMean averages the samples by weight. Missing values and
// non-positive weights are excluded; when nothing remains the result is
// missing rather than a division by zero.
func WeightedMean(samples []Sample) float64 {
	var sum, total float64
	for _, s := range samples {
		if IsMissing(s.Value) || s.Weight <= 0 {
			continue
		}
		sum += s.Value * s.Weight
		total += s.Weight
	}
	if total == 0 {
		return Missing()
	}
	return sum / total
}

// Aggregate combines per-dataset metrics into one position-weighted result.
// Each field is averaged over the datasets that measured it; rates with no
// weight at all fall back to zero, error figures stay missing.
func Aggregate(per map[string]Metrics) Metrics {
	names := make([]string, 0, len(per))
	for name := range per {
		names = append(names, name)
	}
	sort.Strings(names)

	overall := make([]Measures, 0, len(names))
	byPhase := map[Phase][]Measures{}
	for _, name := range names {
		m := per[name]
		overall = append(overall, m.Measures)
		for phase, pm := range m.Phases {
			byPhase[phase] = append(byPhase[phase], pm)
		}
	}

	out := Metrics{Measures: combine(overall)}
	if len(byPhase) > 0 {
		out.Phases = make(map[Phase]Measures, len(byPhase))
		for phase, list := range byPhase {
			out.Phases[phase] = combine(list)
		}
	}
	return out
}

func combine(list []Measures) Measures {
	field := func(get func(Measures) float64) float64 {
		samples := make([]Sample, 0, len(list))
		for _, m := range list {
			samples = append(samples, Sample{Value: get(m), Weight: float64(m.TotalPositions)})
		}
		return WeightedMean(samples)
	}

	total := 0
	for _, m := range list {
		if m.TotalPositions > 0 {
			total += m.TotalPositions
		}
	}
	return Measures{
		TotalPositions: total,
		MatchRate:      zeroIfMissing(field(func(m Measures) float64 { return m.MatchRate })),
		TopNRate:       zeroIfMissing(field(func(m Measures) float64 { return m.TopNRate })),
		BookCoverage:   zeroIfMissing(field(func(m Measures) float64 { return m.BookCoverage })),
		SyntheticCPL:   field(func(m Measures) float64 { return m.SyntheticCPL }),
		ActualCPL:      field(func(m Measures) float64 { return m.ActualCPL }),
		CPLDelta:       field(func(m Measures) float64 { return m.CPLDelta }),
	}
}

func zeroIfMissing(f float64) float64 {
	if IsMissing(f) {
		return 0
	}
	return f
}

// Restrict returns the entries of per whose names appear in keep.
func Restrict(per map[string]Metrics, keep map[string]Metrics) map[string]Metrics {
	out := make(map[string]Metrics, len(keep))
	for name := range keep {
		if m, ok := per[name]; ok {
			out[name] = m
		}
	}
	return out
}
