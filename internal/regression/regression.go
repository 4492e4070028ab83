// Package regression compares a cycle's baseline with earlier cycles at
// aggregate, per-metric and per-band granularity.
package regression

import (
	"fmt"
	"math"
	"sort"

	"github.com/hailam/chesstuner/internal/elo"
	"github.com/hailam/chesstuner/internal/metrics"
	"github.com/hailam/chesstuner/internal/state"
)

// Direction is the effect of a change on one metric.
type Direction string

const (
	Improved  Direction = "improved"
	Regressed Direction = "regressed"
	Stable    Direction = "stable"
)

// Severity grades a regression.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityMinor
	SeverityCritical
)

var severityNames = [...]string{"none", "minor", "critical"}

func (s Severity) String() string {
	if s < SeverityNone || s > SeverityCritical {
		return fmt.Sprintf("Severity(%d)", int(s))
	}
	return severityNames[s]
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(text []byte) error {
	for i, n := range severityNames {
		if n == string(text) {
			*s = Severity(i)
			return nil
		}
	}
	return fmt.Errorf("unknown severity %q", text)
}

// Threshold holds the absolute deltas at which a regression becomes minor
// or critical.
type Threshold struct {
	Minor         float64
	Critical      float64
	LowerIsBetter bool
}

// tolerance absorbs float noise so a delta equal to a threshold reaches it.
const tolerance = 1e-9

// Metric is one compared figure.
type Metric struct {
	Name      string
	Threshold Threshold
	Value     func(m metrics.Measures) float64
	// Rate marks the [0,1] rate metrics tracked for consecutive declines.
	Rate bool
}

// Metrics lists the compared figures in report order.
var Metrics = []Metric{
	{Name: "matchRate", Threshold: Threshold{Minor: 0.02, Critical: 0.05}, Rate: true,
		Value: func(m metrics.Measures) float64 { return m.MatchRate }},
	{Name: "topNRate", Threshold: Threshold{Minor: 0.02, Critical: 0.05}, Rate: true,
		Value: func(m metrics.Measures) float64 { return m.TopNRate }},
	{Name: "bookCoverage", Threshold: Threshold{Minor: 0.03, Critical: 0.08}, Rate: true,
		Value: func(m metrics.Measures) float64 { return m.BookCoverage }},
	{Name: "cplDelta", Threshold: Threshold{Minor: 2, Critical: 5, LowerIsBetter: true},
		Value: func(m metrics.Measures) float64 { return m.CPLDelta }},
	{Name: "cplGap", Threshold: Threshold{Minor: 1.5, Critical: 4, LowerIsBetter: true},
		Value: func(m metrics.Measures) float64 { return m.Gap() }},
}

// ScoreThreshold grades the composite score.
var ScoreThreshold = Threshold{Minor: 0.005, Critical: 0.015}

// Band verdict constants.
const (
	bandGapChange    = 1.5
	bandMinorGap     = 3.0
	bandCriticalGap  = 6.0
	minStreak        = 2
	minHistoryForRun = 2
)

// Classify grades the move from previous to current. The returned delta is
// sign-normalized so a positive value is always an improvement. Missing
// values are stable, and a metric that was exactly zero (unmeasured) and is
// now positive counts as improved without severity.
func Classify(th Threshold, previous, current float64) (Direction, Severity, float64) {
	if metrics.IsMissing(previous) || metrics.IsMissing(current) {
		return Stable, SeverityNone, metrics.Missing()
	}
	delta := current - previous
	if th.LowerIsBetter {
		delta = -delta
	}
	if previous == 0 && current > 0 {
		return Improved, SeverityNone, delta
	}
	magnitude := math.Abs(delta)
	if magnitude+tolerance < th.Minor {
		return Stable, SeverityNone, delta
	}
	if delta > 0 {
		return Improved, SeverityNone, delta
	}
	if magnitude+tolerance >= th.Critical {
		return Regressed, SeverityCritical, delta
	}
	return Regressed, SeverityMinor, delta
}

// MetricDelta is the comparison of one metric.
type MetricDelta struct {
	Metric    string    `json:"metric"`
	Previous  float64   `json:"previous"`
	Current   float64   `json:"current"`
	Delta     float64   `json:"delta"`
	Direction Direction `json:"direction"`
	Severity  Severity  `json:"severity"`
}

// BandVerdict tells whether a dataset's strength calibration got closer to
// the players.
type BandVerdict string

const (
	Converging BandVerdict = "converging"
	Diverging  BandVerdict = "diverging"
	Steady     BandVerdict = "stable"
)

// BandDelta compares the synthetic/actual gap of one dataset.
type BandDelta struct {
	Dataset   string      `json:"dataset"`
	Band      elo.Band    `json:"band"`
	Elo       int         `json:"elo"`
	PrevGap   float64     `json:"prevGap"`
	CurrGap   float64     `json:"currGap"`
	GapChange float64     `json:"gapChange"`
	Verdict   BandVerdict `json:"verdict"`
	Severity  Severity    `json:"severity"`
}

// Report is the outcome of one regression check.
type Report struct {
	Cycle         int           `json:"cycle"`
	PreviousCycle int           `json:"previousCycle"`
	HasPrevious   bool          `json:"hasPrevious"`
	Score         MetricDelta   `json:"score"`
	Metrics       []MetricDelta `json:"metrics"`
	Bands         []BandDelta   `json:"bands"`
	AvgGapPrev    float64       `json:"avgGapPrev"`
	AvgGapCurr    float64       `json:"avgGapCurr"`
	Notes         []string      `json:"notes"`
}

// Critical returns the metrics that regressed critically.
func (r Report) Critical() []MetricDelta {
	var out []MetricDelta
	for _, m := range r.Metrics {
		if m.Severity == SeverityCritical {
			out = append(out, m)
		}
	}
	return out
}

// point is one cycle's baseline in chronological order.
type point struct {
	cycle    int
	snapshot state.BaselineSnapshot
}

// Check compares current, the baseline of cycle, against the latest earlier
// baseline in history and scans the longer history for trends.
func Check(cycle int, current state.BaselineSnapshot, history []state.CycleRecord) Report {
	var past []point
	for _, rec := range history {
		if rec.Cycle < cycle && rec.Baseline.Valid() {
			past = append(past, point{cycle: rec.Cycle, snapshot: rec.Baseline})
		}
	}
	sort.SliceStable(past, func(i, j int) bool { return past[i].cycle < past[j].cycle })

	rep := Report{Cycle: cycle, AvgGapPrev: metrics.Missing(), AvgGapCurr: avgGap(current)}
	if len(past) == 0 {
		return rep
	}
	prev := past[len(past)-1]
	rep.HasPrevious = true
	rep.PreviousCycle = prev.cycle
	rep.AvgGapPrev = avgGap(prev.snapshot)

	rep.Score = Compare("compositeScore", ScoreThreshold, prev.snapshot.Score, current.Score)
	for _, m := range Metrics {
		rep.Metrics = append(rep.Metrics, Compare(m.Name, m.Threshold,
			m.Value(prev.snapshot.Aggregate.Measures), m.Value(current.Aggregate.Measures)))
	}
	rep.Bands = CompareBands(prev.snapshot, current)

	series := append(past, point{cycle: cycle, snapshot: current})
	rep.Notes = notes(rep, series)
	return rep
}

// Compare builds the MetricDelta of one figure.
func Compare(name string, th Threshold, previous, current float64) MetricDelta {
	dir, sev, delta := Classify(th, previous, current)
	return MetricDelta{
		Metric:    name,
		Previous:  previous,
		Current:   current,
		Delta:     delta,
		Direction: dir,
		Severity:  sev,
	}
}

// CompareBands compares every dataset present in both snapshots.
func CompareBands(prev, curr state.BaselineSnapshot) []BandDelta {
	var out []BandDelta
	for _, name := range curr.DatasetNames() {
		p, ok := prev.PerDataset[name]
		if !ok {
			continue
		}
		c := curr.PerDataset[name]
		bd := BandDelta{
			Dataset:  name,
			Band:     c.Band,
			Elo:      c.Elo,
			PrevGap:  p.Metrics.Gap(),
			CurrGap:  c.Metrics.Gap(),
			Verdict:  Steady,
			Severity: SeverityNone,
		}
		if metrics.IsMissing(bd.PrevGap) || metrics.IsMissing(bd.CurrGap) {
			bd.GapChange = metrics.Missing()
			out = append(out, bd)
			continue
		}
		bd.GapChange = bd.CurrGap - bd.PrevGap
		switch {
		case bd.GapChange+tolerance >= bandGapChange:
			bd.Verdict = Diverging
			switch {
			case bd.GapChange+tolerance >= bandCriticalGap:
				bd.Severity = SeverityCritical
			case bd.GapChange+tolerance >= bandMinorGap:
				bd.Severity = SeverityMinor
			}
		case bd.GapChange-tolerance <= -bandGapChange:
			bd.Verdict = Converging
		}
		out = append(out, bd)
	}
	return out
}

// avgGap is the position-weighted mean synthetic/actual gap over a snapshot's datasets.
func avgGap(s state.BaselineSnapshot) float64 {
	var samples []metrics.Sample
	for _, name := range s.DatasetNames() {
		m := s.PerDataset[name].Metrics
		samples = append(samples, metrics.Sample{Value: m.Gap(), Weight: float64(m.TotalPositions)})
	}
	return metrics.WeightedMean(samples)
}

func notes(rep Report, series []point) []string {
	var out []string

	if len(series)-1 >= minHistoryForRun {
		for _, m := range Metrics {
			if !m.Rate {
				continue
			}
			if n := streak(series, m.Value, false); n >= minStreak {
				out = append(out, fmt.Sprintf("%s declined for %d consecutive cycles", m.Name, n))
			}
		}
		cpl := func(m metrics.Measures) float64 { return m.CPLDelta }
		if n := streak(series, cpl, true); n >= minStreak {
			out = append(out, fmt.Sprintf("cplDelta worsened for %d consecutive cycles", n))
		}
	}

	for _, b := range rep.Bands {
		if b.Verdict == Diverging && b.Severity != SeverityNone {
			out = append(out, fmt.Sprintf("%s band dataset %s (Elo %d) is diverging: gap %.1f -> %.1f (%s)",
				b.Band, b.Dataset, b.Elo, b.PrevGap, b.CurrGap, b.Severity))
		}
	}

	if rep.Score.Direction == Improved {
		for _, m := range rep.Critical() {
			out = append(out, fmt.Sprintf("compositeScore improved by %.4f while %s regressed critically (%.4f -> %.4f); the overall gain may hide a real loss",
				rep.Score.Delta, m.Metric, m.Previous, m.Current))
		}
	}
	return out
}

// streak counts how many consecutive cycles, ending at the latest one, moved
// the wrong way. Missing data ends the streak.
func streak(series []point, value func(metrics.Measures) float64, lowerIsBetter bool) int {
	n := 0
	for i := len(series) - 1; i > 0; i-- {
		cur := value(series[i].snapshot.Aggregate.Measures)
		prev := value(series[i-1].snapshot.Aggregate.Measures)
		if metrics.IsMissing(cur) || metrics.IsMissing(prev) {
			break
		}
		worse := cur < prev-tolerance
		if lowerIsBetter {
			worse = cur > prev+tolerance
		}
		if !worse {
			break
		}
		n++
	}
	return n
}
