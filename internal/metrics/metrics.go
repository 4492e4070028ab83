// Package metrics holds the accuracy measurements produced by the accuracy test,
// their position-weighted aggregation and the composite score used for ranking.
//
// Error-magnitude figures may be missing. Missing is represented as NaN in
// memory and as JSON null on disk; decoding restores NaN before any arithmetic.
package metrics

import (
	"encoding/json"
	"math"
)

// Phase is a game phase in the breakdown.
type Phase string

const (
	Opening    Phase = "opening"
	Middlegame Phase = "middlegame"
	Endgame    Phase = "endgame"
)

// Phases returns the breakdown keys in game order.
func Phases() []Phase {
	return []Phase{Opening, Middlegame, Endgame}
}

// Measures is the shape shared by the overall metrics and each phase bucket.
type Measures struct {
	TotalPositions int
	MatchRate      float64
	TopNRate       float64
	BookCoverage   float64
	// SyntheticCPL is the average centipawn loss of the selector's choices.
	SyntheticCPL float64
	// ActualCPL is the average centipawn loss of the players' moves.
	ActualCPL float64
	// CPLDelta is the mean per-position |selector loss - player loss|.
	CPLDelta float64
}

// Metrics is the result of one accuracy run on one dataset, or an aggregate.
type Metrics struct {
	Measures
	Phases map[Phase]Measures
}

// Missing returns the missing-value sentinel.
func Missing() float64 { return math.NaN() }

// IsMissing reports whether f is the missing-value sentinel.
func IsMissing(f float64) bool { return math.IsNaN(f) }

// HasErrorData reports whether any error-magnitude figure was measured.
func (m Measures) HasErrorData() bool {
	return !IsMissing(m.SyntheticCPL) || !IsMissing(m.ActualCPL) || !IsMissing(m.CPLDelta)
}

// Gap returns |SyntheticCPL - ActualCPL|, or missing when either side is.
func (m Measures) Gap() float64 {
	if IsMissing(m.SyntheticCPL) || IsMissing(m.ActualCPL) {
		return Missing()
	}
	return math.Abs(m.SyntheticCPL - m.ActualCPL)
}

// Sanitize restores invariants after decoding: infinities become missing,
// rates are clamped to [0,1] and counts are non-negative.
func (m *Measures) Sanitize() {
	if m.TotalPositions < 0 {
		m.TotalPositions = 0
	}
	m.MatchRate = clampRate(m.MatchRate)
	m.TopNRate = clampRate(m.TopNRate)
	m.BookCoverage = clampRate(m.BookCoverage)
	m.SyntheticCPL = finiteOrMissing(m.SyntheticCPL)
	m.ActualCPL = finiteOrMissing(m.ActualCPL)
	m.CPLDelta = finiteOrMissing(m.CPLDelta)
}

// Sanitize applies Measures.Sanitize to the overall figures and every phase.
func (m *Metrics) Sanitize() {
	m.Measures.Sanitize()
	for k, p := range m.Phases {
		p.Sanitize()
		m.Phases[k] = p
	}
}

func clampRate(f float64) float64 {
	if math.IsNaN(f) || f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func finiteOrMissing(f float64) float64 {
	if math.IsInf(f, 0) {
		return Missing()
	}
	return f
}

type wireMeasures struct {
	TotalPositions int      `json:"totalPositions"`
	MatchRate      float64  `json:"matchRate"`
	TopNRate       float64  `json:"topNRate"`
	BookCoverage   float64  `json:"bookCoverage"`
	SyntheticCPL   *float64 `json:"syntheticCpl"`
	ActualCPL      *float64 `json:"actualCpl"`
	CPLDelta       *float64 `json:"cplDelta"`
}

func toWire(m Measures) wireMeasures {
	return wireMeasures{
		TotalPositions: m.TotalPositions,
		MatchRate:      m.MatchRate,
		TopNRate:       m.TopNRate,
		BookCoverage:   m.BookCoverage,
		SyntheticCPL:   optional(m.SyntheticCPL),
		ActualCPL:      optional(m.ActualCPL),
		CPLDelta:       optional(m.CPLDelta),
	}
}

func fromWire(w wireMeasures) Measures {
	m := Measures{
		TotalPositions: w.TotalPositions,
		MatchRate:      w.MatchRate,
		TopNRate:       w.TopNRate,
		BookCoverage:   w.BookCoverage,
		SyntheticCPL:   orMissing(w.SyntheticCPL),
		ActualCPL:      orMissing(w.ActualCPL),
		CPLDelta:       orMissing(w.CPLDelta),
	}
	m.Sanitize()
	return m
}

func optional(f float64) *float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func orMissing(p *float64) float64 {
	if p == nil {
		return Missing()
	}
	return *p
}

func (m Measures) MarshalJSON() ([]byte, error) {
	return json.Marshal(toWire(m))
}

func (m *Measures) UnmarshalJSON(data []byte) error {
	var w wireMeasures
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*m = fromWire(w)
	return nil
}

type wireMetrics struct {
	wireMeasures
	Phases map[Phase]Measures `json:"phases,omitempty"`
}

func (m Metrics) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireMetrics{wireMeasures: toWire(m.Measures), Phases: m.Phases})
}

func (m *Metrics) UnmarshalJSON(data []byte) error {
	var w wireMetrics
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*m = Metrics{Measures: fromWire(w.wireMeasures), Phases: w.Phases}
	return nil
}
