// Package botconfig defines the configuration schema of the human-mimicking
// move selector together with its partial override form and the closed set of
// addresses the tuner is allowed to change.
package botconfig

import (
	"fmt"
	"strings"

	"github.com/hailam/chesstuner/internal/elo"
)

// BandTable holds one value per Elo band.
type BandTable struct {
	Beginner     float64 `json:"beginner" yaml:"beginner"`
	Intermediate float64 `json:"intermediate" yaml:"intermediate"`
	Advanced     float64 `json:"advanced" yaml:"advanced"`
	Expert       float64 `json:"expert" yaml:"expert"`
	Master       float64 `json:"master" yaml:"master"`
}

// Get returns the value stored for band b.
func (t BandTable) Get(b elo.Band) float64 {
	switch b {
	case elo.Beginner:
		return t.Beginner
	case elo.Intermediate:
		return t.Intermediate
	case elo.Advanced:
		return t.Advanced
	case elo.Expert:
		return t.Expert
	case elo.Master:
		return t.Master
	}
	return 0
}

// Set stores v for band b.
func (t *BandTable) Set(b elo.Band, v float64) {
	switch b {
	case elo.Beginner:
		t.Beginner = v
	case elo.Intermediate:
		t.Intermediate = v
	case elo.Advanced:
		t.Advanced = v
	case elo.Expert:
		t.Expert = v
	case elo.Master:
		t.Master = v
	}
}

// Map returns a copy of t with fn applied to every entry.
func (t BandTable) Map(fn func(b elo.Band, v float64) float64) BandTable {
	var out BandTable
	for _, b := range elo.All() {
		out.Set(b, fn(b, t.Get(b)))
	}
	return out
}

func (t BandTable) String() string {
	parts := make([]string, 0, elo.NumBands)
	for _, b := range elo.All() {
		parts = append(parts, fmt.Sprintf("%s=%s", b, formatNumber(t.Get(b))))
	}
	return strings.Join(parts, " ")
}

// SearchConfig controls how deep and how wide the selector searches.
type SearchConfig struct {
	DepthByBand    BandTable `json:"depthByBand" yaml:"depth_by_band"`
	CandidateCount int       `json:"candidateCount" yaml:"candidate_count"`
}

// SelectionConfig controls how a move is picked among the searched candidates.
type SelectionConfig struct {
	Temperature        float64   `json:"temperature" yaml:"temperature"`
	EvalNoise          float64   `json:"evalNoise" yaml:"eval_noise"`
	BlunderThresholdCP float64   `json:"blunderThresholdCp" yaml:"blunder_threshold_cp"`
	MistakeRateByBand  BandTable `json:"mistakeRateByBand" yaml:"mistake_rate_by_band"`
}

// BookConfig controls opening book usage.
type BookConfig struct {
	MaxPly  int     `json:"maxPly" yaml:"max_ply"`
	Variety float64 `json:"variety" yaml:"variety"`
}

// Config is the full move-selector configuration.
type Config struct {
	Search    SearchConfig    `json:"search" yaml:"search"`
	Selection SelectionConfig `json:"selection" yaml:"selection"`
	Book      BookConfig      `json:"book" yaml:"book"`
}

// Default returns the known-good starting configuration.
func Default() Config {
	return Config{
		Search: SearchConfig{
			DepthByBand:    BandTable{Beginner: 2, Intermediate: 4, Advanced: 6, Expert: 9, Master: 12},
			CandidateCount: 5,
		},
		Selection: SelectionConfig{
			Temperature:        0.6,
			EvalNoise:          30,
			BlunderThresholdCP: 200,
			MistakeRateByBand:  BandTable{Beginner: 0.18, Intermediate: 0.12, Advanced: 0.08, Expert: 0.05, Master: 0.03},
		},
		Book: BookConfig{
			MaxPly:  8,
			Variety: 0.5,
		},
	}
}

// Validate rejects configurations the selector cannot run with.
func (c Config) Validate() error {
	for _, b := range elo.All() {
		if d := c.Search.DepthByBand.Get(b); d < 1 {
			return fmt.Errorf("search.depthByBand.%s must be >= 1, got %v", b, d)
		}
		if r := c.Selection.MistakeRateByBand.Get(b); r < 0 || r > 1 {
			return fmt.Errorf("selection.mistakeRateByBand.%s must be in [0,1], got %v", b, r)
		}
	}
	if c.Search.CandidateCount < 1 {
		return fmt.Errorf("search.candidateCount must be >= 1, got %d", c.Search.CandidateCount)
	}
	if c.Selection.Temperature <= 0 {
		return fmt.Errorf("selection.temperature must be > 0, got %v", c.Selection.Temperature)
	}
	if c.Book.MaxPly < 0 {
		return fmt.Errorf("book.maxPly must be >= 0, got %d", c.Book.MaxPly)
	}
	return nil
}
