package botconfig

import (
	"encoding/json"
	"fmt"
)

// SearchOverride is the partial form of SearchConfig.
type SearchOverride struct {
	DepthByBand    *BandTable `json:"depthByBand,omitempty" yaml:"depth_by_band,omitempty"`
	CandidateCount *int       `json:"candidateCount,omitempty" yaml:"candidate_count,omitempty"`
}

// SelectionOverride is the partial form of SelectionConfig.
type SelectionOverride struct {
	Temperature        *float64   `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	EvalNoise          *float64   `json:"evalNoise,omitempty" yaml:"eval_noise,omitempty"`
	BlunderThresholdCP *float64   `json:"blunderThresholdCp,omitempty" yaml:"blunder_threshold_cp,omitempty"`
	MistakeRateByBand  *BandTable `json:"mistakeRateByBand,omitempty" yaml:"mistake_rate_by_band,omitempty"`
}

// BookOverride is the partial form of BookConfig.
type BookOverride struct {
	MaxPly  *int     `json:"maxPly,omitempty" yaml:"max_ply,omitempty"`
	Variety *float64 `json:"variety,omitempty" yaml:"variety,omitempty"`
}

// Override mirrors Config with every section and field optional.
// A nil section or field means "keep the base value".
type Override struct {
	Search    *SearchOverride    `json:"search,omitempty" yaml:"search,omitempty"`
	Selection *SelectionOverride `json:"selection,omitempty" yaml:"selection,omitempty"`
	Book      *BookOverride      `json:"book,omitempty" yaml:"book,omitempty"`
}

// IsEmpty reports whether the override sets no field at all.
func (o Override) IsEmpty() bool {
	return len(o.Paths()) == 0
}

// Paths lists the addresses the override sets, in declaration order.
func (o Override) Paths() []Path {
	var out []Path
	for _, p := range Paths() {
		if p.SetIn(o) {
			out = append(out, p)
		}
	}
	return out
}

// Merge applies ov over base and returns the result. The merge goes two levels
// deep: a nil section keeps the base section; inside a present section each
// non-nil field replaces the base field and band tables are replaced whole.
// base must be the default or the last known-good configuration.
func Merge(base Config, ov Override) Config {
	out := base
	if s := ov.Search; s != nil {
		if s.DepthByBand != nil {
			out.Search.DepthByBand = *s.DepthByBand
		}
		if s.CandidateCount != nil {
			out.Search.CandidateCount = *s.CandidateCount
		}
	}
	if s := ov.Selection; s != nil {
		if s.Temperature != nil {
			out.Selection.Temperature = *s.Temperature
		}
		if s.EvalNoise != nil {
			out.Selection.EvalNoise = *s.EvalNoise
		}
		if s.BlunderThresholdCP != nil {
			out.Selection.BlunderThresholdCP = *s.BlunderThresholdCP
		}
		if s.MistakeRateByBand != nil {
			out.Selection.MistakeRateByBand = *s.MistakeRateByBand
		}
	}
	if b := ov.Book; b != nil {
		if b.MaxPly != nil {
			out.Book.MaxPly = *b.MaxPly
		}
		if b.Variety != nil {
			out.Book.Variety = *b.Variety
		}
	}
	return out
}

// Layer combines two overrides; fields set in upper win over lower.
func Layer(lower, upper Override) Override {
	var out Override
	for _, p := range Paths() {
		switch {
		case p.SetIn(upper):
			p.setIn(&out, p.Get(Merge(Config{}, upper)))
		case p.SetIn(lower):
			p.setIn(&out, p.Get(Merge(Config{}, lower)))
		}
	}
	return out
}

// Full returns an override that sets every field of c.
func Full(c Config) Override {
	depth := c.Search.DepthByBand
	candidates := c.Search.CandidateCount
	temp := c.Selection.Temperature
	noise := c.Selection.EvalNoise
	blunder := c.Selection.BlunderThresholdCP
	mistakes := c.Selection.MistakeRateByBand
	maxPly := c.Book.MaxPly
	variety := c.Book.Variety
	return Override{
		Search: &SearchOverride{DepthByBand: &depth, CandidateCount: &candidates},
		Selection: &SelectionOverride{
			Temperature:        &temp,
			EvalNoise:          &noise,
			BlunderThresholdCP: &blunder,
			MistakeRateByBand:  &mistakes,
		},
		Book: &BookOverride{MaxPly: &maxPly, Variety: &variety},
	}
}

// DecodeOverride reads a partial configuration relative to base. Only the
// fields present in data are set; band tables are merged per band, so a band
// the data leaves out keeps base's value.
func DecodeOverride(data []byte, base Config) (Override, error) {
	var present Override
	if err := json.Unmarshal(data, &present); err != nil {
		return Override{}, fmt.Errorf("decode override: %w", err)
	}
	filled := Full(base)
	if err := json.Unmarshal(data, &filled); err != nil {
		return Override{}, fmt.Errorf("decode override: %w", err)
	}
	merged := Merge(base, filled)
	var out Override
	for _, p := range present.Paths() {
		p.setIn(&out, p.Get(merged))
	}
	return out, nil
}

// Diff lists the addresses whose values differ between old and updated.
func Diff(old, updated Config) []Path {
	var out []Path
	for _, p := range Paths() {
		if !p.Get(old).Equal(p.Get(updated)) {
			out = append(out, p)
		}
	}
	return out
}
