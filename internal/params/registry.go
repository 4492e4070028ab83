// Package params declares the tunable knobs of the move selector and how
// candidate values are generated for each of them.
package params

import (
	"fmt"
	"sort"

	"github.com/hailam/chesstuner/internal/botconfig"
)

// Parameter is one tunable knob. Priority 1 is explored first.
type Parameter struct {
	Path        botconfig.Path
	Priority    int
	Description string
	Perturb     Perturber
}

// Variant is one candidate change produced from the registry.
type Variant struct {
	Path        botconfig.Path
	Label       string
	Description string
	Value       botconfig.Value
	Override    botconfig.Override
}

var registry = []Parameter{
	{
		Path:        botconfig.DepthByBand,
		Priority:    1,
		Description: "search depth per skill band",
		Perturb:     TierOffsets(1, 20, 1),
	},
	{
		Path:        botconfig.Temperature,
		Priority:    2,
		Description: "softmax temperature over candidate evaluations",
		Perturb:     Scale(0.5, 0.75, 1.25, 1.5),
	},
	{
		Path:        botconfig.BlunderThreshold,
		Priority:    3,
		Description: "centipawn loss above which a candidate counts as a blunder",
		Perturb:     Additive(50, 600, 25, 50),
	},
	{
		Path:        botconfig.MistakeRateByBand,
		Priority:    4,
		Description: "probability of a deliberate inaccuracy per skill band",
		Perturb:     TierOffsets(0, 1, 0.02),
	},
	{
		Path:        botconfig.CandidateCount,
		Priority:    5,
		Description: "number of candidate moves kept from search",
		Perturb:     Step(1, 8),
	},
	{
		Path:        botconfig.EvalNoise,
		Priority:    6,
		Description: "gaussian evaluation noise in centipawns",
		Perturb:     Scale(0.5, 0.75, 1.25, 1.5),
	},
	{
		Path:        botconfig.BookMaxPly,
		Priority:    7,
		Description: "deepest ply at which book moves are used",
		Perturb:     Step(0, 24),
	},
	{
		Path:        botconfig.BookVariety,
		Priority:    8,
		Description: "weight flattening for book move choice",
		Perturb:     Scale(0.5, 0.75, 1.25, 1.5),
	},
}

// Registry returns the parameters sorted by priority.
func Registry() []Parameter {
	out := make([]Parameter, len(registry))
	copy(out, registry)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// Lookup returns the registered parameter for path.
func Lookup(path botconfig.Path) (Parameter, bool) {
	for _, p := range registry {
		if p.Path == path {
			return p, true
		}
	}
	return Parameter{}, false
}

// Variants generates every candidate for one parameter against cfg.
func (p Parameter) Variants(cfg botconfig.Config) []Variant {
	current := p.Path.Get(cfg)
	var out []Variant
	for _, c := range p.Perturb(current) {
		if c.Value.Equal(current) {
			continue
		}
		out = append(out, Variant{
			Path:        p.Path,
			Label:       c.Label,
			Description: fmt.Sprintf("%s %s -> %s (%s)", p.Path, current, c.Value, c.Label),
			Value:       c.Value,
			Override:    p.Path.Override(c.Value),
		})
	}
	return out
}

// AllVariants walks the registry in priority order and returns at most max
// variants, so the highest-impact knobs are always explored first. A max of
// zero or less means no cap.
func AllVariants(cfg botconfig.Config, max int) []Variant {
	var out []Variant
	for _, p := range Registry() {
		for _, v := range p.Variants(cfg) {
			if max > 0 && len(out) >= max {
				return out
			}
			out = append(out, v)
		}
	}
	return out
}
