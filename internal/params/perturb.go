package params

import (
	"fmt"
	"math"

	"github.com/hailam/chesstuner/internal/botconfig"
	"github.com/hailam/chesstuner/internal/elo"
)

// Candidate is one labeled value produced by a Perturber.
type Candidate struct {
	Label string
	Value botconfig.Value
}

// Perturber maps a current value to candidate values.
type Perturber func(current botconfig.Value) []Candidate

// Scale multiplies the current value by each factor. Used for smoothing coefficients.
func Scale(factors ...float64) Perturber {
	return func(current botconfig.Value) []Candidate {
		out := make([]Candidate, 0, len(factors))
		for _, f := range factors {
			out = append(out, Candidate{
				Label: fmt.Sprintf("x%s", trim(f)),
				Value: botconfig.Number(round(current.Number * f)),
			})
		}
		return out
	}
}

// Additive adds -d and +d for each delta, clamped to [lo, hi]. Used for thresholds.
func Additive(lo, hi float64, deltas ...float64) Perturber {
	return func(current botconfig.Value) []Candidate {
		var out []Candidate
		for _, d := range deltas {
			for _, signed := range []float64{-d, d} {
				v := clamp(current.Number+signed, lo, hi)
				out = appendUnique(out, Candidate{
					Label: signedLabel(signed),
					Value: botconfig.Number(round(v)),
				})
			}
		}
		return out
	}
}

// Step moves a small integer count by one in each direction, clamped to [lo, hi].
func Step(lo, hi int) Perturber {
	return func(current botconfig.Value) []Candidate {
		n := int(math.Round(current.Number))
		var out []Candidate
		if n-1 >= lo {
			out = append(out, Candidate{Label: "-1", Value: botconfig.Number(float64(n - 1))})
		}
		if n+1 <= hi {
			out = append(out, Candidate{Label: "+1", Value: botconfig.Number(float64(n + 1))})
		}
		return out
	}
}

// TierOffsets shifts one band of a lookup table at a time by each offset,
// clamped to [lo, hi].
func TierOffsets(lo, hi float64, offsets ...float64) Perturber {
	return func(current botconfig.Value) []Candidate {
		if !current.IsTable() {
			return nil
		}
		var out []Candidate
		for _, b := range elo.All() {
			for _, off := range offsets {
				for _, signed := range []float64{-off, off} {
					t := *current.Table
					t.Set(b, round(clamp(t.Get(b)+signed, lo, hi)))
					out = appendUnique(out, Candidate{
						Label: fmt.Sprintf("%s%s", b, signedLabel(signed)),
						Value: botconfig.TableValue(t),
					})
				}
			}
		}
		return out
	}
}

func appendUnique(out []Candidate, c Candidate) []Candidate {
	for _, existing := range out {
		if existing.Value.Equal(c.Value) {
			return out
		}
	}
	return append(out, c)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// round trims float noise so labels and stored values stay readable.
func round(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

func trim(f float64) string {
	return fmt.Sprintf("%g", f)
}

func signedLabel(d float64) string {
	if d >= 0 {
		return "+" + trim(d)
	}
	return trim(d)
}
