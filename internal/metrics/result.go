package metrics

import (
	"sort"

	"github.com/hailam/chesstuner/internal/botconfig"
)

// Mode is the fidelity a run was executed at.
type Mode string

const (
	ModeTriage Mode = "triage"
	ModeFull   Mode = "full"
)

// Baseline is the unmodified configuration measured at one fidelity.
type Baseline struct {
	Mode       Mode               `json:"mode"`
	PerDataset map[string]Metrics `json:"perDataset"`
	Aggregate  Metrics            `json:"aggregate"`
	Score      float64            `json:"score"`
}

// NewBaseline aggregates per-dataset baseline runs.
func NewBaseline(mode Mode, per map[string]Metrics) *Baseline {
	agg := Aggregate(per)
	return &Baseline{
		Mode:       mode,
		PerDataset: per,
		Aggregate:  agg,
		Score:      CompositeScore(agg.Measures),
	}
}

// ScoreOver returns the baseline score restricted to the datasets in subset.
func (b *Baseline) ScoreOver(subset map[string]Metrics) float64 {
	agg := Aggregate(Restrict(b.PerDataset, subset))
	return CompositeScore(agg.Measures)
}

// AggregatedResult is one experiment summarized across its datasets.
type AggregatedResult struct {
	ExperimentID string             `json:"experimentId"`
	Path         botconfig.Path     `json:"path"`
	Description  string             `json:"description"`
	Override     botconfig.Override `json:"override"`
	Mode         Mode               `json:"mode"`
	PerDataset   map[string]Metrics `json:"perDataset"`
	Aggregate    Metrics            `json:"aggregate"`
	Score        float64            `json:"score"`
	ScoreDelta   float64            `json:"scoreDelta"`
}

// Experiment identifies what an AggregatedResult measured.
type Experiment struct {
	ID          string
	Path        botconfig.Path
	Description string
	Override    botconfig.Override
}

// Summarize builds an AggregatedResult. The score delta is taken against the
// baseline restricted to the datasets the experiment actually produced, so both
// sides always cover the same subset. Datasets missing from the baseline are
// left out of the experiment score as well.
func Summarize(exp Experiment, mode Mode, per map[string]Metrics, baseline *Baseline) AggregatedResult {
	used := per
	baselineScore := 0.0
	if baseline != nil {
		used = Restrict(per, baseline.PerDataset)
		baselineScore = baseline.ScoreOver(used)
	}
	agg := Aggregate(used)
	score := CompositeScore(agg.Measures)
	return AggregatedResult{
		ExperimentID: exp.ID,
		Path:         exp.Path,
		Description:  exp.Description,
		Override:     exp.Override,
		Mode:         mode,
		PerDataset:   per,
		Aggregate:    agg,
		Score:        score,
		ScoreDelta:   score - baselineScore,
	}
}

// Rank sorts results by score delta, best first. Ties keep id order.
func Rank(results []AggregatedResult) []AggregatedResult {
	out := make([]AggregatedResult, len(results))
	copy(out, results)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ScoreDelta != out[j].ScoreDelta {
			return out[i].ScoreDelta > out[j].ScoreDelta
		}
		return out[i].ExperimentID < out[j].ExperimentID
	})
	return out
}
