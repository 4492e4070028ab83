// Package planner expands the parameter registry into a trackable sweep plan.
package planner

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hailam/chesstuner/internal/botconfig"
	"github.com/hailam/chesstuner/internal/params"
	"github.com/hailam/chesstuner/internal/state"
)

// Options bounds a plan.
type Options struct {
	MaxExperiments  int
	TriagePositions int
	BaseSeed        int64
}

// Seed returns the run seed of cycle. Baseline and every experiment of the
// cycle share it, so all of them replay the same sampled positions.
func Seed(cycle int, base int64) int64 {
	return base + int64(cycle)
}

// Build creates the plan of cycle from cfg and the active datasets.
// The result depends only on its inputs.
func Build(cycle int, cfg botconfig.Config, datasets []state.DatasetRef, opts Options, now time.Time) *state.SweepPlan {
	seed := Seed(cycle, opts.BaseSeed)
	names := make([]string, len(datasets))
	for i, d := range datasets {
		names[i] = d.Name
	}

	variants := params.AllVariants(cfg, opts.MaxExperiments)
	experiments := make([]*state.ExperimentSpec, 0, len(variants))
	for i, v := range variants {
		experiments = append(experiments, &state.ExperimentSpec{
			ID:          fmt.Sprintf("c%d-%02d-%s-%s", cycle, i+1, v.Path, slug(v.Label)),
			Path:        v.Path,
			Label:       v.Label,
			Description: v.Description,
			Override:    v.Override,
			Datasets:    append([]string(nil), names...),
			PositionCap: opts.TriagePositions,
			Seed:        seed,
			Status:      state.StatusPending,
		})
	}

	return &state.SweepPlan{
		Cycle:         cycle,
		BaseConfig:    cfg,
		BaselineLabel: fmt.Sprintf("baseline-c%d", cycle),
		Seed:          seed,
		Experiments:   experiments,
		Status:        state.PlanActive,
		CreatedAt:     now,
	}
}

func slug(label string) string {
	r := strings.NewReplacer("+", "p", "-", "m", ".", "_", " ", "")
	return r.Replace(strings.ToLower(label))
}

// Resumable reports whether plan can be continued for cycle on cfg. A plan
// built on any other configuration is never resumed.
func Resumable(plan *state.SweepPlan, cycle int, cfg botconfig.Config) bool {
	return plan != nil &&
		plan.Status == state.PlanActive &&
		plan.Cycle == cycle &&
		plan.BaseConfig == cfg
}

// IsComplete reports whether every experiment is complete or skipped.
func IsComplete(plan *state.SweepPlan) bool {
	if plan == nil {
		return false
	}
	for _, e := range plan.Experiments {
		if !e.Status.Terminal() {
			return false
		}
	}
	return true
}

// Progress is a status breakdown of a plan.
type Progress struct {
	Total    int
	Pending  int
	Triage   int
	Promoted int
	Running  int
	Complete int
	Skipped  int
}

// Done returns the experiments that need no more work.
func (p Progress) Done() int { return p.Complete + p.Skipped }

func (p Progress) String() string {
	return fmt.Sprintf("%d/%d done (complete %d, skipped %d, running %d, promoted %d, triage %d, pending %d)",
		p.Done(), p.Total, p.Complete, p.Skipped, p.Running, p.Promoted, p.Triage, p.Pending)
}

// ProgressOf counts the experiments of plan by status.
func ProgressOf(plan *state.SweepPlan) Progress {
	var p Progress
	if plan == nil {
		return p
	}
	for _, e := range plan.Experiments {
		p.Total++
		switch e.Status {
		case state.StatusPending:
			p.Pending++
		case state.StatusTriage:
			p.Triage++
		case state.StatusPromoted:
			p.Promoted++
		case state.StatusRunning:
			p.Running++
		case state.StatusComplete:
			p.Complete++
		case state.StatusSkipped:
			p.Skipped++
		}
	}
	return p
}

// NeedsTriage lists experiments whose triage run has not produced a score.
func NeedsTriage(plan *state.SweepPlan) []*state.ExperimentSpec {
	var out []*state.ExperimentSpec
	for _, e := range plan.Experiments {
		if e.Status == state.StatusPending || (e.Status == state.StatusTriage && e.TriageScore == nil) {
			out = append(out, e)
		}
	}
	return out
}

// NeedsValidation lists promoted experiments whose full run is outstanding.
func NeedsValidation(plan *state.SweepPlan) []*state.ExperimentSpec {
	var out []*state.ExperimentSpec
	for _, e := range plan.Experiments {
		if e.Status == state.StatusPromoted || e.Status == state.StatusRunning {
			out = append(out, e)
		}
	}
	return out
}

// Next returns the experiment the sweep works on next: triage comes before
// full validation. It returns nil when nothing is left to run.
func Next(plan *state.SweepPlan) *state.ExperimentSpec {
	if plan == nil {
		return nil
	}
	if pending := NeedsTriage(plan); len(pending) > 0 {
		return pending[0]
	}
	if promoted := NeedsValidation(plan); len(promoted) > 0 {
		return promoted[0]
	}
	return nil
}

// Promote moves the triaged experiments with a non-negative delta into full
// validation, best first and at most top of them. The others are skipped.
// It returns the number promoted.
func Promote(plan *state.SweepPlan, top int) int {
	var triaged []*state.ExperimentSpec
	for _, e := range plan.Experiments {
		if e.Status == state.StatusTriage && e.TriageScore != nil {
			triaged = append(triaged, e)
		}
	}
	sort.SliceStable(triaged, func(i, j int) bool {
		a, b := *triaged[i].TriageScore, *triaged[j].TriageScore
		if a != b {
			return a > b
		}
		return triaged[i].ID < triaged[j].ID
	})

	promoted := 0
	for _, e := range triaged {
		if *e.TriageScore >= 0 && (top <= 0 || promoted < top) {
			_ = e.Advance(state.StatusPromoted)
			promoted++
			continue
		}
		_ = e.Advance(state.StatusSkipped)
	}
	return promoted
}

// TriageSubset picks the lowest, median and highest Elo datasets. Three or
// fewer datasets are returned as they are.
func TriageSubset(datasets []state.DatasetRef) []state.DatasetRef {
	sorted := append([]state.DatasetRef(nil), datasets...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Elo != sorted[j].Elo {
			return sorted[i].Elo < sorted[j].Elo
		}
		return sorted[i].Name < sorted[j].Name
	})
	if len(sorted) <= 3 {
		return sorted
	}
	return []state.DatasetRef{sorted[0], sorted[len(sorted)/2], sorted[len(sorted)-1]}
}
