package tuner

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hailam/chesstuner/internal/metrics"
	"github.com/hailam/chesstuner/internal/planner"
	"github.com/hailam/chesstuner/internal/pool"
	"github.com/hailam/chesstuner/internal/runner"
	"github.com/hailam/chesstuner/internal/state"
)

// sweep measures every planned variant: a triage pass on a small dataset
// subset, then full validation of the promoted variants on every dataset.
// Each finished run is checkpointed, so a restart redoes at most one run.
func (t *Tuner) sweep(ctx context.Context) error {
	datasets := pool.ActiveDatasets(t.st)
	if len(datasets) == 0 {
		return errors.New("sweep: no usable datasets; run gather again")
	}

	results, err := t.preparePlan(datasets)
	if err != nil {
		return err
	}
	plan := t.st.Plan

	tester, err := t.deps.Testers.Open(ctx)
	if err != nil {
		return fmt.Errorf("sweep: start accuracy tester: %w", err)
	}
	defer func() {
		if err := tester.Close(); err != nil {
			t.logger.Warn("Accuracy tester did not shut down cleanly", zap.Error(err))
		}
	}()
	run := runner.New(tester, runner.Options{
		FullPositions: t.opts.FullPositions,
		Logger:        t.logger,
		Metrics:       t.metrics,
	})

	if err := t.triage(ctx, run, plan, results, planner.TriageSubset(datasets)); err != nil {
		return err
	}
	if err := t.validate(ctx, run, plan, results, datasets); err != nil {
		return err
	}

	plan.Status = state.PlanComplete
	t.logger.Info("Sweep complete",
		zap.Int("cycle", plan.Cycle),
		zap.String("progress", planner.ProgressOf(plan).String()))
	return t.advance()
}

// preparePlan resumes the current plan when it was built for this cycle and
// configuration, and builds a fresh one otherwise.
func (t *Tuner) preparePlan(datasets []state.DatasetRef) (*state.SweepResults, error) {
	if planner.Resumable(t.st.Plan, t.st.Cycle, t.st.BestConfig) {
		results, err := t.deps.Store.LoadSweep(t.st.Cycle)
		switch {
		case err == nil:
			t.logger.Info("Resuming sweep",
				zap.Int("cycle", t.st.Cycle),
				zap.String("progress", planner.ProgressOf(t.st.Plan).String()))
			return results, nil
		case errors.Is(err, state.ErrNoSweep), errors.Is(err, state.ErrCorrupt):
			// the plan survived but its measurements did not; start over
			t.logger.Warn("Sweep results missing, rebuilding plan", zap.Error(err))
		default:
			return nil, fmt.Errorf("sweep: %w", err)
		}
	}

	if old := t.st.Plan; old != nil && old.Status == state.PlanActive {
		t.logger.Info("Discarding plan built for another configuration", zap.Int("plan_cycle", old.Cycle))
		old.Status = state.PlanDiscarded
	}
	plan := planner.Build(t.st.Cycle, t.st.BestConfig, datasets, t.opts.Planner, t.now())
	results := state.NewSweepResults(t.st.Cycle)
	if err := t.deps.Store.SaveSweep(results); err != nil {
		return nil, fmt.Errorf("sweep: %w", err)
	}
	t.st.Plan = plan
	if err := t.checkpoint(); err != nil {
		return nil, err
	}
	t.logger.Info("Sweep planned",
		zap.Int("cycle", plan.Cycle),
		zap.Int("experiments", len(plan.Experiments)),
		zap.Int("datasets", len(datasets)),
		zap.Int64("seed", plan.Seed))
	return results, nil
}

func (t *Tuner) saveResults(results *state.SweepResults) error {
	if err := t.deps.Store.SaveSweep(results); err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	return nil
}

func (t *Tuner) triage(ctx context.Context, run *runner.Runner, plan *state.SweepPlan, results *state.SweepResults, subset []state.DatasetRef) error {
	pending := planner.NeedsTriage(plan)
	if len(pending) > 0 && results.TriageBaseline == nil {
		per, err := run.Baseline(ctx, plan.BaseConfig, plan.BaselineLabel, subset, metrics.ModeTriage, plan.Seed, t.opts.Planner.TriagePositions)
		if err != nil {
			return fmt.Errorf("triage baseline: %w", err)
		}
		results.TriageBaseline = metrics.NewBaseline(metrics.ModeTriage, per)
		if err := t.saveResults(results); err != nil {
			return err
		}
		t.logger.Info("Triage baseline measured",
			zap.Int("datasets", len(per)),
			zap.Float64("score", results.TriageBaseline.Score))
	}

	for i, spec := range pending {
		if spec.Status == state.StatusPending {
			if err := spec.Advance(state.StatusTriage); err != nil {
				return err
			}
			if err := t.checkpoint(); err != nil {
				return err
			}
		}

		per, err := run.Experiment(ctx, plan.BaseConfig, spec, subset, metrics.ModeTriage)
		if err != nil {
			if errors.Is(err, runner.ErrNoResults) {
				t.logger.Warn("Triage produced no results, skipping experiment", zap.String("id", spec.ID))
				if err := spec.Advance(state.StatusSkipped); err != nil {
					return err
				}
				if err := t.checkpoint(); err != nil {
					return err
				}
				continue
			}
			return fmt.Errorf("triage %s: %w", spec.ID, err)
		}

		res := metrics.Summarize(spec.Experiment(), metrics.ModeTriage, per, results.TriageBaseline)
		results.Triage[spec.ID] = res
		if err := t.saveResults(results); err != nil {
			return err
		}
		delta := res.ScoreDelta
		spec.TriageScore = &delta
		if err := t.checkpoint(); err != nil {
			return err
		}
		t.logger.Info("Triage",
			zap.String("id", spec.ID),
			zap.Int("n", i+1),
			zap.Int("of", len(pending)),
			zap.Float64("delta", delta))
	}

	if n := planner.Promote(plan, t.opts.PromoteTop); n > 0 || len(pending) > 0 {
		if err := t.checkpoint(); err != nil {
			return err
		}
		t.logger.Info("Triage finished",
			zap.Int("promoted", n),
			zap.String("progress", planner.ProgressOf(plan).String()))
	}
	return nil
}

func (t *Tuner) validate(ctx context.Context, run *runner.Runner, plan *state.SweepPlan, results *state.SweepResults, datasets []state.DatasetRef) error {
	promoted := planner.NeedsValidation(plan)

	// The full baseline is measured even with nothing promoted: analysis and
	// the regression history depend on it.
	if results.FullBaseline == nil {
		per, err := run.Baseline(ctx, plan.BaseConfig, plan.BaselineLabel, datasets, metrics.ModeFull, plan.Seed, t.opts.FullPositions)
		if err != nil {
			return fmt.Errorf("full baseline: %w", err)
		}
		results.FullBaseline = metrics.NewBaseline(metrics.ModeFull, per)
		if err := t.saveResults(results); err != nil {
			return err
		}
		t.logger.Info("Full baseline measured",
			zap.Int("datasets", len(per)),
			zap.Float64("score", results.FullBaseline.Score))
	}

	for i, spec := range promoted {
		if spec.Status == state.StatusPromoted {
			if err := spec.Advance(state.StatusRunning); err != nil {
				return err
			}
			if err := t.checkpoint(); err != nil {
				return err
			}
		}

		per, err := run.Experiment(ctx, plan.BaseConfig, spec, planned(spec, datasets), metrics.ModeFull)
		if err != nil {
			if errors.Is(err, runner.ErrNoResults) {
				t.logger.Warn("Validation produced no results, skipping experiment", zap.String("id", spec.ID))
				if err := spec.Advance(state.StatusSkipped); err != nil {
					return err
				}
				if err := t.checkpoint(); err != nil {
					return err
				}
				continue
			}
			return fmt.Errorf("validate %s: %w", spec.ID, err)
		}

		res := metrics.Summarize(spec.Experiment(), metrics.ModeFull, per, results.FullBaseline)
		results.Full[spec.ID] = res
		if err := t.saveResults(results); err != nil {
			return err
		}
		if err := spec.Advance(state.StatusComplete); err != nil {
			return err
		}
		if err := t.checkpoint(); err != nil {
			return err
		}
		t.logger.Info("Validated",
			zap.String("id", spec.ID),
			zap.Int("n", i+1),
			zap.Int("of", len(promoted)),
			zap.Float64("delta", res.ScoreDelta))
	}
	return nil
}

// planned keeps the datasets the experiment was planned against.
func planned(spec *state.ExperimentSpec, datasets []state.DatasetRef) []state.DatasetRef {
	if len(spec.Datasets) == 0 {
		return datasets
	}
	want := make(map[string]bool, len(spec.Datasets))
	for _, n := range spec.Datasets {
		want[n] = true
	}
	out := make([]state.DatasetRef, 0, len(spec.Datasets))
	for _, d := range datasets {
		if want[d.Name] {
			out = append(out, d)
		}
	}
	return out
}
