package tuner

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hailam/chesstuner/internal/botconfig"
	"github.com/hailam/chesstuner/internal/pool"
	"github.com/hailam/chesstuner/internal/proposal"
	"github.com/hailam/chesstuner/internal/regression"
	"github.com/hailam/chesstuner/internal/state"
)

func (t *Tuner) analyze(ctx context.Context) (*state.Proposal, error) {
	results, err := t.deps.Store.LoadSweep(t.st.Cycle)
	if err != nil {
		return nil, fmt.Errorf("analyze: load sweep results: %w", err)
	}
	if results.FullBaseline == nil {
		return nil, fmt.Errorf("analyze: cycle %d has no full baseline", t.st.Cycle)
	}

	snapshot := state.Snapshot(results.FullBaseline, pool.ActiveDatasets(t.st))
	rep := regression.Check(t.st.Cycle, snapshot, t.st.History)
	for _, m := range rep.Critical() {
		t.logger.Warn("Critical regression",
			zap.String("metric", m.Metric),
			zap.Float64("previous", m.Previous),
			zap.Float64("current", m.Current))
	}
	for _, note := range rep.Notes {
		t.logger.Info("Regression note", zap.String("note", note))
	}

	p, name, err := t.deps.Synth.Synthesize(ctx, proposal.Input{
		Cycle:      t.st.Cycle,
		BestConfig: t.st.BestConfig,
		Baseline:   snapshot,
		Regression: rep,
		Results:    results.RankedFull(),
		Triage:     results.RankedTriage(),
		History:    t.st.History,
	})
	if err != nil {
		return nil, fmt.Errorf("analyze: %w", err)
	}
	t.st.PendingProposal = name
	if err := t.advance(); err != nil {
		return nil, err
	}
	return p, nil
}

// Accept applies the pending proposal over the best-known configuration and
// closes the cycle.
func (t *Tuner) Accept(ctx context.Context) (Outcome, error) {
	if t.st.Phase != state.PhaseWaiting {
		return t.ignored("nothing to accept; tuner is in %s: %s", t.st.Phase, t.hint()), nil
	}
	p, err := t.deps.Proposals.Load(t.st.PendingProposal)
	if err != nil {
		return Outcome{}, fmt.Errorf("accept: %w", err)
	}

	old := t.st.BestConfig
	next := botconfig.Merge(old, p.ProposedConfig)
	if err := next.Validate(); err != nil {
		return Outcome{}, fmt.Errorf("accept: proposed configuration is invalid: %w", err)
	}

	now := t.now()
	changes := applied(old, next, p.Changes)
	for _, c := range changes {
		t.st.AuditLog = append(t.st.AuditLog, state.AuditEntry{Cycle: t.st.Cycle, AppliedAt: now, Change: c})
	}
	t.st.History = append(t.st.History, t.record(p, true, changes))
	t.st.BestConfig = next

	cycle := t.closeCycle()
	if err := t.checkpoint(); err != nil {
		return Outcome{}, err
	}
	for _, c := range changes {
		t.logger.Info("Applied change",
			zap.Stringer("path", c.Path),
			zap.Stringer("from", c.OldValue),
			zap.Stringer("to", c.NewValue))
	}
	t.logger.Info("Proposal accepted", zap.Int("cycle", cycle), zap.Int("changes", len(changes)))
	return Outcome{
		Phase:   t.st.Phase,
		Message: fmt.Sprintf("cycle %d accepted with %d change(s); cycle %d is next", cycle, len(changes), t.st.Cycle),
	}, nil
}

// Reject archives the pending proposal and closes the cycle unchanged.
func (t *Tuner) Reject(ctx context.Context) (Outcome, error) {
	if t.st.Phase != state.PhaseWaiting {
		return t.ignored("nothing to reject; tuner is in %s: %s", t.st.Phase, t.hint()), nil
	}
	name := t.st.PendingProposal
	p, err := t.deps.Proposals.Load(name)
	if err != nil {
		return Outcome{}, fmt.Errorf("reject: %w", err)
	}
	if err := t.deps.Proposals.Archive(name); err != nil {
		// a rerun after a crash finds the directory already renamed
		if !errors.Is(err, proposal.ErrNotFound) {
			return Outcome{}, fmt.Errorf("reject: %w", err)
		}
	}

	t.st.History = append(t.st.History, t.record(p, false, []state.ConfigChange{}))
	cycle := t.closeCycle()
	if err := t.checkpoint(); err != nil {
		return Outcome{}, err
	}
	t.logger.Info("Proposal rejected", zap.Int("cycle", cycle), zap.String("archived", name))
	return Outcome{
		Phase:   t.st.Phase,
		Message: fmt.Sprintf("cycle %d rejected; cycle %d is next", cycle, t.st.Cycle),
	}, nil
}

// closeCycle resets the state for the next cycle and returns the closed one.
func (t *Tuner) closeCycle() int {
	closed := t.st.Cycle
	t.st.Cycle++
	t.st.Plan = nil
	t.st.PendingProposal = ""
	t.st.Phase = state.PhaseIdle
	return closed
}

func (t *Tuner) record(p *state.Proposal, accepted bool, changes []state.ConfigChange) state.CycleRecord {
	best := 0.0
	for _, r := range p.Experiments {
		if r.ScoreDelta > best {
			best = r.ScoreDelta
		}
	}
	return state.CycleRecord{
		Cycle:          t.st.Cycle,
		Timestamp:      t.now(),
		Datasets:       p.Baseline.DatasetNames(),
		ExperimentsRun: p.ExperimentsRun,
		BestDelta:      best,
		Accepted:       accepted,
		Changes:        changes,
		Baseline:       p.Baseline,
		ProposalID:     p.ID,
	}
}

// applied lists what actually changed between old and next, carrying over
// the rationale and measured delta of the matching proposed change.
func applied(old, next botconfig.Config, proposed []state.ConfigChange) []state.ConfigChange {
	out := []state.ConfigChange{}
	for _, p := range botconfig.Diff(old, next) {
		c := state.ConfigChange{Path: p, OldValue: p.Get(old), NewValue: p.Get(next)}
		if src, ok := source(proposed, p, c.NewValue); ok {
			c.ScoreDelta = src.ScoreDelta
			c.Rationale = src.Rationale
		}
		out = append(out, c)
	}
	return out
}

// source finds the proposed change behind an applied value. The fallback may
// list several values for one path; the one that was applied wins.
func source(proposed []state.ConfigChange, p botconfig.Path, v botconfig.Value) (state.ConfigChange, bool) {
	var first *state.ConfigChange
	for i := range proposed {
		if proposed[i].Path != p {
			continue
		}
		if proposed[i].NewValue.Equal(v) {
			return proposed[i], true
		}
		if first == nil {
			first = &proposed[i]
		}
	}
	if first == nil {
		return state.ConfigChange{}, false
	}
	return *first, true
}
