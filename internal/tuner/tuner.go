// Package tuner drives the tuning cycle: gather players, sweep configuration
// variants, analyze the results into a proposal and wait for the operator to
// accept or reject it. Every mutation of the state is checkpointed before the
// caller sees success.
package tuner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hailam/chesstuner/internal/botconfig"
	"github.com/hailam/chesstuner/internal/planner"
	"github.com/hailam/chesstuner/internal/pool"
	"github.com/hailam/chesstuner/internal/proposal"
	"github.com/hailam/chesstuner/internal/runner"
	"github.com/hailam/chesstuner/internal/state"
	"github.com/hailam/chesstuner/internal/telemetry"
)

// Gatherer fills the player pool and its datasets.
type Gatherer interface {
	Gather(ctx context.Context, st *state.TunerState, save pool.Checkpoint) (pool.Report, error)
}

// Synthesizer turns analyzed results into a saved proposal.
type Synthesizer interface {
	Synthesize(ctx context.Context, in proposal.Input) (*state.Proposal, string, error)
}

// Deps are the collaborators of a Tuner.
type Deps struct {
	Store     state.Store
	Pool      Gatherer
	Testers   runner.Factory
	Synth     Synthesizer
	Proposals *proposal.Store
}

// Options configures a Tuner.
type Options struct {
	// Initial is the configuration a fresh state starts from.
	Initial       botconfig.Config
	Planner       planner.Options
	PromoteTop    int
	FullPositions int
	Logger        *zap.Logger
	Metrics       *telemetry.Metrics
}

// Outcome reports what a command did. Ignored is set when the command was
// not valid in the current phase; Message then tells the operator what to do.
type Outcome struct {
	Phase   state.Phase
	Message string
	Ignored bool
}

// Tuner owns the TunerState for the life of one command.
type Tuner struct {
	deps    Deps
	opts    Options
	logger  *zap.Logger
	metrics *telemetry.Metrics
	now     func() time.Time

	st *state.TunerState
}

// New loads the persisted state. Absent or corrupted state starts a fresh
// cycle from opts.Initial.
func New(deps Deps, opts Options) (*Tuner, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tuner{
		deps:    deps,
		opts:    opts,
		logger:  logger,
		metrics: opts.Metrics,
		now:     time.Now,
	}
	if err := t.load(); err != nil {
		return nil, err
	}
	return t, nil
}

// SetClock replaces the time source.
func (t *Tuner) SetClock(now func() time.Time) {
	t.now = now
}

// State returns the live state. Callers must not mutate it.
func (t *Tuner) State() *state.TunerState {
	return t.st
}

func (t *Tuner) load() error {
	st, err := t.deps.Store.LoadState()
	switch {
	case err == nil:
		state.Sanitize(st, t.opts.Initial)
		t.logger.Debug("Loaded tuner state",
			zap.Int("cycle", st.Cycle),
			zap.Stringer("phase", st.Phase))
	case errors.Is(err, state.ErrNoState):
		t.logger.Info("No saved state, starting at cycle 1")
		st = state.New(t.opts.Initial)
	case errors.Is(err, state.ErrCorrupt):
		t.logger.Warn("Saved state is corrupted, starting fresh", zap.Error(err))
		st = state.New(t.opts.Initial)
	default:
		return fmt.Errorf("load tuner state: %w", err)
	}
	t.st = st
	t.metrics.ObserveState(st)
	return nil
}

// checkpoint persists the state synchronously.
func (t *Tuner) checkpoint() error {
	t.st.LastCheckpoint = t.now()
	if err := t.deps.Store.SaveState(t.st); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	t.metrics.ObserveState(t.st)
	return nil
}

// advance moves the tuner to the phase after the current one.
func (t *Tuner) advance() error {
	from := t.st.Phase
	to := from.Next()
	t.st.Phase = to
	if err := t.checkpoint(); err != nil {
		return err
	}
	t.logger.Info("Phase transition",
		zap.Int("cycle", t.st.Cycle),
		zap.Stringer("from", from),
		zap.Stringer("to", to))
	return nil
}

func (t *Tuner) ignored(format string, args ...any) Outcome {
	return Outcome{Phase: t.st.Phase, Message: fmt.Sprintf(format, args...), Ignored: true}
}

// hint names the command that moves the tuner out of its current phase.
func (t *Tuner) hint() string {
	switch t.st.Phase {
	case state.PhaseIdle, state.PhaseGather:
		return "run `chesstuner gather` or `chesstuner start`"
	case state.PhaseSweep:
		return "run `chesstuner sweep` or `chesstuner start`"
	case state.PhaseAnalyze:
		return "run `chesstuner analyze` or `chesstuner start`"
	default:
		return fmt.Sprintf("review proposal %s, then run `chesstuner accept` or `chesstuner reject`", t.st.PendingProposal)
	}
}

// beginCycle leaves idle. A plan still attached at this point belongs to an
// abandoned cycle and is discarded.
func (t *Tuner) beginCycle() error {
	if p := t.st.Plan; p != nil && p.Status == state.PlanActive {
		t.logger.Info("Discarding unfinished plan",
			zap.Int("plan_cycle", p.Cycle),
			zap.String("progress", planner.ProgressOf(p).String()))
		p.Status = state.PlanDiscarded
	}
	t.st.Plan = nil
	return t.advance()
}

// Start runs the cycle from wherever it stands until a proposal is waiting
// for review.
func (t *Tuner) Start(ctx context.Context) (Outcome, error) {
	if t.st.Phase == state.PhaseWaiting {
		return t.ignored("cycle %d already has a proposal waiting: %s", t.st.Cycle, t.hint()), nil
	}
	if t.st.Phase == state.PhaseIdle {
		if err := t.beginCycle(); err != nil {
			return Outcome{}, err
		}
	}
	for t.st.Phase != state.PhaseWaiting {
		if err := ctx.Err(); err != nil {
			return Outcome{}, err
		}
		var err error
		switch t.st.Phase {
		case state.PhaseGather:
			_, err = t.gather(ctx)
		case state.PhaseSweep:
			err = t.sweep(ctx)
		case state.PhaseAnalyze:
			_, err = t.analyze(ctx)
		default:
			err = fmt.Errorf("unexpected phase %s", t.st.Phase)
		}
		if err != nil {
			return Outcome{}, err
		}
	}
	return Outcome{
		Phase:   t.st.Phase,
		Message: fmt.Sprintf("cycle %d proposal ready at %s", t.st.Cycle, t.deps.Proposals.Path(t.st.PendingProposal)),
	}, nil
}

// Gather runs the gather phase alone.
func (t *Tuner) Gather(ctx context.Context) (Outcome, error) {
	switch t.st.Phase {
	case state.PhaseIdle:
		if err := t.beginCycle(); err != nil {
			return Outcome{}, err
		}
	case state.PhaseGather:
	default:
		return t.ignored("gather is only valid at the start of a cycle; tuner is in %s: %s", t.st.Phase, t.hint()), nil
	}
	rep, err := t.gather(ctx)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Phase: t.st.Phase,
		Message: fmt.Sprintf("pool has %d players and %d datasets (%d fetched, %d reused, %d failed)",
			len(t.st.Players), len(pool.ActiveDatasets(t.st)), rep.Fetched, rep.Reused, rep.Failed),
	}, nil
}

func (t *Tuner) gather(ctx context.Context) (pool.Report, error) {
	rep, err := t.deps.Pool.Gather(ctx, t.st, t.checkpoint)
	if err != nil {
		return rep, fmt.Errorf("gather: %w", err)
	}
	if len(pool.ActiveDatasets(t.st)) == 0 {
		return rep, errors.New("gather: no usable datasets; add seed players to the config file")
	}
	return rep, t.advance()
}

// Sweep runs the sweep phase alone.
func (t *Tuner) Sweep(ctx context.Context) (Outcome, error) {
	if t.st.Phase != state.PhaseSweep {
		return t.ignored("sweep is not due; tuner is in %s: %s", t.st.Phase, t.hint()), nil
	}
	if err := t.sweep(ctx); err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Phase:   t.st.Phase,
		Message: "sweep finished: " + planner.ProgressOf(t.st.Plan).String(),
	}, nil
}

// Analyze runs the analyze phase alone.
func (t *Tuner) Analyze(ctx context.Context) (Outcome, error) {
	if t.st.Phase != state.PhaseAnalyze {
		return t.ignored("analyze is not due; tuner is in %s: %s", t.st.Phase, t.hint()), nil
	}
	p, err := t.analyze(ctx)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{
		Phase: t.st.Phase,
		Message: fmt.Sprintf("proposal %s with %d change(s) written to %s",
			p.ID, len(p.Changes), t.deps.Proposals.Path(t.st.PendingProposal)),
	}, nil
}
