package tuner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hailam/chesstuner/internal/botconfig"
	"github.com/hailam/chesstuner/internal/elo"
	"github.com/hailam/chesstuner/internal/metrics"
	"github.com/hailam/chesstuner/internal/planner"
	"github.com/hailam/chesstuner/internal/pool"
	"github.com/hailam/chesstuner/internal/proposal"
	"github.com/hailam/chesstuner/internal/runner"
	"github.com/hailam/chesstuner/internal/state"
)

// memStore round-trips through JSON like the badger store does.
type memStore struct {
	tuner   []byte
	sweeps  map[int][]byte
	corrupt bool
	saves   int
}

func newMemStore() *memStore {
	return &memStore{sweeps: map[int][]byte{}}
}

func (m *memStore) LoadState() (*state.TunerState, error) {
	if m.corrupt {
		return nil, fmt.Errorf("%w: tuner_state: unexpected end of JSON input", state.ErrCorrupt)
	}
	if m.tuner == nil {
		return nil, state.ErrNoState
	}
	var st state.TunerState
	if err := json.Unmarshal(m.tuner, &st); err != nil {
		return nil, fmt.Errorf("%w: %v", state.ErrCorrupt, err)
	}
	return &st, nil
}

func (m *memStore) SaveState(st *state.TunerState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	m.tuner = data
	m.saves++
	return nil
}

func (m *memStore) LoadSweep(cycle int) (*state.SweepResults, error) {
	data, ok := m.sweeps[cycle]
	if !ok {
		return nil, state.ErrNoSweep
	}
	var r state.SweepResults
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	state.SanitizeSweep(&r)
	return &r, nil
}

func (m *memStore) SaveSweep(r *state.SweepResults) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	m.sweeps[r.Cycle] = data
	return nil
}

type fakeGatherer struct {
	calls int
}

func (g *fakeGatherer) Gather(_ context.Context, st *state.TunerState, save pool.Checkpoint) (pool.Report, error) {
	g.calls++
	players := []struct {
		name string
		band elo.Band
		elo  int
	}{
		{"ann", elo.Beginner, 900},
		{"ben", elo.Intermediate, 1400},
		{"cat", elo.Advanced, 1800},
		{"dan", elo.Expert, 2200},
	}
	now := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	for _, p := range players {
		if _, ok := st.Player(p.name); ok {
			continue
		}
		st.Players = append(st.Players, state.PlayerEntry{Username: p.name, Band: p.band, Elo: p.elo, Source: state.SourceSeed, AddedAt: now})
		st.Datasets = append(st.Datasets, state.DatasetRef{Name: p.name, Username: p.name, Band: p.band, Elo: p.elo, Games: 50, Handle: "h-" + p.name, FetchedAt: now})
		if err := save(); err != nil {
			return pool.Report{}, err
		}
	}
	return pool.Report{Fetched: len(players)}, nil
}

// fakeTester rewards lower temperatures unless flat is set. With cancel set,
// it cancels the sweep once failAfter runs have been served.
type fakeTester struct {
	flat      bool
	failAfter int
	cancel    context.CancelFunc
	runs      int
	labels    []string
	closed    bool
}

func (f *fakeTester) Run(ctx context.Context, dataset string, req runner.Request) (metrics.Metrics, error) {
	if f.cancel != nil && f.runs >= f.failAfter {
		f.cancel()
		return metrics.Metrics{}, ctx.Err()
	}
	f.runs++
	f.labels = append(f.labels, req.Label)

	match := 0.5
	if !f.flat {
		match += (0.6 - req.Config.Selection.Temperature) * 0.2
	}
	m := metrics.Metrics{Measures: metrics.Measures{
		TotalPositions: 100,
		MatchRate:      match,
		TopNRate:       0.7,
		BookCoverage:   0.4,
		SyntheticCPL:   40,
		ActualCPL:      42,
		CPLDelta:       12,
	}}
	if req.FastMode {
		m.SyntheticCPL, m.ActualCPL, m.CPLDelta = metrics.Missing(), metrics.Missing(), metrics.Missing()
	}
	return m, nil
}

func (f *fakeTester) Close() error {
	f.closed = true
	return nil
}

type fakeFactory struct {
	tester *fakeTester
	opened int
}

func (f *fakeFactory) Open(context.Context) (runner.Tester, error) {
	f.opened++
	return f.tester, nil
}

type fixture struct {
	store     *memStore
	gatherer  *fakeGatherer
	factory   *fakeFactory
	proposals *proposal.Store
}

func newFixture(t *testing.T, tester *fakeTester) *fixture {
	t.Helper()
	return &fixture{
		store:     newMemStore(),
		gatherer:  &fakeGatherer{},
		factory:   &fakeFactory{tester: tester},
		proposals: proposal.NewStore(t.TempDir()),
	}
}

func (f *fixture) tuner(t *testing.T) *Tuner {
	t.Helper()
	tu, err := New(Deps{
		Store:     f.store,
		Pool:      f.gatherer,
		Testers:   f.factory,
		Synth:     proposal.NewSynthesizer(nil, f.proposals, nil, nil),
		Proposals: f.proposals,
	}, Options{
		Initial: botconfig.Default(),
		// ten depth variants come first, then the four temperature ones
		Planner:    planner.Options{MaxExperiments: 14, TriagePositions: 40, BaseSeed: 100},
		PromoteTop: 3,
	})
	require.NoError(t, err)
	return tu
}

func count(labels []string, prefix string) int {
	n := 0
	for _, l := range labels {
		if strings.HasPrefix(l, prefix) {
			n++
		}
	}
	return n
}

func TestFullCycleAccept(t *testing.T) {
	tester := &fakeTester{}
	f := newFixture(t, tester)
	tu := f.tuner(t)

	out, err := tu.Start(context.Background())
	require.NoError(t, err)
	assert.False(t, out.Ignored)
	assert.Equal(t, state.PhaseWaiting, out.Phase)
	assert.Equal(t, 1, f.factory.opened, "one tester per sweep")
	assert.True(t, tester.closed)

	st := tu.State()
	require.NotNil(t, st.Plan)
	assert.Equal(t, state.PlanComplete, st.Plan.Status)
	progress := planner.ProgressOf(st.Plan)
	assert.Equal(t, 14, progress.Total)
	assert.Equal(t, 3, progress.Complete)
	assert.Equal(t, 11, progress.Skipped)
	assert.Equal(t, "cycle-0001", st.PendingProposal)

	// 3 triage datasets for the baseline and every experiment, then 4 full
	// datasets for the baseline and the promoted three.
	assert.Len(t, tester.labels, 3+14*3+4+3*4)

	p, err := f.proposals.Load(st.PendingProposal)
	require.NoError(t, err)
	assert.False(t, p.AdvisoryUsed)
	require.Len(t, p.Changes, 2)
	assert.Equal(t, botconfig.Temperature, p.Changes[0].Path)
	assert.InDelta(t, 0.3, p.Changes[0].NewValue.Number, 1e-9)
	assert.Equal(t, 14, p.ExperimentsRun)

	out, err = tu.Accept(context.Background())
	require.NoError(t, err)
	assert.False(t, out.Ignored)

	st = tu.State()
	assert.Equal(t, 2, st.Cycle)
	assert.Equal(t, state.PhaseIdle, st.Phase)
	assert.Nil(t, st.Plan)
	assert.Empty(t, st.PendingProposal)
	assert.InDelta(t, 0.3, st.BestConfig.Selection.Temperature, 1e-9)
	assert.Equal(t, botconfig.Default().Search, st.BestConfig.Search, "sections the proposal omits are kept")

	require.Len(t, st.AuditLog, 1)
	entry := st.AuditLog[0]
	assert.Equal(t, 1, entry.Cycle)
	assert.Equal(t, botconfig.Temperature, entry.Change.Path)
	assert.Equal(t, 0.6, entry.Change.OldValue.Number)
	assert.Equal(t, p.Changes[0].ScoreDelta, entry.Change.ScoreDelta, "delta of the applied value, not of another candidate")

	require.Len(t, st.History, 1)
	rec := st.History[0]
	assert.True(t, rec.Accepted)
	assert.Equal(t, 1, rec.Cycle)
	assert.Len(t, rec.Changes, 1)
	assert.True(t, rec.Baseline.Valid())
	assert.Equal(t, []string{"ann", "ben", "cat", "dan"}, rec.Datasets)
	assert.Equal(t, p.ID, rec.ProposalID)

	reloaded := f.tuner(t)
	assert.Equal(t, st.Cycle, reloaded.State().Cycle)
	assert.Equal(t, st.Phase, reloaded.State().Phase)
	assert.Equal(t, st.BestConfig, reloaded.State().BestConfig)
}

func TestAcceptWithoutChanges(t *testing.T) {
	f := newFixture(t, &fakeTester{flat: true})
	tu := f.tuner(t)

	_, err := tu.Start(context.Background())
	require.NoError(t, err)
	_, err = tu.Accept(context.Background())
	require.NoError(t, err)

	st := tu.State()
	assert.Equal(t, 2, st.Cycle)
	assert.Equal(t, botconfig.Default(), st.BestConfig)
	assert.Empty(t, st.AuditLog)
	require.Len(t, st.History, 1)
	assert.True(t, st.History[0].Accepted)
	assert.NotNil(t, st.History[0].Changes)
	assert.Empty(t, st.History[0].Changes)
}

func TestRejectArchivesProposal(t *testing.T) {
	f := newFixture(t, &fakeTester{})
	tu := f.tuner(t)

	_, err := tu.Start(context.Background())
	require.NoError(t, err)
	name := tu.State().PendingProposal

	out, err := tu.Reject(context.Background())
	require.NoError(t, err)
	assert.False(t, out.Ignored)

	assert.NoDirExists(t, f.proposals.Path(name))
	assert.DirExists(t, f.proposals.Path("rejected-"+name))

	st := tu.State()
	assert.Equal(t, 2, st.Cycle)
	assert.Equal(t, state.PhaseIdle, st.Phase)
	assert.Equal(t, botconfig.Default(), st.BestConfig)
	require.Len(t, st.History, 1)
	assert.False(t, st.History[0].Accepted)
	assert.Empty(t, st.History[0].Changes)
	assert.Empty(t, st.AuditLog)
}

func TestGateCommandsOutsideTheirPhase(t *testing.T) {
	f := newFixture(t, &fakeTester{})
	tu := f.tuner(t)
	ctx := context.Background()

	for name, cmd := range map[string]func(context.Context) (Outcome, error){
		"accept":  tu.Accept,
		"reject":  tu.Reject,
		"sweep":   tu.Sweep,
		"analyze": tu.Analyze,
	} {
		out, err := cmd(ctx)
		require.NoError(t, err, name)
		assert.True(t, out.Ignored, name)
		assert.Contains(t, out.Message, "chesstuner gather", name)
		assert.Equal(t, state.PhaseIdle, out.Phase, name)
	}
	assert.Equal(t, 1, tu.State().Cycle)
	assert.Zero(t, f.store.saves, "ignored commands change nothing")

	_, err := tu.Start(ctx)
	require.NoError(t, err)
	out, err := tu.Start(ctx)
	require.NoError(t, err)
	assert.True(t, out.Ignored)
	assert.Contains(t, out.Message, "chesstuner accept")
	out, err = tu.Gather(ctx)
	require.NoError(t, err)
	assert.True(t, out.Ignored)
}

func TestPhasesOneAtATime(t *testing.T) {
	f := newFixture(t, &fakeTester{})
	tu := f.tuner(t)
	ctx := context.Background()

	out, err := tu.Gather(ctx)
	require.NoError(t, err)
	assert.Equal(t, state.PhaseSweep, out.Phase)
	assert.Contains(t, out.Message, "4 players")

	out, err = tu.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, state.PhaseAnalyze, out.Phase)

	out, err = tu.Analyze(ctx)
	require.NoError(t, err)
	assert.Equal(t, state.PhaseWaiting, out.Phase)

	s := tu.Status()
	assert.Equal(t, 1, s.Cycle)
	assert.Equal(t, 4, s.Datasets)
	assert.Equal(t, 1, s.PlayersByBand[elo.Expert])
	require.NotNil(t, s.Plan)
	assert.Equal(t, 14, s.Plan.Done())
	assert.Equal(t, f.proposals.Path("cycle-0001"), s.ProposalDir)
}

func TestSweepResumesAfterInterruption(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	first := &fakeTester{cancel: cancel, failAfter: 3 + 2*3 + 1}
	f := newFixture(t, first)

	_, err := f.tuner(t).Start(ctx)
	require.ErrorIs(t, err, context.Canceled)

	tu := f.tuner(t)
	st := tu.State()
	assert.Equal(t, state.PhaseSweep, st.Phase)
	require.NotNil(t, st.Plan)
	exps := st.Plan.Experiments
	require.NotNil(t, exps[0].TriageScore)
	require.NotNil(t, exps[1].TriageScore)
	assert.Equal(t, state.StatusTriage, exps[2].Status)
	assert.Nil(t, exps[2].TriageScore, "the interrupted run is not recorded")

	second := &fakeTester{}
	f.factory.tester = second
	_, err = tu.Start(context.Background())
	require.NoError(t, err)

	assert.Zero(t, count(second.labels, exps[0].ID))
	assert.Zero(t, count(second.labels, exps[1].ID))
	assert.Equal(t, 3, count(second.labels, exps[2].ID))
	assert.Equal(t, 4, count(second.labels, st.Plan.BaselineLabel), "only the full baseline is left to measure")
	assert.Equal(t, 1, f.gatherer.calls, "gather is not repeated")
	assert.Equal(t, state.PhaseWaiting, tu.State().Phase)
}

func TestStartDiscardsStalePlan(t *testing.T) {
	f := newFixture(t, &fakeTester{})
	tu := f.tuner(t)

	stale := planner.Build(1, botconfig.Default(), nil, planner.Options{MaxExperiments: 2}, time.Now())
	tu.st.Plan = stale
	require.NoError(t, tu.checkpoint())

	_, err := tu.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, state.PlanDiscarded, stale.Status)
	assert.NotSame(t, stale, tu.State().Plan)
	assert.Len(t, tu.State().Plan.Experiments, 14)
}

func TestCorruptStateStartsFresh(t *testing.T) {
	f := newFixture(t, &fakeTester{})
	f.store.corrupt = true

	tu := f.tuner(t)
	assert.Equal(t, 1, tu.State().Cycle)
	assert.Equal(t, state.PhaseIdle, tu.State().Phase)
	assert.Equal(t, botconfig.Default(), tu.State().BestConfig)
}
