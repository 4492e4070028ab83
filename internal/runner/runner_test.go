package runner

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hailam/chesstuner/internal/botconfig"
	"github.com/hailam/chesstuner/internal/elo"
	"github.com/hailam/chesstuner/internal/metrics"
	"github.com/hailam/chesstuner/internal/state"
)

func TestMain(m *testing.M) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") == "1" {
		helperProcess()
		os.Exit(0)
	}
	goleak.VerifyTestMain(m)
}

// helperProcess plays the accuracy tester. The match rate it reports is
// derived from the candidate count so tests can see which config arrived.
func helperProcess() {
	in := bufio.NewScanner(os.Stdin)
	out := json.NewEncoder(os.Stdout)
	for in.Scan() {
		var c command
		if err := json.Unmarshal(in.Bytes(), &c); err != nil {
			_ = out.Encode(response{Error: err.Error()})
			continue
		}
		switch c.Op {
		case "ready":
			_ = out.Encode(response{OK: true})
		case "quit":
			return
		case "run":
			switch c.Dataset {
			case "broken":
				_ = out.Encode(response{Error: "dataset unreadable"})
				continue
			case "hang":
				time.Sleep(time.Minute)
			}
			m := metrics.Metrics{Measures: metrics.Measures{
				TotalPositions: 100,
				MatchRate:      float64(c.Request.Config.Search.CandidateCount) / 10,
				TopNRate:       0.8,
				BookCoverage:   0.5,
				SyntheticCPL:   metrics.Missing(),
				ActualCPL:      metrics.Missing(),
				CPLDelta:       metrics.Missing(),
			}}
			if !c.Request.FastMode {
				m.SyntheticCPL, m.ActualCPL, m.CPLDelta = 40, 45, 12
			}
			_ = out.Encode(response{OK: true, Metrics: &m})
		}
	}
}

func helperFactory() *ProcessFactory {
	return &ProcessFactory{
		Command: os.Args[0],
		Args:    []string{"-test.run=^$"},
		Env:     append(os.Environ(), "GO_WANT_HELPER_PROCESS=1"),
	}
}

func TestTriageOverrideCapsOnlyAboveCap(t *testing.T) {
	base := botconfig.Default()
	base.Search.DepthByBand.Beginner = 1
	ov := TriageOverride(base)

	require.NotNil(t, ov.Search)
	assert.Equal(t, botconfig.BandTable{Beginner: 1, Intermediate: 3, Advanced: 4, Expert: 5, Master: 6}, *ov.Search.DepthByBand)
	assert.Equal(t, 3, *ov.Search.CandidateCount)
	assert.Nil(t, ov.Selection)
}

type recordingTester struct {
	requests []Request
	datasets []string
	fail     map[string]error
}

func (r *recordingTester) Run(_ context.Context, dataset string, req Request) (metrics.Metrics, error) {
	r.requests = append(r.requests, req)
	r.datasets = append(r.datasets, dataset)
	if err := r.fail[dataset]; err != nil {
		return metrics.Metrics{}, err
	}
	return metrics.Metrics{Measures: metrics.Measures{
		TotalPositions: 50, MatchRate: 0.4, TopNRate: 0.7, BookCoverage: 0.2,
		SyntheticCPL: 30, ActualCPL: 35, CPLDelta: 10,
	}}, nil
}

func (r *recordingTester) Close() error { return nil }

func datasets(names ...string) []state.DatasetRef {
	out := make([]state.DatasetRef, len(names))
	for i, n := range names {
		out[i] = state.DatasetRef{Name: n, Handle: "/data/" + n, Band: elo.Intermediate, Elo: 1400 + i}
	}
	return out
}

func TestTriageExperimentKeepsItsOwnDepth(t *testing.T) {
	tester := &recordingTester{}
	r := New(tester, Options{FullPositions: 500})
	base := botconfig.Default()

	depth := base.Search.DepthByBand
	depth.Master = 14
	spec := &state.ExperimentSpec{
		ID:          "c1-01-depth",
		Override:    botconfig.DepthByBand.Override(botconfig.TableValue(depth)),
		Seed:        99,
		PositionCap: 40,
	}

	_, err := r.Experiment(context.Background(), base, spec, datasets("a"), metrics.ModeTriage)
	require.NoError(t, err)
	req := tester.requests[0]
	assert.True(t, req.FastMode)
	assert.Equal(t, 40, req.PositionCap)
	assert.Equal(t, int64(99), req.Seed)
	assert.Equal(t, 14.0, req.Config.Search.DepthByBand.Master, "depth under test is not masked by the cap")
	assert.Equal(t, 3, req.Config.Search.CandidateCount, "untested field is capped")

	_, err = r.Experiment(context.Background(), base, spec, datasets("a"), metrics.ModeFull)
	require.NoError(t, err)
	req = tester.requests[1]
	assert.False(t, req.FastMode)
	assert.Equal(t, 500, req.PositionCap)
	assert.Equal(t, base.Search.CandidateCount, req.Config.Search.CandidateCount)
}

func TestTriageBaselineUsesSameCaps(t *testing.T) {
	tester := &recordingTester{}
	r := New(tester, Options{})
	base := botconfig.Default()

	_, err := r.Baseline(context.Background(), base, "baseline-c1", datasets("a"), metrics.ModeTriage, 5, 40)
	require.NoError(t, err)
	req := tester.requests[0]
	assert.Equal(t, botconfig.Merge(base, TriageOverride(base)), req.Config)
	assert.Equal(t, "baseline-c1", req.Label)
}

func TestRunSkipsFailedDatasets(t *testing.T) {
	tester := &recordingTester{fail: map[string]error{"/data/b": errors.New("engine crashed")}}
	r := New(tester, Options{})

	per, err := r.Baseline(context.Background(), botconfig.Default(), "base", datasets("a", "b", "c"), metrics.ModeFull, 1, 0)
	require.NoError(t, err)
	assert.Len(t, per, 2)
	assert.Contains(t, per, "a")
	assert.Contains(t, per, "c")
	assert.Equal(t, []string{"/data/a", "/data/b", "/data/c"}, tester.datasets)

	tester.fail["/data/a"] = errors.New("x")
	tester.fail["/data/c"] = errors.New("y")
	_, err = r.Baseline(context.Background(), botconfig.Default(), "base", datasets("a", "b", "c"), metrics.ModeFull, 1, 0)
	assert.ErrorIs(t, err, ErrNoResults)
}

func TestRunStopsOnCancel(t *testing.T) {
	tester := &recordingTester{}
	r := New(tester, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Baseline(ctx, botconfig.Default(), "base", datasets("a"), metrics.ModeFull, 1, 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, tester.requests)
}

func TestProcessTester(t *testing.T) {
	tester, err := helperFactory().Open(context.Background())
	require.NoError(t, err)

	base := botconfig.Default()
	r := New(tester, Options{})

	per, err := r.Baseline(context.Background(), base, "base", []state.DatasetRef{
		{Name: "a", Handle: "a"},
		{Name: "broken", Handle: "broken"},
	}, metrics.ModeTriage, 1, 10)
	require.NoError(t, err)
	require.Len(t, per, 1)
	assert.InDelta(t, 0.3, per["a"].MatchRate, 1e-9)
	assert.True(t, metrics.IsMissing(per["a"].CPLDelta), "fast mode leaves error data missing")

	per, err = r.Baseline(context.Background(), base, "base", []state.DatasetRef{{Name: "a", Handle: "a"}}, metrics.ModeFull, 1, 10)
	require.NoError(t, err)
	assert.InDelta(t, float64(base.Search.CandidateCount)/10, per["a"].MatchRate, 1e-9)
	assert.Equal(t, 12.0, per["a"].CPLDelta)

	require.NoError(t, tester.Close())
	_, err = tester.Run(context.Background(), "a", Request{})
	assert.Error(t, err)
}

func TestProcessTesterCancel(t *testing.T) {
	tester, err := helperFactory().Open(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err = tester.Run(ctx, "hang", Request{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NoError(t, tester.Close())
}

func TestProcessFactoryBadCommand(t *testing.T) {
	_, err := (&ProcessFactory{}).Open(context.Background())
	assert.Error(t, err)

	_, err = (&ProcessFactory{Command: fmt.Sprintf("/nonexistent/%d", time.Now().UnixNano())}).Open(context.Background())
	assert.Error(t, err)
}
