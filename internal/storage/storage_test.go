package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hailam/chesstuner/internal/botconfig"
	"github.com/hailam/chesstuner/internal/metrics"
	"github.com/hailam/chesstuner/internal/state"
)

func openTest(t *testing.T) *Storage {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestLoadStateEmpty(t *testing.T) {
	s := openTest(t)
	_, err := s.LoadState()
	assert.ErrorIs(t, err, state.ErrNoState)

	_, err = s.LoadSweep(1)
	assert.ErrorIs(t, err, state.ErrNoSweep)
}

func TestStateRoundTrip(t *testing.T) {
	s := openTest(t)

	best := botconfig.Default()
	best.Selection.Temperature = 0.45
	st := state.New(best)
	st.Cycle = 4
	st.Phase = state.PhaseSweep
	st.History = append(st.History, state.CycleRecord{
		Cycle: 3,
		Baseline: state.BaselineSnapshot{
			Score: 0.61,
			Aggregate: metrics.Metrics{Measures: metrics.Measures{
				TotalPositions: 120, MatchRate: 0.5,
				SyntheticCPL: metrics.Missing(), ActualCPL: 35, CPLDelta: metrics.Missing(),
			}},
		},
	})

	require.NoError(t, s.SaveState(st))

	back, err := s.LoadState()
	require.NoError(t, err)
	state.Sanitize(back, botconfig.Default())

	assert.Equal(t, state.PhaseSweep, back.Phase)
	assert.Equal(t, 4, back.Cycle)
	assert.Equal(t, best, back.BestConfig)
	agg := back.History[0].Baseline.Aggregate
	assert.True(t, metrics.IsMissing(agg.SyntheticCPL))
	assert.True(t, metrics.IsMissing(agg.CPLDelta))
	assert.Equal(t, 35.0, agg.ActualCPL)
	// arithmetic on a restored missing field must not produce a number
	assert.True(t, metrics.IsMissing(agg.Gap()))
}

func TestSweepRoundTrip(t *testing.T) {
	s := openTest(t)

	r := state.NewSweepResults(2)
	r.TriageBaseline = metrics.NewBaseline(metrics.ModeTriage, map[string]metrics.Metrics{
		"alice": {Measures: metrics.Measures{TotalPositions: 50, MatchRate: 0.4, SyntheticCPL: metrics.Missing(), ActualCPL: metrics.Missing(), CPLDelta: metrics.Missing()}},
	})
	r.Triage["c2-01"] = metrics.AggregatedResult{ExperimentID: "c2-01", Path: botconfig.Temperature, ScoreDelta: 0.01}
	require.NoError(t, s.SaveSweep(r))
	require.NoError(t, s.SaveSweep(state.NewSweepResults(3)))

	back, err := s.LoadSweep(2)
	require.NoError(t, err)
	require.NotNil(t, back.TriageBaseline)
	assert.True(t, metrics.IsMissing(back.TriageBaseline.PerDataset["alice"].CPLDelta))
	assert.Equal(t, botconfig.Temperature, back.Triage["c2-01"].Path)
	assert.NotNil(t, back.Full)
}

func TestCorruptStateIsReported(t *testing.T) {
	s := openTest(t)
	require.NoError(t, s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyTunerState), []byte("{not json"))
	}))

	_, err := s.LoadState()
	require.Error(t, err)
	assert.True(t, errors.Is(err, state.ErrCorrupt))
}

func TestNewLayout(t *testing.T) {
	root := filepath.Join(t.TempDir(), "data")
	l, err := NewLayout(root)
	require.NoError(t, err)

	for _, dir := range []string{l.Database, l.Datasets, l.Proposals} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestGetDataDirHonoursEnv(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tuner")
	t.Setenv(DataDirEnv, dir)

	got, err := GetDataDir()
	require.NoError(t, err)
	assert.Equal(t, dir, got)
	assert.DirExists(t, dir)
}

func TestDataHome(t *testing.T) {
	home := func() (string, error) { return "/home/ann", nil }
	env := map[string]string{}
	getenv := func(k string) string { return env[k] }

	for goos, want := range map[string]string{
		"linux":   filepath.Join("/home/ann", ".local", "share"),
		"darwin":  filepath.Join("/home/ann", "Library", "Application Support"),
		"windows": filepath.Join("/home/ann", "AppData", "Roaming"),
	} {
		got, err := dataHome(goos, getenv, home)
		require.NoError(t, err, goos)
		assert.Equal(t, want, got, goos)
	}

	env["XDG_DATA_HOME"] = "/xdg"
	env["APPDATA"] = "/appdata"
	got, _ := dataHome("linux", getenv, home)
	assert.Equal(t, "/xdg", got)
	got, _ = dataHome("windows", getenv, home)
	assert.Equal(t, "/appdata", got)
	got, _ = dataHome("darwin", getenv, home)
	assert.Equal(t, filepath.Join("/home/ann", "Library", "Application Support"), got, "macOS ignores XDG")

	_, err := dataHome("linux", func(string) string { return "" }, func() (string, error) { return "", errors.New("no home") })
	assert.Error(t, err)
}
