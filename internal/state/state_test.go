package state

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hailam/chesstuner/internal/botconfig"
	"github.com/hailam/chesstuner/internal/metrics"
)

func TestPhaseOrder(t *testing.T) {
	order := []Phase{PhaseIdle, PhaseGather, PhaseSweep, PhaseAnalyze, PhaseWaiting}
	for i := 0; i < len(order)-1; i++ {
		assert.Less(t, order[i], order[i+1])
		assert.Equal(t, order[i+1], order[i].Next())
	}
	assert.Equal(t, PhaseWaiting, PhaseWaiting.Next())
}

func TestAdvanceIsMonotonic(t *testing.T) {
	e := &ExperimentSpec{ID: "x"}
	require.NoError(t, e.Advance(StatusTriage))
	require.NoError(t, e.Advance(StatusPromoted))
	assert.Error(t, e.Advance(StatusPending))
	require.NoError(t, e.Advance(StatusRunning))
	require.NoError(t, e.Advance(StatusComplete))
	assert.Error(t, e.Advance(StatusSkipped))

	s := &ExperimentSpec{ID: "y", Status: StatusTriage}
	require.NoError(t, s.Advance(StatusSkipped))
	assert.Error(t, s.Advance(StatusRunning))
}

func TestDatasetFreshness(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	ref := DatasetRef{FetchedAt: now.Add(-6 * 24 * time.Hour)}
	assert.True(t, ref.Fresh(now))
	ref.FetchedAt = now.Add(-7 * 24 * time.Hour)
	assert.False(t, ref.Fresh(now))
}

func TestSanitizeRestoresMissingAndDefaults(t *testing.T) {
	snap := BaselineSnapshot{
		Score: 0.5,
		Aggregate: metrics.Metrics{Measures: metrics.Measures{
			TotalPositions: 10, MatchRate: 0.4,
			SyntheticCPL: metrics.Missing(), ActualCPL: metrics.Missing(), CPLDelta: metrics.Missing(),
		}},
	}
	st := New(botconfig.Default())
	st.Phase = PhaseAnalyze
	st.History = append(st.History, CycleRecord{Cycle: 1, Baseline: snap})

	data, err := json.Marshal(st)
	require.NoError(t, err)

	var back TunerState
	require.NoError(t, json.Unmarshal(data, &back))
	back.BestConfig.Search.CandidateCount = 0
	back.Players = nil
	Sanitize(&back, botconfig.Default())

	assert.Equal(t, PhaseAnalyze, back.Phase)
	assert.NotNil(t, back.Players)
	assert.Equal(t, botconfig.Default(), back.BestConfig)
	agg := back.History[0].Baseline.Aggregate
	assert.True(t, metrics.IsMissing(agg.CPLDelta))
	assert.InDelta(t, 0.4, agg.MatchRate, 1e-12)
}

func TestSanitizeWaitingWithoutProposal(t *testing.T) {
	st := New(botconfig.Default())
	st.Phase = PhaseWaiting
	Sanitize(st, botconfig.Default())
	assert.Equal(t, PhaseAnalyze, st.Phase)
}

func TestLastBaselineSkipsEmpty(t *testing.T) {
	st := New(botconfig.Default())
	valid := BaselineSnapshot{Aggregate: metrics.Metrics{Measures: metrics.Measures{TotalPositions: 5}}}
	st.History = []CycleRecord{{Cycle: 1, Baseline: valid}, {Cycle: 2}}

	rec, ok := st.LastBaseline()
	require.True(t, ok)
	assert.Equal(t, 1, rec.Cycle)
}
