package botconfig

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hailam/chesstuner/internal/elo"
)

func TestMergeKeepsOmittedSections(t *testing.T) {
	base := Default()
	temp := 0.9
	ov := Override{Selection: &SelectionOverride{Temperature: &temp}}

	got := Merge(base, ov)

	assert.Equal(t, 0.9, got.Selection.Temperature)
	assert.Equal(t, base.Selection.EvalNoise, got.Selection.EvalNoise)
	assert.Equal(t, base.Search, got.Search)
	assert.Equal(t, base.Book, got.Book)
	// base must not be mutated
	assert.Equal(t, 0.6, base.Selection.Temperature)
}

func TestMergeReplacesTablesWhole(t *testing.T) {
	table := BandTable{Beginner: 1, Intermediate: 1, Advanced: 1, Expert: 1, Master: 1}
	got := Merge(Default(), Override{Search: &SearchOverride{DepthByBand: &table}})
	assert.Equal(t, table, got.Search.DepthByBand)
	assert.Equal(t, Default().Search.CandidateCount, got.Search.CandidateCount)
}

func TestFullRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Book.MaxPly = 11
	assert.Equal(t, cfg, Merge(Config{}, Full(cfg)))
	assert.Len(t, Full(cfg).Paths(), len(Paths()))
}

func TestDecodeMergesTablesPerBand(t *testing.T) {
	base := Default()

	v, err := MistakeRateByBand.Decode([]byte(`{"expert": 0.07}`), base)
	require.NoError(t, err)
	want := base.Selection.MistakeRateByBand
	want.Expert = 0.07
	assert.Equal(t, TableValue(want), v)

	v, err = Temperature.Decode([]byte(`0.4`), base)
	require.NoError(t, err)
	assert.Equal(t, Number(0.4), v)

	_, err = Temperature.Decode([]byte(`{"beginner": 1}`), base)
	assert.Error(t, err)
	_, err = DepthByBand.Decode([]byte(`3`), base)
	assert.Error(t, err)
}

func TestDecodeOverrideSetsOnlyPresentFields(t *testing.T) {
	base := Default()
	ov, err := DecodeOverride([]byte(`{"search": {"depthByBand": {"beginner": 3}}, "book": {"maxPly": 10}}`), base)
	require.NoError(t, err)

	assert.Equal(t, []Path{DepthByBand, BookMaxPly}, ov.Paths())
	got := Merge(base, ov)
	assert.Equal(t, 3.0, got.Search.DepthByBand.Beginner)
	assert.Equal(t, base.Search.DepthByBand.Master, got.Search.DepthByBand.Master)
	assert.Equal(t, 10, got.Book.MaxPly)
	assert.Equal(t, base.Selection, got.Selection)
	assert.NoError(t, got.Validate())

	_, err = DecodeOverride([]byte(`{"search": 5}`), base)
	assert.Error(t, err)
}

func TestPathGetAndOverride(t *testing.T) {
	cfg := Default()
	for _, p := range Paths() {
		v := p.Get(cfg)
		require.NoError(t, p.Check(v), p.String())

		ov := p.Override(v)
		assert.Equal(t, []Path{p}, ov.Paths(), p.String())
		assert.True(t, p.Get(Merge(Config{}, ov)).Equal(v), p.String())
	}
}

func TestParsePath(t *testing.T) {
	for _, p := range Paths() {
		parsed, err := ParsePath(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, parsed)
	}
	_, err := ParsePath("search.quiescence")
	assert.Error(t, err)
}

func TestLayerUpperWins(t *testing.T) {
	lowCount, highCount := 3, 7
	temp := 1.1
	lower := Override{Search: &SearchOverride{CandidateCount: &lowCount}, Selection: &SelectionOverride{Temperature: &temp}}
	upper := Override{Search: &SearchOverride{CandidateCount: &highCount}}

	got := Layer(lower, upper)
	require.NotNil(t, got.Search)
	assert.Equal(t, 7, *got.Search.CandidateCount)
	require.NotNil(t, got.Selection)
	assert.Equal(t, 1.1, *got.Selection.Temperature)
	assert.Nil(t, got.Book)
}

func TestDiff(t *testing.T) {
	old := Default()
	updated := old
	updated.Book.Variety = 0.75
	updated.Selection.MistakeRateByBand.Set(elo.Master, 0.01)

	assert.Equal(t, []Path{MistakeRateByBand, BookVariety}, Diff(old, updated))
	assert.Empty(t, Diff(old, old))
}

func TestValueJSON(t *testing.T) {
	data, err := json.Marshal(Number(0.75))
	require.NoError(t, err)
	assert.Equal(t, "0.75", string(data))

	var v Value
	require.NoError(t, json.Unmarshal([]byte(`{"beginner":3,"master":14}`), &v))
	require.True(t, v.IsTable())
	assert.Equal(t, 14.0, v.Table.Get(elo.Master))

	require.NoError(t, json.Unmarshal([]byte(`250`), &v))
	assert.False(t, v.IsTable())
	assert.Equal(t, 250.0, v.Number)
}

func TestValidate(t *testing.T) {
	require.NoError(t, Default().Validate())

	bad := Default()
	bad.Search.CandidateCount = 0
	assert.Error(t, bad.Validate())

	bad = Default()
	bad.Selection.MistakeRateByBand.Set(elo.Beginner, 1.5)
	assert.Error(t, bad.Validate())
}
