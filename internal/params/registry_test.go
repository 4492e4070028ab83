package params

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hailam/chesstuner/internal/botconfig"
	"github.com/hailam/chesstuner/internal/elo"
)

func TestRegistryCoversEveryPathOnce(t *testing.T) {
	seen := map[botconfig.Path]bool{}
	prev := 0
	for _, p := range Registry() {
		assert.False(t, seen[p.Path], "duplicate %s", p.Path)
		seen[p.Path] = true
		assert.Greater(t, p.Priority, prev)
		prev = p.Priority
	}
	assert.Len(t, seen, len(botconfig.Paths()))
}

func TestAllVariantsPriorityAndCap(t *testing.T) {
	cfg := botconfig.Default()

	all := AllVariants(cfg, 0)
	require.NotEmpty(t, all)
	assert.Equal(t, botconfig.DepthByBand, all[0].Path)

	capped := AllVariants(cfg, 12)
	require.Len(t, capped, 12)
	assert.Equal(t, all[:12], capped)

	// the first ten variants are the depth table tiers; the next come from temperature
	assert.Equal(t, botconfig.DepthByBand, capped[9].Path)
	assert.Equal(t, botconfig.Temperature, capped[10].Path)

	for _, v := range all {
		assert.Equal(t, []botconfig.Path{v.Path}, v.Override.Paths(), v.Description)
		assert.False(t, v.Value.Equal(v.Path.Get(cfg)), v.Description)
	}
}

func TestScale(t *testing.T) {
	got := Scale(0.5, 1.5)(botconfig.Number(0.6))
	require.Len(t, got, 2)
	assert.Equal(t, "x0.5", got[0].Label)
	assert.Equal(t, 0.3, got[0].Value.Number)
	assert.Equal(t, 0.9, got[1].Value.Number)
}

func TestAdditiveClamps(t *testing.T) {
	got := Additive(50, 600, 25, 50)(botconfig.Number(60))

	values := make([]float64, 0, len(got))
	for _, c := range got {
		values = append(values, c.Value.Number)
	}
	// 60-25 and 60-50 both clamp to 50 and collapse into one candidate
	assert.Equal(t, []float64{50, 85, 110}, values)
}

func TestStepBounds(t *testing.T) {
	got := Step(1, 8)(botconfig.Number(1))
	require.Len(t, got, 1)
	assert.Equal(t, "+1", got[0].Label)
	assert.Equal(t, 2.0, got[0].Value.Number)

	assert.Len(t, Step(0, 24)(botconfig.Number(10)), 2)
}

func TestTierOffsetsTouchOneBand(t *testing.T) {
	table := botconfig.BandTable{Beginner: 0.01, Intermediate: 0.1, Advanced: 0.1, Expert: 0.1, Master: 0.1}
	got := TierOffsets(0, 1, 0.02)(botconfig.TableValue(table))

	for _, c := range got {
		require.True(t, c.Value.IsTable())
		changed := 0
		for _, b := range elo.All() {
			if c.Value.Table.Get(b) != table.Get(b) {
				changed++
			}
		}
		assert.Equal(t, 1, changed, c.Label)
	}
	assert.Equal(t, "beginner-0.02", got[0].Label)
	assert.Equal(t, 0.0, got[0].Value.Table.Beginner)

	assert.Nil(t, TierOffsets(0, 1, 0.02)(botconfig.Number(3)))
}

func TestLookup(t *testing.T) {
	p, ok := Lookup(botconfig.BlunderThreshold)
	require.True(t, ok)
	assert.Equal(t, 3, p.Priority)
}
