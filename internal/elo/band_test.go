package elo

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	bands := DefaultBands()

	tests := []struct {
		rating int
		want   Band
	}{
		{800, Beginner},
		{1199, Beginner},
		{1200, Intermediate},
		{1850, Advanced},
		{2100, Expert},
		{2650, Master},
	}
	for _, tt := range tests {
		got, ok := Classify(bands, tt.rating)
		require.True(t, ok, "rating %d", tt.rating)
		assert.Equal(t, tt.want, got, "rating %d", tt.rating)
	}

	_, ok := Classify(bands, 4000)
	assert.False(t, ok)
}

func TestBandText(t *testing.T) {
	data, err := json.Marshal(map[string]Band{"b": Expert})
	require.NoError(t, err)
	assert.JSONEq(t, `{"b":"expert"}`, string(data))

	var decoded map[string]Band
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, Expert, decoded["b"])

	_, err = ParseBand("grandmaster")
	assert.Error(t, err)
}
