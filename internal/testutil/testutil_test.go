package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/pedflow/internal/crowd"
	"github.com/banshee-data/pedflow/internal/layers"
)

func TestFixtureLayersRoundTrip(t *testing.T) {
	cfg := FixtureConfig(t)
	sources, err := cfg.GetLayers()
	require.NoError(t, err)

	in, err := layers.Load(sources)
	require.NoError(t, err)
	assert.Len(t, in.Obstacles, 1)
	want := FixtureInputs()
	for _, m := range crowd.Modes {
		assert.Equal(t, want.Stations[m], in.Stations[m], m.String())
	}
}

func TestFixtureCountsMatchInputs(t *testing.T) {
	in := FixtureInputs()
	box := FixtureBox(t)
	search, err := crowd.LocateGateways(in.Stations, box, in.Obstacles, crowd.DefaultParams())
	require.NoError(t, err)
	assert.Equal(t, FixtureCounts, search.Gateways.Counts())
	assert.Zero(t, search.Expansions)
}
