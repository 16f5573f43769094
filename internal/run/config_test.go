package run

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/pedflow/internal/config"
	"github.com/banshee-data/pedflow/internal/engine"
	"github.com/banshee-data/pedflow/internal/notify"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	layerDir, dataDir := t.TempDir(), t.TempDir()
	interval, timeout := "250ms", "2m"
	seed := uint64(9)
	cfg.LayerDir = &layerDir
	cfg.DataDir = &dataDir
	cfg.SampleInterval = &interval
	cfg.EngineTimeout = &timeout
	cfg.Seed = &seed
	return cfg
}

func TestFromConfigWithEngine(t *testing.T) {
	cfg := testConfig(t)
	hub := notify.NewHub(nil)
	t.Cleanup(hub.Close)

	o, err := FromConfig(context.Background(), cfg, hub, true)
	require.NoError(t, err)
	t.Cleanup(o.Close)

	assert.Equal(t, cfg.GetDataDir(), o.Writer.Dir)
	assert.Equal(t, 2*time.Minute, o.Timeout)
	assert.Equal(t, cfg.GetNetworkLayer(), o.NetworkLayer)
	assert.Equal(t, filepath.Join(cfg.GetDataDir(), cfg.GetNetworkLayer()), o.networkPath())
	require.NotNil(t, o.Seed)
	assert.Equal(t, uint64(9), *o.Seed)
	assert.Same(t, hub, o.Hub)

	r, ok := o.Engine.(*engine.Runner)
	require.True(t, ok, "engine is %T", o.Engine)
	assert.Equal(t, cfg.GetEngineCommand(), r.Command)
	assert.Equal(t, 250*time.Millisecond, r.SampleInterval)
	assert.Same(t, hub, r.Publisher)
}

func TestFromConfigPrepareOnly(t *testing.T) {
	cfg := testConfig(t)

	o, err := FromConfig(context.Background(), cfg, nil, false)
	require.NoError(t, err)
	t.Cleanup(o.Close)
	assert.Nil(t, o.Engine)
	assert.Nil(t, o.Hub)
}

func TestFromConfigRejectsInvalid(t *testing.T) {
	cfg := testConfig(t)
	peds := 0
	cfg.DefaultPedestrians = &peds
	_, err := FromConfig(context.Background(), cfg, nil, true)
	assert.Error(t, err)

	cfg = testConfig(t)
	cfg.EngineCommand = []string{}
	_, err = FromConfig(context.Background(), cfg, nil, true)
	assert.ErrorContains(t, err, "engine_command")

	cfg = testConfig(t)
	missing := filepath.Join(t.TempDir(), "missing")
	cfg.LayerDir = &missing
	_, err = FromConfig(context.Background(), cfg, nil, true)
	assert.ErrorContains(t, err, "resolve layers")
}
