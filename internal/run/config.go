package run

import (
	"context"
	"fmt"

	"github.com/banshee-data/pedflow/internal/config"
	"github.com/banshee-data/pedflow/internal/engine"
	"github.com/banshee-data/pedflow/internal/layers"
	"github.com/banshee-data/pedflow/internal/notify"
)

// FromConfig builds an orchestrator reading layers and tunables from cfg.
// The engine is attached when withEngine is set; its output goes to hub
// when hub is non-nil.
func FromConfig(ctx context.Context, cfg *config.Config, hub *notify.Hub, withEngine bool) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	sources, err := cfg.GetLayers()
	if err != nil {
		return nil, fmt.Errorf("resolve layers: %w", err)
	}

	o := New(ctx, sources, cfg.Params(), layers.NewWriter(cfg.GetDataDir(), nil))
	o.Preview = cfg.GetWritePreview()
	o.NetworkLayer = cfg.GetNetworkLayer()
	o.Timeout = cfg.GetEngineTimeout()
	o.Seed = cfg.Seed
	o.Hub = hub

	if withEngine {
		var pub engine.Publisher
		if hub != nil {
			pub = hub
		}
		r := engine.NewRunner(cfg.GetEngineCommand(), "", pub)
		r.SampleInterval = cfg.GetSampleInterval()
		o.Engine = r
	}
	return o, nil
}
