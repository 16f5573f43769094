// Package config loads the service configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/pedflow/internal/crowd"
	"github.com/banshee-data/pedflow/internal/geo"
	"github.com/banshee-data/pedflow/internal/layers"
	"github.com/banshee-data/pedflow/internal/reproject"
)

// DefaultConfigPath is the canonical defaults file.
const DefaultConfigPath = "config/pedflow.defaults.json"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Config is the root configuration. Every field is optional; the Get*
// methods fall back to the built-in defaults for nil fields, so partial
// files are safe.
type Config struct {
	// Trigger defaults
	DefaultExtent      []float64 `json:"default_extent,omitempty"` // [minx, miny, maxx, maxy]
	DefaultPedestrians *int      `json:"default_pedestrians,omitempty"`
	SourceCRS          *string   `json:"source_crs,omitempty"`
	WorkingCRS         *string   `json:"working_crs,omitempty"`

	// Input layers and outputs
	LayerDir     *string         `json:"layer_dir,omitempty"`
	Layers       *layers.Sources `json:"layers,omitempty"`
	DataDir      *string         `json:"data_dir,omitempty"`
	WritePreview *bool           `json:"write_preview,omitempty"`

	// Engine
	EngineCommand  []string `json:"engine_command,omitempty"`
	NetworkLayer   *string  `json:"network_layer,omitempty"`
	SampleInterval *string  `json:"sample_interval,omitempty"` // duration string like "250ms"
	EngineTimeout  *string  `json:"engine_timeout,omitempty"`  // empty means no limit

	// Preparation tunables
	RegionBuffer        *float64 `json:"region_buffer,omitempty"`
	ExpansionStep       *float64 `json:"expansion_step,omitempty"`
	MinGateways         *int     `json:"min_gateways,omitempty"`
	MaxExpansions       *int     `json:"max_expansions,omitempty"`
	JitterSide          *float64 `json:"jitter_side,omitempty"`
	MinSeparation       *float64 `json:"min_separation,omitempty"`
	MaxResampleAttempts *int     `json:"max_resample_attempts,omitempty"`
	WaypointCount       *int     `json:"waypoint_count,omitempty"`
	MentalModel         *string  `json:"mental_model,omitempty"`
	GatewayExhaustion   *string  `json:"gateway_exhaustion,omitempty"`
	PlacementExhaustion *string  `json:"placement_exhaustion,omitempty"`

	// Seed fixes the random source of every run; nil draws a fresh seed.
	Seed *uint64 `json:"seed,omitempty"`
}

// Built-in defaults.
var (
	defaultExtent        = [4]float64{565900.000, 5933766.750, 566173.405, 5933998.937}
	defaultEngineCommand = []string{"java", "-jar", "abpedsim.jar"}
)

const (
	defaultPedestrians    = 30
	defaultNetworkLayer   = "networkForGraphN.shp"
	defaultSampleInterval = 250 * time.Millisecond
	defaultDataDir        = "data"
)

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyConfig returns a Config with all fields unset.
func EmptyConfig() *Config {
	return &Config{}
}

// DefaultConfig returns a Config with every field populated from the
// built-in defaults.
func DefaultConfig() *Config {
	p := crowd.DefaultParams()
	sources := layers.DefaultSources()
	return &Config{
		DefaultExtent:       defaultExtent[:],
		DefaultPedestrians:  ptrInt(defaultPedestrians),
		SourceCRS:           ptrString(reproject.WebMercator),
		WorkingCRS:          ptrString(reproject.UTM32N),
		LayerDir:            ptrString(defaultDataDir),
		Layers:              &sources,
		DataDir:             ptrString(defaultDataDir),
		WritePreview:        ptrBool(true),
		EngineCommand:       append([]string(nil), defaultEngineCommand...),
		NetworkLayer:        ptrString(defaultNetworkLayer),
		SampleInterval:      ptrString(defaultSampleInterval.String()),
		EngineTimeout:       ptrString(""),
		RegionBuffer:        ptrFloat64(p.RegionBuffer),
		ExpansionStep:       ptrFloat64(p.ExpansionStep),
		MinGateways:         ptrInt(p.MinGateways),
		MaxExpansions:       ptrInt(p.MaxExpansions),
		JitterSide:          ptrFloat64(p.JitterSide),
		MinSeparation:       ptrFloat64(p.MinSeparation),
		MaxResampleAttempts: ptrInt(p.MaxResampleAttempts),
		WaypointCount:       ptrInt(p.WaypointCount),
		MentalModel:         ptrString(p.MentalModel),
		GatewayExhaustion:   ptrString(string(p.GatewayExhaustion)),
		PlacementExhaustion: ptrString(string(p.PlacementExhaustion)),
	}
}

// LoadConfig loads a Config from a JSON file. The file must have a .json
// extension and be under 1MB.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the current directory
// or one of its parents. Panics if the file cannot be loaded; intended for
// test setup.
func MustLoadDefaultConfig() *Config {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the fields that are set.
func (c *Config) Validate() error {
	if c.DefaultExtent != nil {
		if _, err := geo.BoxFromExtent(c.DefaultExtent); err != nil {
			return fmt.Errorf("default_extent: %w", err)
		}
	}
	if c.DefaultPedestrians != nil && *c.DefaultPedestrians < 1 {
		return fmt.Errorf("default_pedestrians must be at least 1, got %d", *c.DefaultPedestrians)
	}
	for name, crs := range map[string]*string{"source_crs": c.SourceCRS, "working_crs": c.WorkingCRS} {
		if crs == nil {
			continue
		}
		if _, err := reproject.Definition(*crs); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if c.Layers != nil && c.Layers.Boundaries == "" {
		return fmt.Errorf("layers.boundaries must be set")
	}
	if c.EngineCommand != nil && len(c.EngineCommand) == 0 {
		return fmt.Errorf("engine_command must not be empty")
	}
	for name, d := range map[string]*string{"sample_interval": c.SampleInterval, "engine_timeout": c.EngineTimeout} {
		if d == nil || *d == "" {
			continue
		}
		v, err := time.ParseDuration(*d)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *d, err)
		}
		if v < 0 {
			return fmt.Errorf("%s must not be negative, got %s", name, *d)
		}
	}
	if err := c.Params().Validate(); err != nil {
		return err
	}
	return nil
}

// GetDefaultBox returns the region used when a trigger omits its extent.
func (c *Config) GetDefaultBox() geo.BoundingBox {
	extent := c.DefaultExtent
	if extent == nil {
		extent = defaultExtent[:]
	}
	b, err := geo.BoxFromExtent(extent)
	if err != nil {
		b, _ = geo.BoxFromExtent(defaultExtent[:])
	}
	return b
}

// GetDefaultPedestrians returns the default_pedestrians value or the default.
func (c *Config) GetDefaultPedestrians() int {
	if c.DefaultPedestrians == nil {
		return defaultPedestrians
	}
	return *c.DefaultPedestrians
}

// GetSourceCRS returns the CRS trigger coordinates arrive in.
func (c *Config) GetSourceCRS() string {
	if c.SourceCRS == nil || *c.SourceCRS == "" {
		return reproject.WebMercator
	}
	return *c.SourceCRS
}

// GetWorkingCRS returns the CRS of the input layers.
func (c *Config) GetWorkingCRS() string {
	if c.WorkingCRS == nil || *c.WorkingCRS == "" {
		return reproject.UTM32N
	}
	return *c.WorkingCRS
}

// GetLayerDir returns the directory relative layer paths are resolved in.
func (c *Config) GetLayerDir() string {
	if c.LayerDir == nil || *c.LayerDir == "" {
		return c.GetDataDir()
	}
	return *c.LayerDir
}

// GetLayers returns the configured input layers, resolved against the layer
// directory.
func (c *Config) GetLayers() (layers.Sources, error) {
	sources := layers.DefaultSources()
	if c.Layers != nil {
		sources = *c.Layers
	}
	return sources.Resolve(c.GetLayerDir())
}

// GetDataDir returns the output directory shared with the engine.
func (c *Config) GetDataDir() string {
	if c.DataDir == nil || *c.DataDir == "" {
		return defaultDataDir
	}
	return *c.DataDir
}

// GetWritePreview returns the write_preview value or the default.
func (c *Config) GetWritePreview() bool {
	if c.WritePreview == nil {
		return true
	}
	return *c.WritePreview
}

// GetEngineCommand returns the engine command without its layer arguments.
func (c *Config) GetEngineCommand() []string {
	if len(c.EngineCommand) == 0 {
		return append([]string(nil), defaultEngineCommand...)
	}
	return append([]string(nil), c.EngineCommand...)
}

// GetNetworkLayer returns the routing network layer passed to the engine.
func (c *Config) GetNetworkLayer() string {
	if c.NetworkLayer == nil || *c.NetworkLayer == "" {
		return defaultNetworkLayer
	}
	return *c.NetworkLayer
}

// GetSampleInterval parses and returns the progress sample interval.
func (c *Config) GetSampleInterval() time.Duration {
	if c.SampleInterval == nil || *c.SampleInterval == "" {
		return defaultSampleInterval
	}
	d, err := time.ParseDuration(*c.SampleInterval)
	if err != nil {
		return defaultSampleInterval
	}
	return d
}

// GetEngineTimeout returns the engine time limit; zero means none.
func (c *Config) GetEngineTimeout() time.Duration {
	if c.EngineTimeout == nil || *c.EngineTimeout == "" {
		return 0
	}
	d, err := time.ParseDuration(*c.EngineTimeout)
	if err != nil {
		return 0
	}
	return d
}

// Params converts the tunables into pipeline parameters, starting from
// crowd.DefaultParams for unset fields.
func (c *Config) Params() crowd.Params {
	p := crowd.DefaultParams()
	setFloat := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}
	setInt := func(dst *int, v *int) {
		if v != nil {
			*dst = *v
		}
	}
	setFloat(&p.RegionBuffer, c.RegionBuffer)
	setFloat(&p.ExpansionStep, c.ExpansionStep)
	setInt(&p.MinGateways, c.MinGateways)
	setInt(&p.MaxExpansions, c.MaxExpansions)
	setFloat(&p.JitterSide, c.JitterSide)
	setFloat(&p.MinSeparation, c.MinSeparation)
	setInt(&p.MaxResampleAttempts, c.MaxResampleAttempts)
	setInt(&p.WaypointCount, c.WaypointCount)
	if c.MentalModel != nil {
		p.MentalModel = *c.MentalModel
	}
	if c.GatewayExhaustion != nil {
		p.GatewayExhaustion = crowd.ExhaustionPolicy(*c.GatewayExhaustion)
	}
	if c.PlacementExhaustion != nil {
		p.PlacementExhaustion = crowd.ExhaustionPolicy(*c.PlacementExhaustion)
	}
	return p
}
