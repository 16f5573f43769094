package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/pedflow/internal/crowd"
	"github.com/banshee-data/pedflow/internal/layers"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultsFileMatchesBuiltIns(t *testing.T) {
	fromFile := MustLoadDefaultConfig()
	builtIn := DefaultConfig()
	if diff := cmp.Diff(builtIn, fromFile); diff != "" {
		t.Errorf("%s differs from DefaultConfig (-builtin +file):\n%s", DefaultConfigPath, diff)
	}
}

func TestEmptyConfigUsesDefaults(t *testing.T) {
	cfg := EmptyConfig()

	if got := cfg.GetDefaultPedestrians(); got != 30 {
		t.Errorf("GetDefaultPedestrians() = %d, want 30", got)
	}
	if got := cfg.GetDefaultBox().Extent(); got != [4]float64{565900.000, 5933766.750, 566173.405, 5933998.937} {
		t.Errorf("GetDefaultBox() = %v", got)
	}
	if got := cfg.GetSourceCRS(); got != "EPSG:3857" {
		t.Errorf("GetSourceCRS() = %q", got)
	}
	if got := cfg.GetWorkingCRS(); got != "EPSG:25832" {
		t.Errorf("GetWorkingCRS() = %q", got)
	}
	if got := cfg.GetDataDir(); got != "data" {
		t.Errorf("GetDataDir() = %q", got)
	}
	if got := cfg.GetLayerDir(); got != "data" {
		t.Errorf("GetLayerDir() = %q, want data dir", got)
	}
	if got := cfg.GetSampleInterval(); got != 250*time.Millisecond {
		t.Errorf("GetSampleInterval() = %v", got)
	}
	if got := cfg.GetEngineTimeout(); got != 0 {
		t.Errorf("GetEngineTimeout() = %v, want 0", got)
	}
	if got := cfg.GetNetworkLayer(); got != "networkForGraphN.shp" {
		t.Errorf("GetNetworkLayer() = %q", got)
	}
	if diff := cmp.Diff([]string{"java", "-jar", "abpedsim.jar"}, cfg.GetEngineCommand()); diff != "" {
		t.Errorf("GetEngineCommand() mismatch:\n%s", diff)
	}
	if !cfg.GetWritePreview() {
		t.Error("GetWritePreview() should default to true")
	}
	if diff := cmp.Diff(crowd.DefaultParams(), cfg.Params()); diff != "" {
		t.Errorf("Params() mismatch (-want +got):\n%s", diff)
	}
}

func TestGetEngineCommandReturnsCopy(t *testing.T) {
	cfg := &Config{EngineCommand: []string{"sim", "--fast"}}
	cmd := cfg.GetEngineCommand()
	cmd[0] = "changed"
	if cfg.EngineCommand[0] != "sim" {
		t.Error("GetEngineCommand must not alias the config slice")
	}
}

func TestLoadPartialConfig(t *testing.T) {
	path := writeConfig(t, "partial.json", `{
  "default_pedestrians": 12,
  "data_dir": "/srv/pedflow",
  "sample_interval": "1s",
  "min_gateways": 3,
  "placement_exhaustion": "relax",
  "seed": 42
}`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if got := cfg.GetDefaultPedestrians(); got != 12 {
		t.Errorf("GetDefaultPedestrians() = %d, want 12", got)
	}
	if got := cfg.GetDataDir(); got != "/srv/pedflow" {
		t.Errorf("GetDataDir() = %q", got)
	}
	if got := cfg.GetSampleInterval(); got != time.Second {
		t.Errorf("GetSampleInterval() = %v, want 1s", got)
	}
	if cfg.Seed == nil || *cfg.Seed != 42 {
		t.Errorf("Seed = %v, want 42", cfg.Seed)
	}

	p := cfg.Params()
	want := crowd.DefaultParams()
	want.MinGateways = 3
	want.PlacementExhaustion = crowd.ExhaustRelax
	if diff := cmp.Diff(want, p); diff != "" {
		t.Errorf("Params() mismatch (-want +got):\n%s", diff)
	}
}

func TestGetLayersResolvesAgainstLayerDir(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{
		LayerDir: ptrString(dir),
		Layers:   &layers.Sources{Boundaries: "b.shp", Bus: "bus.shp"},
	}
	got, err := cfg.GetLayers()
	if err != nil {
		t.Fatalf("GetLayers: %v", err)
	}
	want := layers.Sources{Boundaries: filepath.Join(dir, "b.shp"), Bus: filepath.Join(dir, "bus.shp")}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("GetLayers mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr string
	}{
		{"wrong extension", "cfg.yaml", `{}`, ".json extension"},
		{"bad json", "cfg.json", `{"default_pedestrians":`, "parse config JSON"},
		{"zero pedestrians", "cfg.json", `{"default_pedestrians": 0}`, "default_pedestrians"},
		{"inverted extent", "cfg.json", `{"default_extent": [10, 0, 0, 10]}`, "default_extent"},
		{"short extent", "cfg.json", `{"default_extent": [0, 0, 10]}`, "default_extent"},
		{"unknown crs", "cfg.json", `{"source_crs": "EPSG:1"}`, "source_crs"},
		{"bad interval", "cfg.json", `{"sample_interval": "soon"}`, "sample_interval"},
		{"negative timeout", "cfg.json", `{"engine_timeout": "-1s"}`, "engine_timeout"},
		{"empty engine", "cfg.json", `{"engine_command": []}`, "engine_command"},
		{"no boundaries", "cfg.json", `{"layers": {"rail": "r.shp"}}`, "boundaries"},
		{"bad policy", "cfg.json", `{"gateway_exhaustion": "retry"}`, "exhaustion policy"},
		{"bad separation", "cfg.json", `{"min_separation": -1}`, "min separation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.file, tt.body))
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadConfigTooLarge(t *testing.T) {
	body := `{"mental_model": "` + strings.Repeat("x", maxFileSize) + `"}`
	if _, err := LoadConfig(writeConfig(t, "big.json", body)); err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("expected size error, got %v", err)
	}
}
