// Package testutil holds the small study area shared by the run, API and
// command tests: one square obstacle and five stations inside a 100 m box.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/ctessum/geom"

	"github.com/banshee-data/pedflow/internal/config"
	"github.com/banshee-data/pedflow/internal/crowd"
	"github.com/banshee-data/pedflow/internal/geo"
	"github.com/banshee-data/pedflow/internal/layers"
)

// FixtureExtent bounds every fixture station.
var FixtureExtent = [4]float64{0, 0, 100, 100}

// FixtureCounts is the per-mode gateway count inside FixtureExtent.
var FixtureCounts = crowd.ModeCounts{2, 1, 1, 1}

// FixtureInputs returns the fixture as pipeline inputs.
func FixtureInputs() crowd.Inputs {
	return crowd.Inputs{
		Obstacles: []geo.Polygon{
			geo.MustPolygon(geom.Polygon{{{X: 20, Y: 20}, {X: 30, Y: 20}, {X: 30, Y: 30}, {X: 20, Y: 30}}}),
		},
		Stations: crowd.Stations{
			crowd.Rail: {{X: 10, Y: 10}, {X: 50, Y: 50}},
			crowd.Bus:  {{X: 80, Y: 20}},
			crowd.Bike: {{X: 15, Y: 85}},
			crowd.Car:  {{X: 90, Y: 90}},
		},
	}
}

// FixtureBox returns FixtureExtent as a box.
func FixtureBox(t testing.TB) geo.BoundingBox {
	t.Helper()
	box, err := geo.BoxFromExtent(FixtureExtent[:])
	if err != nil {
		t.Fatalf("fixture box: %v", err)
	}
	return box
}

// WriteFixtureLayers writes the fixture as shapefiles named after
// layers.DefaultSources into dir.
func WriteFixtureLayers(t testing.TB, dir string) {
	t.Helper()
	in := FixtureInputs()
	src := layers.DefaultSources()

	if err := layers.WritePolygons(filepath.Join(dir, src.Boundaries), in.Obstacles); err != nil {
		t.Fatalf("write boundaries: %v", err)
	}
	for m, name := range map[crowd.Mode]string{crowd.Rail: src.Rail, crowd.Bus: src.Bus, crowd.Bike: src.Bike, crowd.Car: src.Car} {
		pts := make([]crowd.StartPoint, len(in.Stations[m]))
		for i, p := range in.Stations[m] {
			pts[i] = crowd.StartPoint{ID: i, Location: p, Mode: m}
		}
		if err := layers.WriteStartPoints(filepath.Join(dir, name), pts); err != nil {
			t.Fatalf("write %s stations: %v", m, err)
		}
	}
}

// FixtureConfig returns the default configuration reading the fixture
// layers from a fresh temporary directory and writing into another. The
// seed is fixed and the preview disabled.
func FixtureConfig(t testing.TB) *config.Config {
	t.Helper()
	layerDir, dataDir := t.TempDir(), t.TempDir()
	WriteFixtureLayers(t, layerDir)

	cfg := config.DefaultConfig()
	seed := uint64(3)
	preview := false
	cfg.LayerDir = &layerDir
	cfg.DataDir = &dataDir
	cfg.Seed = &seed
	cfg.WritePreview = &preview
	return cfg
}
