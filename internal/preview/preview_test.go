package preview

import (
	"bytes"
	"image/png"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/ctessum/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/pedflow/internal/crowd"
	"github.com/banshee-data/pedflow/internal/fsutil"
	"github.com/banshee-data/pedflow/internal/geo"
	"github.com/banshee-data/pedflow/internal/monitoring"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

func testPlan(t *testing.T, target *geom.Point) *crowd.Plan {
	t.Helper()
	box, err := geo.NewBoundingBox(0, 0, 100, 100)
	require.NoError(t, err)
	in := crowd.Inputs{
		Obstacles: []geo.Polygon{
			geo.MustPolygon(geom.Polygon{{{X: 20, Y: 20}, {X: 30, Y: 20}, {X: 30, Y: 30}, {X: 20, Y: 30}}}),
		},
		Stations: crowd.Stations{
			crowd.Rail: {{X: 10, Y: 10}, {X: 50, Y: 50}},
			crowd.Bus:  {{X: 80, Y: 20}},
			crowd.Car:  {{X: 90, Y: 90}, {X: 70, Y: 40}},
		},
	}
	plan, err := crowd.Prepare(in, crowd.Request{Box: box, Pedestrians: 12, Target: target},
		crowd.DefaultParams(), rand.New(rand.NewPCG(7, 11)))
	require.NoError(t, err)
	return plan
}

func TestRenderAddsLegendPerLayer(t *testing.T) {
	p, err := Render(testPlan(t, &geom.Point{X: 60, Y: 60}))
	require.NoError(t, err)
	assert.Contains(t, p.Title.Text, "12 pedestrians")
	assert.Contains(t, p.Title.Text, "5 gateways")
}

func TestRenderNilPlan(t *testing.T) {
	_, err := Render(nil)
	assert.Error(t, err)
}

func TestWritePNGProducesImage(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePNG(&buf, testPlan(t, nil), DefaultWidth/2, DefaultHeight/2))

	cfg, err := png.DecodeConfig(&buf)
	require.NoError(t, err)
	assert.Positive(t, cfg.Width)
	assert.Positive(t, cfg.Height)
}

func TestSaveToMemoryFileSystem(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	require.NoError(t, Save(fs, "data/"+FileName, testPlan(t, nil)))

	data, err := fs.ReadFile("data/" + FileName)
	require.NoError(t, err)
	_, err = png.DecodeConfig(bytes.NewReader(data))
	assert.NoError(t, err)
}

func TestSaveToDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	require.NoError(t, Save(nil, path, testPlan(t, &geom.Point{X: 5, Y: 95})))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(100))
}
