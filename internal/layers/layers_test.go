package layers

import (
	"bytes"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/ctessum/geom"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/pedflow/internal/crowd"
	"github.com/banshee-data/pedflow/internal/fsutil"
	"github.com/banshee-data/pedflow/internal/geo"
	"github.com/banshee-data/pedflow/internal/monitoring"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

func square(minX, minY, side float64) geo.Polygon {
	return geo.MustPolygon(geom.Polygon{{
		{X: minX, Y: minY},
		{X: minX, Y: minY + side},
		{X: minX + side, Y: minY + side},
		{X: minX + side, Y: minY},
		{X: minX, Y: minY},
	}})
}

func TestPolygonsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "boundaries.shp")
	in := []geo.Polygon{square(0, 0, 10), square(20, 5, 4)}
	require.NoError(t, WritePolygons(path, in))

	out, err := ReadPolygons(path)
	require.NoError(t, err)
	require.Len(t, out, 2)
	for i := range in {
		assert.Equal(t, in[i].Box(), out[i].Box())
	}
	assert.True(t, out[1].ContainsPoint(geom.Point{X: 22, Y: 7}))
}

func TestStartPointsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pedestrians.shp")
	in := []crowd.StartPoint{
		{ID: 0, Location: geom.Point{X: 566000.5, Y: 5933800.25}},
		{ID: 1, Location: geom.Point{X: 566010, Y: 5933810}},
	}
	require.NoError(t, WriteStartPoints(path, in))

	out, err := ReadPoints(path)
	require.NoError(t, err)
	assert.Equal(t, []geom.Point{in[0].Location, in[1].Location}, out)
}

func TestGatewaysRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateways.shp")
	in := []crowd.Gateway{
		{ID: 0, Location: geom.Point{X: 1, Y: 2}, Mode: crowd.Rail},
		{ID: 1, Location: geom.Point{X: 3, Y: 4}, Mode: crowd.Bus},
		{ID: 2, Location: geom.Point{X: 5, Y: 6}, Mode: crowd.Car},
	}
	require.NoError(t, WriteGateways(path, in))

	out, err := ReadGateways(path)
	require.NoError(t, err)
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("gateways differ (-want +got):\n%s", diff)
	}
}

func TestReadPointsRejectsPolygons(t *testing.T) {
	path := filepath.Join(t.TempDir(), "boundaries.shp")
	require.NoError(t, WritePolygons(path, []geo.Polygon{square(0, 0, 1)}))

	_, err := ReadPoints(path)
	assert.ErrorIs(t, err, geo.ErrMalformedGeometry)
}

func TestReadMissingLayer(t *testing.T) {
	_, err := ReadPolygons(filepath.Join(t.TempDir(), "missing.shp"))
	assert.Error(t, err)
}

func TestWriteMissions(t *testing.T) {
	missions := []crowd.Mission{
		{StartID: 0, Start: geom.Point{X: 1.5, Y: 2}, MentalModel: crowd.DefaultMentalModel,
			Waypoints: []geom.Point{{X: 3, Y: 4}, {X: 1.5, Y: 2}}},
		{StartID: 1, Start: geom.Point{X: 3, Y: 4}, MentalModel: crowd.DefaultMentalModel,
			Waypoints: []geom.Point{{X: 500, Y: 500}}},
	}
	var buf bytes.Buffer
	require.NoError(t, WriteMissions(&buf, missions))

	want := "startWKT,mentalModel,wktWayPoints\n" +
		`POINT(1.5 2),FollowWayPointsMentalModel,"[POINT(3 4), POINT(1.5 2)]"` + "\n" +
		"POINT(3 4),FollowWayPointsMentalModel,[POINT(500 500)]\n"
	assert.Equal(t, want, buf.String())

	got, err := ReadMissions(&buf)
	require.NoError(t, err)
	if diff := cmp.Diff(missions, got); diff != "" {
		t.Errorf("missions differ (-want +got):\n%s", diff)
	}
}

func TestReadMissionsAcceptsSpacedWKT(t *testing.T) {
	table := "startWKT,mentalModel,wktWayPoints\n" +
		"POINT (1 2),FollowWayPointsMentalModel,[ POINT (500 500) ]\n"
	got, err := ReadMissions(strings.NewReader(table))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, geom.Point{X: 1, Y: 2}, got[0].Start)
	assert.Equal(t, []geom.Point{{X: 500, Y: 500}}, got[0].Waypoints)
}

func TestReadMissionsErrors(t *testing.T) {
	tests := map[string]string{
		"bad header":   "start,model,points\n",
		"bad start":    "startWKT,mentalModel,wktWayPoints\nPOINT(x y),m,[]\n",
		"no brackets":  "startWKT,mentalModel,wktWayPoints\nPOINT(1 2),m,POINT(1 2)\n",
		"short row":    "startWKT,mentalModel,wktWayPoints\nPOINT(1 2),m\n",
		"empty":        "",
		"bad waypoint": "startWKT,mentalModel,wktWayPoints\nPOINT(1 2),m,[POINT(a b)]\n",
	}
	for name, table := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ReadMissions(strings.NewReader(table))
			assert.ErrorIs(t, err, ErrMissionFormat)
		})
	}
}

func TestSourcesResolve(t *testing.T) {
	dir := t.TempDir()
	src, err := DefaultSources().Resolve(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "boundaries.shp"), src.Boundaries)
	assert.Equal(t, filepath.Join(dir, "parkhaus.shp"), src.Car)

	abs := filepath.Join(t.TempDir(), "elsewhere.shp")
	src, err = Sources{Boundaries: abs, Bus: ""}.Resolve(dir)
	require.NoError(t, err)
	assert.Equal(t, abs, src.Boundaries)
	assert.Empty(t, src.Bus)

	_, err = Sources{Boundaries: "../../etc/passwd"}.Resolve(dir)
	assert.Error(t, err)

	_, err = Sources{}.Resolve(dir)
	assert.Error(t, err)
}

func writeFixtureLayers(t *testing.T, dir string) Sources {
	t.Helper()
	require.NoError(t, WritePolygons(filepath.Join(dir, "boundaries.shp"),
		[]geo.Polygon{square(20, 20, 10), square(500, 500, 10)}))
	points := func(name string, pts ...geom.Point) {
		sps := make([]crowd.StartPoint, len(pts))
		for i, p := range pts {
			sps[i] = crowd.StartPoint{ID: i, Location: p}
		}
		require.NoError(t, WriteStartPoints(filepath.Join(dir, name), sps))
	}
	points("subahn.shp", geom.Point{X: 25, Y: 25}, geom.Point{X: 40, Y: 40})
	points("bus.shp", geom.Point{X: 80, Y: 20})
	points("stadtrad.shp", geom.Point{X: 10, Y: 90})
	points("parkhaus.shp", geom.Point{X: 90, Y: 90}, geom.Point{X: 60, Y: 10})
	src, err := DefaultSources().Resolve(dir)
	require.NoError(t, err)
	return src
}

func TestLoadAndWritePlan(t *testing.T) {
	dir := t.TempDir()
	in, err := Load(writeFixtureLayers(t, dir))
	require.NoError(t, err)
	assert.Len(t, in.Obstacles, 2)
	assert.Equal(t, 6, in.Stations.Len())

	box, err := geo.NewBoundingBox(0, 0, 100, 100)
	require.NoError(t, err)
	plan, err := crowd.Prepare(in, crowd.Request{Box: box, Pedestrians: 10}, crowd.DefaultParams(),
		rand.New(rand.NewPCG(1, 2)))
	require.NoError(t, err)

	out := filepath.Join(dir, "out")
	files, err := NewWriter(out, nil).Write(plan)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(out, MissionFile), files.Missions)

	cut, err := ReadPolygons(files.Boundaries)
	require.NoError(t, err)
	assert.Len(t, cut, 1)

	gws, err := ReadGateways(files.Gateways)
	require.NoError(t, err)
	assert.Equal(t, plan.Gateways.All(), gws)

	peds, err := ReadPoints(files.Pedestrians)
	require.NoError(t, err)
	assert.Len(t, peds, 10)

	fs := fsutil.OSFileSystem{}
	data, err := fs.ReadFile(files.Missions)
	require.NoError(t, err)
	missions, err := ReadMissions(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Len(t, missions, 10)
}

func TestWriterWritesThroughFileSystem(t *testing.T) {
	box, err := geo.NewBoundingBox(0, 0, 100, 100)
	require.NoError(t, err)
	in := crowd.Inputs{
		Obstacles: []geo.Polygon{square(40, 40, 10)},
		Stations:  crowd.Stations{crowd.Rail: {{X: 10, Y: 10}}},
	}
	plan, err := crowd.Prepare(in, crowd.Request{Box: box, Pedestrians: 3}, crowd.DefaultParams(),
		rand.New(rand.NewPCG(4, 4)))
	require.NoError(t, err)

	// The directory only exists on the memory filesystem.
	dir := filepath.Join(t.TempDir(), "not-yet-created")
	mem := fsutil.NewMemoryFileSystem()
	files, err := NewWriter(dir, mem).Write(plan)
	require.NoError(t, err)
	assert.True(t, mem.IsDir(dir))
	assert.NoDirExists(t, dir)

	var want []string
	for _, base := range []string{"boundaries_cut", "gateways", "pedestrians"} {
		for _, ext := range []string{".dbf", ".shp", ".shx"} {
			want = append(want, filepath.Join(dir, base+ext))
		}
	}
	want = append(want, files.Missions)
	sort.Strings(want)
	assert.Equal(t, want, mem.Names())

	// Copy the captured gateway layer to disk and read it back.
	disk := t.TempDir()
	for _, ext := range []string{".dbf", ".shp", ".shx"} {
		data, err := mem.ReadFile(filepath.Join(dir, "gateways"+ext))
		require.NoError(t, err)
		require.NotEmpty(t, data)
		require.NoError(t, os.WriteFile(filepath.Join(disk, "gateways"+ext), data, 0o644))
	}
	gws, err := ReadGateways(filepath.Join(disk, GatewaysFile))
	require.NoError(t, err)
	assert.Equal(t, plan.Gateways.All(), gws)

	data, err := mem.ReadFile(files.Missions)
	require.NoError(t, err)
	missions, err := ReadMissions(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Len(t, missions, 3)

	_, err = NewWriter(dir, mem).Write(nil)
	assert.Error(t, err)
}
