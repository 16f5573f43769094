package layers

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/banshee-data/pedflow/internal/crowd"
	"github.com/banshee-data/pedflow/internal/fsutil"
)

// Output file names read by the engine.
const (
	BoundariesFile  = "boundaries_cut.shp"
	GatewaysFile    = "gateways.shp"
	PedestriansFile = "pedestrians.shp"
	MissionFile     = "pedMission.csv"
)

// Files holds the paths of one run's outputs.
type Files struct {
	Boundaries  string `json:"boundaries"`
	Gateways    string `json:"gateways"`
	Pedestrians string `json:"pedestrians"`
	Missions    string `json:"missions"`
}

// Writer writes plans into a data directory.
type Writer struct {
	Dir string
	FS  fsutil.FileSystem
}

// NewWriter returns a writer for dir. A nil fs means the OS filesystem.
func NewWriter(dir string, fs fsutil.FileSystem) *Writer {
	if fs == nil {
		fs = fsutil.OSFileSystem{}
	}
	return &Writer{Dir: dir, FS: fs}
}

// Files returns the output paths inside the writer's directory.
func (w *Writer) Files() Files {
	return Files{
		Boundaries:  filepath.Join(w.Dir, BoundariesFile),
		Gateways:    filepath.Join(w.Dir, GatewaysFile),
		Pedestrians: filepath.Join(w.Dir, PedestriansFile),
		Missions:    filepath.Join(w.Dir, MissionFile),
	}
}

// Write stores the cut obstacles, gateways, start points and missions of
// plan. Existing outputs are replaced.
func (w *Writer) Write(plan *crowd.Plan) (Files, error) {
	if plan == nil {
		return Files{}, fmt.Errorf("nil plan")
	}
	if err := w.FS.MkdirAll(w.Dir, 0o755); err != nil {
		return Files{}, fmt.Errorf("create %s: %w", w.Dir, err)
	}
	files := w.Files()
	if err := w.writeShapefile(files.Boundaries, func(path string) error {
		return WritePolygons(path, plan.Obstacles)
	}); err != nil {
		return Files{}, err
	}
	if err := w.writeShapefile(files.Gateways, func(path string) error {
		return WriteGateways(path, plan.Gateways.All())
	}); err != nil {
		return Files{}, err
	}
	if err := w.writeShapefile(files.Pedestrians, func(path string) error {
		return WriteStartPoints(path, plan.Crowd.StartPoints)
	}); err != nil {
		return Files{}, err
	}

	f, err := w.FS.Create(files.Missions)
	if err != nil {
		return Files{}, fmt.Errorf("create %s: %w", files.Missions, err)
	}
	if err := WriteMissions(f, plan.Crowd.Missions); err != nil {
		f.Close()
		return Files{}, fmt.Errorf("write %s: %w", files.Missions, err)
	}
	if err := f.Close(); err != nil {
		return Files{}, fmt.Errorf("close %s: %w", files.Missions, err)
	}
	return files, nil
}

// writeShapefile encodes a layer into a staging directory on disk, since the
// shapefile encoder only writes to OS paths, then copies every component
// (.shp, .shx, .dbf) to dest on the writer's filesystem.
func (w *Writer) writeShapefile(dest string, encode func(path string) error) error {
	staging, err := os.MkdirTemp("", "pedflow-shp-")
	if err != nil {
		return fmt.Errorf("stage %s: %w", dest, err)
	}
	defer os.RemoveAll(staging)

	name := filepath.Base(dest)
	if err := encode(filepath.Join(staging, name)); err != nil {
		return err
	}

	entries, err := os.ReadDir(staging)
	if err != nil {
		return fmt.Errorf("stage %s: %w", dest, err)
	}
	base := strings.TrimSuffix(dest, filepath.Ext(dest))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := w.copyIn(filepath.Join(staging, e.Name()), base+filepath.Ext(e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) copyIn(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := w.FS.Create(dest)
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("write %s: %w", dest, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dest, err)
	}
	return nil
}
