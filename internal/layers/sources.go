package layers

import (
	"fmt"

	"github.com/banshee-data/pedflow/internal/crowd"
	"github.com/banshee-data/pedflow/internal/monitoring"
	"github.com/banshee-data/pedflow/internal/security"
)

// Sources names the input shapefiles. Relative paths are resolved against
// the data directory. An empty station path means the mode has no stations.
type Sources struct {
	Boundaries string `json:"boundaries"`
	Rail       string `json:"rail,omitempty"`
	Bus        string `json:"bus,omitempty"`
	Bike       string `json:"bike,omitempty"`
	Car        string `json:"car,omitempty"`
}

// DefaultSources returns the historic layer names.
func DefaultSources() Sources {
	return Sources{
		Boundaries: "boundaries.shp",
		Rail:       "subahn.shp",
		Bus:        "bus.shp",
		Bike:       "stadtrad.shp",
		Car:        "parkhaus.shp",
	}
}

// station returns the layer path of mode m.
func (s Sources) station(m crowd.Mode) string {
	switch m {
	case crowd.Rail:
		return s.Rail
	case crowd.Bus:
		return s.Bus
	case crowd.Bike:
		return s.Bike
	case crowd.Car:
		return s.Car
	}
	return ""
}

// Resolve joins relative paths onto dir and rejects relative paths escaping
// it. Absolute paths are kept as configured.
func (s Sources) Resolve(dir string) (Sources, error) {
	resolve := func(p string) (string, error) {
		if p == "" {
			return "", nil
		}
		return security.ResolveWithin(dir, p)
	}
	var out Sources
	var err error
	if s.Boundaries == "" {
		return Sources{}, fmt.Errorf("boundaries layer is not configured")
	}
	for _, f := range []struct {
		src string
		dst *string
	}{
		{s.Boundaries, &out.Boundaries},
		{s.Rail, &out.Rail},
		{s.Bus, &out.Bus},
		{s.Bike, &out.Bike},
		{s.Car, &out.Car},
	} {
		if *f.dst, err = resolve(f.src); err != nil {
			return Sources{}, err
		}
	}
	return out, nil
}

// Load reads every configured layer into pipeline inputs.
func Load(s Sources) (crowd.Inputs, error) {
	var in crowd.Inputs
	obstacles, err := ReadPolygons(s.Boundaries)
	if err != nil {
		return crowd.Inputs{}, fmt.Errorf("boundaries: %w", err)
	}
	in.Obstacles = obstacles

	for _, m := range crowd.Modes {
		path := s.station(m)
		if path == "" {
			continue
		}
		pts, err := ReadPoints(path)
		if err != nil {
			return crowd.Inputs{}, fmt.Errorf("%s stations: %w", m, err)
		}
		in.Stations[m] = pts
	}
	monitoring.Logf("[layers] loaded %d obstacles and %d stations", len(in.Obstacles), in.Stations.Len())
	return in, nil
}
