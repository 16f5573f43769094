package crowd

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/ctessum/geom"

	"github.com/banshee-data/pedflow/internal/geo"
	"github.com/banshee-data/pedflow/internal/monitoring"
)

// Inputs are the layers a run is prepared from.
type Inputs struct {
	Obstacles []geo.Polygon
	Stations  Stations
}

// Request describes one run.
type Request struct {
	Box         geo.BoundingBox `json:"box"`
	Pedestrians int             `json:"pedestrians"`
	Target      *geom.Point     `json:"target,omitempty"` // nil for random-wander missions
}

// Validate checks the request before any work is done.
func (r Request) Validate() error {
	if err := r.Box.Validate(); err != nil {
		return err
	}
	if r.Pedestrians < 1 {
		return fmt.Errorf("%w: pedestrian count must be at least 1, got %d", ErrInvalidRequest, r.Pedestrians)
	}
	if r.Target != nil {
		for _, v := range []float64{r.Target.X, r.Target.Y} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: target is not finite", ErrInvalidRequest)
			}
		}
	}
	return nil
}

// Plan is everything Prepare produced for one run.
type Plan struct {
	Request      Request           `json:"request"`
	Obstacles    []geo.Polygon     `json:"-"`
	Gateways     GatewaySet        `json:"gateways"`
	SearchBox    geo.BoundingBox   `json:"search_box"`
	Expansions   int               `json:"expansions"`
	Counts       ModeCounts        `json:"counts"`
	Distribution ModalDistribution `json:"distribution"`
	Crowd        Crowd             `json:"crowd"`
}

// Prepare runs region filter, gateway search, modal split and crowd
// generation for one request. The same rng seed and inputs always produce the
// same plan.
func Prepare(in Inputs, req Request, p Params, rng *rand.Rand) (*Plan, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	obstacles := FilterRegion(in.Obstacles, req.Box, p.RegionBuffer)
	monitoring.Logf("[crowd] %d of %d obstacles intersect %s", len(obstacles), len(in.Obstacles), req.Box.Buffer(p.RegionBuffer))

	search, err := LocateGateways(in.Stations, req.Box, obstacles, p)
	if err != nil {
		return nil, fmt.Errorf("locate gateways: %w", err)
	}
	counts := search.Gateways.Counts()
	monitoring.Logf("[crowd] %d gateways (rail=%d bus=%d bike=%d car=%d) after %d expansions",
		counts.Total(), counts[Rail], counts[Bus], counts[Bike], counts[Car], search.Expansions)

	dist, err := ComputeModalSplit(counts)
	if err != nil {
		return nil, fmt.Errorf("modal split: %w", err)
	}

	crowd, err := NewGenerator(rng, p).Generate(search.Gateways, dist, req.Pedestrians, req.Target)
	if err != nil {
		return nil, fmt.Errorf("generate crowd: %w", err)
	}

	return &Plan{
		Request:      req,
		Obstacles:    obstacles,
		Gateways:     search.Gateways,
		SearchBox:    search.Box,
		Expansions:   search.Expansions,
		Counts:       counts,
		Distribution: dist,
		Crowd:        crowd,
	}, nil
}

// TargetMode reports whether the plan's missions walk to a fixed target.
func (p *Plan) TargetMode() bool { return p.Request.Target != nil }
