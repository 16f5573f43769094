package crowd

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/ctessum/geom"

	"github.com/banshee-data/pedflow/internal/geo"
	"github.com/banshee-data/pedflow/internal/monitoring"
)

// StartPoint is where one simulated pedestrian enters the region.
type StartPoint struct {
	ID        int        `json:"id"`
	Location  geom.Point `json:"location"`
	Mode      Mode       `json:"mode"`
	GatewayID int        `json:"gateway_id"`
}

// Mission tells the engine where a pedestrian starts and which points it
// walks to.
type Mission struct {
	StartID     int          `json:"start_id"`
	Start       geom.Point   `json:"start"`
	MentalModel string       `json:"mental_model"`
	Waypoints   []geom.Point `json:"waypoints"`
}

// Crowd is the generated population.
type Crowd struct {
	StartPoints []StartPoint `json:"start_points"`
	Missions    []Mission    `json:"missions"`
	PerMode     ModeCounts   `json:"per_mode"` // pedestrians per mode
	Relaxed     int          `json:"relaxed"`  // start points placed below the minimum separation
}

// Generator draws start points and missions from a seeded source.
type Generator struct {
	rng *rand.Rand
	p   Params
}

// NewGenerator returns a generator drawing from rng. A nil rng is replaced by
// a randomly seeded one.
func NewGenerator(rng *rand.Rand, p Params) *Generator {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Generator{rng: rng, p: p}
}

// Generate places n pedestrians. Each one draws a mode from dist, a gateway of
// that mode and a start point in the JitterSide square around the gateway
// that keeps MinSeparation to every start point placed before it. With a
// target every mission walks to it; otherwise each mission gets
// WaypointCount start points drawn with replacement.
func (g *Generator) Generate(byMode GatewaySet, dist ModalDistribution, n int, target *geom.Point) (Crowd, error) {
	if n < 1 {
		return Crowd{}, fmt.Errorf("%w: pedestrian count must be at least 1, got %d", ErrInvalidRequest, n)
	}
	if err := g.p.Validate(); err != nil {
		return Crowd{}, err
	}
	if err := dist.Validate(); err != nil {
		return Crowd{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	index := geo.NewSpacingIndex(g.p.MinSeparation)
	crowd := Crowd{StartPoints: make([]StartPoint, 0, n)}
	for i := 0; i < n; i++ {
		m := dist.Select(g.rng.Float64())
		gateways := byMode[m]
		if len(gateways) == 0 {
			return Crowd{}, fmt.Errorf("%w: %s", ErrEmptyMode, m)
		}
		gw := gateways[g.rng.IntN(len(gateways))]

		loc, relaxed, err := g.place(gw.Location, index)
		if err != nil {
			return Crowd{}, fmt.Errorf("pedestrian %d: %w", i, err)
		}
		if relaxed {
			crowd.Relaxed++
		}
		index.Insert(loc)
		crowd.StartPoints = append(crowd.StartPoints, StartPoint{ID: i, Location: loc, Mode: m, GatewayID: gw.ID})
		crowd.PerMode[m]++
	}
	if crowd.Relaxed > 0 {
		monitoring.Logf("[crowd] warning: %d of %d start points placed closer than %.2f", crowd.Relaxed, n, g.p.MinSeparation)
	}

	crowd.Missions = g.missions(crowd.StartPoints, target)
	return crowd, nil
}

// place draws candidates around origin until one keeps the minimum
// separation. It reports whether the relax policy had to accept a closer one.
func (g *Generator) place(origin geom.Point, index *geo.SpacingIndex) (geom.Point, bool, error) {
	sep := g.p.MinSeparation
	var best geom.Point
	bestClearance := math.Inf(-1)
	for attempt := 0; attempt < g.p.MaxResampleAttempts; attempt++ {
		c := geom.Point{
			X: origin.X + (g.rng.Float64()-0.5)*g.p.JitterSide,
			Y: origin.Y + (g.rng.Float64()-0.5)*g.p.JitterSide,
		}
		clearance := index.Clearance(c, sep)
		if clearance >= sep {
			return c, false, nil
		}
		if clearance > bestClearance {
			best, bestClearance = c, clearance
		}
	}
	if g.p.PlacementExhaustion == ExhaustRelax {
		return best, true, nil
	}
	return geom.Point{}, false, &ExhaustedError{Stage: "start point placement", Attempts: g.p.MaxResampleAttempts}
}

func (g *Generator) missions(starts []StartPoint, target *geom.Point) []Mission {
	missions := make([]Mission, len(starts))
	for i, sp := range starts {
		var waypoints []geom.Point
		if target != nil {
			waypoints = []geom.Point{*target}
		} else {
			waypoints = make([]geom.Point, g.p.WaypointCount)
			for w := range waypoints {
				waypoints[w] = starts[g.rng.IntN(len(starts))].Location
			}
		}
		missions[i] = Mission{
			StartID:     sp.ID,
			Start:       sp.Location,
			MentalModel: g.p.MentalModel,
			Waypoints:   waypoints,
		}
	}
	return missions
}
