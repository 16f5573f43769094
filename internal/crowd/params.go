package crowd

import (
	"fmt"
	"math"
)

// ExhaustionPolicy decides what happens when a bounded search runs out of
// attempts.
type ExhaustionPolicy string

const (
	// ExhaustAbort fails the run with an *ExhaustedError.
	ExhaustAbort ExhaustionPolicy = "abort"
	// ExhaustRelax continues with the best result found and logs a warning.
	ExhaustRelax ExhaustionPolicy = "relax"
)

// DefaultMentalModel is the engine behaviour tag written to every mission.
const DefaultMentalModel = "FollowWayPointsMentalModel"

// Params holds the tunables of the preparation pipeline.
type Params struct {
	RegionBuffer        float64 // margin added around the box before cutting obstacles
	ExpansionStep       float64 // growth of the gateway search box per expansion
	MinGateways         int     // gateways wanted before the search stops expanding
	MaxExpansions       int     // upper bound on search box expansions
	JitterSide          float64 // side of the square around a gateway start points are drawn from
	MinSeparation       float64 // minimum distance between two start points
	MaxResampleAttempts int     // draws per pedestrian before giving up
	WaypointCount       int     // waypoints per random-wander mission
	MentalModel         string  // engine behaviour tag

	// GatewayExhaustion applies when the search box cannot grow any more and
	// at least one but fewer than MinGateways gateways were found.
	GatewayExhaustion ExhaustionPolicy
	// PlacementExhaustion applies when no candidate keeps MinSeparation
	// within MaxResampleAttempts draws.
	PlacementExhaustion ExhaustionPolicy
}

// DefaultParams returns the parameters the simulation has always used.
func DefaultParams() Params {
	return Params{
		RegionBuffer:        50,
		ExpansionStep:       100,
		MinGateways:         5,
		MaxExpansions:       25,
		JitterSide:          10,
		MinSeparation:       0.3,
		MaxResampleAttempts: 1000,
		WaypointCount:       4,
		MentalModel:         DefaultMentalModel,
		GatewayExhaustion:   ExhaustRelax,
		PlacementExhaustion: ExhaustAbort,
	}
}

// Validate checks that p can drive the pipeline.
func (p Params) Validate() error {
	finite := func(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
	switch {
	case !finite(p.RegionBuffer) || p.RegionBuffer < 0:
		return fmt.Errorf("%w: region buffer must be a non-negative number, got %v", ErrInvalidRequest, p.RegionBuffer)
	case !finite(p.ExpansionStep) || p.ExpansionStep <= 0:
		return fmt.Errorf("%w: expansion step must be positive, got %v", ErrInvalidRequest, p.ExpansionStep)
	case p.MinGateways < 1:
		return fmt.Errorf("%w: min gateways must be at least 1, got %d", ErrInvalidRequest, p.MinGateways)
	case p.MaxExpansions < 0:
		return fmt.Errorf("%w: max expansions must not be negative, got %d", ErrInvalidRequest, p.MaxExpansions)
	case !finite(p.JitterSide) || p.JitterSide <= 0:
		return fmt.Errorf("%w: jitter side must be positive, got %v", ErrInvalidRequest, p.JitterSide)
	case !finite(p.MinSeparation) || p.MinSeparation < 0:
		return fmt.Errorf("%w: min separation must be a non-negative number, got %v", ErrInvalidRequest, p.MinSeparation)
	case p.MaxResampleAttempts < 1:
		return fmt.Errorf("%w: max resample attempts must be at least 1, got %d", ErrInvalidRequest, p.MaxResampleAttempts)
	case p.WaypointCount < 1:
		return fmt.Errorf("%w: waypoint count must be at least 1, got %d", ErrInvalidRequest, p.WaypointCount)
	case p.MentalModel == "":
		return fmt.Errorf("%w: mental model tag is empty", ErrInvalidRequest)
	}
	for _, policy := range []ExhaustionPolicy{p.GatewayExhaustion, p.PlacementExhaustion} {
		if err := policy.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate rejects unknown policies.
func (e ExhaustionPolicy) Validate() error {
	switch e {
	case ExhaustAbort, ExhaustRelax:
		return nil
	}
	return fmt.Errorf("%w: unknown exhaustion policy %q", ErrInvalidRequest, string(e))
}
