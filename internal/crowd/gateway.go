package crowd

import (
	"fmt"

	"github.com/ctessum/geom"

	"github.com/banshee-data/pedflow/internal/geo"
	"github.com/banshee-data/pedflow/internal/monitoring"
)

// Stations holds the raw transit access points per mode, as read from the
// input layers.
type Stations [NumModes][]geom.Point

// Len returns the total number of stations across modes.
func (s Stations) Len() int {
	n := 0
	for _, pts := range s {
		n += len(pts)
	}
	return n
}

// Gateway is a transit access point usable as a pedestrian entry point.
type Gateway struct {
	ID       int        `json:"id"`
	Location geom.Point `json:"location"`
	Mode     Mode       `json:"mode"`
}

// GatewaySet groups gateways by mode.
type GatewaySet [NumModes][]Gateway

// ModeCounts is the number of gateways available per mode.
type ModeCounts [NumModes]int

// Total sums the counts.
func (c ModeCounts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

// Counts returns the number of gateways per mode.
func (s GatewaySet) Counts() ModeCounts {
	var c ModeCounts
	for m := range s {
		c[m] = len(s[m])
	}
	return c
}

// Len returns the total number of gateways.
func (s GatewaySet) Len() int { return s.Counts().Total() }

// All flattens the set in mode order.
func (s GatewaySet) All() []Gateway {
	out := make([]Gateway, 0, s.Len())
	for _, gws := range s {
		out = append(out, gws...)
	}
	return out
}

// GatewaySearch is the result of LocateGateways.
type GatewaySearch struct {
	Gateways   GatewaySet      `json:"gateways"`
	Box        geo.BoundingBox `json:"box"`        // box the gateways were found in
	Expansions int             `json:"expansions"` // times the box was grown
}

// LocateGateways finds the stations inside box that are not covered by any
// obstacle. While fewer than p.MinGateways are found, the box is grown by
// p.ExpansionStep, at most p.MaxExpansions times; obstacles stay the ones
// supplied by the caller, so gateways may lie beyond the obstacle region.
//
// When the expansions are used up, ErrNoGateways is returned if nothing was
// found. Otherwise the partial result is returned together with an
// *ExhaustedError under ExhaustAbort, or on its own under ExhaustRelax
// (p.GatewayExhaustion).
func LocateGateways(stations Stations, box geo.BoundingBox, obstacles []geo.Polygon, p Params) (GatewaySearch, error) {
	if err := box.Validate(); err != nil {
		return GatewaySearch{}, err
	}
	if err := p.Validate(); err != nil {
		return GatewaySearch{}, err
	}
	oi := geo.NewObstacleIndex(obstacles)

	search := box
	for expansions := 0; ; expansions++ {
		set := collectGateways(stations, search, oi)
		res := GatewaySearch{Gateways: set, Box: search, Expansions: expansions}
		if set.Len() >= p.MinGateways {
			return res, nil
		}
		if expansions >= p.MaxExpansions {
			exhausted := &ExhaustedError{Stage: "gateway search", Attempts: expansions + 1}
			if set.Len() == 0 {
				return res, fmt.Errorf("%w: %w", ErrNoGateways, exhausted)
			}
			if p.GatewayExhaustion == ExhaustRelax {
				monitoring.Logf("[crowd] warning: only %d of %d gateways found in %s after %d expansions",
					set.Len(), p.MinGateways, search, expansions)
				return res, nil
			}
			return res, fmt.Errorf("found %d of %d gateways: %w", set.Len(), p.MinGateways, exhausted)
		}
		search = search.Buffer(p.ExpansionStep)
	}
}

// collectGateways runs the two passes of one search: first every station in
// the box, then only those clear of obstacles. IDs follow output order.
func collectGateways(stations Stations, box geo.BoundingBox, oi *geo.ObstacleIndex) GatewaySet {
	var candidates GatewaySet
	for _, m := range Modes {
		for _, pt := range stations[m] {
			if box.ContainsPoint(pt) {
				candidates[m] = append(candidates[m], Gateway{Location: pt, Mode: m})
			}
		}
	}

	var kept GatewaySet
	id := 0
	for _, m := range Modes {
		for _, gw := range candidates[m] {
			if oi.Covers(gw.Location) {
				continue
			}
			gw.ID = id
			id++
			kept[m] = append(kept[m], gw)
		}
	}
	return kept
}
