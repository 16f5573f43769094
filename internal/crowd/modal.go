package crowd

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// weightTolerance bounds the rounding error accepted in a distribution sum.
const weightTolerance = 1e-9

// ModalDistribution holds the share of pedestrians entering through each
// mode, indexed by Mode.
type ModalDistribution [NumModes]float64

// modalTable maps the availability pattern (rail=8, bus=4, bike=2, car=1) to
// the split. Row 0 has no modes and is never used.
var modalTable = [1 << NumModes]ModalDistribution{
	0b1111: {0.55, 0.25, 0.10, 0.10},
	0b1110: {0.60, 0.30, 0.10, 0},
	0b1101: {0.60, 0.30, 0, 0.10},
	0b1100: {0.70, 0.30, 0, 0},
	0b1011: {0.80, 0, 0.10, 0.10},
	0b1010: {0.90, 0, 0.10, 0},
	0b1001: {0.90, 0, 0, 0.10},
	0b1000: {1, 0, 0, 0},
	0b0111: {0, 0.70, 0.15, 0.15},
	0b0110: {0, 0.75, 0.25, 0},
	0b0101: {0, 0.50, 0, 0.50},
	0b0100: {0, 1, 0, 0},
	0b0011: {0, 0, 0.40, 0.60},
	0b0010: {0, 0, 1, 0},
	0b0001: {0, 0, 0, 1},
}

// availability returns the bit pattern of modes with at least one gateway.
func availability(counts ModeCounts) int {
	pattern := 0
	for _, m := range Modes {
		if counts[m] > 0 {
			pattern |= m.bit()
		}
	}
	return pattern
}

// ComputeModalSplit looks up the split for the modes that have gateways.
// A mode with no gateways always gets weight 0.
func ComputeModalSplit(counts ModeCounts) (ModalDistribution, error) {
	for _, m := range Modes {
		if counts[m] < 0 {
			return ModalDistribution{}, fmt.Errorf("%w: negative gateway count %d for %s", ErrInvalidRequest, counts[m], m)
		}
	}
	pattern := availability(counts)
	if pattern == 0 {
		return ModalDistribution{}, ErrNoGateways
	}
	return modalTable[pattern], nil
}

// Weight returns the share of m.
func (d ModalDistribution) Weight(m Mode) float64 { return d[m] }

// Validate checks that the weights are non-negative and sum to 1.
func (d ModalDistribution) Validate() error {
	w := d[:]
	if floats.HasNaN(w) || floats.Min(w) < 0 {
		return fmt.Errorf("modal split has invalid weights %v", w)
	}
	if sum := floats.Sum(w); math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("modal split weights sum to %v, want 1", sum)
	}
	return nil
}

// Select maps u in [0, 1) to a mode by walking the cumulative weights in mode
// order. If rounding leaves u beyond the last range, the last mode with a
// positive weight is returned.
func (d ModalDistribution) Select(u float64) Mode {
	cumulative := 0.0
	last := Rail
	for _, m := range Modes {
		if d[m] <= 0 {
			continue
		}
		last = m
		cumulative += d[m]
		if u < cumulative {
			return m
		}
	}
	return last
}

// Map returns the split keyed by mode name, for reports and charts.
func (d ModalDistribution) Map() map[string]float64 {
	out := make(map[string]float64, NumModes)
	for _, m := range Modes {
		out[m.String()] = d[m]
	}
	return out
}
