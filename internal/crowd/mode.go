// Package crowd prepares the start configuration of a pedestrian simulation:
// it cuts the obstacle layer to the simulated region, finds usable transit
// gateways, splits the crowd across transport modes and places every
// pedestrian at a collision-free start point with a mission.
package crowd

import (
	"fmt"
	"strings"
)

// Mode is a transport mode through which pedestrians enter the region.
type Mode int

const (
	Rail Mode = iota
	Bus
	Bike
	Car
)

// NumModes is the number of transport modes.
const NumModes = 4

// Modes lists every mode in priority order. Gateways, weights and cumulative
// ranges are always walked in this order.
var Modes = [NumModes]Mode{Rail, Bus, Bike, Car}

var modeNames = [NumModes]string{"Rail", "Bus", "Bike", "Car"}

// modeAliases maps lower-cased labels, including the German labels of the
// historic input layers, to modes.
var modeAliases = map[string]Mode{
	"rail":  Rail,
	"train": Rail,
	"bahn":  Rail,
	"bus":   Bus,
	"bike":  Bike,
	"rad":   Bike,
	"car":   Car,
	"auto":  Car,
}

func (m Mode) String() string {
	if m < 0 || int(m) >= NumModes {
		return fmt.Sprintf("Mode(%d)", int(m))
	}
	return modeNames[m]
}

// Valid reports whether m is one of the four known modes.
func (m Mode) Valid() bool { return m >= 0 && int(m) < NumModes }

// bit returns the availability bit of m: rail=8, bus=4, bike=2, car=1.
func (m Mode) bit() int { return 1 << (NumModes - 1 - int(m)) }

// ParseMode parses a mode label case-insensitively.
func ParseMode(s string) (Mode, error) {
	if m, ok := modeAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return m, nil
	}
	return 0, fmt.Errorf("%w: unknown transport mode %q", ErrInvalidRequest, s)
}

func (m Mode) MarshalText() ([]byte, error) {
	if !m.Valid() {
		return nil, fmt.Errorf("invalid mode %d", int(m))
	}
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(b []byte) error {
	v, err := ParseMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}
