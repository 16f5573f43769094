// Package geo holds the planar geometry used to prepare a simulation region:
// bounding boxes, obstacle polygons, intersection predicates and the spatial
// indexes used for gateway exclusion and start point spacing.
package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/ctessum/geom"
)

var (
	// ErrMalformedGeometry is returned for polygons the predicates cannot
	// reason about (too few vertices, non-finite coordinates).
	ErrMalformedGeometry = errors.New("malformed geometry")
	// ErrDegenerateBox is returned for boxes with zero or negative extent.
	ErrDegenerateBox = errors.New("degenerate bounding box")
)

// BoundingBox is an axis-aligned rectangle in the working CRS.
type BoundingBox struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

// NewBoundingBox builds a validated box.
func NewBoundingBox(minX, minY, maxX, maxY float64) (BoundingBox, error) {
	b := BoundingBox{MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY}
	if err := b.Validate(); err != nil {
		return BoundingBox{}, err
	}
	return b, nil
}

// BoxFromExtent builds a box from the [minx, miny, maxx, maxy] extent used by
// the trigger messages.
func BoxFromExtent(extent []float64) (BoundingBox, error) {
	if len(extent) != 4 {
		return BoundingBox{}, fmt.Errorf("%w: extent needs 4 values, got %d", ErrDegenerateBox, len(extent))
	}
	return NewBoundingBox(extent[0], extent[1], extent[2], extent[3])
}

// Validate reports whether the box has finite coordinates and positive extent.
func (b BoundingBox) Validate() error {
	for _, v := range []float64{b.MinX, b.MinY, b.MaxX, b.MaxY} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite coordinate in %s", ErrDegenerateBox, b)
		}
	}
	if b.MinX >= b.MaxX || b.MinY >= b.MaxY {
		return fmt.Errorf("%w: %s", ErrDegenerateBox, b)
	}
	return nil
}

// Buffer returns a new box grown by d on every side.
func (b BoundingBox) Buffer(d float64) BoundingBox {
	return BoundingBox{MinX: b.MinX - d, MinY: b.MinY - d, MaxX: b.MaxX + d, MaxY: b.MaxY + d}
}

// ContainsPoint reports whether p lies inside the box or on its boundary.
func (b BoundingBox) ContainsPoint(p geom.Point) bool {
	return p.X >= b.MinX && p.X <= b.MaxX && p.Y >= b.MinY && p.Y <= b.MaxY
}

// ContainsBox reports whether o lies entirely within b.
func (b BoundingBox) ContainsBox(o BoundingBox) bool {
	return o.MinX >= b.MinX && o.MaxX <= b.MaxX && o.MinY >= b.MinY && o.MaxY <= b.MaxY
}

// Bounds converts the box to a ctessum bounds value.
func (b BoundingBox) Bounds() *geom.Bounds {
	return &geom.Bounds{
		Min: geom.Point{X: b.MinX, Y: b.MinY},
		Max: geom.Point{X: b.MaxX, Y: b.MaxY},
	}
}

// Corners returns the four corners counter-clockwise from (MinX, MinY).
func (b BoundingBox) Corners() [4]geom.Point {
	return [4]geom.Point{
		{X: b.MinX, Y: b.MinY},
		{X: b.MaxX, Y: b.MinY},
		{X: b.MaxX, Y: b.MaxY},
		{X: b.MinX, Y: b.MaxY},
	}
}

// Extent returns the box as [minx, miny, maxx, maxy].
func (b BoundingBox) Extent() [4]float64 {
	return [4]float64{b.MinX, b.MinY, b.MaxX, b.MaxY}
}

func (b BoundingBox) Width() float64  { return b.MaxX - b.MinX }
func (b BoundingBox) Height() float64 { return b.MaxY - b.MinY }

func (b BoundingBox) String() string {
	return fmt.Sprintf("box(%.3f %.3f, %.3f %.3f)", b.MinX, b.MinY, b.MaxX, b.MaxY)
}
