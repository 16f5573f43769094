package geo

import (
	"fmt"
	"math"

	"github.com/ctessum/geom"
)

// edgeEpsilon is the tolerance used when deciding whether a point lies on a
// polygon edge.
const edgeEpsilon = 1e-9

// Polygon is an immutable obstacle outline: an outer ring plus optional holes.
// Rings may or may not repeat their first vertex at the end.
type Polygon struct {
	rings  geom.Polygon
	bounds *geom.Bounds
}

// NewPolygon validates rings and precomputes the polygon bounds. The rings
// slice is copied so later changes by the caller do not leak in.
func NewPolygon(rings geom.Polygon) (Polygon, error) {
	if len(rings) == 0 {
		return Polygon{}, fmt.Errorf("%w: polygon has no rings", ErrMalformedGeometry)
	}
	cp := make(geom.Polygon, len(rings))
	bounds := &geom.Bounds{
		Min: geom.Point{X: math.Inf(1), Y: math.Inf(1)},
		Max: geom.Point{X: math.Inf(-1), Y: math.Inf(-1)},
	}
	for i, ring := range rings {
		if distinctVertices(ring) < 3 {
			return Polygon{}, fmt.Errorf("%w: ring %d has fewer than 3 distinct vertices", ErrMalformedGeometry, i)
		}
		cp[i] = make(geom.Path, len(ring))
		for j, p := range ring {
			if math.IsNaN(p.X) || math.IsNaN(p.Y) || math.IsInf(p.X, 0) || math.IsInf(p.Y, 0) {
				return Polygon{}, fmt.Errorf("%w: ring %d vertex %d is not finite", ErrMalformedGeometry, i, j)
			}
			cp[i][j] = p
			bounds.Min.X = math.Min(bounds.Min.X, p.X)
			bounds.Min.Y = math.Min(bounds.Min.Y, p.Y)
			bounds.Max.X = math.Max(bounds.Max.X, p.X)
			bounds.Max.Y = math.Max(bounds.Max.Y, p.Y)
		}
	}
	return Polygon{rings: cp, bounds: bounds}, nil
}

// MustPolygon is NewPolygon for literals in tests and fixtures. It panics on
// malformed input.
func MustPolygon(rings geom.Polygon) Polygon {
	p, err := NewPolygon(rings)
	if err != nil {
		panic(err)
	}
	return p
}

// Rect builds the rectangular polygon covering b.
func Rect(b BoundingBox) Polygon {
	c := b.Corners()
	return MustPolygon(geom.Polygon{{c[0], c[1], c[2], c[3], c[0]}})
}

func distinctVertices(ring geom.Path) int {
	seen := make(map[geom.Point]struct{}, len(ring))
	for _, p := range ring {
		seen[p] = struct{}{}
	}
	return len(seen)
}

// Rings returns the polygon rings. Callers must not modify them.
func (p Polygon) Rings() geom.Polygon { return p.rings }

// Bounds returns the polygon's bounding rectangle. It satisfies the rtree
// Spatial interface.
func (p Polygon) Bounds() *geom.Bounds { return p.bounds }

// Box returns the polygon's bounding rectangle as a BoundingBox.
func (p Polygon) Box() BoundingBox {
	return BoundingBox{MinX: p.bounds.Min.X, MinY: p.bounds.Min.Y, MaxX: p.bounds.Max.X, MaxY: p.bounds.Max.Y}
}

// ContainsPoint reports whether pt lies inside the polygon or on one of its
// edges. Holes are handled with the even-odd rule.
func (p Polygon) ContainsPoint(pt geom.Point) bool {
	if p.bounds == nil || pt.X < p.bounds.Min.X || pt.X > p.bounds.Max.X || pt.Y < p.bounds.Min.Y || pt.Y > p.bounds.Max.Y {
		return false
	}
	inside := false
	for _, ring := range p.rings {
		n := len(ring)
		for i, j := 0, n-1; i < n; j, i = i, i+1 {
			a, b := ring[j], ring[i]
			if onSegment(pt, a, b) {
				return true
			}
			if (a.Y > pt.Y) != (b.Y > pt.Y) {
				x := a.X + (pt.Y-a.Y)*(b.X-a.X)/(b.Y-a.Y)
				if pt.X < x {
					inside = !inside
				}
			}
		}
	}
	return inside
}

// IntersectsBox reports whether the polygon and b share at least one point,
// boundaries included.
func (p Polygon) IntersectsBox(b BoundingBox) bool {
	if p.bounds == nil || !b.Bounds().Overlaps(p.bounds) {
		return false
	}
	// A vertex inside the box.
	for _, ring := range p.rings {
		for _, v := range ring {
			if b.ContainsPoint(v) {
				return true
			}
		}
	}
	// The box inside the polygon.
	corners := b.Corners()
	for _, c := range corners {
		if p.ContainsPoint(c) {
			return true
		}
	}
	// Edges crossing without any vertex inside the other shape.
	for _, ring := range p.rings {
		n := len(ring)
		for i, j := 0, n-1; i < n; j, i = i, i+1 {
			for k := 0; k < 4; k++ {
				if segmentsIntersect(ring[j], ring[i], corners[k], corners[(k+1)%4]) {
					return true
				}
			}
		}
	}
	return false
}

func cross(o, a, b geom.Point) float64 {
	return (a.X-o.X)*(b.Y-o.Y) - (a.Y-o.Y)*(b.X-o.X)
}

func onSegment(p, a, b geom.Point) bool {
	scale := math.Abs(b.X-a.X) + math.Abs(b.Y-a.Y) + 1
	if math.Abs(cross(a, b, p)) > edgeEpsilon*scale {
		return false
	}
	return p.X >= math.Min(a.X, b.X)-edgeEpsilon && p.X <= math.Max(a.X, b.X)+edgeEpsilon &&
		p.Y >= math.Min(a.Y, b.Y)-edgeEpsilon && p.Y <= math.Max(a.Y, b.Y)+edgeEpsilon
}

// segmentsIntersect reports whether segments p1p2 and p3p4 touch or cross.
func segmentsIntersect(p1, p2, p3, p4 geom.Point) bool {
	d1 := cross(p3, p4, p1)
	d2 := cross(p3, p4, p2)
	d3 := cross(p1, p2, p3)
	d4 := cross(p1, p2, p4)
	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) && ((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	return onSegment(p1, p3, p4) || onSegment(p2, p3, p4) || onSegment(p3, p1, p2) || onSegment(p4, p1, p2)
}
