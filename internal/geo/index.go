package geo

import (
	"math"

	"github.com/ctessum/geom"
)

// SpacingIndex is an incremental regular-grid index over accepted points.
// It answers "how close is the nearest accepted point" for a candidate, which
// is all the start point sampler needs. Cell size should match the minimum
// separation so a query only has to look at the 3x3 neighbourhood.
type SpacingIndex struct {
	CellSize float64
	Grid     map[int64][]int // Cell ID → point indices
	points   []geom.Point
}

// NewSpacingIndex creates an empty index. A non-positive cell size falls back
// to 1.
func NewSpacingIndex(cellSize float64) *SpacingIndex {
	if cellSize <= 0 || math.IsNaN(cellSize) {
		cellSize = 1
	}
	return &SpacingIndex{
		CellSize: cellSize,
		Grid:     make(map[int64][]int),
	}
}

// Len returns the number of indexed points.
func (si *SpacingIndex) Len() int { return len(si.points) }

// Points returns the indexed points in insertion order.
func (si *SpacingIndex) Points() []geom.Point { return si.points }

// Insert adds p to the index and returns its position.
func (si *SpacingIndex) Insert(p geom.Point) int {
	idx := len(si.points)
	si.points = append(si.points, p)
	id := si.cellID(si.cell(p.X), si.cell(p.Y))
	si.Grid[id] = append(si.Grid[id], idx)
	return idx
}

// Clearance returns the distance from p to the nearest indexed point within
// radius r, or +Inf when there is none.
func (si *SpacingIndex) Clearance(p geom.Point, r float64) float64 {
	best := math.Inf(1)
	if len(si.points) == 0 || r < 0 {
		return best
	}
	rings := int64(math.Ceil(r / si.CellSize))
	if rings < 1 {
		rings = 1
	}
	cx, cy := si.cell(p.X), si.cell(p.Y)
	r2 := r * r
	for dx := -rings; dx <= rings; dx++ {
		for dy := -rings; dy <= rings; dy++ {
			for _, idx := range si.Grid[si.cellID(cx+dx, cy+dy)] {
				q := si.points[idx]
				ddx, ddy := q.X-p.X, q.Y-p.Y
				d2 := ddx*ddx + ddy*ddy
				if d2 <= r2 && d2 < best*best {
					best = math.Sqrt(d2)
				}
			}
		}
	}
	return best
}

func (si *SpacingIndex) cell(v float64) int64 {
	return int64(math.Floor(v / si.CellSize))
}

// cellID computes a unique cell identifier using Szudzik's pairing function
// after zigzag-mapping the signed cell coordinates.
func (si *SpacingIndex) cellID(cellX, cellY int64) int64 {
	a, b := zigzag(cellX), zigzag(cellY)
	if a >= b {
		return a*a + a + b
	}
	return a + b*b
}

func zigzag(v int64) int64 {
	if v >= 0 {
		return 2 * v
	}
	return -2*v - 1
}
