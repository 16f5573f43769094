package geo

import (
	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"
)

// indexedPolygon ties an rtree entry back to its position in the obstacle
// slice.
type indexedPolygon struct {
	geom.Polygon
	idx int
}

// ObstacleIndex answers point-in-obstacle queries over a fixed set of
// polygons using an R-tree on their bounds.
type ObstacleIndex struct {
	tree     *rtree.Rtree
	polygons []Polygon
}

// NewObstacleIndex indexes polygons. The slice is retained, not copied.
func NewObstacleIndex(polygons []Polygon) *ObstacleIndex {
	tree := rtree.NewTree(25, 50)
	for i, p := range polygons {
		tree.Insert(&indexedPolygon{Polygon: p.Rings(), idx: i})
	}
	return &ObstacleIndex{tree: tree, polygons: polygons}
}

// Covers reports whether p lies inside or on the boundary of any obstacle.
func (oi *ObstacleIndex) Covers(p geom.Point) bool {
	_, ok := oi.Find(p)
	return ok
}

// Find returns the position of the first obstacle (in input order) covering
// p.
func (oi *ObstacleIndex) Find(p geom.Point) (int, bool) {
	if len(oi.polygons) == 0 {
		return -1, false
	}
	// Pad the probe so polygons whose bounds merely touch p are returned.
	probe := &geom.Bounds{
		Min: geom.Point{X: p.X - edgeEpsilon, Y: p.Y - edgeEpsilon},
		Max: geom.Point{X: p.X + edgeEpsilon, Y: p.Y + edgeEpsilon},
	}
	found := -1
	for _, hit := range oi.tree.SearchIntersect(probe) {
		ip, ok := hit.(*indexedPolygon)
		if !ok {
			continue
		}
		if (found < 0 || ip.idx < found) && oi.polygons[ip.idx].ContainsPoint(p) {
			found = ip.idx
		}
	}
	return found, found >= 0
}
