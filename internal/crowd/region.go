package crowd

import "github.com/banshee-data/pedflow/internal/geo"

// FilterRegion returns the polygons that intersect box grown by buffer, in
// input order. Polygons touching the buffered box are kept.
func FilterRegion(polygons []geo.Polygon, box geo.BoundingBox, buffer float64) []geo.Polygon {
	area := box.Buffer(buffer)
	out := make([]geo.Polygon, 0, len(polygons))
	for _, p := range polygons {
		if p.IntersectsBox(area) {
			out = append(out, p)
		}
	}
	return out
}
