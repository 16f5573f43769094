package geo

import (
	"strings"

	"github.com/ctessum/geom"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
)

// PointWKT renders p as a WKT point, e.g. "POINT(566000.5 5933800.25)".
func PointWKT(p geom.Point) string {
	return wkt.MarshalString(orb.Point{p.X, p.Y})
}

// FormatWaypoints renders a waypoint list the way the engine expects it in
// the mission table: "[POINT(x y), POINT(x y)]".
func FormatWaypoints(points []geom.Point) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, p := range points {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(PointWKT(p))
	}
	sb.WriteByte(']')
	return sb.String()
}

// ParsePointWKT is the inverse of PointWKT.
func ParsePointWKT(s string) (geom.Point, error) {
	pt, err := wkt.UnmarshalPoint(s)
	if err != nil {
		return geom.Point{}, err
	}
	return geom.Point{X: pt[0], Y: pt[1]}, nil
}
