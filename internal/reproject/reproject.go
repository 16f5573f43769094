// Package reproject converts trigger coordinates from the client's CRS into
// the working CRS of the input layers.
package reproject

import (
	"fmt"
	"strings"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/proj"
)

// EPSG codes used by the service.
const (
	WebMercator = "EPSG:3857"
	UTM32N      = "EPSG:25832"
	WGS84       = "EPSG:4326"
)

// Well-known CRS definitions, keyed by EPSG code.
var known = map[string]string{
	WebMercator: "+proj=merc +a=6378137 +b=6378137 +lat_ts=0.0 +lon_0=0.0 +x_0=0.0 +y_0=0 +k=1.0 +units=m +nadgrids=@null +no_defs",
	UTM32N:      "+proj=utm +zone=32 +ellps=GRS80 +towgs84=0,0,0,0,0,0,0 +units=m +no_defs",
	WGS84:       "+proj=longlat +datum=WGS84 +no_defs",
}

// Definition returns the proj4 definition for an "EPSG:nnnn" code. Any other
// value is treated as a proj4 string and returned unchanged.
func Definition(crs string) (string, error) {
	crs = strings.TrimSpace(crs)
	if def, ok := known[strings.ToUpper(crs)]; ok {
		return def, nil
	}
	if strings.HasPrefix(crs, "+") {
		return crs, nil
	}
	return "", fmt.Errorf("unknown coordinate reference system %q", crs)
}

// Transformer converts points between two coordinate reference systems.
type Transformer struct {
	From, To string
	trans    proj.Transformer
}

// New builds a transformer from CRS from to CRS to. Both accept an EPSG code
// from the known list or a proj4 string.
func New(from, to string) (*Transformer, error) {
	fromDef, err := Definition(from)
	if err != nil {
		return nil, err
	}
	toDef, err := Definition(to)
	if err != nil {
		return nil, err
	}
	src, err := proj.Parse(fromDef)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", from, err)
	}
	dst, err := proj.Parse(toDef)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", to, err)
	}
	trans, err := src.NewTransform(dst)
	if err != nil {
		return nil, fmt.Errorf("transform %s -> %s: %w", from, to, err)
	}
	return &Transformer{From: from, To: to, trans: trans}, nil
}

// Point converts p.
func (t *Transformer) Point(p geom.Point) (geom.Point, error) {
	g, err := p.Transform(t.trans)
	if err != nil {
		return geom.Point{}, fmt.Errorf("reproject %v: %w", p, err)
	}
	out, ok := g.(geom.Point)
	if !ok {
		return geom.Point{}, fmt.Errorf("reproject %v: unexpected result %T", p, g)
	}
	return out, nil
}

// XY converts a coordinate pair, as carried by target triggers.
func (t *Transformer) XY(x, y float64) (geom.Point, error) {
	return t.Point(geom.Point{X: x, Y: y})
}
