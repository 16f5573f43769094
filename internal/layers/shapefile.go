// Package layers reads the input layers of a run from ESRI shapefiles and
// writes the prepared start configuration back out for the engine.
package layers

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	goshp "github.com/jonas-p/go-shp"

	"github.com/banshee-data/pedflow/internal/crowd"
	"github.com/banshee-data/pedflow/internal/geo"
)

// ReadPolygons loads every polygon of a Polygon shapefile. Multi-polygon rows
// are split into one polygon per part.
func ReadPolygons(path string) ([]geo.Polygon, error) {
	dec, err := shp.NewDecoder(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer dec.Close()

	var out []geo.Polygon
	for row := 0; ; row++ {
		g, _, more := dec.DecodeRowFields()
		if !more {
			break
		}
		var parts []geom.Polygon
		switch v := g.(type) {
		case geom.Polygon:
			parts = []geom.Polygon{v}
		case geom.MultiPolygon:
			parts = v
		default:
			return nil, fmt.Errorf("%s row %d: %w: expected polygon, got %T", path, row, geo.ErrMalformedGeometry, g)
		}
		for _, rings := range parts {
			p, err := geo.NewPolygon(rings)
			if err != nil {
				return nil, fmt.Errorf("%s row %d: %w", path, row, err)
			}
			out = append(out, p)
		}
	}
	if err := dec.Error(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return out, nil
}

// ReadPoints loads every point of a Point shapefile. Multi-point rows are
// split into their members.
func ReadPoints(path string) ([]geom.Point, error) {
	dec, err := shp.NewDecoder(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer dec.Close()

	var out []geom.Point
	for row := 0; ; row++ {
		g, _, more := dec.DecodeRowFields()
		if !more {
			break
		}
		switch v := g.(type) {
		case geom.Point:
			out = append(out, v)
		case geom.MultiPoint:
			out = append(out, v...)
		default:
			return nil, fmt.Errorf("%s row %d: %w: expected point, got %T", path, row, geo.ErrMalformedGeometry, g)
		}
	}
	if err := dec.Error(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return out, nil
}

// WritePolygons writes polygons with a sequential id field.
func WritePolygons(path string, polygons []geo.Polygon) error {
	enc, err := shp.NewEncoderFromFields(path, goshp.POLYGON, goshp.NumberField("id", 10))
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer enc.Close()
	for i, p := range polygons {
		if err := enc.EncodeFields(p.Rings(), i); err != nil {
			return fmt.Errorf("write %s row %d: %w", path, i, err)
		}
	}
	return nil
}

// WriteGateways writes gateways with their id and transport mode.
func WriteGateways(path string, gateways []crowd.Gateway) error {
	enc, err := shp.NewEncoderFromFields(path, goshp.POINT,
		goshp.NumberField("id", 10), goshp.StringField("transport", 10))
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer enc.Close()
	for _, gw := range gateways {
		if err := enc.EncodeFields(gw.Location, gw.ID, gw.Mode.String()); err != nil {
			return fmt.Errorf("write %s gateway %d: %w", path, gw.ID, err)
		}
	}
	return nil
}

// WriteStartPoints writes pedestrian start points with their id.
func WriteStartPoints(path string, points []crowd.StartPoint) error {
	enc, err := shp.NewEncoderFromFields(path, goshp.POINT, goshp.NumberField("id", 10))
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer enc.Close()
	for _, sp := range points {
		if err := enc.EncodeFields(sp.Location, sp.ID); err != nil {
			return fmt.Errorf("write %s pedestrian %d: %w", path, sp.ID, err)
		}
	}
	return nil
}

// ReadGateways loads a gateways layer written by WriteGateways.
func ReadGateways(path string) ([]crowd.Gateway, error) {
	dec, err := shp.NewDecoder(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer dec.Close()

	var out []crowd.Gateway
	for row := 0; ; row++ {
		g, fields, more := dec.DecodeRowFields("id", "transport")
		if !more {
			break
		}
		pt, ok := g.(geom.Point)
		if !ok {
			return nil, fmt.Errorf("%s row %d: %w: expected point, got %T", path, row, geo.ErrMalformedGeometry, g)
		}
		id, err := strconv.Atoi(cleanField(fields["id"]))
		if err != nil {
			return nil, fmt.Errorf("%s row %d: bad id: %w", path, row, err)
		}
		mode, err := crowd.ParseMode(cleanField(fields["transport"]))
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", path, row, err)
		}
		out = append(out, crowd.Gateway{ID: id, Location: pt, Mode: mode})
	}
	if err := dec.Error(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return out, nil
}

// cleanField strips the padding dBase leaves around attribute values.
func cleanField(s string) string {
	return strings.Trim(s, " \x00")
}
