package layers

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ctessum/geom"

	"github.com/banshee-data/pedflow/internal/crowd"
	"github.com/banshee-data/pedflow/internal/geo"
)

// MissionHeader is the header row of the mission table.
var MissionHeader = []string{"startWKT", "mentalModel", "wktWayPoints"}

// ErrMissionFormat is returned for mission tables the engine would not read.
var ErrMissionFormat = errors.New("malformed mission table")

// WriteMissions writes one row per mission in start point order.
func WriteMissions(w io.Writer, missions []crowd.Mission) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(MissionHeader); err != nil {
		return err
	}
	for _, m := range missions {
		row := []string{geo.PointWKT(m.Start), m.MentalModel, geo.FormatWaypoints(m.Waypoints)}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("mission %d: %w", m.StartID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadMissions parses a table written by WriteMissions. Start IDs are the row
// positions.
func ReadMissions(r io.Reader) ([]crowd.Mission, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(MissionHeader)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: header: %w", ErrMissionFormat, err)
	}
	for i, h := range MissionHeader {
		if header[i] != h {
			return nil, fmt.Errorf("%w: column %d is %q, want %q", ErrMissionFormat, i, header[i], h)
		}
	}

	var out []crowd.Mission
	for row := 0; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %w", ErrMissionFormat, row, err)
		}
		start, err := parsePoint(rec[0])
		if err != nil {
			return nil, fmt.Errorf("%w: row %d start: %w", ErrMissionFormat, row, err)
		}
		waypoints, err := parseWaypoints(rec[2])
		if err != nil {
			return nil, fmt.Errorf("%w: row %d waypoints: %w", ErrMissionFormat, row, err)
		}
		out = append(out, crowd.Mission{StartID: row, Start: start, MentalModel: rec[1], Waypoints: waypoints})
	}
	return out, nil
}

// parsePoint accepts both "POINT(x y)" and "POINT (x y)".
func parsePoint(s string) (geom.Point, error) {
	s = strings.TrimSpace(s)
	s = strings.Replace(s, "POINT (", "POINT(", 1)
	return geo.ParsePointWKT(s)
}

func parseWaypoints(s string) ([]geom.Point, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return nil, fmt.Errorf("waypoint list %q is not bracketed", s)
	}
	body := strings.TrimSpace(s[1 : len(s)-1])
	if body == "" {
		return nil, nil
	}
	parts := strings.Split(body, ",")
	out := make([]geom.Point, 0, len(parts))
	for _, part := range parts {
		p, err := parsePoint(part)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
