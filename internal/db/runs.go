package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrRunNotFound is returned when no run matches the requested ID.
var ErrRunNotFound = errors.New("run not found")

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunPrepared  RunStatus = "prepared"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Done reports whether the status is terminal.
func (s RunStatus) Done() bool {
	switch s {
	case RunSucceeded, RunFailed, RunCancelled:
		return true
	}
	return false
}

const (
	defaultRunLimit = 50
	maxRunLimit     = 1000
)

// RunRecord is one row of the run history. Per-mode arrays are ordered
// rail, bus, bike, car.
type RunRecord struct {
	RunID         string     `json:"run_id"`
	CreatedAt     time.Time  `json:"created_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	Status        RunStatus  `json:"status"`
	Kind          string     `json:"kind"`
	Box           [4]float64 `json:"box"`
	Pedestrians   int        `json:"pedestrians"`
	Target        []float64  `json:"target,omitempty"`
	Expansions    int        `json:"expansions"`
	Gateways      [4]int     `json:"gateways"`
	Split         [4]float64 `json:"split"`
	Relaxed       int        `json:"relaxed"`
	OutputDir     string     `json:"output_dir"`
	ExitCode      *int       `json:"exit_code,omitempty"`
	DurationMS    int64      `json:"duration_ms"`
	EngineLines   int        `json:"engine_lines"`
	GeometryLines int        `json:"geometry_lines"`
	Error         string     `json:"error,omitempty"`
}

// RunOutcome carries the engine-side results recorded when a run finishes.
type RunOutcome struct {
	Status        RunStatus
	FinishedAt    time.Time
	ExitCode      *int
	Duration      time.Duration
	EngineLines   int
	GeometryLines int
	Err           error
}

const runColumns = `run_id, created_unix_nanos, finished_unix_nanos, status, kind,
	min_x, min_y, max_x, max_y, pedestrians, target_x, target_y, expansions,
	rail_gateways, bus_gateways, bike_gateways, car_gateways,
	rail_share, bus_share, bike_share, car_share,
	relaxed, output_dir, exit_code, duration_ms, engine_lines, geometry_lines, error`

// InsertRun stores a new run. A missing RunID is generated and a zero
// CreatedAt is set to the current time; both are written back to r.
func (db *DB) InsertRun(r *RunRecord) error {
	if r.RunID == "" {
		r.RunID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if r.Status == "" {
		r.Status = RunPrepared
	}

	var targetX, targetY sql.NullFloat64
	if len(r.Target) == 2 {
		targetX = sql.NullFloat64{Float64: r.Target[0], Valid: true}
		targetY = sql.NullFloat64{Float64: r.Target[1], Valid: true}
	}

	_, err := db.Exec(`INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.CreatedAt.UnixNano(), nullTime(r.FinishedAt), string(r.Status), r.Kind,
		r.Box[0], r.Box[1], r.Box[2], r.Box[3], r.Pedestrians, targetX, targetY, r.Expansions,
		r.Gateways[0], r.Gateways[1], r.Gateways[2], r.Gateways[3],
		r.Split[0], r.Split[1], r.Split[2], r.Split[3],
		r.Relaxed, r.OutputDir, nullInt(r.ExitCode), r.DurationMS, r.EngineLines, r.GeometryLines, r.Error,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", r.RunID, err)
	}
	return nil
}

// FinishRun records the terminal state of a run.
func (db *DB) FinishRun(runID string, out RunOutcome) error {
	finished := out.FinishedAt
	if finished.IsZero() {
		finished = time.Now().UTC()
	}
	var msg string
	if out.Err != nil {
		msg = out.Err.Error()
	}
	res, err := db.Exec(`UPDATE runs SET
			status = ?, finished_unix_nanos = ?, exit_code = ?, duration_ms = ?,
			engine_lines = ?, geometry_lines = ?, error = ?
		WHERE run_id = ?`,
		string(out.Status), finished.UnixNano(), nullInt(out.ExitCode), out.Duration.Milliseconds(),
		out.EngineLines, out.GeometryLines, msg, runID,
	)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}
	return checkAffected(res, runID)
}

// GetRun returns the run with the given ID or ErrRunNotFound.
func (db *DB) GetRun(runID string) (*RunRecord, error) {
	row := db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// ListRuns returns the most recent runs, newest first. A non-positive limit
// selects the default page size.
func (db *DB) ListRuns(limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = defaultRunLimit
	}
	if limit > maxRunLimit {
		limit = maxRunLimit
	}

	rows, err := db.Query(`SELECT `+runColumns+` FROM runs
		ORDER BY created_unix_nanos DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []RunRecord{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

// RunCounts returns the number of runs per status.
func (db *DB) RunCounts() (map[RunStatus]int, error) {
	rows, err := db.Query(`SELECT status, COUNT(*) FROM runs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[RunStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[RunStatus(status)] = n
	}
	return counts, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*RunRecord, error) {
	var (
		r                RunRecord
		created          int64
		finished         sql.NullInt64
		status           string
		targetX, targetY sql.NullFloat64
		exitCode         sql.NullInt64
	)
	err := s.Scan(
		&r.RunID, &created, &finished, &status, &r.Kind,
		&r.Box[0], &r.Box[1], &r.Box[2], &r.Box[3], &r.Pedestrians, &targetX, &targetY, &r.Expansions,
		&r.Gateways[0], &r.Gateways[1], &r.Gateways[2], &r.Gateways[3],
		&r.Split[0], &r.Split[1], &r.Split[2], &r.Split[3],
		&r.Relaxed, &r.OutputDir, &exitCode, &r.DurationMS, &r.EngineLines, &r.GeometryLines, &r.Error,
	)
	if err != nil {
		return nil, err
	}

	r.CreatedAt = time.Unix(0, created).UTC()
	r.Status = RunStatus(status)
	if finished.Valid {
		t := time.Unix(0, finished.Int64).UTC()
		r.FinishedAt = &t
	}
	if targetX.Valid && targetY.Valid {
		r.Target = []float64{targetX.Float64, targetY.Float64}
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		r.ExitCode = &code
	}
	return &r, nil
}

func checkAffected(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
