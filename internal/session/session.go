// Package session holds the trigger state of the service: whether a run is
// active and which region target-mode runs use once armed.
package session

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ctessum/geom"

	"github.com/banshee-data/pedflow/internal/crowd"
	"github.com/banshee-data/pedflow/internal/geo"
	"github.com/banshee-data/pedflow/internal/monitoring"
	"github.com/banshee-data/pedflow/internal/reproject"
	"github.com/banshee-data/pedflow/internal/timeutil"
)

var (
	// ErrRunInProgress is returned for triggers arriving while a run is
	// active. Triggers are not queued.
	ErrRunInProgress = errors.New("a run is already in progress")
	// ErrNotArmed is returned for target triggers before any arming start
	// trigger. The trigger is ignored.
	ErrNotArmed = errors.New("session is not armed for target runs")
)

// Start trigger types.
const (
	StartWander = 0 // run now with random-wander missions
	StartArm    = 1 // remember region and count for target triggers
)

// StartTrigger asks for a run (type 0) or arms target mode (type 1).
type StartTrigger struct {
	Extent []float64 `json:"extent"`
	Peds   int       `json:"peds"`
	Type   int       `json:"type"`
}

// TargetTrigger carries a target in the client's CRS.
type TargetTrigger struct {
	Point []float64 `json:"point"`
}

// Runner executes one run. Run returns once the run is prepared; work that
// continues in the background must call done when it finishes. If Run
// returns an error, done must not be called.
type Runner interface {
	Run(ctx context.Context, req crowd.Request, done func()) (string, error)
}

// Action tells the caller what a trigger did.
type Action string

const (
	ActionStarted Action = "started"
	ActionArmed   Action = "armed"
	ActionIgnored Action = "ignored"
)

// Outcome describes the effect of a trigger.
type Outcome struct {
	Action      Action           `json:"action"`
	RunID       string           `json:"run_id,omitempty"`
	Box         *geo.BoundingBox `json:"box,omitempty"`
	Pedestrians int              `json:"pedestrians,omitempty"`
	Target      *geom.Point      `json:"target,omitempty"`
}

// Armed is the region and crowd size used by target triggers.
type Armed struct {
	Box         geo.BoundingBox `json:"box"`
	Pedestrians int             `json:"pedestrians"`
	Since       time.Time       `json:"since"`
}

// State is a snapshot of the session.
type State struct {
	Running    bool        `json:"running"`
	CurrentRun string      `json:"current_run,omitempty"`
	Armed      *Armed      `json:"armed,omitempty"`
	LastTarget *geom.Point `json:"last_target,omitempty"`
	Runs       int         `json:"runs"`
}

// Session serialises runs and carries the armed target-mode parameters.
type Session struct {
	runner    Runner
	transform *reproject.Transformer
	clock     timeutil.Clock

	mu         sync.Mutex
	running    bool
	currentRun string
	armed      *Armed
	lastTarget *geom.Point
	runs       int
	gen        uint64 // bumped per launch so stale done calls are ignored
}

// New creates a session. transform converts target trigger coordinates into
// the working CRS; nil means they already are.
func New(runner Runner, transform *reproject.Transformer, clock timeutil.Clock) *Session {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Session{runner: runner, transform: transform, clock: clock}
}

// Start handles a start trigger.
func (s *Session) Start(ctx context.Context, t StartTrigger) (Outcome, error) {
	box, err := geo.BoxFromExtent(t.Extent)
	if err != nil {
		return Outcome{}, err
	}
	if t.Peds < 1 {
		return Outcome{}, fmt.Errorf("%w: peds must be at least 1, got %d", crowd.ErrInvalidRequest, t.Peds)
	}

	switch t.Type {
	case StartArm:
		s.mu.Lock()
		s.armed = &Armed{Box: box, Pedestrians: t.Peds, Since: s.clock.Now()}
		s.mu.Unlock()
		monitoring.Logf("[session] armed for target runs: %d pedestrians in %s", t.Peds, box)
		return Outcome{Action: ActionArmed, Box: &box, Pedestrians: t.Peds}, nil
	case StartWander:
		s.mu.Lock()
		if s.armed != nil {
			monitoring.Logf("[session] disarmed by start trigger")
		}
		s.armed = nil
		s.mu.Unlock()
		id, err := s.launch(ctx, crowd.Request{Box: box, Pedestrians: t.Peds})
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Action: ActionStarted, RunID: id, Box: &box, Pedestrians: t.Peds}, nil
	default:
		return Outcome{}, fmt.Errorf("%w: unknown start type %d", crowd.ErrInvalidRequest, t.Type)
	}
}

// Target handles a target trigger. When the session is armed the target is
// reprojected and a target-mode run starts; the session stays armed.
func (s *Session) Target(ctx context.Context, t TargetTrigger) (Outcome, error) {
	if len(t.Point) != 2 {
		return Outcome{}, fmt.Errorf("%w: point needs 2 values, got %d", crowd.ErrInvalidRequest, len(t.Point))
	}
	for _, v := range t.Point {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Outcome{}, fmt.Errorf("%w: point is not finite", crowd.ErrInvalidRequest)
		}
	}
	target := geom.Point{X: t.Point[0], Y: t.Point[1]}
	if s.transform != nil {
		p, err := s.transform.Point(target)
		if err != nil {
			return Outcome{}, fmt.Errorf("%w: %w", crowd.ErrInvalidRequest, err)
		}
		target = p
	}

	s.mu.Lock()
	s.lastTarget = &target
	armed := s.armed
	s.mu.Unlock()

	if armed == nil {
		monitoring.Logf("[session] target (%.3f %.3f) ignored: not armed", target.X, target.Y)
		return Outcome{Action: ActionIgnored, Target: &target}, ErrNotArmed
	}

	id, err := s.launch(ctx, crowd.Request{Box: armed.Box, Pedestrians: armed.Pedestrians, Target: &target})
	if err != nil {
		return Outcome{}, err
	}
	box := armed.Box
	return Outcome{Action: ActionStarted, RunID: id, Box: &box, Pedestrians: armed.Pedestrians, Target: &target}, nil
}

// launch claims the run slot and hands req to the runner.
func (s *Session) launch(ctx context.Context, req crowd.Request) (string, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return "", ErrRunInProgress
	}
	s.running = true
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			s.mu.Lock()
			if s.gen == gen {
				s.running = false
				s.currentRun = ""
			}
			s.mu.Unlock()
		})
	}

	id, err := s.runner.Run(ctx, req, release)
	if err != nil {
		release()
		return "", err
	}
	s.mu.Lock()
	s.runs++
	if s.running && s.gen == gen {
		s.currentRun = id
	}
	s.mu.Unlock()
	return id, nil
}

// State returns a snapshot of the session.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := State{Running: s.running, CurrentRun: s.currentRun, Runs: s.runs}
	if s.armed != nil {
		a := *s.armed
		st.Armed = &a
	}
	if s.lastTarget != nil {
		p := *s.lastTarget
		st.LastTarget = &p
	}
	return st
}

// Disarm clears target mode.
func (s *Session) Disarm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armed = nil
}
