// Package run executes one pedestrian run end to end: load the input
// layers, prepare the start configuration, write the engine inputs, record
// the run and drive the engine in the background.
package run

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/pedflow/internal/crowd"
	"github.com/banshee-data/pedflow/internal/db"
	"github.com/banshee-data/pedflow/internal/engine"
	"github.com/banshee-data/pedflow/internal/layers"
	"github.com/banshee-data/pedflow/internal/monitoring"
	"github.com/banshee-data/pedflow/internal/notify"
	"github.com/banshee-data/pedflow/internal/preview"
	"github.com/banshee-data/pedflow/internal/timeutil"
)

// Kinds of run recorded in the history.
const (
	KindWander = "wander"
	KindTarget = "target"
)

// Store persists the run history. *db.DB implements it.
type Store interface {
	InsertRun(r *db.RunRecord) error
	FinishRun(runID string, out db.RunOutcome) error
}

// Engine runs the simulation on prepared inputs. *engine.Runner implements
// it.
type Engine interface {
	Run(ctx context.Context, args ...string) (*engine.Result, error)
}

// StatusEvent is published on notify.TopicStatus whenever a run changes
// state.
type StatusEvent struct {
	RunID       string           `json:"run_id"`
	Status      db.RunStatus     `json:"status"`
	Kind        string           `json:"kind"`
	Pedestrians int              `json:"pedestrians"`
	Gateways    crowd.ModeCounts `json:"gateways"`
	ExitCode    *int             `json:"exit_code,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// Orchestrator implements session.Runner.
type Orchestrator struct {
	Load         func() (crowd.Inputs, error)
	Params       crowd.Params
	Writer       *layers.Writer
	Preview      bool
	Engine       Engine // nil prepares without running the engine
	NetworkLayer string // routing network passed as the engine's last argument
	Timeout      time.Duration
	Store        Store // optional
	Hub          *notify.Hub
	Seed         *uint64 // fixed seed for every run; nil draws one per run
	Clock        timeutil.Clock

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	lastPlan *crowd.Plan
	active   context.CancelFunc
}

// New returns an orchestrator loading inputs from sources. Engine runs are
// bound to ctx; cancelling it stops the active engine.
func New(ctx context.Context, sources layers.Sources, p crowd.Params, w *layers.Writer) *Orchestrator {
	ctx, cancel := context.WithCancel(ctx)
	return &Orchestrator{
		Load:   func() (crowd.Inputs, error) { return layers.Load(sources) },
		Params: p,
		Writer: w,
		Clock:  timeutil.RealClock{},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Run prepares req and, with an engine configured, starts it in the
// background. It returns the run ID once the engine inputs are written.
// done is called when the engine exits, or before Run returns when there is
// no engine.
func (o *Orchestrator) Run(ctx context.Context, req crowd.Request, done func()) (string, error) {
	if o.ctx == nil {
		o.ctx, o.cancel = context.WithCancel(context.Background())
	}
	clock := o.clock()
	rec := &db.RunRecord{
		RunID:       uuid.NewString(),
		CreatedAt:   clock.Now().UTC(),
		Kind:        KindWander,
		Box:         req.Box.Extent(),
		Pedestrians: req.Pedestrians,
	}
	if req.Target != nil {
		rec.Kind = KindTarget
		rec.Target = []float64{req.Target.X, req.Target.Y}
	}
	if o.Writer != nil {
		rec.OutputDir = o.Writer.Dir
	}

	plan, files, err := o.prepare(ctx, rec.RunID, req)
	if plan != nil {
		rec.Expansions = plan.Expansions
		rec.Gateways = plan.Counts
		rec.Split = plan.Distribution
		rec.Relaxed = plan.Crowd.Relaxed
	}
	if err != nil {
		rec.Status = db.RunFailed
		rec.Error = err.Error()
		finished := clock.Now().UTC()
		rec.FinishedAt = &finished
		o.record(rec)
		o.publishStatus(rec, nil)
		return "", err
	}

	o.mu.Lock()
	o.lastPlan = plan
	o.mu.Unlock()

	if o.Engine == nil {
		rec.Status = db.RunPrepared
		o.record(rec)
		o.publishStatus(rec, nil)
		monitoring.Logf("[run] %s prepared in %s", rec.RunID, o.Writer.Dir)
		done()
		return rec.RunID, nil
	}

	rec.Status = db.RunRunning
	o.record(rec)
	o.publishStatus(rec, nil)

	runCtx, cancel := o.engineContext()
	o.mu.Lock()
	o.active = cancel
	o.mu.Unlock()

	args := []string{files.Boundaries, files.Pedestrians, files.Missions, o.networkPath()}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer done()
		defer func() {
			o.mu.Lock()
			o.active = nil
			o.mu.Unlock()
			cancel()
		}()
		o.runEngine(runCtx, rec, args)
	}()
	return rec.RunID, nil
}

func (o *Orchestrator) prepare(ctx context.Context, runID string, req crowd.Request) (*crowd.Plan, layers.Files, error) {
	if err := ctx.Err(); err != nil {
		return nil, layers.Files{}, err
	}
	if o.Load == nil || o.Writer == nil {
		return nil, layers.Files{}, errors.New("run orchestrator is not configured")
	}
	inputs, err := o.Load()
	if err != nil {
		return nil, layers.Files{}, fmt.Errorf("load layers: %w", err)
	}

	seed := rand.Uint64()
	if o.Seed != nil {
		seed = *o.Seed
	}
	monitoring.Logf("[run] %s: %d pedestrians in %s, seed %d", runID, req.Pedestrians, req.Box, seed)

	plan, err := crowd.Prepare(inputs, req, o.Params, rand.New(rand.NewPCG(seed, seed)))
	if err != nil {
		return plan, layers.Files{}, err
	}
	files, err := o.Writer.Write(plan)
	if err != nil {
		return plan, layers.Files{}, fmt.Errorf("write engine inputs: %w", err)
	}
	if o.Preview {
		path := filepath.Join(o.Writer.Dir, preview.FileName)
		if err := preview.Save(o.Writer.FS, path, plan); err != nil {
			monitoring.Logf("[run] %s: preview failed: %v", runID, err)
		}
	}
	return plan, files, nil
}

func (o *Orchestrator) runEngine(ctx context.Context, rec *db.RunRecord, args []string) {
	res, err := o.Engine.Run(ctx, args...)

	out := db.RunOutcome{Status: db.RunSucceeded, FinishedAt: o.clock().Now().UTC(), Err: err}
	if res != nil {
		out.Duration = res.Duration
		out.EngineLines = res.Lines
		out.GeometryLines = res.Geometry
	}
	var procErr *engine.ProcessError
	switch {
	case err == nil:
		code := 0
		out.ExitCode = &code
	case errors.As(err, &procErr):
		out.Status = db.RunFailed
		out.ExitCode = &procErr.ExitCode
	case errors.Is(err, context.Canceled):
		out.Status = db.RunCancelled
	default:
		out.Status = db.RunFailed
	}
	if err != nil {
		monitoring.Logf("[run] %s: engine %s: %v", rec.RunID, out.Status, err)
	}

	if o.Store != nil {
		if err := o.Store.FinishRun(rec.RunID, out); err != nil {
			monitoring.Logf("[run] %s: failed to record outcome: %v", rec.RunID, err)
		}
	}
	rec.Status = out.Status
	if err != nil {
		rec.Error = err.Error()
	}
	o.publishStatus(rec, out.ExitCode)
}

func (o *Orchestrator) engineContext() (context.Context, context.CancelFunc) {
	if o.Timeout > 0 {
		return context.WithTimeout(o.ctx, o.Timeout)
	}
	return context.WithCancel(o.ctx)
}

func (o *Orchestrator) networkPath() string {
	if o.NetworkLayer == "" || filepath.IsAbs(o.NetworkLayer) {
		return o.NetworkLayer
	}
	return filepath.Join(o.Writer.Dir, o.NetworkLayer)
}

func (o *Orchestrator) record(rec *db.RunRecord) {
	if o.Store == nil {
		return
	}
	if err := o.Store.InsertRun(rec); err != nil {
		monitoring.Logf("[run] %s: failed to record run: %v", rec.RunID, err)
	}
}

func (o *Orchestrator) publishStatus(rec *db.RunRecord, exitCode *int) {
	if o.Hub == nil {
		return
	}
	ev := StatusEvent{
		RunID:       rec.RunID,
		Status:      rec.Status,
		Kind:        rec.Kind,
		Pedestrians: rec.Pedestrians,
		Gateways:    rec.Gateways,
		ExitCode:    exitCode,
		Error:       rec.Error,
	}
	if err := o.Hub.PublishJSON(notify.TopicStatus, ev); err != nil {
		monitoring.Logf("[run] %s: publish status: %v", rec.RunID, err)
	}
}

func (o *Orchestrator) clock() timeutil.Clock {
	if o.Clock == nil {
		return timeutil.RealClock{}
	}
	return o.Clock
}

// LastPlan returns the most recently prepared plan, or nil.
func (o *Orchestrator) LastPlan() *crowd.Plan {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastPlan
}

// Cancel stops the active engine run, if any. It reports whether a run was
// cancelled.
func (o *Orchestrator) Cancel() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil {
		return false
	}
	o.active()
	return true
}

// Wait blocks until background engine runs have finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Close cancels any active engine run and waits for it to finish.
func (o *Orchestrator) Close() {
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
}
