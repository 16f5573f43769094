// Command prepare runs one pedestrian start configuration from the command
// line: it writes the engine inputs for a region and optionally runs the
// engine on them, without serving the trigger API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/ctessum/geom"

	"github.com/banshee-data/pedflow/internal/config"
	"github.com/banshee-data/pedflow/internal/crowd"
	"github.com/banshee-data/pedflow/internal/db"
	"github.com/banshee-data/pedflow/internal/geo"
	"github.com/banshee-data/pedflow/internal/layers"
	"github.com/banshee-data/pedflow/internal/monitoring"
	"github.com/banshee-data/pedflow/internal/notify"
	"github.com/banshee-data/pedflow/internal/reproject"
	"github.com/banshee-data/pedflow/internal/run"
)

var errRunFailed = errors.New("run did not succeed")

type options struct {
	extent  string // minx,miny,maxx,maxy in the working CRS
	peds    int    // 0 takes the configured default
	target  string // x,y; empty for random-wander missions
	project bool   // target is in the source CRS
	engine  bool
	dbPath  string
	jsonOut bool
}

// summary is printed after the run.
type summary struct {
	RunID        string             `json:"run_id"`
	Status       string             `json:"status"`
	Kind         string             `json:"kind"`
	Request      crowd.Request      `json:"request"`
	SearchBox    geo.BoundingBox    `json:"search_box"`
	Expansions   int                `json:"expansions"`
	Gateways     crowd.ModeCounts   `json:"gateways"`
	Distribution map[string]float64 `json:"distribution"` // keyed by mode name
	PerMode      crowd.ModeCounts   `json:"per_mode"`
	Relaxed      int                `json:"relaxed"`
	Files        layers.Files       `json:"files"`
	ExitCode     *int               `json:"exit_code,omitempty"`
	Error        string             `json:"error,omitempty"`
}

func main() {
	configFile := flag.String("config", config.DefaultConfigPath, "Path to JSON configuration file")
	var o options
	flag.StringVar(&o.extent, "extent", "", "Region as minx,miny,maxx,maxy (default: configured extent)")
	flag.IntVar(&o.peds, "peds", 0, "Number of pedestrians (default: configured count)")
	flag.StringVar(&o.target, "target", "", "Common target as x,y; empty for random-wander missions")
	flag.BoolVar(&o.project, "project", false, "Reproject -target from the source CRS into the working CRS")
	flag.BoolVar(&o.engine, "engine", false, "Run the simulation engine on the prepared inputs")
	flag.StringVar(&o.dbPath, "db-path", "", "Record the run in this history database")
	flag.BoolVar(&o.jsonOut, "json", false, "Print the run summary as JSON")
	seed := flag.Uint64("seed", 0, "Fixed random seed (0: configured seed or random)")
	dataDir := flag.String("data-dir", "", "Override the output directory")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load config %s: %v", *configFile, err)
	}
	if *seed != 0 {
		cfg.Seed = seed
	}
	if *dataDir != "" {
		cfg.DataDir = dataDir
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = execute(ctx, cfg, o, os.Stdout)
	if errors.Is(err, errRunFailed) {
		os.Exit(1)
	}
	if err != nil {
		log.Fatal(err)
	}
}

// parseFloats parses exactly n comma separated numbers.
func parseFloats(s string, n int) ([]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, fmt.Errorf("expected %d comma separated numbers, got %q", n, s)
	}
	out := make([]float64, n)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", p, err)
		}
		out[i] = v
	}
	return out, nil
}

func buildRequest(cfg *config.Config, o options) (crowd.Request, error) {
	req := crowd.Request{Box: cfg.GetDefaultBox(), Pedestrians: cfg.GetDefaultPedestrians()}
	if o.extent != "" {
		extent, err := parseFloats(o.extent, 4)
		if err != nil {
			return crowd.Request{}, fmt.Errorf("-extent: %w", err)
		}
		if req.Box, err = geo.BoxFromExtent(extent); err != nil {
			return crowd.Request{}, fmt.Errorf("-extent: %w", err)
		}
	}
	if o.peds != 0 {
		req.Pedestrians = o.peds
	}
	if o.target != "" {
		xy, err := parseFloats(o.target, 2)
		if err != nil {
			return crowd.Request{}, fmt.Errorf("-target: %w", err)
		}
		target := geom.Point{X: xy[0], Y: xy[1]}
		if o.project {
			t, err := reproject.New(cfg.GetSourceCRS(), cfg.GetWorkingCRS())
			if err != nil {
				return crowd.Request{}, err
			}
			if target, err = t.Point(target); err != nil {
				return crowd.Request{}, fmt.Errorf("-target: %w", err)
			}
		}
		req.Target = &target
	}
	return req, req.Validate()
}

// execute prepares one run, waits for the engine if one is attached and
// prints the summary. Engine progress lines are echoed to out as they arrive.
func execute(ctx context.Context, cfg *config.Config, o options, out io.Writer) error {
	req, err := buildRequest(cfg, o)
	if err != nil {
		return err
	}

	hub := notify.NewHub(nil)
	orch, err := run.FromConfig(ctx, cfg, hub, o.engine)
	if err != nil {
		return err
	}
	if o.dbPath != "" {
		store, err := db.NewDB(o.dbPath)
		if err != nil {
			return fmt.Errorf("open database %s: %w", o.dbPath, err)
		}
		defer store.Close()
		orch.Store = store
	}

	_, msgs := hub.Subscribe(notify.TopicStatus, notify.TopicProgress)
	var last run.StatusEvent
	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		for msg := range msgs {
			switch msg.Topic {
			case notify.TopicProgress:
				if !o.jsonOut {
					fmt.Fprintf(out, "engine: %s\n", msg.Payload)
				}
			case notify.TopicStatus:
				recordStatus(msg.Payload, &last)
			}
		}
	}()

	finished := make(chan struct{})
	runID, runErr := orch.Run(ctx, req, func() { close(finished) })
	if runErr == nil {
		select {
		case <-finished:
		case <-ctx.Done():
			orch.Cancel()
			<-finished
		}
	}
	orch.Close()
	hub.Close()
	<-consumed

	if runErr != nil {
		return runErr
	}

	s := summary{
		RunID:    runID,
		Status:   string(last.Status),
		ExitCode: last.ExitCode,
		Error:    last.Error,
		Files:    orch.Writer.Files(),
	}
	if plan := orch.LastPlan(); plan != nil {
		s.Request = plan.Request
		s.SearchBox = plan.SearchBox
		s.Expansions = plan.Expansions
		s.Gateways = plan.Counts
		s.Distribution = plan.Distribution.Map()
		s.Kind = run.KindWander
		if plan.TargetMode() {
			s.Kind = run.KindTarget
		}
		s.PerMode = plan.Crowd.PerMode
		s.Relaxed = plan.Crowd.Relaxed
	}
	if err := printSummary(out, s, o.jsonOut); err != nil {
		return err
	}
	if s.Status != string(db.RunPrepared) && s.Status != string(db.RunSucceeded) {
		return fmt.Errorf("%w: %s", errRunFailed, s.Status)
	}
	return nil
}

func printSummary(w io.Writer, s summary, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}
	fmt.Fprintf(w, "run %s (%s): %s\n", s.RunID, s.Kind, s.Status)
	fmt.Fprintf(w, "region %s, searched %s after %d expansions\n", s.Request.Box, s.SearchBox, s.Expansions)
	for _, m := range crowd.Modes {
		fmt.Fprintf(w, "  %-5s %3d gateways  %5.1f%%  %3d pedestrians\n",
			m, s.Gateways[m], 100*s.Distribution[m.String()], s.PerMode[m])
	}
	if s.Relaxed > 0 {
		fmt.Fprintf(w, "%d start points placed with relaxed spacing\n", s.Relaxed)
	}
	fmt.Fprintf(w, "missions: %s\n", s.Files.Missions)
	if s.ExitCode != nil {
		fmt.Fprintf(w, "engine exit code %d\n", *s.ExitCode)
	}
	if s.Error != "" {
		fmt.Fprintf(w, "error: %s\n", s.Error)
	}
	return nil
}

// recordStatus decodes a status event into last. A payload that does not
// decode is logged and leaves last unchanged.
func recordStatus(payload string, last *run.StatusEvent) {
	var ev run.StatusEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		monitoring.Logf("[prepare] ignoring undecodable status event %q: %v", payload, err)
		return
	}
	*last = ev
}
