package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/banshee-data/pedflow/internal/monitoring"
	"github.com/banshee-data/pedflow/internal/notify"
	"github.com/banshee-data/pedflow/internal/timeutil"
)

// GeometryMarker starts every output line carrying a linestring for the
// live map.
const GeometryMarker = "L"

// DefaultSampleInterval is the minimum gap between forwarded progress lines.
const DefaultSampleInterval = 250 * time.Millisecond

// maxLineBytes bounds a single engine output line.
const maxLineBytes = 4 << 20

// ProcessError reports a non-zero engine exit with everything it printed.
type ProcessError struct {
	Command  string
	ExitCode int
	Output   string
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("engine %q exited with code %d", e.Command, e.ExitCode)
}

// Publisher receives routed engine output. notify.Hub implements it.
type Publisher interface {
	Publish(topic string, payload string)
}

// Result summarises one engine run.
type Result struct {
	Command   string        `json:"command"`
	Lines     int           `json:"lines"`
	Geometry  int           `json:"geometry"`  // lines published on the geometry topic
	Progress  int           `json:"progress"`  // progress lines forwarded
	Throttled int           `json:"throttled"` // progress lines held back by the sample interval
	Duration  time.Duration `json:"duration"`
	Output    string        `json:"-"`
}

// Runner launches the engine and routes its output.
type Runner struct {
	Command        []string // executable and leading arguments, e.g. java -jar abpedsim.jar
	Dir            string   // working directory of the engine
	SampleInterval time.Duration
	Launcher       Launcher
	Clock          timeutil.Clock
	Publisher      Publisher
}

// NewRunner returns a runner using the OS launcher and the real clock.
func NewRunner(command []string, dir string, pub Publisher) *Runner {
	return &Runner{
		Command:        command,
		Dir:            dir,
		SampleInterval: DefaultSampleInterval,
		Launcher:       ExecLauncher{},
		Clock:          timeutil.RealClock{},
		Publisher:      pub,
	}
}

// CommandLine renders the full command for args.
func (r *Runner) CommandLine(args ...string) string {
	return strings.Join(append(append([]string{}, r.Command...), args...), " ")
}

// Run starts the engine with args appended to the configured command and
// blocks until it exits. Lines starting with GeometryMarker are published on
// the geometry topic without the marker; other lines are published on the
// progress topic at most once per SampleInterval. A non-zero exit returns a
// *ProcessError carrying the full output.
func (r *Runner) Run(ctx context.Context, args ...string) (*Result, error) {
	if len(r.Command) == 0 {
		return nil, errors.New("engine command is not configured")
	}
	clock := r.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	cmdline := r.CommandLine(args...)
	res := &Result{Command: cmdline}
	start := clock.Now()

	full := append(append([]string{}, r.Command[1:]...), args...)
	proc, err := r.Launcher.Start(ctx, r.Dir, r.Command[0], full...)
	if err != nil {
		return nil, fmt.Errorf("start %q: %w", cmdline, err)
	}
	monitoring.Logf("[engine] started: %s", cmdline)

	var output strings.Builder
	var lastForward time.Time
	forwarded := false

	sc := bufio.NewScanner(proc.Output())
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		res.Lines++
		output.WriteString(line)
		output.WriteByte('\n')

		if strings.HasPrefix(line, GeometryMarker) {
			res.Geometry++
			r.publish(notify.TopicGeometry, strings.TrimPrefix(line, GeometryMarker))
			continue
		}
		now := clock.Now()
		if forwarded && now.Sub(lastForward) < r.SampleInterval {
			res.Throttled++
			continue
		}
		forwarded = true
		lastForward = now
		res.Progress++
		r.publish(notify.TopicProgress, line)
	}
	scanErr := sc.Err()
	if scanErr != nil {
		// Keep draining so the process is not blocked on a full pipe.
		monitoring.Logf("[engine] output read failed: %v", scanErr)
		drain(proc)
	}

	waitErr := proc.Wait()
	res.Duration = clock.Since(start)
	res.Output = output.String()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, fmt.Errorf("engine cancelled: %w", ctxErr)
	}
	if waitErr != nil {
		var coded interface{ ExitCode() int }
		if errors.As(waitErr, &coded) {
			monitoring.Logf("[engine] exited with code %d after %s", coded.ExitCode(), res.Duration)
			return res, &ProcessError{Command: cmdline, ExitCode: coded.ExitCode(), Output: res.Output}
		}
		return res, fmt.Errorf("wait %q: %w", cmdline, waitErr)
	}
	if scanErr != nil {
		return res, fmt.Errorf("read engine output: %w", scanErr)
	}
	monitoring.Logf("[engine] finished in %s: %d lines, %d geometry, %d progress, %d throttled",
		res.Duration, res.Lines, res.Geometry, res.Progress, res.Throttled)
	return res, nil
}

func (r *Runner) publish(topic, payload string) {
	if r.Publisher != nil {
		r.Publisher.Publish(topic, payload)
	}
}

func drain(p Process) {
	buf := make([]byte, 32*1024)
	for {
		if _, err := p.Output().Read(buf); err != nil {
			return
		}
	}
}
