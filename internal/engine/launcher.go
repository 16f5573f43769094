// Package engine runs the external pedestrian simulation engine and routes
// its output lines to the progress streams.
package engine

import (
	"context"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Process is a started engine process.
type Process interface {
	// Output returns the merged stdout and stderr of the process.
	Output() io.Reader
	// Wait blocks until the process exits and its output is drained.
	Wait() error
}

// Launcher starts engine processes. This abstraction enables unit testing
// without spawning a JVM.
type Launcher interface {
	Start(ctx context.Context, dir, name string, args ...string) (Process, error)
}

// DefaultWaitDelay bounds how long Wait keeps draining output after the
// engine exits or is killed. Children of the engine that inherited its
// output would otherwise hold Wait open until they exit.
const DefaultWaitDelay = 5 * time.Second

// ExecLauncher implements Launcher with os/exec.
type ExecLauncher struct {
	// WaitDelay overrides DefaultWaitDelay when positive.
	WaitDelay time.Duration
}

// Start runs name with args in dir. Cancelling ctx kills the process.
func (l ExecLauncher) Start(ctx context.Context, dir, name string, args ...string) (Process, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.WaitDelay = DefaultWaitDelay
	if l.WaitDelay > 0 {
		cmd.WaitDelay = l.WaitDelay
	}
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw
	if err := cmd.Start(); err != nil {
		pw.Close()
		return nil, err
	}
	p := &execProcess{out: pr, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		pw.Close()
		close(p.done)
	}()
	return p, nil
}

type execProcess struct {
	out  *io.PipeReader
	done chan struct{}
	err  error
}

func (p *execProcess) Output() io.Reader { return p.out }

func (p *execProcess) Wait() error {
	<-p.done
	return p.err
}

// ScriptedLauncher replays canned output for tests and dry runs.
type ScriptedLauncher struct {
	mu sync.Mutex
	// Lines are emitted in order, one per output line.
	Lines []string
	// ExitCode is reported by Wait; 0 means success.
	ExitCode int
	// Started records every launch as "name arg1 arg2 ...".
	Started []string
	// Dirs records the working directory of every launch.
	Dirs []string
}

// Start records the launch and returns a process replaying Lines.
func (s *ScriptedLauncher) Start(ctx context.Context, dir, name string, args ...string) (Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Started = append(s.Started, strings.Join(append([]string{name}, args...), " "))
	s.Dirs = append(s.Dirs, dir)
	var out string
	if len(s.Lines) > 0 {
		out = strings.Join(s.Lines, "\n") + "\n"
	}
	return &scriptedProcess{out: strings.NewReader(out), code: s.ExitCode}, nil
}

type scriptedProcess struct {
	out  io.Reader
	code int
}

func (p *scriptedProcess) Output() io.Reader { return p.out }

func (p *scriptedProcess) Wait() error {
	if p.code != 0 {
		return exitStatus(p.code)
	}
	return nil
}

// exitStatus is the error a scripted process exits with.
type exitStatus int

func (e exitStatus) Error() string { return "exit status " + strconv.Itoa(int(e)) }
func (e exitStatus) ExitCode() int { return int(e) }
