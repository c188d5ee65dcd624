// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package stage runs one external command and exposes its merged
// stdout/stderr as a lazy stream of lines.
package stage

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog"

	xglog "github.com/ManuGH/stemrelay/internal/log"
	"github.com/ManuGH/stemrelay/internal/procgroup"
)

const (
	DefaultLineBuffer   = 64
	DefaultKillGrace    = 5 * time.Second
	DefaultMaxLineBytes = 1 << 20
)

// Process is a started command. Lines must be drained before Wait returns;
// Wait drains whatever the caller left unread.
type Process interface {
	// Lines yields merged output in emission order and is closed at end of stream.
	Lines() <-chan string
	// Wait blocks until the stream is exhausted and the process is reaped.
	Wait() Result
	PID() int
}

// Runner starts commands. Cancelling ctx terminates the process group.
type Runner interface {
	Start(ctx context.Context, cmd Command) (Process, error)
}

// ExecRunner runs commands as local OS processes.
type ExecRunner struct {
	LineBuffer   int
	KillGrace    time.Duration
	MaxLineBytes int
	Logger       zerolog.Logger
}

// NewExecRunner returns a runner with default buffering and kill grace.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{
		LineBuffer:   DefaultLineBuffer,
		KillGrace:    DefaultKillGrace,
		MaxLineBytes: DefaultMaxLineBytes,
		Logger:       xglog.WithComponent("stage"),
	}
}

type process struct {
	cmd    *exec.Cmd
	spec   Command
	lines  chan string
	done   chan struct{}
	result Result
	once   sync.Once
}

// Start launches cmd with stdout and stderr sharing one pipe.
func (r *ExecRunner) Start(ctx context.Context, c Command) (Process, error) {
	if c.Name == "" {
		return nil, &LaunchError{Command: c, Err: exec.ErrNotFound}
	}
	logger := xglog.WithContext(ctx, r.Logger)

	// #nosec G204 -- stage commands come from operator configuration
	cmd := exec.Command(c.Name, c.Args...)
	cmd.Dir = c.Dir
	if c.Env != nil {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	procgroup.Set(cmd)

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, &LaunchError{Command: c, Err: err}
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	begin := time.Now()
	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		logger.Error().Err(err).
			Str(xglog.FieldEvent, "stage.launch_failed").
			Str(xglog.FieldCommand, c.String()).
			Msg("failed to launch stage command")
		return nil, &LaunchError{Command: c, Err: err}
	}
	// The child holds its own copy of the write end.
	_ = pw.Close()

	logger.Debug().
		Str(xglog.FieldEvent, "stage.started").
		Str(xglog.FieldCommand, c.String()).
		Int(xglog.FieldPID, cmd.Process.Pid).
		Msg("stage process started")

	buf := r.LineBuffer
	if buf <= 0 {
		buf = DefaultLineBuffer
	}
	p := &process{
		cmd:   cmd,
		spec:  c,
		lines: make(chan string, buf),
		done:  make(chan struct{}),
	}

	readDone := make(chan error, 1)
	go func() {
		readDone <- readLines(pr, p.lines, r.maxLine())
		_ = pr.Close()
	}()

	go r.supervise(ctx, logger, p, readDone, begin)

	return p, nil
}

func (r *ExecRunner) maxLine() int {
	if r.MaxLineBytes <= 0 {
		return DefaultMaxLineBytes
	}
	return r.MaxLineBytes
}

func (r *ExecRunner) grace() time.Duration {
	if r.KillGrace <= 0 {
		return DefaultKillGrace
	}
	return r.KillGrace
}

// supervise reaps the process, terminating its group when ctx ends first.
func (r *ExecRunner) supervise(ctx context.Context, logger zerolog.Logger, p *process, readDone <-chan error, begin time.Time) {
	waitCh := make(chan error, 1)
	go func() { waitCh <- p.cmd.Wait() }()

	res := Result{Command: p.spec}
	var waitErr error
	select {
	case waitErr = <-waitCh:
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			res.TimedOut = true
		} else {
			res.Canceled = true
		}
		logger.Warn().
			Str(xglog.FieldEvent, "stage.terminate").
			Str(xglog.FieldCommand, p.spec.String()).
			Int(xglog.FieldPID, p.cmd.Process.Pid).
			Err(ctx.Err()).
			Msg("terminating stage process group")
		waitErr = procgroup.Terminate(p.cmd, waitCh, r.grace())
	}

	readErr := <-readDone
	res.Duration = time.Since(begin)

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
	case errors.As(waitErr, &exitErr):
	default:
		res.Err = waitErr
	}
	if p.cmd.ProcessState != nil {
		res.ExitCode = p.cmd.ProcessState.ExitCode()
	} else {
		res.ExitCode = -1
	}
	if readErr != nil && res.Err == nil {
		res.Err = readErr
	}

	logger.Debug().
		Str(xglog.FieldEvent, "stage.exit").
		Str(xglog.FieldCommand, p.spec.String()).
		Int(xglog.FieldExitCode, res.ExitCode).
		Dur(xglog.FieldDuration, res.Duration).
		Bool("timed_out", res.TimedOut).
		Msg("stage process exited")

	p.result = res
	close(p.done)
}

func (p *process) Lines() <-chan string { return p.lines }

func (p *process) PID() int { return p.cmd.Process.Pid }

func (p *process) Wait() Result {
	p.once.Do(func() {
		// unread lines would block the reader
		for range p.lines {
		}
	})
	<-p.done
	return p.result
}

// readLines scans r until EOF and always closes out. After a scan error the
// rest of the pipe is discarded so the writer never blocks.
func readLines(r io.Reader, out chan<- string, maxLine int) error {
	defer close(out)

	sc := newLineScanner(r, maxLine)
	for sc.Scan() {
		out <- decode(sc.Bytes())
	}
	if err := sc.Err(); err != nil {
		_, _ = io.Copy(io.Discard, r)
		return err
	}
	return nil
}
