// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package stage

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrLaunchFailure marks commands that could not be started at all.
var ErrLaunchFailure = errors.New("launch failure")

// Command is one external invocation: an argument vector and its working directory.
type Command struct {
	Name string
	Args []string
	Dir  string
	Env  []string // appended to the daemon environment; nil inherits it unchanged
}

// Argv returns the full argument vector including Name.
func (c Command) Argv() []string {
	return append([]string{c.Name}, c.Args...)
}

// String renders the argument vector, quoting arguments that need it.
func (c Command) String() string {
	argv := c.Argv()
	parts := make([]string, len(argv))
	for i, a := range argv {
		if a == "" || strings.ContainsAny(a, " \t\n\"'\\$`") {
			parts[i] = strconv.Quote(a)
		} else {
			parts[i] = a
		}
	}
	return strings.Join(parts, " ")
}

// LaunchError reports a command that never produced a process.
type LaunchError struct {
	Command Command
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s: %v", e.Command, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrLaunchFailure) match any LaunchError.
func (e *LaunchError) Is(target error) bool { return target == ErrLaunchFailure }

// Result is the outcome of one finished process.
type Result struct {
	Command  Command
	ExitCode int // -1 when the process was terminated by a signal
	Duration time.Duration

	// TimedOut is set when the context deadline expired and the group was terminated.
	TimedOut bool
	// Canceled is set when the context was canceled and the group was terminated.
	Canceled bool
	// Err holds wait or read errors other than a plain non-zero exit.
	Err error
}

// Success reports a clean zero exit.
func (r Result) Success() bool {
	return r.ExitCode == 0 && !r.TimedOut && !r.Canceled && r.Err == nil
}
