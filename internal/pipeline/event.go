// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package pipeline

import (
	"fmt"
	"time"

	"github.com/ManuGH/stemrelay/internal/stage"
)

// EventKind discriminates Event.
type EventKind int

const (
	EventStageStarted EventKind = iota + 1
	EventLine
	EventOutcome
)

func (k EventKind) String() string {
	switch k {
	case EventStageStarted:
		return "stage_started"
	case EventLine:
		return "line"
	case EventOutcome:
		return "outcome"
	default:
		return "unknown"
	}
}

// Event is one item of a pipeline run. A run emits StageStarted and Line
// events in order and ends with exactly one Outcome event.
type Event struct {
	Kind    EventKind
	Stage   StageName
	Command stage.Command // EventStageStarted
	Line    string        // EventLine
	Outcome *Outcome      // EventOutcome
}

// Status is the terminal state of a job.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Reason explains a failed outcome.
type Reason string

const (
	ReasonNonZeroExit   Reason = "stage exited with non-zero status"
	ReasonLaunchFailure Reason = "launch failure"
	ReasonOutputError   Reason = "stage output could not be read"
	ReasonDeadline      Reason = "stage deadline exceeded"
	ReasonCanceled      Reason = "canceled"
)

// Outcome is produced once per run. Failed outcomes always name the
// failing stage and command.
type Outcome struct {
	Slug     string
	Status   Status
	Reason   Reason
	Stage    StageName
	Command  stage.Command
	ExitCode int
	Err      error
	Duration time.Duration
}

// Completed reports a successful run.
func (o Outcome) Completed() bool { return o.Status == StatusCompleted }

// Message renders the failure line shown to observers, empty on success.
func (o Outcome) Message() string {
	switch {
	case o.Completed():
		return ""
	case o.Reason == ReasonNonZeroExit:
		return fmt.Sprintf("command failed: %s (exit code %d)", o.Command, o.ExitCode)
	case o.Err != nil:
		return fmt.Sprintf("command failed: %s (%s: %v)", o.Command, o.Reason, o.Err)
	default:
		return fmt.Sprintf("command failed: %s (%s)", o.Command, o.Reason)
	}
}
