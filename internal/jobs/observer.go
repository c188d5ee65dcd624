// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package jobs

import (
	"github.com/ManuGH/stemrelay/internal/pipeline"
	"github.com/ManuGH/stemrelay/internal/relay"
)

// Observer receives the live progress of one job. *relay.Relay implements it.
// An error from any method means the observer is gone; it is not called again.
type Observer interface {
	Status(text string, state relay.State) error
	Line(text string) error
	Completed(slug string) error
	Failed(o pipeline.Outcome) error
}

// Discard is an Observer that drops everything.
var Discard Observer = discard{}

type discard struct{}

func (discard) Status(string, relay.State) error { return nil }
func (discard) Line(string) error                { return nil }
func (discard) Completed(string) error           { return nil }
func (discard) Failed(pipeline.Outcome) error    { return nil }

// StatusText is the framing text shown when a stage starts.
func StatusText(s pipeline.StageName) string {
	switch s {
	case pipeline.StageSeparate:
		return "Separating stems (step 1/2)…"
	case pipeline.StageRemix:
		return "Mixing instrumental from stems (step 2/2)…"
	default:
		return string(s)
	}
}

// QueuedText is the framing text shown while waiting for a free worker.
const QueuedText = "Waiting for a free worker…"
