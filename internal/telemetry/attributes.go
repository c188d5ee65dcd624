// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by job and stage spans.
const (
	JobSlugKey   = "job.slug"
	JobStatusKey = "job.status"
	JobReasonKey = "job.reason"

	StageNameKey     = "stage.name"
	StageCommandKey  = "stage.command"
	StageExitCodeKey = "stage.exit_code"
	StageLinesKey    = "stage.lines"
	StageTimedOutKey = "stage.timed_out"

	ErrorTypeKey = "error.type"
)

// JobAttributes creates job-level span attributes.
func JobAttributes(slug, status string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(JobSlugKey, slug)}
	if status != "" {
		attrs = append(attrs, attribute.String(JobStatusKey, status))
	}
	return attrs
}

// StageAttributes creates attributes for a stage span at start.
func StageAttributes(stage, command string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(StageNameKey, stage),
		attribute.String(StageCommandKey, command),
	}
}

// StageResultAttributes creates attributes recorded when a stage ends.
func StageResultAttributes(exitCode, lines int, timedOut bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(StageExitCodeKey, exitCode),
		attribute.Int(StageLinesKey, lines),
		attribute.Bool(StageTimedOutKey, timedOut),
	}
}
