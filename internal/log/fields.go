// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldJobID     = "job_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldStage     = "stage"
	FieldCommand   = "command"
	FieldExitCode  = "exit_code"
	FieldPID       = "pid"
	FieldReason    = "reason"
	FieldDuration  = "duration"

	// Artifact fields
	FieldTrack = "track"
	FieldPath  = "path"

	// HTTP fields
	FieldMethod = "method"
	FieldRoute  = "route"
	FieldStatus = "status"
	FieldBytes  = "bytes"
)
