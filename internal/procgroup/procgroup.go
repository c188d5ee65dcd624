// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package procgroup starts external commands in their own process group and
// terminates the whole group, so helper processes spawned by stage scripts
// do not outlive the job.
package procgroup

import "errors"

var (
	// ErrProcessNotFound is returned by Kill when the group no longer exists.
	ErrProcessNotFound = errors.New("process not found")
)
