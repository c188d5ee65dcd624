// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package history keeps a record of every submitted job so results stay
// discoverable after the live observer is gone.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/stemrelay/internal/artifacts"
)

// DefaultLimit is the number of records shown on the index page.
const DefaultLimit = 20

// ErrNotFound is returned by Get for unknown slugs.
var ErrNotFound = errors.New("job record not found")

// Status is the lifecycle state of a job record.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	// StatusPartial marks directories with stems but no remix, as seen by the fs backend.
	StatusPartial Status = "partial"
)

// Terminal reports whether no further updates are expected.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Record is the persisted state of one job.
type Record struct {
	Slug          string    `json:"slug"`
	Title         string    `json:"title"`
	SourceName    string    `json:"source_name,omitempty"`
	Status        Status    `json:"status"`
	FailedStage   string    `json:"failed_stage,omitempty"`
	FailedCommand string    `json:"failed_command,omitempty"`
	ExitCode      int       `json:"exit_code"`
	Reason        string    `json:"reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Store persists job records.
type Store interface {
	// Put inserts or replaces the record for r.Slug. CreatedAt is kept from the first Put.
	Put(ctx context.Context, r Record) error
	// Get returns ErrNotFound for unknown slugs.
	Get(ctx context.Context, slug string) (Record, error)
	// ListRecent returns the newest records first; limit <= 0 means DefaultLimit.
	ListRecent(ctx context.Context, limit int) ([]Record, error)
	Close() error
}

// Backend names accepted by OpenStore.
const (
	BackendSqlite = "sqlite"
	BackendMemory = "memory"
	BackendFS     = "fs"
)

// Backends lists valid backend names.
var Backends = []string{BackendSqlite, BackendMemory, BackendFS}

// OpenStore opens the configured backend. path is the database file for
// sqlite; the fs backend scans the locator root instead.
func OpenStore(backend, path string, locator *artifacts.Locator) (Store, error) {
	switch backend {
	case BackendSqlite, "":
		return NewSqliteStore(path)
	case BackendMemory:
		return NewMemoryStore(), nil
	case BackendFS:
		if locator == nil {
			return nil, fmt.Errorf("history: fs backend requires a locator")
		}
		return NewDirStore(locator), nil
	default:
		return nil, fmt.Errorf("history: unknown backend %q", backend)
	}
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return limit
}
