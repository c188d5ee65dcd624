// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package history

import (
	"context"
	"os"
	"sort"

	"github.com/ManuGH/stemrelay/internal/artifacts"
	"github.com/ManuGH/stemrelay/internal/slug"
)

// DirStore derives records from the stems directory alone: newest
// modification time first, and only directories holding at least one track.
// Put is a no-op; the filesystem is the record.
type DirStore struct {
	locator *artifacts.Locator
}

func NewDirStore(l *artifacts.Locator) *DirStore {
	return &DirStore{locator: l}
}

func (s *DirStore) Put(context.Context, Record) error { return nil }

func (s *DirStore) Get(_ context.Context, name string) (Record, error) {
	dir := s.locator.Dir(name)
	if dir == "" {
		return Record{}, ErrNotFound
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() || !s.locator.HasAny(name) {
		return Record{}, ErrNotFound
	}
	return s.record(name, info), nil
}

func (s *DirStore) ListRecent(ctx context.Context, limit int) ([]Record, error) {
	entries, err := os.ReadDir(s.locator.Root())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	type candidate struct {
		name string
		info os.FileInfo
	}
	var dirs []candidate
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		dirs = append(dirs, candidate{e.Name(), info})
	}
	sort.Slice(dirs, func(i, j int) bool {
		return dirs[i].info.ModTime().After(dirs[j].info.ModTime())
	})

	n := normalizeLimit(limit)
	out := make([]Record, 0, n)
	for _, d := range dirs {
		if len(out) >= n {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !s.locator.HasAny(d.name) {
			continue
		}
		out = append(out, s.record(d.name, d.info))
	}
	return out, nil
}

func (s *DirStore) record(name string, info os.FileInfo) Record {
	status := StatusPartial
	if _, ok := s.locator.DownloadPath(name, artifacts.Instrumental); ok {
		status = StatusCompleted
	}
	return Record{
		Slug:      name,
		Title:     slug.Title(name),
		Status:    status,
		CreatedAt: info.ModTime(),
		UpdatedAt: info.ModTime(),
	}
}

func (s *DirStore) Close() error { return nil }
