// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package artifacts maps a job slug to the track files the pipeline is
// expected to leave behind and reports which of them exist.
package artifacts

import (
	"os"
	"path/filepath"
	"strings"
)

// Track names a result file of a job.
type Track string

const (
	Vocals       Track = "vocals"
	Drums        Track = "drums"
	Bass         Track = "bass"
	Other        Track = "other"
	Instrumental Track = "instrumental"
)

// Stems are the tracks written by the separation stage, in display order.
var Stems = []Track{Vocals, Drums, Bass, Other}

// Tracks lists every track in display order.
var Tracks = []Track{Vocals, Drums, Bass, Other, Instrumental}

// ParseTrack validates a track name from a URL.
func ParseTrack(s string) (Track, bool) {
	for _, t := range Tracks {
		if string(t) == s {
			return t, true
		}
	}
	return "", false
}

// Artifact describes one expected track file.
type Artifact struct {
	Track       Track  `json:"track"`
	Path        string `json:"-"`
	Exists      bool   `json:"exists"`
	PreviewPath string `json:"-"`
	HasPreview  bool   `json:"has_preview"`
}

// Locator resolves slugs under a stems root directory. It never caches:
// every call reflects the filesystem at that moment.
type Locator struct {
	root string
}

// NewLocator returns a locator for root.
func NewLocator(root string) *Locator {
	return &Locator{root: root}
}

// Root returns the stems root directory.
func (l *Locator) Root() string { return l.root }

// safe rejects slugs that could address anything outside the root.
func safe(slug string) bool {
	if slug == "" || slug == "." || slug == ".." {
		return false
	}
	return !strings.ContainsAny(slug, `/\`) && !strings.Contains(slug, "..") && !strings.ContainsRune(slug, 0)
}

// Dir returns the artifact directory of slug, or "" for unsafe slugs.
func (l *Locator) Dir(slug string) string {
	if !safe(slug) {
		return ""
	}
	return filepath.Join(l.root, slug)
}

// Path returns the expected location of track, or "" for unsafe slugs.
func (l *Locator) Path(slug string, t Track) string {
	dir := l.Dir(slug)
	if dir == "" {
		return ""
	}
	if t == Instrumental {
		return filepath.Join(dir, slug+"_instrumental.wav")
	}
	return filepath.Join(dir, string(t)+".wav")
}

// PreviewPath returns the expected location of the compressed preview of track.
func (l *Locator) PreviewPath(slug string, t Track) string {
	dir := l.Dir(slug)
	if dir == "" {
		return ""
	}
	if t == Instrumental {
		return filepath.Join(dir, slug+"_instrumental_preview.mp3")
	}
	return filepath.Join(dir, string(t)+"_preview.mp3")
}

// Locate reports every track of slug. Any I/O error counts as absent.
func (l *Locator) Locate(slug string) map[Track]Artifact {
	out := make(map[Track]Artifact, len(Tracks))
	for _, t := range Tracks {
		a := Artifact{Track: t, Path: l.Path(slug, t), PreviewPath: l.PreviewPath(slug, t)}
		a.Exists = isFile(a.Path)
		a.HasPreview = isFile(a.PreviewPath)
		out[t] = a
	}
	return out
}

// HasAny reports whether at least one track file exists.
func (l *Locator) HasAny(slug string) bool {
	for _, t := range Tracks {
		if isFile(l.Path(slug, t)) {
			return true
		}
	}
	return false
}

// PlayablePath returns the file to stream inline for track: the preview if
// present, otherwise the full wav. ok is false when neither exists.
func (l *Locator) PlayablePath(slug string, t Track) (path string, ok bool) {
	if p := l.PreviewPath(slug, t); isFile(p) {
		return p, true
	}
	if p := l.Path(slug, t); isFile(p) {
		return p, true
	}
	return "", false
}

// DownloadPath returns the full-quality file for track if it exists.
func (l *Locator) DownloadPath(slug string, t Track) (string, bool) {
	p := l.Path(slug, t)
	return p, isFile(p)
}

func isFile(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
