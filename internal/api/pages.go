// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"bytes"
	"errors"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/stemrelay/internal/artifacts"
	"github.com/ManuGH/stemrelay/internal/fsutil"
	"github.com/ManuGH/stemrelay/internal/history"
	xglog "github.com/ManuGH/stemrelay/internal/log"
	"github.com/ManuGH/stemrelay/internal/slug"
)

type historyItem struct {
	Slug            string
	Title           string
	Status          history.Status
	HasInstrumental bool
	When            string
}

type indexPage struct {
	Flash        string
	MaxUploadMiB int64
	History      []historyItem
}

type trackPage struct {
	Title  string
	Flash  string
	Record *history.Record
	Tracks []trackView
	Dir    string
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, name string, data any) {
	var buf bytes.Buffer
	if err := s.pages.ExecuteTemplate(&buf, name, data); err != nil {
		xglog.FromContext(r.Context()).Error().Err(err).Str(xglog.FieldEvent, "page.render_failed").Str("page", name).Msg("page render failed")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = buf.WriteTo(w)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	cfg := s.cfg()
	page := indexPage{
		Flash:        popFlash(w, r),
		MaxUploadMiB: cfg.API.MaxUploadBytes >> 20,
	}
	recs, err := s.jobs.Store().ListRecent(r.Context(), cfg.History.Limit)
	if err != nil {
		xglog.FromContext(r.Context()).Warn().Err(err).Str(xglog.FieldEvent, "history.list_failed").Msg("history unavailable")
	}
	for _, rec := range recs {
		_, hasInst := s.locator.DownloadPath(rec.Slug, artifacts.Instrumental)
		page.History = append(page.History, historyItem{
			Slug:            rec.Slug,
			Title:           rec.Title,
			Status:          rec.Status,
			HasInstrumental: hasInst,
			When:            since(rec.UpdatedAt),
		})
	}
	s.render(w, r, "index.html", page)
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "slug")
	if !slug.Valid(id) {
		http.NotFound(w, r)
		return
	}
	page := trackPage{
		Title:  slug.Title(id),
		Flash:  popFlash(w, r),
		Tracks: s.tracks(id),
		Dir:    s.locator.Dir(id),
	}
	if rec, ok, err := s.lookup(r, id); err == nil && ok {
		if rec.Title != "" {
			page.Title = rec.Title
		}
		page.Record = &rec
	}
	s.render(w, r, "track.html", page)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	s.serveTrack(w, r, true)
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	s.serveTrack(w, r, false)
}

// serveTrack sends a track file. Downloads are the full wav as an
// attachment; audio prefers the compressed preview and plays inline.
func (s *Server) serveTrack(w http.ResponseWriter, r *http.Request, attachment bool) {
	id := chi.URLParam(r, "slug")
	if !slug.Valid(id) {
		http.NotFound(w, r)
		return
	}
	t, ok := artifacts.ParseTrack(chi.URLParam(r, "track"))
	if !ok {
		redirectWithFlash(w, r, TrackURL(id), flashBadTrack)
		return
	}

	var path string
	if attachment {
		path, ok = s.locator.DownloadPath(id, t)
	} else {
		path, ok = s.locator.PlayablePath(id, t)
	}
	if !ok {
		redirectWithFlash(w, r, TrackURL(id), flashMissingTrack)
		return
	}

	f, info, err := fsutil.OpenRegular(s.locator.Root(), path)
	if err != nil {
		if errors.Is(err, fsutil.ErrEscapesRoot) {
			xglog.FromContext(r.Context()).Warn().Err(err).
				Str(xglog.FieldEvent, "track.outside_root").
				Str(xglog.FieldPath, path).
				Msg("refusing to serve track outside stems root")
		}
		redirectWithFlash(w, r, TrackURL(id), flashMissingTrack)
		return
	}
	defer func() { _ = f.Close() }()

	name := filepath.Base(path)
	disposition := "inline"
	if attachment {
		disposition = "attachment"
	}
	w.Header().Set("Content-Disposition", mime.FormatMediaType(disposition, map[string]string{"filename": name}))
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	xglog.FromContext(r.Context()).Debug().
		Str(xglog.FieldEvent, "track.served").
		Str(xglog.FieldJobID, id).
		Str(xglog.FieldTrack, string(t)).
		Str(xglog.FieldPath, path).
		Msg("serving track")
	http.ServeContent(w, r, name, info.ModTime(), f)
}
