// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/stemrelay/internal/artifacts"
	"github.com/ManuGH/stemrelay/internal/history"
	"github.com/ManuGH/stemrelay/internal/jobs"
	xglog "github.com/ManuGH/stemrelay/internal/log"
	"github.com/ManuGH/stemrelay/internal/slug"
)

// artifactView is one track in a job response.
type artifactView struct {
	Exists      bool   `json:"exists"`
	DownloadURL string `json:"download_url,omitempty"`
	AudioURL    string `json:"audio_url,omitempty"`
}

// jobView is the JSON representation of a job.
type jobView struct {
	history.Record
	ResultURL string                  `json:"result_url"`
	Artifacts map[string]artifactView `json:"artifacts,omitempty"`
}

func (s *Server) jobView(rec history.Record) jobView {
	v := jobView{Record: rec, ResultURL: TrackURL(rec.Slug)}
	located := s.locator.Locate(rec.Slug)
	v.Artifacts = make(map[string]artifactView, len(located))
	for t, a := range located {
		av := artifactView{Exists: a.Exists}
		if a.Exists {
			av.DownloadURL = downloadURL(rec.Slug, t)
			av.AudioURL = audioURL(rec.Slug, t)
		}
		v.Artifacts[string(t)] = av
	}
	return v
}

func queuedRecord(job jobs.Job) history.Record {
	now := time.Now().UTC()
	return history.Record{
		Slug:       job.Slug,
		Title:      job.Title,
		SourceName: job.SourceName,
		Status:     history.StatusQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// lookup returns the stored record of id. Jobs that predate the store but
// left artifacts behind are reported from the stems directory.
func (s *Server) lookup(r *http.Request, id string) (history.Record, bool, error) {
	rec, err := s.jobs.Store().Get(r.Context(), id)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, history.ErrNotFound) {
		return history.Record{}, false, err
	}
	rec, err = history.NewDirStore(s.locator).Get(r.Context(), id)
	if err != nil {
		return history.Record{}, false, nil
	}
	return rec, true, nil
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "slug")
	if !slug.Valid(id) {
		writeError(w, http.StatusNotFound, "not_found", "unknown job")
		return
	}
	rec, ok, err := s.lookup(r, id)
	if err != nil {
		xglog.FromContext(r.Context()).Error().Err(err).Str(xglog.FieldEvent, "job.lookup_failed").Msg("job lookup failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "job lookup failed")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "unknown job")
		return
	}
	writeJSON(w, http.StatusOK, s.jobView(rec))
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg().History.Limit
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and 1000")
			return
		}
		limit = n
	}
	recs, err := s.jobs.Store().ListRecent(r.Context(), limit)
	if err != nil {
		xglog.FromContext(r.Context()).Error().Err(err).Str(xglog.FieldEvent, "job.list_failed").Msg("job listing failed")
		writeError(w, http.StatusInternalServerError, "internal_error", "job listing failed")
		return
	}
	out := struct {
		Jobs []jobView `json:"jobs"`
	}{Jobs: make([]jobView, 0, len(recs))}
	for _, rec := range recs {
		out.Jobs = append(out.Jobs, s.jobView(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

// trackView is one row of the result page.
type trackView struct {
	Name        string
	Exists      bool
	AudioURL    string
	DownloadURL string
}

func (s *Server) tracks(id string) []trackView {
	located := s.locator.Locate(id)
	out := make([]trackView, 0, len(artifacts.Tracks))
	for _, t := range artifacts.Tracks {
		a := located[t]
		out = append(out, trackView{
			Name:        string(t),
			Exists:      a.Exists,
			AudioURL:    audioURL(id, t),
			DownloadURL: downloadURL(id, t),
		})
	}
	return out
}
