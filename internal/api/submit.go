// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/ManuGH/stemrelay/internal/jobs"
	xglog "github.com/ManuGH/stemrelay/internal/log"
	"github.com/ManuGH/stemrelay/internal/slug"
	"github.com/ManuGH/stemrelay/internal/upload"
)

// uploadField is the multipart field carrying the audio file.
const uploadField = "audio"

// multipartOverhead is the allowance for boundaries and part headers on top
// of the file size limit.
const multipartOverhead = 1 << 20

// receive streams the uploaded file to disk and returns the job for it.
// Errors are upload.ErrNoFile, upload.ErrTooLarge or an I/O failure.
func (s *Server) receive(w http.ResponseWriter, r *http.Request) (jobs.Job, error) {
	maxBytes := s.cfg().API.MaxUploadBytes
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartOverhead)
	}
	mr, err := r.MultipartReader()
	if err != nil {
		return jobs.Job{}, upload.ErrNoFile
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return jobs.Job{}, upload.ErrNoFile
		}
		if err != nil {
			return jobs.Job{}, uploadErr(err)
		}
		if part.FormName() != uploadField {
			_ = part.Close()
			continue
		}
		name := upload.SafeName(part.FileName())
		if name == "" {
			_ = part.Close()
			return jobs.Job{}, upload.ErrNoFile
		}

		title := upload.Stem(name)
		id := slug.Allocate(title)
		path, err := s.uploads.Save(r.Context(), id, name, part)
		_ = part.Close()
		if err != nil {
			return jobs.Job{}, uploadErr(err)
		}
		xglog.FromContext(r.Context()).Info().
			Str(xglog.FieldEvent, "job.accepted").
			Str(xglog.FieldJobID, id).
			Str("source", part.FileName()).
			Msg("job accepted")
		return jobs.Job{Slug: id, Title: title, SourceName: part.FileName(), InputPath: path}, nil
	}
}

func uploadErr(err error) error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return upload.ErrTooLarge
	}
	return err
}

// uploadFailure maps a receive error to a status code and a message.
func uploadFailure(err error) (int, string) {
	switch {
	case errors.Is(err, upload.ErrNoFile):
		return http.StatusBadRequest, flashNoFile
	case errors.Is(err, upload.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, flashTooLarge
	default:
		return http.StatusInternalServerError, flashUploadFailed
	}
}

func uploadErrorKind(code int) string {
	switch code {
	case http.StatusBadRequest:
		return "no_file"
	case http.StatusRequestEntityTooLarge:
		return "too_large"
	default:
		return "upload_failed"
	}
}

func (s *Server) logUploadError(r *http.Request, err error) {
	xglog.FromContext(r.Context()).Warn().
		Err(err).
		Str(xglog.FieldEvent, "upload.rejected").
		Msg("upload rejected")
}
