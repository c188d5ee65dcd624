// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/base64"
	"net/http"
	"unicode/utf8"
)

const (
	flashCookie = "stemrelay_flash"
	flashMaxLen = 512
)

// Flash messages shown after a redirect.
const (
	flashNoFile        = "Please choose an audio file to upload first."
	flashTooLarge      = "The file is larger than the upload limit."
	flashUploadFailed  = "The upload could not be stored."
	flashPipelineError = "Separation or remix failed. Check the separation environment."
	flashBadTrack      = "Unsupported track type."
	flashMissingTrack  = "Track file not found. Check that separation succeeded."
)

// setFlash stores msg for the next page view.
func setFlash(w http.ResponseWriter, msg string) {
	if len(msg) > flashMaxLen {
		msg = msg[:flashMaxLen]
		for !utf8.ValidString(msg) {
			msg = msg[:len(msg)-1]
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookie,
		Value:    base64.RawURLEncoding.EncodeToString([]byte(msg)),
		Path:     "/",
		MaxAge:   60,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// popFlash returns and clears the pending message.
func popFlash(w http.ResponseWriter, r *http.Request) string {
	c, err := r.Cookie(flashCookie)
	if err != nil {
		return ""
	}
	http.SetCookie(w, &http.Cookie{Name: flashCookie, Path: "/", MaxAge: -1, HttpOnly: true, SameSite: http.SameSiteLaxMode})
	b, err := base64.RawURLEncoding.DecodeString(c.Value)
	if err != nil || !utf8.Valid(b) {
		return ""
	}
	return string(b)
}

func redirectWithFlash(w http.ResponseWriter, r *http.Request, target, msg string) {
	setFlash(w, msg)
	http.Redirect(w, r, target, http.StatusSeeOther)
}
