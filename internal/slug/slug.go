// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package slug allocates job identifiers.
//
// A slug is the sanitized input base name followed by a random 6-hex suffix,
// e.g. "My Song (Live)" -> "my-song-live-3fa92b". It keys every artifact
// directory of a job and is never reused.
package slug

import (
	"crypto/rand"
	"encoding/hex"
	"io"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	// Fallback is used when the base name sanitizes to nothing.
	Fallback = "track"

	// MaxBaseLen caps the sanitized part so paths stay readable.
	MaxBaseLen = 64

	suffixBytes = 3
)

var pattern = regexp.MustCompile(`^[a-z0-9-]+-[0-9a-f]{6}$`)

// entropy is swapped in tests.
var entropy io.Reader = rand.Reader

// Allocate derives a fresh slug from base. It never fails.
func Allocate(base string) string {
	return Sanitize(base) + "-" + suffix()
}

// Sanitize returns the human-readable part of a slug: lower case ASCII
// letters, digits and single hyphens, or Fallback.
func Sanitize(base string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), base)
	if err != nil {
		folded = base
	}
	folded = strings.ToLower(strings.TrimSpace(folded))

	var b strings.Builder
	lastWasDash := true // suppresses leading dashes
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastWasDash = false
			continue
		}
		if !lastWasDash {
			b.WriteByte('-')
			lastWasDash = true
		}
	}

	s := strings.TrimRight(b.String(), "-")
	if len(s) > MaxBaseLen {
		s = strings.TrimRight(s[:MaxBaseLen], "-")
	}
	if s == "" {
		return Fallback
	}
	return s
}

func suffix() string {
	var buf [suffixBytes]byte
	if _, err := io.ReadFull(entropy, buf[:]); err != nil {
		// crypto/rand does not fail on supported platforms
		panic("slug: read entropy: " + err.Error())
	}
	return hex.EncodeToString(buf[:])
}

// Valid reports whether s has the shape of an allocated slug.
func Valid(s string) bool {
	return pattern.MatchString(s)
}

// Title turns a slug back into a display title: the suffix is removed and
// hyphens become spaces. Non-slugs are returned unchanged.
func Title(s string) string {
	if !Valid(s) {
		return s
	}
	return strings.ReplaceAll(s[:len(s)-2*suffixBytes-1], "-", " ")
}
