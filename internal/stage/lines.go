// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package stage

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// newLineScanner splits on "\n", "\r\n" and a lone "\r", so progress bars
// that redraw with carriage returns arrive as separate lines. Lines longer
// than maxLine are cut at maxLine and the remainder up to the next line end
// is dropped.
func newLineScanner(r io.Reader, maxLine int) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	initial := 64 * 1024
	if initial > maxLine+1 {
		initial = maxLine + 1
	}
	sc.Buffer(make([]byte, initial), 2*maxLine+2)
	s := &splitter{max: maxLine}
	sc.Split(s.split)
	return sc
}

type splitter struct {
	max        int
	discarding bool
}

func (s *splitter) split(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	i := bytes.IndexAny(data, "\r\n")
	if i < 0 {
		switch {
		case len(data) >= s.max:
			if s.discarding {
				return len(data), nil, nil
			}
			s.discarding = true
			return len(data), data[:s.max], nil
		case atEOF:
			if s.discarding {
				s.discarding = false
				return len(data), nil, nil
			}
			return len(data), data, nil
		default:
			return 0, nil, nil
		}
	}

	advance := i + 1
	if data[i] == '\r' {
		switch {
		case i+1 < len(data):
			if data[i+1] == '\n' {
				advance = i + 2
			}
		case !atEOF:
			// "\r\n" may straddle two reads.
			return 0, nil, nil
		}
	}

	if s.discarding {
		s.discarding = false
		return advance, nil, nil
	}
	token := data[:i]
	if len(token) > s.max {
		token = token[:s.max]
	}
	return advance, token, nil
}

func decode(b []byte) string {
	return strings.ToValidUTF8(string(b), "\uFFFD")
}
