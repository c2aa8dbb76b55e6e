// Copyright 2024 Seakee.  All rights reserved.
// Use of this source code is governed by a MIT style
// license that can be found in the LICENSE file.

// Package logtail captures a bounded tail of an Execution's stdout and
// stderr, grounded on the teacher's collectLogs scanning idiom
// (app/monitor/handler.go): a bufio.Scanner line loop and the
// multiplexed-stream 8-byte header check (containsUnprintableCharacters),
// retargeted from "stream forever into a database" to "capture up to
// a fixed byte budget, then stop" (spec §4.4).
package logtail

import (
	"bufio"
	"io"
)

// DefaultMaxBytes is the default tail size per stream (spec §4.4).
const DefaultMaxBytes = 2 * 1024 * 1024

// Capture reads up to maxBytes from r, returning the trailing portion
// of the stream (the last maxBytes bytes read), scanning line by line
// the way collectLogs does so whole leading lines are dropped; only a
// final line longer than maxBytes is cut mid-line.
//
// Parameters:
//   - r: log stream reader; closed by the caller.
//   - maxBytes: maximum number of bytes retained; DefaultMaxBytes when <= 0.
//
// Returns:
//   - []byte: captured tail, newline-joined.
//   - error: scanner error, if any, ignored for partial reads since a
//     truncated tail is still useful.
func Capture(r io.Reader, maxBytes int) ([]byte, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var ring [][]byte
	total := 0

	for sc.Scan() {
		line := StripFrameHeader(sc.Bytes())
		cp := append([]byte(nil), line...)
		ring = append(ring, cp)
		total += len(cp) + 1

		for total > maxBytes && len(ring) > 1 {
			total -= len(ring[0]) + 1
			ring = ring[1:]
		}
	}

	out := joinLines(ring)
	if len(out) > maxBytes {
		out = out[len(out)-maxBytes:]
	}

	return out, sc.Err()
}

// StripFrameHeader removes the 8-byte frame header Docker prepends to
// each chunk of a multiplexed (non-TTY) log stream, matching the
// teacher's containsUnprintableCharacters(line[:8]) check.
//
// Parameters:
//   - line: one scanned line, possibly frame-prefixed.
//
// Returns:
//   - []byte: line with any leading 8-byte binary header removed.
func StripFrameHeader(line []byte) []byte {
	if len(line) > 8 && containsUnprintable(line[:8]) {
		return line[8:]
	}
	return line
}

func containsUnprintable(b []byte) bool {
	for _, c := range b {
		if c < 0x20 && c != '\t' {
			return true
		}
	}
	return false
}

func joinLines(lines [][]byte) []byte {
	total := 0
	for _, l := range lines {
		total += len(l) + 1
	}

	out := make([]byte, 0, total)
	for i, l := range lines {
		if i > 0 {
			out = append(out, '\n')
		}
		out = append(out, l...)
	}
	return out
}
