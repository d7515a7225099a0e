// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package records

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// isNull reports whether a cell holds one of the null spellings written by
// dataframe exports.
func isNull(s string) bool {
	switch strings.ToLower(s) {
	case "", "nan", "none", "null", "<na>", "na":
		return true
	}
	return false
}

// ParseTagList parses a tag column.
//
// Accepts a JSON array of strings (["a", "b"]) or a Python list literal
// (['a', "b's"]). Empty cells and null spellings yield nil. Elements are
// trimmed and empty elements dropped; order is preserved.
func ParseTagList(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	if isNull(s) || s == "[]" {
		return nil, nil
	}
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return nil, fmt.Errorf("%w: %q", ErrBadList, truncate(s))
	}

	var list []string
	if err := json.Unmarshal([]byte(s), &list); err != nil {
		list, err = parsePythonList(s)
		if err != nil {
			return nil, err
		}
	}

	out := list[:0]
	for _, t := range list {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// parsePythonList parses a list literal of quoted strings.
func parsePythonList(s string) ([]string, error) {
	body := s[1 : len(s)-1]
	var out []string
	i := 0
	for {
		for i < len(body) && isSpace(body[i]) {
			i++
		}
		if i >= len(body) {
			return out, nil
		}

		quote := body[i]
		if quote != '\'' && quote != '"' {
			return nil, fmt.Errorf("%w: expected quote at offset %d in %q", ErrBadList, i, truncate(s))
		}
		i++

		var sb strings.Builder
		closed := false
		for i < len(body) {
			c := body[i]
			if c == '\\' && i+1 < len(body) {
				i++
				switch body[i] {
				case 'n':
					sb.WriteByte('\n')
				case 't':
					sb.WriteByte('\t')
				default:
					sb.WriteByte(body[i])
				}
				i++
				continue
			}
			if c == quote {
				closed = true
				i++
				break
			}
			sb.WriteByte(c)
			i++
		}
		if !closed {
			return nil, fmt.Errorf("%w: unterminated string in %q", ErrBadList, truncate(s))
		}
		out = append(out, sb.String())

		for i < len(body) && isSpace(body[i]) {
			i++
		}
		if i >= len(body) {
			return out, nil
		}
		if body[i] != ',' {
			return nil, fmt.Errorf("%w: expected comma at offset %d in %q", ErrBadList, i, truncate(s))
		}
		i++
	}
}

// ParseLinkList parses an outgoing-links column.
//
// Accepts "1,2,3", "{1,2,3}" and "[1, 2, 3]"; quoted elements are unquoted.
// Empty cells yield nil.
func ParseLinkList(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	if isNull(s) {
		return nil, nil
	}
	if n := len(s); n >= 2 && ((s[0] == '{' && s[n-1] == '}') || (s[0] == '[' && s[n-1] == ']')) {
		s = s[1 : n-1]
	} else if strings.ContainsAny(s, "{}[]") {
		return nil, fmt.Errorf("%w: %q", ErrBadList, truncate(s))
	}

	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(strings.TrimSpace(p), `'"`)
		if p == "" {
			continue
		}
		out = append(out, normalizeID(p))
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// Years outside [MinYear, MaxYear] are rejected as malformed.
const (
	MinYear = -100_000
	MaxYear = 100_000
)

// parseYear parses an optional year. Float spellings of integers ("1879.0")
// are accepted because dataframe exports write nullable ints that way.
func parseYear(s string) (*int, error) {
	s = strings.TrimSpace(s)
	if isNull(s) {
		return nil, nil
	}
	y, err := strconv.Atoi(s)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || f != math.Trunc(f) || math.Abs(f) > MaxYear-MinYear {
			return nil, fmt.Errorf("%w: year %q", ErrBadNumber, truncate(s))
		}
		y = int(f)
	}
	if y < MinYear || y > MaxYear {
		return nil, fmt.Errorf("%w: year %q outside [%d, %d]", ErrBadNumber, truncate(s), MinYear, MaxYear)
	}
	return &y, nil
}

// parseOptFloat parses an optional float.
func parseOptFloat(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if isNull(s) {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("%w: %q", ErrBadNumber, truncate(s))
	}
	return &f, nil
}

// normalizeID strips a trailing ".0" that float exports add to integer ids.
func normalizeID(s string) string {
	if strings.HasSuffix(s, ".0") {
		if _, err := strconv.ParseInt(s[:len(s)-2], 10, 64); err == nil {
			return s[:len(s)-2]
		}
	}
	return s
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func truncate(s string) string {
	if len(s) > 64 {
		return s[:64] + "..."
	}
	return s
}
