// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import "strings"

// SplitLines splits text on the LSP line terminators \n, \r\n and \r.
// A trailing terminator does not start an extra empty line.
func SplitLines(text string) []string {
	if text == "" {
		return nil
	}
	var lines []string
	for len(text) > 0 {
		i := strings.IndexAny(text, "\r\n")
		if i < 0 {
			lines = append(lines, text)
			break
		}
		lines = append(lines, text[:i])
		if text[i] == '\r' && i+1 < len(text) && text[i+1] == '\n' {
			i++
		}
		text = text[i+1:]
	}
	return lines
}

// LineRange is a half-open range of 0-indexed lines. End <= 0 means "to
// the end of the document".
type LineRange struct {
	Start int
	End   int
}

// Clamp returns the range restricted to a document of n lines, with
// 0 <= start <= end <= n.
func (r LineRange) Clamp(n int) (start, end int) {
	start = max(0, min(n, r.Start))
	end = n
	if r.End > 0 {
		end = min(n, r.End)
	}
	end = max(start, end)
	return start, end
}
