// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package viewer

import (
	"sort"
	"unicode/utf16"

	"github.com/AleutianAI/leaninspect/services/inspect/trace"
)

// Segment is a run of line text, optionally covered by an occurrence.
// Start and End are UTF-16 columns.
type Segment struct {
	Text  string
	Hash  string
	Start int
	End   int
}

// HasGoal reports whether the segment is covered by an occurrence.
func (s Segment) HasGoal() bool { return s.Hash != "" }

// LineSegments splits text into plain and occurrence-covered segments.
//
// Occurrences are clamped to the line and applied in column order; an
// occurrence overlapping the previous one starts where it ended.
func LineSegments(text string, occs []trace.Occurrence) []Segment {
	offsets := utf16Offsets(text)
	width := len(offsets) - 1

	sorted := make([]trace.Occurrence, len(occs))
	copy(sorted, occs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].ColStart != sorted[j].ColStart {
			return sorted[i].ColStart < sorted[j].ColStart
		}
		return sorted[i].ColEnd < sorted[j].ColEnd
	})

	var segs []Segment
	cur := 0
	emit := func(a, b int, hash string) {
		if b <= a && hash == "" {
			return
		}
		segs = append(segs, Segment{
			Text:  text[offsets[a]:offsets[b]],
			Hash:  hash,
			Start: a,
			End:   b,
		})
	}

	for _, o := range sorted {
		a := clamp(o.ColStart, cur, width)
		b := clamp(o.ColEnd, a, width)
		if b == a && width > 0 {
			continue
		}
		emit(cur, a, "")
		emit(a, b, o.Hash)
		cur = b
	}
	emit(cur, width, "")
	return segs
}

// utf16Offsets maps each UTF-16 column 0..width to a byte offset in text.
// A column that falls inside a surrogate pair maps to the rune start.
func utf16Offsets(text string) []int {
	offsets := make([]int, 0, len(text)+1)
	for i, r := range text {
		n := utf16.RuneLen(r)
		if n < 1 {
			n = 1
		}
		for k := 0; k < n; k++ {
			offsets = append(offsets, i)
		}
	}
	return append(offsets, len(text))
}

func clamp(v, lo, hi int) int {
	return max(lo, min(hi, v))
}
