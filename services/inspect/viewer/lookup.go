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

	"github.com/AleutianAI/leaninspect/services/inspect/trace"
)

// Index answers "which goal is at this position?" over one trace.
type Index struct {
	sorted []trace.Occurrence
}

// NewIndex sorts the occurrences of t by position.
func NewIndex(t *trace.Trace) *Index {
	sorted := make([]trace.Occurrence, len(t.Occurrences))
	copy(sorted, t.Occurrences)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Line != sorted[j].Line {
			return sorted[i].Line < sorted[j].Line
		}
		return sorted[i].ColStart < sorted[j].ColStart
	})
	return &Index{sorted: sorted}
}

// Lookup returns the occurrence covering (line, col). When none covers it,
// the nearest occurrence starting before the position is returned with
// fallback set. ok is false when nothing precedes the position.
func (x *Index) Lookup(line, col int) (occ trace.Occurrence, fallback bool, ok bool) {
	// Index of the first occurrence starting after (line, col).
	i := sort.Search(len(x.sorted), func(i int) bool {
		o := x.sorted[i]
		return o.Line > line || (o.Line == line && o.ColStart > col)
	})

	for j := i - 1; j >= 0 && x.sorted[j].Line == line; j-- {
		o := x.sorted[j]
		if col >= o.ColStart && col < o.ColEnd {
			return o, false, true
		}
	}
	if i == 0 {
		return trace.Occurrence{}, false, false
	}
	return x.sorted[i-1], true, true
}
