// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package trace

import "time"

// Summary describes how one file was traced. It is kept out of Trace so
// the trace JSON shape stays stable.
type Summary struct {
	File         string        `json:"file"`
	Output       string        `json:"output,omitempty"`
	Lines        int           `json:"lines"`
	Queries      int64         `json:"queries"`
	UniqueStates int           `json:"unique_states"`
	Occurrences  int           `json:"occurrences"`
	Duration     time.Duration `json:"duration_ns"`
	Cached       bool          `json:"cached"`
}

// Summarize fills the counts derived from t.
func Summarize(t *Trace) Summary {
	return Summary{
		File:         t.File,
		UniqueStates: len(t.UniqueStates),
		Occurrences:  len(t.Occurrences),
	}
}
