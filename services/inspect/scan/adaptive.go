// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scan

import (
	"context"
	"sort"

	"github.com/AleutianAI/leaninspect/services/inspect/goal"
)

// Adaptive samples columns 0, 1, 3, 7, 15, ... (capped at the line width)
// and refines every sample interval whose endpoint keys differ.
//
// Refinement bisects the interval and recurses into each half whose
// endpoints still differ. When the interval holds a single change this is
// a plain binary search; when it holds several, every one is found. The
// result equals Dense whenever each distinct key covers one contiguous run
// of columns on the line. No column is queried twice.
type Adaptive struct{}

// ScanLine implements Scanner.
func (Adaptive) ScanLine(ctx context.Context, oracle goal.Oracle, line int, text string) ([]Transition, error) {
	n := Width(text)
	if n == 0 {
		key, err := oracle.GoalAt(ctx, line, 0)
		if err != nil {
			return nil, err
		}
		return []Transition{{Column: 0, Key: key}}, nil
	}

	m := &memo{ctx: ctx, oracle: oracle, line: line, width: n, keys: make(map[int]goal.Key)}

	samples := Samples(n)
	keys := make([]goal.Key, len(samples))
	for i, col := range samples {
		key, err := m.get(col)
		if err != nil {
			return nil, err
		}
		keys[i] = key
	}

	boundaries := map[int]struct{}{0: {}}
	for i := 0; i+1 < len(samples); i++ {
		if keys[i] == keys[i+1] {
			continue
		}
		if err := m.refine(samples[i], samples[i+1], keys[i], keys[i+1], boundaries); err != nil {
			return nil, err
		}
	}

	cols := make([]int, 0, len(boundaries)+len(samples))
	for col := range boundaries {
		cols = append(cols, col)
	}
	cols = append(cols, samples...)
	sort.Ints(cols)

	var transitions []Transition
	for i, col := range cols {
		if i > 0 && col == cols[i-1] {
			continue
		}
		key, err := m.get(col)
		if err != nil {
			return nil, err
		}
		if len(transitions) == 0 || key != transitions[len(transitions)-1].Key {
			transitions = append(transitions, Transition{Column: col, Key: key})
		}
	}

	if last := transitions[len(transitions)-1]; last.Column != n {
		key, err := m.get(n)
		if err != nil {
			return nil, err
		}
		if key != last.Key {
			transitions = append(transitions, Transition{Column: n, Key: key})
		}
	}
	return transitions, nil
}

// Samples returns the geometric sample columns for a line of width n:
// 0, then steps of 1, 2, 4, ... with the last sample clamped to n.
func Samples(n int) []int {
	samples := []int{0}
	step := 1
	for samples[len(samples)-1] < n {
		next := samples[len(samples)-1] + step
		if next > n {
			next = n
		}
		samples = append(samples, next)
		step *= 2
	}
	return samples
}

// memo caches oracle answers for one line.
type memo struct {
	ctx    context.Context
	oracle goal.Oracle
	line   int
	width  int
	keys   map[int]goal.Key
}

func (m *memo) get(col int) (goal.Key, error) {
	col = max(0, min(m.width, col))
	if key, ok := m.keys[col]; ok {
		return key, nil
	}
	if err := m.ctx.Err(); err != nil {
		return goal.NoGoal, err
	}
	key, err := m.oracle.GoalAt(m.ctx, m.line, col)
	if err != nil {
		return goal.NoGoal, err
	}
	m.keys[col] = key
	return key, nil
}

// refine records in boundaries every column in (lo, hi] where the key
// differs from the column before it. keyLo and keyHi are the known keys at
// lo and hi.
func (m *memo) refine(lo, hi int, keyLo, keyHi goal.Key, boundaries map[int]struct{}) error {
	if keyLo == keyHi {
		return nil
	}
	if hi-lo <= 1 {
		boundaries[hi] = struct{}{}
		return nil
	}

	mid := lo + (hi-lo)/2
	keyMid, err := m.get(mid)
	if err != nil {
		return err
	}
	if err := m.refine(lo, mid, keyLo, keyMid, boundaries); err != nil {
		return err
	}
	return m.refine(mid, hi, keyMid, keyHi, boundaries)
}
