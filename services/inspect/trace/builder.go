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

import (
	"fmt"
	"sort"

	"github.com/AleutianAI/leaninspect/services/inspect/goal"
	"github.com/AleutianAI/leaninspect/services/inspect/scan"
)

// Options tunes a Builder.
type Options struct {
	// Hasher derives content hashes. Zero value uses the default width.
	Hasher goal.Hasher

	// EmitEmptyLines emits a degenerate [0, 0) occurrence for an empty line
	// that sits inside a goal. By default empty lines produce nothing.
	EmitEmptyLines bool
}

// Builder accumulates the occurrences and unique states of one file.
//
// Thread Safety:
//
//	Not safe for concurrent use. A Builder is owned by the file scan that
//	created it.
type Builder struct {
	opts         Options
	file         string
	uri          string
	mode         scan.Mode
	uniqueStates map[string]string
	occurrences  []Occurrence
}

// NewBuilder starts a trace for one file.
func NewBuilder(file, uri string, mode scan.Mode, opts Options) *Builder {
	return &Builder{
		opts:         opts,
		file:         file,
		uri:          uri,
		mode:         mode,
		uniqueStates: make(map[string]string),
		occurrences:  []Occurrence{},
	}
}

// BuildOccurrences converts the transitions of one line into occurrences.
//
// Description:
//
//	Sorts the transitions by column and closes the last range at the line
//	width. Each range whose key is a goal becomes one occurrence; ranges
//	with NoGoal produce nothing.
//
// Inputs:
//
//	line - 0-indexed line number
//	text - The line text; its UTF-16 width closes the last range
//	transitions - Output of a scan.Scanner for this line
//
// Outputs:
//
//	[]Occurrence - Occurrences in column order (possibly empty)
func (b *Builder) BuildOccurrences(line int, text string, transitions []scan.Transition) []Occurrence {
	if len(transitions) == 0 {
		return nil
	}

	sorted := make([]scan.Transition, len(transitions))
	copy(sorted, transitions)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Column < sorted[j].Column })

	width := scan.Width(text)
	if width == 0 {
		if b.opts.EmitEmptyLines && sorted[0].Key.Present() {
			return []Occurrence{b.occurrence(line, 0, 0, sorted[0].Key)}
		}
		return nil
	}

	last := sorted[len(sorted)-1]
	if last.Column != width {
		sorted = append(sorted, scan.Transition{Column: width, Key: last.Key})
	}

	var occs []Occurrence
	for i := 0; i+1 < len(sorted); i++ {
		cur, next := sorted[i], sorted[i+1]
		if !cur.Key.Present() || next.Column == cur.Column {
			continue
		}
		occs = append(occs, b.occurrence(line, cur.Column, next.Column, cur.Key))
	}
	return occs
}

func (b *Builder) occurrence(line, start, end int, key goal.Key) Occurrence {
	return Occurrence{
		Hash:      b.opts.Hasher.Sum(key.Text()),
		Line:      line,
		ColStart:  start,
		ColEnd:    end,
		SamplePos: SamplePos{Line: line, Character: start},
	}
}

// RecordUniqueState stores the text behind hash.
//
// Recording the same pair again is a no-op. Recording a different text for
// a known hash fails with ErrHashCollision.
func (b *Builder) RecordUniqueState(hash string, key goal.Key) error {
	if !key.Present() {
		return fmt.Errorf("record state %s: no goal text", hash)
	}
	if existing, ok := b.uniqueStates[hash]; ok {
		if existing != key.Text() {
			return fmt.Errorf("%w: %s", ErrHashCollision, hash)
		}
		return nil
	}
	b.uniqueStates[hash] = key.Text()
	return nil
}

// AddLine builds the occurrences of one line and records their states.
//
// Outputs:
//
//	int - Number of occurrences added
//	error - ErrHashCollision
func (b *Builder) AddLine(line int, text string, transitions []scan.Transition) (int, error) {
	occs := b.BuildOccurrences(line, text, transitions)

	keys := make(map[int]goal.Key, len(transitions))
	for _, tr := range transitions {
		keys[tr.Column] = tr.Key
	}
	for _, occ := range occs {
		if err := b.RecordUniqueState(occ.Hash, keys[occ.ColStart]); err != nil {
			return 0, err
		}
	}

	b.occurrences = append(b.occurrences, occs...)
	return len(occs), nil
}

// UniqueStates returns the number of distinct states recorded so far.
func (b *Builder) UniqueStates() int {
	return len(b.uniqueStates)
}

// Trace returns the finished trace. The Builder must not be used after.
func (b *Builder) Trace() *Trace {
	return &Trace{
		File:         b.file,
		URI:          b.uri,
		Mode:         b.mode,
		UniqueStates: b.uniqueStates,
		Occurrences:  b.occurrences,
	}
}
