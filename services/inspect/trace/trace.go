// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package trace turns scanned transitions into the per-file goal trace.
//
// A Trace is the artifact every downstream consumer reads: the HTML viewer,
// the doc injector and the cache. Its JSON shape is a compatibility
// contract; fields are only ever added.
package trace

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/AleutianAI/leaninspect/services/inspect/scan"
)

var (
	// ErrHashCollision indicates two different goal texts produced the same
	// content hash. Widen the hash to resolve it.
	ErrHashCollision = errors.New("content hash collision")

	// ErrInvalidTrace indicates a decoded trace violates its invariants.
	ErrInvalidTrace = errors.New("invalid trace")
)

// SamplePos is the position a viewer should query to reproduce a goal.
type SamplePos struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Occurrence is a maximal half-open column range [ColStart, ColEnd) on one
// line over which the goal state is the one identified by Hash.
type Occurrence struct {
	Hash      string    `json:"hash"`
	Line      int       `json:"line"`
	ColStart  int       `json:"col_start"`
	ColEnd    int       `json:"col_end"`
	SamplePos SamplePos `json:"sample_pos"`
}

// Trace is the goal trace of one file.
type Trace struct {
	File         string            `json:"file"`
	URI          string            `json:"uri"`
	Mode         scan.Mode         `json:"mode"`
	UniqueStates map[string]string `json:"unique_states"`
	Occurrences  []Occurrence      `json:"occurrences"`
}

// Validate checks that every occurrence refers to a known state and has a
// non-negative extent.
func (t *Trace) Validate() error {
	for i, occ := range t.Occurrences {
		if _, ok := t.UniqueStates[occ.Hash]; !ok {
			return fmt.Errorf("%w: occurrence %d references unknown hash %s", ErrInvalidTrace, i, occ.Hash)
		}
		if occ.ColStart < 0 || occ.ColEnd < occ.ColStart {
			return fmt.Errorf("%w: occurrence %d has range [%d, %d)", ErrInvalidTrace, i, occ.ColStart, occ.ColEnd)
		}
	}
	return nil
}

// =============================================================================
// SERIALIZATION
// =============================================================================

// Encode writes t as indented JSON. Non-ASCII goal text is written as-is.
func Encode(w io.Writer, t *Trace) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(t); err != nil {
		return fmt.Errorf("encode trace: %w", err)
	}
	return nil
}

// Decode reads and validates a trace.
func Decode(r io.Reader) (*Trace, error) {
	var t Trace
	if err := json.NewDecoder(r).Decode(&t); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", ErrInvalidTrace, err)
	}
	if t.UniqueStates == nil {
		t.UniqueStates = map[string]string{}
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// WriteFile writes t to path, creating parent directories. The file is
// written to a temporary sibling and renamed, so readers never observe a
// partial trace.
func WriteFile(path string, t *Trace) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".trace-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := Encode(tmp, t); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename trace: %w", err)
	}
	return nil
}

// ReadFile reads a trace written by WriteFile.
func ReadFile(path string) (*Trace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}
