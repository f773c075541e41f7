// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scan finds the columns of a line at which the goal state changes.
//
// Two strategies share one contract. Dense queries every column and is the
// reference. Adaptive samples geometrically spaced columns and bisects only
// the intervals whose endpoints disagree, so a line with few state changes
// costs a logarithmic number of queries.
//
// Scanners are pure functions of a goal.Oracle and never issue two queries
// at once.
package scan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf16"

	"github.com/AleutianAI/leaninspect/services/inspect/goal"
)

// ErrUnknownMode indicates a mode name other than dense or adaptive.
var ErrUnknownMode = errors.New("unknown scan mode")

// Mode names a scanning strategy. The value is written into traces.
type Mode string

const (
	// ModeDense queries every column.
	ModeDense Mode = "dense"

	// ModeAdaptive samples and bisects.
	ModeAdaptive Mode = "adaptive"
)

// ParseMode parses a mode name, case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeDense:
		return ModeDense, nil
	case ModeAdaptive:
		return ModeAdaptive, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// Transition is a column at which the goal state differs from the column
// before it. The first transition of a line is always at column 0.
type Transition struct {
	Column int
	Key    goal.Key
}

// Scanner produces the ordered transitions of one line.
type Scanner interface {
	ScanLine(ctx context.Context, oracle goal.Oracle, line int, text string) ([]Transition, error)
}

// ForMode returns the scanner for m.
func ForMode(m Mode) (Scanner, error) {
	switch m {
	case ModeDense:
		return Dense{}, nil
	case ModeAdaptive:
		return Adaptive{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, string(m))
	}
}

// Width returns the length of text in UTF-16 code units, the unit LSP
// positions are measured in.
func Width(text string) int {
	n := 0
	for _, r := range text {
		if l := utf16.RuneLen(r); l > 0 {
			n += l
		} else {
			n++
		}
	}
	return n
}
