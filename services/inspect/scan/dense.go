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

	"github.com/AleutianAI/leaninspect/services/inspect/goal"
)

// Dense queries the oracle at every column 0..Width(text) inclusive.
//
// Cost is Width(text)+1 queries. Use it to verify adaptive output or when
// the file is small.
type Dense struct{}

// ScanLine implements Scanner.
func (Dense) ScanLine(ctx context.Context, oracle goal.Oracle, line int, text string) ([]Transition, error) {
	n := Width(text)
	var transitions []Transition
	var prev goal.Key

	for col := 0; col <= n; col++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key, err := oracle.GoalAt(ctx, line, col)
		if err != nil {
			return nil, err
		}
		if col == 0 || key != prev {
			transitions = append(transitions, Transition{Column: col, Key: key})
			prev = key
		}
	}
	return transitions, nil
}
