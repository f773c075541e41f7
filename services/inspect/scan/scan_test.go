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
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/leaninspect/services/inspect/goal"
)

// runOracle answers from a per-column key table and records every query.
type runOracle struct {
	keys    []goal.Key
	queries map[int]int
}

func newRunOracle(keys []goal.Key) *runOracle {
	return &runOracle{keys: keys, queries: make(map[int]int)}
}

func (o *runOracle) GoalAt(_ context.Context, _ int, character int) (goal.Key, error) {
	o.queries[character]++
	if character >= len(o.keys) {
		return o.keys[len(o.keys)-1], nil
	}
	return o.keys[character], nil
}

func (o *runOracle) total() int {
	n := 0
	for _, c := range o.queries {
		n += c
	}
	return n
}

// scenarioA models "theorem t : True := trivial" with a goal on columns 0-19.
func scenarioA() []goal.Key {
	keys := make([]goal.Key, 28)
	for i := range keys {
		if i < 20 {
			keys[i] = goal.Some("⊢ True")
		} else {
			keys[i] = goal.NoGoal
		}
	}
	return keys
}

func TestScanLine_ScenarioA(t *testing.T) {
	line := "theorem t : True := trivial"
	require.Equal(t, 27, Width(line))

	want := []Transition{
		{Column: 0, Key: goal.Some("⊢ True")},
		{Column: 20, Key: goal.NoGoal},
	}

	for _, s := range []Scanner{Dense{}, Adaptive{}} {
		t.Run(fmt.Sprintf("%T", s), func(t *testing.T) {
			o := newRunOracle(scenarioA())
			got, err := s.ScanLine(context.Background(), o, 0, line)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}

	t.Run("adaptive uses fewer queries", func(t *testing.T) {
		dense := newRunOracle(scenarioA())
		_, err := Dense{}.ScanLine(context.Background(), dense, 0, line)
		require.NoError(t, err)
		assert.Equal(t, 28, dense.total())

		adaptive := newRunOracle(scenarioA())
		_, err = Adaptive{}.ScanLine(context.Background(), adaptive, 0, line)
		require.NoError(t, err)
		assert.Less(t, adaptive.total(), dense.total())
	})
}

func TestScanLine_ScenarioB(t *testing.T) {
	for _, key := range []goal.Key{goal.NoGoal, goal.Some("⊢ p")} {
		for _, s := range []Scanner{Dense{}, Adaptive{}} {
			t.Run(fmt.Sprintf("%T/%s", s, key), func(t *testing.T) {
				o := newRunOracle([]goal.Key{key})
				got, err := s.ScanLine(context.Background(), o, 4, "")
				require.NoError(t, err)
				assert.Equal(t, []Transition{{Column: 0, Key: key}}, got)
				assert.Equal(t, map[int]int{0: 1}, o.queries)
			})
		}
	}
}

func TestAdaptive_NeverRequeries(t *testing.T) {
	keys := make([]goal.Key, 101)
	for i := range keys {
		switch {
		case i < 13:
			keys[i] = goal.NoGoal
		case i < 57:
			keys[i] = goal.Some("a")
		case i < 58:
			keys[i] = goal.Some("b")
		default:
			keys[i] = goal.Some("c")
		}
	}
	o := newRunOracle(keys)

	got, err := Adaptive{}.ScanLine(context.Background(), o, 0, strings.Repeat("x", 100))
	require.NoError(t, err)

	assert.Equal(t, []Transition{
		{Column: 0, Key: goal.NoGoal},
		{Column: 13, Key: goal.Some("a")},
		{Column: 57, Key: goal.Some("b")},
		{Column: 58, Key: goal.Some("c")},
	}, got)
	for col, n := range o.queries {
		assert.Equal(t, 1, n, "column %d queried %d times", col, n)
	}
}

func TestAdaptive_FindsSeveralChangesInOneInterval(t *testing.T) {
	// Columns 16..31 fall between samples 15 and 31 and hold three runs.
	keys := make([]goal.Key, 41)
	for i := range keys {
		switch {
		case i < 18:
			keys[i] = goal.Some("a")
		case i < 21:
			keys[i] = goal.Some("b")
		case i < 26:
			keys[i] = goal.Some("c")
		default:
			keys[i] = goal.Some("d")
		}
	}
	line := strings.Repeat("y", 40)

	dense, err := Dense{}.ScanLine(context.Background(), newRunOracle(keys), 0, line)
	require.NoError(t, err)
	adaptive, err := Adaptive{}.ScanLine(context.Background(), newRunOracle(keys), 0, line)
	require.NoError(t, err)

	assert.Equal(t, dense, adaptive)
	assert.Len(t, adaptive, 4)
}

func TestAdaptive_MatchesDenseOnContiguousRuns(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))

	for iter := 0; iter < 300; iter++ {
		width := rng.IntN(120)
		keys := randomRuns(rng, width+1)

		line := strings.Repeat("z", width)
		dense, err := Dense{}.ScanLine(context.Background(), newRunOracle(keys), 0, line)
		require.NoError(t, err)
		adaptive, err := Adaptive{}.ScanLine(context.Background(), newRunOracle(keys), 0, line)
		require.NoError(t, err)

		require.Equal(t, dense, adaptive, "iteration %d width %d", iter, width)
	}
}

// randomRuns splits n columns into contiguous runs and gives every run its
// own key. At most one run is NoGoal, so no key appears in two runs.
func randomRuns(rng *rand.Rand, n int) []goal.Key {
	keys := make([]goal.Key, n)
	run := 0
	noGoalRun := rng.IntN(4) - 1
	for col := range keys {
		if col > 0 && rng.IntN(8) == 0 {
			run++
		}
		if run == noGoalRun {
			keys[col] = goal.NoGoal
		} else {
			keys[col] = goal.Some(fmt.Sprintf("run-%d", run))
		}
	}
	return keys
}

func TestScanLine_PropagatesOracleErrors(t *testing.T) {
	boom := errors.New("connection lost")
	o := goal.OracleFunc(func(_ context.Context, _, character int) (goal.Key, error) {
		if character == 3 {
			return goal.NoGoal, boom
		}
		return goal.Some("g"), nil
	})

	for _, s := range []Scanner{Dense{}, Adaptive{}} {
		_, err := s.ScanLine(context.Background(), o, 0, "abcdefgh")
		assert.ErrorIs(t, err, boom, "%T", s)
	}
}

func TestScanLine_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := newRunOracle([]goal.Key{goal.NoGoal})
	for _, s := range []Scanner{Dense{}, Adaptive{}} {
		_, err := s.ScanLine(ctx, o, 0, "abc")
		assert.ErrorIs(t, err, context.Canceled, "%T", s)
	}
	assert.Zero(t, o.total())
}

func TestWidth(t *testing.T) {
	assert.Equal(t, 0, Width(""))
	assert.Equal(t, 5, Width("hello"))
	assert.Equal(t, 3, Width("⊢ α"), "BMP runes are one code unit")
	assert.Equal(t, 2, Width("𝕜"), "astral runes are a surrogate pair")
	assert.Equal(t, 1, Width("\xff"), "invalid UTF-8 counts as one unit")
}

func TestSamples(t *testing.T) {
	assert.Equal(t, []int{0}, Samples(0))
	assert.Equal(t, []int{0, 1}, Samples(1))
	assert.Equal(t, []int{0, 1, 3, 7, 10}, Samples(10))
	assert.Equal(t, []int{0, 1, 3, 7, 15, 27}, Samples(27))
	assert.Equal(t, []int{0, 1, 3, 7, 15, 31}, Samples(31))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("Adaptive")
	require.NoError(t, err)
	assert.Equal(t, ModeAdaptive, m)

	m, err = ParseMode("dense")
	require.NoError(t, err)
	assert.Equal(t, ModeDense, m)

	_, err = ParseMode("sparse")
	assert.ErrorIs(t, err, ErrUnknownMode)

	s, err := ForMode(ModeAdaptive)
	require.NoError(t, err)
	assert.IsType(t, Adaptive{}, s)

	_, err = ForMode(Mode("x"))
	assert.ErrorIs(t, err, ErrUnknownMode)
}
