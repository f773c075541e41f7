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
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/leaninspect/services/inspect/goal"
	"github.com/AleutianAI/leaninspect/services/inspect/scan"
)

func newTestBuilder(opts Options) *Builder {
	return NewBuilder("Demo.lean", "file:///p/Demo.lean", scan.ModeAdaptive, opts)
}

func TestBuildOccurrences_ScenarioA(t *testing.T) {
	b := newTestBuilder(Options{})
	line := "theorem t : True := trivial"

	occs := b.BuildOccurrences(0, line, []scan.Transition{
		{Column: 0, Key: goal.Some("⊢ True")},
		{Column: 20, Key: goal.NoGoal},
	})

	require.Len(t, occs, 1)
	assert.Equal(t, Occurrence{
		Hash:      goal.DefaultHasher().Sum("⊢ True"),
		Line:      0,
		ColStart:  0,
		ColEnd:    20,
		SamplePos: SamplePos{Line: 0, Character: 0},
	}, occs[0])
}

func TestBuildOccurrences(t *testing.T) {
	h := goal.DefaultHasher()

	t.Run("closes last range at line width", func(t *testing.T) {
		b := newTestBuilder(Options{})
		occs := b.BuildOccurrences(2, "abcdef", []scan.Transition{
			{Column: 0, Key: goal.NoGoal},
			{Column: 3, Key: goal.Some("g")},
		})
		require.Len(t, occs, 1)
		assert.Equal(t, 3, occs[0].ColStart)
		assert.Equal(t, 6, occs[0].ColEnd)
		assert.Equal(t, SamplePos{Line: 2, Character: 3}, occs[0].SamplePos)
	})

	t.Run("sorts unsorted transitions", func(t *testing.T) {
		b := newTestBuilder(Options{})
		occs := b.BuildOccurrences(0, "abcdef", []scan.Transition{
			{Column: 4, Key: goal.Some("b")},
			{Column: 0, Key: goal.Some("a")},
		})
		require.Len(t, occs, 2)
		assert.Equal(t, h.Sum("a"), occs[0].Hash)
		assert.Equal(t, [2]int{0, 4}, [2]int{occs[0].ColStart, occs[0].ColEnd})
		assert.Equal(t, h.Sum("b"), occs[1].Hash)
		assert.Equal(t, [2]int{4, 6}, [2]int{occs[1].ColStart, occs[1].ColEnd})
	})

	t.Run("transition at line end yields no empty range", func(t *testing.T) {
		b := newTestBuilder(Options{})
		occs := b.BuildOccurrences(0, "abc", []scan.Transition{
			{Column: 0, Key: goal.Some("a")},
			{Column: 3, Key: goal.Some("b")},
		})
		require.Len(t, occs, 1)
		assert.Equal(t, 3, occs[0].ColEnd)
	})

	t.Run("measures width in utf-16 units", func(t *testing.T) {
		b := newTestBuilder(Options{})
		occs := b.BuildOccurrences(0, "𝕜 x", []scan.Transition{{Column: 0, Key: goal.Some("a")}})
		require.Len(t, occs, 1)
		assert.Equal(t, 4, occs[0].ColEnd)
	})

	t.Run("empty transitions", func(t *testing.T) {
		b := newTestBuilder(Options{})
		assert.Empty(t, b.BuildOccurrences(0, "abc", nil))
	})

	t.Run("empty line has no occurrence by default", func(t *testing.T) {
		b := newTestBuilder(Options{})
		occs := b.BuildOccurrences(5, "", []scan.Transition{{Column: 0, Key: goal.Some("⊢ p")}})
		assert.Empty(t, occs)
	})

	t.Run("empty line emits degenerate occurrence when enabled", func(t *testing.T) {
		b := newTestBuilder(Options{EmitEmptyLines: true})
		occs := b.BuildOccurrences(5, "", []scan.Transition{{Column: 0, Key: goal.Some("⊢ p")}})
		require.Len(t, occs, 1)
		assert.Equal(t, 0, occs[0].ColStart)
		assert.Equal(t, 0, occs[0].ColEnd)

		assert.Empty(t, b.BuildOccurrences(5, "", []scan.Transition{{Column: 0, Key: goal.NoGoal}}))
	})
}

func TestRecordUniqueState(t *testing.T) {
	b := newTestBuilder(Options{})

	require.NoError(t, b.RecordUniqueState("abc", goal.Some("x")))
	require.NoError(t, b.RecordUniqueState("abc", goal.Some("x")))
	assert.Equal(t, 1, b.UniqueStates())

	err := b.RecordUniqueState("abc", goal.Some("y"))
	assert.ErrorIs(t, err, ErrHashCollision)
	assert.Equal(t, "x", b.Trace().UniqueStates["abc"], "first text wins")

	assert.Error(t, b.RecordUniqueState("def", goal.NoGoal))
}

func TestAddLine(t *testing.T) {
	b := newTestBuilder(Options{})
	h := goal.DefaultHasher()

	n, err := b.AddLine(0, "theorem t : True := by", []scan.Transition{
		{Column: 0, Key: goal.NoGoal},
		{Column: 20, Key: goal.Some("⊢ True")},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = b.AddLine(1, "  trivial", []scan.Transition{{Column: 0, Key: goal.Some("⊢ True")}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	tr := b.Trace()
	require.NoError(t, tr.Validate())
	assert.Equal(t, map[string]string{h.Sum("⊢ True"): "⊢ True"}, tr.UniqueStates)
	assert.Len(t, tr.Occurrences, 2)
}

func TestEncode_Shape(t *testing.T) {
	b := newTestBuilder(Options{})
	_, err := b.AddLine(0, "ab", []scan.Transition{{Column: 0, Key: goal.Some("a < b")}})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, b.Trace()))

	hash := goal.DefaultHasher().Sum("a < b")
	want := `{
  "file": "Demo.lean",
  "uri": "file:///p/Demo.lean",
  "mode": "adaptive",
  "unique_states": {
    "` + hash + `": "a < b"
  },
  "occurrences": [
    {
      "hash": "` + hash + `",
      "line": 0,
      "col_start": 0,
      "col_end": 2,
      "sample_pos": {
        "line": 0,
        "character": 0
      }
    }
  ]
}
`
	assert.Equal(t, want, buf.String())
}

func TestEncode_EmptyTrace(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, newTestBuilder(Options{}).Trace()))
	assert.Contains(t, buf.String(), `"unique_states": {}`)
	assert.Contains(t, buf.String(), `"occurrences": []`)
}

func TestWriteReadFile(t *testing.T) {
	b := newTestBuilder(Options{})
	_, err := b.AddLine(3, "exact h", []scan.Transition{{Column: 0, Key: goal.Some("h : p\n⊢ p")}})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "nested", "Demo.trace.json")
	require.NoError(t, WriteFile(path, b.Trace()))

	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, b.Trace(), got)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file must not be left behind")
}

func TestDecode_Invalid(t *testing.T) {
	_, err := Decode(strings.NewReader(`{"file":"a","unique_states":{},"occurrences":[{"hash":"x","line":0,"col_start":0,"col_end":1}]}`))
	assert.ErrorIs(t, err, ErrInvalidTrace)

	_, err = Decode(strings.NewReader(`{"file":`))
	assert.Error(t, err)
}

func TestSummarize(t *testing.T) {
	b := newTestBuilder(Options{})
	_, err := b.AddLine(0, "ab", []scan.Transition{{Column: 0, Key: goal.Some("a")}, {Column: 1, Key: goal.Some("b")}})
	require.NoError(t, err)

	s := Summarize(b.Trace())
	assert.Equal(t, "Demo.lean", s.File)
	assert.Equal(t, 2, s.UniqueStates)
	assert.Equal(t, 2, s.Occurrences)
}
