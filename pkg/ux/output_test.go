// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	m, err := ParseMode("machine", nil)
	require.NoError(t, err)
	assert.Equal(t, ModeMachine, m)

	m, err = ParseMode("auto", nil)
	require.NoError(t, err)
	assert.Equal(t, ModePlain, m, "no file means no terminal")

	_, err = ParseMode("fancy", nil)
	assert.Error(t, err)
}

func TestDetectMode_NoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	assert.Equal(t, ModePlain, DetectMode(nil))
}

func TestPrinter_Machine(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, ModeMachine)

	p.Title("ignored")
	p.Success("wrote A.trace.json")
	p.Warning("cache disabled")
	p.KV([][2]string{{"queries", "12"}})
	p.Table([]string{"file", "queries"}, [][]string{{"A.lean", "12"}})

	assert.Equal(t, "OK: wrote A.trace.json\nWARN: cache disabled\nqueries=12\nfile\tqueries\nA.lean\t12\n", buf.String())
	assert.Equal(t, "3/10", p.ProgressBar(3, 10, 20))
}

func TestPrinter_PlainTable(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, ModePlain)
	p.Table([]string{"file", "n"}, [][]string{{"A.lean", "1"}, {"Long/Name.lean", "200"}})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "file            n", lines[0])
	assert.Equal(t, "A.lean          1", lines[1])
	assert.Equal(t, "Long/Name.lean  200", lines[2])
}

func TestPrinter_PlainStatus(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, ModePlain)
	p.Error("boom")
	p.KV([][2]string{{"a", "1"}, {"long", "2"}})
	assert.Equal(t, "✗ boom\na     1\nlong  2\n", buf.String())
	assert.Equal(t, "█████░░░░░  50%", p.ProgressBar(5, 10, 10))
}
