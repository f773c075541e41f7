// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package viewer renders a goal trace as a self-contained HTML page and
// serves a directory of traces over HTTP.
//
// The page shows the source with every occurrence marked, and a goal panel
// that follows a click-placed, arrow-key-driven cursor. Positions without
// an occurrence fall back to the nearest preceding one.
package viewer

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/AleutianAI/leaninspect/services/inspect/trace"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var pageTemplate = template.Must(template.New("viewer.html.tmpl").ParseFS(templateFS, "templates/viewer.html.tmpl"))

// Line is one rendered source line.
type Line struct {
	Number   int
	Segments []Segment
}

// Goal is one unique state with its rendered HTML.
type Goal struct {
	Hash string
	Text string
	HTML template.HTML
}

// Page is the template model of a trace view.
type Page struct {
	File         string
	Mode         string
	UniqueStates int
	Occurrences  int
	Lines        []Line
	Goals        []Goal

	// Data is the trace JSON, safe to place inside a <script> element.
	Data template.JS
}

// BuildPage prepares the template model for t over its source text.
func BuildPage(t *trace.Trace, source string) (*Page, error) {
	data, err := embedJSON(t)
	if err != nil {
		return nil, err
	}

	byLine := make(map[int][]trace.Occurrence)
	for _, o := range t.Occurrences {
		byLine[o.Line] = append(byLine[o.Line], o)
	}

	texts := strings.Split(strings.ReplaceAll(strings.ReplaceAll(source, "\r\n", "\n"), "\r", "\n"), "\n")
	lines := make([]Line, len(texts))
	for i, text := range texts {
		lines[i] = Line{Number: i + 1, Segments: LineSegments(text, byLine[i])}
	}

	hashes := make([]string, 0, len(t.UniqueStates))
	for h := range t.UniqueStates {
		hashes = append(hashes, h)
	}
	sort.Strings(hashes)
	goals := make([]Goal, 0, len(hashes))
	for _, h := range hashes {
		text := t.UniqueStates[h]
		goals = append(goals, Goal{Hash: h, Text: text, HTML: RenderGoal(text)})
	}

	return &Page{
		File:         t.File,
		Mode:         string(t.Mode),
		UniqueStates: len(t.UniqueStates),
		Occurrences:  len(t.Occurrences),
		Lines:        lines,
		Goals:        goals,
		Data:         data,
	}, nil
}

// embedJSON marshals t so it can sit inside a script element: "<" is
// escaped so the payload can never close the element.
func embedJSON(t *trace.Trace) (template.JS, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(t); err != nil {
		return "", fmt.Errorf("encode trace: %w", err)
	}
	out := strings.ReplaceAll(strings.TrimSpace(buf.String()), "<", `\u003c`)
	return template.JS(out), nil
}

// Render writes the HTML page for t over source.
func Render(w io.Writer, t *trace.Trace, source string) error {
	page, err := BuildPage(t, source)
	if err != nil {
		return err
	}
	if err := pageTemplate.Execute(w, page); err != nil {
		return fmt.Errorf("render viewer: %w", err)
	}
	return nil
}

// WriteFile renders the page for t to path, creating parent directories.
func WriteFile(path string, t *trace.Trace, source string) error {
	var buf bytes.Buffer
	if err := Render(&buf, t, source); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write viewer: %w", err)
	}
	return nil
}

// RenderTraceFile reads a trace JSON file and the source it names, and
// writes the viewer page to out. sourceRoot resolves a relative file path;
// empty means the current directory.
func RenderTraceFile(tracePath, sourceRoot, out string) error {
	t, err := trace.ReadFile(tracePath)
	if err != nil {
		return err
	}
	source, err := os.ReadFile(resolveSource(t.File, sourceRoot))
	if err != nil {
		return fmt.Errorf("read source for %s: %w", tracePath, err)
	}
	return WriteFile(out, t, string(source))
}

func resolveSource(file, root string) string {
	if filepath.IsAbs(file) || root == "" {
		return file
	}
	return filepath.Join(root, file)
}
