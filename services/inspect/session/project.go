// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/AleutianAI/leaninspect/services/inspect/trace"
	"github.com/AleutianAI/leaninspect/services/inspect/viewer"
)

// DefaultSkipDirs are directory names never descended into.
var DefaultSkipDirs = []string{".git", ".lake", "lake-packages", "docbuild", "build"}

// ProjectOptions controls a project-wide trace.
type ProjectOptions struct {
	TraceOptions

	// OutDir receives <rel>.trace.json for every traced file.
	OutDir string

	// SkipDirs overrides DefaultSkipDirs when non-nil.
	SkipDirs []string

	// HTML also writes a <rel>.trace.html viewer next to each trace.
	HTML bool

	// OnFile, when set, is called after each file's outputs are written.
	OnFile func(trace.Summary)
}

// FindLeanFiles returns the .lean files under root as slash-separated
// paths relative to root, in lexical order. Directories whose name is in
// skip are not descended into.
func FindLeanFiles(root string, skip []string) ([]string, error) {
	skipSet := make(map[string]struct{}, len(skip))
	for _, d := range skip {
		skipSet[d] = struct{}{}
	}

	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if _, ok := skipSet[d.Name()]; ok && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) != ".lean" {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}

// OutputPath maps a source path relative to the project to its trace path
// under outDir.
func OutputPath(outDir, rel string) string {
	return filepath.Join(outDir, filepath.FromSlash(strings.TrimSuffix(rel, ".lean")+".trace.json"))
}

// HTMLPath maps a trace JSON path to its viewer path.
func HTMLPath(jsonPath string) string {
	return strings.TrimSuffix(jsonPath, ".json") + ".html"
}

// RemoveOutputs deletes the trace and viewer written for rel. Missing
// files are not an error.
func RemoveOutputs(outDir, rel string) error {
	out := OutputPath(outDir, rel)
	for _, p := range []string{out, HTMLPath(out)} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// TraceProject traces every .lean file under srcRoot on this session.
//
// Description:
//
//	Files are processed in lexical order of their relative path, one open
//	document at a time. The first failure aborts the walk; the outputs
//	already written stay on disk.
//
// Outputs:
//
//	[]trace.Summary - One entry per file written, in order
//	error - The failure that stopped the walk, naming the file
func (s *Session) TraceProject(ctx context.Context, srcRoot string, opts ProjectOptions) ([]trace.Summary, error) {
	skip := opts.SkipDirs
	if skip == nil {
		skip = DefaultSkipDirs
	}
	files, err := FindLeanFiles(srcRoot, skip)
	if err != nil {
		return nil, err
	}

	s.logger.Info("tracing project",
		slog.String("root", srcRoot),
		slog.Int("files", len(files)),
		slog.String("mode", string(opts.mode())),
	)

	summaries := make([]trace.Summary, 0, len(files))
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return summaries, err
		}

		sum, err := s.TraceProjectFile(ctx, srcRoot, rel, opts)
		if err != nil {
			return summaries, fmt.Errorf("trace %s: %w", rel, err)
		}
		summaries = append(summaries, sum)
		if opts.OnFile != nil {
			opts.OnFile(sum)
		}
	}
	return summaries, nil
}

// TraceProjectFile traces srcRoot/rel and writes its outputs under
// opts.OutDir, exactly as TraceProject does for each file.
func (s *Session) TraceProjectFile(ctx context.Context, srcRoot, rel string, opts ProjectOptions) (trace.Summary, error) {
	path := filepath.Join(srcRoot, filepath.FromSlash(rel))
	content, err := os.ReadFile(path)
	if err != nil {
		return trace.Summary{}, fmt.Errorf("read: %w", err)
	}

	tr, sum, err := s.traceContent(ctx, path, content, opts.TraceOptions)
	if err != nil {
		return trace.Summary{}, err
	}

	out := OutputPath(opts.OutDir, rel)
	if err := trace.WriteFile(out, tr); err != nil {
		return trace.Summary{}, err
	}
	sum.Output = out

	if opts.HTML {
		if err := viewer.WriteFile(HTMLPath(out), tr, string(content)); err != nil {
			return trace.Summary{}, err
		}
	}

	s.logger.Info("wrote trace",
		slog.String("file", rel),
		slog.String("output", out),
		slog.Int64("queries", sum.Queries),
		slog.Bool("cached", sum.Cached),
	)
	return sum, nil
}
