// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/leaninspect/services/inspect/cache"
	"github.com/AleutianAI/leaninspect/services/inspect/goal"
	"github.com/AleutianAI/leaninspect/services/inspect/lsp"
	"github.com/AleutianAI/leaninspect/services/inspect/scan"
	"github.com/AleutianAI/leaninspect/services/inspect/session"
	"github.com/AleutianAI/leaninspect/services/inspect/trace"
	"github.com/AleutianAI/leaninspect/services/inspect/viewer"
)

// traceOptions builds per-file options from the merged configuration.
// The returned close func releases the cache and is never nil.
func (a *app) traceOptions() (session.TraceOptions, func(), error) {
	noop := func() {}
	mode, err := scan.ParseMode(a.cfg.Trace.Mode)
	if err != nil {
		return session.TraceOptions{}, noop, err
	}
	hasher, err := goal.NewHasher(a.cfg.Trace.HashWidth)
	if err != nil {
		return session.TraceOptions{}, noop, err
	}
	opts := session.TraceOptions{
		Mode:             mode,
		Range:            session.LineRange{Start: startLine, End: endLine},
		Hasher:           hasher,
		EmitEmptyLines:   a.cfg.Trace.EmitEmptyLines,
		QueriesPerSecond: a.cfg.Trace.QueriesPerSecond,
	}
	if showProgress {
		opts.Progress = a.reportProgress
	}

	if a.cfg.Cache.Dir == "" {
		return opts, noop, nil
	}
	ccfg := cache.DefaultConfig(a.cfg.Cache.Dir)
	ccfg.TTL = a.cfg.Cache.TTL
	ccfg.Logger = a.logger.Slog()
	store, err := cache.Open(ccfg)
	if err != nil {
		return session.TraceOptions{}, noop, err
	}
	opts.Cache = store
	return opts, func() {
		if err := store.Close(); err != nil {
			a.logger.Warn("close trace cache", slog.String("error", err.Error()))
		}
	}, nil
}

// lakeServer builds the server for root from the lake configuration.
func (a *app) lakeServer(root string) *lsp.Server {
	return session.NewLakeServer(session.ServerOptions{
		Lake:            a.cfg.Lake.Path,
		Args:            a.cfg.Lake.Args,
		ShutdownTimeout: a.cfg.Lake.ShutdownTimeout,
	}, root, a.logger.Slog())
}

func (a *app) reportProgress(p session.Progress) {
	total := p.End - p.Start
	done := p.Line - p.Start
	a.status.Info(fmt.Sprintf("%s %s line %d/%d  states=%d occurrences=%d",
		filepath.Base(p.File), a.status.ProgressBar(done, total, 20), p.Line, p.End, p.UniqueStates, p.Occurrences))
}

func runTraceFile(cmd *cobra.Command, args []string, a *app) error {
	file := args[0]
	if _, err := os.Stat(file); err != nil {
		return fmt.Errorf("file not found: %s", file)
	}
	root := traceRoot
	if root == "" {
		root = filepath.Dir(file)
	}

	opts, closeCache, err := a.traceOptions()
	if err != nil {
		return err
	}
	defer closeCache()

	ctx := cmd.Context()
	var (
		tr  *trace.Trace
		sum trace.Summary
	)
	err = session.With(ctx, a.lakeServer(root), root, a.logger.Slog(), func(s *session.Session) error {
		if printInit {
			if err := printInitializeResult(a, s.InitializeResult()); err != nil {
				return err
			}
		}
		var err error
		tr, sum, err = s.TraceFile(ctx, file, opts)
		return err
	})
	if err != nil {
		return err
	}

	if traceOut == "-" {
		if err := trace.Encode(cmd.OutOrStdout(), tr); err != nil {
			return err
		}
	} else {
		if err := trace.WriteFile(traceOut, tr); err != nil {
			return err
		}
		sum.Output = traceOut
	}

	if traceHTMLOut != "" {
		source, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		if err := viewer.WriteFile(traceHTMLOut, tr, string(source)); err != nil {
			return err
		}
	}

	if printSummary || showProgress {
		printSummaries(a.status, []trace.Summary{sum})
	}
	return nil
}

func printInitializeResult(a *app, res lsp.InitializeResult) error {
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("encode initialize result: %w", err)
	}
	a.status.Box("initialize", string(data))
	return nil
}

func runTraceProject(cmd *cobra.Command, args []string, a *app) error {
	srcRoot := args[0]
	info, err := os.Stat(srcRoot)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("source root not found: %s", srcRoot)
	}
	root := projectRoot
	if root == "" {
		root = srcRoot
	}

	opts, closeCache, err := a.traceOptions()
	if err != nil {
		return err
	}
	defer closeCache()

	ctx := cmd.Context()
	var summaries []trace.Summary
	err = session.With(ctx, a.lakeServer(root), root, a.logger.Slog(), func(s *session.Session) error {
		var err error
		summaries, err = s.TraceProject(ctx, srcRoot, session.ProjectOptions{
			TraceOptions: opts,
			OutDir:       outDir,
			SkipDirs:     a.cfg.Project.SkipDirs,
			HTML:         a.cfg.Trace.HTML,
			OnFile: func(sum trace.Summary) {
				if showProgress {
					a.status.Success("wrote " + sum.Output)
				}
			},
		})
		return err
	})

	if len(summaries) > 0 {
		printSummaries(a.printer, summaries)
	}
	if err != nil {
		if len(summaries) > 0 {
			a.status.Warning(fmt.Sprintf("stopped after %d files; their outputs are kept", len(summaries)))
		}
		return err
	}
	a.printer.Success(fmt.Sprintf("traced %d files into %s", len(summaries), outDir))
	return nil
}

// summaryRows formats one table row per summary plus a totals row when
// there is more than one file.
func summaryRows(summaries []trace.Summary) [][]string {
	rows := make([][]string, 0, len(summaries)+1)
	var total trace.Summary
	for _, s := range summaries {
		name := s.Output
		if name == "" {
			name = s.File
		}
		rows = append(rows, summaryRow(name, s))
		total.Lines += s.Lines
		total.Queries += s.Queries
		total.UniqueStates += s.UniqueStates
		total.Occurrences += s.Occurrences
		total.Duration += s.Duration
	}
	if len(summaries) > 1 {
		rows = append(rows, summaryRow("total", total))
	}
	return rows
}

func summaryRow(name string, s trace.Summary) []string {
	cached := ""
	if s.Cached {
		cached = "yes"
	}
	return []string{
		name,
		strconv.Itoa(s.Lines),
		strconv.FormatInt(s.Queries, 10),
		strconv.Itoa(s.UniqueStates),
		strconv.Itoa(s.Occurrences),
		cached,
		s.Duration.Round(time.Millisecond).String(),
	}
}

type tablePrinter interface {
	Table(headers []string, rows [][]string)
}

func printSummaries(p tablePrinter, summaries []trace.Summary) {
	p.Table(
		[]string{"file", "lines", "queries", "unique states", "occurrences", "cached", "time"},
		summaryRows(summaries),
	)
}
