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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/leaninspect/services/inspect/lsp"
	"github.com/AleutianAI/leaninspect/services/inspect/session"
	"github.com/AleutianAI/leaninspect/services/inspect/watch"
)

func runWatch(cmd *cobra.Command, args []string, a *app) error {
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

	popts := session.ProjectOptions{
		TraceOptions: opts,
		OutDir:       outDir,
		SkipDirs:     a.cfg.Project.SkipDirs,
		HTML:         a.cfg.Trace.HTML,
	}

	ctx, cancel := context.WithCancelCause(cmd.Context())
	defer cancel(nil)

	return session.With(ctx, a.lakeServer(root), root, a.logger.Slog(), func(s *session.Session) error {
		sums, err := s.TraceProject(ctx, srcRoot, popts)
		if err != nil {
			return err
		}
		a.printer.Success(fmt.Sprintf("traced %d files into %s; watching for changes", len(sums), outDir))

		w, err := watch.New(srcRoot, retraceHandler(a, s, srcRoot, popts, cancel), watch.Options{
			Debounce: a.cfg.Watch.Debounce,
			SkipDirs: a.cfg.Project.SkipDirs,
			Logger:   a.logger.Slog(),
		})
		if err != nil {
			return err
		}
		if err := w.Run(ctx); err != nil {
			return err
		}
		if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
			return cause
		}
		return nil
	})
}

// retraceHandler re-traces each changed file on s. A lost server
// connection stops the watch through stop; other failures are reported
// and the watch continues.
func retraceHandler(a *app, s *session.Session, srcRoot string, popts session.ProjectOptions, stop context.CancelCauseFunc) watch.Handler {
	return func(ctx context.Context, changes []watch.Change) {
		for _, ch := range changes {
			if ch.Op == watch.OpRemove {
				if err := session.RemoveOutputs(popts.OutDir, ch.Rel); err != nil {
					a.status.Warning(fmt.Sprintf("remove outputs of %s: %v", ch.Rel, err))
					continue
				}
				a.status.Info("removed " + ch.Rel)
				continue
			}

			sum, err := s.TraceProjectFile(ctx, srcRoot, ch.Rel, popts)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				a.logger.Error("retrace failed", slog.String("file", ch.Rel), slog.String("error", err.Error()))
				a.status.Error(fmt.Sprintf("%s: %v", ch.Rel, err))
				if errors.Is(err, lsp.ErrConnectionClosed) {
					stop(err)
					return
				}
				continue
			}
			a.status.Success(fmt.Sprintf("%s: %d states, %d occurrences", ch.Rel, sum.UniqueStates, sum.Occurrences))
		}
	}
}
