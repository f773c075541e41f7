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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/leaninspect/services/inspect/docgen"
	"github.com/AleutianAI/leaninspect/services/inspect/viewer"
)

func runHTML(cmd *cobra.Command, args []string, a *app) error {
	if err := viewer.RenderTraceFile(args[0], htmlSourceRoot, htmlOut); err != nil {
		return err
	}
	a.printer.Success("wrote " + htmlOut)
	return nil
}

func runInjectDoc(cmd *cobra.Command, args []string, a *app) error {
	docRoot, project, traces := args[0], args[1], args[2]
	changed, err := docgen.InjectTree(docRoot, docgen.Options{
		ProjectRoot: project,
		TraceRoot:   traces,
		Label:       docLabel,
		DryRun:      docDryRun,
		Logger:      a.logger.Slog(),
	})
	if showProgress || docDryRun {
		for _, p := range changed {
			a.printer.Info("patched " + p)
		}
	}
	if err != nil {
		return err
	}
	verb := "updated"
	if docDryRun {
		verb = "would update"
	}
	a.printer.Success(fmt.Sprintf("%s %d files", verb, len(changed)))
	return nil
}
