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
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	configPath string
	envFile    string
	outputMode string

	// trace-file
	traceRoot    string
	traceOut     string
	traceHTMLOut string
	startLine    int
	endLine      int
	printInit    bool
	printSummary bool
	showProgress bool

	// trace-project / watch
	projectRoot string
	outDir      string

	// html
	htmlOut        string
	htmlSourceRoot string

	// inject-doc
	docLabel  string
	docDryRun bool

	// serve
	serveDir        string
	serveSourceRoot string

	rootCmd = &cobra.Command{
		Use:   "leaninspect",
		Short: "Record the Lean proof goal at every position of a source file",
		Long: `leaninspect drives a Lean language server (lake serve), asks it for the
plain goal at every column of a file, and writes a compact trace: the unique
goal states and the column ranges where each one holds. Traces can be
browsed as standalone HTML viewers, served over HTTP, or linked from
doc-gen4 documentation.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	traceFileCmd = &cobra.Command{
		Use:   "trace-file [file.lean]",
		Short: "Trace the goal states of one Lean file",
		Args:  cobra.ExactArgs(1),
		RunE:  withApp(setupOptions{}, runTraceFile), // Defined in cmd_trace.go
	}

	traceProjectCmd = &cobra.Command{
		Use:   "trace-project [src_root]",
		Short: "Trace every .lean file under a source root",
		Args:  cobra.ExactArgs(1),
		RunE:  withApp(setupOptions{}, runTraceProject), // Defined in cmd_trace.go
	}

	htmlCmd = &cobra.Command{
		Use:   "html [trace.json]",
		Short: "Render a trace as a standalone HTML viewer",
		Args:  cobra.ExactArgs(1),
		RunE:  withApp(setupOptions{}, runHTML), // Defined in cmd_html.go
	}

	injectDocCmd = &cobra.Command{
		Use:   "inject-doc [doc_root] [project_root] [trace_root]",
		Short: "Add trace links to doc-gen4 declaration pages",
		Args:  cobra.ExactArgs(3),
		RunE:  withApp(setupOptions{}, runInjectDoc), // Defined in cmd_html.go
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Browse a directory of traces over HTTP",
		Args:  cobra.NoArgs,
		RunE:  withApp(setupOptions{metrics: true}, runServe), // Defined in cmd_serve.go
	}

	watchCmd = &cobra.Command{
		Use:   "watch [src_root]",
		Short: "Re-trace Lean files as they change",
		Args:  cobra.ExactArgs(1),
		RunE:  withApp(setupOptions{}, runWatch), // Defined in cmd_watch.go
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the configuration file",
	}
	configInitCmd = &cobra.Command{
		Use:   "init [path]",
		Short: "Write the default configuration",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runConfigInit, // Defined in cmd_config.go
	}
	configShowCmd = &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE:  withApp(setupOptions{}, runConfigShow), // Defined in cmd_config.go
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run:   runVersion, // Defined in version.go
	}
)

// addTraceFlags registers the flags shared by every command that talks to
// a Lean server.
func addTraceFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("lake", "", "Path to the lake binary (default: lake on PATH, then ~/.elan/bin/lake)")
	f.String("mode", "", "Scan mode: dense (every column) or adaptive (fewer queries)")
	f.Int("hash-width", 0, "Hex digits kept from each goal hash (8-64)")
	f.Bool("emit-empty-lines", false, "Emit [0,0) occurrences on empty lines inside a goal")
	f.Float64("qps", 0, "Maximum goal queries per second (0 = unlimited)")
	f.String("cache-dir", "", "Reuse traces of unchanged files from this cache directory")
	f.IntVar(&startLine, "start-line", 0, "Scan starting at this 0-based line")
	f.IntVar(&endLine, "end-line", 0, "Scan up to (but not including) this 0-based line; 0 = end of file")
	f.BoolVar(&showProgress, "progress", false, "Print progress while scanning")
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Config file (default ./leaninspect.yaml when present)")
	pf.StringVar(&envFile, "env-file", "", "Dotenv file with LEANINSPECT_* overrides (default ./.env when present)")
	pf.StringVar(&outputMode, "output", "auto", "Output style: auto, rich, plain or machine")
	pf.String("log-level", "", "Log level: debug, info, warn or error")
	pf.Bool("log-json", false, "Write logs to stderr as JSON")
	pf.String("log-dir", "", "Also write JSON logs to this directory")

	addTraceFlags(traceFileCmd)
	traceFileCmd.Flags().StringVar(&traceRoot, "root", "", "Project root for the server (default: the file's directory)")
	traceFileCmd.Flags().StringVar(&traceOut, "out", "trace.json", "Output JSON path, or - for stdout")
	traceFileCmd.Flags().StringVar(&traceHTMLOut, "html-out", "", "Also write an HTML viewer to this path")
	traceFileCmd.Flags().BoolVar(&printInit, "print-init", false, "Print the server's initialize result")
	traceFileCmd.Flags().BoolVar(&printSummary, "print-summary", false, "Print a short summary at the end")

	addTraceFlags(traceProjectCmd)
	traceProjectCmd.Flags().StringVar(&projectRoot, "root", "", "Project root for the server (default: src_root)")
	traceProjectCmd.Flags().StringVar(&outDir, "out-dir", "traces", "Directory to write trace JSON (and HTML if requested)")
	traceProjectCmd.Flags().Bool("html", false, "Also emit HTML viewers next to JSON outputs")
	traceProjectCmd.Flags().StringSlice("skip", nil, "Directory names to skip (default .git,.lake,lake-packages,docbuild,build)")

	htmlCmd.Flags().StringVar(&htmlOut, "out", "trace.html", "Output HTML path")
	htmlCmd.Flags().StringVar(&htmlSourceRoot, "source-root", "", "Resolve a relative source path in the trace against this directory")

	injectDocCmd.Flags().StringVar(&docLabel, "label", "trace", "Link label to insert")
	injectDocCmd.Flags().BoolVar(&showProgress, "progress", false, "Print every patched page")
	injectDocCmd.Flags().BoolVar(&docDryRun, "dry-run", false, "Report pages that would change without writing")

	serveCmd.Flags().StringVar(&serveDir, "dir", "traces", "Directory holding *.trace.json files")
	serveCmd.Flags().StringVar(&serveSourceRoot, "source-root", "", "Resolve relative source paths in traces against this directory")
	serveCmd.Flags().String("addr", "", "Listen address (default 127.0.0.1:8642)")

	addTraceFlags(watchCmd)
	watchCmd.Flags().StringVar(&projectRoot, "root", "", "Project root for the server (default: src_root)")
	watchCmd.Flags().StringVar(&outDir, "out-dir", "traces", "Directory to write trace JSON (and HTML if requested)")
	watchCmd.Flags().Bool("html", false, "Also emit HTML viewers next to JSON outputs")
	watchCmd.Flags().StringSlice("skip", nil, "Directory names to skip")
	watchCmd.Flags().Duration("debounce", 0, "Quiet period before a batch of changes is traced")

	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(
		traceFileCmd,
		traceProjectCmd,
		htmlCmd,
		injectDocCmd,
		serveCmd,
		watchCmd,
		configCmd,
		versionCmd,
	)
}
