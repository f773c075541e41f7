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
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/leaninspect/cmd/leaninspect/config"
	"github.com/AleutianAI/leaninspect/pkg/logging"
	"github.com/AleutianAI/leaninspect/pkg/ux"
	"github.com/AleutianAI/leaninspect/services/inspect/telemetry"
)

// app is the per-invocation runtime shared by all subcommands.
type app struct {
	cfg     config.Config
	root    *logging.Logger
	logger  *logging.Logger
	printer *ux.Printer
	status  *ux.Printer
	runID   string

	stopTelemetry func(context.Context) error
}

// setupOptions tweak setup for commands with special needs.
type setupOptions struct {
	// metrics forces the Prometheus exporter (serve).
	metrics bool
}

// newApp loads configuration, applies changed flags and starts logging
// and telemetry. Callers must Close the result.
func newApp(cmd *cobra.Command, opts setupOptions) (*app, error) {
	cfg, err := config.Load(config.LoadOptions{Path: configPath, EnvFile: envFile})
	if err != nil {
		return nil, err
	}
	if err := applyFlags(cmd, &cfg); err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	mode, err := ux.ParseMode(outputMode, os.Stdout)
	if err != nil {
		return nil, err
	}
	printer := ux.NewPrinter(cmd.OutOrStdout(), mode)
	status := ux.NewPrinter(cmd.ErrOrStderr(), mode)

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	runID := uuid.NewString()
	root := logging.New(logging.Config{
		Level:   level,
		LogDir:  cfg.Logging.Dir,
		Service: logging.DefaultService,
		JSON:    cfg.Logging.JSON,
		Output:  cmd.ErrOrStderr(),
	})
	logger := root.With("run_id", runID, "command", cmd.Name())

	if opts.metrics && (cfg.Telemetry.MetricExporter == "" || cfg.Telemetry.MetricExporter == telemetry.ExporterNone) {
		cfg.Telemetry.MetricExporter = telemetry.ExporterPrometheus
	}
	cfg.Telemetry.ServiceVersion = Version
	stopTelemetry, err := telemetry.Init(cmd.Context(), cfg.Telemetry)
	if err != nil {
		_ = root.Close()
		return nil, err
	}

	slog.SetDefault(logger.Slog())
	logger.Debug("configuration loaded",
		slog.String("mode", cfg.Trace.Mode),
		slog.Int("hash_width", cfg.Trace.HashWidth),
		slog.String("trace_exporter", cfg.Telemetry.TraceExporter),
		slog.String("metric_exporter", cfg.Telemetry.MetricExporter),
	)

	return &app{
		cfg:           cfg,
		root:          root,
		logger:        logger,
		printer:       printer,
		status:        status,
		runID:         runID,
		stopTelemetry: stopTelemetry,
	}, nil
}

// Close flushes telemetry and closes the log file.
func (a *app) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return errors.Join(a.stopTelemetry(ctx), a.root.Close())
}

// withApp adapts a command body that needs the runtime into a RunE.
func withApp(opts setupOptions, fn func(cmd *cobra.Command, args []string, a *app) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		a, err := newApp(cmd, opts)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := a.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("shutdown: %w", cerr)
			}
		}()
		return fn(cmd, args, a)
	}
}

// applyFlags copies explicitly set flags over cfg. Flags left at their
// defaults never override the file or environment.
func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	var errs []error
	changed := func(name string) bool {
		f := flags.Lookup(name)
		return f != nil && f.Changed
	}
	str := func(name string, dst *string) {
		if changed(name) {
			v, err := flags.GetString(name)
			errs = append(errs, err)
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) {
		if changed(name) {
			v, err := flags.GetBool(name)
			errs = append(errs, err)
			*dst = v
		}
	}

	str("log-level", &cfg.Logging.Level)
	str("log-dir", &cfg.Logging.Dir)
	boolean("log-json", &cfg.Logging.JSON)
	str("lake", &cfg.Lake.Path)
	str("mode", &cfg.Trace.Mode)
	boolean("emit-empty-lines", &cfg.Trace.EmitEmptyLines)
	boolean("html", &cfg.Trace.HTML)
	str("cache-dir", &cfg.Cache.Dir)
	str("addr", &cfg.Serve.Addr)

	if changed("hash-width") {
		v, err := flags.GetInt("hash-width")
		errs = append(errs, err)
		cfg.Trace.HashWidth = v
	}
	if changed("qps") {
		v, err := flags.GetFloat64("qps")
		errs = append(errs, err)
		cfg.Trace.QueriesPerSecond = v
	}
	if changed("skip") {
		v, err := flags.GetStringSlice("skip")
		errs = append(errs, err)
		cfg.Project.SkipDirs = v
	}
	if changed("debounce") {
		v, err := flags.GetDuration("debounce")
		errs = append(errs, err)
		cfg.Watch.Debounce = v
	}
	return errors.Join(errs...)
}
