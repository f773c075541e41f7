// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lsp

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for LSP traffic.
var (
	tracer = otel.Tracer("leaninspect.lsp")
	meter  = otel.Meter("leaninspect.lsp")
)

// Request outcomes recorded on lsp_request_total.
const (
	outcomeOK          = "ok"
	outcomeServerError = "server_error"
	outcomeClosed      = "closed"
	outcomeCancelled   = "cancelled"
	outcomeWriteError  = "write_error"
)

var (
	requestLatency metric.Float64Histogram
	requestTotal   metric.Int64Counter
	serverSpawns   metric.Int64Counter
	framesIgnored  metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		requestLatency, err = meter.Float64Histogram(
			"lsp_request_duration_seconds",
			metric.WithDescription("Round-trip time of LSP requests"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		requestTotal, err = meter.Int64Counter(
			"lsp_request_total",
			metric.WithDescription("Total number of LSP requests by method and outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		serverSpawns, err = meter.Int64Counter(
			"lsp_server_spawns_total",
			metric.WithDescription("Total number of LSP server spawns"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		framesIgnored, err = meter.Int64Counter(
			"lsp_frames_ignored_total",
			metric.WithDescription("Incoming frames not matched to a pending request, by reason"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startServerSpan creates a span covering a server lifecycle step.
func startServerSpan(ctx context.Context, step, command string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Server."+step,
		trace.WithAttributes(
			attribute.String("lsp.command", command),
		),
	)
}

// recordRequest records latency and outcome for one request.
func recordRequest(ctx context.Context, method string, duration time.Duration, outcome string) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("outcome", outcome),
	)
	requestLatency.Record(ctx, duration.Seconds(), attrs)
	requestTotal.Add(ctx, 1, attrs)
}

// recordServerSpawn records a server spawn event.
func recordServerSpawn(ctx context.Context, command string, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	serverSpawns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("command", command),
		attribute.Bool("success", success),
	))
}

// Reasons recorded on lsp_frames_ignored_total.
const (
	ignoredUndecodable   = "undecodable"
	ignoredUnmatched     = "unmatched"
	ignoredNotification  = "notification"
	ignoredServerRequest = "server_request"
)

// recordIgnoredFrame counts a frame the read loop did not hand to a caller.
func recordIgnoredFrame(reason string) {
	if err := initMetrics(); err != nil {
		return
	}
	framesIgnored.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
}
