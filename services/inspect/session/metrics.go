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
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/AleutianAI/leaninspect/services/inspect/trace"
)

var (
	tracer = otel.Tracer("leaninspect.session")
	meter  = otel.Meter("leaninspect.session")
)

var (
	filesTotal   metric.Int64Counter
	lineQueries  metric.Int64Histogram
	fileDuration metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		filesTotal, err = meter.Int64Counter(
			"trace_files_total",
			metric.WithDescription("Files traced, by mode and cache result"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		lineQueries, err = meter.Int64Histogram(
			"trace_line_queries",
			metric.WithDescription("Goal queries issued per scanned line"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		fileDuration, err = meter.Float64Histogram(
			"trace_file_duration_seconds",
			metric.WithDescription("Wall time to trace one file"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordLineQueries(ctx context.Context, mode string, queries int64) {
	if initMetrics() != nil {
		return
	}
	lineQueries.Record(ctx, queries, metric.WithAttributes(attribute.String("mode", mode)))
}

func recordFile(ctx context.Context, mode string, sum trace.Summary) {
	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.Bool("cached", sum.Cached),
	)
	filesTotal.Add(ctx, 1, attrs)
	fileDuration.Record(ctx, sum.Duration.Seconds(), attrs)
}
