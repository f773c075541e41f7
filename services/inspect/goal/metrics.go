// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package goal

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("leaninspect.goal")

var (
	queryTotal metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		queryTotal, metricsErr = meter.Int64Counter(
			"goal_queries_total",
			metric.WithDescription("Goal oracle queries by result"),
		)
	})
	return metricsErr
}

// recordQuery counts one oracle query by its result.
func recordQuery(ctx context.Context, key Key, err error) {
	if initMetrics() != nil {
		return
	}
	result := "none"
	switch {
	case err != nil:
		result = "error"
	case key.Present():
		result = "goal"
	}
	queryTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
