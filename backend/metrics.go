// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"time"
)

// OpTiming describes one completed store call
type OpTiming struct {
	Operation string
	Table     string
	Duration  time.Duration
	Rows      int
	Error     bool
}

type MetricsRecorder interface {
	ObserveOp(ctx context.Context, timing OpTiming)
}

type MetricsRecorderFunc func(ctx context.Context, timing OpTiming)

func (f MetricsRecorderFunc) ObserveOp(ctx context.Context, timing OpTiming) {
	f(ctx, timing)
}

func (s *PGStore) timingEnabled() bool {
	if s == nil || s.config == nil {
		return false
	}
	return s.config.Metrics != nil || s.config.LogTimings
}

func (s *PGStore) opStart() time.Time {
	if !s.timingEnabled() {
		return time.Time{}
	}
	return time.Now()
}

func (s *PGStore) observeOp(ctx context.Context, op, table string, start time.Time, rows int, err error) {
	if start.IsZero() {
		return
	}
	timing := OpTiming{
		Operation: op,
		Table:     table,
		Duration:  time.Since(start),
		Rows:      rows,
		Error:     err != nil,
	}
	if s.config.Metrics != nil {
		s.config.Metrics.ObserveOp(ctx, timing)
	}
	if s.config.LogTimings {
		s.logger.Debug("Store timing",
			"op", timing.Operation,
			"table", timing.Table,
			"duration", timing.Duration,
			"rows", timing.Rows,
			"error", timing.Error,
		)
	}
}
