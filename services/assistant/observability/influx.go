// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"context"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// InfluxConfig controls the optional InfluxDB iteration writer.
type InfluxConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	URL     string `json:"url" yaml:"url"`
	Token   string `json:"token" yaml:"token"`
	Org     string `json:"org" yaml:"org"`
	Bucket  string `json:"bucket" yaml:"bucket"`
}

// IterationWriter exports per-iteration task telemetry to InfluxDB.
//
// Description:
//
//	Each loop iteration becomes one "kodiak_iteration" point tagged
//	with task id and phase. The writer is a no-op when disabled or
//	unconfigured, and write failures are logged rather than returned
//	so telemetry can never fault a running loop.
//
// Thread Safety: Safe for concurrent use.
type IterationWriter struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	logger   *slog.Logger
}

// NewIterationWriter creates an iteration writer. A disabled config
// yields a writer whose methods do nothing.
func NewIterationWriter(cfg InfluxConfig, logger *slog.Logger) *IterationWriter {
	if logger == nil {
		logger = slog.Default()
	}
	w := &IterationWriter{logger: logger}
	if !cfg.Enabled || cfg.URL == "" {
		return w
	}
	w.client = influxdb2.NewClient(cfg.URL, cfg.Token)
	w.writeAPI = w.client.WriteAPIBlocking(cfg.Org, cfg.Bucket)
	return w
}

// WriteIteration records one loop iteration.
//
// Inputs:
//
//	taskID - The task the iteration belongs to.
//	phase - The status entering the iteration.
//	iteration - Iteration ordinal.
//	errorCount - Faults recorded so far.
//	final - Whether this is the terminal snapshot.
func (w *IterationWriter) WriteIteration(ctx context.Context, taskID, phase string, iteration, errorCount int, final bool) {
	if w == nil || w.writeAPI == nil {
		return
	}
	p := influxdb2.NewPointWithMeasurement("kodiak_iteration").
		AddTag("task_id", taskID).
		AddTag("phase", phase).
		AddField("iteration", iteration).
		AddField("error_count", errorCount).
		AddField("final", final).
		SetTime(time.Now())
	if err := w.writeAPI.WritePoint(ctx, p); err != nil {
		w.logger.Warn("influx write failed", slog.Any("error", err))
	}
}

// Close releases the underlying client.
func (w *IterationWriter) Close() {
	if w != nil && w.client != nil {
		w.client.Close()
	}
}
