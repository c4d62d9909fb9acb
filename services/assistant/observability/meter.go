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
	"fmt"
	"runtime"
	"time"

	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// meterName identifies instruments created by this package.
const meterName = "github.com/AleutianAI/kodiak/services/assistant"

// initMeter creates a MeterProvider for the configured exporter.
//
// The prometheus exporter registers with the default prometheus
// registry, so promhttp (MetricsHandler) serves OTel instruments next
// to the promauto metrics without a second endpoint.
func initMeter(cfg Config, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	switch cfg.MetricExporter {
	case "prometheus":
		exporter, err := promexporter.New()
		if err != nil {
			return nil, fmt.Errorf("create prometheus exporter: %w", err)
		}
		return sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(exporter),
		), nil

	case "stdout":
		exporter, err := stdoutmetric.New(stdoutmetric.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create stdout metric exporter: %w", err)
		}
		return sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		), nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExporter, cfg.MetricExporter)
	}
}

// registerRuntimeInstruments publishes process-level gauges: uptime
// and goroutine count. Task-level metrics stay on the promauto side
// (metrics.go); these exist so a collector scraping only OTel data
// still sees process liveness.
func registerRuntimeInstruments() error {
	meter := otel.Meter(meterName)
	start := time.Now()

	uptime, err := meter.Float64ObservableCounter("kodiak.process.uptime",
		metric.WithDescription("Seconds since process start"),
		metric.WithUnit("s"))
	if err != nil {
		return err
	}

	goroutines, err := meter.Int64ObservableGauge("kodiak.process.goroutines",
		metric.WithDescription("Current goroutine count"))
	if err != nil {
		return err
	}

	_, err = meter.RegisterCallback(
		func(_ context.Context, o metric.Observer) error {
			o.ObserveFloat64(uptime, time.Since(start).Seconds())
			o.ObserveInt64(goroutines, int64(runtime.NumGoroutine()))
			return nil
		},
		uptime, goroutines,
	)
	return err
}
