// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Only the orchestrator block reloads at runtime. Everything else
// (ports, data dirs, model selection) requires a restart, so a partial
// or invalid edit can never yank infrastructure out from under running
// tasks.

// reloadDebounce coalesces the editor write-rename-write bursts that
// fsnotify reports for a single save.
const reloadDebounce = 250 * time.Millisecond

// Orchestrator returns a copy of the current orchestrator block. Loops
// call this through their flag source at iteration boundaries.
func Orchestrator() OrchestratorConfig {
	mu.RLock()
	defer mu.RUnlock()
	return global.Orchestrator
}

// applyOrchestrator swaps in a freshly validated orchestrator block.
func applyOrchestrator(block OrchestratorConfig) {
	mu.Lock()
	global.Orchestrator = block
	mu.Unlock()
}

// Watch reloads the orchestrator block whenever the config file
// changes. It watches the config directory rather than the file so
// atomic saves (write temp, rename over) keep working. Blocks until
// ctx is done; run it in its own goroutine.
func Watch(ctx context.Context, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	path, err := Path()
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	logger.Info("watching config for orchestrator flag changes",
		slog.String("path", path))

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != filepath.Base(path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
				timerC = timer.C
			} else {
				timer.Reset(reloadDebounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			reload(path, logger)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", slog.Any("error", err))
		}
	}
}

func reload(path string, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := readFile(path)
	if err != nil {
		// Keep the last good flags; a broken edit is not a reason to
		// change running behavior.
		logger.Warn("config reload skipped", slog.Any("error", err))
		return
	}
	applyOrchestrator(cfg.Orchestrator)
	logger.Info("orchestrator flags reloaded",
		slog.Bool("auto_detect_tools", cfg.Orchestrator.AutoDetectTools),
		slog.Bool("use_model_tool_selection", cfg.Orchestrator.UseModelToolSelection),
		slog.Bool("use_simulated_fallback", cfg.Orchestrator.UseSimulatedFallback),
		slog.Int("max_iterations", cfg.Orchestrator.MaxIterations))
}
