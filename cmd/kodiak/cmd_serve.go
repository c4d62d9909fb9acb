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
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/kodiak/cmd/kodiak/config"
	"github.com/AleutianAI/kodiak/pkg/ux"
	"github.com/AleutianAI/kodiak/services/assistant/routes"
)

const serverShutdownTimeout = 10 * time.Second

// runServe assembles the full runtime and serves the gateway until
// SIGINT or SIGTERM. The config watcher runs alongside the server so
// orchestrator flag edits apply without a restart.
func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, runtimeOptions{withStore: true, withObservability: true})
	if err != nil {
		return err
	}
	defer rt.Close()

	manager := rt.newManager()

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	routes.SetupRoutes(engine, routes.Deps{
		Client:   rt.client,
		Executor: rt.executor,
		Manager:  manager,
		Flags:    flagSource,
		Store:    rt.store,
		Index:    rt.index,
		Version:  Version,
		Logger:   rt.slog,
	})

	addr := fmt.Sprintf(":%d", rt.cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ux.Title("Kodiak gateway")
	ux.Info(fmt.Sprintf("listening on %s", addr))
	rt.slog.Info("gateway starting", slog.String("addr", addr), slog.String("version", Version))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		// Watch returns when gctx is done; a watcher failure just means
		// config edits need a restart.
		if err := config.Watch(gctx, rt.slog); err != nil {
			rt.slog.Warn("config watcher stopped", slog.Any("error", err))
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		rt.slog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			rt.slog.Warn("server shutdown incomplete", slog.Any("error", err))
		}
		if err := manager.Shutdown(shutdownCtx); err != nil {
			rt.slog.Warn("tasks still running at shutdown", slog.Any("error", err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("gateway failed: %w", err)
	}
	ux.Success("gateway stopped")
	return nil
}
