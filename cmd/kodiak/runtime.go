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
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/kodiak/cmd/kodiak/config"
	"github.com/AleutianAI/kodiak/pkg/logging"
	"github.com/AleutianAI/kodiak/services/assistant/agent"
	"github.com/AleutianAI/kodiak/services/assistant/agent/tools"
	"github.com/AleutianAI/kodiak/services/assistant/llm"
	"github.com/AleutianAI/kodiak/services/assistant/memory"
	"github.com/AleutianAI/kodiak/services/assistant/observability"
	"github.com/AleutianAI/kodiak/services/assistant/secrets"
)

// rateLimitBurst is the burst allowance for the completion rate limiter.
const rateLimitBurst = 4

// runtime holds the assembled collaborators a command runs with.
// Commands that need less pass withStore/withObservability as false and
// the corresponding fields stay nil.
type runtime struct {
	cfg      config.KodiakConfig
	logger   *logging.Logger
	slog     *slog.Logger
	provider *secrets.Provider
	client   llm.Client
	executor *tools.Executor
	store    memory.Store
	index    *memory.SemanticIndex
	influx   *observability.IterationWriter

	obsShutdown func(context.Context) error
}

type runtimeOptions struct {
	withStore         bool
	withObservability bool
}

// newRuntime builds the shared command runtime from loaded config:
// logger, sealed API key, completion client chain, tool executor, and
// the optional memory and observability subsystems.
func newRuntime(ctx context.Context, opts runtimeOptions) (*runtime, error) {
	cfg := config.Get()

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.Dir,
		Service: "kodiak",
		JSON:    cfg.Logging.JSON,
	})
	slogger := logger.Slog()

	rt := &runtime{cfg: cfg, logger: logger, slog: slogger}

	secrets.Init()
	secrets.SetLogger(slogger)
	provider, err := secrets.FromEnv("OPENAI_API_KEY", "OPENAI_API_KEY_FILE", cfg.Model.APIKeyFile)
	if err != nil {
		logger.Close()
		return nil, fmt.Errorf("loading the model API key: %w", err)
	}
	rt.provider = provider

	if opts.withObservability && cfg.Features.Observability {
		shutdown, err := observability.Init(ctx, observability.Config{
			ServiceName:    "kodiak",
			ServiceVersion: Version,
			Environment:    "local",
			TraceExporter:  cfg.Observability.TraceExporter,
			OTLPEndpoint:   cfg.Observability.OTLPEndpoint,
			OTLPInsecure:   true,
			MetricExporter: cfg.Observability.MetricExporter,
		})
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("initializing observability: %w", err)
		}
		rt.obsShutdown = shutdown

		if cfg.Observability.Influx.Enabled {
			rt.influx = observability.NewIterationWriter(observability.InfluxConfig{
				Enabled: true,
				URL:     cfg.Observability.Influx.URL,
				Token:   cfg.Observability.Influx.Token,
				Org:     cfg.Observability.Influx.Org,
				Bucket:  cfg.Observability.Influx.Bucket,
			}, slogger)
		}
	}

	client, err := buildClient(cfg, slogger, provider)
	if err != nil {
		rt.Close()
		return nil, err
	}
	if opts.withObservability && cfg.Features.Observability {
		client = observability.InstrumentClient(client)
	}
	rt.client = client

	rt.executor = tools.NewExecutor(tools.NewDefaultRegistry(), nil)

	if opts.withStore {
		store, err := memory.NewBadgerStore(memory.Config{
			Path:   cfg.Memory.Dir,
			Logger: slogger,
		})
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("opening the memory store: %w", err)
		}
		rt.store = store

		index, err := memory.NewSemanticIndex(memory.SemanticConfig{
			Enabled: cfg.Features.SemanticMemory,
			URL:     cfg.Features.WeaviateURL,
		})
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("connecting the semantic index: %w", err)
		}
		if index.Enabled() {
			if err := index.EnsureSchema(ctx); err != nil {
				slogger.Warn("semantic index schema unavailable, continuing without recall",
					slog.Any("error", err))
			}
		}
		rt.index = index
	}

	return rt, nil
}

// buildClient assembles the completion client chain: provider client,
// retry, then rate limiting. The API key only exists unsealed inside
// the enclave callback.
func buildClient(cfg config.KodiakConfig, logger *slog.Logger, provider *secrets.Provider) (llm.Client, error) {
	var client llm.Client
	err := provider.Use(func(key string) error {
		opts := []llm.OpenAIOption{
			llm.WithModel(cfg.Model.Name),
			llm.WithLogger(logger),
		}
		if cfg.Model.BaseURL != "" {
			opts = append(opts, llm.WithBaseURL(cfg.Model.BaseURL))
		}
		base, err := llm.NewOpenAIClient(key, opts...)
		if err != nil {
			return err
		}
		client = base
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("building the completion client: %w", err)
	}

	client = llm.NewRetryClient(client)
	if cfg.Model.RequestsPerSecond > 0 {
		client = llm.NewRateLimitedClient(client, cfg.Model.RequestsPerSecond, rateLimitBurst)
	}
	return client, nil
}

// newManager builds a task manager on the runtime, bound to the live
// orchestrator config block so flag edits apply at iteration boundaries.
func (rt *runtime) newManager() *agent.Manager {
	orch := config.Orchestrator()

	opts := []agent.ManagerOption{
		agent.WithManagerLogger(rt.slog),
		agent.WithManagerFlagSource(flagSource),
		agent.WithTaskDefaults(
			agent.WithMaxIterations(orch.MaxIterations),
			agent.WithIterationDelay(secondsToDuration(orch.IterationDelaySeconds)),
			agent.WithStallWindow(secondsToDuration(orch.StallWindowSeconds)),
		),
	}
	if rt.influx != nil {
		writer := rt.influx
		opts = append(opts, agent.WithManagerObserver(func(taskID string, snap agent.StatusSnapshot) {
			writer.WriteIteration(context.Background(), taskID, snap.Status,
				snap.Iteration, snap.ErrorCount, snap.Final)
		}))
	}
	return agent.NewManager(rt.client, rt.executor, opts...)
}

// flagSource reads the hot-reloadable orchestrator block.
func flagSource() agent.Flags {
	orch := config.Orchestrator()
	return agent.Flags{
		AutoDetectTools:       orch.AutoDetectTools,
		UseModelToolSelection: orch.UseModelToolSelection,
		UseSimulatedFallback:  orch.UseSimulatedFallback,
	}
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Close releases runtime resources in reverse order of construction.
func (rt *runtime) Close() {
	if rt.influx != nil {
		rt.influx.Close()
	}
	if rt.obsShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = rt.obsShutdown(ctx)
		cancel()
	}
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			rt.slog.Warn("failed to close the memory store", slog.Any("error", err))
		}
	}
	secrets.Purge()
	if rt.logger != nil {
		rt.logger.Close()
	}
}
