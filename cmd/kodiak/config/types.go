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
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
)

// KodiakConfig is the full on-disk configuration, stored at
// ~/.kodiak/kodiak.yaml. Secrets never live here; the model API key
// comes from the environment or a secret file (see Model.APIKeyFile).
type KodiakConfig struct {
	// Server configures the HTTP gateway.
	Server ServerConfig `yaml:"server" validate:"required"`

	// Model selects the completion backend.
	Model ModelConfig `yaml:"model" validate:"required"`

	// Orchestrator holds the dispatch flags and loop bounds. This block
	// is hot-reloadable; running tasks pick changes up at iteration
	// boundaries.
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`

	// Memory configures conversation persistence.
	Memory MemoryConfig `yaml:"memory"`

	// Features toggles optional subsystems.
	Features FeatureConfig `yaml:"features"`

	// Observability configures tracing and the iteration recorder.
	Observability ObservabilityConfig `yaml:"observability"`

	// Logging configures the shared slog logger.
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	// Port the gateway listens on.
	Port int `yaml:"port" validate:"min=1,max=65535"`
}

type ModelConfig struct {
	// Type is the backend family. Only openai-compatible endpoints are
	// supported; the base URL points it at local gateways.
	Type string `yaml:"type" validate:"oneof=openai"`

	// BaseURL overrides the provider endpoint (e.g. an Ollama bridge).
	BaseURL string `yaml:"base_url,omitempty" validate:"omitempty,url"`

	// Name is the model identifier sent with every completion.
	Name string `yaml:"name" validate:"required"`

	// APIKeyFile is the fallback secret file when OPENAI_API_KEY is
	// not set.
	APIKeyFile string `yaml:"api_key_file,omitempty"`

	// RequestsPerSecond caps the completion call rate. Zero disables
	// the limiter.
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"min=0"`
}

// OrchestratorConfig mirrors the agent dispatch flags plus loop bounds.
type OrchestratorConfig struct {
	AutoDetectTools       bool `yaml:"auto_detect_tools"`
	UseModelToolSelection bool `yaml:"use_model_tool_selection"`
	UseSimulatedFallback  bool `yaml:"use_simulated_fallback"`

	// MaxIterations bounds each continuous task.
	MaxIterations int `yaml:"max_iterations" validate:"min=1"`

	// IterationDelaySeconds is the fixed pause between iterations.
	IterationDelaySeconds float64 `yaml:"iteration_delay_seconds" validate:"min=0"`

	// StallWindowSeconds is how long without a transition before the
	// loop synthesizes a stall fault.
	StallWindowSeconds float64 `yaml:"stall_window_seconds" validate:"min=1"`
}

type MemoryConfig struct {
	// Dir is the badger data directory.
	Dir string `yaml:"dir" validate:"required"`
}

type FeatureConfig struct {
	// SemanticMemory mirrors conversation exchanges into Weaviate.
	SemanticMemory bool `yaml:"semantic_memory"`

	// WeaviateURL is the vector store endpoint when SemanticMemory is on.
	WeaviateURL string `yaml:"weaviate_url,omitempty" validate:"omitempty,url"`

	// Observability enables tracing and the Influx recorder.
	Observability bool `yaml:"observability"`
}

type ObservabilityConfig struct {
	// TraceExporter is "otlp", "stdout", or "none".
	TraceExporter string `yaml:"trace_exporter" validate:"oneof=otlp stdout none"`

	// MetricExporter is "prometheus", "stdout", or "none".
	MetricExporter string `yaml:"metric_exporter" validate:"oneof=prometheus stdout none"`

	// OTLPEndpoint is the collector address for the otlp exporter.
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`

	// Influx configures the optional iteration recorder.
	Influx InfluxConfig `yaml:"influx"`
}

type InfluxConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url,omitempty" validate:"omitempty,url"`
	Token   string `yaml:"token,omitempty"`
	Org     string `yaml:"org,omitempty"`
	Bucket  string `yaml:"bucket,omitempty"`
}

type LoggingConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level" validate:"oneof=debug info warn error"`

	// Dir receives the log file; empty disables the file sink.
	Dir string `yaml:"dir,omitempty"`

	// JSON selects the JSON handler over text.
	JSON bool `yaml:"json"`
}

// DefaultConfig returns the config written on first run.
func DefaultConfig() KodiakConfig {
	dataDir := ""
	logDir := ""
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".kodiak", "memory")
		logDir = filepath.Join(home, ".kodiak", "logs")
	}
	return KodiakConfig{
		Server: ServerConfig{Port: 12310},
		Model: ModelConfig{
			Type:              "openai",
			Name:              "gpt-4o-mini",
			APIKeyFile:        "/run/secrets/openai_api_key",
			RequestsPerSecond: 2,
		},
		Orchestrator: OrchestratorConfig{
			AutoDetectTools:       true,
			UseModelToolSelection: false,
			UseSimulatedFallback:  true,
			MaxIterations:         100,
			IterationDelaySeconds: 1,
			StallWindowSeconds:    300,
		},
		Memory: MemoryConfig{Dir: dataDir},
		Features: FeatureConfig{
			SemanticMemory: false,
			WeaviateURL:    "http://localhost:8080",
			Observability:  false,
		},
		Observability: ObservabilityConfig{
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			OTLPEndpoint:   "localhost:4317",
		},
		Logging: LoggingConfig{Level: "info", Dir: logDir, JSON: false},
	}
}

// Validate checks the struct tags. Returns the validator's error with
// every failing field.
func (c *KodiakConfig) Validate() error {
	return validate.Struct(c)
}

var validate = validator.New()
