// Copyright (C) 2025 COSMOS Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command engine starts the COSMOS query engine HTTP server.
//
// Configuration comes from environment variables:
//
//   - ENGINE_PORT: HTTP server port (default: 12210)
//   - LLM_BACKEND_TYPE: generation provider, groq or ollama (default: groq)
//   - WEAVIATE_SERVICE_URL: Weaviate vector store URL (required)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: cosmos-otel-collector:4317)
//   - ENGINE_API_KEY: bearer token for /v1 routes (empty disables auth)
//   - GROQ_API_KEY / OLLAMA_BASE_URL: backend credentials and endpoints
//   - QUERY_CACHE_SIZE, QUERY_CACHE_TTL: response cache tuning
//   - RETRIEVAL_TIMEOUT_SECONDS, UPSERT_TIMEOUT_SECONDS: phase timeouts
//   - MEMORY_WINDOW: conversation context window in turns (default: 20)
//   - RETENTION_INTERVAL_SECONDS, TURN_RETENTION_SECONDS: retention sweeper
//   - LOG_LEVEL, LOG_DIR: logging tuning
//
// # Usage
//
//	go build -o engine ./cmd/engine
//	./engine serve
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/abdullah-a8/cosmos-engine/pkg/logging"
	"github.com/abdullah-a8/cosmos-engine/services/orchestrator"
)

// version is injected at build time via -ldflags.
var version = "dev"

func main() {
	root := &cobra.Command{
		Use:           "engine",
		Short:         "COSMOS query engine",
		Long:          "Retrieval-augmented query engine over a Weaviate knowledge base.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var port int
	var backend string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.New(logging.Config{
				Level:   logging.ParseLevel(os.Getenv("LOG_LEVEL")),
				LogDir:  os.Getenv("LOG_DIR"),
				Service: "cosmos-engine",
				JSON:    true,
			})
			defer logger.Close()
			logger.SetAsDefault()

			cfg := orchestrator.ConfigFromEnv()
			if port != 0 {
				cfg.Port = port
			}
			if backend != "" {
				cfg.LLMBackend = backend
			}
			logger.Info("Starting query engine",
				"version", version,
				"port", cfg.Port,
				"llm_backend", cfg.LLMBackend,
				"weaviate_url", cfg.WeaviateURL)

			svc, err := orchestrator.New(cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize service: %w", err)
			}
			return svc.Run()
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "HTTP port (overrides ENGINE_PORT)")
	cmd.Flags().StringVar(&backend, "llm-backend", "", "generation backend: groq or ollama (overrides LLM_BACKEND_TYPE)")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the engine version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("cosmos-engine", version)
		},
	}
}
