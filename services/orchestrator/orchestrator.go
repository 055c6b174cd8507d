// Copyright (C) 2025 COSMOS Contributors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package orchestrator assembles the COSMOS query engine service.
//
// It wires the HTTP router, the LLM backend, the Weaviate vector store,
// the response cache, conversation memory, the retention scheduler, and
// the observability stack, then runs the server.
//
// # Usage
//
//	cfg := orchestrator.ConfigFromEnv()
//	svc, err := orchestrator.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/abdullah-a8/cosmos-engine/services/llm"
	"github.com/abdullah-a8/cosmos-engine/services/orchestrator/accumulator"
	"github.com/abdullah-a8/cosmos-engine/services/orchestrator/cache"
	"github.com/abdullah-a8/cosmos-engine/services/orchestrator/datatypes"
	"github.com/abdullah-a8/cosmos-engine/services/orchestrator/memory"
	"github.com/abdullah-a8/cosmos-engine/services/orchestrator/observability"
	"github.com/abdullah-a8/cosmos-engine/services/orchestrator/routes"
	"github.com/abdullah-a8/cosmos-engine/services/orchestrator/services"
	"github.com/abdullah-a8/cosmos-engine/services/orchestrator/ttl"
	"github.com/abdullah-a8/cosmos-engine/services/retrieval"
)

// =============================================================================
// Configuration
// =============================================================================

// Config holds the service configuration. Zero values use defaults.
type Config struct {
	// Port is the HTTP server port. Default: 12210
	Port int

	// LLMBackend selects the generation provider: "groq" or "ollama".
	// Default: "groq"
	LLMBackend string

	// WeaviateURL is the vector store URL. Required.
	WeaviateURL string

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// Default: "cosmos-otel-collector:4317"
	OTelEndpoint string

	// APIKey protects the /v1 routes. Empty disables authentication.
	APIKey string

	// GinMode sets the Gin framework mode. Default: GIN_MODE env or debug.
	GinMode string

	// CacheSize bounds the response cache. Default: 100 entries.
	CacheSize int

	// CacheTTL is the response cache entry lifetime. Default: 5 minutes.
	CacheTTL time.Duration

	// RetrievalTimeout bounds one vector search. Default: 30 seconds.
	RetrievalTimeout time.Duration

	// UpsertTimeout bounds one ingestion batch. Default: 60 seconds.
	UpsertTimeout time.Duration

	// TopK is the number of passages retrieved per query. Default: 4.
	TopK int

	// MemoryWindow is the recent-turn window for conversation context.
	// Default: 20 turns.
	MemoryWindow int

	// RetentionInterval is how often the retention sweeper runs.
	// Default: 1 hour.
	RetentionInterval time.Duration

	// TurnRetention keeps conversation turns this long. Default: 30 days.
	TurnRetention time.Duration

	// RetentionLogPath is the retention audit log file.
	// Default: "./logs/retention.log"
	RetentionLogPath string

	// EnableMetrics registers Prometheus collectors. Default: true.
	EnableMetrics bool
}

// ConfigFromEnv builds a Config from environment variables.
func ConfigFromEnv() Config {
	return Config{
		Port:              envInt("ENGINE_PORT", 12210),
		LLMBackend:        envString("LLM_BACKEND_TYPE", "groq"),
		WeaviateURL:       os.Getenv("WEAVIATE_SERVICE_URL"),
		OTelEndpoint:      envString("OTEL_EXPORTER_OTLP_ENDPOINT", "cosmos-otel-collector:4317"),
		APIKey:            os.Getenv("ENGINE_API_KEY"),
		CacheSize:         envInt("QUERY_CACHE_SIZE", 0),
		CacheTTL:          envSeconds("QUERY_CACHE_TTL", 0),
		RetrievalTimeout:  envSeconds("RETRIEVAL_TIMEOUT_SECONDS", 0),
		UpsertTimeout:     envSeconds("UPSERT_TIMEOUT_SECONDS", 0),
		TopK:              envInt("RETRIEVAL_TOP_K", 0),
		MemoryWindow:      envInt("MEMORY_WINDOW", 0),
		RetentionInterval: envSeconds("RETENTION_INTERVAL_SECONDS", 0),
		TurnRetention:     envSeconds("TURN_RETENTION_SECONDS", 0),
		RetentionLogPath:  os.Getenv("RETENTION_LOG_PATH"),
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		slog.Warn("Invalid integer in environment, using default", "key", key, "value", v)
	}
	return fallback
}

func envSeconds(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
		slog.Warn("Invalid duration in environment, using default", "key", key, "value", v)
	}
	return fallback
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12210
	}
	if cfg.LLMBackend == "" {
		cfg.LLMBackend = "groq"
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "cosmos-otel-collector:4317"
	}
	if cfg.RetentionInterval == 0 {
		cfg.RetentionInterval = time.Hour
	}
	if cfg.TurnRetention == 0 {
		cfg.TurnRetention = 30 * 24 * time.Hour
	}
	if cfg.RetentionLogPath == "" {
		cfg.RetentionLogPath = "./logs/retention.log"
	}
	cfg.EnableMetrics = true
	return cfg
}

// =============================================================================
// Service
// =============================================================================

// Service is the engine lifecycle.
type Service interface {
	// Run starts the HTTP server and blocks until it stops.
	Run() error

	// Router exposes the Gin engine for integration tests.
	Router() *gin.Engine
}

type service struct {
	config         Config
	router         *gin.Engine
	engine         *services.QueryEngine
	weaviateClient *weaviate.Client
	tracerCleanup  func(context.Context)
	retention      ttl.Scheduler
	auditSink      ttl.AuditSink
}

// New creates a ready-to-run service from cfg.
//
// # Description
//
// Initialization order: tracing, metrics, Weaviate client and schema,
// LLM client, query engine, retention scheduler, router. A failure in
// any step tears down what was already started and returns an error.
func New(cfg Config) (Service, error) {
	s := &service{config: applyConfigDefaults(cfg)}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	if s.config.EnableMetrics {
		observability.InitMetrics()
		slog.Info("Initialized Prometheus metrics")
	}

	if err := s.initWeaviate(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize Weaviate: %w", err)
	}

	llmClient, err := s.initLLMClient()
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	store := memory.NewWeaviateMessageStore(s.weaviateClient)
	s.engine = services.NewQueryEngine(
		llmClient,
		retrieval.NewWeaviateRetriever(s.weaviateClient),
		cache.NewResponseCache(s.config.CacheTTL, s.config.CacheSize),
		memory.NewManager(store, s.config.MemoryWindow),
		services.Config{
			RetrievalTimeout: s.config.RetrievalTimeout,
			UpsertTimeout:    s.config.UpsertTimeout,
			TopK:             s.config.TopK,
		},
	)

	if err := s.initRetention(); err != nil {
		slog.Warn("Retention scheduler initialization failed, continuing without cleanup",
			"error", err)
	}

	s.initRouter()
	return s, nil
}

func (s *service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("Starting query engine server",
		"port", s.config.Port,
		"llm_backend", s.config.LLMBackend)
	return s.router.Run(addr)
}

func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Initialization
// =============================================================================

func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("cosmos-engine")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}
	return cleanup, nil
}

// initWeaviate connects to the vector store and ensures the schema. The
// store is a hard dependency: retrieval and conversation memory both
// live there.
func (s *service) initWeaviate() error {
	weaviateURL := strings.Trim(s.config.WeaviateURL, "\"' ")
	if weaviateURL == "" {
		return fmt.Errorf("WEAVIATE_SERVICE_URL is required")
	}

	parsedURL, err := url.Parse(weaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return fmt.Errorf("invalid Weaviate URL: %s", weaviateURL)
	}

	s.weaviateClient, err = weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		return fmt.Errorf("failed to create Weaviate client: %w", err)
	}

	if err := datatypes.EnsureWeaviateSchema(context.Background(), s.weaviateClient); err != nil {
		return fmt.Errorf("failed to ensure Weaviate schema: %w", err)
	}

	slog.Info("Weaviate client initialized", "url", weaviateURL)
	return nil
}

func (s *service) initLLMClient() (llm.Client, error) {
	switch s.config.LLMBackend {
	case "groq":
		slog.Info("Using Groq LLM backend")
		return llm.NewGroqClient()
	case "ollama":
		slog.Info("Using Ollama LLM backend")
		return llm.NewOllamaClient()
	default:
		slog.Warn("Unknown LLM backend, defaulting to groq", "backend", s.config.LLMBackend)
		return llm.NewGroqClient()
	}
}

func (s *service) initRetention() error {
	sink, err := ttl.NewFileAuditSink(s.config.RetentionLogPath)
	if err != nil {
		slog.Warn("Failed to create retention audit log, continuing without it",
			"log_path", s.config.RetentionLogPath,
			"error", err)
		sink = ttl.NopAuditSink{}
	}
	s.auditSink = sink

	s.retention = ttl.NewScheduler(
		ttl.NewRetentionService(s.weaviateClient),
		sink,
		ttl.SchedulerConfig{
			Interval:      s.config.RetentionInterval,
			TurnRetention: s.config.TurnRetention,
		},
	)
	if err := s.retention.Start(context.Background()); err != nil {
		return err
	}

	slog.Info("Retention scheduler started",
		"interval", s.config.RetentionInterval.String(),
		"turn_retention", s.config.TurnRetention.String())
	return nil
}

func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("cosmos-engine"))

	routes.SetupRoutes(s.router, s.engine, s.config.APIKey)
}

func (s *service) cleanup() {
	if s.retention != nil {
		if err := s.retention.Stop(); err != nil {
			slog.Warn("Retention scheduler stop error", "error", err)
		}
	}
	if s.auditSink != nil {
		if err := s.auditSink.Close(); err != nil {
			slog.Warn("Retention audit sink close error", "error", err)
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
	accumulator.PurgeAll()
}

var _ Service = (*service)(nil)
