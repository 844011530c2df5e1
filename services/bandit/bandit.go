// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package bandit wires the allocation engine, storage, HTTP API and
// observability into a runnable service.
//
// # Usage
//
//	cfg := bandit.Config{Port: 12310, Store: "badger", DataDir: "./data"}
//	svc, err := bandit.New(context.Background(), cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run(ctx))
package bandit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/AleutianAI/AleutianBandit/services/bandit/ab"
	"github.com/AleutianAI/AleutianBandit/services/bandit/handlers"
	"github.com/AleutianAI/AleutianBandit/services/bandit/history"
	"github.com/AleutianAI/AleutianBandit/services/bandit/middleware"
	"github.com/AleutianAI/AleutianBandit/services/bandit/observability"
	"github.com/AleutianAI/AleutianBandit/services/bandit/routes"
	"github.com/AleutianAI/AleutianBandit/services/bandit/storage"
	badgerstore "github.com/AleutianAI/AleutianBandit/services/bandit/storage/badger"
	"github.com/AleutianAI/AleutianBandit/services/bandit/storage/sqlstore"
)

const serviceName = "bandit-service"

// Store backends accepted in Config.Store.
const (
	StoreBadger   = "badger"
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service is a runnable bandit API server.
//
// # Thread Safety
//
// Run should be called once. Router is safe to use from tests.
type Service interface {
	// Run serves HTTP until ctx is cancelled or the listener fails, then
	// shuts down gracefully and releases resources.
	Run(ctx context.Context) error

	// Router returns the configured Gin engine.
	Router() *gin.Engine

	// Close releases storage, history and tracing. Safe to call twice.
	Close() error
}

// =============================================================================
// Configuration
// =============================================================================

// Config configures the service. Zero values take the defaults noted per
// field. Tags drive environment parsing in cmd/bandit-server.
type Config struct {
	// Port is the HTTP port. Default: 12310
	Port int `env:"BANDIT_PORT" envDefault:"12310" yaml:"port"`

	// Store selects the backend: badger, memory, sqlite or postgres.
	// Default: badger
	Store string `env:"BANDIT_STORE" envDefault:"badger" yaml:"store"`

	// DSN is the sqlite path or postgres URL. For sqlite it defaults to
	// DataDir/bandit.db.
	DSN string `env:"BANDIT_DSN" yaml:"dsn"`

	// DataDir holds badger and default sqlite files. Default: ./data/bandit
	DataDir string `env:"BANDIT_DATA_DIR" envDefault:"./data/bandit" yaml:"data_dir"`

	// NumSamples is the number of Monte Carlo rounds. Default: 10000.
	// Negative values are rejected by New.
	NumSamples int `env:"BANDIT_NUM_SAMPLES" envDefault:"10000" yaml:"num_samples"`

	// Shards splits sampling across goroutines. Default: 1
	Shards int `env:"BANDIT_SHARDS" envDefault:"1" yaml:"shards"`

	// MaxSamples caps the per-request samples override. Default: 200000
	MaxSamples int `env:"BANDIT_MAX_SAMPLES" envDefault:"200000" yaml:"max_samples"`

	// Confidence is the interval level for GET /metrics. Default: 0.95
	Confidence float64 `env:"BANDIT_CONFIDENCE" envDefault:"0.95" yaml:"confidence"`

	// ZMode is "fixed" (always z=1.96) or "exact". Default: fixed
	ZMode string `env:"BANDIT_Z_MODE" envDefault:"fixed" yaml:"z_mode"`

	// OTelEndpoint is the OTLP gRPC collector. Empty disables tracing.
	OTelEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" yaml:"otel_endpoint"`

	// GinMode is debug, release or test. Empty keeps gin's default.
	GinMode string `env:"GIN_MODE" yaml:"gin_mode"`

	// WriteRPS limits POST /data. Zero disables limiting.
	WriteRPS float64 `env:"BANDIT_WRITE_RPS" envDefault:"0" yaml:"write_rps"`

	// WriteBurst is the limiter bucket size. Default: 20
	WriteBurst int `env:"BANDIT_WRITE_BURST" envDefault:"20" yaml:"write_burst"`

	// Influx enables allocation history when URL is set.
	Influx history.InfluxConfig `envPrefix:"BANDIT_INFLUX_" yaml:"influx"`

	// ShutdownTimeout bounds graceful shutdown. Default: 10s
	ShutdownTimeout time.Duration `env:"BANDIT_SHUTDOWN_TIMEOUT" envDefault:"10s" yaml:"shutdown_timeout"`
}

// applyConfigDefaults fills in zero-valued fields.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12310
	}
	if cfg.Store == "" {
		cfg.Store = StoreBadger
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data/bandit"
	}
	if cfg.NumSamples == 0 {
		cfg.NumSamples = ab.DefaultSamples
	}
	if cfg.Shards == 0 {
		cfg.Shards = 1
	}
	if cfg.MaxSamples == 0 {
		cfg.MaxSamples = 200000
	}
	if cfg.Confidence == 0 {
		cfg.Confidence = ab.DefaultConfidence
	}
	if cfg.WriteBurst == 0 {
		cfg.WriteBurst = 20
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	return cfg
}

// Option overrides a collaborator, mainly for tests and embedding.
type Option func(*service)

// WithStore uses store instead of opening one from Config. The service
// takes ownership and closes it.
func WithStore(store storage.Store) Option {
	return func(s *service) { s.store = store }
}

// WithRecorder uses rec for allocation history.
func WithRecorder(rec history.Recorder) Option {
	return func(s *service) { s.recorder = rec }
}

// =============================================================================
// Implementation
// =============================================================================

type service struct {
	config        Config
	router        *gin.Engine
	store         storage.Store
	recorder      history.Recorder
	metrics       *observability.Metrics
	tracerCleanup func(context.Context)
	closed        bool
}

// New builds the service: tracing, metrics, storage, history, sampler and
// routes, in that order.
//
// # Outputs
//
//   - Service: Ready to Run.
//   - error: ab.ErrInvalidSampleCount for a negative sample count, or any
//     storage or tracing setup failure.
func New(ctx context.Context, cfg Config, opts ...Option) (Service, error) {
	s := &service{config: applyConfigDefaults(cfg)}
	for _, opt := range opts {
		opt(s)
	}

	zMode, err := ab.ParseZMode(s.config.ZMode)
	if err != nil {
		return nil, err
	}
	sampler, err := ab.NewSampler(ab.WithSamples(s.config.NumSamples), ab.WithShards(s.config.Shards))
	if err != nil {
		return nil, fmt.Errorf("configure sampler: %w", err)
	}

	if s.config.OTelEndpoint != "" {
		cleanup, err := s.initTracer(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}
		s.tracerCleanup = cleanup
	}

	s.metrics = observability.NewMetrics()

	if s.store == nil {
		if s.store, err = openStore(ctx, s.config); err != nil {
			s.Close()
			return nil, err
		}
	}

	if s.recorder == nil {
		switch {
		case s.config.Influx.URL != "":
			rec, err := history.NewInfluxRecorder(s.config.Influx)
			if err != nil {
				s.Close()
				return nil, fmt.Errorf("initialize allocation history: %w", err)
			}
			s.recorder = rec
		case s.config.Store == StoreMemory:
			// History lives and dies with the in-memory store.
			s.recorder = history.NewMemoryRecorder(0)
		default:
			s.recorder = history.NopRecorder{}
		}
	}

	deps := &handlers.Deps{
		Store:      s.store,
		Sampler:    sampler,
		Recorder:   s.recorder,
		Metrics:    s.metrics,
		Shards:     s.config.Shards,
		MaxSamples: s.config.MaxSamples,
		Confidence: s.config.Confidence,
		ZMode:      zMode,
	}
	s.initRouter(deps)

	slog.Info("Bandit service initialized",
		"store", s.config.Store,
		"num_samples", s.config.NumSamples,
		"shards", s.config.Shards,
		"z_mode", zMode.String())
	return s, nil
}

// Run implements Service.
func (s *service) Run(ctx context.Context) error {
	defer s.Close()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting bandit server", "port", s.config.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		slog.Info("Shutting down bandit server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// Router implements Service.
func (s *service) Router() *gin.Engine {
	return s.router
}

// Close implements Service.
func (s *service) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if s.recorder != nil {
		s.recorder.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
	return errors.Join(errs...)
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// openStore opens the backend named by cfg.Store.
func openStore(ctx context.Context, cfg Config) (storage.Store, error) {
	switch cfg.Store {
	case StoreBadger:
		bcfg := badgerstore.DefaultConfig(filepath.Join(cfg.DataDir, "badger"))
		bcfg.Logger = slog.Default()
		st, err := badgerstore.Open(bcfg)
		if err != nil {
			return nil, fmt.Errorf("open badger store: %w", err)
		}
		return st, nil
	case StoreMemory:
		return badgerstore.OpenInMemory()
	case StoreSQLite:
		dsn := cfg.DSN
		if dsn == "" {
			dsn = filepath.Join(cfg.DataDir, "bandit.db")
		}
		return sqlstore.Open(ctx, sqlstore.DialectSQLite, dsn)
	case StorePostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres store requires a DSN")
		}
		return sqlstore.Open(ctx, sqlstore.DialectPostgres, cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported store %q (want badger, memory, sqlite or postgres)", cfg.Store)
	}
}

// Tracer setup steps, replaceable in tests.
var (
	dialCollector = func(endpoint string) (*grpc.ClientConn, error) {
		return grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	newTraceExporter = func(ctx context.Context, conn *grpc.ClientConn) (sdktrace.SpanExporter, error) {
		return otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	}
	newTraceResource = func(ctx context.Context) (*resource.Resource, error) {
		return resource.New(ctx, resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	}
)

// initTracer exports spans over OTLP gRPC to the configured collector. The
// connection is closed if any later step fails.
func (s *service) initTracer(ctx context.Context) (_ func(context.Context), err error) {
	conn, err := dialCollector(s.config.OTelEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}
	defer func() {
		if err != nil {
			_ = conn.Close()
		}
	}()

	traceExporter, err := newTraceExporter(ctx, conn)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := newTraceResource(ctx)
	if err != nil {
		_ = traceExporter.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExporter))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := traceProvider.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown tracer provider", "error", err)
		}
		_ = conn.Close()
	}, nil
}

func (s *service) initRouter(deps *handlers.Deps) {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.New()
	s.router.Use(
		gin.Recovery(),
		middleware.RequestID(),
		middleware.AccessLog(slog.Default()),
		otelgin.Middleware(serviceName),
	)

	routes.SetupRoutes(s.router, deps, routes.Limits{
		WriteRPS:   s.config.WriteRPS,
		WriteBurst: s.config.WriteBurst,
	})
}
