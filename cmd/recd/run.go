package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recd/internal/batch"
	"github.com/fyrsmithlabs/recd/internal/catalog"
	"github.com/fyrsmithlabs/recd/internal/config"
	httpserver "github.com/fyrsmithlabs/recd/internal/http"
	"github.com/fyrsmithlabs/recd/internal/logging"
	"github.com/fyrsmithlabs/recd/internal/progress"
	"github.com/fyrsmithlabs/recd/internal/provider"
	"github.com/fyrsmithlabs/recd/internal/telemetry"
)

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// run starts recd and blocks until ctx is cancelled.
//
// Startup order:
//  1. Telemetry (Prometheus registry, optional OTLP export)
//  2. Logger, bridged to the OTLP log exporter when telemetry is enabled
//  3. NATS (embedded unless progress.nats_url is set) and the publisher
//  4. Provider adapter, orchestrator and artifact store
//  5. HTTP server
//
// Shutdown runs in reverse within server.shutdown_timeout.
func run(ctx context.Context, cfg *config.Config) error {
	tel, err := telemetry.New(ctx, telemetry.FromConfig(cfg.Telemetry, version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	logger, err := initLogger(cfg, tel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info(ctx, "starting recd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Bool("telemetry", tel.IsEnabled()),
	)

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	adapter, err := provider.New(provider.ConfigFrom(cfg), catalog.Default(), provider.WithLogger(logger.Underlying()))
	if err != nil {
		return fmt.Errorf("failed to create provider adapter: %w", err)
	}
	for _, p := range catalog.Providers {
		logger.Info(ctx, "provider configured",
			zap.String("provider", string(p)),
			zap.String("mode", string(adapter.Mode(p))),
		)
	}

	orch, err := batch.New(adapter, adapter.Catalog(), deps.publisher,
		batch.WithLogger(logger),
		batch.WithMaxIterations(cfg.Batch.MaxIterations),
	)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}

	store, err := httpserver.NewArtifactStore(cfg.Artifacts.MaxEntries, cfg.Artifacts.TTL.Duration())
	if err != nil {
		return fmt.Errorf("failed to create artifact store: %w", err)
	}

	srv, err := httpserver.NewServer(httpserver.Deps{
		Runner:    orch,
		Models:    adapter,
		Publisher: deps.publisher,
		NATS:      deps.natsConn,
		Artifacts: store,
		Metrics:   tel.MetricsHandler(),
		Health:    tel,
	}, logger.Underlying(), &httpserver.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		BodyLimit:      cfg.Server.BodyLimit,
		ProgressPrefix: cfg.Progress.SubjectPrefix,
		Heartbeat:      cfg.Progress.Heartbeat.Duration(),
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info(context.Background(), "shutting down", zap.Duration("timeout", cfg.Server.ShutdownTimeout.Duration()))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func initLogger(cfg *config.Config, tel *telemetry.Telemetry) (*logging.Logger, error) {
	lc, err := logging.NewConfig(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}
	lc.Output.OTEL = tel.LoggerProvider() != nil
	return logging.NewLogger(lc, tel.LoggerProvider())
}

// dependencies holds the messaging infrastructure.
type dependencies struct {
	natsServer *natsserver.Server
	natsConn   *nats.Conn
	publisher  *progress.Publisher
}

// Close releases all infrastructure resources.
func (d *dependencies) Close() {
	if d.natsConn != nil {
		d.natsConn.Close()
	}
	if d.natsServer != nil {
		d.natsServer.Shutdown()
		d.natsServer.WaitForShutdown()
	}
}

func initDependencies(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*dependencies, error) {
	deps := &dependencies{}

	url := cfg.Progress.NATSURL
	if url == "" {
		ns, err := progress.StartEmbedded()
		if err != nil {
			return nil, fmt.Errorf("failed to start embedded NATS: %w", err)
		}
		deps.natsServer = ns
		url = ns.ClientURL()
		logger.Info(ctx, "started embedded NATS", zap.String("url", url))
	}

	nc, err := progress.Connect(url, logger.Underlying())
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.natsConn = nc
	logger.Info(ctx, "connected to NATS", zap.String("url", url))

	deps.publisher, err = progress.NewPublisher(nc, cfg.Progress.SubjectPrefix, logger.Underlying())
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to create progress publisher: %w", err)
	}
	return deps, nil
}
