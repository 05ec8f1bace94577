package main

import (
	"context"
	"log"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cory-johannsen/islemulti/internal/config"
	"github.com/cory-johannsen/islemulti/internal/frontend/handlers"
	"github.com/cory-johannsen/islemulti/internal/frontend/tcp"
	"github.com/cory-johannsen/islemulti/internal/frontend/ws"
	"github.com/cory-johannsen/islemulti/internal/game/session"
	"github.com/cory-johannsen/islemulti/internal/journal"
	"github.com/cory-johannsen/islemulti/internal/observability"
	"github.com/cory-johannsen/islemulti/internal/server"
	"github.com/cory-johannsen/islemulti/internal/storage/postgres"
)

const healthInterval = 30 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the session server",
		Long: `Bind the TCP listener (default 127.0.0.1:9001) and serve clients until
SIGINT or SIGTERM. A missing configuration file falls back to defaults.

When websocket.enabled is set, the same sessions are also reachable over
WebSocket, with /healthz and /metrics on the gateway port. When
journal.enabled is set, session events are recorded to PostgreSQL.`,
		Args: cobra.NoArgs,
		Run:  runServe,
	}
}

func runServe(_ *cobra.Command, _ []string) {
	start := time.Now()

	cfg, err := config.LoadOrDefault(flagConfig)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting islemulti",
		zap.String("config", flagConfig),
		zap.String("tcp_addr", cfg.Listener.Addr()),
		zap.Bool("websocket", cfg.WebSocket.Enabled),
		zap.Bool("journal", cfg.Journal.Enabled),
	)

	ctx := context.Background()
	metrics := observability.NewMetrics()
	registry := session.NewRegistry()
	broadcaster := session.NewBroadcaster(registry, logger, metrics)
	lifecycle := server.NewLifecycle(logger)

	var recorder *journal.Recorder
	if cfg.Journal.Enabled {
		dbStart := time.Now()
		pool, err := postgres.NewPool(ctx, cfg.Database)
		if err != nil {
			logger.Fatal("connecting to database", zap.Error(err))
		}
		if err := pool.VerifySchema(ctx); err != nil {
			pool.Close()
			logger.Fatal("journal database not ready", zap.Error(err))
		}
		stats := pool.Stats()
		logger.Info("database connected",
			zap.String("host", cfg.Database.Host),
			zap.Int("port", cfg.Database.Port),
			zap.String("database", cfg.Database.Name),
			zap.Int32("conns", stats.Total),
			zap.Int32("idle", stats.Idle),
			zap.Duration("elapsed", time.Since(dbStart)),
		)

		recorder = journal.NewRecorder(pool.Events(), cfg.Journal.BufferSize, logger, metrics)

		lifecycle.Add("postgres", server.NewContextService(func(ctx context.Context) error {
			return pool.Monitor(ctx, healthInterval, logger)
		}))
		lifecycle.Add("journal", server.NewContextService(recorder.Run))
	}

	handler := handlers.NewGameHandler(registry, broadcaster, recorder, cfg.Listener.OutboundQueue, logger, metrics)

	acceptor := tcp.NewAcceptor(cfg.Listener, handler, logger, metrics)
	lifecycle.Add("tcp", &server.FuncService{
		StartFn: acceptor.ListenAndServe,
		StopFn:  acceptor.Stop,
	})

	if cfg.WebSocket.Enabled {
		gateway := ws.NewGateway(cfg.WebSocket, cfg.Listener, handler, logger, metrics)
		lifecycle.Add("websocket", &server.FuncService{
			StartFn: gateway.ListenAndServe,
			StopFn:  gateway.Stop,
		})
	}

	logger.Info("server initialized",
		zap.Duration("startup", time.Since(start)),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}

	logger.Info("final metrics", zap.Any("metrics", metrics.Snapshot()))
}
