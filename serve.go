package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/example/brewguard/internal/config"
	"github.com/example/brewguard/internal/gateway"
	"github.com/example/brewguard/internal/handlers"
	"github.com/example/brewguard/internal/healthcheck"
	"github.com/example/brewguard/internal/logging"
	"github.com/example/brewguard/internal/repository"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the detection proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := ctx.setup()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck
			return runServe(cmd.Context(), cfg, logger)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	emitter, closeEvents, err := initEvents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeEvents()

	deps := handlers.Dependencies{Events: emitter, Logger: logger}
	if cfg.Events.DatabaseDSN != "" {
		db, err := initDatabase(ctx, cfg.Events.DatabaseDSN, logger)
		if err != nil {
			return err
		}
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}
		repo := repository.NewEventRepository(db, logger)
		if err := repo.AutoMigrate(ctx); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		deps.Store = repo
	}

	gw := gateway.New(cfg.Upstream.BaseURL, logger,
		gateway.WithTimeout(cfg.UpstreamTimeout()),
		gateway.WithEvents(emitter))
	deps.Forwarder = gw

	grpcServer, healthServer := healthcheck.NewServer()
	grpcListener, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc %s: %w", cfg.Server.GRPCAddr, err)
	}
	go func() {
		if err := grpcServer.Serve(grpcListener); err != nil {
			logger.Error("grpc health server stopped", zap.Error(err))
		}
	}()
	defer grpcServer.GracefulStop()

	probeCtx, cancelProbe := context.WithCancel(context.Background())
	defer cancelProbe()
	if interval := cfg.ProbeInterval(); interval > 0 {
		monitor := healthcheck.NewMonitor(cfg.Upstream.BaseURL, healthServer, logger, healthcheck.WithEvents(emitter))
		go monitor.Run(probeCtx, interval)
	}

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()
	handlers.RegisterRoutes(r, deps)

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("brewguard proxy listening",
		zap.String("addr", cfg.Server.Addr),
		zap.String("grpc_addr", cfg.Server.GRPCAddr),
		zap.String("upstream", gw.Endpoint()),
		zap.Duration("upstream_timeout", cfg.UpstreamTimeout()))
	emitter.Info("proxy", "proxy started", map[string]any{"addr": cfg.Server.Addr, "upstream": gw.Endpoint()})

	if err := serveHTTPServer(server, cfg.ShutdownTimeout(), logger); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func initDatabase(ctx context.Context, dsn string, zapLogger *zap.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		wrapped := logging.NewOperationError("main.init_database", "", err)
		zapLogger.Error("failed to connect to database", zap.Error(wrapped))
		return nil, wrapped
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("access db handle: %w", err)
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		sqlDB.Close()
		wrapped := logging.NewOperationError("main.ping_database", "", err)
		zapLogger.Error("database ping failed", zap.Error(wrapped))
		return nil, wrapped
	}

	return db, nil
}
