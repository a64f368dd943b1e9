// Package main runs the sampling service with its HTTP and gRPC APIs
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"qbenchsim/services/api"
	"qbenchsim/services/arrowpipeline"
	"qbenchsim/services/clickhouse"
	"qbenchsim/services/config"
	"qbenchsim/services/dataset"
	"qbenchsim/services/engine"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting sampling service",
		zap.String("environment", cfg.Environment),
		zap.String("datasets_path", cfg.Engine.DatasetsPath),
		zap.String("dataset", cfg.Engine.Dataset),
	)

	opts := []engine.Option{engine.WithLogger(logger)}

	var ledger *clickhouse.Ledger
	if cfg.ClickHouse.Enabled() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ClickHouse.Timeout)
		ledger, err = clickhouse.NewLedger(ctx, clickhouse.Config{
			Addr:      cfg.ClickHouse.Addr,
			Database:  cfg.ClickHouse.Database,
			User:      cfg.ClickHouse.User,
			Password:  cfg.ClickHouse.Password,
			Table:     cfg.ClickHouse.Table,
			BatchSize: cfg.ClickHouse.BatchSize,
			Timeout:   cfg.ClickHouse.Timeout,
		}, logger)
		cancel()
		if err != nil {
			logger.Fatal("Failed to create ClickHouse ledger", zap.Error(err))
		}
		opts = append(opts, engine.WithLedger(ledger))
		logger.Info("Sampling ledger enabled", zap.String("addr", cfg.ClickHouse.Addr), zap.String("table", cfg.ClickHouse.Table))
	}

	eng := engine.New(cfg.EngineConfig(), opts...)
	catalog := dataset.NewCatalog(cfg.Engine.DatasetsPath,
		dataset.NewIndexCache(cfg.Dataset.IndexCapacity, cfg.Dataset.IndexTTL), logger)

	pipeline, err := arrowpipeline.NewPipeline(&arrowpipeline.Config{Compression: "zstd"}, logger)
	if err != nil {
		logger.Fatal("Failed to create Arrow pipeline", zap.Error(err))
	}
	defer pipeline.Close()

	service := api.NewService(eng, catalog, pipeline, logger)

	// Setup gRPC server
	grpcServer, healthServer := api.NewGRPCServer(service)

	// Setup HTTP server
	gin.SetMode(gin.ReleaseMode)
	httpRouter := gin.New()
	httpRouter.Use(gin.Recovery())
	service.Routes(httpRouter)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           httpRouter,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
		if err != nil {
			logger.Fatal("Failed to listen on gRPC port", zap.Error(err))
		}

		logger.Info("Starting gRPC server", zap.Int("port", cfg.Server.GRPCPort))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Fatal("Failed to serve gRPC", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("Starting HTTP server", zap.Int("port", cfg.Server.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to serve HTTP", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down servers...")
	healthServer.Shutdown()
	grpcServer.GracefulStop()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	if ledger != nil {
		if err := ledger.Close(); err != nil {
			logger.Warn("Failed to flush sampling ledger", zap.Error(err))
		}
	}
	logger.Info("Servers stopped")
}
