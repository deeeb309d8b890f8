package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/joseph-ayodele/audit-reports/internal/app"
	"github.com/joseph-ayodele/audit-reports/internal/async"
	"github.com/joseph-ayodele/audit-reports/internal/common"
	"github.com/joseph-ayodele/audit-reports/internal/server"
)

// staleClassifying is how long an item may sit in classifying before a
// restart archives it.
const staleClassifying = 15 * time.Minute

func main() {
	cfg, err := common.LoadConfig()
	logger := common.NewLogger(common.LogConfig{Level: "info", Format: "json"}, os.Stderr)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(2)
	}
	logger = common.NewLogger(cfg.Log, os.Stderr)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := a.Ping(ctx); err != nil {
		logger.Error("DB health failed", "error", err)
		os.Exit(1)
	}
	if err := a.Migrate(ctx); err != nil {
		logger.Error("schema bootstrap failed", "error", err)
		os.Exit(1)
	}
	if n, err := a.Queue.RecoverStale(ctx, staleClassifying); err != nil {
		logger.Warn("stale queue recovery failed", "error", err)
	} else if n > 0 {
		logger.Info("archived stale classifying items", "count", n)
	}

	workers := async.NewClassifyQueue(a.Queue, logger,
		async.WithWorkers(cfg.Queue.Workers),
		async.WithQueueSize(cfg.Queue.Size),
		async.WithProcessTimeout(cfg.Queue.ClassifyTimeout),
	)

	api := server.New(server.Deps{
		Pipeline: a.Pipeline,
		Queue:    a.Queue,
		Keywords: a.Keywords,
		Export:   a.Export,
		Enqueuer: workers,
		Ping:     a.Ping,
	}, server.Config{
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, logger)

	httpSrv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcServer := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	reflection.Register(grpcServer)

	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		logger.Error("grpc listen failed", "addr", cfg.Server.GRPCAddr, "error", err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP serving", "addr", cfg.Server.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		logger.Info("gRPC health serving", "addr", cfg.Server.GRPCAddr)
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")
		hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
		workers.Shutdown(shutdownCtx)
		grpcServer.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
	logger.Info("stopped.")
}
