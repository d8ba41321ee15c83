// Package main wires together the grant discovery and alerting service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/adc-ops/grantwatch/internal/alert"
	"github.com/adc-ops/grantwatch/internal/alert/sinks"
	"github.com/adc-ops/grantwatch/internal/api"
	"github.com/adc-ops/grantwatch/internal/clock/system"
	"github.com/adc-ops/grantwatch/internal/config"
	"github.com/adc-ops/grantwatch/internal/grant"
	"github.com/adc-ops/grantwatch/internal/id/uuid"
	"github.com/adc-ops/grantwatch/internal/ingest"
	"github.com/adc-ops/grantwatch/internal/logging"
	"github.com/adc-ops/grantwatch/internal/metrics"
	"github.com/adc-ops/grantwatch/internal/monitor"
	"github.com/adc-ops/grantwatch/internal/scheduler"
	"github.com/adc-ops/grantwatch/internal/scoring"
	"github.com/adc-ops/grantwatch/internal/source"
	memorystorage "github.com/adc-ops/grantwatch/internal/storage/memory"
	"github.com/adc-ops/grantwatch/internal/storage/postgres"
	"github.com/adc-ops/grantwatch/internal/storage/sqlite"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	idGen := uuid.NewUUIDGenerator()

	store, err := buildStore(ctx, cfg, idGen, clock)
	if err != nil {
		logger.Fatal("store init failed", zap.Error(err))
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Error("store close failed", zap.Error(closeErr))
		}
	}()

	hub, err := buildHub(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("alert hub init failed", zap.Error(err))
	}

	adapters, err := source.BuildAll(cfg.Sources, source.Options{
		UserAgent:             cfg.Ingest.UserAgent,
		Timeout:               cfg.FetchTimeout(),
		Clock:                 clock,
		Logger:                logger.Named("source"),
		InternationalKeywords: cfg.Keywords.International,
	})
	if err != nil {
		logger.Fatal("source init failed", zap.Error(err))
	}

	scorer := scoring.New(cfg.Keywords.Domain, cfg.Keywords.Secondary)
	pipeline := ingest.New(
		adapters,
		scorer,
		store,
		hub,
		clock,
		logger.Named("ingest"),
		cfg.Ingest.AlertThreshold,
	)
	deadlineMonitor := monitor.New(store, hub, clock, logger.Named("monitor"), cfg.UrgencyWindow())

	sched, err := scheduler.New(pipeline, deadlineMonitor, cfg.Schedule.Groups, cfg.Schedule.Sweep, logger.Named("scheduler"))
	if err != nil {
		logger.Fatal("scheduler init failed", zap.Error(err))
	}
	sched.Start()

	apiServer := api.NewServer(store, sched, hub, logger.Named("api"), cfg)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		logger.Error("scheduler stop error", zap.Error(err))
	}
	if err := hub.Close(shutdownCtx); err != nil {
		logger.Error("alert hub close error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func buildStore(ctx context.Context, cfg config.Config, idGen grant.IDGenerator, clock grant.Clock) (grant.Store, error) {
	switch cfg.Storage.Provider {
	case "postgres":
		store, err := postgres.New(ctx, postgres.Config{
			DSN:      cfg.Storage.DSN,
			MaxConns: int32(cfg.Storage.MaxOpenConns),
		}, idGen, clock)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		return store, nil
	case "sqlite":
		return sqlite.New(cfg.Storage.SQLitePath, idGen, clock)
	default:
		return memorystorage.New(idGen, clock), nil
	}
}

func buildHub(ctx context.Context, cfg config.Config, logger *zap.Logger) (*alert.Hub, error) {
	hubSinks := []alert.Sink{sinks.NewLogSink(logger.Named("alerts"))}

	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, fmt.Errorf("prometheus sink: %w", err)
	}
	hubSinks = append(hubSinks, promSink)

	if cfg.PubSub.Enabled {
		pubsubSink, err := sinks.NewPubSubSink(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
		if err != nil {
			return nil, fmt.Errorf("pubsub sink: %w", err)
		}
		hubSinks = append(hubSinks, pubsubSink)
	}

	return alert.NewHub(alert.Config{
		BaseContext: ctx,
		Logger:      logger.Named("alerthub"),
	}, hubSinks...), nil
}
