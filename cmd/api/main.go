package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/chama-pay/chama_ledger/internal/config"
	"github.com/chama-pay/chama_ledger/internal/infra"
	"github.com/chama-pay/chama_ledger/internal/logging"
	"github.com/chama-pay/chama_ledger/internal/metrics"
	"github.com/chama-pay/chama_ledger/internal/notification"
	"github.com/chama-pay/chama_ledger/internal/server"
	"github.com/chama-pay/chama_ledger/migrations"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	m := metrics.New()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	var db *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		db, err = infra.NewPostgresPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
		if err != nil {
			logger.Error("connect postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		applied, err := infra.Migrate(ctx, db, migrations.Files)
		if err != nil {
			logger.Error("migrate", "error", err)
			os.Exit(1)
		}
		if len(applied) > 0 {
			logger.Info("migrations applied", "files", applied)
		}
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory ledger")
	}

	var cache *redis.Client
	if cfg.RedisURL != "" {
		cache, err = infra.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("connect redis", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}()
	}

	var publisher notification.Publisher
	if cfg.NSQ.NSQDAddress != "" {
		producer, err := infra.NewNSQProducer(cfg.NSQ.NSQDAddress, logger)
		if err != nil {
			logger.Error("connect nsq producer", "error", err)
			os.Exit(1)
		}
		defer producer.Stop()
		publisher = notification.NewNSQPublisher(producer, cfg.NSQ.EventsTopic)
	}

	srv, err := server.New(cfg, server.Options{DB: db, Cache: cache, Metrics: m, Publisher: publisher}, logger)
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}
	services := srv.Services()

	if cfg.NSQ.NSQDAddress != "" {
		consumer, err := infra.NewNSQConsumer(cfg.NSQ.NSQDAddress, cfg.NSQ.SettlementTopic, cfg.NSQ.SettlementChannel,
			services.Settlement.MessageHandler(), logger)
		if err != nil {
			logger.Error("connect nsq consumer", "error", err)
			os.Exit(1)
		}
		defer consumer.Stop()
	}

	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		services.Sweeper.Run(ctx)
	}()

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		stop()
		<-sweepDone
		if err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
		return
	}

	stop()
	<-sweepDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server exited cleanly")
}
