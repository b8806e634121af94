package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	internalserver "github.com/fundflow/receipts/internal/server"
	"github.com/fundflow/receipts/modules/imports"
	"github.com/fundflow/receipts/pkg/application"
	"github.com/fundflow/receipts/pkg/configuration"
	"github.com/fundflow/receipts/pkg/eventbus"
	"github.com/fundflow/receipts/pkg/logging"
	"github.com/fundflow/receipts/pkg/queue"
)

func main() {
	conf := configuration.Use()
	defer conf.Unload()
	logger := conf.Logger()

	if conf.OpenTelemetry.Enabled {
		shutdown := logging.SetupTracing(context.Background(), conf.OpenTelemetry.ServiceName, conf.OpenTelemetry.TempoURL)
		defer shutdown()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pool, err := pgxpool.New(ctx, conf.Database.Opts)
	if err != nil {
		logger.WithError(err).Fatal("failed to create database pool")
	}
	defer pool.Close()

	app := application.New(&application.ApplicationOptions{
		Pool:     pool,
		EventBus: eventbus.NewEventPublisher(logger),
		Logger:   logger,
	})

	module := imports.NewModule()
	if err := module.Register(app); err != nil {
		logger.WithError(err).Fatal("failed to register imports module")
	}

	if conf.Queue.RelayEnabled {
		relay, err := queue.NewRelay(pool, module.Dispatcher(app), queue.RelayOptions{
			PollInterval:    conf.Queue.RelayPollInterval,
			BatchSize:       conf.Queue.RelayBatchSize,
			LockTTL:         conf.Queue.RelayLockTTL,
			MaxAttempts:     conf.Queue.RelayMaxAttempts,
			SingleActive:    conf.Queue.RelaySingleActive,
			DispatchTimeout: conf.Queue.RelayDispatchTimeout,
			LastErrorMaxLen: conf.Queue.LastErrorMaxBytes,
			Logger:          logrus.NewEntry(logger),
		})
		if err != nil {
			logger.WithError(err).Fatal("failed to build queue relay")
		}
		go func() {
			if err := relay.Run(ctx); err != nil && ctx.Err() == nil {
				logger.WithError(err).Error("queue relay stopped")
			}
		}()
	}

	if conf.Queue.CleanerEnabled {
		cleaner, err := queue.NewCleaner(pool, queue.CleanerOptions{
			Enabled:   true,
			Interval:  conf.Queue.CleanerInterval,
			Retention: conf.Queue.CleanerRetention,
			Logger:    logrus.NewEntry(logger),
		})
		if err != nil {
			logger.WithError(err).Fatal("failed to build queue cleaner")
		}
		go func() {
			if err := cleaner.Run(ctx); err != nil && ctx.Err() == nil {
				logger.WithError(err).Error("queue cleaner stopped")
			}
		}()
	}

	srv, err := internalserver.Default(&internalserver.DefaultOptions{
		Logger:        logger,
		Configuration: conf,
		Application:   app,
		Pool:          pool,
	})
	if err != nil {
		logger.WithError(err).Fatal("failed to build server")
	}

	logger.WithField("address", conf.SocketAddress).Info("listening")
	if err := srv.Start(conf.SocketAddress); err != nil {
		logger.WithError(err).Fatal("server stopped")
	}
}
