package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/terraskye/esclient"
	"github.com/terraskye/esclient/api"
	"github.com/terraskye/esclient/config"
	"github.com/terraskye/esclient/logging"
	"github.com/terraskye/esclient/order"
	esotel "github.com/terraskye/esclient/otel"
	esprom "github.com/terraskye/esclient/prometheus"
	"github.com/terraskye/esclient/projection"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the order projection",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logrus.NewEntry(logrus.StandardLogger())
	log.Info("Starting server")

	backend, err := openBackend(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open %s backend: %w", cfg.Backend, err)
	}

	reg := prom.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	store := newEventStore(cfg, backend, log, esprom.NewMetrics(reg))
	defer func() {
		if err := store.Close(); err != nil {
			log.WithError(err).Error("Failed to close event store")
		}
	}()
	decorated := logging.WithStoreLogging(log, esotel.WithEventStoreTelemetry(store,
		esotel.WithAttributes(attribute.String("esclient.backend", cfg.Backend)),
	))

	views, closeViews, err := openRepository(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer closeViews()

	svc := order.NewService(decorated, order.WithLogger(log))
	defer svc.Close()
	server := api.NewServer(cfg.HTTP.Address, svc, views,
		api.WithMetricsGatherer(reg),
		api.WithLogger(log),
	)

	subCtx, cancelSub := context.WithCancel(context.Background())
	defer cancelSub()
	subDone := make(chan struct{})
	if cfg.EventStore.AutoSubscribe {
		handler := logging.WithLoggingMiddleware(slog.Default(), projection.NewOrderProjection(views, log))
		go func() {
			defer close(subDone)
			runSubscription(subCtx, decorated, handler, log)
		}()
	} else {
		close(subDone)
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down server...")
	case err = <-serverErr:
		if err != nil {
			log.WithError(err).Error("HTTP server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}

	cancelSub()
	<-subDone

	log.Info("Server exited properly")
	return err
}

// runSubscription keeps the projection subscribed until ctx is done,
// resubscribing with exponential backoff after a failure.
func runSubscription(ctx context.Context, store esclient.Store, handler esclient.EventHandler, log *logrus.Entry) {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0

	err := backoff.RetryNotify(func() error {
		err := store.Subscribe(ctx, handler)
		if errors.Is(err, esclient.ErrNilHandler) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		log.WithError(err).WithField("retry_in", next).Warn("Subscription failed")
	})
	if err != nil && ctx.Err() == nil {
		log.WithError(err).Error("Subscription stopped")
	}
}

func openRepository(ctx context.Context, c config.Database, log *logrus.Entry) (projection.Repository, func(), error) {
	if !c.Enabled {
		log.Info("Order views are kept in memory")
		return projection.NewMemoryRepository(), func() {}, nil
	}

	db, err := gorm.Open(postgres.Open(c.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}

	repo := projection.NewGormRepository(db)
	if err := repo.Migrate(ctx); err != nil {
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}

	closeDB := func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	return repo, closeDB, nil
}
