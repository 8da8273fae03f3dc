package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/franciscozunigap/sofinance/internal/auth"
	"github.com/franciscozunigap/sofinance/internal/balance"
	"github.com/franciscozunigap/sofinance/internal/cache"
	"github.com/franciscozunigap/sofinance/internal/config"
	"github.com/franciscozunigap/sofinance/internal/events"
	"github.com/franciscozunigap/sofinance/internal/kv"
	"github.com/franciscozunigap/sofinance/internal/log"
	"github.com/franciscozunigap/sofinance/internal/offline"
	"github.com/franciscozunigap/sofinance/internal/store"
)

func main() {
	// Load .env for local development; production sets real env vars.
	_ = godotenv.Load()

	logger := log.New(log.Config{Component: log.ComponentWorker})

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("configuration validation failed", log.FieldError, err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, closeStore, err := newStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize store", log.FieldError, err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	defer closeStore()

	storage, err := newKV(cfg)
	if err != nil {
		logger.Error("failed to initialize local storage", log.FieldError, err)
		os.Exit(1)
	}

	ttls, err := cfg.CacheTTLs()
	if err != nil {
		logger.Error("failed to load cache TTLs", log.FieldError, err)
		os.Exit(1)
	}
	c := cache.New(storage, ttls)

	provider := auth.NewLocal(st, cfg.JWTSecret)
	balanceSvc := balance.NewService(st, c, provider, logger)

	queue := offline.NewQueue(storage)
	processor := offline.NewProcessor(queue, offline.ProcessorConfig{
		PollInterval: cfg.SweepInterval,
		MaxRetries:   cfg.SweepMaxRetries,
		BaseBackoff:  cfg.SweepBaseBackoff,
	}, logger)
	processor.Register(offline.OpRegisterBalance, balance.ReplayHandler(balanceSvc))

	// The queue sweep and cache maintenance run on a schedule instead of a
	// resident loop; the scheduler owns the cadence here.
	scheduler := cron.New()
	sweepSpec := "@every " + cfg.SweepInterval.String()
	if _, err := scheduler.AddFunc(sweepSpec, func() { processor.Sweep(ctx) }); err != nil {
		logger.Error("failed to schedule queue sweep", log.FieldError, err)
		os.Exit(1)
	}
	if _, err := scheduler.AddFunc("@every 10m", func() {
		removed, err := c.ClearExpired(ctx)
		if err != nil {
			logger.Error("cache cleanup failed", log.FieldError, err)
			return
		}
		if removed > 0 {
			logger.Info("cache cleanup done", "removed", removed)
		}
	}); err != nil {
		logger.Error("failed to schedule cache cleanup", log.FieldError, err)
		os.Exit(1)
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Consuming registration events keeps this instance's cache coherent
	// with writes committed elsewhere.
	if cfg.AMQPURL != "" {
		eventsClient, err := events.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Error("failed to initialize AMQP client", log.FieldError, err)
			os.Exit(1)
		}
		defer eventsClient.Close()

		go func() {
			err := eventsClient.ConsumeBalanceRegistered(ctx, func(msg *events.BalanceRegisteredMessage) error {
				if err := c.InvalidateBalance(ctx, msg.UserID); err != nil {
					return err
				}
				logger.Info("cache invalidated for remote registration",
					log.FieldUserID, msg.UserID,
					log.FieldOpID, msg.RegistrationID)
				return nil
			})
			if err != nil && err != context.Canceled {
				logger.Error("event consumption failed", log.FieldError, err)
				cancel()
			}
		}()
	} else {
		logger.Info("AMQP disabled, skipping event consumption")
	}

	logger.Info("sofinance worker started",
		"sweep_interval", cfg.SweepInterval,
		"backend", cfg.DataBackend)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
	}

	cancel()
	// Let an in-flight sweep finish before tearing down.
	time.Sleep(100 * time.Millisecond)
	logger.Info("worker stopped")
}

func newStore(ctx context.Context, cfg *config.Config, logger *log.Logger) (store.Store, func(), error) {
	switch cfg.DataBackend {
	case "sqlite":
		s, err := store.NewSQLiteStore(cfg.SQLiteDBPath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("initialized sqlite backend", "path", cfg.SQLiteDBPath)
		return s, func() { s.Close() }, nil
	case "firestore":
		s, err := store.NewFirestoreStore(ctx, cfg.FirestoreProjectID, cfg.FirestoreCredentials)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("initialized firestore backend", "project", cfg.FirestoreProjectID)
		return s, func() { s.Close() }, nil
	default:
		logger.Info("initialized memory backend")
		return store.NewMemoryStore(), func() {}, nil
	}
}

func newKV(cfg *config.Config) (kv.Storage, error) {
	if cfg.KVDBPath == "" {
		return kv.NewMemory(), nil
	}
	return kv.NewSQLite(cfg.KVDBPath)
}
