package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/franciscozunigap/sofinance/internal/auth"
	"github.com/franciscozunigap/sofinance/internal/balance"
	"github.com/franciscozunigap/sofinance/internal/cache"
	"github.com/franciscozunigap/sofinance/internal/config"
	"github.com/franciscozunigap/sofinance/internal/events"
	"github.com/franciscozunigap/sofinance/internal/httpapi"
	"github.com/franciscozunigap/sofinance/internal/kv"
	"github.com/franciscozunigap/sofinance/internal/log"
	"github.com/franciscozunigap/sofinance/internal/offline"
	"github.com/franciscozunigap/sofinance/internal/store"
	"github.com/franciscozunigap/sofinance/internal/user"
)

func main() {
	// Load .env for local development; production sets real env vars.
	_ = godotenv.Load()

	logger := log.New(log.DefaultConfig())

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
	userSvc := user.NewService(st, c, provider, logger)

	// Event publishing is optional; without AMQP the writer simply skips it.
	if cfg.AMQPURL != "" {
		eventsClient, err := events.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, logger)
		if err != nil {
			logger.Error("failed to initialize AMQP client", log.FieldError, err)
			os.Exit(1)
		}
		defer eventsClient.Close()
		balanceSvc = balanceSvc.WithPublisher(eventsClient)
		logger.Info("AMQP publisher initialized", "exchange", cfg.AMQPExchange)
	}

	queue := offline.NewQueue(storage)
	processor := offline.NewProcessor(queue, offline.ProcessorConfig{
		PollInterval: cfg.SweepInterval,
		MaxRetries:   cfg.SweepMaxRetries,
		BaseBackoff:  cfg.SweepBaseBackoff,
	}, logger)
	processor.Register(offline.OpRegisterBalance, balance.ReplayHandler(balanceSvc))

	srv := httpapi.NewServer(cfg.Port, balanceSvc, userSvc, provider, provider, queue, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := processor.Start(gctx); err != nil {
			return err
		}
		<-gctx.Done()
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		return processor.Stop(stopCtx)
	})

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-sigChan:
			logger.Info("shutdown signal received", "signal", sig.String())
		case <-gctx.Done():
			return gctx.Err()
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", log.FieldError, err)
		}
		cancel()
		return nil
	})

	logger.Info("sofinance server starting", "port", cfg.Port, "backend", cfg.DataBackend)
	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("server error", log.FieldError, err)
		os.Exit(1)
	}
	logger.Info("server stopped gracefully")
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
