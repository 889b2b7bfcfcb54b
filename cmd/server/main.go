package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/thenasky/mail-delivery/internal/config"
	"github.com/thenasky/mail-delivery/internal/core"
	"github.com/thenasky/mail-delivery/internal/database"
	"github.com/thenasky/mail-delivery/internal/logger"
	"github.com/thenasky/mail-delivery/modules/email"
	"github.com/thenasky/mail-delivery/modules/email/delivery"
	"github.com/thenasky/mail-delivery/modules/email/queue"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using default settings")
	}

	cfg, err := config.NewConfig(slog.Default())
	if err != nil {
		slog.Error("invalid configuration", logger.Err(err))
		os.Exit(1)
	}

	log := logger.New(logger.Options{
		Level:      logger.ParseLevel(cfg.Log.Level),
		Format:     cfg.Log.Format,
		DateFormat: logger.ParseDateFormat(cfg.Log.DateFormat),
	})
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server exited with error", logger.Err(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	q := queue.New(store, log)
	manager, err := delivery.NewManager(q, delivery.Config{
		SkipWaitThreshold: cfg.Delivery.SkipWaitThreshold,
		CleanupSchedule:   cfg.Delivery.CleanupSchedule,
		CleanupAfter:      cfg.Delivery.CleanupAfter,
	}, log)
	if err != nil {
		return err
	}

	providerConfigs := cfg.ProviderConfigs()
	if len(providerConfigs) == 0 {
		log.Warn("no email providers configured, every send will fail with provider \"none\"")
	}
	for _, pc := range providerConfigs {
		if err := manager.RegisterProviderConfig(pc); err != nil {
			return fmt.Errorf("provider %s: %w", pc.ID, err)
		}
	}

	manager.Start(ctx)
	defer manager.Stop()

	handler := core.NewRouter(core.RouterOptions{
		Logger: log,
		RequestLog: logger.RequestLogOptions{
			Route:    cfg.Log.Route,
			Queries:  cfg.Log.Queries,
			Headers:  cfg.Log.Headers,
			Body:     cfg.Log.Body,
			Response: cfg.Log.Response,
		},
		Modules: []core.ModuleRegistrar{
			email.NewModule(email.NewEmailService(manager, log)),
		},
	})

	server := &http.Server{
		Addr:         "0.0.0.0:" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info(fmt.Sprintf("Server running on port %s...", cfg.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("could not start server: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", logger.Err(err))
	}

	log.Info("Server exited")
	return nil
}

// openStore connects the configured persistence backend for scheduled emails
func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (queue.Store, func(), error) {
	noop := func() {}

	switch cfg.Store.Driver {
	case config.DriverMongo:
		client, db, err := database.ConnectMongoDB(ctx, cfg.Store.MongoURI, cfg.Store.MongoDatabase, log)
		if err != nil {
			return nil, noop, err
		}
		store, err := queue.NewMongoStore(ctx, db, cfg.Store.MongoCollection)
		if err != nil {
			database.DisconnectMongoDB(client, log)
			return nil, noop, err
		}
		return store, func() { database.DisconnectMongoDB(client, log) }, nil

	case config.DriverPostgres, config.DriverSQLite:
		driver, dsn := "postgres", cfg.Store.PostgresDSN
		if cfg.Store.Driver == config.DriverSQLite {
			driver, dsn = "sqlite3", cfg.Store.SQLitePath
		}
		db, err := database.OpenSQL(ctx, driver, dsn, log)
		if err != nil {
			return nil, noop, err
		}
		store := queue.NewSQLStore(db)
		if err := store.Migrate(ctx); err != nil {
			db.Close()
			return nil, noop, err
		}
		return store, func() { db.Close() }, nil

	case config.DriverRedis:
		client, err := database.ConnectRedis(ctx, cfg.Store.RedisURL, log)
		if err != nil {
			return nil, noop, err
		}
		return queue.NewRedisStore(client, cfg.Store.RedisNamespace), func() { client.Close() }, nil

	default:
		log.Warn("scheduled emails are kept in memory and will not survive a restart")
		return queue.NewMemoryStore(), noop, nil
	}
}
