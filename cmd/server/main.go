package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/PortNumber53/show-association/backend/internal/cache"
	"github.com/PortNumber53/show-association/backend/internal/checkout"
	"github.com/PortNumber53/show-association/backend/internal/config"
	"github.com/PortNumber53/show-association/backend/internal/httpserver"
	"github.com/PortNumber53/show-association/backend/internal/migrations"
	"github.com/PortNumber53/show-association/backend/internal/store"
	"github.com/PortNumber53/show-association/backend/internal/stripe"
	"github.com/PortNumber53/show-association/backend/internal/worker"
)

func main() {
	// Best-effort: load environment variables from .env-style files in local
	// development. These calls are safe to ignore in production environments.
	_ = godotenv.Load(
		"../.env",
		".env",
	)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	log.Printf("db(primary): %s", cfg.DatabaseSummary())
	configureDB(db)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("failed to ping database: %v", err)
	}

	if err := runMigrationsWithDirtyFix(db, "primary"); err != nil {
		log.Fatalf("failed to apply database migrations: %v", err)
	}

	members, err := store.New(db)
	if err != nil {
		log.Fatalf("failed to create member store: %v", err)
	}
	catalog, err := store.NewCatalogStore(db)
	if err != nil {
		log.Fatalf("failed to create catalog store: %v", err)
	}
	entries, err := store.NewEntryStore(db)
	if err != nil {
		log.Fatalf("failed to create entry store: %v", err)
	}
	payments, err := store.NewPaymentStore(db)
	if err != nil {
		log.Fatalf("failed to create payment store: %v", err)
	}
	jobs, err := store.NewJobStore(db)
	if err != nil {
		log.Fatalf("failed to create job store: %v", err)
	}

	catalogCache := newCatalogCache(cfg)

	stripeClient := stripe.NewClient(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
	checkoutService := checkout.NewService(checkout.Deps{
		Members:  members,
		Catalog:  catalog,
		Entries:  entries,
		Payments: payments,
		Jobs:     jobs,
		Provider: stripeClient,
		BaseURL:  cfg.AppBaseURL,
		Currency: cfg.Currency,
	})

	workerCfg := worker.DefaultConfig()
	workerCfg.MaxConcurrent = cfg.WorkerConcurrency
	workerCfg.PollInterval = cfg.WorkerPollInterval
	jobWorker := worker.New(workerCfg, jobs)
	worker.RegisterReconciliationJobs(jobWorker, checkoutService, members)

	srv := httpserver.New(cfg, httpserver.Deps{
		DB:       db,
		Members:  members,
		Catalog:  catalog,
		Entries:  entries,
		Payments: payments,
		Jobs:     jobs,
		Checkout: checkoutService,
		Webhooks: stripeClient,
		Cache:    catalogCache,
		Worker:   jobWorker,
	})

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-shutdownCtx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("graceful shutdown failed: %v", err)
		}
	}()

	log.Printf("backend starting on %s", cfg.ServerAddress)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("server exited with error: %v", err)
		os.Exit(1)
	}
}

func configureDB(db *sql.DB) {
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
}

// newCatalogCache returns the Redis cache when REDIS_URL is set and the no-op
// cache otherwise. An unparseable URL disables caching rather than the API.
func newCatalogCache(cfg config.Config) cache.Cache {
	if cfg.RedisURL == "" {
		log.Printf("[cache] REDIS_URL not set, catalog caching disabled")
		return cache.Noop{}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	c, err := cache.NewRedis(ctx, cfg.RedisURL, cfg.CatalogCacheTTL)
	if err != nil {
		log.Printf("[cache] %v; catalog caching disabled", err)
		return cache.Noop{}
	}
	return c
}

func runMigrationsWithDirtyFix(db *sql.DB, name string) error {
	if err := migrations.Up(db); err != nil {
		log.Printf("migrations(%s): error detected: %v (type: %T)", name, err, err)
		if strings.Contains(err.Error(), "Dirty database version") {
			log.Printf("migrations(%s): dirty database detected, attempting to fix...", name)
			if fixErr := migrations.FixDirtyDatabase(db); fixErr != nil {
				log.Printf("migrations(%s): failed to fix dirty database: %v", name, fixErr)
				return err
			}
			if retryErr := migrations.Up(db); retryErr != nil {
				return retryErr
			}
			return nil
		}
		return err
	}
	return nil
}
