package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"verification_backend/internal/adapters"
	"verification_backend/internal/adapters/linktoken"
	"verification_backend/internal/adapters/storage"
	"verification_backend/internal/audit"
	"verification_backend/internal/email"
	"verification_backend/internal/events"
	apphttp "verification_backend/internal/http"
	"verification_backend/internal/http/router"
	"verification_backend/internal/notification"
	"verification_backend/internal/scheduler"
	"verification_backend/internal/templates"
	"verification_backend/internal/templates/seeds"
	"verification_backend/internal/verification"
	verificationrepo "verification_backend/internal/verification/repository"
	verificationsvc "verification_backend/internal/verification/service"
	"verification_backend/migrations"
	"verification_backend/platform/config"
	"verification_backend/platform/db"
	"verification_backend/platform/logger"
	"verification_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		applied, err := db.RunMigrations(ctx, cfg, migrations.FS)
		if err == nil && len(applied) > 0 {
			log.Info("database migrations applied", "versions", applied)
		}
		return err
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()
	log.Info("database connection established")

	// Event bus for decoupled communication between modules
	eventBus := events.NewInMemoryBus(log)

	expiryScheduler, closeScheduler := initExpiryScheduler(cfg, log)
	if closeScheduler != nil {
		defer closeScheduler()
	}

	sender, err := email.NewSender(cfg)
	if err != nil {
		log.Error("failed to initialize email sender", "error", err)
		panic("failed to initialize email sender: " + err.Error())
	}

	storageSvc := initStorage(ctx, cfg, log)

	// Shared validator instance for dependency injection
	val := validator.New()

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	// Event-only modules: customer email and the audit trail
	notificationModule := notification.New(sender, cfg, log)
	notificationModule.RegisterHandlers(eventBus)
	auditModule := audit.New(audit.NewPgStore(pool), log)
	auditModule.RegisterHandlers(eventBus)

	templatesModule := templates.NewModule(pool, log)
	seeded, err := templatesModule.Service().SeedDefaults(ctx, seeds.FS)
	if err != nil {
		log.Error("failed to seed verification templates", "error", err)
		panic("failed to seed verification templates: " + err.Error())
	}
	log.Info("verification templates ready", "seeded", seeded)

	deps := verificationsvc.Deps{
		Store:    verificationrepo.New(pool),
		Policies: adapters.NewPolicyResolver(templatesModule.Service()),
		Tokens:   linktoken.NewIssuer(linktoken.DefaultSize),
		EventBus: eventBus,
		Config:   cfg,
		Logger:   log,
	}
	// Leave the interfaces nil rather than holding typed nil pointers.
	if storageSvc != nil {
		deps.Storage = storageSvc
	}
	if expiryScheduler != nil {
		deps.Expiry = expiryScheduler
	}
	verificationModule, err := verification.NewModule(deps, val)
	if err != nil {
		log.Error("failed to initialize verification module", "error", err)
		panic("failed to initialize verification module: " + err.Error())
	}

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:   cfg,
		Logger:   log,
		Health:   db.NewPoolAdapter(pool),
		EventBus: eventBus,
		Modules: []apphttp.Module{
			verificationModule,
			templatesModule,
			auditModule,
		},
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router.New(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		eventBus.Wait()
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

// initStorage connects to MinIO and makes sure the evidence bucket exists.
// Without MinIO the customer flow still works but photo uploads are refused.
func initStorage(ctx context.Context, cfg *config.Config, log *logger.Logger) *storage.MinIOService {
	if !cfg.IsMinIOEnabled() {
		log.Warn("MINIO_ENDPOINT not configured; evidence uploads disabled")
		return nil
	}

	storageSvc, err := storage.NewMinIOService(cfg)
	if err != nil {
		log.Error("failed to initialize storage service", "error", err)
		panic("failed to initialize storage service: " + err.Error())
	}

	bucket := cfg.GetMinioBucketEvidence()
	if err := withRetry(ctx, log, "ensure evidence bucket", 5, 2*time.Second, func() error {
		return storageSvc.EnsureBucketExists(ctx, bucket)
	}); err != nil {
		log.Error("failed to ensure storage bucket exists", "error", err, "bucket", bucket)
		panic("failed to ensure storage bucket exists: " + err.Error())
	}
	log.Info("storage service initialized", "evidenceBucket", bucket)
	return storageSvc
}

func initExpiryScheduler(cfg config.SchedulerConfig, log *logger.Logger) (*scheduler.Client, func()) {
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; link expiry relies on the scheduler sweep")
		return nil, nil
	}

	client, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize expiry scheduler client", "error", err)
		return nil, nil
	}

	return client, func() {
		_ = client.Close()
	}
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
