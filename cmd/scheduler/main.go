package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"verification_backend/internal/adapters"
	"verification_backend/internal/adapters/linktoken"
	"verification_backend/internal/audit"
	"verification_backend/internal/email"
	"verification_backend/internal/events"
	"verification_backend/internal/notification"
	"verification_backend/internal/scheduler"
	templatesrepo "verification_backend/internal/templates/repository"
	templatesvc "verification_backend/internal/templates/service"
	verificationrepo "verification_backend/internal/verification/repository"
	verificationsvc "verification_backend/internal/verification/service"
	"verification_backend/platform/config"
	"verification_backend/platform/db"
	"verification_backend/platform/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

// The scheduler process runs the link expiry worker and the backup sweep.
// Expiring a case publishes a status change, so the audit trail is wired
// here as well.
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	eventBus := events.NewInMemoryBus(log)
	defer eventBus.Wait()

	sender, err := email.NewSender(cfg)
	if err != nil {
		log.Error("failed to initialize email sender", "error", err)
		panic("failed to initialize email sender: " + err.Error())
	}
	notification.New(sender, cfg, log).RegisterHandlers(eventBus)
	audit.New(audit.NewPgStore(pool), log).RegisterHandlers(eventBus)

	templates := templatesvc.New(templatesrepo.New(pool), log)
	svc := verificationsvc.New(verificationsvc.Deps{
		Store:    verificationrepo.New(pool),
		Policies: adapters.NewPolicyResolver(templates),
		Tokens:   linktoken.NewIssuer(linktoken.DefaultSize),
		EventBus: eventBus,
		Config:   cfg,
		Logger:   log,
	})

	sweep := scheduler.NewLinkExpirySweep(svc, log, cfg.GetLinkExpirySweepInterval())
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; running the expiry sweep only")
		sweep.Run(ctx)
		return
	}
	go sweep.Run(ctx)

	worker, err := scheduler.NewWorker(cfg, svc, log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}
	worker.Run(ctx)
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return errors.New(name + ": invalid retry attempts")
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
