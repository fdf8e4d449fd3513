package scheduler

import (
	"context"
	"fmt"

	"verification_backend/platform/config"
	"verification_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// LinkExpirer marks a case expired when its link lapsed without a submission.
type LinkExpirer interface {
	ExpireIfStale(ctx context.Context, caseID uuid.UUID, rejectionCount int) (bool, error)
}

type Worker struct {
	server  *asynq.Server
	mux     *asynq.ServeMux
	expirer LinkExpirer
	log     *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, expirer LinkExpirer, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queueName(cfg): 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server:  server,
		mux:     mux,
		expirer: expirer,
		log:     log,
	}

	mux.HandleFunc(TaskVerificationLinkExpiry, w.handleLinkExpiry)

	return w, nil
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

func (w *Worker) handleLinkExpiry(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseLinkExpiryPayload(task)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	caseID, err := uuid.Parse(payload.CaseID)
	if err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	expired, err := w.expirer.ExpireIfStale(ctx, caseID, payload.RejectionCount)
	if err != nil {
		return err
	}
	if expired {
		w.log.Info("verification link expired", "caseId", caseID, "rejectionCount", payload.RejectionCount)
	}
	return nil
}
