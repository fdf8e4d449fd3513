package scheduler

import (
	"context"
	"time"

	"verification_backend/platform/logger"
)

const defaultLinkExpirySweepInterval = 15 * time.Minute

// StaleLinkSweeper expires every case whose link lapsed before now.
type StaleLinkSweeper interface {
	ExpireStaleLinks(ctx context.Context, now time.Time) (int, error)
}

// LinkExpirySweep periodically catches links whose expiry task was lost.
type LinkExpirySweep struct {
	sweeper  StaleLinkSweeper
	log      *logger.Logger
	interval time.Duration
	now      func() time.Time
}

func NewLinkExpirySweep(sweeper StaleLinkSweeper, log *logger.Logger, interval time.Duration) *LinkExpirySweep {
	if interval <= 0 {
		interval = defaultLinkExpirySweepInterval
	}

	return &LinkExpirySweep{
		sweeper:  sweeper,
		log:      log,
		interval: interval,
		now:      time.Now,
	}
}

func (s *LinkExpirySweep) Run(ctx context.Context) {
	if s == nil || s.sweeper == nil {
		return
	}

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *LinkExpirySweep) sweep(ctx context.Context) {
	expired, err := s.sweeper.ExpireStaleLinks(ctx, s.now())
	if err != nil {
		s.log.Warn("link expiry sweep failed", "error", err)
		return
	}

	if expired > 0 {
		s.log.Info("link expiry sweep expired verifications", "expired", expired)
	}
}
