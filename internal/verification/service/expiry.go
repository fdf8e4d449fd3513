package service

import (
	"context"
	"errors"
	"time"

	"verification_backend/internal/verification/domain"
	"verification_backend/platform/apperr"

	"github.com/google/uuid"
)

const sweepBatchSize = 100

// ExpireIfStale closes a case whose link lapsed without a submission. The
// check is skipped when a rejection rotated the link after the task was
// scheduled, or when the customer already handed in.
func (s *Service) ExpireIfStale(ctx context.Context, caseID uuid.UUID, rejectionCount int) (bool, error) {
	now := s.now()
	before, after, err := s.transition(ctx, s.byID(caseID), func(c domain.Case) (domain.Case, error) {
		if c.RejectionCount != rejectionCount || !c.Status.AwaitsCustomer() || !c.LinkExpired(now) {
			return c, nil
		}
		return domain.Expire(c, now)
	})
	if apperr.Is(err, apperr.KindNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if before.Status == after.Status {
		return false, nil
	}
	s.publishStatusChanged(ctx, before, after, nil)
	return true, nil
}

// ExpireStaleLinks expires every case whose link lapsed before now. It backs
// up the per-link tasks when one was lost.
func (s *Service) ExpireStaleLinks(ctx context.Context, now time.Time) (int, error) {
	expired := 0
	for {
		cases, err := s.store.ListLinkExpired(ctx, now, sweepBatchSize)
		if err != nil {
			return expired, err
		}
		progressed := false
		for _, c := range cases {
			ok, err := s.ExpireIfStale(ctx, c.ID, c.RejectionCount)
			if err != nil && !errors.Is(err, context.Canceled) {
				s.log.WithContext(ctx).Warn("failed to expire stale link", "caseId", c.ID, "error", err)
				continue
			}
			if err != nil {
				return expired, err
			}
			if ok {
				expired++
				progressed = true
			}
		}
		if len(cases) < sweepBatchSize || !progressed {
			return expired, nil
		}
	}
}
