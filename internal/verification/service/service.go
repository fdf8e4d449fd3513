// Package service orchestrates the verification lifecycle: it loads cases,
// applies the domain rules and persists each result with one conditional
// write, then schedules link expiry and publishes events.
package service

import (
	"context"
	"errors"
	"time"

	"verification_backend/internal/adapters/storage"
	"verification_backend/internal/events"
	"verification_backend/internal/scheduler"
	"verification_backend/internal/verification/domain"
	"verification_backend/internal/verification/repository"
	"verification_backend/platform/apperr"
	"verification_backend/platform/config"
	"verification_backend/platform/logger"

	"github.com/google/uuid"
)

// maxWriteAttempts bounds the re-read loop after a lost conditional write.
const maxWriteAttempts = 3

const (
	msgCannotActNow       = "cannot perform this action now"
	msgLinkExpired        = "verification link has expired"
	msgLinkNotFound       = "verification link not found"
	msgCategoryNotFound   = "category not found"
	msgDraftConflict      = "draft was changed elsewhere, reload and try again"
	msgCaseBusy           = "verification was changed concurrently, try again"
	msgStorageUnavailable = "evidence storage is not configured"
)

// ResolvedPolicy is the template a new case snapshots.
type ResolvedPolicy struct {
	TemplateID uuid.UUID
	Name       string
	Policy     domain.PolicySnapshot
}

// PolicyResolver picks the template for a new case: the requested one, or the
// default for the policy type.
type PolicyResolver interface {
	ResolvePolicy(ctx context.Context, templateID *uuid.UUID, policyType domain.PolicyType) (ResolvedPolicy, error)
}

// Config is the configuration the service reads.
type Config interface {
	config.VerificationConfig
	config.NotificationConfig
	GetMinioBucketEvidence() string
	GetMinIOMaxFileSize() int64
}

// Deps are the collaborators of the service. Storage and Expiry may be nil
// when MinIO or Redis are not configured.
type Deps struct {
	Store    repository.Store
	Policies PolicyResolver
	Tokens   domain.TokenIssuer
	Storage  storage.StorageService
	Expiry   scheduler.ExpiryScheduler
	EventBus events.Bus
	Config   Config
	Logger   *logger.Logger
}

// Service provides business logic for verification cases.
type Service struct {
	store       repository.Store
	policies    PolicyResolver
	tokens      domain.TokenIssuer
	storage     storage.StorageService
	expiry      scheduler.ExpiryScheduler
	eventBus    events.Bus
	rejection   domain.RejectionPolicy
	teamRouting bool
	publicBase  string
	bucket      string
	maxFileSize int64
	log         *logger.Logger
	now         func() time.Time
}

// New creates a verification service.
func New(deps Deps) *Service {
	return &Service{
		store:    deps.Store,
		policies: deps.Policies,
		tokens:   deps.Tokens,
		storage:  deps.Storage,
		expiry:   deps.Expiry,
		eventBus: deps.EventBus,
		rejection: domain.RejectionPolicy{
			MaxAttempts: deps.Config.GetVerificationMaxRejections(),
			LinkTTL:     deps.Config.GetVerificationLinkTTL(),
		},
		teamRouting: deps.Config.GetVerificationTeamRouting(),
		publicBase:  deps.Config.GetPublicLinkBaseURL(),
		bucket:      deps.Config.GetMinioBucketEvidence(),
		maxFileSize: deps.Config.GetMinIOMaxFileSize(),
		log:         deps.Logger,
		now:         time.Now,
	}
}

// SetClock replaces the time source. Tests only.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) maxAttempts() int {
	if s.rejection.MaxAttempts < 1 {
		return domain.DefaultMaxAttempts
	}
	return s.rejection.MaxAttempts
}

func (s *Service) linkTTL() time.Duration {
	if s.rejection.LinkTTL <= 0 {
		return domain.DefaultLinkTTL
	}
	return s.rejection.LinkTTL
}

// translate maps domain failures to typed application errors.
// Anything else passes through unchanged.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if v, ok := domain.AsValidation(err); ok {
		if len(v.Missing) == 0 {
			return apperr.Validation(v.Message)
		}
		return apperr.Wrap(apperr.KindValidation, v.Message, err).WithDetails(v.Details())
	}
	switch {
	case errors.Is(err, domain.ErrLinkExpired):
		return apperr.Wrap(apperr.KindGone, msgLinkExpired, err).WithCode("LINK_EXPIRED")
	case errors.Is(err, domain.ErrAlreadySubmitted):
		return apperr.Wrap(apperr.KindConflict, msgCannotActNow, err).WithCode("ALREADY_SUBMITTED")
	case errors.Is(err, domain.ErrAlreadyTerminal):
		return apperr.Wrap(apperr.KindConflict, msgCannotActNow, err).WithCode("ALREADY_TERMINAL")
	case errors.Is(err, domain.ErrInvalidTransition):
		return apperr.Wrap(apperr.KindConflict, msgCannotActNow, err).WithCode("INVALID_TRANSITION")
	case errors.Is(err, domain.ErrFieldLocked):
		return apperr.Wrap(apperr.KindConflict, domain.ErrFieldLocked.Error(), err).WithCode("FIELD_LOCKED")
	case errors.Is(err, domain.ErrNoEligibleReviewer):
		return apperr.Wrap(apperr.KindConflict, "no eligible reviewer available", err).WithCode("NO_ELIGIBLE_REVIEWER")
	}
	return err
}

// transition applies fn to the current case and writes the result only if
// nobody changed the case in between. A lost race re-reads and re-applies fn,
// so fn sees the newer state and may refuse it.
func (s *Service) transition(ctx context.Context, load func(ctx context.Context) (domain.Case, error), fn func(c domain.Case) (domain.Case, error)) (domain.Case, domain.Case, error) {
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		current, err := load(ctx)
		if err != nil {
			return domain.Case{}, domain.Case{}, err
		}
		next, err := fn(current)
		if err != nil {
			return current, current, translate(err)
		}
		if unchanged(current, next) {
			return current, current, nil
		}
		updated, err := s.store.UpdateIfVersion(ctx, next, current.Version, current.RejectionCount)
		if errors.Is(err, repository.ErrVersionConflict) {
			s.log.ConcurrencyConflict("verification", current.ID.String(), attempt)
			continue
		}
		if err != nil {
			return current, current, err
		}
		return current, updated, nil
	}
	return domain.Case{}, domain.Case{}, apperr.Conflict(msgCaseBusy).WithCode("CONCURRENT_UPDATE")
}

// unchanged reports whether fn left the case as it was, in which case
// nothing is written.
func unchanged(before, after domain.Case) bool {
	return before.Status == after.Status &&
		before.UpdatedAt.Equal(after.UpdatedAt) &&
		sameReviewer(before.AssignedReviewerID, after.AssignedReviewerID)
}

func sameReviewer(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (s *Service) byID(id uuid.UUID) func(ctx context.Context) (domain.Case, error) {
	return func(ctx context.Context) (domain.Case, error) {
		return s.store.GetByID(ctx, id)
	}
}

// byToken loads the case behind a customer link. Old tokens stop resolving
// once a rejection rotates them.
func (s *Service) byToken(token string) func(ctx context.Context) (domain.Case, error) {
	return func(ctx context.Context) (domain.Case, error) {
		c, err := s.store.GetByAccessToken(ctx, token)
		if apperr.Is(err, apperr.KindNotFound) {
			return domain.Case{}, apperr.NotFound(msgLinkNotFound)
		}
		return c, err
	}
}

// publishStatusChanged announces a non-rejection transition.
func (s *Service) publishStatusChanged(ctx context.Context, before, after domain.Case, actorID *uuid.UUID) {
	if before.Status == after.Status {
		return
	}
	s.log.WithContext(ctx).CaseTransition(after.ID.String(), string(before.Status), string(after.Status), after.RejectionCount)
	s.eventBus.Publish(ctx, events.VerificationStatusChanged{
		BaseEvent:      events.At(after.UpdatedAt),
		CaseID:         after.ID,
		Reference:      after.Reference,
		From:           string(before.Status),
		To:             string(after.Status),
		RejectionCount: after.RejectionCount,
		ActorID:        actorID,
	})
}

// scheduleExpiry queues the expiry check of the case's current link. The
// periodic sweep catches links whose task could not be queued.
func (s *Service) scheduleExpiry(ctx context.Context, c domain.Case) {
	if s.expiry == nil {
		return
	}
	payload := scheduler.LinkExpiryPayload{CaseID: c.ID.String(), RejectionCount: c.RejectionCount}
	if err := s.expiry.ScheduleLinkExpiry(ctx, payload, c.AccessTokenExpiry); err != nil {
		s.log.WithContext(ctx).Warn("failed to schedule link expiry", "caseId", c.ID, "error", err)
	}
}

func uuidPtr(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
