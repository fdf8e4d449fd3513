package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"verification_backend/internal/adapters/linktoken"
	"verification_backend/internal/events"
	"verification_backend/internal/verification/domain"
	"verification_backend/internal/verification/repository"
	"verification_backend/internal/verification/transport"
	"verification_backend/platform/apperr"
	"verification_backend/platform/phone"
	"verification_backend/platform/qrcode"
	"verification_backend/platform/sanitize"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const maxReasonLength = 1000

// Create opens a case: snapshots the template, issues the customer link,
// assigns a reviewer and announces the case.
func (s *Service) Create(ctx context.Context, actorID uuid.UUID, req transport.CreateVerificationRequest) (transport.CreateVerificationResponse, error) {
	policyType := domain.PolicyType(req.PolicyType)
	if !domain.IsKnownPolicyType(req.PolicyType) {
		return transport.CreateVerificationResponse{}, apperr.Validation("unknown policy type")
	}
	if req.Location != nil && policyType != domain.PolicyProperty {
		return transport.CreateVerificationResponse{}, apperr.Validation("location is only supported for property verifications")
	}

	customerPhone, err := phone.ParseE164(req.CustomerPhone)
	if err != nil {
		return transport.CreateVerificationResponse{}, apperr.Validation("invalid customer phone number")
	}

	resolved, err := s.policies.ResolvePolicy(ctx, req.TemplateID, policyType)
	if err != nil {
		return transport.CreateVerificationResponse{}, err
	}

	reviewerID, err := s.initialReviewer(ctx, req.ReviewerID, policyType)
	if err != nil {
		return transport.CreateVerificationResponse{}, err
	}

	token, err := s.tokens.IssueToken()
	if err != nil {
		return transport.CreateVerificationResponse{}, fmt.Errorf("issue access token: %w", err)
	}

	now := s.now()
	reference, err := s.store.NextReference(ctx, now)
	if err != nil {
		return transport.CreateVerificationResponse{}, err
	}

	c := domain.Case{
		ID:        uuid.New(),
		Reference: reference,
		Customer: domain.Customer{
			Name:  sanitize.Text(req.CustomerName),
			Email: strings.ToLower(strings.TrimSpace(req.CustomerEmail)),
			Phone: customerPhone,
		},
		Status:             domain.StatusDraft,
		PolicyType:         policyType,
		TemplateID:         resolved.TemplateID,
		Policy:             resolved.Policy.Clone(),
		CreatedAt:          now,
		UpdatedAt:          now,
		AccessToken:        token,
		AccessTokenExpiry:  now.Add(s.linkTTL()),
		AssignedReviewerID: reviewerID,
		Location:           req.Location.ToDomain(),
	}

	created, err := s.store.Insert(ctx, c)
	if err != nil {
		return transport.CreateVerificationResponse{}, err
	}

	link, err := linktoken.BuildLink(s.publicBase, created.AccessToken)
	if err != nil {
		s.log.WithContext(ctx).Error("failed to build customer link", "caseId", created.ID, "error", err)
	}

	s.scheduleExpiry(ctx, created)
	s.log.WithContext(ctx).CaseTransition(created.ID.String(), "", string(created.Status), 0)
	s.eventBus.Publish(ctx, events.VerificationCreated{
		BaseEvent:  events.At(now),
		CaseID:     created.ID,
		Reference:  created.Reference,
		PolicyType: string(created.PolicyType),
		Customer: events.CustomerContact{
			Name:  created.Customer.Name,
			Email: created.Customer.Email,
			Phone: created.Customer.Phone,
		},
		AccessToken:        created.AccessToken,
		AccessTokenExpiry:  created.AccessTokenExpiry,
		AssignedReviewerID: created.AssignedReviewerID,
		ActorID:            uuidPtr(actorID),
	})

	return transport.CreateVerificationResponse{
		VerificationResponse: toResponse(created),
		LinkURL:              link,
	}, nil
}

// initialReviewer honours an explicit reviewer, otherwise asks the balancer.
// An empty pool leaves the case unassigned.
func (s *Service) initialReviewer(ctx context.Context, requested *uuid.UUID, policyType domain.PolicyType) (*uuid.UUID, error) {
	if requested != nil {
		return s.requireActiveReviewer(ctx, *requested)
	}
	id, err := s.balance(ctx, policyType)
	if errors.Is(err, domain.ErrNoEligibleReviewer) {
		s.log.WithContext(ctx).Warn("no eligible reviewer; case created unassigned", "policyType", policyType)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func (s *Service) requireActiveReviewer(ctx context.Context, id uuid.UUID) (*uuid.UUID, error) {
	reviewer, err := s.store.GetReviewer(ctx, id)
	if err != nil {
		return nil, err
	}
	if !reviewer.Active {
		return nil, apperr.Validation("reviewer is not active")
	}
	return &reviewer.ID, nil
}

// balance picks the least-loaded eligible reviewer. Pool, teams and caseload
// are read concurrently and re-derived on every call.
func (s *Service) balance(ctx context.Context, policyType domain.PolicyType) (uuid.UUID, error) {
	in := domain.AssignmentInput{PolicyType: policyType, TeamRouting: s.teamRouting}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pool, err := s.store.ListReviewers(gctx)
		in.Pool = pool
		return err
	})
	g.Go(func() error {
		counts, err := s.store.CountActiveByReviewer(gctx)
		in.ActiveCount = counts
		return err
	})
	if s.teamRouting {
		g.Go(func() error {
			teams, err := s.store.ListTeams(gctx)
			in.Teams = teams
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return uuid.Nil, fmt.Errorf("load assignment inputs: %w", err)
	}

	return domain.SelectReviewer(in)
}

// List returns a page of cases for staff.
func (s *Service) List(ctx context.Context, req transport.ListVerificationsRequest) (transport.VerificationListResponse, error) {
	page := max(req.Page, 1)
	pageSize := req.PageSize
	if pageSize < 1 {
		pageSize = 20
	}

	filter := repository.CaseFilter{
		Limit:  pageSize,
		Offset: (page - 1) * pageSize,
	}
	if req.ReviewerID != "" {
		reviewerID, err := uuid.Parse(req.ReviewerID)
		if err != nil {
			return transport.VerificationListResponse{}, apperr.Validation("invalid reviewer id")
		}
		filter.ReviewerID = &reviewerID
	}
	if req.Status != "" {
		status := domain.Status(req.Status)
		filter.Status = &status
	}
	if req.PolicyType != "" {
		policyType := domain.PolicyType(req.PolicyType)
		filter.PolicyType = &policyType
	}

	cases, total, err := s.store.List(ctx, filter)
	if err != nil {
		return transport.VerificationListResponse{}, err
	}

	items := make([]transport.VerificationResponse, 0, len(cases))
	for _, c := range cases {
		items = append(items, toResponse(c))
	}
	totalPages := (total + pageSize - 1) / pageSize

	return transport.VerificationListResponse{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}, nil
}

// Get returns one case with its policy snapshot.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (transport.VerificationDetailResponse, error) {
	c, err := s.store.GetByID(ctx, id)
	if err != nil {
		return transport.VerificationDetailResponse{}, err
	}
	return toDetail(c), nil
}

// GetSubmission returns the latest submitted snapshot of a case.
func (s *Service) GetSubmission(ctx context.Context, id uuid.UUID) (repository.Submission, error) {
	if _, err := s.store.GetByID(ctx, id); err != nil {
		return repository.Submission{}, err
	}
	sub, found, err := s.store.LatestSubmission(ctx, id)
	if err != nil {
		return repository.Submission{}, err
	}
	if !found {
		return repository.Submission{}, apperr.NotFound("no submission yet")
	}
	return sub, nil
}

// Approve closes a submitted case positively.
func (s *Service) Approve(ctx context.Context, actorID, id uuid.UUID) (transport.VerificationResponse, error) {
	now := s.now()
	before, after, err := s.transition(ctx, s.byID(id), func(c domain.Case) (domain.Case, error) {
		return domain.Approve(c, now)
	})
	if err != nil {
		return transport.VerificationResponse{}, err
	}
	s.publishStatusChanged(ctx, before, after, uuidPtr(actorID))
	return toResponse(after), nil
}

// Cancel withdraws a case that is not closed yet.
func (s *Service) Cancel(ctx context.Context, actorID, id uuid.UUID) (transport.VerificationResponse, error) {
	now := s.now()
	before, after, err := s.transition(ctx, s.byID(id), func(c domain.Case) (domain.Case, error) {
		return domain.Cancel(c, now)
	})
	if err != nil {
		return transport.VerificationResponse{}, err
	}
	s.publishStatusChanged(ctx, before, after, uuidPtr(actorID))
	return toResponse(after), nil
}

// Reject applies reviewer feedback. While attempts remain the case goes back
// to the customer with a rotated link and a draft seeded from the last
// submission; the last allowed rejection closes the case.
func (s *Service) Reject(ctx context.Context, actorID, id uuid.UUID, req transport.RejectVerificationRequest) (transport.VerificationResponse, error) {
	feedback := sanitizeFeedback(req.Feedback)

	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		current, err := s.store.GetByID(ctx, id)
		if err != nil {
			return transport.VerificationResponse{}, err
		}

		now := s.now()
		next, outcome, err := s.rejection.Reject(current, feedback, now, s.tokens)
		if err != nil {
			return transport.VerificationResponse{}, translate(err)
		}

		var updated domain.Case
		err = s.store.InTx(ctx, func(tx repository.Store) error {
			var txErr error
			updated, txErr = tx.UpdateIfVersion(ctx, next, current.Version, current.RejectionCount)
			if txErr != nil {
				return txErr
			}
			if outcome.Permanent {
				return nil
			}
			return s.seedRevisionDraft(ctx, tx, updated)
		})
		if errors.Is(err, repository.ErrVersionConflict) {
			s.log.ConcurrencyConflict("verification", id.String(), attempt)
			continue
		}
		if err != nil {
			return transport.VerificationResponse{}, err
		}

		if !outcome.Permanent {
			s.scheduleExpiry(ctx, updated)
		}
		s.publishRejected(ctx, current, updated, outcome, uuidPtr(actorID))
		return toResponse(updated), nil
	}
	return transport.VerificationResponse{}, apperr.Conflict(msgCaseBusy).WithCode("CONCURRENT_UPDATE")
}

// seedRevisionDraft starts the correction round from the last submission so
// unflagged fields carry over.
func (s *Service) seedRevisionDraft(ctx context.Context, tx repository.Store, c domain.Case) error {
	latest, found, err := tx.LatestSubmission(ctx, c.ID)
	if err != nil {
		return err
	}
	var submitted map[string]domain.CategoryData
	if found {
		submitted = latest.Data
	}
	draft := domain.SeedRevisionDraft(c, submitted)
	draft.UpdatedAt = c.UpdatedAt
	_, err = tx.ReplaceDraft(ctx, draft)
	return err
}

func (s *Service) publishRejected(ctx context.Context, before, after domain.Case, outcome domain.RejectionOutcome, actorID *uuid.UUID) {
	s.log.WithContext(ctx).CaseTransition(after.ID.String(), string(before.Status), string(after.Status), after.RejectionCount)

	event := events.VerificationRejected{
		BaseEvent:      events.At(after.UpdatedAt),
		CaseID:         after.ID,
		Reference:      after.Reference,
		From:           string(before.Status),
		To:             string(after.Status),
		RejectionCount: after.RejectionCount,
		Permanent:      outcome.Permanent,
		Feedback:       after.RejectionReason.Clone(),
		Flagged:        flaggedFields(after.Policy, after.RejectionReason),
		MaxAttempts:    s.maxAttempts(),
		Customer: events.CustomerContact{
			Name:  after.Customer.Name,
			Email: after.Customer.Email,
			Phone: after.Customer.Phone,
		},
		ActorID: actorID,
	}
	if !outcome.Permanent {
		event.AccessToken = outcome.AccessToken
		event.AccessTokenExpiry = outcome.AccessTokenExpiry
	}
	s.eventBus.Publish(ctx, event)
}

func sanitizeFeedback(in map[string]map[string]string) domain.Feedback {
	out := make(domain.Feedback, len(in))
	for categoryID, fields := range in {
		cleaned := make(map[string]string, len(fields))
		for fieldID, reason := range fields {
			cleaned[fieldID] = sanitize.Truncate(sanitize.Text(reason), maxReasonLength)
		}
		out[categoryID] = cleaned
	}
	return out
}

// Reassign moves a case to another reviewer, or to the least-loaded eligible
// reviewer when req.Auto is set.
func (s *Service) Reassign(ctx context.Context, actorID, id uuid.UUID, req transport.ReassignVerificationRequest) (transport.VerificationResponse, error) {
	current, err := s.store.GetByID(ctx, id)
	if err != nil {
		return transport.VerificationResponse{}, err
	}
	if current.Status.IsTerminal() {
		return transport.VerificationResponse{}, translate(domain.ErrAlreadyTerminal)
	}

	var target *uuid.UUID
	if req.Auto {
		picked, err := s.balance(ctx, current.PolicyType)
		if err != nil {
			return transport.VerificationResponse{}, translate(err)
		}
		target = &picked
	} else {
		if req.ReviewerID == nil {
			return transport.VerificationResponse{}, apperr.Validation("reviewerId is required")
		}
		target, err = s.requireActiveReviewer(ctx, *req.ReviewerID)
		if err != nil {
			return transport.VerificationResponse{}, err
		}
	}

	now := s.now()
	before, after, err := s.transition(ctx, s.byID(id), func(c domain.Case) (domain.Case, error) {
		return domain.Reassign(c, target, now)
	})
	if err != nil {
		return transport.VerificationResponse{}, err
	}

	s.log.WithContext(ctx).Info("verification reassigned", "caseId", after.ID, "reviewerId", target)
	s.eventBus.Publish(ctx, events.VerificationReassigned{
		BaseEvent:  events.At(now),
		CaseID:     after.ID,
		Reference:  after.Reference,
		Status:     string(after.Status),
		FromUserID: before.AssignedReviewerID,
		ToUserID:   after.AssignedReviewerID,
		ActorID:    uuidPtr(actorID),
	})
	return toResponse(after), nil
}

// LinkQR renders the customer link of a case awaiting the customer as a PNG.
func (s *Service) LinkQR(ctx context.Context, id uuid.UUID) ([]byte, error) {
	c, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.Status.AwaitsCustomer() {
		return nil, translate(domain.ErrInvalidTransition)
	}
	if c.LinkExpired(s.now()) {
		return nil, translate(domain.ErrLinkExpired)
	}
	link, err := linktoken.BuildLink(s.publicBase, c.AccessToken)
	if err != nil {
		return nil, err
	}
	return qrcode.PNG(link, qrcode.DefaultSize)
}
