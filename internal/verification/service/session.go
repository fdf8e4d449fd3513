package service

import (
	"context"
	"errors"
	"time"

	"verification_backend/internal/verification/domain"
	"verification_backend/internal/verification/repository"
	"verification_backend/internal/verification/transport"
	"verification_backend/platform/apperr"

	"github.com/google/uuid"
)

// OpenSession returns everything the customer link page needs. Opening a
// fresh link moves the case from draft to in_progress. Cases that were
// already handed in can still be viewed; lapsed links cannot.
func (s *Service) OpenSession(ctx context.Context, token string) (transport.SessionResponse, error) {
	now := s.now()
	before, c, err := s.transition(ctx, s.byToken(token), func(c domain.Case) (domain.Case, error) {
		if err := checkLinkAlive(c, now); err != nil {
			return c, err
		}
		if c.Status != domain.StatusDraft {
			return c, nil
		}
		return domain.Start(c, now)
	})
	if err != nil {
		return transport.SessionResponse{}, err
	}
	s.publishStatusChanged(ctx, before, c, nil)

	draft, err := s.loadDraft(ctx, c)
	if err != nil {
		return transport.SessionResponse{}, err
	}

	resp := transport.SessionResponse{
		Reference:       c.Reference,
		CustomerName:    c.Customer.Name,
		Status:          string(c.Status),
		PolicyType:      string(c.PolicyType),
		Policy:          c.Policy.Clone(),
		ExpiresAt:       c.AccessTokenExpiry,
		RejectionCount:  c.RejectionCount,
		SubmissionsLeft: max(s.maxAttempts()-c.RejectionCount, 0),
		Draft:           toDraftResponse(draft),
		Progress:        buildProgress(c.Policy, draft),
	}
	if c.InRevision() {
		resp.Flagged = c.RejectionReason.Clone()
	}
	return resp, nil
}

// checkLinkAlive refuses links that lapsed while the case waited for the customer.
func checkLinkAlive(c domain.Case, now time.Time) error {
	if c.Status == domain.StatusExpired {
		return domain.ErrLinkExpired
	}
	if c.Status.AwaitsCustomer() && c.LinkExpired(now) {
		return domain.ErrLinkExpired
	}
	return nil
}

// beginEditing loads the case for a customer write. Only cases awaiting the
// customer with a live link can be edited; a draft case starts here.
func (s *Service) beginEditing(ctx context.Context, token string) (domain.Case, error) {
	now := s.now()
	before, after, err := s.transition(ctx, s.byToken(token), func(c domain.Case) (domain.Case, error) {
		if c.Status == domain.StatusExpired {
			return c, domain.ErrLinkExpired
		}
		return domain.Start(c, now)
	})
	if err != nil {
		return domain.Case{}, err
	}
	s.publishStatusChanged(ctx, before, after, nil)
	return after, nil
}

// loadDraft returns the draft of the case's current round. A missing or
// stale draft yields an empty one that replaces the stored draft on save.
func (s *Service) loadDraft(ctx context.Context, c domain.Case) (domain.DraftSession, error) {
	stored, found, err := s.store.GetDraft(ctx, c.ID)
	if err != nil {
		return domain.DraftSession{}, err
	}
	if found && stored.Round == c.RejectionCount {
		return stored, nil
	}
	draft := domain.NewDraftSession(c.ID, c.RejectionCount)
	if found {
		draft.Version = stored.Version
	}
	return draft, nil
}

// SaveDraft checkpoints the answers of one category. During a correction
// round only flagged fields may change. draftVersion guards against two
// tabs overwriting each other.
func (s *Service) SaveDraft(ctx context.Context, token, categoryID string, req transport.SaveCategoryRequest) (transport.SaveCategoryResponse, error) {
	c, err := s.beginEditing(ctx, token)
	if err != nil {
		return transport.SaveCategoryResponse{}, err
	}
	category, ok := c.Policy.Category(categoryID)
	if !ok {
		return transport.SaveCategoryResponse{}, apperr.NotFound(msgCategoryNotFound)
	}

	draft, err := s.loadDraft(ctx, c)
	if err != nil {
		return transport.SaveCategoryResponse{}, err
	}
	if draft.Version != req.DraftVersion {
		return transport.SaveCategoryResponse{}, apperr.Conflict(msgDraftConflict).WithCode("DRAFT_CONFLICT")
	}

	current := draft.Data(categoryID)
	var problems []domain.MissingItem
	for questionID, value := range req.Answers {
		q, ok := category.Question(questionID)
		if !ok {
			problems = append(problems, domain.MissingItem{CategoryID: categoryID, FieldID: questionID, Kind: domain.MissingAnswer, Label: "unknown question"})
			continue
		}
		value = domain.NormalizeAnswer(q, value)
		if current.Answer(questionID).Equal(value) {
			continue
		}
		if err := domain.CheckEditable(c, categoryID, questionID); err != nil {
			return transport.SaveCategoryResponse{}, translate(err)
		}
		if err := domain.CheckAnswer(q, value); err != nil {
			problems = append(problems, domain.MissingItem{CategoryID: categoryID, FieldID: questionID, Kind: domain.MissingAnswer, Label: err.Error()})
			continue
		}
		draft.SetAnswer(categoryID, questionID, value)
	}
	if len(problems) > 0 {
		return transport.SaveCategoryResponse{}, translate(&domain.ValidationError{Message: "invalid answers", Missing: problems})
	}

	for _, fieldID := range req.RemovePhotos {
		if !current.HasPhoto(fieldID) {
			continue
		}
		if err := domain.CheckEditable(c, categoryID, fieldID); err != nil {
			return transport.SaveCategoryResponse{}, translate(err)
		}
		draft.RemovePhoto(categoryID, fieldID)
	}

	saved, err := s.writeDraft(ctx, draft, req.DraftVersion)
	if err != nil {
		return transport.SaveCategoryResponse{}, err
	}
	return transport.SaveCategoryResponse{
		DraftVersion: saved.Version,
		Category:     categoryProgress(category, saved.Data(categoryID)),
	}, nil
}

// writeDraft persists the draft if its stored version is still expected.
// A stale stored draft from an earlier round is replaced outright.
func (s *Service) writeDraft(ctx context.Context, draft domain.DraftSession, expected int) (domain.DraftSession, error) {
	draft.UpdatedAt = s.now()
	saved, err := s.store.SaveDraft(ctx, draft, expected)
	if errors.Is(err, repository.ErrVersionConflict) {
		return domain.DraftSession{}, apperr.Conflict(msgDraftConflict).WithCode("DRAFT_CONFLICT")
	}
	return saved, err
}

// Progress reports the missing requirements of every category.
func (s *Service) Progress(ctx context.Context, token string) (transport.ProgressResponse, error) {
	c, err := s.byToken(token)(ctx)
	if err != nil {
		return transport.ProgressResponse{}, err
	}
	if err := checkLinkAlive(c, s.now()); err != nil {
		return transport.ProgressResponse{}, translate(err)
	}
	draft, err := s.loadDraft(ctx, c)
	if err != nil {
		return transport.ProgressResponse{}, err
	}
	return buildProgress(c.Policy, draft), nil
}

// Submit hands the draft in for review. Every unmet requirement of the whole
// form is reported at once; nothing changes unless the form is complete.
func (s *Service) Submit(ctx context.Context, token string) (transport.SubmitResponse, error) {
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		current, err := s.byToken(token)(ctx)
		if err != nil {
			return transport.SubmitResponse{}, err
		}

		now := s.now()
		next, err := domain.Submit(current, now)
		if err != nil {
			return transport.SubmitResponse{}, translate(err)
		}

		draft, err := s.loadDraft(ctx, current)
		if err != nil {
			return transport.SubmitResponse{}, err
		}
		if missing := domain.FormMissing(current.Policy, draft); len(missing) > 0 {
			return transport.SubmitResponse{}, translate(&domain.ValidationError{
				Message: "verification is incomplete",
				Missing: domain.FlattenMissing(current.Policy, missing),
			})
		}

		data := make(map[string]domain.CategoryData, len(current.Policy.Categories))
		for _, category := range current.Policy.Categories {
			data[category.ID] = domain.SubmittableData(category, draft.Data(category.ID))
		}

		var (
			updated    domain.Case
			submission repository.Submission
		)
		err = s.store.InTx(ctx, func(tx repository.Store) error {
			var txErr error
			updated, txErr = tx.UpdateIfVersion(ctx, next, current.Version, current.RejectionCount)
			if txErr != nil {
				return txErr
			}
			submission, txErr = tx.InsertSubmission(ctx, repository.Submission{
				ID:          uuid.New(),
				CaseID:      current.ID,
				Round:       current.RejectionCount,
				Data:        data,
				SubmittedAt: now,
			})
			return txErr
		})
		if errors.Is(err, repository.ErrVersionConflict) {
			s.log.ConcurrencyConflict("verification", current.ID.String(), attempt)
			continue
		}
		if err != nil {
			return transport.SubmitResponse{}, err
		}

		s.publishStatusChanged(ctx, current, updated, nil)
		return transport.SubmitResponse{
			Status:           string(updated.Status),
			SubmissionNumber: submission.Number,
			SubmittedAt:      submission.SubmittedAt,
		}, nil
	}
	return transport.SubmitResponse{}, apperr.Conflict(msgCaseBusy).WithCode("CONCURRENT_UPDATE")
}
