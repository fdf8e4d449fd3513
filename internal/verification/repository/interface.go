// Package repository persists verification cases, submissions, drafts and the
// reviewer pool. Postgres is the production store; Memory backs tests and
// local runs without a database.
package repository

import (
	"context"
	"errors"
	"time"

	"verification_backend/internal/verification/domain"

	"github.com/google/uuid"
)

// ErrVersionConflict is returned when a conditional write lost a race.
var ErrVersionConflict = errors.New("record was modified concurrently")

const (
	caseNotFoundMsg     = "verification not found"
	reviewerNotFoundMsg = "reviewer not found"
)

// CaseFilter narrows List results.
type CaseFilter struct {
	Status     *domain.Status
	ReviewerID *uuid.UUID
	PolicyType *domain.PolicyType
	Limit      int
	Offset     int
}

// Submission is an immutable snapshot of what the customer handed in.
type Submission struct {
	ID          uuid.UUID                       `json:"id"`
	CaseID      uuid.UUID                       `json:"caseId"`
	Number      int                             `json:"number"`
	Round       int                             `json:"round"`
	Data        map[string]domain.CategoryData `json:"data"`
	SubmittedAt time.Time                       `json:"submittedAt"`
}

// CaseStore reads and conditionally writes case records.
type CaseStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (domain.Case, error)
	GetByAccessToken(ctx context.Context, token string) (domain.Case, error)
	Insert(ctx context.Context, c domain.Case) (domain.Case, error)
	// UpdateIfVersion writes c only if the stored version and rejection count
	// still match the values the caller read. The returned case carries the
	// new version.
	UpdateIfVersion(ctx context.Context, c domain.Case, expectedVersion, expectedRejectionCount int) (domain.Case, error)
	CountActiveByReviewer(ctx context.Context) (map[uuid.UUID]int, error)
	// ListLinkExpired returns cases still awaiting the customer whose link
	// expired before now, oldest expiry first.
	ListLinkExpired(ctx context.Context, now time.Time, limit int) ([]domain.Case, error)
	List(ctx context.Context, filter CaseFilter) ([]domain.Case, int, error)
	NextReference(ctx context.Context, now time.Time) (string, error)
}

// SubmissionStore is append-only.
type SubmissionStore interface {
	// InsertSubmission assigns the next number for the case.
	InsertSubmission(ctx context.Context, s Submission) (Submission, error)
	LatestSubmission(ctx context.Context, caseID uuid.UUID) (Submission, bool, error)
}

// DraftStore keeps the customer's in-progress answers.
type DraftStore interface {
	GetDraft(ctx context.Context, caseID uuid.UUID) (domain.DraftSession, bool, error)
	// SaveDraft writes d if the stored version equals expectedVersion
	// (0 when no draft exists yet).
	SaveDraft(ctx context.Context, d domain.DraftSession, expectedVersion int) (domain.DraftSession, error)
	// ReplaceDraft overwrites any draft for the case, used when a new round starts.
	ReplaceDraft(ctx context.Context, d domain.DraftSession) (domain.DraftSession, error)
}

// ReviewerStore exposes the assignment pool.
type ReviewerStore interface {
	ListReviewers(ctx context.Context) ([]domain.Reviewer, error)
	GetReviewer(ctx context.Context, id uuid.UUID) (domain.Reviewer, error)
	ListTeams(ctx context.Context) (map[uuid.UUID]domain.Team, error)
}

// Store combines every store and allows grouping writes in a transaction.
type Store interface {
	CaseStore
	SubmissionStore
	DraftStore
	ReviewerStore
	InTx(ctx context.Context, fn func(tx Store) error) error
}

func activeStatusStrings() []string {
	return statusStrings(domain.ActiveStatuses())
}

func awaitingCustomerStrings() []string {
	return statusStrings([]domain.Status{domain.StatusDraft, domain.StatusInProgress, domain.StatusNeedsRevision})
}

func statusStrings(statuses []domain.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 50
	}
	return limit
}
