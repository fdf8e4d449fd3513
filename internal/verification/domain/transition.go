package domain

import (
	"time"

	"github.com/google/uuid"
)

// Transitions take the case by value and return the updated copy. On error the
// returned case is the input unchanged.

// Start moves a draft case to in_progress. Other statuses are left as they are.
func Start(c Case, now time.Time) (Case, error) {
	if c.Status.IsTerminal() {
		return c, ErrAlreadyTerminal
	}
	if c.Status == StatusSubmitted {
		return c, ErrAlreadySubmitted
	}
	if c.LinkExpired(now) {
		return c, ErrLinkExpired
	}
	if c.Status != StatusDraft {
		return c, nil
	}
	next := c
	next.Status = StatusInProgress
	next.UpdatedAt = now
	return next, nil
}

// Submit hands the customer's answers to review.
func Submit(c Case, now time.Time) (Case, error) {
	switch c.Status {
	case StatusSubmitted, StatusApproved, StatusRejected:
		return c, ErrAlreadySubmitted
	case StatusCancelled:
		return c, ErrAlreadyTerminal
	case StatusExpired:
		return c, ErrLinkExpired
	case StatusDraft, StatusInProgress, StatusNeedsRevision:
	default:
		return c, ErrInvalidTransition
	}
	if c.LinkExpired(now) {
		return c, ErrLinkExpired
	}
	next := c
	submittedAt := now
	next.Status = StatusSubmitted
	next.SubmittedAt = &submittedAt
	next.UpdatedAt = now
	return next, nil
}

// Approve closes a submitted case positively.
func Approve(c Case, now time.Time) (Case, error) {
	if err := requireSubmitted(c); err != nil {
		return c, err
	}
	next := c
	next.Status = StatusApproved
	next.UpdatedAt = now
	return next, nil
}

// Reassign changes the reviewer without touching the status. A nil reviewer
// leaves the case unassigned.
func Reassign(c Case, reviewerID *uuid.UUID, now time.Time) (Case, error) {
	if c.Status.IsTerminal() {
		return c, ErrAlreadyTerminal
	}
	next := c
	if reviewerID != nil {
		id := *reviewerID
		next.AssignedReviewerID = &id
	} else {
		next.AssignedReviewerID = nil
	}
	next.UpdatedAt = now
	return next, nil
}

// Cancel withdraws a case. Allowed from any non-terminal status.
func Cancel(c Case, now time.Time) (Case, error) {
	if c.Status.IsTerminal() {
		return c, ErrAlreadyTerminal
	}
	next := c
	next.Status = StatusCancelled
	next.UpdatedAt = now
	return next, nil
}

// Expire closes a case whose customer link ran out before submission.
func Expire(c Case, now time.Time) (Case, error) {
	if c.Status.IsTerminal() {
		return c, ErrAlreadyTerminal
	}
	if !c.Status.AwaitsCustomer() || !c.LinkExpired(now) {
		return c, ErrInvalidTransition
	}
	next := c
	next.Status = StatusExpired
	next.UpdatedAt = now
	return next, nil
}

func requireSubmitted(c Case) error {
	if c.Status.IsTerminal() {
		return ErrAlreadyTerminal
	}
	if c.Status != StatusSubmitted {
		return ErrInvalidTransition
	}
	return nil
}
