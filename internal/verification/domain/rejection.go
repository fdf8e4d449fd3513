package domain

import (
	"fmt"
	"strings"
	"time"
)

// Default rejection budget and link window.
const (
	DefaultMaxAttempts = 4
	DefaultLinkTTL     = 7 * 24 * time.Hour
)

// TokenIssuer generates customer link credentials.
type TokenIssuer interface {
	IssueToken() (string, error)
}

// TokenIssuerFunc adapts a function to TokenIssuer.
type TokenIssuerFunc func() (string, error)

func (f TokenIssuerFunc) IssueToken() (string, error) { return f() }

// RejectionPolicy bounds the correction loop.
type RejectionPolicy struct {
	MaxAttempts int
	LinkTTL     time.Duration
}

// DefaultRejectionPolicy allows three correction rounds with a seven day link.
func DefaultRejectionPolicy() RejectionPolicy {
	return RejectionPolicy{MaxAttempts: DefaultMaxAttempts, LinkTTL: DefaultLinkTTL}
}

// RejectionOutcome summarises what a rejection did to the case.
type RejectionOutcome struct {
	Status            Status
	RejectionCount    int
	Permanent         bool
	AccessToken       string
	AccessTokenExpiry time.Time
}

// NormalizeFeedback trims reasons, drops unflagged entries and checks every
// flagged field exists in the policy. At least one field must be flagged.
func NormalizeFeedback(policy PolicySnapshot, feedback Feedback) (Feedback, error) {
	out := make(Feedback)
	var unknown []MissingItem
	for categoryID, fields := range feedback {
		category, ok := policy.Category(categoryID)
		for fieldID, reason := range fields {
			reason = strings.TrimSpace(reason)
			if reason == "" {
				continue
			}
			if !ok || !KnownField(category, fieldID) {
				unknown = append(unknown, MissingItem{CategoryID: categoryID, FieldID: fieldID, Label: "unknown field"})
				continue
			}
			if out[categoryID] == nil {
				out[categoryID] = make(map[string]string)
			}
			out[categoryID][fieldID] = reason
		}
	}
	if len(unknown) > 0 {
		return nil, &ValidationError{Message: "feedback references unknown fields", Missing: unknown}
	}
	if out.FlaggedCount() == 0 {
		return nil, &ValidationError{Message: "feedback must flag at least one field"}
	}
	return out, nil
}

// Reject applies a reviewer rejection. While budget remains the case goes back
// to the customer with a fresh link; the last allowed rejection is permanent.
// The caller persists the result with a conditional update on the case version
// and rejection count it read.
func (p RejectionPolicy) Reject(c Case, feedback Feedback, now time.Time, issuer TokenIssuer) (Case, RejectionOutcome, error) {
	if err := requireSubmitted(c); err != nil {
		return c, RejectionOutcome{}, err
	}
	normalized, err := NormalizeFeedback(c.Policy, feedback)
	if err != nil {
		return c, RejectionOutcome{}, err
	}

	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	ttl := p.LinkTTL
	if ttl <= 0 {
		ttl = DefaultLinkTTL
	}

	next := c
	next.RejectionCount = c.RejectionCount + 1
	next.RejectionReason = normalized
	next.UpdatedAt = now

	if c.RejectionCount >= maxAttempts-1 {
		next.Status = StatusRejected
		return next, RejectionOutcome{
			Status:         StatusRejected,
			RejectionCount: next.RejectionCount,
			Permanent:      true,
		}, nil
	}

	token, err := issuer.IssueToken()
	if err != nil {
		return c, RejectionOutcome{}, fmt.Errorf("issue access token: %w", err)
	}
	if token == c.AccessToken {
		return c, RejectionOutcome{}, fmt.Errorf("issue access token: token was not rotated")
	}

	next.Status = StatusNeedsRevision
	next.AccessToken = token
	next.AccessTokenExpiry = now.Add(ttl)
	next.CreatedAt = now
	next.SubmittedAt = nil
	return next, RejectionOutcome{
		Status:            StatusNeedsRevision,
		RejectionCount:    next.RejectionCount,
		AccessToken:       token,
		AccessTokenExpiry: next.AccessTokenExpiry,
	}, nil
}
