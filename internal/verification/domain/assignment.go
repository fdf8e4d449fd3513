package domain

import (
	"sort"

	"github.com/google/uuid"
)

// Reviewer is a staff member who can be assigned cases.
type Reviewer struct {
	ID             uuid.UUID   `json:"id"`
	Name           string      `json:"name"`
	Email          string      `json:"email"`
	Active         bool        `json:"active"`
	Specialization *PolicyType `json:"specialization,omitempty"`
	TeamID         *uuid.UUID  `json:"teamId,omitempty"`
}

// Team groups reviewers. An empty PolicyTypes set places no restriction.
type Team struct {
	ID          uuid.UUID    `json:"id"`
	Name        string       `json:"name"`
	PolicyTypes []PolicyType `json:"policyTypes"`
}

// Supports reports whether the team accepts cases of policy type pt.
func (t Team) Supports(pt PolicyType) bool {
	if len(t.PolicyTypes) == 0 {
		return true
	}
	for _, supported := range t.PolicyTypes {
		if supported == pt {
			return true
		}
	}
	return false
}

// AssignmentInput is everything the balancer needs, fetched by the caller.
type AssignmentInput struct {
	Pool        []Reviewer
	Teams       map[uuid.UUID]Team
	ActiveCount map[uuid.UUID]int
	PolicyType  PolicyType
	TeamRouting bool
}

// EligibleReviewers filters the pool by activity, specialization and, when
// team routing is on, team support for the policy type.
func EligibleReviewers(in AssignmentInput) []Reviewer {
	var eligible []Reviewer
	for _, r := range in.Pool {
		if !r.Active {
			continue
		}
		if r.Specialization != nil && *r.Specialization != in.PolicyType {
			continue
		}
		if in.TeamRouting && r.TeamID != nil {
			team, ok := in.Teams[*r.TeamID]
			if ok && !team.Supports(in.PolicyType) {
				continue
			}
		}
		eligible = append(eligible, r)
	}
	return eligible
}

// SelectReviewer returns the least-loaded eligible reviewer. Ties go to the
// lowest id so the choice is reproducible.
func SelectReviewer(in AssignmentInput) (uuid.UUID, error) {
	eligible := EligibleReviewers(in)
	if len(eligible) == 0 {
		return uuid.Nil, ErrNoEligibleReviewer
	}
	sort.Slice(eligible, func(i, j int) bool {
		ci, cj := in.ActiveCount[eligible[i].ID], in.ActiveCount[eligible[j].ID]
		if ci != cj {
			return ci < cj
		}
		return eligible[i].ID.String() < eligible[j].ID.String()
	})
	return eligible[0].ID, nil
}
