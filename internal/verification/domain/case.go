// Package domain provides the core business rules for the verification bounded context:
// conditional field evaluation, completeness checking, the case state machine,
// rejection feedback processing and reviewer assignment.
//
// Nothing in this package performs I/O. Callers load the inputs, call into the
// domain and persist the result with a single conditional write.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a verification case.
type Status string

const (
	StatusDraft         Status = "draft"
	StatusInProgress    Status = "in_progress"
	StatusSubmitted     Status = "submitted"
	StatusNeedsRevision Status = "needs_revision"
	StatusApproved      Status = "approved"
	StatusRejected      Status = "rejected"
	StatusCancelled     Status = "cancelled"
	StatusExpired       Status = "expired"
)

// terminalStatuses are statuses from which no transition is accepted.
var terminalStatuses = map[Status]bool{
	StatusApproved:  true,
	StatusRejected:  true,
	StatusCancelled: true,
	StatusExpired:   true,
}

var knownStatuses = map[Status]struct{}{
	StatusDraft:         {},
	StatusInProgress:    {},
	StatusSubmitted:     {},
	StatusNeedsRevision: {},
	StatusApproved:      {},
	StatusRejected:      {},
	StatusCancelled:     {},
	StatusExpired:       {},
}

// IsTerminal reports whether the status accepts no further transitions.
func (s Status) IsTerminal() bool {
	return terminalStatuses[s]
}

// IsKnown reports whether s is one of the declared statuses.
func (s Status) IsKnown() bool {
	_, ok := knownStatuses[s]
	return ok
}

// ActiveStatuses are the statuses that count toward a reviewer's caseload.
func ActiveStatuses() []Status {
	return []Status{StatusDraft, StatusInProgress, StatusSubmitted, StatusNeedsRevision}
}

// AwaitsCustomer reports whether the case is waiting for customer input.
func (s Status) AwaitsCustomer() bool {
	return s == StatusDraft || s == StatusInProgress || s == StatusNeedsRevision
}

// PolicyType is the kind of policy a case verifies.
type PolicyType string

const (
	PolicyProperty PolicyType = "property"
	PolicyVehicle  PolicyType = "vehicle"
	PolicyBanking  PolicyType = "banking"
)

// IsKnownPolicyType reports whether value names a supported policy type.
func IsKnownPolicyType(value string) bool {
	switch PolicyType(value) {
	case PolicyProperty, PolicyVehicle, PolicyBanking:
		return true
	}
	return false
}

// GeoPoint is a WGS84 coordinate.
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Feedback maps category id -> field id (photo field or question) -> reason.
// An empty reason means the field is not flagged.
type Feedback map[string]map[string]string

// IsFlagged reports whether the reviewer flagged the field.
func (f Feedback) IsFlagged(categoryID, fieldID string) bool {
	if f == nil {
		return false
	}
	return f[categoryID][fieldID] != ""
}

// FlaggedCount returns the number of fields carrying a non-empty reason.
func (f Feedback) FlaggedCount() int {
	n := 0
	for _, fields := range f {
		for _, reason := range fields {
			if reason != "" {
				n++
			}
		}
	}
	return n
}

// Clone returns a deep copy of the feedback map.
func (f Feedback) Clone() Feedback {
	if f == nil {
		return nil
	}
	out := make(Feedback, len(f))
	for categoryID, fields := range f {
		copied := make(map[string]string, len(fields))
		for fieldID, reason := range fields {
			copied[fieldID] = reason
		}
		out[categoryID] = copied
	}
	return out
}

// Customer holds the contact fields of the person completing the verification.
type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// Case is a single verification instance.
type Case struct {
	ID                 uuid.UUID
	Reference          string
	Customer           Customer
	Status             Status
	PolicyType         PolicyType
	TemplateID         uuid.UUID
	Policy             PolicySnapshot
	SubmittedAt        *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
	RejectionCount     int
	RejectionReason    Feedback
	AccessToken        string
	AccessTokenExpiry  time.Time
	AssignedReviewerID *uuid.UUID
	Location           *GeoPoint
	Version            int
}

// LinkExpired reports whether the customer link is no longer valid at now.
func (c Case) LinkExpired(now time.Time) bool {
	return now.After(c.AccessTokenExpiry)
}

// InRevision reports whether the customer is in a correction round.
func (c Case) InRevision() bool {
	return c.Status == StatusNeedsRevision
}
