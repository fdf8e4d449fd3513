// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"time"

	"verification_backend/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var NewBaseEvent = events.NewBaseEvent

// At returns a BaseEvent stamped with the transition time rather than the
// publish time.
func At(t time.Time) BaseEvent {
	return BaseEvent{Timestamp: t}
}

const (
	NameVerificationCreated       = "verification.created"
	NameVerificationStatusChanged = "verification.status_changed"
	NameVerificationRejected      = "verification.rejected"
	NameVerificationReassigned    = "verification.reassigned"
	NameEvidenceRecorded          = "verification.evidence_recorded"
)

// =============================================================================
// Verification Domain Events
// =============================================================================

// CustomerContact is what notification needs to reach the customer.
type CustomerContact struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// VerificationCreated is published after a case and its customer link exist.
type VerificationCreated struct {
	BaseEvent
	CaseID             uuid.UUID       `json:"caseId"`
	Reference          string          `json:"reference"`
	PolicyType         string          `json:"policyType"`
	Customer           CustomerContact `json:"customer"`
	AccessToken        string          `json:"-"`
	AccessTokenExpiry  time.Time       `json:"accessTokenExpiry"`
	AssignedReviewerID *uuid.UUID      `json:"assignedReviewerId,omitempty"`
	ActorID            *uuid.UUID      `json:"actorId,omitempty"`
}

func (e VerificationCreated) EventName() string { return NameVerificationCreated }

// VerificationStatusChanged is published for every transition that is not a
// rejection: start, submit, approve, cancel and expire.
type VerificationStatusChanged struct {
	BaseEvent
	CaseID         uuid.UUID  `json:"caseId"`
	Reference      string     `json:"reference"`
	From           string     `json:"from"`
	To             string     `json:"to"`
	RejectionCount int        `json:"rejectionCount"`
	ActorID        *uuid.UUID `json:"actorId,omitempty"`
}

func (e VerificationStatusChanged) EventName() string { return NameVerificationStatusChanged }

// FlaggedField is one field the reviewer asked the customer to redo,
// resolved to display labels.
type FlaggedField struct {
	CategoryID    string `json:"categoryId"`
	CategoryTitle string `json:"categoryTitle"`
	FieldID       string `json:"fieldId"`
	FieldLabel    string `json:"fieldLabel"`
	Reason        string `json:"reason"`
}

// VerificationRejected is published when a reviewer rejects a submission.
// Permanent rejections carry no access token.
type VerificationRejected struct {
	BaseEvent
	CaseID            uuid.UUID                    `json:"caseId"`
	Reference         string                       `json:"reference"`
	From              string                       `json:"from"`
	To                string                       `json:"to"`
	RejectionCount    int                          `json:"rejectionCount"`
	Permanent         bool                         `json:"permanent"`
	Feedback          map[string]map[string]string `json:"feedback"`
	Flagged           []FlaggedField               `json:"-"`
	MaxAttempts       int                          `json:"maxAttempts"`
	Customer          CustomerContact              `json:"customer"`
	AccessToken       string                       `json:"-"`
	AccessTokenExpiry time.Time                    `json:"accessTokenExpiry"`
	ActorID           *uuid.UUID                   `json:"actorId,omitempty"`
}

func (e VerificationRejected) EventName() string { return NameVerificationRejected }

// VerificationReassigned is published when the assigned reviewer changes.
type VerificationReassigned struct {
	BaseEvent
	CaseID     uuid.UUID  `json:"caseId"`
	Reference  string     `json:"reference"`
	Status     string     `json:"status"`
	FromUserID *uuid.UUID `json:"fromUserId,omitempty"`
	ToUserID   *uuid.UUID `json:"toUserId,omitempty"`
	ActorID    *uuid.UUID `json:"actorId,omitempty"`
}

func (e VerificationReassigned) EventName() string { return NameVerificationReassigned }

// EvidenceRecorded is published when the customer confirms an uploaded photo.
type EvidenceRecorded struct {
	BaseEvent
	CaseID     uuid.UUID `json:"caseId"`
	Status     string    `json:"status"`
	CategoryID string    `json:"categoryId"`
	FieldID    string    `json:"fieldId"`
	StorageKey string    `json:"storageKey"`
	HasGPS     bool      `json:"hasGps"`
}

func (e EvidenceRecorded) EventName() string { return NameEvidenceRecorded }
