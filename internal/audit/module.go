// Package audit records every verification lifecycle event in an append-only
// trail and exposes it to staff. It only listens to the event bus; a failed
// write is logged by the bus and never fails the transition that caused it.
package audit

import (
	"context"
	"net/http"

	"verification_backend/internal/events"
	apphttp "verification_backend/internal/http"
	"verification_backend/platform/httpkit"
	"verification_backend/platform/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const msgInvalidID = "invalid id"

// Module is the audit module implementing http.Module.
type Module struct {
	store Store
	log   *logger.Logger
}

// New creates the audit module over store.
func New(store Store, log *logger.Logger) *Module {
	return &Module{store: store, log: log}
}

// Name returns the module identifier.
func (m *Module) Name() string { return "audit" }

// RegisterHandlers subscribes to every verification event.
func (m *Module) RegisterHandlers(bus events.Bus) {
	for _, name := range []string{
		events.NameVerificationCreated,
		events.NameVerificationStatusChanged,
		events.NameVerificationRejected,
		events.NameVerificationReassigned,
		events.NameEvidenceRecorded,
	} {
		bus.Subscribe(name, m)
	}
}

// Handle converts an event into an audit entry.
func (m *Module) Handle(ctx context.Context, event events.Event) error {
	entry, ok := entryFor(event)
	if !ok {
		return nil
	}
	return m.store.Append(ctx, entry)
}

func entryFor(event events.Event) (Entry, bool) {
	entry := Entry{Event: event.EventName(), OccurredAt: event.OccurredAt()}

	switch e := event.(type) {
	case events.VerificationCreated:
		entry.CaseID = e.CaseID
		entry.ToStatus = strPtr("draft")
		entry.ActorID = e.ActorID
		entry.Details = map[string]any{
			"reference":         e.Reference,
			"policyType":        e.PolicyType,
			"accessTokenExpiry": e.AccessTokenExpiry,
		}
		if e.AssignedReviewerID != nil {
			entry.Details["assignedReviewerId"] = e.AssignedReviewerID.String()
		}
	case events.VerificationStatusChanged:
		entry.CaseID = e.CaseID
		entry.FromStatus = strPtr(e.From)
		entry.ToStatus = strPtr(e.To)
		entry.ActorID = e.ActorID
		entry.Details = map[string]any{"rejectionCount": e.RejectionCount}
	case events.VerificationRejected:
		entry.CaseID = e.CaseID
		entry.FromStatus = strPtr(e.From)
		entry.ToStatus = strPtr(e.To)
		entry.ActorID = e.ActorID
		entry.Details = map[string]any{
			"rejectionCount": e.RejectionCount,
			"permanent":      e.Permanent,
			"feedback":       e.Feedback,
		}
	case events.VerificationReassigned:
		entry.CaseID = e.CaseID
		entry.ActorID = e.ActorID
		entry.Details = map[string]any{"status": e.Status}
		if e.FromUserID != nil {
			entry.Details["fromReviewerId"] = e.FromUserID.String()
		}
		if e.ToUserID != nil {
			entry.Details["toReviewerId"] = e.ToUserID.String()
		}
	case events.EvidenceRecorded:
		entry.CaseID = e.CaseID
		entry.Details = map[string]any{
			"categoryId": e.CategoryID,
			"fieldId":    e.FieldID,
			"storageKey": e.StorageKey,
			"hasGps":     e.HasGPS,
		}
	default:
		return Entry{}, false
	}
	return entry, true
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// RegisterRoutes mounts the staff audit trail route.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Protected.GET("/verifications/:id/audit", m.list)
}

func (m *Module) list(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidID, nil)
		return
	}
	entries, err := m.store.ListByCase(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"items": entries})
}

var _ apphttp.Module = (*Module)(nil)
