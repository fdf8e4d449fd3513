// Package notification provides event handlers that tell customers about
// their verification by email: the initial link, correction requests after a
// revisable rejection, and the final rejection notice.
// Domain modules publish events and never talk to the mail provider.
package notification

import (
	"context"
	"fmt"

	"verification_backend/internal/adapters/linktoken"
	"verification_backend/internal/email"
	"verification_backend/internal/events"
	"verification_backend/platform/config"
	"verification_backend/platform/logger"
	"verification_backend/platform/qrcode"
)

// Module sends customer notifications in response to verification events.
type Module struct {
	sender     email.Sender
	publicBase string
	log        *logger.Logger
}

// New creates the notification module.
func New(sender email.Sender, cfg config.NotificationConfig, log *logger.Logger) *Module {
	return &Module{
		sender:     sender,
		publicBase: cfg.GetPublicLinkBaseURL(),
		log:        log,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string { return "notification" }

// RegisterHandlers subscribes to the events that reach the customer.
func (m *Module) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.VerificationCreated{}.EventName(), m)
	bus.Subscribe(events.VerificationRejected{}.EventName(), m)
}

// Handle routes events to the appropriate handler method.
func (m *Module) Handle(ctx context.Context, event events.Event) error {
	switch e := event.(type) {
	case events.VerificationCreated:
		return m.handleVerificationCreated(ctx, e)
	case events.VerificationRejected:
		return m.handleVerificationRejected(ctx, e)
	default:
		return nil
	}
}

func (m *Module) handleVerificationCreated(ctx context.Context, e events.VerificationCreated) error {
	if e.Customer.Email == "" {
		m.log.Warn("verification created without customer email; link not sent", "caseId", e.CaseID)
		return nil
	}

	link, err := m.linkEmail(e.Customer.Name, e.Reference, e.AccessToken, e)
	if err != nil {
		return err
	}
	if err := m.sender.SendVerificationLinkEmail(ctx, e.Customer.Email, link); err != nil {
		return fmt.Errorf("send verification link for %s: %w", e.Reference, err)
	}
	m.log.Info("verification link sent", "caseId", e.CaseID, "reference", e.Reference)
	return nil
}

func (m *Module) handleVerificationRejected(ctx context.Context, e events.VerificationRejected) error {
	if e.Customer.Email == "" {
		m.log.Warn("verification rejected without customer email; customer not notified", "caseId", e.CaseID)
		return nil
	}

	if e.Permanent {
		if err := m.sender.SendVerificationRejectedEmail(ctx, e.Customer.Email, e.Customer.Name, e.Reference); err != nil {
			return fmt.Errorf("send rejection notice for %s: %w", e.Reference, err)
		}
		m.log.Info("final rejection notice sent", "caseId", e.CaseID, "reference", e.Reference)
		return nil
	}

	link, err := m.linkEmail(e.Customer.Name, e.Reference, e.AccessToken, e)
	if err != nil {
		return err
	}

	items := make([]email.RevisionItem, 0, len(e.Flagged))
	for _, f := range e.Flagged {
		items = append(items, email.RevisionItem{
			Category: firstNonEmpty(f.CategoryTitle, f.CategoryID),
			Field:    firstNonEmpty(f.FieldLabel, f.FieldID),
			Reason:   f.Reason,
		})
	}

	attemptsLeft := 0
	if e.MaxAttempts > 0 {
		attemptsLeft = max(e.MaxAttempts-e.RejectionCount-1, 0)
	}

	err = m.sender.SendRevisionRequestEmail(ctx, e.Customer.Email, email.RevisionEmail{
		LinkEmail:    link,
		Attempt:      e.RejectionCount,
		AttemptsLeft: attemptsLeft,
		Items:        items,
	})
	if err != nil {
		return fmt.Errorf("send revision request for %s: %w", e.Reference, err)
	}
	m.log.Info("revision request sent", "caseId", e.CaseID, "reference", e.Reference, "rejectionCount", e.RejectionCount)
	return nil
}

// linkEmail builds the link and its QR code. A QR failure only drops the image.
func (m *Module) linkEmail(name, reference, token string, event events.Event) (email.LinkEmail, error) {
	url, err := linktoken.BuildLink(m.publicBase, token)
	if err != nil {
		return email.LinkEmail{}, err
	}

	png, err := qrcode.PNG(url, qrcode.DefaultSize)
	if err != nil {
		m.log.Warn("failed to render link QR code", "event", event.EventName(), "error", err)
		png = nil
	}

	link := email.LinkEmail{
		CustomerName: name,
		Reference:    reference,
		LinkURL:      url,
		QRCode:       png,
	}
	switch e := event.(type) {
	case events.VerificationCreated:
		link.ExpiresAt = e.AccessTokenExpiry
	case events.VerificationRejected:
		link.ExpiresAt = e.AccessTokenExpiry
	}
	return link, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
