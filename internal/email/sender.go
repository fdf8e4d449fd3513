package email

import (
	"context"
	"time"

	"verification_backend/platform/config"
)

// Attachment represents an inline image embedded in an email.
type Attachment struct {
	Content   []byte // raw file bytes
	FileName  string // e.g. "verification-link.png"
	ContentID string // referenced from HTML as cid:<ContentID>
}

// LinkEmail is the content of a customer link message.
type LinkEmail struct {
	CustomerName string
	Reference    string
	LinkURL      string
	ExpiresAt    time.Time
	QRCode       []byte // optional PNG of LinkURL
}

// RevisionEmail asks the customer to correct flagged fields.
type RevisionEmail struct {
	LinkEmail
	Attempt      int
	AttemptsLeft int
	Items        []RevisionItem
}

// RevisionItem is one flagged field with the reviewer's reason.
type RevisionItem struct {
	Category string
	Field    string
	Reason   string
}

type Sender interface {
	SendVerificationLinkEmail(ctx context.Context, toEmail string, data LinkEmail) error
	SendRevisionRequestEmail(ctx context.Context, toEmail string, data RevisionEmail) error
	SendVerificationRejectedEmail(ctx context.Context, toEmail, customerName, reference string) error
}

type NoopSender struct{}

func (NoopSender) SendVerificationLinkEmail(ctx context.Context, toEmail string, data LinkEmail) error {
	return nil
}

func (NoopSender) SendRevisionRequestEmail(ctx context.Context, toEmail string, data RevisionEmail) error {
	return nil
}

func (NoopSender) SendVerificationRejectedEmail(ctx context.Context, toEmail, customerName, reference string) error {
	return nil
}

// NewSender returns the SMTP sender, or a no-op sender when email is disabled.
func NewSender(cfg config.EmailConfig) (Sender, error) {
	if !cfg.GetEmailEnabled() {
		return NoopSender{}, nil
	}

	return NewSMTPSender(
		cfg.GetSMTPHost(),
		cfg.GetSMTPPort(),
		cfg.GetSMTPUsername(),
		cfg.GetSMTPPassword(),
		cfg.GetEmailFromAddress(),
		cfg.GetEmailFromName(),
	), nil
}
