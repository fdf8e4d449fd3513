package email

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"time"

	gomail "github.com/wneessen/go-mail"
)

const qrContentID = "verification-link-qr"

// SMTPSender implements the Sender interface using a direct SMTP connection via go-mail.
type SMTPSender struct {
	host      string
	port      int
	username  string
	password  string
	fromName  string
	fromEmail string
}

// NewSMTPSender creates a new SMTPSender with the given SMTP credentials.
func NewSMTPSender(host string, port int, username, password, fromEmail, fromName string) *SMTPSender {
	return &SMTPSender{
		host:      host,
		port:      port,
		username:  username,
		password:  password,
		fromName:  fromName,
		fromEmail: fromEmail,
	}
}

func (s *SMTPSender) buildMessage(toEmail, subject, htmlContent string, inline ...Attachment) (*gomail.Msg, error) {
	msg := gomail.NewMsg()
	if err := msg.FromFormat(s.fromName, s.fromEmail); err != nil {
		return nil, fmt.Errorf("smtp from: %w", err)
	}
	if err := msg.To(toEmail); err != nil {
		return nil, fmt.Errorf("smtp to: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextHTML, htmlContent)

	for _, att := range inline {
		if err := msg.EmbedReader(att.FileName, bytes.NewReader(att.Content), gomail.WithFileContentID(att.ContentID)); err != nil {
			return nil, fmt.Errorf("smtp embed %s: %w", att.FileName, err)
		}
	}
	return msg, nil
}

func (s *SMTPSender) send(ctx context.Context, toEmail, subject, htmlContent string, inline ...Attachment) error {
	msg, err := s.buildMessage(toEmail, subject, htmlContent, inline...)
	if err != nil {
		return err
	}

	client, err := gomail.NewClient(s.host,
		gomail.WithPort(s.port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(s.username),
		gomail.WithPassword(s.password),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(15*time.Second),
		gomail.WithDialContextFunc(func(dctx context.Context, _ string, addr string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(dctx, "tcp4", addr)
		}),
	)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}

	return nil
}

func (s *SMTPSender) SendVerificationLinkEmail(ctx context.Context, toEmail string, data LinkEmail) error {
	content, inline, err := renderLinkEmail(data)
	if err != nil {
		return err
	}
	return s.send(ctx, toEmail, fmt.Sprintf(subjectVerificationLinkFmt, data.Reference), content, inline...)
}

func (s *SMTPSender) SendRevisionRequestEmail(ctx context.Context, toEmail string, data RevisionEmail) error {
	content, inline, err := renderRevisionEmail(data)
	if err != nil {
		return err
	}
	return s.send(ctx, toEmail, fmt.Sprintf(subjectRevisionRequestFmt, data.Reference), content, inline...)
}

func (s *SMTPSender) SendVerificationRejectedEmail(ctx context.Context, toEmail, customerName, reference string) error {
	content, err := renderEmailTemplate("verification_rejected.html", rejectedEmailData{
		baseEmailData: baseEmailData{
			Title:   "Verification closed",
			Heading: "Your verification could not be completed",
		},
		CustomerName: customerName,
		Reference:    reference,
	})
	if err != nil {
		return err
	}
	return s.send(ctx, toEmail, fmt.Sprintf(subjectVerificationRejectFmt, reference), content)
}

func qrAttachment(png []byte) []Attachment {
	if len(png) == 0 {
		return nil
	}
	return []Attachment{{Content: png, FileName: "verification-link.png", ContentID: qrContentID}}
}
