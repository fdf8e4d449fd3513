package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

type baseEmailData struct {
	Title      string
	Heading    string
	Subheading string
	CTALabel   string
	CTAURL     string
	QRCodeCID  string
}

type linkEmailData struct {
	baseEmailData
	CustomerName string
	Reference    string
	ExpiresAt    string
}

type revisionEmailData struct {
	linkEmailData
	Attempt      int
	AttemptsLeft int
	Items        []RevisionItem
}

type rejectedEmailData struct {
	baseEmailData
	CustomerName string
	Reference    string
}

func renderEmailTemplate(name string, data any) (string, error) {
	templates := []string{"templates/base.html", "templates/" + name}
	tmpl, err := template.New("base.html").ParseFS(templateFS, templates...)
	if err != nil {
		return "", fmt.Errorf("parse email template %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "email", data); err != nil {
		return "", fmt.Errorf("execute email template %s: %w", name, err)
	}
	return buf.String(), nil
}

func newLinkEmailData(data LinkEmail, heading string) linkEmailData {
	d := linkEmailData{
		baseEmailData: baseEmailData{
			Title:    heading,
			Heading:  heading,
			CTALabel: "Open verification",
			CTAURL:   data.LinkURL,
		},
		CustomerName: data.CustomerName,
		Reference:    data.Reference,
		ExpiresAt:    formatExpiry(data.ExpiresAt),
	}
	if len(data.QRCode) > 0 {
		d.QRCodeCID = qrContentID
	}
	return d
}

func renderLinkEmail(data LinkEmail) (string, []Attachment, error) {
	content, err := renderEmailTemplate("verification_link.html", newLinkEmailData(data, "Complete your verification"))
	if err != nil {
		return "", nil, err
	}
	return content, qrAttachment(data.QRCode), nil
}

func renderRevisionEmail(data RevisionEmail) (string, []Attachment, error) {
	content, err := renderEmailTemplate("revision_request.html", revisionEmailData{
		linkEmailData: newLinkEmailData(data.LinkEmail, "Some items need another look"),
		Attempt:       data.Attempt,
		AttemptsLeft:  data.AttemptsLeft,
		Items:         data.Items,
	})
	if err != nil {
		return "", nil, err
	}
	return content, qrAttachment(data.QRCode), nil
}

func formatExpiry(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2 January 2006 15:04 MST")
}
