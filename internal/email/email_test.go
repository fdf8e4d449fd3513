package email

import (
	"strings"
	"testing"
	"time"
)

func TestRenderLinkEmail(t *testing.T) {
	content, inline, err := renderLinkEmail(LinkEmail{
		CustomerName: "Ada <script>",
		Reference:    "VRF-2026-000007",
		LinkURL:      "https://verify.example.com/verify/tok",
		ExpiresAt:    time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC),
		QRCode:       []byte{0x89, 'P', 'N', 'G'},
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	for _, want := range []string{
		"VRF-2026-000007",
		"https://verify.example.com/verify/tok",
		"1 May 2026 10:00 UTC",
		"cid:" + qrContentID,
		"Ada &lt;script&gt;",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("expected rendered email to contain %q", want)
		}
	}
	if len(inline) != 1 || inline[0].ContentID != qrContentID {
		t.Fatalf("expected the QR code to be embedded, got %+v", inline)
	}
}

func TestRenderLinkEmailWithoutQRCode(t *testing.T) {
	content, inline, err := renderLinkEmail(LinkEmail{CustomerName: "Ada", Reference: "R", LinkURL: "https://x.test/verify/t"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if len(inline) != 0 || strings.Contains(content, "cid:") {
		t.Fatalf("expected no QR code reference")
	}
}

func TestRenderRevisionEmail(t *testing.T) {
	content, _, err := renderRevisionEmail(RevisionEmail{
		LinkEmail:    LinkEmail{CustomerName: "Ada", Reference: "VRF-2026-000007", LinkURL: "https://x.test/verify/new"},
		Attempt:      3,
		AttemptsLeft: 0,
		Items:        []RevisionItem{{Category: "Exterior", Field: "Swimming pool", Reason: "Photo is blurry"}},
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	for _, want := range []string{"Photo is blurry", "correction round 3", "last attempt"} {
		if !strings.Contains(content, want) {
			t.Errorf("expected rendered email to contain %q", want)
		}
	}
}

func TestBuildMessageEmbedsQRCode(t *testing.T) {
	s := NewSMTPSender("smtp.test", 587, "u", "p", "noreply@example.com", "Verification")
	msg, err := s.buildMessage("ada@example.com", "subject", "<p>hi</p>", qrAttachment([]byte{1, 2, 3})...)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if got := len(msg.GetEmbeds()); got != 1 {
		t.Fatalf("expected 1 embedded file, got %d", got)
	}
}

func TestBuildMessageRejectsInvalidRecipient(t *testing.T) {
	s := NewSMTPSender("smtp.test", 587, "u", "p", "noreply@example.com", "Verification")
	if _, err := s.buildMessage("not an address", "subject", "<p>hi</p>"); err == nil {
		t.Fatal("expected invalid recipient to fail")
	}
}
