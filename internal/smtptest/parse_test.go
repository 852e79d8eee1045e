package smtptest

import (
	"strings"
	"testing"
)

func TestParse_PlainText(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: Sender <sender@example.com>",
		"To: recipient@example.com",
		"Subject: Test Subject",
		"Message-Id: <test123@example.com>",
		"Content-Type: text/plain",
		"",
		"Hello, this is a plain text email.",
	}, "\r\n"))

	msg, err := parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.From != "Sender <sender@example.com>" {
		t.Errorf("From: got %q", msg.From)
	}
	if len(msg.To) != 1 || msg.To[0] != "recipient@example.com" {
		t.Errorf("To: got %v, want [recipient@example.com]", msg.To)
	}
	if msg.Subject != "Test Subject" {
		t.Errorf("Subject: got %q, want %q", msg.Subject, "Test Subject")
	}
	if msg.MessageID != "<test123@example.com>" {
		t.Errorf("MessageID: got %q, want %q", msg.MessageID, "<test123@example.com>")
	}
	if msg.TextBody != "Hello, this is a plain text email." {
		t.Errorf("TextBody: got %q", msg.TextBody)
	}
	if msg.HTMLBody != "" {
		t.Errorf("HTMLBody: got %q, want empty", msg.HTMLBody)
	}
}

func TestParse_QuotedPrintableBody(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"Subject: =?UTF-8?q?Caf=C3=A9?=",
		"Content-Type: text/plain; charset=UTF-8",
		"Content-Transfer-Encoding: quoted-printable",
		"",
		"caf=C3=A9 au lait, a soft=",
		" break",
	}, "\r\n"))

	msg, err := parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.Subject != "Café" {
		t.Errorf("Subject: got %q, want %q", msg.Subject, "Café")
	}
	if msg.TextBody != "café au lait, a soft break" {
		t.Errorf("TextBody: got %q", msg.TextBody)
	}
}

func TestParse_MultipartAlternative(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: alice@example.com, Bob <bob@example.com>",
		"Subject: Multipart Test",
		"Content-Type: multipart/alternative; boundary=boundary123",
		"",
		"--boundary123",
		"Content-Type: text/plain",
		"Content-Transfer-Encoding: quoted-printable",
		"",
		"Plain text =3D body",
		"--boundary123",
		"Content-Type: text/html",
		"Content-Transfer-Encoding: base64",
		"",
		"PHA+SFRNTCBib2R5PC9wPg==",
		"--boundary123--",
	}, "\r\n"))

	msg, err := parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(msg.To) != 2 || msg.To[1] != "bob@example.com" {
		t.Errorf("To: got %v", msg.To)
	}
	if msg.TextBody != "Plain text = body" {
		t.Errorf("TextBody: got %q, want %q", msg.TextBody, "Plain text = body")
	}
	if msg.HTMLBody != "<p>HTML body</p>" {
		t.Errorf("HTMLBody: got %q, want %q", msg.HTMLBody, "<p>HTML body</p>")
	}
}

func TestParse_NestedMultipart(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"Subject: Nested Multipart",
		"Content-Type: multipart/mixed; boundary=outer",
		"",
		"--outer",
		"Content-Type: multipart/alternative; boundary=inner",
		"",
		"--inner",
		"Content-Type: text/plain",
		"",
		"Plain text part",
		"--inner",
		"Content-Type: text/html",
		"",
		"<p>HTML part</p>",
		"--inner--",
		"--outer",
		"Content-Type: application/octet-stream; name=\"data.bin\"",
		"",
		"binarydata",
		"--outer--",
	}, "\r\n"))

	msg, err := parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.TextBody != "Plain text part" {
		t.Errorf("TextBody: got %q, want %q", msg.TextBody, "Plain text part")
	}
	if msg.HTMLBody != "<p>HTML part</p>" {
		t.Errorf("HTMLBody: got %q, want %q", msg.HTMLBody, "<p>HTML part</p>")
	}
}

func TestParse_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
	}{
		{name: "missing boundary", raw: "Content-Type: multipart/mixed\r\n\r\nbody"},
		{name: "bad content type", raw: "Content-Type: ;;;\r\n\r\nbody"},
		{name: "bad base64", raw: "Content-Transfer-Encoding: base64\r\n\r\n!!!"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := parse([]byte(tt.raw)); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestParseAddressList(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want []string
	}{
		{raw: "", want: nil},
		{raw: "a@example.com", want: []string{"a@example.com"}},
		{raw: "A <a@example.com>, b@example.com", want: []string{"a@example.com", "b@example.com"}},
		{raw: "not valid, also@", want: []string{"not valid", "also@"}},
	}

	for _, tt := range tests {
		got := parseAddressList(tt.raw)
		if strings.Join(got, "|") != strings.Join(tt.want, "|") {
			t.Errorf("parseAddressList(%q): got %v, want %v", tt.raw, got, tt.want)
		}
	}
}
