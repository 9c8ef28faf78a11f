package tools

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ember0/ember/internal/mailer"
)

type mockMailer struct {
	sendResult  *mailer.SendResult
	sendErr     error
	lastSend    mailer.SendRequest
	email       *mailer.Email
	statusErr   error
	attachments []mailer.Attachment
	attachErr   error
}

func (m *mockMailer) Send(_ context.Context, req mailer.SendRequest) (*mailer.SendResult, error) {
	m.lastSend = req
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	return m.sendResult, nil
}

func (m *mockMailer) Status(_ context.Context, id string) (*mailer.Email, error) {
	if m.statusErr != nil {
		return nil, m.statusErr
	}
	if m.email != nil {
		return m.email, nil
	}
	return &mailer.Email{ID: id, Status: mailer.StatusNotFound}, nil
}

func (m *mockMailer) Attachments(_ context.Context, _ string) ([]mailer.Attachment, error) {
	if m.attachErr != nil {
		return nil, m.attachErr
	}
	return m.attachments, nil
}

func newTestEmail(t *testing.T, m *mockMailer) *Email {
	t.Helper()
	email, err := NewEmail(m, nil)
	if err != nil {
		t.Fatalf("NewEmail() failed: %v", err)
	}
	return email
}

func TestNewEmail_RequiresMailer(t *testing.T) {
	if _, err := NewEmail(nil, nil); err == nil {
		t.Fatal("NewEmail(nil) should fail")
	}
}

func TestSendEmail(t *testing.T) {
	m := &mockMailer{sendResult: &mailer.SendResult{ID: "em_123", Status: mailer.StatusQueued}}
	email := newTestEmail(t, m)

	out, err := email.SendEmail(context.Background(), SendEmailInput{
		To:      "  user@example.com ",
		Subject: "Your setup guide",
		HTML:    "<p>Here you go.</p>",
	})
	if err != nil {
		t.Fatalf("SendEmail() failed: %v", err)
	}
	if out.ID != "em_123" || out.Status != mailer.StatusQueued {
		t.Errorf("SendEmail() = %+v", out)
	}
	if len(m.lastSend.To) != 1 || m.lastSend.To[0] != "user@example.com" {
		t.Errorf("recipient not trimmed: %v", m.lastSend.To)
	}
}

func TestSendEmail_Validation(t *testing.T) {
	email := newTestEmail(t, &mockMailer{})

	tests := []struct {
		name  string
		input SendEmailInput
	}{
		{"missing recipient", SendEmailInput{Subject: "s", HTML: "<p>x</p>"}},
		{"invalid recipient", SendEmailInput{To: "not-an-address", Subject: "s", HTML: "<p>x</p>"}},
		{"missing subject", SendEmailInput{To: "a@b.com", HTML: "<p>x</p>"}},
		{"oversized subject", SendEmailInput{To: "a@b.com", Subject: strings.Repeat("s", MaxSubjectLength+1), HTML: "<p>x</p>"}},
		{"missing body", SendEmailInput{To: "a@b.com", Subject: "s"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := email.SendEmail(context.Background(), tt.input)
			var toolErr *ToolError
			if !errors.As(err, &toolErr) {
				t.Fatalf("SendEmail() error = %v, want *ToolError", err)
			}
			if toolErr.ErrorType != "InvalidArguments" {
				t.Errorf("ErrorType = %q, want InvalidArguments", toolErr.ErrorType)
			}
		})
	}
}

func TestSendEmail_APIError(t *testing.T) {
	email := newTestEmail(t, &mockMailer{sendErr: errors.New("rate limit exceeded")})

	_, err := email.SendEmail(context.Background(), SendEmailInput{
		To: "a@b.com", Subject: "s", HTML: "<p>x</p>",
	})
	var toolErr *ToolError
	if !errors.As(err, &toolErr) || toolErr.ErrorType != "EmailAPIError" {
		t.Fatalf("SendEmail() error = %v, want EmailAPIError", err)
	}
}

func TestGetEmailStatus(t *testing.T) {
	tests := []struct {
		name            string
		status          string
		wantExplanation string
	}{
		{"delivered", mailer.StatusDelivered, "delivered to the recipient's mail server"},
		{"bounced", mailer.StatusBounced, "bounced"},
		{"not found", mailer.StatusNotFound, "No email exists"},
		{"unknown state", "delivery_delayed", `state "delivery_delayed"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			email := newTestEmail(t, &mockMailer{email: &mailer.Email{ID: "em_1", Status: tt.status}})
			out, err := email.GetEmailStatus(context.Background(), GetEmailStatusInput{EmailID: "em_1"})
			if err != nil {
				t.Fatalf("GetEmailStatus() failed: %v", err)
			}
			if out.Status != tt.status {
				t.Errorf("Status = %q, want %q", out.Status, tt.status)
			}
			if !strings.Contains(out.Explanation, tt.wantExplanation) {
				t.Errorf("Explanation = %q, want substring %q", out.Explanation, tt.wantExplanation)
			}
		})
	}
}

func TestGetEmailStatus_MissingID(t *testing.T) {
	email := newTestEmail(t, &mockMailer{})
	_, err := email.GetEmailStatus(context.Background(), GetEmailStatusInput{})
	var toolErr *ToolError
	if !errors.As(err, &toolErr) || toolErr.ErrorType != "InvalidArguments" {
		t.Fatalf("GetEmailStatus() error = %v, want InvalidArguments", err)
	}
}

func TestListEmailAttachments(t *testing.T) {
	email := newTestEmail(t, &mockMailer{attachments: []mailer.Attachment{
		{Filename: "guide.pdf", ContentType: "application/pdf", Size: 2 * 1024 * 1024, URL: "https://files.example.com/guide.pdf"},
		{Filename: "logo.png", ContentType: "image/png", Size: 512 * 1024},
	}})

	out, err := email.ListEmailAttachments(context.Background(), ListEmailAttachmentsInput{EmailID: "em_1"})
	if err != nil {
		t.Fatalf("ListEmailAttachments() failed: %v", err)
	}
	if out.Count != 2 {
		t.Fatalf("Count = %d, want 2", out.Count)
	}
	if out.Attachments[0].SizeMB != 2.0 {
		t.Errorf("SizeMB = %v, want 2.0", out.Attachments[0].SizeMB)
	}
	if out.Attachments[1].SizeMB != 0.5 {
		t.Errorf("SizeMB = %v, want 0.5", out.Attachments[1].SizeMB)
	}
}

func TestListEmailAttachments_Empty(t *testing.T) {
	email := newTestEmail(t, &mockMailer{attachments: []mailer.Attachment{}})

	out, err := email.ListEmailAttachments(context.Background(), ListEmailAttachmentsInput{EmailID: "em_1"})
	if err != nil {
		t.Fatalf("ListEmailAttachments() failed: %v", err)
	}
	if out.Count != 0 || out.Attachments == nil {
		t.Errorf("want empty non-nil attachment list, got %+v", out)
	}
}

func TestToolError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *ToolError
		want string
	}{
		{"nil", nil, "<nil ToolError>"},
		{"empty", &ToolError{}, "<empty ToolError>"},
		{"type only", &ToolError{ErrorType: "InvalidArguments"}, "InvalidArguments"},
		{"message only", &ToolError{Message: "oops"}, "oops"},
		{"both", &ToolError{ErrorType: "EmailAPIError", Message: "rate limited"}, "EmailAPIError: rate limited"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestToolNames(t *testing.T) {
	names := ToolNames()
	if len(names) != 3 {
		t.Fatalf("got %d tool names, want 3", len(names))
	}
	for _, want := range []string{SendEmailName, GetEmailStatusName, ListEmailAttachmentsName} {
		found := false
		for _, name := range names {
			if name == want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("tool %q missing from ToolNames()", want)
		}
	}
}
