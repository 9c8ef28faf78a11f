package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/ember0/ember/internal/log"
	"github.com/ember0/ember/internal/mailer"
)

// Tool name constants for email operations registered with Genkit.
const (
	// SendEmailName is the Genkit tool name for sending an email.
	SendEmailName = "send_email"
	// GetEmailStatusName is the Genkit tool name for checking delivery status.
	GetEmailStatusName = "get_email_status"
	// ListEmailAttachmentsName is the Genkit tool name for listing attachments.
	ListEmailAttachmentsName = "list_email_attachments"
)

// MaxSubjectLength caps email subjects to a sane header size.
const MaxSubjectLength = 255

// statusExplanations maps delivery statuses to plain-language descriptions
// the model can relay to the user.
var statusExplanations = map[string]string{
	mailer.StatusQueued:     "The email is queued and will be sent shortly.",
	mailer.StatusSent:       "The email was sent and is awaiting delivery confirmation.",
	mailer.StatusDelivered:  "The email was delivered to the recipient's mail server.",
	mailer.StatusBounced:    "The email bounced. The recipient address may be invalid or the mailbox full.",
	mailer.StatusComplained: "The recipient marked the email as spam. Avoid emailing this address again.",
	mailer.StatusNotFound:   "No email exists with this ID. Double-check the email ID.",
}

// SendEmailInput is the model-facing input for send_email.
type SendEmailInput struct {
	To      string `json:"to" jsonschema_description:"Recipient email address"`
	Subject string `json:"subject" jsonschema_description:"Email subject line"`
	HTML    string `json:"html" jsonschema_description:"HTML body of the email"`
}

// SendEmailOutput reports the queued email.
type SendEmailOutput struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// GetEmailStatusInput identifies the email to look up.
type GetEmailStatusInput struct {
	EmailID string `json:"email_id" jsonschema_description:"ID returned by send_email"`
}

// GetEmailStatusOutput carries the delivery status with an explanation.
type GetEmailStatusOutput struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Explanation string `json:"explanation"`
}

// ListEmailAttachmentsInput identifies the email whose attachments to list.
type ListEmailAttachmentsInput struct {
	EmailID string `json:"email_id" jsonschema_description:"ID of the email to inspect"`
}

// AttachmentInfo describes one attachment in model-friendly units.
type AttachmentInfo struct {
	Filename    string  `json:"filename"`
	ContentType string  `json:"content_type"`
	SizeMB      float64 `json:"size_mb"`
	URL         string  `json:"url,omitempty"`
}

// ListEmailAttachmentsOutput lists an email's attachments.
type ListEmailAttachmentsOutput struct {
	EmailID     string           `json:"email_id"`
	Count       int              `json:"count"`
	Attachments []AttachmentInfo `json:"attachments"`
}

// Mailer is the subset of mailer.Client the email tools need.
// Defined by the consumer so tests can substitute a mock.
type Mailer interface {
	Send(ctx context.Context, req mailer.SendRequest) (*mailer.SendResult, error)
	Status(ctx context.Context, id string) (*mailer.Email, error)
	Attachments(ctx context.Context, id string) ([]mailer.Attachment, error)
}

// Email holds dependencies for the email tool handlers.
type Email struct {
	mailer Mailer
	logger log.Logger
}

// NewEmail creates an Email toolset. A nil logger falls back to a nop logger.
func NewEmail(m Mailer, logger log.Logger) (*Email, error) {
	if m == nil {
		return nil, fmt.Errorf("mailer is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Email{mailer: m, logger: logger}, nil
}

// SendEmail validates the input and sends one email through the provider.
func (e *Email) SendEmail(ctx context.Context, input SendEmailInput) (SendEmailOutput, error) {
	to := strings.TrimSpace(input.To)
	if to == "" {
		return SendEmailOutput{}, invalidArguments("recipient address is required")
	}
	if !strings.Contains(to, "@") {
		return SendEmailOutput{}, invalidArguments(fmt.Sprintf("%q is not a valid email address", to))
	}
	subject := strings.TrimSpace(input.Subject)
	if subject == "" {
		return SendEmailOutput{}, invalidArguments("subject is required")
	}
	if len(subject) > MaxSubjectLength {
		return SendEmailOutput{}, invalidArguments(fmt.Sprintf("subject exceeds %d characters", MaxSubjectLength))
	}
	if strings.TrimSpace(input.HTML) == "" {
		return SendEmailOutput{}, invalidArguments("html body is required")
	}

	result, err := e.mailer.Send(ctx, mailer.SendRequest{
		To:      []string{to},
		Subject: subject,
		HTML:    input.HTML,
	})
	if err != nil {
		e.logger.Warn("send_email failed", "to", to, "error", err)
		return SendEmailOutput{}, emailAPIError(err.Error())
	}

	e.logger.Info("sent email", "id", result.ID, "to", to)
	return SendEmailOutput{ID: result.ID, Status: result.Status}, nil
}

// GetEmailStatus looks up delivery status for a previously sent email.
// An unknown ID is reported as status "not_found" rather than an error, so
// the model can explain it to the user.
func (e *Email) GetEmailStatus(ctx context.Context, input GetEmailStatusInput) (GetEmailStatusOutput, error) {
	id := strings.TrimSpace(input.EmailID)
	if id == "" {
		return GetEmailStatusOutput{}, invalidArguments("email_id is required")
	}

	email, err := e.mailer.Status(ctx, id)
	if err != nil {
		e.logger.Warn("get_email_status failed", "id", id, "error", err)
		return GetEmailStatusOutput{}, emailAPIError(err.Error())
	}

	explanation, ok := statusExplanations[email.Status]
	if !ok {
		explanation = fmt.Sprintf("The email is in state %q.", email.Status)
	}
	return GetEmailStatusOutput{
		ID:          email.ID,
		Status:      email.Status,
		Explanation: explanation,
	}, nil
}

// ListEmailAttachments lists the attachments of a sent email. Emails without
// attachments return an empty list, not an error.
func (e *Email) ListEmailAttachments(ctx context.Context, input ListEmailAttachmentsInput) (ListEmailAttachmentsOutput, error) {
	id := strings.TrimSpace(input.EmailID)
	if id == "" {
		return ListEmailAttachmentsOutput{}, invalidArguments("email_id is required")
	}

	attachments, err := e.mailer.Attachments(ctx, id)
	if err != nil {
		e.logger.Warn("list_email_attachments failed", "id", id, "error", err)
		return ListEmailAttachmentsOutput{}, emailAPIError(err.Error())
	}

	infos := make([]AttachmentInfo, 0, len(attachments))
	for _, att := range attachments {
		infos = append(infos, AttachmentInfo{
			Filename:    att.Filename,
			ContentType: att.ContentType,
			SizeMB:      bytesToMB(att.Size),
			URL:         att.URL,
		})
	}
	return ListEmailAttachmentsOutput{
		EmailID:     id,
		Count:       len(infos),
		Attachments: infos,
	}, nil
}

// bytesToMB converts a byte count to megabytes rounded to two decimals.
func bytesToMB(size int64) float64 {
	mb := float64(size) / (1024 * 1024)
	return float64(int(mb*100+0.5)) / 100
}
