package mailer

import "time"

// Delivery lifecycle states reported by the email API.
const (
	StatusQueued     = "queued"
	StatusSent       = "sent"
	StatusDelivered  = "delivered"
	StatusBounced    = "bounced"
	StatusComplained = "complained"

	// StatusNotFound is synthesized by the client when the API returns 404
	// for an email ID; it is not a wire status.
	StatusNotFound = "not_found"
)

// SendRequest is the payload for sending a transactional email.
type SendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

// SendResult is the API response for a successful send.
type SendResult struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Email is the API representation of a sent email.
type Email struct {
	ID          string       `json:"id"`
	From        string       `json:"from"`
	To          []string     `json:"to"`
	Subject     string       `json:"subject"`
	Status      string       `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment describes a file attached to a sent email.
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	URL         string `json:"url"`
}

// ListOptions filters the List operation.
type ListOptions struct {
	Limit  int    // default 20, max 100
	Offset int    // default 0
	Status string // optional lifecycle state filter
}

// listResponse is the wire envelope for GET /emails.
type listResponse struct {
	Data []Email `json:"data"`
}
