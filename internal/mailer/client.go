// Package mailer is the client for the transactional email API.
//
// The API follows the Resend conventions: bearer authentication, JSON
// payloads, REST resources under /emails. The client deliberately maps two
// API edge cases to non-error results, matching how the agent tools consume
// it: a 404 on a status lookup yields StatusNotFound, and a 404 on an
// attachment listing yields an empty list.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/ember0/ember/internal/log"
)

const (
	// DefaultTimeout bounds every API call.
	DefaultTimeout = 30 * time.Second

	// DefaultListLimit is used when ListOptions.Limit is zero.
	DefaultListLimit = 20

	// MaxListLimit is the API's page size ceiling.
	MaxListLimit = 100
)

var (
	// ErrMissingAPIKey indicates the client was built without an API key.
	ErrMissingAPIKey = errors.New("mailer: API key is required")

	// ErrMissingRecipient indicates a send request without recipients.
	ErrMissingRecipient = errors.New("mailer: at least one recipient is required")
)

// APIError is a non-2xx response from the email API.
type APIError struct {
	StatusCode int
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("mailer: API error (HTTP %d)", e.StatusCode)
	}
	return fmt.Sprintf("mailer: API error (HTTP %d): %s", e.StatusCode, e.Message)
}

// Config configures a Client.
type Config struct {
	APIKey  string
	BaseURL string        // e.g. https://api.resend.com
	From    string        // default sender address
	Timeout time.Duration // zero uses DefaultTimeout
	Logger  log.Logger    // nil uses a nop logger
}

// Client calls the transactional email API.
// Client is safe for concurrent use.
type Client struct {
	http   *resty.Client
	from   string
	logger log.Logger
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetAuthToken(cfg.APIKey).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:   httpClient,
		from:   cfg.From,
		logger: logger,
	}, nil
}

// From returns the configured default sender address.
func (c *Client) From() string {
	return c.from
}

// Send sends an email. An empty From falls back to the configured default
// sender.
func (c *Client) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	if len(req.To) == 0 {
		return nil, ErrMissingRecipient
	}
	if req.From == "" {
		req.From = c.from
	}

	var result SendResult
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&result).
		SetError(&APIError{}).
		Post("/emails")
	if err != nil {
		return nil, fmt.Errorf("mailer: send request: %w", err)
	}
	if resp.IsError() {
		return nil, c.apiError(resp)
	}

	c.logger.Debug("email sent", "id", result.ID, "to", req.To, "subject", req.Subject)
	return &result, nil
}

// Status looks up the delivery state of a sent email.
// An unknown ID is not an error: the API's 404 maps to StatusNotFound.
func (c *Client) Status(ctx context.Context, id string) (*Email, error) {
	email, err := c.getEmail(ctx, id)
	if err != nil {
		return nil, err
	}
	if email == nil {
		return &Email{ID: id, Status: StatusNotFound}, nil
	}
	return email, nil
}

// Attachments lists the attachments of a sent email.
// An unknown ID yields an empty list, not an error.
func (c *Client) Attachments(ctx context.Context, id string) ([]Attachment, error) {
	email, err := c.getEmail(ctx, id)
	if err != nil {
		return nil, err
	}
	if email == nil {
		return []Attachment{}, nil
	}
	return email.Attachments, nil
}

// List returns sent emails, newest first.
func (c *Client) List(ctx context.Context, opts ListOptions) ([]Email, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	req := c.http.R().
		SetContext(ctx).
		SetQueryParam("limit", strconv.Itoa(limit)).
		SetQueryParam("offset", strconv.Itoa(max(opts.Offset, 0)))
	if opts.Status != "" {
		req.SetQueryParam("status", opts.Status)
	}

	var result listResponse
	resp, err := req.SetResult(&result).SetError(&APIError{}).Get("/emails")
	if err != nil {
		return nil, fmt.Errorf("mailer: list request: %w", err)
	}
	if resp.IsError() {
		return nil, c.apiError(resp)
	}

	return result.Data, nil
}

// getEmail fetches a single email; a 404 returns (nil, nil).
func (c *Client) getEmail(ctx context.Context, id string) (*Email, error) {
	var email Email
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&email).
		SetError(&APIError{}).
		SetPathParam("id", id).
		Get("/emails/{id}")
	if err != nil {
		return nil, fmt.Errorf("mailer: get email %q: %w", id, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		c.logger.Debug("email not found", "id", id)
		return nil, nil
	}
	if resp.IsError() {
		return nil, c.apiError(resp)
	}
	return &email, nil
}

func (c *Client) apiError(resp *resty.Response) error {
	apiErr, ok := resp.Error().(*APIError)
	if !ok || apiErr == nil {
		apiErr = &APIError{}
	}
	apiErr.StatusCode = resp.StatusCode()
	c.logger.Warn("email API error", "status", apiErr.StatusCode, "message", apiErr.Message)
	return apiErr
}
