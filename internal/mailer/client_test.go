package mailer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ember0/ember/internal/log"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := New(Config{
		APIKey:  "test-key",
		BaseURL: srv.URL,
		From:    "onboarding@resend.dev",
		Logger:  log.NewNop(),
	})
	require.NoError(t, err)
	return client
}

func TestNew_MissingAPIKey(t *testing.T) {
	_, err := New(Config{BaseURL: "https://api.resend.com"})
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestSend(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/emails", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req SendRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "onboarding@resend.dev", req.From) // defaulted
		assert.Equal(t, []string{"user@example.com"}, req.To)
		assert.Equal(t, "Welcome", req.Subject)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(SendResult{ID: "em_123", Status: StatusQueued})
	})

	result, err := client.Send(context.Background(), SendRequest{
		To:      []string{"user@example.com"},
		Subject: "Welcome",
		HTML:    "<p>Hello</p>",
	})
	require.NoError(t, err)
	assert.Equal(t, "em_123", result.ID)
	assert.Equal(t, StatusQueued, result.Status)
}

func TestSend_NoRecipient(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		t.Error("request should not reach the API")
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := client.Send(context.Background(), SendRequest{Subject: "x"})
	assert.ErrorIs(t, err, ErrMissingRecipient)
}

func TestSend_APIError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"invalid from address"}`))
	})

	_, err := client.Send(context.Background(), SendRequest{
		To:      []string{"user@example.com"},
		Subject: "x",
	})
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
	assert.Contains(t, apiErr.Message, "invalid from")
}

func TestStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/emails/em_123", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Email{ID: "em_123", Status: StatusDelivered})
	})

	email, err := client.Status(context.Background(), "em_123")
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, email.Status)
}

func TestStatus_NotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	email, err := client.Status(context.Background(), "em_missing")
	require.NoError(t, err, "404 must not be an error for status lookups")
	assert.Equal(t, "em_missing", email.ID)
	assert.Equal(t, StatusNotFound, email.Status)
}

func TestAttachments(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Email{
			ID:     "em_123",
			Status: StatusDelivered,
			Attachments: []Attachment{
				{Filename: "invoice.pdf", ContentType: "application/pdf", Size: 2 * 1024 * 1024, URL: "https://files.example.com/invoice.pdf"},
			},
		})
	})

	atts, err := client.Attachments(context.Background(), "em_123")
	require.NoError(t, err)
	require.Len(t, atts, 1)
	assert.Equal(t, "invoice.pdf", atts[0].Filename)
}

func TestAttachments_NotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	atts, err := client.Attachments(context.Background(), "em_missing")
	require.NoError(t, err, "404 must yield an empty list, not an error")
	assert.Empty(t, atts)
	assert.NotNil(t, atts)
}

func TestList(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "50", q.Get("limit"))
		assert.Equal(t, "10", q.Get("offset"))
		assert.Equal(t, StatusBounced, q.Get("status"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(listResponse{Data: []Email{
			{ID: "em_2", Status: StatusBounced},
			{ID: "em_1", Status: StatusBounced},
		}})
	})

	emails, err := client.List(context.Background(), ListOptions{Limit: 50, Offset: 10, Status: StatusBounced})
	require.NoError(t, err)
	require.Len(t, emails, 2)
	assert.Equal(t, "em_2", emails[0].ID)
}

func TestList_LimitBounds(t *testing.T) {
	var gotLimit string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotLimit = r.URL.Query().Get("limit")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[]}`))
	})

	_, err := client.List(context.Background(), ListOptions{})
	require.NoError(t, err)
	assert.Equal(t, "20", gotLimit, "zero limit uses the default")

	_, err = client.List(context.Background(), ListOptions{Limit: 500})
	require.NoError(t, err)
	assert.Equal(t, "100", gotLimit, "limit is clamped to the API ceiling")
}
