package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"

	"github.com/ember0/ember/internal/log"
	"github.com/ember0/ember/internal/session"
)

// Pagination and validation bounds for conversation endpoints.
const (
	MaxUsernameLength  = 100
	DefaultListLimit   = 20
	MaxListLimit       = 100
	DefaultMessageList = 50
	MaxMessageList     = 500
	MaxListOffset      = 100000
)

// ConversationStore is the subset of session.Store the handler needs.
type ConversationStore interface {
	Create(ctx context.Context, username string) (*session.Conversation, error)
	Get(ctx context.Context, id uuid.UUID) (*session.Conversation, error)
	ListByUser(ctx context.Context, username string, limit, offset int32) ([]*session.Conversation, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Messages(ctx context.Context, conversationID uuid.UUID, limit, offset int32) ([]*session.Message, error)
}

// ConversationHandler serves the conversation CRUD endpoints.
type ConversationHandler struct {
	store  ConversationStore
	logger log.Logger
}

// NewConversationHandler creates a conversation handler.
func NewConversationHandler(store ConversationStore, logger log.Logger) *ConversationHandler {
	return &ConversationHandler{store: store, logger: logger}
}

// RegisterRoutes registers conversation routes on the given mux.
func (h *ConversationHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/conversations", h.create)
	mux.HandleFunc("GET /api/conversations", h.list)
	mux.HandleFunc("GET /api/conversations/{id}", h.get)
	mux.HandleFunc("GET /api/conversations/{id}/messages", h.messages)
	mux.HandleFunc("DELETE /api/conversations/{id}", h.delete)
}

// conversationResponse is the JSON shape of a conversation.
type conversationResponse struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func toConversationResponse(c *session.Conversation) conversationResponse {
	return conversationResponse{
		ID:        c.ID.String(),
		Username:  c.Username,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

// messageResponse is the JSON shape of a conversation message. Text joins
// the textual parts of the stored content.
type messageResponse struct {
	ID             string    `json:"id"`
	Role           string    `json:"role"`
	Text           string    `json:"text"`
	SequenceNumber int32     `json:"sequenceNumber"`
	CreatedAt      time.Time `json:"createdAt"`
}

func toMessageResponse(m *session.Message) messageResponse {
	return messageResponse{
		ID:             m.ID.String(),
		Role:           m.Role,
		Text:           partsText(m.Content),
		SequenceNumber: m.SequenceNumber,
		CreatedAt:      m.CreatedAt,
	}
}

func partsText(parts []*ai.Part) string {
	var b strings.Builder
	for _, part := range parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}

// CreateConversationRequest is the request body for creating a conversation.
type CreateConversationRequest struct {
	Username string `json:"username"`
}

func (h *ConversationHandler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	username := strings.TrimSpace(req.Username)
	if username == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "username is required")
		return
	}
	if len(username) > MaxUsernameLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "username too long")
		return
	}

	conv, err := h.store.Create(r.Context(), username)
	if err != nil {
		h.logger.Error("failed to create conversation", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to create conversation")
		return
	}

	writeJSON(w, http.StatusCreated, toConversationResponse(conv))
}

func (h *ConversationHandler) list(w http.ResponseWriter, r *http.Request) {
	username := strings.TrimSpace(r.URL.Query().Get("username"))
	if username == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "username query parameter is required")
		return
	}

	limit := parseIntParam(r, "limit", DefaultListLimit, 1, MaxListLimit)
	offset := parseIntParam(r, "offset", 0, 0, MaxListOffset)

	// #nosec G115 -- bounded by MaxListLimit and MaxListOffset
	convs, err := h.store.ListByUser(r.Context(), username, int32(limit), int32(offset))
	if err != nil {
		h.logger.Error("failed to list conversations", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list conversations")
		return
	}

	out := make([]conversationResponse, 0, len(convs))
	for _, conv := range convs {
		out = append(out, toConversationResponse(conv))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversations": out,
		"total":         len(out),
		"limit":         limit,
		"offset":        offset,
	})
}

func (h *ConversationHandler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	conv, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "conversation not found")
			return
		}
		h.logger.Error("failed to get conversation", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to get conversation")
		return
	}

	writeJSON(w, http.StatusOK, toConversationResponse(conv))
}

func (h *ConversationHandler) messages(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	limit := parseIntParam(r, "limit", DefaultMessageList, 1, MaxMessageList)
	offset := parseIntParam(r, "offset", 0, 0, MaxListOffset)

	// #nosec G115 -- bounded by MaxMessageList and MaxListOffset
	msgs, err := h.store.Messages(r.Context(), id, int32(limit), int32(offset))
	if err != nil {
		h.logger.Error("failed to list messages", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list messages")
		return
	}

	out := make([]messageResponse, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, toMessageResponse(msg))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"messages": out,
		"total":    len(out),
		"limit":    limit,
		"offset":   offset,
	})
}

func (h *ConversationHandler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "conversation not found")
			return
		}
		h.logger.Error("failed to delete conversation", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to delete conversation")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// pathID parses the {id} path segment; on failure it writes a 400 and
// returns ok=false.
func (h *ConversationHandler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid conversation id")
		return uuid.Nil, false
	}
	return id, true
}

// parseIntParam parses an integer query parameter with bounds clamping.
func parseIntParam(r *http.Request, name string, defaultVal, minVal, maxVal int) int {
	str := r.URL.Query().Get(name)
	if str == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(str)
	if err != nil {
		return defaultVal
	}
	if val < minVal {
		return minVal
	}
	if val > maxVal {
		return maxVal
	}
	return val
}
