// Package session persists conversations and their message history in
// PostgreSQL.
package session

import (
	"errors"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
)

// ErrNotFound is returned when a conversation does not exist.
var ErrNotFound = errors.New("conversation not found")

// Conversation groups the messages of one support exchange under a user.
type Conversation struct {
	ID        uuid.UUID
	Username  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is a single stored conversation message. Content holds Genkit's
// ai.Part slice, serialized as JSONB in the database.
type Message struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	Role           string
	Content        []*ai.Part
	SequenceNumber int32
	CreatedAt      time.Time
}

// Stats reports knowledge about stored conversations.
type Stats struct {
	Conversations int64
	Messages      int64
}
