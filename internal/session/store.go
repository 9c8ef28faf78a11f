package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/ember0/ember/internal/log"
)

// DB is the subset of pgxpool.Pool the store needs.
// Defined by the consumer so tests can substitute pgxmock.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

const (
	createConversationSQL = `
INSERT INTO conversations (username)
VALUES ($1)
RETURNING id, username, created_at, updated_at`

	getConversationSQL = `
SELECT id, username, created_at, updated_at
FROM conversations
WHERE id = $1`

	listConversationsSQL = `
SELECT id, username, created_at, updated_at
FROM conversations
WHERE username = $1
ORDER BY updated_at DESC
LIMIT $2 OFFSET $3`

	deleteConversationSQL = `DELETE FROM conversations WHERE id = $1`

	lockConversationSQL = `SELECT id FROM conversations WHERE id = $1 FOR UPDATE`

	maxSequenceSQL = `
SELECT COALESCE(MAX(sequence_number), 0)
FROM conversation_messages
WHERE conversation_id = $1`

	insertMessageSQL = `
INSERT INTO conversation_messages (conversation_id, role, content, sequence_number)
VALUES ($1, $2, $3, $4)`

	touchConversationSQL = `UPDATE conversations SET updated_at = now() WHERE id = $1`

	listMessagesSQL = `
SELECT id, conversation_id, role, content, sequence_number, created_at
FROM conversation_messages
WHERE conversation_id = $1
ORDER BY sequence_number ASC
LIMIT $2 OFFSET $3`

	recentMessagesSQL = `
SELECT id, conversation_id, role, content, sequence_number, created_at
FROM conversation_messages
WHERE conversation_id = $1
ORDER BY sequence_number DESC
LIMIT $2`

	countConversationsSQL = `SELECT count(*) FROM conversations`
	countMessagesSQL      = `SELECT count(*) FROM conversation_messages`
)

// Store manages conversation persistence.
//
// Store is safe for concurrent use by multiple goroutines; concurrent
// appends to the same conversation serialize on a row lock.
type Store struct {
	db     DB
	logger log.Logger
}

// New creates a Store. A nil logger falls back to a nop logger.
func New(db DB, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{db: db, logger: logger}
}

// Create starts a new conversation for the given username.
func (s *Store) Create(ctx context.Context, username string) (*Conversation, error) {
	conv, err := scanConversation(s.db.QueryRow(ctx, createConversationSQL, username))
	if err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}
	s.logger.Debug("created conversation", "id", conv.ID, "username", username)
	return conv, nil
}

// Get retrieves a conversation by ID. Returns ErrNotFound when it does not
// exist.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	conv, err := scanConversation(s.db.QueryRow(ctx, getConversationSQL, uuidToPg(id)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting conversation %s: %w", id, err)
	}
	return conv, nil
}

// ListByUser returns a user's conversations ordered by most recently updated.
func (s *Store) ListByUser(ctx context.Context, username string, limit, offset int32) ([]*Conversation, error) {
	rows, err := s.db.Query(ctx, listConversationsSQL, username, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing conversations for %q: %w", username, err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning conversation row: %w", err)
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading conversation rows: %w", err)
	}
	return convs, nil
}

// Delete removes a conversation and all its messages (CASCADE). Returns
// ErrNotFound when the conversation does not exist.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, deleteConversationSQL, uuidToPg(id))
	if err != nil {
		return fmt.Errorf("deleting conversation %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	s.logger.Debug("deleted conversation", "id", id)
	return nil
}

// AppendMessages appends messages to a conversation, assigning contiguous
// sequence numbers. The whole append runs in one transaction with the
// conversation row locked, so concurrent appends cannot produce duplicate
// sequence numbers.
func (s *Store) AppendMessages(ctx context.Context, conversationID uuid.UUID, messages []*ai.Message) error {
	if len(messages) == 0 {
		return nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", rbErr)
		}
	}()

	pgID := uuidToPg(conversationID)

	var lockedID pgtype.UUID
	if err := tx.QueryRow(ctx, lockConversationSQL, pgID).Scan(&lockedID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("locking conversation %s: %w", conversationID, err)
	}

	var maxSeq int32
	if err := tx.QueryRow(ctx, maxSequenceSQL, pgID).Scan(&maxSeq); err != nil {
		return fmt.Errorf("reading max sequence: %w", err)
	}

	for i, msg := range messages {
		contentJSON, err := json.Marshal(msg.Content)
		if err != nil {
			return fmt.Errorf("marshaling message %d content: %w", i, err)
		}
		seq := maxSeq + int32(i) + 1 // #nosec G115 -- i is a loop index
		if _, err := tx.Exec(ctx, insertMessageSQL, pgID, string(msg.Role), contentJSON, seq); err != nil {
			return fmt.Errorf("inserting message %d: %w", i, err)
		}
	}

	if _, err := tx.Exec(ctx, touchConversationSQL, pgID); err != nil {
		return fmt.Errorf("updating conversation timestamp: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	s.logger.Debug("appended messages", "conversation_id", conversationID, "count", len(messages))
	return nil
}

// Messages returns a conversation's messages ordered by sequence number.
func (s *Store) Messages(ctx context.Context, conversationID uuid.UUID, limit, offset int32) ([]*Message, error) {
	rows, err := s.db.Query(ctx, listMessagesSQL, uuidToPg(conversationID), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing messages for %s: %w", conversationID, err)
	}
	return s.collectMessages(rows)
}

// History returns up to limit of the newest messages in chronological order,
// ready to seed a model request.
func (s *Store) History(ctx context.Context, conversationID uuid.UUID, limit int32) ([]*ai.Message, error) {
	rows, err := s.db.Query(ctx, recentMessagesSQL, uuidToPg(conversationID), limit)
	if err != nil {
		return nil, fmt.Errorf("loading history for %s: %w", conversationID, err)
	}
	messages, err := s.collectMessages(rows)
	if err != nil {
		return nil, err
	}

	// recentMessagesSQL returns newest first; the model wants oldest first.
	history := make([]*ai.Message, len(messages))
	for i, msg := range messages {
		history[len(messages)-1-i] = &ai.Message{
			Role:    ai.Role(msg.Role),
			Content: msg.Content,
		}
	}
	return history, nil
}

// Stats returns conversation and message totals.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	if err := s.db.QueryRow(ctx, countConversationsSQL).Scan(&stats.Conversations); err != nil {
		return Stats{}, fmt.Errorf("counting conversations: %w", err)
	}
	if err := s.db.QueryRow(ctx, countMessagesSQL).Scan(&stats.Messages); err != nil {
		return Stats{}, fmt.Errorf("counting messages: %w", err)
	}
	return stats, nil
}

func (s *Store) collectMessages(rows pgx.Rows) ([]*Message, error) {
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var (
			msg         Message
			id, convID  pgtype.UUID
			contentJSON []byte
			createdAt   pgtype.Timestamptz
		)
		if err := rows.Scan(&id, &convID, &msg.Role, &contentJSON, &msg.SequenceNumber, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		if err := json.Unmarshal(contentJSON, &msg.Content); err != nil {
			s.logger.Warn("skipping message with malformed content",
				"message_id", pgToUUID(id), "error", err)
			continue
		}
		msg.ID = pgToUUID(id)
		msg.ConversationID = pgToUUID(convID)
		msg.CreatedAt = createdAt.Time
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading message rows: %w", err)
	}
	return messages, nil
}

func scanConversation(row pgx.Row) (*Conversation, error) {
	var (
		conv                 Conversation
		id                   pgtype.UUID
		createdAt, updatedAt pgtype.Timestamptz
	)
	if err := row.Scan(&id, &conv.Username, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	conv.ID = pgToUUID(id)
	conv.CreatedAt = createdAt.Time
	conv.UpdatedAt = updatedAt.Time
	return &conv, nil
}

func uuidToPg(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

func pgToUUID(id pgtype.UUID) uuid.UUID {
	if !id.Valid {
		return uuid.Nil
	}
	return id.Bytes
}
