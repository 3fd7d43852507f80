package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/answerdhq/answerd/internal/conversation"
)

type conversationLog struct {
	db *sql.DB
}

var _ conversation.Log = (*conversationLog)(nil)

func (l *conversationLog) Ensure(ctx context.Context, sessionID, projectID, assistantID string) (*conversation.Conversation, error) {
	c := &conversation.Conversation{}
	err := l.db.QueryRowContext(ctx, `
		SELECT id, session_id, project_id, assistant_id, created_at
		FROM conversations WHERE session_id = ? AND assistant_id = ?`,
		sessionID, assistantID,
	).Scan(&c.ID, &c.SessionID, &c.ProjectID, &c.AssistantID, &c.CreatedAt)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("looking up conversation: %w", err)
	}

	c = &conversation.Conversation{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		ProjectID:   projectID,
		AssistantID: assistantID,
		CreatedAt:   time.Now().UTC(),
	}
	_, err = l.db.ExecContext(ctx, `
		INSERT INTO conversations (id, session_id, project_id, assistant_id, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id, assistant_id) DO NOTHING`,
		c.ID, c.SessionID, c.ProjectID, c.AssistantID, c.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}

	// A concurrent Ensure may have won the insert; read back the row
	// that actually stuck.
	err = l.db.QueryRowContext(ctx, `
		SELECT id, session_id, project_id, assistant_id, created_at
		FROM conversations WHERE session_id = ? AND assistant_id = ?`,
		sessionID, assistantID,
	).Scan(&c.ID, &c.SessionID, &c.ProjectID, &c.AssistantID, &c.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("reading back conversation: %w", err)
	}
	return c, nil
}

func (l *conversationLog) Append(ctx context.Context, m *conversation.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, context_used, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.Role, m.Content, boolToInt(m.ContextUsed), m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("appending message: %w", err)
	}
	return nil
}

func (l *conversationLog) Messages(ctx context.Context, conversationID string, limit int) ([]*conversation.Message, error) {
	query := `
		SELECT id, conversation_id, role, content, context_used, created_at
		FROM messages WHERE conversation_id = ? ORDER BY created_at, id`
	args := []any{conversationID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var messages []*conversation.Message
	for rows.Next() {
		m := &conversation.Message{}
		var contextUsed int
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &contextUsed, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		m.ContextUsed = contextUsed != 0
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
