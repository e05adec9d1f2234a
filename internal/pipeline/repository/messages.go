package repository

import (
	"context"

	"pipeline_backend/internal/pipeline/domain"

	"github.com/google/uuid"
)

const messageColumns = `m.id, m.conversation_id, m.sender, m.body, m.sent_at, m.source, m.status, m.created_at`

func scanMessage(row scanner) (domain.Message, error) {
	var (
		m      domain.Message
		sender string
		status string
	)
	if err := row.Scan(&m.ID, &m.ConversationID, &sender, &m.Body, &m.SentAt, &m.Source, &status, &m.CreatedAt); err != nil {
		return domain.Message{}, err
	}
	m.Sender = domain.Side(sender)
	m.Status = domain.MessageStatus(status)
	return m, nil
}

func (r *Repository) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]domain.Message, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages m
		WHERE m.conversation_id = $1
		ORDER BY m.sent_at ASC, m.created_at ASC
	`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return items, nil
}

func (r *Repository) GetMessage(ctx context.Context, userID, messageID uuid.UUID) (domain.Message, error) {
	m, err := scanMessage(r.q.QueryRow(ctx, `
		SELECT `+messageColumns+`
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
		WHERE m.id = $1 AND c.user_id = $2
	`, messageID, userID))
	if err != nil {
		return domain.Message{}, notFound(err)
	}
	return m, nil
}

func (r *Repository) InsertMessage(ctx context.Context, msg domain.NewMessage) (domain.Message, error) {
	return scanMessage(r.q.QueryRow(ctx, `
		INSERT INTO messages AS m (conversation_id, sender, body, sent_at, source, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+messageColumns,
		msg.ConversationID, string(msg.Sender), msg.Body, msg.SentAt, msg.Source, string(msg.Status),
	))
}

func (r *Repository) SetMessageStatus(ctx context.Context, userID, messageID uuid.UUID, status domain.MessageStatus) (domain.Message, error) {
	m, err := scanMessage(r.q.QueryRow(ctx, `
		UPDATE messages AS m SET status = $3
		FROM conversations c
		WHERE m.id = $1 AND c.id = m.conversation_id AND c.user_id = $2
		RETURNING `+messageColumns,
		messageID, userID, string(status),
	))
	if err != nil {
		return domain.Message{}, notFound(err)
	}
	return m, nil
}
