package repository

import (
	"context"

	"pipeline_backend/internal/pipeline/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const signalColumns = `id, user_id, conversation_id, sender_name, snippet, email_received_at, created_at`

func scanSignal(row scanner) (domain.ExternalSignal, error) {
	var s domain.ExternalSignal
	err := row.Scan(&s.ID, &s.UserID, &s.ConversationID, &s.SenderName, &s.Snippet, &s.EmailReceivedAt, &s.CreatedAt)
	return s, err
}

func collectSignals(rows pgx.Rows) ([]domain.ExternalSignal, error) {
	defer rows.Close()

	items := make([]domain.ExternalSignal, 0)
	for rows.Next() {
		s, err := scanSignal(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return items, nil
}

func (r *Repository) ListSignalsForConversation(ctx context.Context, userID, conversationID uuid.UUID) ([]domain.ExternalSignal, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+signalColumns+`
		FROM external_signals
		WHERE user_id = $1 AND conversation_id = $2
		ORDER BY email_received_at DESC, id ASC
	`, userID, conversationID)
	if err != nil {
		return nil, err
	}
	return collectSignals(rows)
}

func (r *Repository) ListMatchedSignals(ctx context.Context, userID uuid.UUID) ([]domain.ExternalSignal, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+signalColumns+`
		FROM external_signals
		WHERE user_id = $1 AND conversation_id IS NOT NULL
		ORDER BY email_received_at DESC, id ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	return collectSignals(rows)
}

func (r *Repository) MatchSignal(ctx context.Context, userID, signalID, conversationID uuid.UUID) (domain.ExternalSignal, error) {
	s, err := scanSignal(r.q.QueryRow(ctx, `
		UPDATE external_signals SET conversation_id = $3
		WHERE id = $1 AND user_id = $2
		RETURNING `+signalColumns,
		signalID, userID, conversationID,
	))
	if err != nil {
		return domain.ExternalSignal{}, notFound(err)
	}
	return s, nil
}
