package repository

import (
	"context"
	"time"

	"pipeline_backend/internal/pipeline/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const conversationColumns = `id, user_id, contact_id, opportunity_id, stage_id, category_id, channel,
	last_message_at, last_message_side, last_message_snippet, is_out_of_sync, auto_followups_enabled,
	created_at, updated_at`

const conversationColumnsC = `c.id, c.user_id, c.contact_id, c.opportunity_id, c.stage_id, c.category_id, c.channel,
	c.last_message_at, c.last_message_side, c.last_message_snippet, c.is_out_of_sync, c.auto_followups_enabled,
	c.created_at, c.updated_at`

// followupCandidateFilter mirrors the storage-side part of the follow-up
// eligibility rules. $1 is the staleness cutoff.
const followupCandidateFilter = `
	c.last_message_side = 'user'
	AND c.last_message_at <= $1
	AND c.auto_followups_enabled IS DISTINCT FROM false
	AND (o.id IS NULL OR o.auto_followups_enabled IS DISTINCT FROM false)`

func scanConversation(row scanner) (domain.Conversation, error) {
	var (
		c       domain.Conversation
		side    *string
		enabled *bool
	)
	err := row.Scan(
		&c.ID, &c.UserID, &c.ContactID, &c.OpportunityID, &c.StageID, &c.CategoryID, &c.Channel,
		&c.LastMessageAt, &side, &c.LastMessageSnippet, &c.IsOutOfSync, &enabled,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return domain.Conversation{}, err
	}
	if side != nil {
		s := domain.Side(*side)
		c.LastMessageSide = &s
	}
	c.AutoFollowups = domain.FlagFromPtr(enabled)
	return c, nil
}

func collectConversations(rows pgx.Rows) ([]domain.Conversation, error) {
	defer rows.Close()

	items := make([]domain.Conversation, 0)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return items, nil
}

func (r *Repository) GetConversation(ctx context.Context, userID, conversationID uuid.UUID) (domain.Conversation, error) {
	c, err := scanConversation(r.q.QueryRow(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE id = $1 AND user_id = $2
	`, conversationID, userID))
	if err != nil {
		return domain.Conversation{}, notFound(err)
	}
	return c, nil
}

// LockConversation takes a row lock; outside a transaction the lock is
// released as soon as the statement finishes.
func (r *Repository) LockConversation(ctx context.Context, userID, conversationID uuid.UUID) (domain.Conversation, error) {
	c, err := scanConversation(r.q.QueryRow(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE id = $1 AND user_id = $2
		FOR UPDATE
	`, conversationID, userID))
	if err != nil {
		return domain.Conversation{}, notFound(err)
	}
	return c, nil
}

func (r *Repository) ListConversations(ctx context.Context, userID uuid.UUID) ([]domain.Conversation, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE user_id = $1
		ORDER BY last_message_at DESC NULLS LAST, id ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	return collectConversations(rows)
}

func (r *Repository) ListFollowupCandidates(ctx context.Context, userID uuid.UUID, cutoff time.Time) ([]domain.Conversation, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+conversationColumnsC+`
		FROM conversations c
		LEFT JOIN opportunities o ON o.id = c.opportunity_id
		WHERE `+followupCandidateFilter+`
			AND c.user_id = $2
		ORDER BY c.last_message_at ASC, c.id ASC
	`, cutoff, userID)
	if err != nil {
		return nil, err
	}
	return collectConversations(rows)
}

func (r *Repository) ListUsersWithFollowupCandidates(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	rows, err := r.q.Query(ctx, `
		SELECT DISTINCT c.user_id
		FROM conversations c
		LEFT JOIN opportunities o ON o.id = c.opportunity_id
		WHERE `+followupCandidateFilter+`
		ORDER BY c.user_id
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		users = append(users, id)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return users, nil
}

func (r *Repository) UpdateConversationSummary(ctx context.Context, conversationID uuid.UUID, summary domain.ConversationSummary) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE conversations
		SET last_message_at = $2, last_message_side = $3, last_message_snippet = $4, updated_at = now()
		WHERE id = $1
	`, conversationID, summary.LastMessageAt, string(summary.LastMessageSide), summary.LastMessageSnippet)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) SetOutOfSync(ctx context.Context, userID, conversationID uuid.UUID, outOfSync bool) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE conversations SET is_out_of_sync = $3
		WHERE id = $1 AND user_id = $2
	`, conversationID, userID, outOfSync)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
