package repository

import (
	"context"
	"fmt"
	"strings"

	"pipeline_backend/internal/pipeline/domain"
	"pipeline_backend/internal/pipeline/ports"

	"github.com/google/uuid"
)

type scanner interface {
	Scan(dest ...any) error
}

const opportunityColumns = `id, user_id, contact_id, stage_id, category_id, challenge_id, title, priority,
	next_action_type, next_action_due_at, notes, summary, auto_followups_enabled, created_at, updated_at`

func scanOpportunity(row scanner) (domain.Opportunity, error) {
	var (
		o        domain.Opportunity
		priority *string
		enabled  *bool
	)
	err := row.Scan(
		&o.ID, &o.UserID, &o.ContactID, &o.StageID, &o.CategoryID, &o.ChallengeID, &o.Title, &priority,
		&o.NextActionType, &o.NextActionDueAt, &o.Notes, &o.Summary, &enabled, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return domain.Opportunity{}, err
	}
	if priority != nil {
		p := domain.Priority(*priority)
		o.Priority = &p
	}
	o.AutoFollowups = domain.FlagFromPtr(enabled)
	return o, nil
}

func (r *Repository) GetOpportunity(ctx context.Context, userID, opportunityID uuid.UUID) (domain.Opportunity, error) {
	row := r.q.QueryRow(ctx, `
		SELECT `+opportunityColumns+`
		FROM opportunities
		WHERE id = $1 AND user_id = $2
	`, opportunityID, userID)
	o, err := scanOpportunity(row)
	if err != nil {
		return domain.Opportunity{}, notFound(err)
	}
	return o, nil
}

func (r *Repository) ListOpportunities(ctx context.Context, userID uuid.UUID, filter ports.OpportunityFilter) ([]domain.Opportunity, error) {
	var priority *string
	if filter.Priority != nil {
		p := string(*filter.Priority)
		priority = &p
	}
	search := strings.TrimSpace(filter.Search)

	rows, err := r.q.Query(ctx, `
		SELECT `+opportunityColumns+`
		FROM opportunities
		WHERE user_id = $1
			AND ($2::text IS NULL OR priority = $2)
			AND ($3::uuid IS NULL OR category_id = $3)
			AND ($4::uuid IS NULL OR challenge_id = $4)
			AND ($5 = '' OR title ILIKE '%' || $5 || '%' OR COALESCE(notes, '') ILIKE '%' || $5 || '%')
		ORDER BY updated_at DESC, id ASC
	`, userID, priority, filter.CategoryID, filter.ChallengeID, search)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Opportunity, 0)
	for rows.Next() {
		o, err := scanOpportunity(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, o)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return items, nil
}

func (r *Repository) UpdateOpportunity(ctx context.Context, userID, opportunityID uuid.UUID, patch domain.OpportunityPatch) (domain.Opportunity, error) {
	setClauses := []string{}
	args := []interface{}{}
	argIdx := 1

	add := func(column string, value interface{}) {
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", column, argIdx))
		args = append(args, value)
		argIdx++
	}

	if v, ok := patch.StageID.Get(); ok {
		add("stage_id", v)
	}
	if v, ok := patch.Title.Get(); ok {
		add("title", v)
	}
	if v, ok := patch.Priority.Get(); ok {
		var value *string
		if v != nil {
			s := string(*v)
			value = &s
		}
		add("priority", value)
	}
	if v, ok := patch.NextActionType.Get(); ok {
		add("next_action_type", v)
	}
	if v, ok := patch.NextActionDueAt.Get(); ok {
		add("next_action_due_at", v)
	}
	if v, ok := patch.Notes.Get(); ok {
		add("notes", v)
	}
	if v, ok := patch.Summary.Get(); ok {
		add("summary", v)
	}
	if v, ok := patch.AutoFollowups.Get(); ok {
		add("auto_followups_enabled", v.Ptr())
	}

	if len(setClauses) == 0 {
		return r.GetOpportunity(ctx, userID, opportunityID)
	}

	setClauses = append(setClauses, "updated_at = now()")
	args = append(args, opportunityID, userID)

	query := fmt.Sprintf(`
		UPDATE opportunities SET %s
		WHERE id = $%d AND user_id = $%d
		RETURNING %s
	`, strings.Join(setClauses, ", "), argIdx, argIdx+1, opportunityColumns)

	o, err := scanOpportunity(r.q.QueryRow(ctx, query, args...))
	if err != nil {
		return domain.Opportunity{}, notFound(err)
	}
	return o, nil
}

func (r *Repository) DeleteOpportunity(ctx context.Context, userID, opportunityID uuid.UUID) error {
	tag, err := r.q.Exec(ctx, `
		DELETE FROM opportunities WHERE id = $1 AND user_id = $2
	`, opportunityID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) ListConversationsForOpportunity(ctx context.Context, userID uuid.UUID, opp domain.Opportunity) ([]domain.Conversation, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE user_id = $1
			AND (opportunity_id = $2 OR (opportunity_id IS NULL AND contact_id = $3))
		ORDER BY created_at ASC, id ASC
	`, userID, opp.ID, opp.ContactID)
	if err != nil {
		return nil, err
	}
	return collectConversations(rows)
}

func (r *Repository) SetConversationStage(ctx context.Context, userID, opportunityID uuid.UUID, stageID *uuid.UUID) (int64, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE conversations SET stage_id = $3, updated_at = now()
		WHERE user_id = $1 AND opportunity_id = $2
	`, userID, opportunityID, stageID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *Repository) RecordStageTransition(ctx context.Context, t domain.StageTransition) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO opportunity_stage_transitions (user_id, opportunity_id, from_stage_id, to_stage_id, transitioned_at)
		VALUES ($1, $2, $3, $4, $5)
	`, t.UserID, t.OpportunityID, t.FromStageID, t.ToStageID, t.TransitionedAt)
	return err
}

func (r *Repository) ListStageTransitions(ctx context.Context, userID uuid.UUID) ([]domain.StageTransition, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, user_id, opportunity_id, from_stage_id, to_stage_id, transitioned_at
		FROM opportunity_stage_transitions
		WHERE user_id = $1
		ORDER BY transitioned_at ASC, id ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.StageTransition, 0)
	for rows.Next() {
		var t domain.StageTransition
		if err := rows.Scan(&t.ID, &t.UserID, &t.OpportunityID, &t.FromStageID, &t.ToStageID, &t.TransitionedAt); err != nil {
			return nil, err
		}
		items = append(items, t)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return items, nil
}
