package repository

import (
	"context"

	"pipeline_backend/internal/pipeline/domain"

	"github.com/google/uuid"
)

func (r *Repository) ListStages(ctx context.Context, userID uuid.UUID) ([]domain.Stage, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, user_id, name, sort_order, description, created_at, updated_at
		FROM stages
		WHERE user_id = $1
		ORDER BY sort_order ASC, id ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Stage, 0)
	for rows.Next() {
		var s domain.Stage
		if err := rows.Scan(&s.ID, &s.UserID, &s.Name, &s.Order, &s.Description, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, s)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return items, nil
}

func (r *Repository) GetStage(ctx context.Context, userID, stageID uuid.UUID) (domain.Stage, error) {
	var s domain.Stage
	err := r.q.QueryRow(ctx, `
		SELECT id, user_id, name, sort_order, description, created_at, updated_at
		FROM stages
		WHERE id = $1 AND user_id = $2
	`, stageID, userID).Scan(&s.ID, &s.UserID, &s.Name, &s.Order, &s.Description, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return domain.Stage{}, notFound(err)
	}
	return s, nil
}

func (r *Repository) GetContact(ctx context.Context, userID, contactID uuid.UUID) (domain.Contact, error) {
	var c domain.Contact
	err := r.q.QueryRow(ctx, `
		SELECT id, user_id, display_name
		FROM contacts
		WHERE id = $1 AND user_id = $2
	`, contactID, userID).Scan(&c.ID, &c.UserID, &c.DisplayName)
	if err != nil {
		return domain.Contact{}, notFound(err)
	}
	return c, nil
}
