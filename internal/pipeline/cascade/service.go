// Package cascade moves opportunities between stages and keeps their linked
// conversations in step. It also owns the other opportunity mutations.
package cascade

import (
	"context"
	"errors"
	"time"

	"pipeline_backend/internal/events"
	"pipeline_backend/internal/pipeline/domain"
	"pipeline_backend/internal/pipeline/ports"
	"pipeline_backend/platform/apperr"
	"pipeline_backend/platform/logger"

	"github.com/google/uuid"
)

const (
	msgOpportunityNotFound = "opportunity not found"
	msgStageNotFound       = "stage not found"
)

// Service applies stage moves and opportunity edits.
type Service struct {
	tx    ports.Transactor
	bus   events.Bus
	log   *logger.Logger
	clock func() time.Time
}

func New(tx ports.Transactor, bus events.Bus, log *logger.Logger) *Service {
	return &Service{tx: tx, bus: bus, log: log, clock: time.Now}
}

// WithClock overrides the transition timestamp source.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// MoveResult is the committed outcome of a stage move.
type MoveResult struct {
	Opportunity          domain.Opportunity
	Terminal             bool
	ConversationsUpdated int64
}

// MoveOpportunityToStage sets the opportunity's stage, clears outstanding
// actions when the stage is closed, and pushes the stage onto every
// conversation linked by opportunity id. All writes share one transaction.
func (s *Service) MoveOpportunityToStage(ctx context.Context, userID, opportunityID uuid.UUID, stageID *uuid.UUID) (MoveResult, error) {
	if stageID != nil && *stageID == uuid.Nil {
		return MoveResult{}, apperr.Validation("stage id is malformed").WithOp("cascade.MoveOpportunityToStage")
	}

	var (
		result MoveResult
		from   *uuid.UUID
	)

	err := s.tx.WithinTx(ctx, func(ctx context.Context, store ports.Store) error {
		opp, err := store.GetOpportunity(ctx, userID, opportunityID)
		if err != nil {
			return mapNotFound(err, msgOpportunityNotFound)
		}
		from = opp.StageID

		patch := domain.OpportunityPatch{StageID: domain.SetTo(stageID)}
		if stageID != nil {
			stage, err := store.GetStage(ctx, userID, *stageID)
			if err != nil {
				return mapNotFound(err, msgStageNotFound)
			}
			if domain.IsTerminalStage(stage.Name) {
				patch = domain.TerminalPatch(stageID)
				result.Terminal = true
			}
		}

		updated, err := store.UpdateOpportunity(ctx, userID, opportunityID, patch)
		if err != nil {
			return mapNotFound(err, msgOpportunityNotFound)
		}

		n, err := store.SetConversationStage(ctx, userID, opportunityID, stageID)
		if err != nil {
			return err
		}

		if !sameStage(from, stageID) {
			err = store.RecordStageTransition(ctx, domain.StageTransition{
				UserID:         userID,
				OpportunityID:  opportunityID,
				FromStageID:    from,
				ToStageID:      stageID,
				TransitionedAt: s.clock(),
			})
			if err != nil {
				return err
			}
		}

		result.Opportunity = updated
		result.ConversationsUpdated = n
		return nil
	})
	if err != nil {
		return MoveResult{}, err
	}

	if s.bus != nil {
		s.bus.Publish(ctx, events.OpportunityStageChanged{
			BaseEvent:            events.NewBaseEvent(),
			UserID:               userID,
			OpportunityID:        opportunityID,
			FromStageID:          from,
			ToStageID:            stageID,
			Terminal:             result.Terminal,
			ConversationsUpdated: result.ConversationsUpdated,
		})
	}

	s.log.WithContext(ctx).Info("opportunity stage moved",
		"opportunity_id", opportunityID.String(),
		"terminal", result.Terminal,
		"conversations_updated", result.ConversationsUpdated,
	)

	return result, nil
}

// UpdateOpportunity writes the set fields of patch. Stage changes go through
// MoveOpportunityToStage so the cascade always runs.
func (s *Service) UpdateOpportunity(ctx context.Context, userID, opportunityID uuid.UUID, patch domain.OpportunityPatch) (domain.Opportunity, error) {
	if patch.StageID.IsSet() {
		return domain.Opportunity{}, apperr.Validation("stage changes must use the stage endpoint")
	}
	if v, ok := patch.Title.Get(); ok && v == "" {
		return domain.Opportunity{}, apperr.Validation("title cannot be empty")
	}
	if v, ok := patch.Priority.Get(); ok && v != nil && !v.Valid() {
		return domain.Opportunity{}, apperr.Validation("invalid priority")
	}

	var updated domain.Opportunity
	err := s.tx.WithinTx(ctx, func(ctx context.Context, store ports.Store) error {
		var err error
		updated, err = store.UpdateOpportunity(ctx, userID, opportunityID, patch)
		return mapNotFound(err, msgOpportunityNotFound)
	})
	if err != nil {
		return domain.Opportunity{}, err
	}
	return updated, nil
}

// DeleteOpportunity removes the opportunity together with the conversations
// linked to it by id.
func (s *Service) DeleteOpportunity(ctx context.Context, userID, opportunityID uuid.UUID) error {
	return s.tx.WithinTx(ctx, func(ctx context.Context, store ports.Store) error {
		return mapNotFound(store.DeleteOpportunity(ctx, userID, opportunityID), msgOpportunityNotFound)
	})
}

func mapNotFound(err error, message string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ports.ErrNotFound) {
		return apperr.NotFound(message)
	}
	return err
}

func sameStage(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
