// Package messages records pasted conversation messages and confirms
// generated ones.
package messages

import (
	"context"
	"errors"
	"strings"
	"time"

	"pipeline_backend/internal/events"
	"pipeline_backend/internal/pipeline/domain"
	"pipeline_backend/internal/pipeline/ports"
	"pipeline_backend/platform/apperr"
	"pipeline_backend/platform/logger"

	"github.com/google/uuid"
)

// Input is a message the user pasted into a conversation.
type Input struct {
	Sender domain.Side
	Body   string
	// SentAt defaults to the current time.
	SentAt *time.Time
	Source string
}

type Service struct {
	tx    ports.Transactor
	repo  Repository
	bus   events.Bus
	log   *logger.Logger
	clock func() time.Time
}

// Repository covers the non-transactional reads and writes.
type Repository interface {
	SetMessageStatus(ctx context.Context, userID, messageID uuid.UUID, status domain.MessageStatus) (domain.Message, error)
}

func New(tx ports.Transactor, repo Repository, bus events.Bus, log *logger.Logger) *Service {
	return &Service{tx: tx, repo: repo, bus: bus, log: log, clock: time.Now}
}

func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// Record inserts a confirmed message. The conversation summary only moves
// forward: a back-dated message leaves it alone.
func (s *Service) Record(ctx context.Context, userID, conversationID uuid.UUID, in Input) (domain.Message, error) {
	if !in.Sender.Valid() {
		return domain.Message{}, apperr.Validation("sender must be user or contact")
	}
	body := strings.TrimSpace(in.Body)
	if body == "" {
		return domain.Message{}, apperr.Validation("message body is required")
	}
	if in.Source == domain.SourceAutoFollowUp {
		return domain.Message{}, apperr.Validation("source is reserved for generated follow-ups")
	}

	sentAt := s.clock()
	if in.SentAt != nil {
		sentAt = *in.SentAt
	}

	var msg domain.Message
	err := s.tx.WithinTx(ctx, func(ctx context.Context, store ports.Store) error {
		conv, err := store.LockConversation(ctx, userID, conversationID)
		if err != nil {
			if errors.Is(err, ports.ErrNotFound) {
				return apperr.NotFound("conversation not found")
			}
			return err
		}

		msg, err = store.InsertMessage(ctx, domain.NewMessage{
			ConversationID: conversationID,
			Sender:         in.Sender,
			Body:           body,
			SentAt:         sentAt,
			Source:         in.Source,
			Status:         domain.MessageStatusConfirmed,
		})
		if err != nil {
			return err
		}

		if conv.LastMessageAt == nil || !sentAt.Before(*conv.LastMessageAt) {
			return store.UpdateConversationSummary(ctx, conversationID, domain.SummaryFor(in.Sender, body, sentAt))
		}
		return nil
	})
	if err != nil {
		return domain.Message{}, err
	}

	if s.bus != nil {
		s.bus.Publish(ctx, events.MessageRecorded{
			BaseEvent:      events.NewBaseEvent(),
			UserID:         userID,
			ConversationID: conversationID,
			MessageID:      msg.ID,
			Source:         msg.Source,
		})
	}

	return msg, nil
}

// Confirm marks a pending message as actually sent. Confirming twice is a no-op.
func (s *Service) Confirm(ctx context.Context, userID, messageID uuid.UUID) (domain.Message, error) {
	msg, err := s.repo.SetMessageStatus(ctx, userID, messageID, domain.MessageStatusConfirmed)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return domain.Message{}, apperr.NotFound("message not found")
		}
		return domain.Message{}, err
	}
	s.log.WithContext(ctx).Debug("message confirmed", "message_id", messageID.String())
	return msg, nil
}
