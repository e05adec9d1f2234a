// Package followups generates bounded automatic follow-up messages for stale
// conversations.
package followups

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pipeline_backend/internal/events"
	"pipeline_backend/internal/pipeline/domain"
	"pipeline_backend/internal/pipeline/ports"
	"pipeline_backend/platform/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const batchName = "auto_followups"

const defaultWorkers = 4

// Repository is the non-transactional part of a run.
type Repository interface {
	ListFollowupCandidates(ctx context.Context, userID uuid.UUID, cutoff time.Time) ([]domain.Conversation, error)
	ListUsersWithFollowupCandidates(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)
}

// ItemFailure records one conversation that could not be processed.
type ItemFailure struct {
	ConversationID uuid.UUID
	Err            error
}

// Result counts only conversations whose processing completed.
type Result struct {
	Processed int
	Created   int
	Failures  []ItemFailure
}

type Service struct {
	repo    Repository
	tx      ports.Transactor
	bus     events.Bus
	log     *logger.Logger
	workers int
}

func New(repo Repository, tx ports.Transactor, bus events.Bus, log *logger.Logger, workers int) *Service {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Service{repo: repo, tx: tx, bus: bus, log: log, workers: workers}
}

// Run evaluates every candidate conversation of the user against now and
// writes at most one follow-up per conversation. A failing conversation is
// recorded in Result.Failures and does not stop the run. Only a failure to
// list candidates is returned as an error.
func (s *Service) Run(ctx context.Context, userID uuid.UUID, now time.Time) (Result, error) {
	candidates, err := s.repo.ListFollowupCandidates(ctx, userID, now.Add(-domain.FollowupStaleAfter))
	if err != nil {
		return Result{}, fmt.Errorf("list follow-up candidates: %w", err)
	}

	var (
		mu     sync.Mutex
		result = Result{Failures: []ItemFailure{}}
		seen   = make(map[uuid.UUID]struct{}, len(candidates))
		g      errgroup.Group
	)
	g.SetLimit(s.workers)

	for _, c := range candidates {
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}

		conversationID := c.ID
		g.Go(func() error {
			msg, err := s.processConversation(ctx, userID, conversationID, now)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failures = append(result.Failures, ItemFailure{ConversationID: conversationID, Err: err})
				s.log.WithContext(ctx).BatchItemFailed(batchName, conversationID.String(), err)
				return nil
			}
			result.Processed++
			if msg != nil {
				result.Created++
			}
			return nil
		})
	}
	_ = g.Wait()

	s.log.FollowupRun(userID.String(), now, result.Processed, result.Created, len(result.Failures))

	if s.bus != nil && result.Created > 0 {
		s.bus.Publish(ctx, events.FollowupsGenerated{
			BaseEvent: events.NewBaseEvent(),
			UserID:    userID,
			Processed: result.Processed,
			Created:   result.Created,
			Failed:    len(result.Failures),
		})
	}

	return result, nil
}

// processConversation re-reads the conversation under lock, applies the
// eligibility rules and writes the follow-up together with the summary
// update. Returns the created message, or nil when the conversation was
// skipped.
func (s *Service) processConversation(ctx context.Context, userID, conversationID uuid.UUID, now time.Time) (*domain.Message, error) {
	var created *domain.Message

	err := s.tx.WithinTx(ctx, func(ctx context.Context, store ports.Store) error {
		conv, err := store.LockConversation(ctx, userID, conversationID)
		if err != nil {
			if errors.Is(err, ports.ErrNotFound) {
				return nil
			}
			return err
		}

		in := domain.FollowupInput{Conversation: conv, Now: now}

		if conv.OpportunityID != nil {
			opp, err := store.GetOpportunity(ctx, userID, *conv.OpportunityID)
			switch {
			case err == nil:
				in.Opportunity = &opp
				in.Siblings, err = store.ListConversationsForOpportunity(ctx, userID, opp)
				if err != nil {
					return err
				}
			case !errors.Is(err, ports.ErrNotFound):
				return err
			}
		}

		in.Messages, err = store.ListMessages(ctx, conv.ID)
		if err != nil {
			return err
		}

		contact, err := store.GetContact(ctx, userID, conv.ContactID)
		if err != nil && !errors.Is(err, ports.ErrNotFound) {
			return err
		}
		in.ContactName = contact.DisplayName

		decision := domain.EvaluateFollowup(in)
		if !decision.Eligible {
			return nil
		}
		body := decision.Body

		msg, err := store.InsertMessage(ctx, domain.NewMessage{
			ConversationID: conv.ID,
			Sender:         domain.SideUser,
			Body:           body,
			SentAt:         now,
			Source:         domain.SourceAutoFollowUp,
			Status:         domain.MessageStatusPending,
		})
		if err != nil {
			return err
		}

		if err := store.UpdateConversationSummary(ctx, conv.ID, domain.SummaryFor(domain.SideUser, body, now)); err != nil {
			return err
		}

		created = &msg
		return nil
	})
	if err != nil {
		return nil, err
	}

	if created != nil && s.bus != nil {
		s.bus.Publish(ctx, events.MessageRecorded{
			BaseEvent:      events.NewBaseEvent(),
			UserID:         userID,
			ConversationID: conversationID,
			MessageID:      created.ID,
			Source:         domain.SourceAutoFollowUp,
		})
	}
	return created, nil
}

// UsersDue lists users with at least one candidate conversation at now.
func (s *Service) UsersDue(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	return s.repo.ListUsersWithFollowupCandidates(ctx, now.Add(-domain.FollowupStaleAfter))
}
