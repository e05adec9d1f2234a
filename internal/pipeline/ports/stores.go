// Package ports declares the storage contracts the pipeline services depend
// on. The pgx repository and the in-memory store both implement them.
package ports

import (
	"context"
	"errors"
	"time"

	"pipeline_backend/internal/pipeline/domain"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a row does not exist for the given user.
var ErrNotFound = errors.New("not found")

// OpportunityFilter narrows the board's opportunity set. Zero values match all.
type OpportunityFilter struct {
	Priority    *domain.Priority
	CategoryID  *uuid.UUID
	ChallengeID *uuid.UUID
	Search      string
}

type StageReader interface {
	// ListStages returns the user's stages ordered by order.
	ListStages(ctx context.Context, userID uuid.UUID) ([]domain.Stage, error)
	GetStage(ctx context.Context, userID, stageID uuid.UUID) (domain.Stage, error)
}

type OpportunityStore interface {
	GetOpportunity(ctx context.Context, userID, opportunityID uuid.UUID) (domain.Opportunity, error)
	ListOpportunities(ctx context.Context, userID uuid.UUID, filter OpportunityFilter) ([]domain.Opportunity, error)
	UpdateOpportunity(ctx context.Context, userID, opportunityID uuid.UUID, patch domain.OpportunityPatch) (domain.Opportunity, error)
	DeleteOpportunity(ctx context.Context, userID, opportunityID uuid.UUID) error
	// ListConversationsForOpportunity returns conversations linked by
	// opportunity id plus unlinked ones sharing the opportunity's contact.
	ListConversationsForOpportunity(ctx context.Context, userID uuid.UUID, opp domain.Opportunity) ([]domain.Conversation, error)
	// SetConversationStage writes stageID onto every conversation whose
	// opportunity id equals opportunityID and returns how many were updated.
	SetConversationStage(ctx context.Context, userID, opportunityID uuid.UUID, stageID *uuid.UUID) (int64, error)
	RecordStageTransition(ctx context.Context, transition domain.StageTransition) error
	ListStageTransitions(ctx context.Context, userID uuid.UUID) ([]domain.StageTransition, error)
}

type ConversationStore interface {
	GetConversation(ctx context.Context, userID, conversationID uuid.UUID) (domain.Conversation, error)
	// LockConversation reads the conversation and holds it against concurrent
	// writers until the surrounding transaction ends.
	LockConversation(ctx context.Context, userID, conversationID uuid.UUID) (domain.Conversation, error)
	ListConversations(ctx context.Context, userID uuid.UUID) ([]domain.Conversation, error)
	// ListFollowupCandidates is the coarse storage-side filter: user spoke last
	// at or before cutoff, and neither the conversation nor its opportunity
	// has follow-ups disabled.
	ListFollowupCandidates(ctx context.Context, userID uuid.UUID, cutoff time.Time) ([]domain.Conversation, error)
	ListUsersWithFollowupCandidates(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)
	// ListMessages returns the conversation's messages ordered by sentAt.
	ListMessages(ctx context.Context, conversationID uuid.UUID) ([]domain.Message, error)
	GetMessage(ctx context.Context, userID, messageID uuid.UUID) (domain.Message, error)
	InsertMessage(ctx context.Context, msg domain.NewMessage) (domain.Message, error)
	UpdateConversationSummary(ctx context.Context, conversationID uuid.UUID, summary domain.ConversationSummary) error
	SetMessageStatus(ctx context.Context, userID, messageID uuid.UUID, status domain.MessageStatus) (domain.Message, error)
	SetOutOfSync(ctx context.Context, userID, conversationID uuid.UUID, outOfSync bool) error
}

type ExternalSignalStore interface {
	// ListSignalsForConversation returns matched signals, newest first.
	ListSignalsForConversation(ctx context.Context, userID, conversationID uuid.UUID) ([]domain.ExternalSignal, error)
	// ListMatchedSignals returns every signal of the user linked to a conversation.
	ListMatchedSignals(ctx context.Context, userID uuid.UUID) ([]domain.ExternalSignal, error)
	MatchSignal(ctx context.Context, userID, signalID, conversationID uuid.UUID) (domain.ExternalSignal, error)
}

type ContactReader interface {
	GetContact(ctx context.Context, userID, contactID uuid.UUID) (domain.Contact, error)
}

// Store is the full set of pipeline storage operations.
type Store interface {
	StageReader
	OpportunityStore
	ConversationStore
	ExternalSignalStore
	ContactReader
}

// Transactor runs fn against a Store bound to a single transaction. The
// transaction commits when fn returns nil and rolls back otherwise.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, store Store) error) error
}
