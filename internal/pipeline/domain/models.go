package domain

import (
	"time"

	"github.com/google/uuid"
)

// Side identifies who wrote a message.
type Side string

const (
	SideUser    Side = "user"
	SideContact Side = "contact"
)

func (s Side) Valid() bool {
	return s == SideUser || s == SideContact
}

// Priority of an opportunity. A nil *Priority means "no priority".
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Rank orders priorities for board sorting; nil ranks lowest.
func PriorityRank(p *Priority) int {
	if p == nil {
		return 0
	}
	switch *p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// MessageStatus tracks whether the user confirmed a message went out.
type MessageStatus string

const (
	MessageStatusPending   MessageStatus = "pending"
	MessageStatusConfirmed MessageStatus = "confirmed"
)

// SourceAutoFollowUp tags messages written by the follow-up scheduler.
const SourceAutoFollowUp = "auto_follow_up"

type Stage struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	Name        string
	Order       int
	Description *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Contact struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	DisplayName string
}

type Opportunity struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	ContactID       uuid.UUID
	StageID         *uuid.UUID
	CategoryID      *uuid.UUID
	ChallengeID     *uuid.UUID
	Title           string
	Priority        *Priority
	NextActionType  *string
	NextActionDueAt *time.Time
	Notes           *string
	Summary         *string
	AutoFollowups   FollowupFlag
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type Conversation struct {
	ID                 uuid.UUID
	UserID             uuid.UUID
	ContactID          uuid.UUID
	OpportunityID      *uuid.UUID
	StageID            *uuid.UUID
	CategoryID         *uuid.UUID
	Channel            string
	LastMessageAt      *time.Time
	LastMessageSide    *Side
	LastMessageSnippet *string
	IsOutOfSync        bool
	AutoFollowups      FollowupFlag
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// HasMessages reports whether a message was ever recorded. lastMessageAt is
// kept in lockstep with the message table, so nil means an empty thread.
func (c Conversation) HasMessages() bool {
	return c.LastMessageAt != nil
}

type Message struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	Sender         Side
	Body           string
	SentAt         time.Time
	Source         string
	Status         MessageStatus
	CreatedAt      time.Time
}

// NewMessage is the insert payload for a message row.
type NewMessage struct {
	ConversationID uuid.UUID
	Sender         Side
	Body           string
	SentAt         time.Time
	Source         string
	Status         MessageStatus
}

// ConversationSummary is the denormalized newest-message cache on a conversation.
type ConversationSummary struct {
	LastMessageAt      time.Time
	LastMessageSide    Side
	LastMessageSnippet string
}

// SummaryFor builds the summary cache for a message.
func SummaryFor(sender Side, body string, sentAt time.Time) ConversationSummary {
	return ConversationSummary{
		LastMessageAt:      sentAt,
		LastMessageSide:    sender,
		LastMessageSnippet: TruncateSnippet(body),
	}
}

type ExternalSignal struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	ConversationID  *uuid.UUID
	SenderName      string
	Snippet         string
	EmailReceivedAt time.Time
	CreatedAt       time.Time
}

// StageTransition is one row of the opportunity stage history.
type StageTransition struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	OpportunityID  uuid.UUID
	FromStageID    *uuid.UUID
	ToStageID      *uuid.UUID
	TransitionedAt time.Time
}

// ConversationsOfOpportunity selects the conversations that belong to opp out
// of a user's conversation set: those linked by opportunity id, plus unlinked
// conversations with the opportunity's contact (the historical linkage).
func ConversationsOfOpportunity(opp Opportunity, all []Conversation) []Conversation {
	result := make([]Conversation, 0)
	for _, c := range all {
		if c.UserID != opp.UserID {
			continue
		}
		if c.OpportunityID != nil {
			if *c.OpportunityID == opp.ID {
				result = append(result, c)
			}
			continue
		}
		if c.ContactID == opp.ContactID {
			result = append(result, c)
		}
	}
	return result
}
