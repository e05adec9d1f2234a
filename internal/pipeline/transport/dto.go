package transport

import (
	"time"

	"github.com/google/uuid"
)

// Request DTOs

type BoardQuery struct {
	Priority      string `form:"priority" validate:"omitempty,oneof=low medium high"`
	CategoryID    string `form:"categoryId" validate:"omitempty,uuid"`
	ChallengeID   string `form:"challengeId" validate:"omitempty,uuid"`
	Search        string `form:"search" validate:"max=200"`
	IncludeClosed *bool  `form:"includeClosed"`
}

type InboxQuery struct {
	Filter string `form:"filter" validate:"omitempty,oneof=all needs_attention waiting_on_them out_of_sync"`
}

// MoveStageRequest carries the target stage. A null stageId unassigns the
// opportunity; the key itself is required.
type MoveStageRequest struct {
	StageID OptionalUUID `json:"stageId"`
}

type UpdateOpportunityRequest struct {
	StageID              OptionalUUID        `json:"stageId"`
	Title                Nullable[string]    `json:"title"`
	Priority             Nullable[string]    `json:"priority"`
	NextActionType       Nullable[string]    `json:"nextActionType"`
	NextActionDueAt      Nullable[time.Time] `json:"nextActionDueAt"`
	Notes                Nullable[string]    `json:"notes"`
	Summary              Nullable[string]    `json:"summary"`
	AutoFollowupsEnabled Nullable[bool]      `json:"autoFollowupsEnabled"`
}

type RecordMessageRequest struct {
	Sender string     `json:"sender" validate:"required,oneof=user contact"`
	Body   string     `json:"body" validate:"required,max=20000"`
	SentAt *time.Time `json:"sentAt,omitempty"`
	Source string     `json:"source,omitempty" validate:"omitempty,max=50"`
}

type MatchSignalRequest struct {
	ConversationID uuid.UUID `json:"conversationId" validate:"required"`
}

type RunFollowupsRequest struct {
	Now *time.Time `json:"now,omitempty"`
}

// Response DTOs

type StageResponse struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Order       int       `json:"order"`
	Description *string   `json:"description,omitempty"`
}

type OpportunityResponse struct {
	ID                   uuid.UUID  `json:"id"`
	ContactID            uuid.UUID  `json:"contactId"`
	StageID              *uuid.UUID `json:"stageId"`
	CategoryID           *uuid.UUID `json:"categoryId,omitempty"`
	ChallengeID          *uuid.UUID `json:"challengeId,omitempty"`
	Title                string     `json:"title"`
	Priority             *string    `json:"priority"`
	NextActionType       *string    `json:"nextActionType"`
	NextActionDueAt      *time.Time `json:"nextActionDueAt"`
	Notes                *string    `json:"notes,omitempty"`
	Summary              *string    `json:"summary,omitempty"`
	AutoFollowupsEnabled bool       `json:"autoFollowupsEnabled"`
	CreatedAt            time.Time  `json:"createdAt"`
	UpdatedAt            time.Time  `json:"updatedAt"`
}

type CardResponse struct {
	Opportunity       OpportunityResponse `json:"opportunity"`
	DerivedStageID    *uuid.UUID          `json:"derivedStageId"`
	StageMismatch     bool                `json:"stageMismatch"`
	NeedsAttention    bool                `json:"needsAttention"`
	OutOfSync         bool                `json:"outOfSync"`
	ConversationCount int                 `json:"conversationCount"`
	LastActivityAt    *time.Time          `json:"lastActivityAt"`
}

type ColumnResponse struct {
	Key   string         `json:"key"`
	Stage *StageResponse `json:"stage"`
	Cards []CardResponse `json:"cards"`
}

type BoardResponse struct {
	Columns []ColumnResponse `json:"columns"`
}

type StageStatResponse struct {
	Stage          StageResponse `json:"stage"`
	Current        int           `json:"current"`
	Entered        int           `json:"entered"`
	Advanced       int           `json:"advanced"`
	ConversionRate float64       `json:"conversionRate"`
}

type StatsResponse struct {
	Stages     []StageStatResponse `json:"stages"`
	Unassigned int                 `json:"unassigned"`
	Total      int                 `json:"total"`
}

type MoveStageResponse struct {
	Opportunity          OpportunityResponse `json:"opportunity"`
	Terminal             bool                `json:"terminal"`
	ConversationsUpdated int64               `json:"conversationsUpdated"`
}

type ConversationResponse struct {
	ID                 uuid.UUID  `json:"id"`
	ContactID          uuid.UUID  `json:"contactId"`
	OpportunityID      *uuid.UUID `json:"opportunityId"`
	StageID            *uuid.UUID `json:"stageId"`
	Channel            string     `json:"channel,omitempty"`
	LastMessageAt      *time.Time `json:"lastMessageAt"`
	LastMessageSide    *string    `json:"lastMessageSide"`
	LastMessageSnippet *string    `json:"lastMessageSnippet"`
	UpdatedAt          time.Time  `json:"updatedAt"`
}

type InboxItemResponse struct {
	Conversation    ConversationResponse `json:"conversation"`
	Attention       string               `json:"attention"`
	OutOfSync       bool                 `json:"isOutOfSync"`
	NextActionDueAt *time.Time           `json:"nextActionDueAt"`
}

type InboxResponse struct {
	Items []InboxItemResponse `json:"items"`
	Total int                 `json:"total"`
}

type MessageResponse struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversationId"`
	Sender         string    `json:"sender"`
	Body           string    `json:"body"`
	SentAt         time.Time `json:"sentAt"`
	Source         string    `json:"source,omitempty"`
	Status         string    `json:"status"`
}

type SignalResponse struct {
	ID              uuid.UUID  `json:"id"`
	ConversationID  *uuid.UUID `json:"conversationId"`
	SenderName      string     `json:"senderName"`
	Snippet         string     `json:"snippet"`
	EmailReceivedAt time.Time  `json:"emailReceivedAt"`
}

type FollowupFailureResponse struct {
	ConversationID uuid.UUID `json:"conversationId"`
	Error          string    `json:"error"`
}

type RunFollowupsResponse struct {
	Processed int                       `json:"processed"`
	Created   int                       `json:"created"`
	Failures  []FollowupFailureResponse `json:"failures"`
}
