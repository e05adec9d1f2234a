// Package events defines the domain events exchanged between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"pipeline_backend/platform/events"

	"github.com/google/uuid"
)

type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

var NewBaseEvent = events.NewBaseEvent

// =============================================================================
// Pipeline Domain Events
// =============================================================================

// OpportunityStageChanged is published after a stage move commits.
type OpportunityStageChanged struct {
	BaseEvent
	UserID               uuid.UUID  `json:"userId"`
	OpportunityID        uuid.UUID  `json:"opportunityId"`
	FromStageID          *uuid.UUID `json:"fromStageId,omitempty"`
	ToStageID            *uuid.UUID `json:"toStageId,omitempty"`
	Terminal             bool       `json:"terminal"`
	ConversationsUpdated int64      `json:"conversationsUpdated"`
}

func (e OpportunityStageChanged) EventName() string { return "pipeline.opportunity.stage_changed" }

// MessageRecorded is published when a message lands in a conversation,
// whether pasted by the user or generated as a follow-up.
type MessageRecorded struct {
	BaseEvent
	UserID         uuid.UUID `json:"userId"`
	ConversationID uuid.UUID `json:"conversationId"`
	MessageID      uuid.UUID `json:"messageId"`
	Source         string    `json:"source,omitempty"`
}

func (e MessageRecorded) EventName() string { return "pipeline.message.recorded" }

// SignalMatched is published when an external email is linked to a conversation.
type SignalMatched struct {
	BaseEvent
	UserID         uuid.UUID `json:"userId"`
	ConversationID uuid.UUID `json:"conversationId"`
	SignalID       uuid.UUID `json:"signalId"`
}

func (e SignalMatched) EventName() string { return "pipeline.signal.matched" }

// FollowupsGenerated summarizes one follow-up run for a user.
type FollowupsGenerated struct {
	BaseEvent
	UserID    uuid.UUID `json:"userId"`
	Processed int       `json:"processed"`
	Created   int       `json:"created"`
	Failed    int       `json:"failed"`
}

func (e FollowupsGenerated) EventName() string { return "pipeline.followups.generated" }
