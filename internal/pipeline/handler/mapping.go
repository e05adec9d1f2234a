package handler

import (
	"strings"
	"time"

	"pipeline_backend/internal/pipeline/board"
	"pipeline_backend/internal/pipeline/cascade"
	"pipeline_backend/internal/pipeline/domain"
	"pipeline_backend/internal/pipeline/followups"
	"pipeline_backend/internal/pipeline/inbox"
	"pipeline_backend/internal/pipeline/transport"
	"pipeline_backend/platform/apperr"
	"pipeline_backend/platform/sanitize"

	"github.com/google/uuid"
)

func toStageResponse(s domain.Stage) transport.StageResponse {
	return transport.StageResponse{
		ID:          s.ID,
		Name:        s.Name,
		Order:       s.Order,
		Description: s.Description,
	}
}

func toOpportunityResponse(o domain.Opportunity) transport.OpportunityResponse {
	var priority *string
	if o.Priority != nil {
		p := string(*o.Priority)
		priority = &p
	}
	return transport.OpportunityResponse{
		ID:                   o.ID,
		ContactID:            o.ContactID,
		StageID:              o.StageID,
		CategoryID:           o.CategoryID,
		ChallengeID:          o.ChallengeID,
		Title:                o.Title,
		Priority:             priority,
		NextActionType:       o.NextActionType,
		NextActionDueAt:      o.NextActionDueAt,
		Notes:                o.Notes,
		Summary:              o.Summary,
		AutoFollowupsEnabled: o.AutoFollowups.Enabled(),
		CreatedAt:            o.CreatedAt,
		UpdatedAt:            o.UpdatedAt,
	}
}

func toBoardResponse(b board.Board) transport.BoardResponse {
	columns := make([]transport.ColumnResponse, 0, len(b.Columns))
	for _, col := range b.Columns {
		cards := make([]transport.CardResponse, 0, len(col.Cards))
		for _, card := range col.Cards {
			cards = append(cards, transport.CardResponse{
				Opportunity:       toOpportunityResponse(card.Opportunity),
				DerivedStageID:    card.Derived.Ptr(),
				StageMismatch:     card.StageMismatch,
				NeedsAttention:    card.NeedsAttention,
				OutOfSync:         card.OutOfSync,
				ConversationCount: card.ConversationCount,
				LastActivityAt:    card.LastActivityAt,
			})
		}
		var stage *transport.StageResponse
		if col.Stage != nil {
			s := toStageResponse(*col.Stage)
			stage = &s
		}
		columns = append(columns, transport.ColumnResponse{Key: col.Key, Stage: stage, Cards: cards})
	}
	return transport.BoardResponse{Columns: columns}
}

func toStatsResponse(s board.Stats) transport.StatsResponse {
	stages := make([]transport.StageStatResponse, 0, len(s.Stages))
	for _, st := range s.Stages {
		stages = append(stages, transport.StageStatResponse{
			Stage:          toStageResponse(st.Stage),
			Current:        st.Current,
			Entered:        st.Entered,
			Advanced:       st.Advanced,
			ConversionRate: st.ConversionRate,
		})
	}
	return transport.StatsResponse{Stages: stages, Unassigned: s.Unassigned, Total: s.Total}
}

func toMoveStageResponse(r cascade.MoveResult) transport.MoveStageResponse {
	return transport.MoveStageResponse{
		Opportunity:          toOpportunityResponse(r.Opportunity),
		Terminal:             r.Terminal,
		ConversationsUpdated: r.ConversationsUpdated,
	}
}

func toConversationResponse(c domain.Conversation) transport.ConversationResponse {
	var side *string
	if c.LastMessageSide != nil {
		s := string(*c.LastMessageSide)
		side = &s
	}
	return transport.ConversationResponse{
		ID:                 c.ID,
		ContactID:          c.ContactID,
		OpportunityID:      c.OpportunityID,
		StageID:            c.StageID,
		Channel:            c.Channel,
		LastMessageAt:      c.LastMessageAt,
		LastMessageSide:    side,
		LastMessageSnippet: c.LastMessageSnippet,
		UpdatedAt:          c.UpdatedAt,
	}
}

func toInboxResponse(items []inbox.Item) transport.InboxResponse {
	out := make([]transport.InboxItemResponse, 0, len(items))
	for _, it := range items {
		out = append(out, transport.InboxItemResponse{
			Conversation:    toConversationResponse(it.Conversation),
			Attention:       string(it.Attention),
			OutOfSync:       it.OutOfSync,
			NextActionDueAt: it.NextActionDueAt,
		})
	}
	return transport.InboxResponse{Items: out, Total: len(out)}
}

func toMessageResponse(m domain.Message) transport.MessageResponse {
	return transport.MessageResponse{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Sender:         string(m.Sender),
		Body:           m.Body,
		SentAt:         m.SentAt,
		Source:         m.Source,
		Status:         string(m.Status),
	}
}

func toSignalResponse(s domain.ExternalSignal) transport.SignalResponse {
	return transport.SignalResponse{
		ID:              s.ID,
		ConversationID:  s.ConversationID,
		SenderName:      s.SenderName,
		Snippet:         s.Snippet,
		EmailReceivedAt: s.EmailReceivedAt,
	}
}

func toRunFollowupsResponse(r followups.Result) transport.RunFollowupsResponse {
	failures := make([]transport.FollowupFailureResponse, 0, len(r.Failures))
	for _, f := range r.Failures {
		failures = append(failures, transport.FollowupFailureResponse{
			ConversationID: f.ConversationID,
			Error:          f.Err.Error(),
		})
	}
	return transport.RunFollowupsResponse{Processed: r.Processed, Created: r.Created, Failures: failures}
}

func toBoardFilters(q transport.BoardQuery) board.Filters {
	f := board.Filters{IncludeClosed: true}
	if q.IncludeClosed != nil {
		f.IncludeClosed = *q.IncludeClosed
	}
	if q.Priority != "" {
		p := domain.Priority(q.Priority)
		f.Priority = &p
	}
	if id, err := uuid.Parse(q.CategoryID); err == nil {
		f.CategoryID = &id
	}
	if id, err := uuid.Parse(q.ChallengeID); err == nil {
		f.ChallengeID = &id
	}
	f.Search = strings.TrimSpace(q.Search)
	return f
}

// toPatch maps the JSON patch onto the domain patch. Absent keys stay unset;
// explicit nulls clear nullable columns. Free text is stripped of markup.
func toPatch(req transport.UpdateOpportunityRequest) (domain.OpportunityPatch, error) {
	var patch domain.OpportunityPatch

	if req.StageID.Set {
		patch.StageID = domain.SetTo(req.StageID.Value)
	}
	if req.Title.Set {
		var title string
		if req.Title.Value != nil {
			title = sanitize.Line(*req.Title.Value)
		}
		if title == "" {
			return patch, apperr.Validation("title cannot be empty")
		}
		patch.Title = domain.SetTo(title)
	}
	if req.Priority.Set {
		var p *domain.Priority
		if req.Priority.Value != nil {
			v := domain.Priority(*req.Priority.Value)
			if !v.Valid() {
				return patch, apperr.Validation("priority must be one of low, medium, high")
			}
			p = &v
		}
		patch.Priority = domain.SetTo(p)
	}
	if req.NextActionType.Set {
		var actionType *string
		if req.NextActionType.Value != nil {
			if v := sanitize.Line(*req.NextActionType.Value); v != "" {
				actionType = &v
			}
		}
		patch.NextActionType = domain.SetTo(actionType)
	}
	if req.NextActionDueAt.Set {
		var due *time.Time
		if req.NextActionDueAt.Value != nil {
			v := req.NextActionDueAt.Value.UTC()
			due = &v
		}
		patch.NextActionDueAt = domain.SetTo(due)
	}
	if req.Notes.Set {
		patch.Notes = domain.SetTo(sanitize.TextPtr(req.Notes.Value))
	}
	if req.Summary.Set {
		patch.Summary = domain.SetTo(sanitize.TextPtr(req.Summary.Value))
	}
	if req.AutoFollowupsEnabled.Set {
		patch.AutoFollowups = domain.SetTo(domain.FlagFromPtr(req.AutoFollowupsEnabled.Value))
	}
	return patch, nil
}
