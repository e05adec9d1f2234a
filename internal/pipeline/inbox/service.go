// Package inbox lists conversations by whose move it is and keeps the
// persisted out-of-sync flag current.
package inbox

import (
	"context"
	"errors"
	"sort"
	"time"

	"pipeline_backend/internal/events"
	"pipeline_backend/internal/pipeline/domain"
	"pipeline_backend/internal/pipeline/ports"
	"pipeline_backend/platform/apperr"
	"pipeline_backend/platform/logger"

	"github.com/google/uuid"
)

// Filter selects inbox rows.
type Filter string

const (
	FilterAll            Filter = "all"
	FilterNeedsAttention Filter = "needs_attention"
	FilterWaitingOnThem  Filter = "waiting_on_them"
	FilterOutOfSync      Filter = "out_of_sync"
)

func ParseFilter(raw string) (Filter, bool) {
	switch Filter(raw) {
	case "", FilterAll:
		return FilterAll, true
	case FilterNeedsAttention, FilterWaitingOnThem, FilterOutOfSync:
		return Filter(raw), true
	}
	return "", false
}

type Repository interface {
	GetConversation(ctx context.Context, userID, conversationID uuid.UUID) (domain.Conversation, error)
	ListConversations(ctx context.Context, userID uuid.UUID) ([]domain.Conversation, error)
	ListOpportunities(ctx context.Context, userID uuid.UUID, filter ports.OpportunityFilter) ([]domain.Opportunity, error)
	ListSignalsForConversation(ctx context.Context, userID, conversationID uuid.UUID) ([]domain.ExternalSignal, error)
	ListMatchedSignals(ctx context.Context, userID uuid.UUID) ([]domain.ExternalSignal, error)
	MatchSignal(ctx context.Context, userID, signalID, conversationID uuid.UUID) (domain.ExternalSignal, error)
	SetOutOfSync(ctx context.Context, userID, conversationID uuid.UUID, outOfSync bool) error
}

type Item struct {
	Conversation domain.Conversation
	Attention    domain.AttentionClass
	OutOfSync    bool
	// NextActionDueAt comes from the linked opportunity.
	NextActionDueAt *time.Time
}

type Service struct {
	repo  Repository
	bus   events.Bus
	log   *logger.Logger
	clock func() time.Time
}

func New(repo Repository, bus events.Bus, log *logger.Logger) *Service {
	return &Service{repo: repo, bus: bus, log: log, clock: time.Now}
}

func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// List classifies every conversation of the user. Out-of-sync is computed
// from the matched signals rather than read from the cached flag.
func (s *Service) List(ctx context.Context, userID uuid.UUID, filter Filter) ([]Item, error) {
	convs, err := s.repo.ListConversations(ctx, userID)
	if err != nil {
		return nil, err
	}
	opps, err := s.repo.ListOpportunities(ctx, userID, ports.OpportunityFilter{})
	if err != nil {
		return nil, err
	}
	signals, err := s.repo.ListMatchedSignals(ctx, userID)
	if err != nil {
		return nil, err
	}

	dueByOpp := make(map[uuid.UUID]*time.Time, len(opps))
	for _, o := range opps {
		dueByOpp[o.ID] = o.NextActionDueAt
	}
	signalsByConv := make(map[uuid.UUID][]domain.ExternalSignal)
	for _, sig := range signals {
		if sig.ConversationID != nil {
			signalsByConv[*sig.ConversationID] = append(signalsByConv[*sig.ConversationID], sig)
		}
	}

	now := s.clock()
	items := make([]Item, 0, len(convs))
	for _, c := range convs {
		var due *time.Time
		if c.OpportunityID != nil {
			due = dueByOpp[*c.OpportunityID]
		}
		item := Item{
			Conversation:    c,
			Attention:       domain.ClassifyAttention(c.LastMessageSide, due, now),
			OutOfSync:       domain.IsOutOfSync(c, signalsByConv[c.ID]),
			NextActionDueAt: due,
		}
		if keep(item, filter) {
			items = append(items, item)
		}
	}

	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if rank(a.Attention) != rank(b.Attention) {
			return rank(a.Attention) < rank(b.Attention)
		}
		return lastAt(a.Conversation).After(lastAt(b.Conversation))
	})

	return items, nil
}

func keep(item Item, filter Filter) bool {
	switch filter {
	case FilterNeedsAttention:
		return item.Attention == domain.AttentionNeeded
	case FilterWaitingOnThem:
		return item.Attention == domain.AttentionWaiting
	case FilterOutOfSync:
		return item.OutOfSync
	}
	return true
}

func rank(c domain.AttentionClass) int {
	switch c {
	case domain.AttentionNeeded:
		return 0
	case domain.AttentionWaiting:
		return 1
	}
	return 2
}

func lastAt(c domain.Conversation) time.Time {
	if c.LastMessageAt == nil {
		return time.Time{}
	}
	return *c.LastMessageAt
}

// RefreshOutOfSync recomputes the cached flag and writes it only on change.
func (s *Service) RefreshOutOfSync(ctx context.Context, userID, conversationID uuid.UUID) (bool, error) {
	conv, err := s.repo.GetConversation(ctx, userID, conversationID)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return false, apperr.NotFound("conversation not found")
		}
		return false, err
	}
	signals, err := s.repo.ListSignalsForConversation(ctx, userID, conversationID)
	if err != nil {
		return false, err
	}

	outOfSync := domain.IsOutOfSync(conv, signals)
	if outOfSync != conv.IsOutOfSync {
		if err := s.repo.SetOutOfSync(ctx, userID, conversationID, outOfSync); err != nil {
			return false, err
		}
	}
	return outOfSync, nil
}

// MatchSignal links an external email to a conversation.
func (s *Service) MatchSignal(ctx context.Context, userID, signalID, conversationID uuid.UUID) (domain.ExternalSignal, error) {
	if _, err := s.repo.GetConversation(ctx, userID, conversationID); err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return domain.ExternalSignal{}, apperr.NotFound("conversation not found")
		}
		return domain.ExternalSignal{}, err
	}

	sig, err := s.repo.MatchSignal(ctx, userID, signalID, conversationID)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return domain.ExternalSignal{}, apperr.NotFound("signal not found")
		}
		return domain.ExternalSignal{}, err
	}

	if s.bus != nil {
		s.bus.Publish(ctx, events.SignalMatched{
			BaseEvent:      events.NewBaseEvent(),
			UserID:         userID,
			ConversationID: conversationID,
			SignalID:       signalID,
		})
	}
	return sig, nil
}

// Handle refreshes the out-of-sync flag whenever a conversation's messages or
// matched signals change.
func (s *Service) Handle(ctx context.Context, event events.Event) error {
	var userID, conversationID uuid.UUID
	switch e := event.(type) {
	case events.MessageRecorded:
		userID, conversationID = e.UserID, e.ConversationID
	case events.SignalMatched:
		userID, conversationID = e.UserID, e.ConversationID
	default:
		return nil
	}

	if _, err := s.RefreshOutOfSync(ctx, userID, conversationID); err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			return nil
		}
		s.log.WithContext(ctx).Error("refresh out-of-sync failed",
			"conversation_id", conversationID.String(),
			"error", err.Error(),
		)
		return err
	}
	return nil
}
