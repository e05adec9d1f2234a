// Package board builds the kanban view of a user's pipeline and its funnel
// statistics. Nothing here writes to storage.
package board

import (
	"context"
	"sort"
	"time"

	"pipeline_backend/internal/pipeline/domain"
	"pipeline_backend/internal/pipeline/ports"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Repository is what the board needs from storage.
type Repository interface {
	ListStages(ctx context.Context, userID uuid.UUID) ([]domain.Stage, error)
	ListOpportunities(ctx context.Context, userID uuid.UUID, filter ports.OpportunityFilter) ([]domain.Opportunity, error)
	ListConversations(ctx context.Context, userID uuid.UUID) ([]domain.Conversation, error)
	ListStageTransitions(ctx context.Context, userID uuid.UUID) ([]domain.StageTransition, error)
}

type Filters struct {
	ports.OpportunityFilter
	// IncludeClosed keeps opportunities whose derived stage is terminal.
	IncludeClosed bool
}

type Card struct {
	Opportunity       domain.Opportunity
	Derived           domain.DerivedStage
	StageMismatch     bool
	NeedsAttention    bool
	OutOfSync         bool
	ConversationCount int
	LastActivityAt    *time.Time
}

// Column is one board lane. Stage is nil for the unassigned lane.
type Column struct {
	Key   string
	Stage *domain.Stage
	Cards []Card
}

type Board struct {
	Columns []Column
}

type Service struct {
	repo  Repository
	clock func() time.Time
}

func New(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

type snapshot struct {
	index         domain.StageOrderIndex
	opportunities []domain.Opportunity
	conversations []domain.Conversation
}

func (s *Service) load(ctx context.Context, userID uuid.UUID, filter ports.OpportunityFilter) (snapshot, error) {
	var (
		stages []domain.Stage
		snap   snapshot
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		stages, err = s.repo.ListStages(gctx, userID)
		return err
	})
	g.Go(func() error {
		var err error
		snap.opportunities, err = s.repo.ListOpportunities(gctx, userID, filter)
		return err
	})
	g.Go(func() error {
		var err error
		snap.conversations, err = s.repo.ListConversations(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return snapshot{}, err
	}

	snap.index = domain.NewStageOrderIndex(stages)
	return snap, nil
}

// ComputeBoard groups the user's opportunities by derived stage. The
// unassigned lane comes first, then one lane per stage in ascending order.
func (s *Service) ComputeBoard(ctx context.Context, userID uuid.UUID, filters Filters) (Board, error) {
	snap, err := s.load(ctx, userID, filters.OpportunityFilter)
	if err != nil {
		return Board{}, err
	}
	now := s.clock()

	stages := snap.index.Ordered()
	columns := make([]Column, 0, len(stages)+1)
	columns = append(columns, Column{Key: domain.UnassignedStageKey, Cards: []Card{}})
	position := map[string]int{domain.UnassignedStageKey: 0}
	for i := range stages {
		stage := stages[i]
		position[stage.ID.String()] = len(columns)
		columns = append(columns, Column{Key: stage.ID.String(), Stage: &stage, Cards: []Card{}})
	}

	for _, opp := range snap.opportunities {
		convs := domain.ConversationsOfOpportunity(opp, snap.conversations)
		card := buildCard(opp, convs, snap.index, now)

		if !filters.IncludeClosed && card.Derived.Assigned {
			if stage, ok := snap.index.Stage(card.Derived.StageID); ok && domain.IsTerminalStage(stage.Name) {
				continue
			}
		}

		i := position[card.Derived.Key()]
		columns[i].Cards = append(columns[i].Cards, card)
	}

	for i := range columns {
		sortCards(columns[i].Cards)
	}

	return Board{Columns: columns}, nil
}

func buildCard(opp domain.Opportunity, convs []domain.Conversation, index domain.StageOrderIndex, now time.Time) Card {
	derived := domain.DeriveStage(opp, convs, index)
	card := Card{
		Opportunity:       opp,
		Derived:           derived,
		StageMismatch:     !derived.Matches(opp.StageID),
		ConversationCount: len(convs),
	}

	if domain.ClassifyAttention(nil, opp.NextActionDueAt, now) == domain.AttentionNeeded {
		card.NeedsAttention = true
	}
	for _, c := range convs {
		if domain.ClassifyAttention(c.LastMessageSide, opp.NextActionDueAt, now) == domain.AttentionNeeded {
			card.NeedsAttention = true
		}
		if c.IsOutOfSync {
			card.OutOfSync = true
		}
		if c.LastMessageAt != nil && (card.LastActivityAt == nil || c.LastMessageAt.After(*card.LastActivityAt)) {
			at := *c.LastMessageAt
			card.LastActivityAt = &at
		}
	}
	return card
}

// sortCards puts cards needing attention first, then higher priority, then
// the most recently updated.
func sortCards(cards []Card) {
	sort.SliceStable(cards, func(i, j int) bool {
		a, b := cards[i], cards[j]
		if a.NeedsAttention != b.NeedsAttention {
			return a.NeedsAttention
		}
		pa, pb := domain.PriorityRank(a.Opportunity.Priority), domain.PriorityRank(b.Opportunity.Priority)
		if pa != pb {
			return pa > pb
		}
		if !a.Opportunity.UpdatedAt.Equal(b.Opportunity.UpdatedAt) {
			return a.Opportunity.UpdatedAt.After(b.Opportunity.UpdatedAt)
		}
		return a.Opportunity.ID.String() < b.Opportunity.ID.String()
	})
}
