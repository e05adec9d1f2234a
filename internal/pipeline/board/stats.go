package board

import (
	"context"

	"pipeline_backend/internal/pipeline/domain"
	"pipeline_backend/internal/pipeline/ports"

	"github.com/google/uuid"
)

// StageStat is the funnel position of one stage.
//
// Entered counts opportunities that ever transitioned into the stage or sit
// in it now. Advanced counts those that later transitioned out of it into a
// stage with a higher order.
type StageStat struct {
	Stage          domain.Stage
	Current        int
	Entered        int
	Advanced       int
	ConversionRate float64
}

type Stats struct {
	Stages     []StageStat
	Unassigned int
	Total      int
}

// PipelineStats derives funnel numbers from the stage transition log and the
// current derived placement of every opportunity.
func (s *Service) PipelineStats(ctx context.Context, userID uuid.UUID) (Stats, error) {
	snap, err := s.load(ctx, userID, ports.OpportunityFilter{})
	if err != nil {
		return Stats{}, err
	}
	transitions, err := s.repo.ListStageTransitions(ctx, userID)
	if err != nil {
		return Stats{}, err
	}

	entered := map[uuid.UUID]map[uuid.UUID]struct{}{}
	advanced := map[uuid.UUID]map[uuid.UUID]struct{}{}
	current := map[uuid.UUID]int{}
	mark := func(m map[uuid.UUID]map[uuid.UUID]struct{}, stageID, oppID uuid.UUID) {
		if m[stageID] == nil {
			m[stageID] = map[uuid.UUID]struct{}{}
		}
		m[stageID][oppID] = struct{}{}
	}

	stats := Stats{Total: len(snap.opportunities)}
	for _, opp := range snap.opportunities {
		derived := domain.DeriveStage(opp, domain.ConversationsOfOpportunity(opp, snap.conversations), snap.index)
		if !derived.Assigned {
			stats.Unassigned++
			continue
		}
		current[derived.StageID]++
		mark(entered, derived.StageID, opp.ID)
	}

	for _, t := range transitions {
		if t.ToStageID != nil {
			mark(entered, *t.ToStageID, t.OpportunityID)
		}
		if t.FromStageID == nil || t.ToStageID == nil {
			continue
		}
		fromOrder, okFrom := snap.index.OrderOf(*t.FromStageID)
		toOrder, okTo := snap.index.OrderOf(*t.ToStageID)
		if okFrom && okTo && toOrder > fromOrder {
			mark(advanced, *t.FromStageID, t.OpportunityID)
		}
	}

	for _, stage := range snap.index.Ordered() {
		st := StageStat{
			Stage:    stage,
			Current:  current[stage.ID],
			Entered:  len(entered[stage.ID]),
			Advanced: len(advanced[stage.ID]),
		}
		if st.Entered > 0 {
			st.ConversionRate = float64(st.Advanced) / float64(st.Entered)
		}
		stats.Stages = append(stats.Stages, st)
	}

	return stats, nil
}
