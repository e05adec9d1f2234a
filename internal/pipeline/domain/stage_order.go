package domain

import (
	"math"
	"sort"

	"github.com/google/uuid"
)

// UnassignedStageKey is the board column key for opportunities without a stage.
const UnassignedStageKey = "unassigned"

// UnassignedOrder ranks the unassigned column below every real stage.
const UnassignedOrder = math.MinInt

// StageOrderIndex maps a user's stage ids onto their order. Ids not in the
// index are unknown and never resolve to an order.
type StageOrderIndex struct {
	orders map[uuid.UUID]int
	stages map[uuid.UUID]Stage
	sorted []Stage
}

func NewStageOrderIndex(stages []Stage) StageOrderIndex {
	idx := StageOrderIndex{
		orders: make(map[uuid.UUID]int, len(stages)),
		stages: make(map[uuid.UUID]Stage, len(stages)),
		sorted: make([]Stage, 0, len(stages)),
	}
	for _, s := range stages {
		idx.orders[s.ID] = s.Order
		idx.stages[s.ID] = s
	}
	for _, s := range idx.stages {
		idx.sorted = append(idx.sorted, s)
	}
	sort.Slice(idx.sorted, func(i, j int) bool {
		if idx.sorted[i].Order != idx.sorted[j].Order {
			return idx.sorted[i].Order < idx.sorted[j].Order
		}
		return idx.sorted[i].ID.String() < idx.sorted[j].ID.String()
	})
	return idx
}

func (i StageOrderIndex) OrderOf(id uuid.UUID) (int, bool) {
	order, ok := i.orders[id]
	return order, ok
}

func (i StageOrderIndex) Stage(id uuid.UUID) (Stage, bool) {
	s, ok := i.stages[id]
	return s, ok
}

// Ordered returns the stages in ascending order.
func (i StageOrderIndex) Ordered() []Stage {
	out := make([]Stage, len(i.sorted))
	copy(out, i.sorted)
	return out
}

func (i StageOrderIndex) Len() int {
	return len(i.sorted)
}

// DerivedStage is either a concrete stage or the unassigned sentinel.
type DerivedStage struct {
	StageID  uuid.UUID
	Assigned bool
}

func Unassigned() DerivedStage {
	return DerivedStage{}
}

func AssignedTo(id uuid.UUID) DerivedStage {
	return DerivedStage{StageID: id, Assigned: true}
}

// Key is the board column key.
func (d DerivedStage) Key() string {
	if !d.Assigned {
		return UnassignedStageKey
	}
	return d.StageID.String()
}

// Ptr returns the stage id, or nil for unassigned.
func (d DerivedStage) Ptr() *uuid.UUID {
	if !d.Assigned {
		return nil
	}
	id := d.StageID
	return &id
}

// Rank returns the derived stage's order, UnassignedOrder for unassigned.
func (d DerivedStage) Rank(index StageOrderIndex) int {
	if !d.Assigned {
		return UnassignedOrder
	}
	if order, ok := index.OrderOf(d.StageID); ok {
		return order
	}
	return UnassignedOrder
}

// Matches reports whether the derived stage equals a stored nullable stage id.
func (d DerivedStage) Matches(stageID *uuid.UUID) bool {
	if stageID == nil {
		return !d.Assigned
	}
	return d.Assigned && d.StageID == *stageID
}
