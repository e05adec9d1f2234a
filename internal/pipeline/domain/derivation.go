package domain

import (
	"strings"
)

// DeriveStage picks the stage an opportunity sits in from its conversations.
// The furthest-along known conversation stage wins; when two conversations
// rank equally, the more recently updated one wins, then the lower id.
// Without any known conversation stage the opportunity's own stage is used,
// provided it is still in the index.
func DeriveStage(opp Opportunity, conversations []Conversation, index StageOrderIndex) DerivedStage {
	var best *Conversation
	bestOrder := UnassignedOrder

	for i := range conversations {
		c := &conversations[i]
		if c.StageID == nil {
			continue
		}
		order, ok := index.OrderOf(*c.StageID)
		if !ok {
			continue
		}
		if best == nil || order > bestOrder || (order == bestOrder && preferOnTie(c, best)) {
			best = c
			bestOrder = order
		}
	}

	if best != nil {
		return AssignedTo(*best.StageID)
	}

	if opp.StageID != nil {
		if _, ok := index.OrderOf(*opp.StageID); ok {
			return AssignedTo(*opp.StageID)
		}
	}

	return Unassigned()
}

func preferOnTie(candidate, current *Conversation) bool {
	if !candidate.UpdatedAt.Equal(current.UpdatedAt) {
		return candidate.UpdatedAt.After(current.UpdatedAt)
	}
	return candidate.ID.String() < current.ID.String()
}

const terminalStagePrefix = "closed"

// IsTerminalStage reports whether a stage name denotes a closed outcome,
// e.g. "Closed – Won" or "closed lost".
func IsTerminalStage(name string) bool {
	return strings.HasPrefix(strings.ToLower(name), terminalStagePrefix)
}
