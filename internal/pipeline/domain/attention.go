package domain

import (
	"time"
)

// AttentionClass buckets a conversation for the inbox.
type AttentionClass string

const (
	AttentionNeeded  AttentionClass = "needs_attention"
	AttentionWaiting AttentionClass = "waiting_on_them"
	AttentionNeutral AttentionClass = "neutral"
)

// ClassifyAttention decides whose move it is. A conversation needs attention
// when the contact spoke last or the linked next action is overdue. The two
// buckets never overlap.
func ClassifyAttention(lastSide *Side, nextActionDueAt *time.Time, now time.Time) AttentionClass {
	overdue := nextActionDueAt != nil && nextActionDueAt.Before(now)

	if lastSide != nil && *lastSide == SideContact {
		return AttentionNeeded
	}
	if overdue {
		return AttentionNeeded
	}
	if lastSide != nil && *lastSide == SideUser {
		return AttentionWaiting
	}
	return AttentionNeutral
}

// IsOutOfSync reports whether an external email for the conversation is
// newer than anything recorded in the thread. An empty thread with any
// matched email is out of sync.
func IsOutOfSync(conv Conversation, signals []ExternalSignal) bool {
	if len(signals) == 0 {
		return false
	}

	latest := signals[0].EmailReceivedAt
	for _, s := range signals[1:] {
		if s.EmailReceivedAt.After(latest) {
			latest = s.EmailReceivedAt
		}
	}

	if !conv.HasMessages() {
		return true
	}
	return latest.After(*conv.LastMessageAt)
}
