package domain

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	// FollowupStaleAfter is how long the user's last message must sit unanswered.
	FollowupStaleAfter = 48 * time.Hour
	// MaxAutoFollowups caps generated nudges per conversation.
	MaxAutoFollowups = 3
	// MovingForwardWindow suppresses nudges when a sibling thread got a recent reply.
	MovingForwardWindow = 14 * 24 * time.Hour
	// SnippetMaxLength bounds lastMessageSnippet, in characters.
	SnippetMaxLength = 2000
)

// SkipReason explains why a conversation got no follow-up.
type SkipReason string

const (
	SkipNone                     SkipReason = ""
	SkipNotWaiting               SkipReason = "not_waiting_on_contact"
	SkipNotStale                 SkipReason = "not_stale"
	SkipDisabled                 SkipReason = "disabled"
	SkipNoMessages               SkipReason = "no_messages"
	SkipContactReplied           SkipReason = "contact_replied"
	SkipLimitReached             SkipReason = "limit_reached"
	SkipOpportunityMovingForward SkipReason = "opportunity_moving_forward"
)

// FollowupInput is everything the eligibility check reads. Siblings are the
// conversations of the linked opportunity and may include Conversation itself.
type FollowupInput struct {
	Conversation Conversation
	Opportunity  *Opportunity
	Messages     []Message
	Siblings     []Conversation
	ContactName  string
	Now          time.Time
}

type FollowupDecision struct {
	Eligible bool
	Reason   SkipReason
	// Sequence is the number of auto follow-ups already on the conversation.
	Sequence int
	Body     string
}

func skip(reason SkipReason) FollowupDecision {
	return FollowupDecision{Reason: reason}
}

// EvaluateFollowup applies the follow-up eligibility rules in order and, when
// all hold, picks the body for the next nudge.
func EvaluateFollowup(in FollowupInput) FollowupDecision {
	conv := in.Conversation
	cutoff := in.Now.Add(-FollowupStaleAfter)

	if conv.LastMessageSide == nil || *conv.LastMessageSide != SideUser {
		return skip(SkipNotWaiting)
	}
	if conv.LastMessageAt == nil || conv.LastMessageAt.After(cutoff) {
		return skip(SkipNotStale)
	}

	if !conv.AutoFollowups.Enabled() {
		return skip(SkipDisabled)
	}
	if in.Opportunity != nil && !in.Opportunity.AutoFollowups.Enabled() {
		return skip(SkipDisabled)
	}

	if len(in.Messages) == 0 {
		return skip(SkipNoMessages)
	}

	if contactRepliedAfterUser(in.Messages) {
		return skip(SkipContactReplied)
	}

	sent := CountAutoFollowups(in.Messages)
	if sent >= MaxAutoFollowups {
		return skip(SkipLimitReached)
	}

	if conv.OpportunityID != nil && siblingMovingForward(conv.ID, in.Siblings, in.Now) {
		return skip(SkipOpportunityMovingForward)
	}

	return FollowupDecision{
		Eligible: true,
		Sequence: sent,
		Body:     FollowupBody(sent, in.ContactName),
	}
}

func contactRepliedAfterUser(messages []Message) bool {
	var latestUser time.Time
	hasUser := false
	for _, m := range messages {
		if m.Sender != SideUser {
			continue
		}
		if !hasUser || m.SentAt.After(latestUser) {
			latestUser = m.SentAt
			hasUser = true
		}
	}

	for _, m := range messages {
		if m.Sender != SideContact {
			continue
		}
		if !hasUser || m.SentAt.After(latestUser) {
			return true
		}
	}
	return false
}

// CountAutoFollowups counts user messages written by the scheduler.
func CountAutoFollowups(messages []Message) int {
	n := 0
	for _, m := range messages {
		if m.Sender == SideUser && m.Source == SourceAutoFollowUp {
			n++
		}
	}
	return n
}

func siblingMovingForward(self uuid.UUID, siblings []Conversation, now time.Time) bool {
	windowStart := now.Add(-MovingForwardWindow)
	for _, s := range siblings {
		if s.ID == self {
			continue
		}
		if s.LastMessageSide == nil || *s.LastMessageSide != SideContact {
			continue
		}
		if s.LastMessageAt != nil && !s.LastMessageAt.Before(windowStart) {
			return true
		}
	}
	return false
}

const finalFollowupBody = "Last nudge from me, I promise! If the timing isn't right, no hard feelings at all. I'd still love to stay in touch whenever things calm down."

// FollowupBody returns the nudge text for the k-th auto follow-up (0-based).
func FollowupBody(k int, contactName string) string {
	first := FirstName(contactName)
	switch k {
	case 0:
		return fmt.Sprintf("Hi %s, just following up on my last message. Would love to hear your thoughts when you have a moment!", first)
	case 1:
		return fmt.Sprintf("Hi %s, checking in again in case my previous note got buried. Happy to find a time that works for you.", first)
	default:
		return finalFollowupBody
	}
}

// FirstName returns the first whitespace-separated token of a display name.
// A blank name greets "there".
func FirstName(displayName string) string {
	fields := strings.Fields(displayName)
	if len(fields) > 0 {
		return fields[0]
	}
	return "there"
}

// TruncateSnippet cuts s to SnippetMaxLength characters.
func TruncateSnippet(s string) string {
	if utf8.RuneCountInString(s) <= SnippetMaxLength {
		return s
	}
	runes := []rune(s)
	return string(runes[:SnippetMaxLength])
}
