package domain

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

type followupFixture struct {
	now  time.Time
	opp  Opportunity
	conv Conversation
	msgs []Message
}

func newFollowupFixture() followupFixture {
	now := time.Date(2026, 6, 15, 10, 0, 0, 0, time.UTC)
	userID := uuid.New()
	opp := Opportunity{ID: uuid.New(), UserID: userID, ContactID: uuid.New()}
	lastAt := now.Add(-72 * time.Hour)
	conv := Conversation{
		ID:              uuid.New(),
		UserID:          userID,
		ContactID:       opp.ContactID,
		OpportunityID:   ptrID(opp.ID),
		LastMessageAt:   &lastAt,
		LastMessageSide: sidePtr(SideUser),
	}
	msgs := []Message{
		{ID: uuid.New(), ConversationID: conv.ID, Sender: SideContact, Body: "Thanks for reaching out", SentAt: lastAt.Add(-24 * time.Hour)},
		{ID: uuid.New(), ConversationID: conv.ID, Sender: SideUser, Body: "Would you have time for a call?", SentAt: lastAt},
	}
	return followupFixture{now: now, opp: opp, conv: conv, msgs: msgs}
}

func (f followupFixture) input() FollowupInput {
	opp := f.opp
	return FollowupInput{
		Conversation: f.conv,
		Opportunity:  &opp,
		Messages:     f.msgs,
		Siblings:     []Conversation{f.conv},
		ContactName:  "Ada Lovelace",
		Now:          f.now,
	}
}

func TestEvaluateFollowupEligible(t *testing.T) {
	f := newFollowupFixture()

	got := EvaluateFollowup(f.input())
	if !got.Eligible {
		t.Fatalf("expected eligible, got reason %q", got.Reason)
	}
	if got.Sequence != 0 {
		t.Fatalf("expected sequence 0, got %d", got.Sequence)
	}
	if got.Body != FollowupBody(0, "Ada Lovelace") {
		t.Fatalf("unexpected body %q", got.Body)
	}
	if !strings.HasPrefix(got.Body, "Hi Ada,") {
		t.Fatalf("expected first-name greeting, got %q", got.Body)
	}
}

func TestEvaluateFollowupStalenessCutoffIsInclusive(t *testing.T) {
	f := newFollowupFixture()
	exactly := f.now.Add(-FollowupStaleAfter)
	f.conv.LastMessageAt = &exactly
	if got := EvaluateFollowup(f.input()); !got.Eligible {
		t.Fatalf("expected message exactly at cutoff to be stale, got %q", got.Reason)
	}

	recent := f.now.Add(-FollowupStaleAfter + time.Second)
	f.conv.LastMessageAt = &recent
	if got := EvaluateFollowup(f.input()); got.Reason != SkipNotStale {
		t.Fatalf("expected %q, got %q", SkipNotStale, got.Reason)
	}
}

func TestEvaluateFollowupSkips(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *followupFixture, in *FollowupInput)
		want   SkipReason
	}{
		{
			name: "contact spoke last",
			mutate: func(f *followupFixture, in *FollowupInput) {
				in.Conversation.LastMessageSide = sidePtr(SideContact)
			},
			want: SkipNotWaiting,
		},
		{
			name: "conversation disabled",
			mutate: func(f *followupFixture, in *FollowupInput) {
				in.Conversation.AutoFollowups = FlagFalse
			},
			want: SkipDisabled,
		},
		{
			name: "opportunity disabled",
			mutate: func(f *followupFixture, in *FollowupInput) {
				opp := f.opp
				opp.AutoFollowups = FlagFalse
				in.Opportunity = &opp
			},
			want: SkipDisabled,
		},
		{
			name: "no messages",
			mutate: func(f *followupFixture, in *FollowupInput) {
				in.Messages = nil
			},
			want: SkipNoMessages,
		},
		{
			name: "contact replied after last user message",
			mutate: func(f *followupFixture, in *FollowupInput) {
				in.Messages = append(in.Messages, Message{
					ID:     uuid.New(),
					Sender: SideContact,
					Body:   "Sure, Thursday works",
					SentAt: f.conv.LastMessageAt.Add(time.Minute),
				})
			},
			want: SkipContactReplied,
		},
		{
			name: "three auto follow-ups already sent",
			mutate: func(f *followupFixture, in *FollowupInput) {
				for i := 0; i < MaxAutoFollowups; i++ {
					in.Messages = append(in.Messages, Message{
						ID:     uuid.New(),
						Sender: SideUser,
						Body:   "nudge",
						SentAt: f.conv.LastMessageAt.Add(-time.Duration(i+1) * time.Minute),
						Source: SourceAutoFollowUp,
					})
				}
			},
			want: SkipLimitReached,
		},
		{
			name: "sibling conversation has a recent reply",
			mutate: func(f *followupFixture, in *FollowupInput) {
				replied := f.now.Add(-13 * 24 * time.Hour)
				in.Siblings = append(in.Siblings, Conversation{
					ID:              uuid.New(),
					OpportunityID:   ptrID(f.opp.ID),
					LastMessageAt:   &replied,
					LastMessageSide: sidePtr(SideContact),
				})
			},
			want: SkipOpportunityMovingForward,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFollowupFixture()
			in := f.input()
			tt.mutate(&f, &in)
			got := EvaluateFollowup(in)
			if got.Eligible {
				t.Fatal("expected conversation to be skipped")
			}
			if got.Reason != tt.want {
				t.Fatalf("expected reason %q, got %q", tt.want, got.Reason)
			}
		})
	}
}

func TestEvaluateFollowupOldSiblingReplyDoesNotBlock(t *testing.T) {
	f := newFollowupFixture()
	in := f.input()
	replied := f.now.Add(-15 * 24 * time.Hour)
	in.Siblings = append(in.Siblings, Conversation{
		ID:              uuid.New(),
		LastMessageAt:   &replied,
		LastMessageSide: sidePtr(SideContact),
	})

	if got := EvaluateFollowup(in); !got.Eligible {
		t.Fatalf("expected eligible, got %q", got.Reason)
	}
}

func TestEvaluateFollowupWithoutOpportunityIgnoresSiblings(t *testing.T) {
	f := newFollowupFixture()
	f.conv.OpportunityID = nil
	in := f.input()
	in.Opportunity = nil
	replied := f.now.Add(-time.Hour)
	in.Siblings = []Conversation{{ID: uuid.New(), LastMessageAt: &replied, LastMessageSide: sidePtr(SideContact)}}

	if got := EvaluateFollowup(in); !got.Eligible {
		t.Fatalf("expected eligible, got %q", got.Reason)
	}
}

func TestEvaluateFollowupPicksBodyBySequence(t *testing.T) {
	f := newFollowupFixture()
	in := f.input()
	in.Messages = append(in.Messages,
		Message{ID: uuid.New(), Sender: SideUser, Body: "n1", SentAt: f.conv.LastMessageAt.Add(-2 * time.Hour), Source: SourceAutoFollowUp},
		Message{ID: uuid.New(), Sender: SideUser, Body: "n2", SentAt: f.conv.LastMessageAt.Add(-time.Hour), Source: SourceAutoFollowUp},
	)

	got := EvaluateFollowup(in)
	if !got.Eligible || got.Sequence != 2 {
		t.Fatalf("expected third follow-up, got %+v", got)
	}
	if got.Body != finalFollowupBody {
		t.Fatalf("expected final body, got %q", got.Body)
	}
	if strings.Contains(got.Body, "Ada") {
		t.Fatal("expected final body to be independent of contact name")
	}
}

func TestFollowupBodies(t *testing.T) {
	first := FollowupBody(0, "Grace Hopper")
	second := FollowupBody(1, "Grace Hopper")
	third := FollowupBody(2, "Grace Hopper")

	if !strings.Contains(first, "just following up") || !strings.Contains(first, "Grace") {
		t.Fatalf("unexpected first body %q", first)
	}
	if !strings.Contains(second, "checking in again") || strings.Contains(second, "Hopper") {
		t.Fatalf("unexpected second body %q", second)
	}
	if first == second || second == third || third != FollowupBody(2, "Someone Else") {
		t.Fatal("expected three distinct bodies with a fixed final one")
	}
}

func TestFirstName(t *testing.T) {
	cases := map[string]string{
		"Ada Lovelace":     "Ada",
		"  Grace   Hopper": "Grace",
		"Cher":             "Cher",
		"":                 "there",
		"   ":              "there",
	}
	for in, want := range cases {
		if got := FirstName(in); got != want {
			t.Fatalf("FirstName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCountAutoFollowupsIgnoresContactAndManual(t *testing.T) {
	msgs := []Message{
		{Sender: SideUser, Source: SourceAutoFollowUp},
		{Sender: SideUser},
		{Sender: SideContact, Source: SourceAutoFollowUp},
	}
	if got := CountAutoFollowups(msgs); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
}
