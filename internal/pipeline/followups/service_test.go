package followups

import (
	"context"
	"errors"
	"testing"
	"time"

	"pipeline_backend/internal/pipeline/domain"
	"pipeline_backend/internal/pipeline/memstore"
	"pipeline_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 10, 12, 8, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T {
	return &v
}

type fixture struct {
	store   *memstore.Store
	svc     *Service
	userID  uuid.UUID
	contact domain.Contact
	opp     domain.Opportunity
}

func newFixture() fixture {
	store := memstore.New()
	userID := uuid.New()
	contact := store.AddContact(domain.Contact{UserID: userID, DisplayName: "Grace Hopper"})
	opp := store.AddOpportunity(domain.Opportunity{UserID: userID, ContactID: contact.ID, Title: "Compiler team"})
	return fixture{
		store:   store,
		svc:     New(store, store, nil, logger.Discard(), 4),
		userID:  userID,
		contact: contact,
		opp:     opp,
	}
}

// staleConversation seeds a conversation whose last message is the user's,
// sent at lastAt.
func (f fixture) staleConversation(lastAt time.Time) domain.Conversation {
	conv := f.store.AddConversation(domain.Conversation{
		UserID:             f.userID,
		ContactID:          f.contact.ID,
		OpportunityID:      ptr(f.opp.ID),
		LastMessageAt:      &lastAt,
		LastMessageSide:    ptr(domain.SideUser),
		LastMessageSnippet: ptr("Would you have time for a call?"),
	})
	f.store.AddMessage(domain.Message{ConversationID: conv.ID, Sender: domain.SideUser, Body: "Would you have time for a call?", SentAt: lastAt})
	return conv
}

func (f fixture) autoFollowups(t *testing.T, conversationID uuid.UUID) []domain.Message {
	t.Helper()
	msgs, err := f.store.ListMessages(context.Background(), conversationID)
	require.NoError(t, err)
	out := make([]domain.Message, 0)
	for _, m := range msgs {
		if m.Source == domain.SourceAutoFollowUp {
			out = append(out, m)
		}
	}
	return out
}

func TestRunCreatesFirstFollowup(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	conv := f.staleConversation(now.Add(-72 * time.Hour))

	result, err := f.svc.Run(ctx, f.userID, now)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Created)
	assert.Empty(t, result.Failures)

	created := f.autoFollowups(t, conv.ID)
	require.Len(t, created, 1)
	want := domain.FollowupBody(0, "Grace Hopper")
	assert.Equal(t, want, created[0].Body)
	assert.Equal(t, domain.SideUser, created[0].Sender)
	assert.Equal(t, domain.MessageStatusPending, created[0].Status)
	assert.True(t, created[0].SentAt.Equal(now))

	got, err := f.store.GetConversation(ctx, f.userID, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, want, *got.LastMessageSnippet)
	assert.True(t, got.LastMessageAt.Equal(now))
	assert.Equal(t, domain.SideUser, *got.LastMessageSide)
}

func TestRunIsIdempotentForSameNow(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	conv := f.staleConversation(now.Add(-72 * time.Hour))

	first, err := f.svc.Run(ctx, f.userID, now)
	require.NoError(t, err)
	require.Equal(t, 1, first.Created)

	second, err := f.svc.Run(ctx, f.userID, now)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Created)
	assert.Len(t, f.autoFollowups(t, conv.ID), 1)
}

func TestRunNeverExceedsThreeFollowups(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	conv := f.staleConversation(now.Add(-72 * time.Hour))

	at := now
	for i := 0; i < 6; i++ {
		_, err := f.svc.Run(ctx, f.userID, at)
		require.NoError(t, err)
		at = at.Add(3 * 24 * time.Hour)
	}

	created := f.autoFollowups(t, conv.ID)
	require.Len(t, created, domain.MaxAutoFollowups)
	assert.Equal(t, domain.FollowupBody(0, "Grace Hopper"), created[0].Body)
	assert.Equal(t, domain.FollowupBody(1, "Grace Hopper"), created[1].Body)
	assert.Equal(t, domain.FollowupBody(2, "Grace Hopper"), created[2].Body)
}

func TestRunSkipsWhenContactReplied(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	lastAt := now.Add(-72 * time.Hour)
	conv := f.staleConversation(lastAt)
	// The summary still says the user spoke last, but a later reply exists.
	f.store.AddMessage(domain.Message{ConversationID: conv.ID, Sender: domain.SideContact, Body: "Yes!", SentAt: lastAt.Add(time.Hour)})

	result, err := f.svc.Run(ctx, f.userID, now)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 0, result.Created)
	assert.Empty(t, f.autoFollowups(t, conv.ID))
}

func TestRunRespectsDisabledFlags(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	conv := f.staleConversation(now.Add(-72 * time.Hour))

	_, err := f.store.UpdateOpportunity(ctx, f.userID, f.opp.ID, domain.OpportunityPatch{AutoFollowups: domain.SetTo(domain.FlagFalse)})
	require.NoError(t, err)

	result, err := f.svc.Run(ctx, f.userID, now)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Created)
	assert.Empty(t, f.autoFollowups(t, conv.ID))
}

func TestRunSkipsWhenSiblingMovingForward(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	conv := f.staleConversation(now.Add(-72 * time.Hour))
	f.store.AddConversation(domain.Conversation{
		UserID:          f.userID,
		ContactID:       uuid.New(),
		OpportunityID:   ptr(f.opp.ID),
		LastMessageAt:   ptr(now.Add(-5 * 24 * time.Hour)),
		LastMessageSide: ptr(domain.SideContact),
	})

	result, err := f.svc.Run(ctx, f.userID, now)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Created)
	assert.Empty(t, f.autoFollowups(t, conv.ID))
}

func TestRunContinuesPastFailures(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	broken := f.staleConversation(now.Add(-72 * time.Hour))
	healthy := f.store.AddConversation(domain.Conversation{
		UserID:          f.userID,
		ContactID:       f.contact.ID,
		LastMessageAt:   ptr(now.Add(-96 * time.Hour)),
		LastMessageSide: ptr(domain.SideUser),
	})
	f.store.AddMessage(domain.Message{ConversationID: healthy.ID, Sender: domain.SideUser, Body: "ping", SentAt: now.Add(-96 * time.Hour)})
	f.store.FailInsertFor(broken.ID, errors.New("constraint violation"))

	result, err := f.svc.Run(ctx, f.userID, now)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.Created)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, broken.ID, result.Failures[0].ConversationID)

	got, err := f.store.GetConversation(ctx, f.userID, broken.ID)
	require.NoError(t, err)
	assert.True(t, got.LastMessageAt.Equal(now.Add(-72*time.Hour)), "failed conversation must be rolled back")
	assert.Len(t, f.autoFollowups(t, healthy.ID), 1)
}

func TestRunWithNoCandidatesIsEmptySuccess(t *testing.T) {
	f := newFixture()

	result, err := f.svc.Run(context.Background(), f.userID, now)
	require.NoError(t, err)
	assert.Equal(t, Result{Failures: []ItemFailure{}}, result)
}

func TestRunManyConversationsConcurrently(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		f.staleConversation(now.Add(-time.Duration(50+i) * time.Hour))
	}

	result, err := f.svc.Run(ctx, f.userID, now)
	require.NoError(t, err)
	assert.Equal(t, 20, result.Processed)
	// All twenty share the opportunity, but none has a contact reply.
	assert.Equal(t, 20, result.Created)

	again, err := f.svc.Run(ctx, f.userID, now)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Created)
}

func TestUsersDue(t *testing.T) {
	f := newFixture()
	f.staleConversation(now.Add(-72 * time.Hour))

	users, err := f.svc.UsersDue(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{f.userID}, users)

	none, err := f.svc.UsersDue(context.Background(), now.Add(-48*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, none)
}
