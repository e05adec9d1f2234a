package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"pipeline_backend/internal/pipeline/board"
	"pipeline_backend/internal/pipeline/cascade"
	"pipeline_backend/internal/pipeline/domain"
	"pipeline_backend/internal/pipeline/followups"
	"pipeline_backend/internal/pipeline/inbox"
	"pipeline_backend/internal/pipeline/memstore"
	"pipeline_backend/internal/pipeline/messages"
	"pipeline_backend/internal/pipeline/transport"
	"pipeline_backend/platform/httpkit"
	"pipeline_backend/platform/logger"
	"pipeline_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 10, 8, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store  *memstore.Store
	engine *gin.Engine
	userID uuid.UUID
	lead   domain.Stage
	closed domain.Stage
	opp    domain.Opportunity
	conv   domain.Conversation
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memstore.New()
	log := logger.Discard()
	clock := func() time.Time { return now }
	userID := uuid.New()

	lead := store.AddStage(domain.Stage{UserID: userID, Name: "Lead", Order: 1})
	closed := store.AddStage(domain.Stage{UserID: userID, Name: "Closed won", Order: 9})
	contact := store.AddContact(domain.Contact{UserID: userID, DisplayName: "Ada Lovelace"})
	high := domain.PriorityHigh
	opp := store.AddOpportunity(domain.Opportunity{UserID: userID, ContactID: contact.ID, Title: "Analytical engine", Priority: &high})
	lastAt := now.Add(-72 * time.Hour)
	side := domain.SideUser
	conv := store.AddConversation(domain.Conversation{
		UserID:          userID,
		ContactID:       contact.ID,
		OpportunityID:   &opp.ID,
		LastMessageAt:   &lastAt,
		LastMessageSide: &side,
	})
	store.AddMessage(domain.Message{ConversationID: conv.ID, Sender: domain.SideUser, Body: "Hello!", SentAt: lastAt})

	h := New(Services{
		Board:     board.New(store).WithClock(clock),
		Cascade:   cascade.New(store, nil, log).WithClock(clock),
		Messages:  messages.New(store, store, nil, log).WithClock(clock),
		Inbox:     inbox.New(store, nil, log).WithClock(clock),
		Followups: followups.New(store, store, nil, log, 2),
	}, validator.New())
	h.clock = clock

	engine := gin.New()
	api := engine.Group("/api/v1")
	api.Use(func(c *gin.Context) {
		if c.GetHeader("X-Anonymous") == "" {
			c.Set(httpkit.ContextUserIDKey, userID)
		}
		c.Next()
	})
	h.RegisterRoutes(api)

	return fixture{store: store, engine: engine, userID: userID, lead: lead, closed: closed, opp: opp, conv: conv}
}

func (f fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestMoveStageToClosedClearsActionsAndCascades(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPut, "/api/v1/opportunities/"+f.opp.ID.String()+"/stage", map[string]any{"stageId": f.closed.ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decode[transport.MoveStageResponse](t, rec)
	assert.True(t, res.Terminal)
	assert.EqualValues(t, 1, res.ConversationsUpdated)
	assert.Nil(t, res.Opportunity.Priority)
	require.NotNil(t, res.Opportunity.StageID)
	assert.Equal(t, f.closed.ID, *res.Opportunity.StageID)

	rec = f.do(t, http.MethodGet, "/api/v1/board", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	b := decode[transport.BoardResponse](t, rec)
	require.Len(t, b.Columns, 3)
	assert.Equal(t, domain.UnassignedStageKey, b.Columns[0].Key)
	assert.Empty(t, b.Columns[0].Cards)
	assert.Equal(t, f.closed.ID.String(), b.Columns[2].Key)
	require.Len(t, b.Columns[2].Cards, 1)
	assert.False(t, b.Columns[2].Cards[0].StageMismatch)

	rec = f.do(t, http.MethodGet, "/api/v1/board?includeClosed=false", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	b = decode[transport.BoardResponse](t, rec)
	assert.Empty(t, b.Columns[2].Cards)
}

func TestMoveStageRequiresStageKey(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPut, "/api/v1/opportunities/"+f.opp.ID.String()+"/stage", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/v1/opportunities/"+f.opp.ID.String()+"/stage", map[string]any{"stageId": uuid.NewString()})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/v1/opportunities/not-a-uuid/stage", map[string]any{"stageId": nil})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMoveStageToNullUnassigns(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPut, "/api/v1/opportunities/"+f.opp.ID.String()+"/stage", map[string]any{"stageId": f.lead.ID})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/v1/opportunities/"+f.opp.ID.String()+"/stage", map[string]any{"stageId": nil})
	require.Equal(t, http.StatusOK, rec.Code)
	res := decode[transport.MoveStageResponse](t, rec)
	assert.Nil(t, res.Opportunity.StageID)
	assert.False(t, res.Terminal)
}

func TestUpdateOpportunityPatch(t *testing.T) {
	f := newFixture(t)
	path := "/api/v1/opportunities/" + f.opp.ID.String()

	rec := f.do(t, http.MethodPatch, path, map[string]any{"title": "<b>Difference</b> engine", "priority": nil, "autoFollowupsEnabled": false})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[transport.OpportunityResponse](t, rec)
	assert.Equal(t, "Difference engine", res.Title)
	assert.Nil(t, res.Priority)
	assert.False(t, res.AutoFollowupsEnabled)

	rec = f.do(t, http.MethodPatch, path, map[string]any{"priority": "urgent"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPatch, path, map[string]any{"stageId": f.lead.ID})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPatch, path, map[string]any{"title": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteOpportunity(t *testing.T) {
	f := newFixture(t)
	path := "/api/v1/opportunities/" + f.opp.ID.String()

	rec := f.do(t, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodDelete, path, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConversationsInboxAndMessages(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/conversations?filter=waiting_on_them", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[transport.InboxResponse](t, rec)
	require.Equal(t, 1, list.Total)
	assert.Equal(t, string(domain.AttentionWaiting), list.Items[0].Attention)

	rec = f.do(t, http.MethodGet, "/api/v1/conversations?filter=starred", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/conversations/"+f.conv.ID.String()+"/messages", map[string]any{"sender": "contact", "body": "Let's meet Thursday"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	msg := decode[transport.MessageResponse](t, rec)
	assert.Equal(t, "confirmed", msg.Status)

	rec = f.do(t, http.MethodGet, "/api/v1/conversations?filter=needs_attention", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list = decode[transport.InboxResponse](t, rec)
	require.Equal(t, 1, list.Total)
	assert.Equal(t, f.conv.ID, list.Items[0].Conversation.ID)

	rec = f.do(t, http.MethodPost, "/api/v1/conversations/"+f.conv.ID.String()+"/messages", map[string]any{"sender": "bot", "body": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunFollowupsThenConfirm(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/followups/run", map[string]any{"now": now})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[transport.RunFollowupsResponse](t, rec)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Created)
	assert.Empty(t, res.Failures)

	msgs, err := f.store.ListMessages(context.Background(), f.conv.ID)
	require.NoError(t, err)
	var pending domain.Message
	for _, m := range msgs {
		if m.Source == domain.SourceAutoFollowUp {
			pending = m
		}
	}
	require.Equal(t, domain.MessageStatusPending, pending.Status)
	assert.Equal(t, domain.FollowupBody(0, "Ada Lovelace"), pending.Body)

	rec = f.do(t, http.MethodPost, "/api/v1/messages/"+pending.ID.String()+"/confirm", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "confirmed", decode[transport.MessageResponse](t, rec).Status)

	rec = f.do(t, http.MethodPost, "/api/v1/followups/run", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 0, decode[transport.RunFollowupsResponse](t, rec).Created)
}

func TestMatchSignal(t *testing.T) {
	f := newFixture(t)
	sig := f.store.AddSignal(domain.ExternalSignal{UserID: f.userID, SenderName: "Ada", EmailReceivedAt: now})

	rec := f.do(t, http.MethodPost, "/api/v1/signals/"+sig.ID.String()+"/match", map[string]any{"conversationId": f.conv.ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[transport.SignalResponse](t, rec)
	require.NotNil(t, res.ConversationID)
	assert.Equal(t, f.conv.ID, *res.ConversationID)

	rec = f.do(t, http.MethodGet, "/api/v1/conversations?filter=out_of_sync", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[transport.InboxResponse](t, rec).Total)

	rec = f.do(t, http.MethodPost, "/api/v1/signals/"+sig.ID.String()+"/match", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPipelineStats(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPut, "/api/v1/opportunities/"+f.opp.ID.String()+"/stage", map[string]any{"stageId": f.lead.ID})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodPut, "/api/v1/opportunities/"+f.opp.ID.String()+"/stage", map[string]any{"stageId": f.closed.ID})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/v1/pipeline/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[transport.StatsResponse](t, rec)
	require.Len(t, stats.Stages, 2)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Stages[0].Entered)
	assert.Equal(t, 1, stats.Stages[0].Advanced)
	assert.InDelta(t, 1.0, stats.Stages[0].ConversionRate, 1e-9)
	assert.Equal(t, 1, stats.Stages[1].Current)
}

func TestAnonymousCallerIsRejected(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/board", nil)
	req.Header.Set("X-Anonymous", "1")
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
