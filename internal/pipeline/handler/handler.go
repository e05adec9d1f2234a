package handler

import (
	"net/http"
	"time"

	"pipeline_backend/internal/pipeline/board"
	"pipeline_backend/internal/pipeline/cascade"
	"pipeline_backend/internal/pipeline/domain"
	"pipeline_backend/internal/pipeline/followups"
	"pipeline_backend/internal/pipeline/inbox"
	"pipeline_backend/internal/pipeline/messages"
	"pipeline_backend/internal/pipeline/transport"
	"pipeline_backend/platform/httpkit"
	"pipeline_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
	msgInvalidID        = "invalid id"
)

// Services groups the pipeline use cases served over HTTP.
type Services struct {
	Board     *board.Service
	Cascade   *cascade.Service
	Messages  *messages.Service
	Inbox     *inbox.Service
	Followups *followups.Service
}

type Handler struct {
	svc   Services
	val   *validator.Validator
	clock func() time.Time
}

func New(svc Services, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val, clock: time.Now}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/board", h.GetBoard)
	rg.GET("/pipeline/stats", h.GetStats)

	opps := rg.Group("/opportunities")
	opps.PATCH("/:id", h.UpdateOpportunity)
	opps.PUT("/:id/stage", h.MoveStage)
	opps.DELETE("/:id", h.DeleteOpportunity)

	rg.GET("/conversations", h.ListConversations)
	rg.POST("/conversations/:id/messages", h.RecordMessage)
	rg.POST("/messages/:id/confirm", h.ConfirmMessage)
	rg.POST("/signals/:id/match", h.MatchSignal)
	rg.POST("/followups/run", h.RunFollowups)
}

func (h *Handler) GetBoard(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}

	var q transport.BoardQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(q); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.FieldErrors(err))
		return
	}

	b, err := h.svc.Board.ComputeBoard(c.Request.Context(), id.UserID(), toBoardFilters(q))
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, toBoardResponse(b))
}

func (h *Handler) GetStats(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}

	stats, err := h.svc.Board.PipelineStats(c.Request.Context(), id.UserID())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, toStatsResponse(stats))
}

func (h *Handler) UpdateOpportunity(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}
	oppID, ok := parseID(c)
	if !ok {
		return
	}

	var req transport.UpdateOpportunityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	patch, err := toPatch(req)
	if httpkit.HandleError(c, err) {
		return
	}

	opp, err := h.svc.Cascade.UpdateOpportunity(c.Request.Context(), id.UserID(), oppID, patch)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, toOpportunityResponse(opp))
}

func (h *Handler) MoveStage(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}
	oppID, ok := parseID(c)
	if !ok {
		return
	}

	var req transport.MoveStageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if !req.StageID.Set {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, map[string]string{"stageId": "required"})
		return
	}

	result, err := h.svc.Cascade.MoveOpportunityToStage(c.Request.Context(), id.UserID(), oppID, req.StageID.Value)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, toMoveStageResponse(result))
}

func (h *Handler) DeleteOpportunity(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}
	oppID, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.svc.Cascade.DeleteOpportunity(c.Request.Context(), id.UserID(), oppID); httpkit.HandleError(c, err) {
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ListConversations(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}

	var q transport.InboxQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	filter, ok := inbox.ParseFilter(q.Filter)
	if !ok {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, map[string]string{"filter": "oneof=all needs_attention waiting_on_them out_of_sync"})
		return
	}

	items, err := h.svc.Inbox.List(c.Request.Context(), id.UserID(), filter)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, toInboxResponse(items))
}

func (h *Handler) RecordMessage(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}
	convID, ok := parseID(c)
	if !ok {
		return
	}

	var req transport.RecordMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.FieldErrors(err))
		return
	}

	msg, err := h.svc.Messages.Record(c.Request.Context(), id.UserID(), convID, messages.Input{
		Sender: domain.Side(req.Sender),
		Body:   req.Body,
		SentAt: req.SentAt,
		Source: req.Source,
	})
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.JSON(c, http.StatusCreated, toMessageResponse(msg))
}

func (h *Handler) ConfirmMessage(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}
	msgID, ok := parseID(c)
	if !ok {
		return
	}

	msg, err := h.svc.Messages.Confirm(c.Request.Context(), id.UserID(), msgID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, toMessageResponse(msg))
}

func (h *Handler) MatchSignal(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}
	signalID, ok := parseID(c)
	if !ok {
		return
	}

	var req transport.MatchSignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.FieldErrors(err))
		return
	}

	sig, err := h.svc.Inbox.MatchSignal(c.Request.Context(), id.UserID(), signalID, req.ConversationID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, toSignalResponse(sig))
}

// RunFollowups runs the scheduler for the caller. An empty body runs it at
// the current time.
func (h *Handler) RunFollowups(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}

	var req transport.RunFollowupsRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
			return
		}
	}
	now := h.clock()
	if req.Now != nil {
		now = *req.Now
	}

	result, err := h.svc.Followups.Run(c.Request.Context(), id.UserID(), now)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, toRunFollowupsResponse(result))
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidID, nil)
		return uuid.Nil, false
	}
	return id, true
}
