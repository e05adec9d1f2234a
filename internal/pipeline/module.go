// Package pipeline provides the outreach pipeline bounded context module:
// board, stage cascade, inbox, message recording and automatic follow-ups.
package pipeline

import (
	"pipeline_backend/internal/events"
	apphttp "pipeline_backend/internal/http"
	"pipeline_backend/internal/pipeline/board"
	"pipeline_backend/internal/pipeline/cascade"
	"pipeline_backend/internal/pipeline/followups"
	"pipeline_backend/internal/pipeline/handler"
	"pipeline_backend/internal/pipeline/inbox"
	"pipeline_backend/internal/pipeline/messages"
	"pipeline_backend/internal/pipeline/ports"
	"pipeline_backend/platform/config"
	"pipeline_backend/platform/logger"
	"pipeline_backend/platform/validator"
)

// Storage is the full persistence surface of the module. The pgx repository
// implements it in production.
type Storage interface {
	ports.Store
	ports.Transactor
}

// Module is the pipeline bounded context module implementing http.Module.
type Module struct {
	handler   *handler.Handler
	inbox     *inbox.Service
	followups *followups.Service
}

// NewModule creates the pipeline services over store and subscribes the
// out-of-sync refresh to message and signal events.
func NewModule(store Storage, eventBus events.Bus, val *validator.Validator, cfg config.FollowupConfig, log *logger.Logger) *Module {
	boardSvc := board.New(store)
	cascadeSvc := cascade.New(store, eventBus, log)
	messagesSvc := messages.New(store, store, eventBus, log)
	inboxSvc := inbox.New(store, eventBus, log)
	followupsSvc := followups.New(store, store, eventBus, log, cfg.GetFollowupWorkers())

	refresh := events.HandlerFunc(inboxSvc.Handle)
	eventBus.Subscribe(events.MessageRecorded{}.EventName(), refresh)
	eventBus.Subscribe(events.SignalMatched{}.EventName(), refresh)

	h := handler.New(handler.Services{
		Board:     boardSvc,
		Cascade:   cascadeSvc,
		Messages:  messagesSvc,
		Inbox:     inboxSvc,
		Followups: followupsSvc,
	}, val)

	return &Module{
		handler:   h,
		inbox:     inboxSvc,
		followups: followupsSvc,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "pipeline"
}

// FollowupService is shared with the scheduler worker.
func (m *Module) FollowupService() *followups.Service {
	return m.followups
}

// RegisterRoutes mounts pipeline routes on the protected group.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected)
}

var _ apphttp.Module = (*Module)(nil)
