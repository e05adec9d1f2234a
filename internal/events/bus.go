// Package events re-exports the platform event bus so modules can depend on
// internal/events alone.
package events

import (
	platformevents "pipeline_backend/platform/events"
	"pipeline_backend/platform/logger"
)

type InMemoryBus = platformevents.InMemoryBus

func NewInMemoryBus(log *logger.Logger) *InMemoryBus {
	return platformevents.NewInMemoryBus(log)
}
