package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"pipeline_backend/platform/logger"
)

type pingEvent struct {
	BaseEvent
}

func (pingEvent) EventName() string { return "test.ping" }

func TestPublishSyncJoinsErrors(t *testing.T) {
	bus := NewInMemoryBus(logger.Discard())
	boom := errors.New("boom")

	var calls int32
	bus.Subscribe("test.ping", HandlerFunc(func(ctx context.Context, e Event) error {
		atomic.AddInt32(&calls, 1)
		return boom
	}))
	bus.Subscribe("test.ping", HandlerFunc(func(ctx context.Context, e Event) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}))

	err := bus.PublishSync(context.Background(), pingEvent{BaseEvent: NewBaseEvent()})
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error to contain boom, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected both handlers to run, got %d", calls)
	}
}

func TestPublishRecoversPanics(t *testing.T) {
	bus := NewInMemoryBus(logger.Discard())

	var ran int32
	bus.Subscribe("test.ping", HandlerFunc(func(ctx context.Context, e Event) error {
		panic("handler exploded")
	}))
	bus.Subscribe("test.ping", HandlerFunc(func(ctx context.Context, e Event) error {
		atomic.AddInt32(&ran, 1)
		return nil
	}))

	bus.Publish(context.Background(), pingEvent{BaseEvent: NewBaseEvent()})
	bus.Wait()

	if atomic.LoadInt32(&ran) != 1 {
		t.Fatal("expected healthy handler to run despite the panicking one")
	}
}

func TestPublishWithoutSubscribersIsNoop(t *testing.T) {
	bus := NewInMemoryBus(logger.Discard())
	if err := bus.PublishSync(context.Background(), pingEvent{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bus.Publish(context.Background(), pingEvent{})
	bus.Wait()
}
