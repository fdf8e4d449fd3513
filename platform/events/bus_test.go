package events

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"

	"verification_backend/platform/logger"
)

type testEvent struct {
	BaseEvent
}

func (testEvent) EventName() string { return "test.event" }

func TestPublishDeliversToAllHandlers(t *testing.T) {
	bus := NewInMemoryBus(logger.NewWithWriter("production", io.Discard))
	var calls atomic.Int32
	for i := 0; i < 3; i++ {
		bus.Subscribe("test.event", HandlerFunc(func(context.Context, Event) error {
			calls.Add(1)
			return nil
		}))
	}
	bus.Subscribe("test.event", HandlerFunc(func(context.Context, Event) error {
		panic("boom")
	}))

	ctx, cancel := context.WithCancel(context.Background())
	bus.Publish(ctx, testEvent{BaseEvent: NewBaseEvent()})
	cancel()
	bus.Wait()

	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", calls.Load())
	}
}

func TestPublishSyncJoinsErrors(t *testing.T) {
	bus := NewInMemoryBus(nil)
	first := errors.New("first")
	bus.Subscribe("test.event", HandlerFunc(func(context.Context, Event) error { return first }))
	bus.Subscribe("test.event", HandlerFunc(func(context.Context, Event) error { return nil }))

	err := bus.PublishSync(context.Background(), testEvent{})
	if !errors.Is(err, first) {
		t.Fatalf("err = %v, want first", err)
	}
	if err := bus.PublishSync(context.Background(), otherEvent{}); err != nil {
		t.Fatalf("no handlers should mean no error, got %v", err)
	}
}

type otherEvent struct{ BaseEvent }

func (otherEvent) EventName() string { return "other.event" }
