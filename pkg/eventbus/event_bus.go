// Package eventbus provides event-driven communication between the
// coordinator, the trigger engine and the API surface.
package eventbus

import (
	"context"

	"github.com/stagehq/stagehand/pkg/events"
)

type EventHandler func(ctx context.Context, event events.Event) error

type EventPublisher interface {
	Publish(ctx context.Context, event events.Event) error
}

type EventSubscriber interface {
	// Handle binds a handler to one event type. HandleAll receives every
	// event; the trigger engine uses it to evaluate condition rules
	// against the whole stream.
	Handle(eventType events.EventType, handler EventHandler)
	HandleAll(handler EventHandler)
	Subscribe(ctx context.Context) error
}

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
