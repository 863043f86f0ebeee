package esclient

import (
	"context"
	"fmt"
	"sort"
)

// EventHandler processes one decoded event delivered by a subscription.
// Returning an error leaves the entry unacknowledged; see Subscribe for what
// happens next.
type EventHandler interface {
	Handle(ctx context.Context, event Event) error
}

// NewEventHandlerFunc creates an EventHandler from a plain function.
//
// There is no type-checking or filtering: the handler will receive all events
// that it is invoked with. If you need type safety, use OnEvent[T] instead.
//
// Example Usage:
//
//	handler := NewEventHandlerFunc(func(ctx context.Context, ev Event) error {
//	    fmt.Println("Received event:", ev.EventType())
//	    return nil
//	})
func NewEventHandlerFunc(fn func(ctx context.Context, event Event) error) EventHandler {
	return eventHandlerFunc(fn)
}

type eventHandlerFunc func(ctx context.Context, event Event) error

func (h eventHandlerFunc) Handle(ctx context.Context, event Event) error {
	return h(ctx, event)
}

// typedEventHandler is a strongly typed event handler for a specific Event type T.
type typedEventHandler[T Event] func(ctx context.Context, ev T) error

// EventName returns the tag of T. Variants report a constant tag, so calling
// EventType on the zero value is safe for pointer receivers.
func (h typedEventHandler[T]) EventName() string {
	var zero T
	return zero.EventType()
}

// Handle processes the event if it matches the type T.
// Returns ErrSkippedEvent if the event is of the wrong type.
func (h typedEventHandler[T]) Handle(ctx context.Context, event Event) error {
	ev, ok := event.(T)
	if !ok {
		return ErrSkippedEvent{Event: event}
	}
	return h(ctx, ev)
}

// OnEvent creates a strongly-typed EventHandler for a specific event type.
//
// When used in an EventGroupProcessor the handler only receives events of type
// T; called directly with another type it returns ErrSkippedEvent.
//
// Example Usage:
//
//	handler := OnEvent(func(ctx context.Context, ev *order.OrderAccepted) error {
//	    fmt.Println("Order accepted by", ev.DriverID)
//	    return nil
//	})
func OnEvent[T Event](fn func(ctx context.Context, ev T) error) EventHandler {
	return typedEventHandler[T](fn)
}

// EventGroupProcessor routes incoming events to the typed handler registered
// for their tag.
type EventGroupProcessor struct {
	handlers   map[string]EventHandler
	skipAbsent bool
}

// NewEventGroupProcessor creates a group of typed event handlers.
//
// Every handler must come from OnEvent. Duplicate handlers for one tag panic.
// If no handler exists for an event, Handle returns ErrSkippedEvent.
//
// Example Usage:
//
//	p := &Projector{}
//	group := NewEventGroupProcessor(
//	    OnEvent(p.OnOrderPlaced),
//	    OnEvent(p.OnOrderAccepted),
//	)
func NewEventGroupProcessor(handlers ...EventHandler) *EventGroupProcessor {
	m := make(map[string]EventHandler, len(handlers))
	for _, h := range handlers {
		u, ok := h.(interface{ EventName() string })
		if !ok {
			panic(fmt.Errorf("handler %T does not have a function `EventName()`", h))
		}

		name := u.EventName()
		if _, exists := m[name]; exists {
			panic(fmt.Errorf("duplicate handler for event %s: %w", name, ErrDuplicateHandler))
		}
		m[name] = h
	}

	return &EventGroupProcessor{handlers: m}
}

// IgnoreUnhandled makes Handle return nil for events without a handler, which
// is what a subscription handler wants: the entry is acknowledged and dropped.
func (p *EventGroupProcessor) IgnoreUnhandled() *EventGroupProcessor {
	p.skipAbsent = true
	return p
}

// Handle routes the given event to the correct typed handler.
func (p *EventGroupProcessor) Handle(ctx context.Context, ev Event) error {
	h, ok := p.handlers[ev.EventType()]
	if !ok {
		if p.skipAbsent {
			return nil
		}
		return ErrSkippedEvent{Event: ev}
	}
	return h.Handle(ctx, ev)
}

// EventTypes returns the sorted tags handled by this group.
func (p *EventGroupProcessor) EventTypes() []string {
	out := make([]string, 0, len(p.handlers))
	for name := range p.handlers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
