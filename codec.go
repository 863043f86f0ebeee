package esclient

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// ContentTypeJSON is the content type of every payload produced by Codec.
const ContentTypeJSON = "application/json"

// Codec converts events to and from (type tag, payload) pairs.
//
// Every variant the process understands must be registered before the first
// Decode. Registration is keyed by the tag the variant reports from EventType,
// so no reflection is involved in resolving a variant on read.
type Codec struct {
	mu        sync.RWMutex
	factories map[string]func() Event
}

// NewCodec creates a codec and registers every factory under its EventType.
//
// Example Usage:
//
//	codec := NewCodec(
//	    func() Event { return &OrderAccepted{} },
//	    func() Event { return &OrderCompleted{} },
//	)
func NewCodec(factories ...func() Event) *Codec {
	c := &Codec{factories: make(map[string]func() Event, len(factories))}
	for _, fn := range factories {
		c.Register(fn)
	}
	return c
}

// Register adds a variant under the tag returned by fn().EventType().
//
// Panics:
//   - If the factory function is nil.
//   - If the factory returns nil.
//   - If an event with the same tag is already registered.
func (c *Codec) Register(fn func() Event) {
	if fn == nil {
		panic("cannot register nil factory")
	}
	ev := fn()
	if ev == nil {
		panic("factory returned nil event")
	}
	c.RegisterName(ev.EventType(), fn)
}

// RegisterName adds a variant under a custom tag, e.g. to read history written
// under a name the type no longer reports. It panics like Register.
func (c *Codec) RegisterName(name string, fn func() Event) {
	if fn == nil {
		panic("cannot register nil factory")
	}
	if fn() == nil {
		panic(fmt.Sprintf("factory returned nil for event: %s", name))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.factories[name]; exists {
		panic(fmt.Sprintf("event already registered: %s", name))
	}
	c.factories[name] = fn
}

// Encode returns the event's tag and its JSON payload. The payload holds every
// field except the tag itself. Unregistered variants are rejected so that
// nothing is written that this codec could not read back.
func (c *Codec) Encode(ev Event) (string, []byte, error) {
	if ev == nil {
		return "", nil, ErrNilEvent
	}
	eventType := ev.EventType()

	c.mu.RLock()
	_, ok := c.factories[eventType]
	c.mu.RUnlock()
	if !ok {
		return "", nil, &UnknownEventTypeError{EventType: eventType}
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return "", nil, fmt.Errorf("cannot marshal event %q: %w", eventType, err)
	}
	return eventType, data, nil
}

// Decode resolves the variant registered for eventType and fills it from data.
// The store-assigned revision is not known here; callers set it afterwards.
func (c *Codec) Decode(eventType string, data []byte) (Event, error) {
	c.mu.RLock()
	factory, ok := c.factories[eventType]
	c.mu.RUnlock()

	if !ok {
		return nil, &UnknownEventTypeError{EventType: eventType}
	}

	ev := factory()
	if len(data) > 0 {
		if err := json.Unmarshal(data, ev); err != nil {
			return nil, fmt.Errorf("cannot unmarshal event %q: %w", eventType, err)
		}
	}
	return ev, nil
}

// Types returns the registered tags in sorted order.
func (c *Codec) Types() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.factories))
	for name := range c.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
