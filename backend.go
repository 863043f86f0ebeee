package esclient

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Backend is the networked append-only log the client talks to. It owns all
// durability and ordering guarantees; the client adds naming, encoding and
// error translation on top.
//
// Implementations must guarantee:
//   - AppendToStream checks the StreamState precondition atomically, server side,
//     and fails with *StreamRevisionConflictError when it does not hold.
//   - ReadStream yields events in ascending revision order and reports
//     ErrStreamNotFound, either from ReadStream or from the first Next, for a
//     stream that was never appended to.
//   - CreateSubscriptionGroup fails with ErrSubscriptionGroupExists when the
//     group is already present.
//   - Deliveries on a category stream are resolved back to the original event.
type Backend interface {
	AppendToStream(ctx context.Context, stream string, state StreamState, events ...EventData) (AppendResult, error)
	ReadStream(ctx context.Context, stream string) (*Iterator[*RecordedEvent], error)

	// CategoryStream names the virtual stream that aggregates every stream
	// named "<category>-<id>".
	CategoryStream(category string) string

	CreateSubscriptionGroup(ctx context.Context, stream, group string, settings SubscriptionSettings) error
	SubscribeToGroup(ctx context.Context, stream, group string, bufferSize int) (Subscription, error)

	// Close releases any resources held by the backend, such as network
	// connections. Close any open Subscription first.
	Close() error
}

// Subscription is an open, flow-controlled delivery channel on a subscription group.
type Subscription interface {
	// Recv blocks until the next delivery. It returns ErrSubscriptionDropped
	// when the server ends the subscription and ctx.Err() when ctx is done.
	Recv(ctx context.Context) (*Delivery, error)

	// Ack advances the durable cursor past d.
	Ack(d *Delivery) error

	// Nack hands d back to the server with the given action.
	Nack(d *Delivery, action NackAction, reason string) error

	Close() error
}

// EventData is an event ready to be appended.
type EventData struct {
	EventID     uuid.UUID
	EventType   string
	ContentType string
	Data        []byte
	Metadata    []byte
}

// RecordedEvent is an event as the backend stored it.
type RecordedEvent struct {
	EventID     uuid.UUID
	EventType   string
	ContentType string
	StreamID    string
	Revision    uint64
	Data        []byte
	Metadata    []byte
	CreatedDate time.Time
}

// Delivery is one entry pushed to a subscription. Event is always the resolved
// original; Link is the category stream entry that pointed at it, if any.
type Delivery struct {
	Event      *RecordedEvent
	Link       *RecordedEvent
	RetryCount int
}

// AppendResult describes the outcome of an append operation.
type AppendResult struct {
	// NextExpectedRevision is the revision of the last event written, which is
	// the expected revision for the next append to the same stream.
	NextExpectedRevision uint64
}

// ConsumerStrategy decides how a group spreads deliveries over its consumers.
type ConsumerStrategy string

const (
	ConsumerStrategyRoundRobin       ConsumerStrategy = "RoundRobin"
	ConsumerStrategyDispatchToSingle ConsumerStrategy = "DispatchToSingle"
	// ConsumerStrategyPinned sends every event of an origin stream to the same consumer.
	ConsumerStrategyPinned ConsumerStrategy = "Pinned"
)

// SubscriptionSettings configures a subscription group at creation time.
type SubscriptionSettings struct {
	// FromStart makes a new group begin at the first event of the stream
	// instead of at the end.
	FromStart        bool
	ResolveLinkTos   bool
	ConsumerStrategy ConsumerStrategy
	// MaxRetryCount is the number of redeliveries before the server parks an entry.
	MaxRetryCount int
	// MessageTimeout is how long an unacknowledged entry stays in flight
	// before it is redelivered. Zero keeps the backend default.
	MessageTimeout time.Duration
}

// NackAction tells the server what to do with a negatively acknowledged entry.
type NackAction int

const (
	// NackRetry asks for redelivery.
	NackRetry NackAction = iota + 1
	// NackPark moves the entry to the group's parked (dead letter) queue.
	NackPark
	// NackSkip drops the entry without processing it.
	NackSkip
)

func (a NackAction) String() string {
	switch a {
	case NackRetry:
		return "retry"
	case NackPark:
		return "park"
	case NackSkip:
		return "skip"
	default:
		return "unknown"
	}
}
