package esclient

import (
	"errors"
	"fmt"
)

var (
	// ErrStreamNotFound is returned by a Backend reading a stream that was never appended to.
	ErrStreamNotFound = errors.New("stream not found")

	// ErrSubscriptionGroupExists is returned by a Backend creating a group that already exists.
	ErrSubscriptionGroupExists = errors.New("subscription group already exists")

	// ErrSubscriptionDropped is returned by Subscription.Recv once the server closed the subscription.
	ErrSubscriptionDropped = errors.New("subscription dropped")

	ErrNilEvent           = errors.New("event is nil")
	ErrInvalidAggregateID = errors.New("invalid aggregate id")
	ErrInvalidEventBatch  = errors.New("events must belong to the same aggregate")
	ErrNoEvents           = errors.New("no events to append")
	ErrNilHandler         = errors.New("handler is nil")
	ErrDuplicateHandler   = errors.New("duplicate handler")
	ErrNilCommand         = errors.New("command is nil")
	ErrCommandBusStopped  = errors.New("command bus is stopped")
	ErrInvalidCategory    = errors.New("invalid category")

	// ErrBusinessRuleViolation wraps every error a Decider returns.
	ErrBusinessRuleViolation = errors.New("business rule violation")
)

// OptimisticConcurrencyControlError reports that an append was rejected because
// the stream moved on since the caller last read it. The caller is expected to
// re-read, re-apply its business logic and retry with ActualRevision.
//
// ActualRevision is a hint. Backends that cannot report it atomically with the
// rejection read it afterwards, so a concurrent writer may already have moved
// the stream past it. Re-reading the stream gives the authoritative revision.
type OptimisticConcurrencyControlError struct {
	StreamID         string
	ActualRevision   int64
	ExpectedRevision int64
}

func (e *OptimisticConcurrencyControlError) Error() string {
	return fmt.Sprintf("actual revision %d doesn't match expected revision %d on stream %q",
		e.ActualRevision, e.ExpectedRevision, e.StreamID)
}

// UnknownEventTypeError is returned by the Codec for a tag with no registered variant.
type UnknownEventTypeError struct {
	EventType string
}

func (e *UnknownEventTypeError) Error() string {
	return fmt.Sprintf("unknown event type %q", e.EventType)
}

// StreamRevisionConflictError is the backend level form of a failed precondition.
// ActualRevision is -1 when the stream does not exist. It may be read after the
// rejection and can then be stale.
type StreamRevisionConflictError struct {
	Stream           string
	ExpectedRevision StreamState
	ActualRevision   int64
}

func (s *StreamRevisionConflictError) Error() string {
	return fmt.Sprintf("concurrency conflict on stream %q: (expected %v, actual %d)",
		s.Stream, s.ExpectedRevision, s.ActualRevision)
}

// ErrSkippedEvent is returned when a handler cannot handle the event type.
type ErrSkippedEvent struct {
	Event Event
}

func (e ErrSkippedEvent) Error() string {
	return fmt.Sprintf("skipped event of type %T", e.Event)
}

// IsConcurrencyError reports whether err is an optimistic concurrency failure.
func IsConcurrencyError(err error) bool {
	var occ *OptimisticConcurrencyControlError
	return errors.As(err, &occ)
}
