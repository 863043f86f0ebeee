// Package fixtures provides test doubles for code that depends on esclient.Store.
package fixtures

import (
	"context"
	"sync"

	"github.com/google/uuid"

	es "github.com/terraskye/esclient"
)

// StoreSpy is a configurable esclient.Store for testing. It forwards to Next
// when set, tracks calls and allows injecting failures.
type StoreSpy struct {
	mu sync.Mutex

	Next es.Store

	// Function overrides for custom behavior
	AppendEventsFn func(ctx context.Context, expectedRevision int64, events ...es.Event) (int64, error)
	ReadEventsFn   func(ctx context.Context, aggregateID uuid.UUID) ([]es.Event, error)
	SubscribeFn    func(ctx context.Context, handler es.EventHandler) error

	// Call tracking
	AppendCalls    int
	ReadCalls      int
	SubscribeCalls int

	// Captured arguments from last call
	LastAppendEvents   []es.Event
	LastAppendRevision int64
	LastReadID         uuid.UUID

	// Error injection
	appendErr error
	readErr   error
}

var _ es.Store = (*StoreSpy)(nil)

// NewStoreSpy creates a StoreSpy forwarding to next, which may be nil.
func NewStoreSpy(next es.Store) *StoreSpy {
	return &StoreSpy{Next: next}
}

// FailOnAppend configures the store to return err from every append.
func (s *StoreSpy) FailOnAppend(err error) *StoreSpy {
	s.appendErr = err
	return s
}

// FailOnRead configures the store to return err from every read.
func (s *StoreSpy) FailOnRead(err error) *StoreSpy {
	s.readErr = err
	return s
}

func (s *StoreSpy) Append(ctx context.Context, ev es.Event, expectedRevision int64) (int64, error) {
	if ev == nil {
		return es.UnsetRevision, es.ErrNilEvent
	}
	return s.AppendEvents(ctx, expectedRevision, ev)
}

func (s *StoreSpy) AppendEvents(ctx context.Context, expectedRevision int64, events ...es.Event) (int64, error) {
	s.mu.Lock()
	s.AppendCalls++
	s.LastAppendEvents = events
	s.LastAppendRevision = expectedRevision
	s.mu.Unlock()

	if s.AppendEventsFn != nil {
		return s.AppendEventsFn(ctx, expectedRevision, events...)
	}
	if s.appendErr != nil {
		return es.UnsetRevision, s.appendErr
	}
	if s.Next == nil {
		return es.UnsetRevision, nil
	}
	return s.Next.AppendEvents(ctx, expectedRevision, events...)
}

func (s *StoreSpy) ReadEvents(ctx context.Context, aggregateID uuid.UUID) ([]es.Event, error) {
	s.mu.Lock()
	s.ReadCalls++
	s.LastReadID = aggregateID
	s.mu.Unlock()

	if s.ReadEventsFn != nil {
		return s.ReadEventsFn(ctx, aggregateID)
	}
	if s.readErr != nil {
		return nil, s.readErr
	}
	if s.Next == nil {
		return []es.Event{}, nil
	}
	return s.Next.ReadEvents(ctx, aggregateID)
}

func (s *StoreSpy) Subscribe(ctx context.Context, handler es.EventHandler) error {
	s.mu.Lock()
	s.SubscribeCalls++
	s.mu.Unlock()

	if s.SubscribeFn != nil {
		return s.SubscribeFn(ctx, handler)
	}
	if s.Next == nil {
		<-ctx.Done()
		return nil
	}
	return s.Next.Subscribe(ctx, handler)
}
