package order

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/terraskye/esclient"
	"github.com/terraskye/esclient/logging"
	"github.com/terraskye/esclient/otel"
)

// Service executes order commands against a Store. Commands go through a
// CommandBus, so commands for one order are handled one at a time in this
// process. Every command re-reads the order, decides and appends with the last
// read revision; a concurrency conflict with another process triggers a fresh
// attempt.
type Service struct {
	store esclient.Store
	bus   *esclient.CommandBus
}

type serviceOptions struct {
	log    *logrus.Entry
	retry  func() backoff.BackOff
	shards int
}

type ServiceOption func(*serviceOptions)

func WithLogger(log *logrus.Entry) ServiceOption {
	return func(o *serviceOptions) { o.log = log }
}

// WithConflictRetry sets the backoff used when an append loses a race.
func WithConflictRetry(strategy func() backoff.BackOff) ServiceOption {
	return func(o *serviceOptions) { o.retry = strategy }
}

// WithShards sets how many orders are handled in parallel.
func WithShards(n int) ServiceOption {
	return func(o *serviceOptions) { o.shards = n }
}

// DefaultConflictRetry retries a conflicting command up to three times.
func DefaultConflictRetry() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond
	return backoff.WithMaxRetries(b, 3)
}

func NewService(store esclient.Store, opts ...ServiceOption) *Service {
	o := serviceOptions{
		log:    logrus.NewEntry(logrus.StandardLogger()),
		retry:  DefaultConflictRetry,
		shards: 8,
	}
	for _, opt := range opts {
		opt(&o)
	}
	log := o.log.WithField("component", "order")

	bus := esclient.NewCommandBus(64, o.shards)
	esclient.Register(bus, handler[PlaceOrder](store, log, o.retry))
	esclient.Register(bus, handler[AcceptOrder](store, log, o.retry))
	esclient.Register(bus, handler[CompleteOrder](store, log, o.retry))
	esclient.Register(bus, handler[CancelOrder](store, log, o.retry))

	return &Service{store: store, bus: bus}
}

func handler[C esclient.Command](store esclient.Store, log *logrus.Entry, retry func() backoff.BackOff) esclient.CommandHandler[C] {
	decide := func(state Order, cmd C) ([]esclient.Event, error) {
		return Decide(state, cmd)
	}
	h := esclient.NewCommandHandler(store, Order{}, Evolve, decide, esclient.WithRetryStrategy(retry))
	return otel.WithCommandTelemetry(logging.WithCommandLogging(log, h))
}

// Place creates a new order and returns its revision.
func (s *Service) Place(ctx context.Context, cmd PlaceOrder) (int64, error) {
	return s.bus.Dispatch(ctx, cmd)
}

func (s *Service) Accept(ctx context.Context, cmd AcceptOrder) (int64, error) {
	return s.bus.Dispatch(ctx, cmd)
}

func (s *Service) Complete(ctx context.Context, cmd CompleteOrder) (int64, error) {
	return s.bus.Dispatch(ctx, cmd)
}

func (s *Service) Cancel(ctx context.Context, cmd CancelOrder) (int64, error) {
	return s.bus.Dispatch(ctx, cmd)
}

// History returns the events of an order, or ErrOrderNotFound.
func (s *Service) History(ctx context.Context, id uuid.UUID) ([]esclient.Event, error) {
	events, err := s.store.ReadEvents(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("order %s: %w", id, ErrOrderNotFound)
	}
	return events, nil
}

// Close waits for commands in progress and rejects new ones.
func (s *Service) Close() {
	s.bus.Stop()
}

// Load folds the history of an order into its current state.
func (s *Service) Load(ctx context.Context, id uuid.UUID) (Order, int64, error) {
	events, err := s.History(ctx, id)
	if err != nil {
		return Order{}, esclient.UnsetRevision, err
	}
	state := Order{}
	for _, ev := range events {
		state = Evolve(state, ev)
	}
	return state, events[len(events)-1].Revision(), nil
}
