package esclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	DefaultCategory          = "order"
	DefaultSubscriptionGroup = "eventstoredb-event-sourcing-app"
	DefaultBufferSize        = 32
	DefaultMaxRetryCount     = 10
)

// Store is the contract application code depends on. *EventStore implements
// it; the otel and logging packages decorate it.
type Store interface {
	// Append writes ev to its aggregate's stream if the stream is at
	// expectedRevision (NoStreamRevision: the stream must not exist) and
	// returns the revision ev now occupies.
	Append(ctx context.Context, ev Event, expectedRevision int64) (int64, error)

	// AppendEvents writes a batch for one aggregate atomically and returns the
	// revision of the last event written.
	AppendEvents(ctx context.Context, expectedRevision int64, events ...Event) (int64, error)

	// ReadEvents returns the aggregate's full history in revision order. An
	// aggregate that was never appended to has an empty history.
	ReadEvents(ctx context.Context, aggregateID uuid.UUID) ([]Event, error)

	// Subscribe delivers every event of the category to handler until ctx is done.
	Subscribe(ctx context.Context, handler EventHandler) error
}

var _ Store = (*EventStore)(nil)

// Option configures an EventStore.
type Option func(*options)

type options struct {
	category       string
	group          string
	bufferSize     int
	maxRetryCount  int
	workers        int
	messageTimeout time.Duration
	handlerRetry   func() backoff.BackOff
	log            *logrus.Entry
	metrics        Metrics
}

// WithCategory sets the stream name prefix. Streams are named "<category>-<id>".
// It panics if category fails ValidateCategory.
func WithCategory(category string) Option {
	if err := ValidateCategory(category); err != nil {
		panic(err)
	}
	return func(o *options) { o.category = category }
}

// ValidateCategory rejects categories that would not round trip through a
// stream name. Backends take everything before the first '-' as the category,
// and '$' and '.' are reserved by the server and by subject tokens.
func ValidateCategory(category string) error {
	if category == "" {
		return fmt.Errorf("%w: empty", ErrInvalidCategory)
	}
	if strings.ContainsAny(category, "-$. \t*>") {
		return fmt.Errorf("%w: %q must not contain '-', '$', '.', wildcards or whitespace", ErrInvalidCategory, category)
	}
	return nil
}

// WithSubscriptionGroup sets the durable subscription group name.
func WithSubscriptionGroup(group string) Option {
	return func(o *options) { o.group = group }
}

// WithBufferSize bounds the number of in-flight subscription entries.
func WithBufferSize(size int) Option {
	return func(o *options) {
		if size > 0 {
			o.bufferSize = size
		}
	}
}

// WithMaxRetryCount sets how often a failing entry is redelivered before it is parked.
func WithMaxRetryCount(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.maxRetryCount = n
		}
	}
}

// WithMessageTimeout sets how long the server waits for an ack before redelivering.
func WithMessageTimeout(d time.Duration) Option {
	return func(o *options) { o.messageTimeout = d }
}

// WithWorkers sets the number of handler workers. Entries of one origin stream
// always go to the same worker.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithHandlerRetry retries a failing handler in process before the entry is
// handed back to the server. The factory is called once per entry.
func WithHandlerRetry(strategy func() backoff.BackOff) Option {
	return func(o *options) { o.handlerRetry = strategy }
}

func WithLogger(log *logrus.Entry) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

func WithMetrics(m Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// EventStore is the client side access layer over a Backend. It is safe for
// concurrent use; write ordering is left entirely to the backend's
// conditional append.
type EventStore struct {
	backend Backend
	codec   *Codec
	opts    options
	log     *logrus.Entry
	metrics Metrics
}

// NewEventStore creates an EventStore over backend, encoding with codec.
func NewEventStore(backend Backend, codec *Codec, opts ...Option) *EventStore {
	o := options{
		category:      DefaultCategory,
		group:         DefaultSubscriptionGroup,
		bufferSize:    DefaultBufferSize,
		maxRetryCount: DefaultMaxRetryCount,
		workers:       1,
		handlerRetry:  func() backoff.BackOff { return &backoff.StopBackOff{} },
		log:           logrus.NewEntry(logrus.StandardLogger()),
		metrics:       NopMetrics(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &EventStore{
		backend: backend,
		codec:   codec,
		opts:    o,
		log:     o.log.WithField("component", "eventstore"),
		metrics: o.metrics,
	}
}

// StreamName returns the name of the stream owned by the aggregate.
func (s *EventStore) StreamName(aggregateID uuid.UUID) string {
	return s.opts.category + "-" + aggregateID.String()
}

// CategoryStream returns the virtual stream the subscription reads from.
func (s *EventStore) CategoryStream() string {
	return s.backend.CategoryStream(s.opts.category)
}

// Codec returns the codec used for reads and writes.
func (s *EventStore) Codec() *Codec {
	return s.codec
}

func (s *EventStore) Append(ctx context.Context, ev Event, expectedRevision int64) (int64, error) {
	if ev == nil {
		return UnsetRevision, ErrNilEvent
	}
	return s.AppendEvents(ctx, expectedRevision, ev)
}

func (s *EventStore) AppendEvents(ctx context.Context, expectedRevision int64, events ...Event) (int64, error) {
	if len(events) == 0 {
		return UnsetRevision, ErrNoEvents
	}
	if events[0] == nil {
		return UnsetRevision, ErrNilEvent
	}

	aggregateID := events[0].AggregateID()
	if aggregateID == uuid.Nil {
		return UnsetRevision, ErrInvalidAggregateID
	}

	var metadata []byte
	if md := MetadataFromContext(ctx); len(md) > 0 {
		var err error
		if metadata, err = json.Marshal(md); err != nil {
			return UnsetRevision, fmt.Errorf("encode metadata: %w", err)
		}
	}

	data := make([]EventData, len(events))
	for i, ev := range events {
		if ev == nil {
			return UnsetRevision, ErrNilEvent
		}
		if ev.AggregateID() != aggregateID {
			return UnsetRevision, fmt.Errorf("append event %d of aggregate %s with %s: %w",
				i, ev.AggregateID(), aggregateID, ErrInvalidEventBatch)
		}
		eventType, payload, err := s.codec.Encode(ev)
		if err != nil {
			return UnsetRevision, err
		}
		data[i] = EventData{
			EventID:     uuid.New(),
			EventType:   eventType,
			ContentType: ContentTypeJSON,
			Data:        payload,
			Metadata:    metadata,
		}
	}

	stream := s.StreamName(aggregateID)
	state := ExpectedRevision(expectedRevision)

	s.log.WithFields(logrus.Fields{
		"stream":            stream,
		"expected_revision": expectedRevision,
		"count":             len(events),
	}).Debug("appending events")

	timer := s.metrics.AppendDuration(s.opts.category)
	result, err := s.backend.AppendToStream(ctx, stream, state, data...)
	timer.ObserveDuration()

	if err != nil {
		var conflict *StreamRevisionConflictError
		if errors.As(err, &conflict) {
			s.metrics.ConcurrencyConflict(s.opts.category)
			s.log.WithFields(logrus.Fields{
				"aggregate_id":      aggregateID,
				"actual_revision":   conflict.ActualRevision,
				"expected_revision": expectedRevision,
			}).Debug("optimistic concurrency control error")
			return UnsetRevision, &OptimisticConcurrencyControlError{
				StreamID:         stream,
				ActualRevision:   conflict.ActualRevision,
				ExpectedRevision: expectedRevision,
			}
		}
		return UnsetRevision, err
	}

	next := int64(result.NextExpectedRevision)
	for i, ev := range events {
		ev.SetRevision(next - int64(len(events)-1-i))
	}
	s.metrics.EventsAppended(s.opts.category, len(events))
	return next, nil
}

func (s *EventStore) ReadEvents(ctx context.Context, aggregateID uuid.UUID) ([]Event, error) {
	if aggregateID == uuid.Nil {
		return nil, ErrInvalidAggregateID
	}
	stream := s.StreamName(aggregateID)
	log := s.log.WithField("aggregate_id", aggregateID)
	log.Debug("reading events")

	defer s.metrics.ReadDuration(s.opts.category).ObserveDuration()

	iter, err := s.backend.ReadStream(ctx, stream)
	if err != nil {
		if errors.Is(err, ErrStreamNotFound) {
			log.Debug("no events for aggregate")
			return []Event{}, nil
		}
		return nil, err
	}
	defer iter.Close()

	events := make([]Event, 0)
	for iter.Next(ctx) {
		ev, err := s.toEvent(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("read stream %q: %w", stream, err)
		}
		events = append(events, ev)
	}
	if err := iter.Err(); err != nil {
		if errors.Is(err, ErrStreamNotFound) {
			log.Debug("no events for aggregate")
			return []Event{}, nil
		}
		return nil, err
	}

	s.metrics.EventsRead(s.opts.category, len(events))
	return events, nil
}

// Close releases the backend. Stop any running Subscribe first, otherwise
// pending acknowledgements may be lost.
func (s *EventStore) Close() error {
	return s.backend.Close()
}

func (s *EventStore) toEvent(rec *RecordedEvent) (Event, error) {
	ev, err := s.codec.Decode(rec.EventType, rec.Data)
	if err != nil {
		return nil, err
	}
	ev.SetRevision(int64(rec.Revision))
	return ev, nil
}
