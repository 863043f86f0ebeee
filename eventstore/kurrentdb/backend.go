package kurrentdb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/kurrent-io/KurrentDB-Client-Go/kurrentdb"
	"github.com/sirupsen/logrus"

	"github.com/terraskye/esclient"
)

// Backend talks to a KurrentDB node over gRPC.
//
// Category streams ("$ce-<category>") are maintained by the server's
// $by_category system projection, which must be running.
type Backend struct {
	client *kurrentdb.Client
	log    *logrus.Entry
}

var _ esclient.Backend = (*Backend)(nil)

type Option func(*Backend)

func WithLogger(log *logrus.Entry) Option {
	return func(b *Backend) { b.log = log }
}

// New connects to the node described by a connection string such as
// "kurrentdb://localhost:2113?tls=false".
func New(connectionString string, opts ...Option) (*Backend, error) {
	cfg, err := kurrentdb.ParseConnectionString(connectionString)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	client, err := kurrentdb.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create kurrentdb client: %w", err)
	}
	return NewFromClient(client, opts...), nil
}

// NewFromClient creates a KurrentDB-backed Backend from an existing client.
// Close closes the client.
func NewFromClient(client *kurrentdb.Client, opts ...Option) *Backend {
	b := &Backend{
		client: client,
		log:    logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.WithField("backend", "kurrentdb")
	return b
}

func (b *Backend) CategoryStream(category string) string {
	return "$ce-" + category
}

func (b *Backend) AppendToStream(ctx context.Context, stream string, state esclient.StreamState, events ...esclient.EventData) (esclient.AppendResult, error) {
	kevents := make([]kurrentdb.EventData, len(events))
	for i, ev := range events {
		contentType := kurrentdb.ContentTypeJson
		if ev.ContentType != esclient.ContentTypeJSON {
			contentType = kurrentdb.ContentTypeBinary
		}
		kevents[i] = kurrentdb.EventData{
			EventID:     ev.EventID,
			EventType:   ev.EventType,
			ContentType: contentType,
			Data:        ev.Data,
			Metadata:    ev.Metadata,
		}
	}

	streamState, err := toStreamState(state)
	if err != nil {
		return esclient.AppendResult{}, err
	}

	result, err := b.client.AppendToStream(ctx, stream, kurrentdb.AppendToStreamOptions{
		StreamState: streamState,
	}, kevents...)
	if err != nil {
		if hasCode(err, kurrentdb.ErrorCodeWrongExpectedVersion) {
			return esclient.AppendResult{}, &esclient.StreamRevisionConflictError{
				Stream:           stream,
				ExpectedRevision: state,
				ActualRevision:   b.currentRevision(ctx, stream),
			}
		}
		return esclient.AppendResult{}, fmt.Errorf("append to stream %q: %w", stream, err)
	}

	return esclient.AppendResult{NextExpectedRevision: result.NextExpectedVersion}, nil
}

func toStreamState(state esclient.StreamState) (kurrentdb.StreamState, error) {
	switch st := state.(type) {
	case esclient.Any:
		return kurrentdb.Any{}, nil
	case esclient.NoStream:
		return kurrentdb.NoStream{}, nil
	case esclient.StreamExists:
		return kurrentdb.StreamExists{}, nil
	case esclient.Revision:
		return kurrentdb.StreamRevision{Value: uint64(st)}, nil
	default:
		return nil, fmt.Errorf("unsupported stream state %T", state)
	}
}

// currentRevision reads the last event of stream, or -1 if there is none. It runs
// after the rejected append, so a concurrent writer can make the result stale.
func (b *Backend) currentRevision(ctx context.Context, stream string) int64 {
	rs, err := b.client.ReadStream(ctx, stream, kurrentdb.ReadStreamOptions{
		Direction: kurrentdb.Backwards,
		From:      kurrentdb.End{},
	}, 1)
	if err != nil {
		return esclient.NoStreamRevision
	}
	defer rs.Close()

	last, err := rs.Recv()
	if err != nil {
		if !errors.Is(err, io.EOF) && !hasCode(err, kurrentdb.ErrorCodeResourceNotFound) {
			b.log.WithError(err).WithField("stream", stream).Warn("cannot read current revision")
		}
		return esclient.NoStreamRevision
	}
	return int64(last.OriginalEvent().EventNumber)
}

func (b *Backend) ReadStream(ctx context.Context, stream string) (*esclient.Iterator[*esclient.RecordedEvent], error) {
	rs, err := b.client.ReadStream(ctx, stream, kurrentdb.ReadStreamOptions{
		Direction: kurrentdb.Forwards,
		From:      kurrentdb.Start{},
	}, math.MaxInt64)
	if err != nil {
		return nil, translateReadError(stream, err)
	}

	iter := esclient.NewIteratorFunc(func(ctx context.Context) (*esclient.RecordedEvent, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resolved, err := rs.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, translateReadError(stream, err)
		}
		return toRecordedEvent(resolved.OriginalEvent()), nil
	})

	return iter.WithCloser(func() error {
		rs.Close()
		return nil
	}), nil
}

func translateReadError(stream string, err error) error {
	if hasCode(err, kurrentdb.ErrorCodeResourceNotFound) {
		return fmt.Errorf("read stream %q: %w", stream, esclient.ErrStreamNotFound)
	}
	return fmt.Errorf("read stream %q: %w", stream, err)
}

func (b *Backend) CreateSubscriptionGroup(ctx context.Context, stream, group string, settings esclient.SubscriptionSettings) error {
	ks := kurrentdb.SubscriptionSettingsDefault()
	ks.ResolveLinkTos = settings.ResolveLinkTos
	ks.MaxRetryCount = int32(settings.MaxRetryCount)
	if settings.MessageTimeout > 0 {
		ks.MessageTimeout = int32(settings.MessageTimeout.Milliseconds())
	}
	switch settings.ConsumerStrategy {
	case esclient.ConsumerStrategyPinned:
		ks.ConsumerStrategyName = kurrentdb.ConsumerStrategyPinned
	case esclient.ConsumerStrategyDispatchToSingle:
		ks.ConsumerStrategyName = kurrentdb.ConsumerStrategyDispatchToSingle
	case esclient.ConsumerStrategyRoundRobin:
		ks.ConsumerStrategyName = kurrentdb.ConsumerStrategyRoundRobin
	}

	opts := kurrentdb.PersistentStreamSubscriptionOptions{Settings: &ks}
	if settings.FromStart {
		opts.StartFrom = kurrentdb.Start{}
	} else {
		opts.StartFrom = kurrentdb.End{}
	}

	err := b.client.CreatePersistentSubscription(ctx, stream, group, opts)
	if err != nil {
		if hasCode(err, kurrentdb.ErrorCodeResourceAlreadyExists) {
			return fmt.Errorf("group %q on %q: %w", group, stream, esclient.ErrSubscriptionGroupExists)
		}
		return fmt.Errorf("create persistent subscription %q on %q: %w", group, stream, err)
	}
	return nil
}

func (b *Backend) SubscribeToGroup(ctx context.Context, stream, group string, bufferSize int) (esclient.Subscription, error) {
	ps, err := b.client.SubscribeToPersistentSubscription(ctx, stream, group, kurrentdb.SubscribeToPersistentSubscriptionOptions{
		BufferSize: uint32(bufferSize),
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to %q on %q: %w", group, stream, err)
	}
	return newSubscription(ps, b.log.WithFields(logrus.Fields{"stream": stream, "group": group})), nil
}

func (b *Backend) Close() error {
	return b.client.Close()
}

func hasCode(err error, code kurrentdb.ErrorCode) bool {
	var kerr *kurrentdb.Error
	return errors.As(err, &kerr) && kerr.Code() == code
}

func toRecordedEvent(ev *kurrentdb.RecordedEvent) *esclient.RecordedEvent {
	if ev == nil {
		return nil
	}
	return &esclient.RecordedEvent{
		EventID:     ev.EventID,
		EventType:   ev.EventType,
		ContentType: ev.ContentType,
		StreamID:    ev.StreamID,
		Revision:    ev.EventNumber,
		Data:        ev.Data,
		Metadata:    ev.UserMetadata,
		CreatedDate: ev.CreatedDate,
	}
}
