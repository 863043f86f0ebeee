// Package nats stores streams on a NATS JetStream stream, one subject per
// event stream.
package nats

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/sirupsen/logrus"

	"github.com/terraskye/esclient"
)

const (
	DefaultStreamName    = "ORDERS"
	DefaultSubjectPrefix = "esclient"

	headerStream      = "Esc-Stream"
	headerEventType   = "Esc-Event-Type"
	headerContentType = "Esc-Content-Type"
	headerRevision    = "Esc-Revision"
	headerMetadata    = "Esc-Metadata"

	categoryPrefix = "$ce-"

	// JSStreamWrongLastSequenceErr
	errCodeWrongLastSequence jetstream.ErrorCode = 10071

	readTimeout = 5 * time.Second
)

// Backend keeps every event stream "<category>-<id>" on the subject
// "<prefix>.<category>.<id>" of a single JetStream stream.
type Backend struct {
	nc      *natsgo.Conn
	ownConn bool
	js      jetstream.JetStream
	stream  jetstream.Stream
	prefix  string
	log     *logrus.Entry
}

var _ esclient.Backend = (*Backend)(nil)

type options struct {
	streamName string
	prefix     string
	storage    jetstream.StorageType
	log        *logrus.Entry
}

type Option func(*options)

func WithStreamName(name string) Option {
	return func(o *options) { o.streamName = strings.ToUpper(name) }
}

func WithSubjectPrefix(prefix string) Option {
	return func(o *options) { o.prefix = prefix }
}

// WithMemoryStorage keeps the stream in server memory. Useful for tests.
func WithMemoryStorage() Option {
	return func(o *options) { o.storage = jetstream.MemoryStorage }
}

func WithLogger(log *logrus.Entry) Option {
	return func(o *options) { o.log = log }
}

// New connects to url and ensures the JetStream stream exists.
func New(ctx context.Context, url string, opts ...Option) (*Backend, error) {
	nc, err := natsgo.Connect(url,
		natsgo.Name("esclient"),
		natsgo.ReconnectWait(time.Second),
		natsgo.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	b, err := NewFromConn(ctx, nc, opts...)
	if err != nil {
		nc.Close()
		return nil, err
	}
	b.ownConn = true
	return b, nil
}

// NewFromConn creates a Backend on an existing connection. Close leaves the
// connection open.
func NewFromConn(ctx context.Context, nc *natsgo.Conn, opts ...Option) (*Backend, error) {
	o := options{
		streamName: DefaultStreamName,
		prefix:     DefaultSubjectPrefix,
		storage:    jetstream.FileStorage,
		log:        logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(&o)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	log := o.log.WithFields(logrus.Fields{"backend": "nats", "stream": o.streamName})
	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     o.streamName,
		Subjects: []string{o.prefix + ".>"},
		Storage:  o.storage,
		FirstSeq: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure stream %s: %w", o.streamName, err)
	}
	log.Debug("ensured stream")

	return &Backend{
		nc:     nc,
		js:     js,
		stream: stream,
		prefix: o.prefix,
		log:    log,
	}, nil
}

func (b *Backend) CategoryStream(category string) string {
	return categoryPrefix + category
}

// subject maps a stream name onto its subject. Category streams map onto a
// wildcard filter.
func (b *Backend) subject(stream string) (string, error) {
	if category, ok := strings.CutPrefix(stream, categoryPrefix); ok {
		if category == "" || strings.ContainsAny(category, ".*> ") {
			return "", fmt.Errorf("invalid category stream %q", stream)
		}
		return b.prefix + "." + category + ".*", nil
	}
	category, id, ok := strings.Cut(stream, "-")
	if !ok || category == "" || id == "" || strings.ContainsAny(stream, ".*> $") {
		return "", fmt.Errorf("invalid stream name %q", stream)
	}
	return b.prefix + "." + category + "." + id, nil
}

// last returns the sequence and revision of the newest event on subject.
func (b *Backend) last(ctx context.Context, subject string) (seq uint64, revision int64, err error) {
	msg, err := b.stream.GetLastMsgForSubject(ctx, subject)
	if err != nil {
		if errors.Is(err, jetstream.ErrMsgNotFound) {
			return 0, esclient.NoStreamRevision, nil
		}
		return 0, 0, fmt.Errorf("get last message for %q: %w", subject, err)
	}
	rev, err := strconv.ParseInt(msg.Header.Get(headerRevision), 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("message %d on %q has no revision: %w", msg.Sequence, subject, err)
	}
	return msg.Sequence, rev, nil
}

// AppendToStream publishes events one by one, each conditioned on the
// previous subject sequence. A conflict can only occur on the first event.
func (b *Backend) AppendToStream(ctx context.Context, stream string, state esclient.StreamState, events ...esclient.EventData) (esclient.AppendResult, error) {
	if len(events) == 0 {
		return esclient.AppendResult{}, esclient.ErrNoEvents
	}
	subject, err := b.subject(stream)
	if err != nil {
		return esclient.AppendResult{}, err
	}
	if strings.HasPrefix(stream, categoryPrefix) {
		return esclient.AppendResult{}, fmt.Errorf("cannot append to category stream %q", stream)
	}

	seq, revision, err := b.last(ctx, subject)
	if err != nil {
		return esclient.AppendResult{}, err
	}
	if !holds(state, revision) {
		return esclient.AppendResult{}, &esclient.StreamRevisionConflictError{
			Stream:           stream,
			ExpectedRevision: state,
			ActualRevision:   revision,
		}
	}

	for i, ev := range events {
		msg := natsgo.NewMsg(subject)
		msg.Data = ev.Data
		msg.Header.Set(headerStream, stream)
		msg.Header.Set(headerEventType, ev.EventType)
		msg.Header.Set(headerContentType, ev.ContentType)
		msg.Header.Set(headerRevision, strconv.FormatInt(revision+1, 10))
		if len(ev.Metadata) > 0 {
			msg.Header.Set(headerMetadata, string(ev.Metadata))
		}

		ack, err := b.js.PublishMsg(ctx, msg,
			jetstream.WithMsgID(ev.EventID.String()),
			jetstream.WithExpectLastSequencePerSubject(seq),
		)
		if err != nil {
			var apiErr *jetstream.APIError
			if i == 0 && errors.As(err, &apiErr) && apiErr.ErrorCode == errCodeWrongLastSequence {
				_, actual, lerr := b.last(ctx, subject)
				if lerr != nil {
					actual = esclient.NoStreamRevision
				}
				return esclient.AppendResult{}, &esclient.StreamRevisionConflictError{
					Stream:           stream,
					ExpectedRevision: state,
					ActualRevision:   actual,
				}
			}
			return esclient.AppendResult{}, fmt.Errorf("publish %s to %q: %w", ev.EventType, subject, err)
		}
		seq = ack.Sequence
		revision++
	}

	return esclient.AppendResult{NextExpectedRevision: uint64(revision)}, nil
}

func holds(state esclient.StreamState, actual int64) bool {
	switch st := state.(type) {
	case esclient.Any:
		return true
	case esclient.NoStream:
		return actual == esclient.NoStreamRevision
	case esclient.StreamExists:
		return actual != esclient.NoStreamRevision
	case esclient.Revision:
		return actual == int64(st)
	default:
		return false
	}
}

func (b *Backend) ReadStream(ctx context.Context, stream string) (*esclient.Iterator[*esclient.RecordedEvent], error) {
	subject, err := b.subject(stream)
	if err != nil {
		return nil, err
	}
	endSeq, _, err := b.last(ctx, subject)
	if err != nil {
		return nil, err
	}
	if endSeq == 0 {
		return nil, fmt.Errorf("read stream %q: %w", stream, esclient.ErrStreamNotFound)
	}

	cons, err := b.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{subject},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("read stream %q: %w", stream, err)
	}

	done := false
	iter := esclient.NewIteratorFunc(func(ctx context.Context) (*esclient.RecordedEvent, error) {
		if done {
			return nil, io.EOF
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		msg, err := cons.Next(jetstream.FetchMaxWait(readTimeout))
		if err != nil {
			return nil, fmt.Errorf("read stream %q: %w", stream, err)
		}
		ev, seq, err := toRecordedEvent(msg)
		if err != nil {
			return nil, err
		}
		done = seq >= endSeq
		return ev, nil
	})

	return iter.WithCloser(func() error {
		// the ordered consumer is created on the first fetch
		info := cons.CachedInfo()
		if info == nil {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), readTimeout)
		defer cancel()
		if err := b.stream.DeleteConsumer(ctx, info.Name); err != nil && !errors.Is(err, jetstream.ErrConsumerNotFound) {
			return fmt.Errorf("delete read consumer for %q: %w", stream, err)
		}
		return nil
	}), nil
}

func (b *Backend) Close() error {
	if b.ownConn {
		return b.nc.Drain()
	}
	return nil
}

func toRecordedEvent(msg jetstream.Msg) (*esclient.RecordedEvent, uint64, error) {
	md, err := msg.Metadata()
	if err != nil {
		return nil, 0, fmt.Errorf("message metadata: %w", err)
	}
	h := msg.Headers()
	rev, err := strconv.ParseUint(h.Get(headerRevision), 10, 64)
	if err != nil {
		return nil, 0, fmt.Errorf("message %d has no revision: %w", md.Sequence.Stream, err)
	}
	id, err := uuid.Parse(h.Get(natsgo.MsgIdHdr))
	if err != nil {
		return nil, 0, fmt.Errorf("message %d has no event id: %w", md.Sequence.Stream, err)
	}
	ev := &esclient.RecordedEvent{
		EventID:     id,
		EventType:   h.Get(headerEventType),
		ContentType: h.Get(headerContentType),
		StreamID:    h.Get(headerStream),
		Revision:    rev,
		Data:        msg.Data(),
		CreatedDate: md.Timestamp,
	}
	if m := h.Get(headerMetadata); m != "" {
		ev.Metadata = []byte(m)
	}
	return ev, md.Sequence.Stream, nil
}
