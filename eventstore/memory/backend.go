package memory

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/terraskye/esclient"
)

// LinkEventType is the type of the entries of a category stream.
const LinkEventType = "$>"

// Backend is an in-process log with the semantics of a KurrentDB node:
// conditional appends, "$ce-<category>" streams of links, and persistent
// subscription groups with retry counts and a parked queue.
//
// Message timeouts are not simulated; an entry stays in flight until it is
// acknowledged, nacked or its subscription is closed.
type Backend struct {
	mu      sync.Mutex
	streams map[string][]*esclient.RecordedEvent
	targets map[uuid.UUID]*esclient.RecordedEvent
	groups  map[groupKey]*group
	closed  bool
	log     *logrus.Entry
	now     func() time.Time
}

var _ esclient.Backend = (*Backend)(nil)

type Option func(*Backend)

func WithLogger(log *logrus.Entry) Option {
	return func(b *Backend) { b.log = log }
}

// WithClock replaces the clock used for the record time of appended events.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) { b.now = now }
}

// New creates an empty Backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		streams: make(map[string][]*esclient.RecordedEvent),
		targets: make(map[uuid.UUID]*esclient.RecordedEvent),
		groups:  make(map[groupKey]*group),
		log:     logrus.NewEntry(logrus.StandardLogger()),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log = b.log.WithField("backend", "memory")
	return b
}

func (b *Backend) CategoryStream(category string) string {
	return "$ce-" + category
}

func (b *Backend) AppendToStream(ctx context.Context, stream string, state esclient.StreamState, events ...esclient.EventData) (esclient.AppendResult, error) {
	if err := ctx.Err(); err != nil {
		return esclient.AppendResult{}, err
	}
	if len(events) == 0 {
		return esclient.AppendResult{}, esclient.ErrNoEvents
	}
	if strings.HasPrefix(stream, "$") {
		return esclient.AppendResult{}, fmt.Errorf("append to system stream %q is not allowed", stream)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return esclient.AppendResult{}, errClosed
	}

	current := int64(len(b.streams[stream])) - 1
	if err := checkState(stream, state, current); err != nil {
		return esclient.AppendResult{}, err
	}

	created := b.now().UTC()
	for _, e := range events {
		current++
		rec := &esclient.RecordedEvent{
			EventID:     e.EventID,
			EventType:   e.EventType,
			ContentType: e.ContentType,
			StreamID:    stream,
			Revision:    uint64(current),
			Data:        append([]byte(nil), e.Data...),
			Metadata:    append([]byte(nil), e.Metadata...),
			CreatedDate: created,
		}
		b.streams[stream] = append(b.streams[stream], rec)
		b.link(rec, created)
	}

	b.notifyCategory(stream)
	return esclient.AppendResult{NextExpectedRevision: uint64(current)}, nil
}

func checkState(stream string, state esclient.StreamState, current int64) error {
	ok := true
	switch st := state.(type) {
	case esclient.Any:
	case esclient.NoStream:
		ok = current == -1
	case esclient.StreamExists:
		ok = current != -1
	case esclient.Revision:
		ok = current == int64(st)
	default:
		return fmt.Errorf("unsupported stream state %T", state)
	}
	if !ok {
		return &esclient.StreamRevisionConflictError{
			Stream:           stream,
			ExpectedRevision: state,
			ActualRevision:   current,
		}
	}
	return nil
}

// link appends a link to rec on its category stream.
func (b *Backend) link(rec *esclient.RecordedEvent, created time.Time) {
	category, ok := categoryOf(rec.StreamID)
	if !ok {
		return
	}
	ce := b.CategoryStream(category)
	link := &esclient.RecordedEvent{
		EventID:     uuid.New(),
		EventType:   LinkEventType,
		ContentType: "application/octet-stream",
		StreamID:    ce,
		Revision:    uint64(len(b.streams[ce])),
		Data:        []byte(fmt.Sprintf("%d@%s", rec.Revision, rec.StreamID)),
		CreatedDate: created,
	}
	b.streams[ce] = append(b.streams[ce], link)
	b.targets[link.EventID] = rec
}

// categoryOf returns the part of the stream name before the first dash.
func categoryOf(stream string) (string, bool) {
	i := strings.Index(stream, "-")
	if i <= 0 {
		return "", false
	}
	return stream[:i], true
}

// ReadStream reads stream forwards. Category streams yield their links.
func (b *Backend) ReadStream(ctx context.Context, stream string) (*esclient.Iterator[*esclient.RecordedEvent], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errClosed
	}

	events, ok := b.streams[stream]
	if !ok {
		return nil, fmt.Errorf("read stream %q: %w", stream, esclient.ErrStreamNotFound)
	}
	return esclient.NewSliceIterator(events[:len(events):len(events)]), nil
}

// Close drops all subscriptions. Appends and reads fail afterwards.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, g := range b.groups {
		g.broadcast()
	}
	return nil
}

func (b *Backend) notifyCategory(stream string) {
	category, ok := categoryOf(stream)
	if !ok {
		return
	}
	ce := b.CategoryStream(category)
	for key, g := range b.groups {
		if key.stream == ce {
			g.broadcast()
		}
	}
}

func (b *Backend) CreateSubscriptionGroup(ctx context.Context, stream, groupName string, settings esclient.SubscriptionSettings) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errClosed
	}

	key := groupKey{stream: stream, group: groupName}
	if _, exists := b.groups[key]; exists {
		return fmt.Errorf("group %q on %q: %w", groupName, stream, esclient.ErrSubscriptionGroupExists)
	}

	g := &group{
		key:      key,
		settings: settings,
		inflight: make(map[uuid.UUID]*entry),
		notify:   make(chan struct{}),
	}
	if !settings.FromStart {
		g.cursor = len(b.streams[stream])
	}
	b.groups[key] = g

	b.log.WithFields(logrus.Fields{
		"stream":   stream,
		"group":    groupName,
		"strategy": settings.ConsumerStrategy,
	}).Debug("created subscription group")
	return nil
}

func (b *Backend) SubscribeToGroup(ctx context.Context, stream, groupName string, bufferSize int) (esclient.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if bufferSize < 1 {
		bufferSize = 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errClosed
	}

	g, ok := b.groups[groupKey{stream: stream, group: groupName}]
	if !ok {
		return nil, fmt.Errorf("group %q on %q: %w", groupName, stream, errGroupNotFound)
	}

	sub := &subscription{
		backend:    b,
		group:      g,
		bufferSize: bufferSize,
	}
	g.consumers = append(g.consumers, sub)
	g.broadcast()
	return sub, nil
}

// ParkedEvents returns the original events parked by a group, oldest first.
func (b *Backend) ParkedEvents(stream, groupName string) []*esclient.RecordedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	g, ok := b.groups[groupKey{stream: stream, group: groupName}]
	if !ok {
		return nil
	}
	out := make([]*esclient.RecordedEvent, len(g.parked))
	for i, e := range g.parked {
		out[i] = e.event
	}
	return out
}

// ReplayParked moves the parked entries of a group back to its retry queue.
func (b *Backend) ReplayParked(stream, groupName string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	g, ok := b.groups[groupKey{stream: stream, group: groupName}]
	if !ok {
		return 0
	}
	n := len(g.parked)
	for _, e := range g.parked {
		e.retryCount = 0
	}
	g.retries = append(g.retries, g.parked...)
	g.parked = nil
	g.broadcast()
	return n
}

type groupKey struct {
	stream string
	group  string
}

type entry struct {
	event      *esclient.RecordedEvent
	link       *esclient.RecordedEvent
	retryCount int
	owner      *subscription
}

// position is the entry's place in the subscribed stream.
func (e *entry) position() uint64 {
	if e.link != nil {
		return e.link.Revision
	}
	return e.event.Revision
}

type group struct {
	key       groupKey
	settings  esclient.SubscriptionSettings
	cursor    int
	backlog   []*entry
	retries   []*entry
	inflight  map[uuid.UUID]*entry
	parked    []*entry
	consumers []*subscription
	notify    chan struct{}
}

// broadcast wakes every consumer waiting in Recv. Callers hold the backend lock.
func (g *group) broadcast() {
	close(g.notify)
	g.notify = make(chan struct{})
}

// fill moves entries appended since the last call into the backlog.
func (g *group) fill(b *Backend) {
	events := b.streams[g.key.stream]
	for ; g.cursor < len(events); g.cursor++ {
		rec := events[g.cursor]
		e := &entry{event: rec}
		if target, ok := b.targets[rec.EventID]; ok && g.settings.ResolveLinkTos {
			e.event, e.link = target, rec
		}
		g.backlog = append(g.backlog, e)
	}
}

// accepts reports whether e may be delivered to sub under the group's strategy.
func (g *group) accepts(sub *subscription, e *entry) bool {
	if g.settings.ConsumerStrategy != esclient.ConsumerStrategyPinned || len(g.consumers) < 2 {
		return true
	}
	hash := fnv.New32a()
	hash.Write([]byte(e.event.StreamID))
	return g.consumers[hash.Sum32()%uint32(len(g.consumers))] == sub
}

// take removes the next entry sub may receive, retries first.
func (g *group) take(sub *subscription) *entry {
	for _, queue := range []*[]*entry{&g.retries, &g.backlog} {
		for i, e := range *queue {
			if g.accepts(sub, e) {
				*queue = append((*queue)[:i], (*queue)[i+1:]...)
				return e
			}
		}
	}
	return nil
}

func (g *group) removeConsumer(sub *subscription) {
	for i, c := range g.consumers {
		if c == sub {
			g.consumers = append(g.consumers[:i], g.consumers[i+1:]...)
			break
		}
	}
}

// retry hands e back for redelivery, parking it once it exceeded the group's
// retry budget.
func (g *group) retry(e *entry) {
	e.owner = nil
	e.retryCount++
	if e.retryCount > g.settings.MaxRetryCount {
		g.parked = append(g.parked, e)
		return
	}
	g.retries = append(g.retries, e)
}
