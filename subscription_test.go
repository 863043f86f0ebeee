package esclient_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/terraskye/esclient"
)

const waitFor = 2 * time.Second

// delivery is what a test handler observed for one call.
type delivery struct {
	event      esclient.Event
	stream     string
	group      string
	revision   int64
	retryCount int
}

type recorder struct {
	mu    sync.Mutex
	calls []delivery
	fn    func(ctx context.Context, ev esclient.Event, attempt int) error
}

func (r *recorder) Handle(ctx context.Context, ev esclient.Event) error {
	r.mu.Lock()
	attempt := 0
	for _, c := range r.calls {
		if c.event.AggregateID() == ev.AggregateID() && c.revision == ev.Revision() {
			attempt++
		}
	}
	r.calls = append(r.calls, delivery{
		event:      ev,
		stream:     esclient.StreamIDFromContext(ctx),
		group:      esclient.GroupFromContext(ctx),
		revision:   esclient.RevisionFromContext(ctx),
		retryCount: esclient.RetryCountFromContext(ctx),
	})
	r.mu.Unlock()

	if r.fn == nil {
		return nil
	}
	return r.fn(ctx, ev, attempt)
}

func (r *recorder) snapshot() []delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]delivery(nil), r.calls...)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// subscribe runs store.Subscribe in the background and stops it at cleanup.
func subscribe(t *testing.T, store *esclient.EventStore, h esclient.EventHandler) (stop func() error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- store.Subscribe(ctx, h) }()

	var once sync.Once
	var result error
	stop = func() error {
		once.Do(func() {
			cancel()
			select {
			case result = <-done:
			case <-time.After(waitFor):
				result = errors.New("subscribe did not return after cancel")
			}
		})
		return result
	}
	t.Cleanup(func() { _ = stop() })
	return stop
}

func TestSubscribeDeliversInOrder(t *testing.T) {
	ctx := t.Context()
	store, _ := newStore(t, esclient.WithSubscriptionGroup("projector"))
	id := uuid.New()

	_, err := store.AppendEvents(ctx, esclient.NoStreamRevision, opened(id, "alice"), added(id, "pen"))
	require.NoError(t, err)

	rec := &recorder{}
	stop := subscribe(t, store, rec)

	_, err = store.Append(ctx, added(id, "book"), 1)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return rec.count() == 3 }, waitFor, 5*time.Millisecond)
	require.NoError(t, stop())

	calls := rec.snapshot()
	for i, c := range calls {
		require.Equal(t, int64(i), c.event.Revision())
		require.Equal(t, int64(i), c.revision)
		require.Equal(t, store.StreamName(id), c.stream)
		require.Equal(t, "projector", c.group)
		require.Zero(t, c.retryCount)
	}
	require.IsType(t, &cartOpened{}, calls[0].event)
	require.Equal(t, "book", calls[2].event.(*itemAdded).Item)
}

func TestSubscribeReturnsNilOnCancel(t *testing.T) {
	store, _ := newStore(t)
	stop := subscribe(t, store, &recorder{})

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, stop())
}

func TestSubscribeNilHandler(t *testing.T) {
	store, _ := newStore(t)
	require.ErrorIs(t, store.Subscribe(t.Context(), nil), esclient.ErrNilHandler)
}

func TestEnsureSubscriptionGroupIdempotent(t *testing.T) {
	store, _ := newStore(t)

	require.NoError(t, store.EnsureSubscriptionGroup(t.Context()))
	require.NoError(t, store.EnsureSubscriptionGroup(t.Context()))
}

func TestSubscribeRedeliversFailedEvents(t *testing.T) {
	ctx := t.Context()
	metrics := newRecordingMetrics()
	store, backend := newStore(t, esclient.WithMetrics(metrics))
	id := uuid.New()

	rec := &recorder{fn: func(ctx context.Context, ev esclient.Event, attempt int) error {
		if attempt < 2 {
			return errors.New("transient")
		}
		return nil
	}}
	subscribe(t, store, rec)

	_, err := store.Append(ctx, opened(id, "alice"), esclient.NoStreamRevision)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return metrics.outcome(esclient.OutcomeAcked) == 1 }, waitFor, 5*time.Millisecond)

	calls := rec.snapshot()
	require.Len(t, calls, 3)
	for i, c := range calls {
		require.Equal(t, i, c.retryCount)
	}
	require.Equal(t, 2, metrics.outcome(esclient.OutcomeRetried))
	require.Empty(t, backend.ParkedEvents(store.CategoryStream(), esclient.DefaultSubscriptionGroup))
}

func TestSubscribeParksAfterMaxRetries(t *testing.T) {
	ctx := t.Context()
	store, backend := newStore(t, esclient.WithMaxRetryCount(2))
	id := uuid.New()

	rec := &recorder{fn: func(context.Context, esclient.Event, int) error {
		return errors.New("permanent")
	}}
	subscribe(t, store, rec)

	_, err := store.AppendEvents(ctx, esclient.NoStreamRevision, opened(id, "alice"), added(id, "pen"))
	require.NoError(t, err)

	parked := func() int { return len(backend.ParkedEvents(store.CategoryStream(), esclient.DefaultSubscriptionGroup)) }
	require.Eventually(t, func() bool { return parked() == 2 }, waitFor, 5*time.Millisecond)

	// initial delivery plus two redeliveries per event
	require.Equal(t, 6, rec.count())
	require.Never(t, func() bool { return rec.count() > 6 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestSubscribeParksUndecodableEvents(t *testing.T) {
	ctx := t.Context()
	store, backend := newStore(t)
	id := uuid.New()

	_, err := store.Append(ctx, opened(id, "alice"), esclient.NoStreamRevision)
	require.NoError(t, err)
	_, err = backend.AppendToStream(ctx, store.StreamName(id), esclient.Revision(0), esclient.EventData{
		EventID:     uuid.New(),
		EventType:   "Mystery",
		ContentType: esclient.ContentTypeJSON,
		Data:        []byte(`{}`),
	})
	require.NoError(t, err)
	_, err = store.Append(ctx, added(id, "pen"), 1)
	require.NoError(t, err)

	rec := &recorder{}
	subscribe(t, store, rec)

	require.Eventually(t, func() bool { return rec.count() == 2 }, waitFor, 5*time.Millisecond)
	var parked []*esclient.RecordedEvent
	require.Eventually(t, func() bool {
		parked = backend.ParkedEvents(store.CategoryStream(), esclient.DefaultSubscriptionGroup)
		return len(parked) == 1
	}, waitFor, 5*time.Millisecond)
	require.Equal(t, "Mystery", parked[0].EventType)

	calls := rec.snapshot()
	require.Equal(t, int64(0), calls[0].revision)
	require.Equal(t, int64(2), calls[1].revision)
}

func TestSubscribeAcknowledgesSkippedEvents(t *testing.T) {
	ctx := t.Context()
	metrics := newRecordingMetrics()
	store, _ := newStore(t, esclient.WithMetrics(metrics))
	id := uuid.New()

	var mu sync.Mutex
	var seen []string
	handler := esclient.NewEventGroupProcessor(
		esclient.OnEvent(func(ctx context.Context, ev *itemAdded) error {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, ev.Item)
			return nil
		}),
	)
	subscribe(t, store, handler)

	_, err := store.AppendEvents(ctx, esclient.NoStreamRevision, opened(id, "alice"), added(id, "pen"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return metrics.outcome(esclient.OutcomeAcked) == 2 }, waitFor, 5*time.Millisecond)
	require.Zero(t, metrics.outcome(esclient.OutcomeRetried))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"pen"}, seen)
}

func TestSubscribeHandlerRetry(t *testing.T) {
	ctx := t.Context()
	metrics := newRecordingMetrics()
	store, _ := newStore(t,
		esclient.WithMetrics(metrics),
		esclient.WithHandlerRetry(func() backoff.BackOff {
			return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 3)
		}),
	)
	id := uuid.New()

	rec := &recorder{fn: func(ctx context.Context, ev esclient.Event, attempt int) error {
		if attempt < 2 {
			return errors.New("transient")
		}
		return nil
	}}
	subscribe(t, store, rec)

	_, err := store.Append(ctx, opened(id, "alice"), esclient.NoStreamRevision)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return metrics.outcome(esclient.OutcomeAcked) == 1 }, waitFor, 5*time.Millisecond)
	require.Zero(t, metrics.outcome(esclient.OutcomeRetried))
	for _, c := range rec.snapshot() {
		require.Zero(t, c.retryCount, "in-process retries must not go back to the server")
	}
	require.Equal(t, 3, rec.count())
}

func TestSubscribeRecoversHandlerPanic(t *testing.T) {
	ctx := t.Context()
	metrics := newRecordingMetrics()
	store, _ := newStore(t, esclient.WithMetrics(metrics))

	rec := &recorder{fn: func(ctx context.Context, ev esclient.Event, attempt int) error {
		if attempt == 0 {
			panic("boom")
		}
		return nil
	}}
	subscribe(t, store, rec)

	_, err := store.Append(ctx, opened(uuid.New(), "alice"), esclient.NoStreamRevision)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return metrics.outcome(esclient.OutcomeAcked) == 1 }, waitFor, 5*time.Millisecond)
	require.Equal(t, 1, metrics.outcome(esclient.OutcomeRetried))
}

func TestSubscribeWorkersKeepStreamOrder(t *testing.T) {
	ctx := t.Context()
	store, _ := newStore(t, esclient.WithWorkers(4), esclient.WithBufferSize(64))

	const (
		aggregates = 6
		perStream  = 5
	)

	var mu sync.Mutex
	last := make(map[uuid.UUID]int64)
	var outOfOrder []string
	total := 0
	handler := esclient.NewEventHandlerFunc(func(ctx context.Context, ev esclient.Event) error {
		time.Sleep(time.Millisecond)
		mu.Lock()
		defer mu.Unlock()
		prev, ok := last[ev.AggregateID()]
		if ok && ev.Revision() != prev+1 || !ok && ev.Revision() != 0 {
			outOfOrder = append(outOfOrder, ev.AggregateID().String())
		}
		last[ev.AggregateID()] = ev.Revision()
		total++
		return nil
	})
	subscribe(t, store, handler)

	for i := 0; i < aggregates; i++ {
		id := uuid.New()
		rev := esclient.NoStreamRevision
		for j := 0; j < perStream; j++ {
			var err error
			rev, err = store.Append(ctx, added(id, "item"), rev)
			require.NoError(t, err)
		}
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return total == aggregates*perStream
	}, waitFor, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Empty(t, outOfOrder)
}

func TestSubscribeCustomCategory(t *testing.T) {
	ctx := t.Context()
	store, _ := newStore(t, esclient.WithCategory("cart"))
	rec := &recorder{}
	subscribe(t, store, rec)

	id := uuid.New()
	_, err := store.Append(ctx, opened(id, "alice"), esclient.NoStreamRevision)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return rec.count() == 1 }, waitFor, 5*time.Millisecond)
	require.Equal(t, "cart-"+id.String(), rec.snapshot()[0].stream)
}
