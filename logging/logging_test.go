package logging_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/terraskye/esclient"
	"github.com/terraskye/esclient/eventstore/memory"
	"github.com/terraskye/esclient/logging"
)

type placed struct {
	esclient.Base
}

func (*placed) EventType() string { return "placed" }

type place struct{ ID uuid.UUID }

func (c place) AggregateID() uuid.UUID { return c.ID }

func newStore(t *testing.T) (esclient.Store, *test.Hook) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	store := esclient.NewEventStore(
		memory.New(memory.WithLogger(logrus.NewEntry(logger))),
		esclient.NewCodec(func() esclient.Event { return &placed{} }),
		esclient.WithLogger(logrus.NewEntry(logger)),
	)
	t.Cleanup(func() { _ = store.Close() })
	hook.Reset()
	return logging.WithStoreLogging(logrus.NewEntry(logger), store), hook
}

func TestWithStoreLogging(t *testing.T) {
	store, hook := newStore(t)
	id := uuid.New()

	_, err := store.Append(t.Context(), &placed{Base: esclient.NewBase(id)}, esclient.NoStreamRevision)
	require.NoError(t, err)
	require.Equal(t, logrus.InfoLevel, hook.LastEntry().Level)
	require.EqualValues(t, 0, hook.LastEntry().Data["revision"])

	_, err = store.Append(t.Context(), &placed{Base: esclient.NewBase(id)}, esclient.NoStreamRevision)
	require.True(t, esclient.IsConcurrencyError(err))
	require.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)

	_, err = store.ReadEvents(t.Context(), uuid.Nil)
	require.ErrorIs(t, err, esclient.ErrInvalidAggregateID)
	require.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}

func TestWithCommandLogging(t *testing.T) {
	logger, hook := test.NewNullLogger()
	boom := errors.New("boom")

	handler := logging.WithCommandLogging(logrus.NewEntry(logger), func(context.Context, place) (int64, error) {
		return esclient.UnsetRevision, boom
	})

	_, err := handler(t.Context(), place{ID: uuid.New()})
	require.ErrorIs(t, err, boom)
	require.Len(t, hook.AllEntries(), 2)
	require.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}

func TestWithLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	boom := errors.New("boom")
	handler := logging.WithLoggingMiddleware(logger, esclient.NewEventHandlerFunc(func(context.Context, esclient.Event) error {
		return boom
	}))

	d := &esclient.Delivery{Event: &esclient.RecordedEvent{StreamID: "order-1", Revision: 3}}
	ctx := esclient.WithDelivery(t.Context(), "group", d)

	err := handler.Handle(ctx, &placed{Base: esclient.NewBase(uuid.New())})
	require.ErrorIs(t, err, boom)
	require.Contains(t, buf.String(), "stream-id=order-1")
	require.Contains(t, buf.String(), "revision=3")
	require.Contains(t, buf.String(), "error processing event")
}
