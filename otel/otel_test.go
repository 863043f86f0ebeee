package otel_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/terraskye/esclient"
	"github.com/terraskye/esclient/eventstore/memory"
	esotel "github.com/terraskye/esclient/otel"
)

type placed struct {
	esclient.Base
}

func (*placed) EventType() string { return "placed" }

type place struct{ ID uuid.UUID }

func (c place) AggregateID() uuid.UUID { return c.ID }

func newStore(t *testing.T) *esclient.EventStore {
	t.Helper()
	logger, _ := test.NewNullLogger()
	log := logrus.NewEntry(logger)
	store := esclient.NewEventStore(
		memory.New(memory.WithLogger(log)),
		esclient.NewCodec(func() esclient.Event { return &placed{} }),
		esclient.WithLogger(log),
	)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// traced returns a context carrying a remote parent span.
func traced(t *testing.T) (context.Context, trace.TraceID) {
	t.Helper()
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	traceID := trace.TraceID{0x01, 0x02, 0x03}
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     trace.SpanID{0x04},
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	return trace.ContextWithSpanContext(t.Context(), sc), traceID
}

func TestTelemetryStore_AppendAndRead(t *testing.T) {
	store := esotel.WithEventStoreTelemetry(newStore(t), esotel.WithOperation("Orders"))
	id := uuid.New()

	ev := &placed{Base: esclient.NewBase(id)}
	rev, err := store.Append(t.Context(), ev, esclient.NoStreamRevision)
	require.NoError(t, err)
	require.EqualValues(t, 0, rev)

	_, err = store.Append(t.Context(), &placed{Base: esclient.NewBase(id)}, esclient.NoStreamRevision)
	require.True(t, esclient.IsConcurrencyError(err))

	_, err = store.Append(t.Context(), nil, esclient.NoStreamRevision)
	require.ErrorIs(t, err, esclient.ErrNilEvent)

	events, err := store.ReadEvents(t.Context(), id)
	require.NoError(t, err)
	require.Len(t, events, 1)
}

// deliveredMetadata appends one event with ctx and returns the metadata the
// subscribed handler sees for it.
func deliveredMetadata(t *testing.T, ctx context.Context, store esclient.Store) map[string]string {
	t.Helper()
	_, err := store.Append(ctx, &placed{Base: esclient.NewBase(uuid.New())}, esclient.NoStreamRevision)
	require.NoError(t, err)

	got := make(chan map[string]string, 1)
	subCtx, cancel := context.WithCancel(t.Context())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- store.Subscribe(subCtx, esclient.NewEventHandlerFunc(func(ctx context.Context, _ esclient.Event) error {
			select {
			case got <- esclient.MetadataFromContext(ctx):
			default:
			}
			return nil
		}))
	}()

	var md map[string]string
	select {
	case md = <-got:
	case <-time.After(5 * time.Second):
		t.Fatal("event was not delivered")
	}

	cancel()
	require.NoError(t, <-done)
	return md
}

func TestTelemetryStore_PropagatesTraceToHandler(t *testing.T) {
	ctx, traceID := traced(t)
	store := esotel.WithEventStoreTelemetry(newStore(t))

	md := deliveredMetadata(t, ctx, store)
	require.Equal(t, traceID.String(), md["correlationId"])
	require.Contains(t, md["traceparent"], traceID.String())
}

func TestTelemetryStore_PropagatorOptions(t *testing.T) {
	traceID := trace.TraceID{0x0a, 0x0b}
	ctx := trace.ContextWithSpanContext(t.Context(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     trace.SpanID{0x0c},
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	}))
	store := esotel.WithEventStoreTelemetry(newStore(t),
		esotel.WithPropagator(propagation.TraceContext{}),
		esotel.WithCorrelationKey(""),
		esotel.WithAttributes(attribute.String("backend", "memory")),
	)

	md := deliveredMetadata(t, ctx, store)
	require.Contains(t, md["traceparent"], traceID.String())
	require.NotContains(t, md, "correlationId")
}

func TestWithEventTelemetry_PassesErrorsThrough(t *testing.T) {
	boom := errors.New("boom")
	ev := &placed{Base: esclient.NewBase(uuid.New())}

	h := esotel.WithEventTelemetry(esclient.NewEventHandlerFunc(func(context.Context, esclient.Event) error {
		return boom
	}))
	require.ErrorIs(t, h.Handle(t.Context(), ev), boom)

	skip := esclient.ErrSkippedEvent{Event: ev}
	h = esotel.WithEventTelemetry(esclient.NewEventHandlerFunc(func(context.Context, esclient.Event) error {
		return skip
	}))
	require.ErrorAs(t, h.Handle(t.Context(), ev), &skip)
}

func TestWithCommandTelemetry(t *testing.T) {
	store := newStore(t)
	handler := esotel.WithCommandTelemetry(esclient.NewCommandHandler(store, 0,
		func(n int, _ esclient.Event) int { return n + 1 },
		func(n int, cmd place) ([]esclient.Event, error) {
			if n > 0 {
				return nil, errors.New("already placed")
			}
			return []esclient.Event{&placed{Base: esclient.NewBase(cmd.ID)}}, nil
		},
	))

	id := uuid.New()
	rev, err := handler(t.Context(), place{ID: id})
	require.NoError(t, err)
	require.EqualValues(t, 0, rev)

	_, err = handler(t.Context(), place{ID: id})
	require.ErrorIs(t, err, esclient.ErrBusinessRuleViolation)
}
