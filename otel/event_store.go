package otel

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/terraskye/esclient"
)

var _ esclient.Store = (*TelemetryStore)(nil)

// TelemetryStore traces every store operation. Appends carry the current trace
// context in the event metadata so subscription handlers continue the trace.
type TelemetryStore struct {
	next esclient.Store
	cfg  config
}

func (t TelemetryStore) start(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, AttrOperation.String(operation))
	attrs = append(attrs, t.cfg.attributes...)

	return t.cfg.tracer.Start(ctx, t.cfg.operation+"."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

func (t TelemetryStore) Append(ctx context.Context, ev esclient.Event, expectedRevision int64) (int64, error) {
	if ev == nil {
		return t.next.Append(ctx, ev, expectedRevision)
	}
	return t.AppendEvents(ctx, expectedRevision, ev)
}

func (t TelemetryStore) AppendEvents(ctx context.Context, expectedRevision int64, events ...esclient.Event) (int64, error) {
	attrs := []attribute.KeyValue{
		AttrExpected.Int64(expectedRevision),
		AttrEventCount.Int(len(events)),
	}
	if len(events) > 0 && events[0] != nil {
		attrs = append(attrs,
			AttrAggregateID.String(events[0].AggregateID().String()),
			AttrEventType.String(events[0].EventType()),
		)
	}

	ctx, span := t.start(ctx, "append", attrs...)
	defer span.End()

	carrier := propagation.MapCarrier{}
	t.cfg.textMapPropagator().Inject(ctx, carrier)
	if t.cfg.correlationKey != "" && span.SpanContext().HasTraceID() {
		carrier[t.cfg.correlationKey] = span.SpanContext().TraceID().String()
	}
	if len(carrier) > 0 {
		ctx = esclient.WithMetadata(ctx, carrier)
	}

	start := time.Now()
	revision, err := t.next.AppendEvents(ctx, expectedRevision, events...)
	EventStoreDuration.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(AttrOperation.String("append")),
	)

	if err != nil {
		if esclient.IsConcurrencyError(err) {
			ConcurrencyConflicts.Add(ctx, 1)
			span.AddEvent("concurrency_conflict")
		}
		EventStoreErrors.Add(ctx, 1, metric.WithAttributes(AttrOperation.String("append")))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return revision, err
	}

	EventsAppended.Add(ctx, int64(len(events)))
	span.SetAttributes(AttrStreamRevision.Int64(revision))
	span.SetStatus(codes.Ok, "")
	return revision, nil
}

func (t TelemetryStore) ReadEvents(ctx context.Context, aggregateID uuid.UUID) ([]esclient.Event, error) {
	ctx, span := t.start(ctx, "read", AttrAggregateID.String(aggregateID.String()))
	defer span.End()

	start := time.Now()
	events, err := t.next.ReadEvents(ctx, aggregateID)
	EventStoreDuration.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(AttrOperation.String("read")),
	)

	if err != nil {
		EventStoreErrors.Add(ctx, 1, metric.WithAttributes(AttrOperation.String("read")))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return events, err
	}

	EventsLoaded.Add(ctx, int64(len(events)))
	span.SetAttributes(AttrEventCount.Int(len(events)))
	span.SetStatus(codes.Ok, "")
	return events, nil
}

// Subscribe instruments every handler invocation with WithEventTelemetry.
func (t TelemetryStore) Subscribe(ctx context.Context, handler esclient.EventHandler) error {
	if handler == nil {
		return t.next.Subscribe(ctx, handler)
	}
	Subscribers.Add(ctx, 1)
	defer Subscribers.Add(context.WithoutCancel(ctx), -1)
	return t.next.Subscribe(ctx, WithEventTelemetry(handler))
}

// WithEventStoreTelemetry decorates next with tracing and metrics.
func WithEventStoreTelemetry(next esclient.Store, options ...Option) esclient.Store {
	return TelemetryStore{next: next, cfg: newConfig(options)}
}
