package otel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/terraskye/esclient"
)

// WithEventTelemetry wraps a subscription handler in a consumer span. The span
// is linked to the trace that appended the event when its metadata carries one.
func WithEventTelemetry(next esclient.EventHandler) esclient.EventHandler {
	return esclient.NewEventHandlerFunc(func(ctx context.Context, event esclient.Event) error {
		attr := []attribute.KeyValue{
			AttrEventType.String(event.EventType()),
			AttrEventID.String(esclient.EventIDFromContext(ctx).String()),
			AttrStreamRevision.Int64(esclient.RevisionFromContext(ctx)),
			AttrStreamID.String(esclient.StreamIDFromContext(ctx)),
			AttrGroup.String(esclient.GroupFromContext(ctx)),
			AttrRetryCount.Int(esclient.RetryCountFromContext(ctx)),
		}

		opts := []trace.SpanStartOption{
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(attr...),
		}
		if md := esclient.MetadataFromContext(ctx); len(md) > 0 {
			producer := trace.SpanContextFromContext(
				otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(md)),
			)
			if producer.IsValid() {
				opts = append(opts, trace.WithLinks(trace.Link{SpanContext: producer}))
			}
		}

		ctx, span := tracer.Start(ctx, fmt.Sprintf("events.handle %s", event.EventType()), opts...)
		defer span.End()

		typeAttr := metric.WithAttributes(AttrEventType.String(event.EventType()))
		startTime := time.Now()
		err := next.Handle(ctx, event)
		HandlerDuration.Record(ctx, float64(time.Since(startTime).Milliseconds()), typeAttr)

		if err != nil {
			var skipped esclient.ErrSkippedEvent
			if errors.As(err, &skipped) {
				span.SetStatus(codes.Ok, "event skipped")
				return err
			}
			EventsHandlerErrors.Add(ctx, 1, typeAttr)
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
			return err
		}

		EventsHandled.Add(ctx, 1, typeAttr)
		span.SetStatus(codes.Ok, "")
		return nil
	})
}
