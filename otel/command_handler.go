package otel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/terraskye/esclient"
)

// WithCommandTelemetry wraps a CommandHandler with OpenTelemetry tracing and metrics.
//
// Business rule violations end the span with an Ok status: the handler did its
// job and rejected the command. Concurrency conflicts are counted and recorded
// as a span event besides the error status.
//
// Example Usage:
//
//	handler := WithCommandTelemetry(myCommandHandler)
//	revision, err := handler(ctx, myCommand)
func WithCommandTelemetry[C esclient.Command](next esclient.CommandHandler[C]) esclient.CommandHandler[C] {
	var zero C
	commandType := fmt.Sprintf("%T", zero)
	typeAttr := metric.WithAttributes(AttrCommandType.String(commandType))

	return func(ctx context.Context, cmd C) (int64, error) {
		attr := []attribute.KeyValue{
			AttrCommandType.String(commandType),
			AttrAggregateID.String(cmd.AggregateID().String()),
		}

		ctx, span := tracer.Start(ctx, fmt.Sprintf("command.handle %s", commandType),
			trace.WithSpanKind(trace.SpanKindInternal),
			trace.WithAttributes(attr...),
		)
		defer span.End()

		CommandsInFlight.Add(ctx, 1, typeAttr)
		defer CommandsInFlight.Add(ctx, -1, typeAttr)

		startTime := time.Now()
		revision, err := next(ctx, cmd)
		CommandsDuration.Record(ctx, float64(time.Since(startTime).Milliseconds()), typeAttr)

		if err != nil {
			CommandsFailed.Add(ctx, 1, typeAttr)

			if errors.Is(err, esclient.ErrBusinessRuleViolation) {
				span.SetStatus(codes.Ok, fmt.Sprintf("business rule violation: %v", err))
				span.AddEvent("business_rule_violation")
				return revision, err
			}
			if esclient.IsConcurrencyError(err) {
				ConcurrencyConflicts.Add(ctx, 1, typeAttr)
				span.AddEvent("concurrency_conflict")
			}

			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
			return revision, err
		}

		span.SetAttributes(AttrStreamRevision.Int64(revision))
		span.SetStatus(codes.Ok, "")
		CommandsHandled.Add(ctx, 1, typeAttr)
		return revision, nil
	}
}
