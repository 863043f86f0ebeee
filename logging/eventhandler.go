package logging

import (
	"context"
	"log/slog"

	"github.com/terraskye/esclient"
)

func WithLoggingMiddleware(logger *slog.Logger, next esclient.EventHandler) esclient.EventHandler {
	return esclient.NewEventHandlerFunc(func(ctx context.Context, event esclient.Event) error {
		l := logger.With(
			"stream-id", esclient.StreamIDFromContext(ctx),
			"group", esclient.GroupFromContext(ctx),
			"event-id", esclient.EventIDFromContext(ctx),
			"revision", esclient.RevisionFromContext(ctx),
			"retry-count", esclient.RetryCountFromContext(ctx),
			"event-type", event.EventType(),
		)

		l.DebugContext(ctx, "event processing started")

		err := next.Handle(ctx, event)

		if err != nil {
			l.ErrorContext(ctx, "error processing event", "error", err)
		} else {
			l.DebugContext(ctx, "event processed successfully")
		}

		return err
	})
}
