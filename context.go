package esclient

import (
	"context"
	"encoding/json"
	"maps"
	"time"

	"github.com/google/uuid"
)

type ctxKey string

const (
	streamIDKey   ctxKey = "streamID"
	eventIDKey    ctxKey = "eventID"
	revisionKey   ctxKey = "revision"
	retryCountKey ctxKey = "retryCount"
	occurredAtKey ctxKey = "occurredAt"
	groupKey      ctxKey = "group"
	metadataKey   ctxKey = "metadata"
)

// WithDelivery adds the origin of a subscription delivery to the context
// passed to the handler.
func WithDelivery(ctx context.Context, group string, d *Delivery) context.Context {
	ctx = context.WithValue(ctx, groupKey, group)
	ctx = context.WithValue(ctx, streamIDKey, d.Event.StreamID)
	ctx = context.WithValue(ctx, eventIDKey, d.Event.EventID)
	ctx = context.WithValue(ctx, revisionKey, int64(d.Event.Revision))
	ctx = context.WithValue(ctx, retryCountKey, d.RetryCount)
	ctx = context.WithValue(ctx, occurredAtKey, d.Event.CreatedDate)

	var md map[string]string
	if len(d.Event.Metadata) > 0 && json.Unmarshal(d.Event.Metadata, &md) == nil {
		ctx = context.WithValue(ctx, metadataKey, md)
	}
	return ctx
}

// WithMetadata adds entries to the metadata stored with every event appended
// under ctx. Existing keys are overwritten.
func WithMetadata(ctx context.Context, md map[string]string) context.Context {
	merged := maps.Clone(MetadataFromContext(ctx))
	if merged == nil {
		merged = make(map[string]string, len(md))
	}
	maps.Copy(merged, md)
	return context.WithValue(ctx, metadataKey, merged)
}

// MetadataFromContext returns the event metadata, or nil if there is none.
// Inside a handler it is the metadata of the delivered event.
func MetadataFromContext(ctx context.Context) map[string]string {
	if v, ok := ctx.Value(metadataKey).(map[string]string); ok {
		return v
	}
	return nil
}

// StreamIDFromContext returns the origin stream or "" if not present
func StreamIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(streamIDKey).(string); ok {
		return v
	}
	return ""
}

// GroupFromContext returns the subscription group or "" if not present
func GroupFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(groupKey).(string); ok {
		return v
	}
	return ""
}

// EventIDFromContext returns the EventID or uuid.Nil if not present
func EventIDFromContext(ctx context.Context) uuid.UUID {
	if v, ok := ctx.Value(eventIDKey).(uuid.UUID); ok {
		return v
	}
	return uuid.Nil
}

// RevisionFromContext returns the stream revision or UnsetRevision if not present
func RevisionFromContext(ctx context.Context) int64 {
	if v, ok := ctx.Value(revisionKey).(int64); ok {
		return v
	}
	return UnsetRevision
}

// RetryCountFromContext returns how often the entry was delivered before.
func RetryCountFromContext(ctx context.Context) int {
	if v, ok := ctx.Value(retryCountKey).(int); ok {
		return v
	}
	return 0
}

// OccurredAtFromContext returns the server's record time or zero time if not present
func OccurredAtFromContext(ctx context.Context) time.Time {
	if v, ok := ctx.Value(occurredAtKey).(time.Time); ok {
		return v
	}
	return time.Time{}
}
