package esclient

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestContextGetters(t *testing.T) {
	eventID := uuid.New()
	occurredAt := time.Now().UTC()

	d := &Delivery{
		Event: &RecordedEvent{
			EventID:     eventID,
			EventType:   "myevent",
			StreamID:    "order-123",
			Revision:    7,
			CreatedDate: occurredAt,
		},
		RetryCount: 2,
	}

	ctxWithDelivery := WithDelivery(t.Context(), "group-1", d)
	emptyCtx := t.Context()

	tests := []struct {
		name string
		ctx  context.Context
		fn   func(context.Context) any
		want any
	}{
		{
			name: "StreamIDFromContext with value",
			ctx:  ctxWithDelivery,
			fn:   func(ctx context.Context) any { return StreamIDFromContext(ctx) },
			want: "order-123",
		},
		{
			name: "StreamIDFromContext without value",
			ctx:  emptyCtx,
			fn:   func(ctx context.Context) any { return StreamIDFromContext(ctx) },
			want: "",
		},
		{
			name: "GroupFromContext with value",
			ctx:  ctxWithDelivery,
			fn:   func(ctx context.Context) any { return GroupFromContext(ctx) },
			want: "group-1",
		},
		{
			name: "GroupFromContext without value",
			ctx:  emptyCtx,
			fn:   func(ctx context.Context) any { return GroupFromContext(ctx) },
			want: "",
		},
		{
			name: "EventIDFromContext with value",
			ctx:  ctxWithDelivery,
			fn:   func(ctx context.Context) any { return EventIDFromContext(ctx) },
			want: eventID,
		},
		{
			name: "EventIDFromContext without value",
			ctx:  emptyCtx,
			fn:   func(ctx context.Context) any { return EventIDFromContext(ctx) },
			want: uuid.Nil,
		},
		{
			name: "RevisionFromContext with value",
			ctx:  ctxWithDelivery,
			fn:   func(ctx context.Context) any { return RevisionFromContext(ctx) },
			want: int64(7),
		},
		{
			name: "RevisionFromContext without value",
			ctx:  emptyCtx,
			fn:   func(ctx context.Context) any { return RevisionFromContext(ctx) },
			want: UnsetRevision,
		},
		{
			name: "RetryCountFromContext with value",
			ctx:  ctxWithDelivery,
			fn:   func(ctx context.Context) any { return RetryCountFromContext(ctx) },
			want: 2,
		},
		{
			name: "RetryCountFromContext without value",
			ctx:  emptyCtx,
			fn:   func(ctx context.Context) any { return RetryCountFromContext(ctx) },
			want: 0,
		},
		{
			name: "OccurredAtFromContext with value",
			ctx:  ctxWithDelivery,
			fn:   func(ctx context.Context) any { return OccurredAtFromContext(ctx) },
			want: occurredAt,
		},
		{
			name: "OccurredAtFromContext without value",
			ctx:  emptyCtx,
			fn:   func(ctx context.Context) any { return OccurredAtFromContext(ctx) },
			want: time.Time{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.fn(tt.ctx)
			switch want := tt.want.(type) {
			case time.Time:
				if !got.(time.Time).Equal(want) {
					t.Errorf("%s = %v, want %v", tt.name, got, want)
				}
			default:
				if got != want {
					t.Errorf("%s = %v, want %v", tt.name, got, want)
				}
			}
		})
	}
}

func TestMetadataContext(t *testing.T) {
	if md := MetadataFromContext(t.Context()); md != nil {
		t.Fatalf("expected no metadata, got %v", md)
	}

	ctx := WithMetadata(t.Context(), map[string]string{"a": "1", "b": "2"})
	child := WithMetadata(ctx, map[string]string{"b": "3"})

	if got := MetadataFromContext(ctx); got["b"] != "2" {
		t.Fatalf("parent metadata was modified: %v", got)
	}
	got := MetadataFromContext(child)
	if got["a"] != "1" || got["b"] != "3" {
		t.Fatalf("unexpected metadata: %v", got)
	}
}

func TestWithDeliveryMetadata(t *testing.T) {
	d := &Delivery{Event: &RecordedEvent{Metadata: []byte(`{"traceparent":"00-abc"}`)}}
	if got := MetadataFromContext(WithDelivery(t.Context(), "g", d)); got["traceparent"] != "00-abc" {
		t.Fatalf("unexpected metadata: %v", got)
	}

	d = &Delivery{Event: &RecordedEvent{Metadata: []byte(`not json`)}}
	if got := MetadataFromContext(WithDelivery(t.Context(), "g", d)); got != nil {
		t.Fatalf("expected no metadata, got %v", got)
	}
}
