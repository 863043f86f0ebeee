package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName    = "github.com/terraskye/esclient"
	instrumentationVersion = "0.1.0"
)

// Semantic attribute keys following OpenTelemetry conventions
const (
	// Command attributes
	AttrCommandType = attribute.Key("esclient.command.type")
	AttrAggregateID = attribute.Key("esclient.aggregate.id")

	// Stream attributes
	AttrStreamID       = attribute.Key("esclient.stream.id")
	AttrStreamRevision = attribute.Key("esclient.stream.revision")
	AttrExpected       = attribute.Key("esclient.stream.expected_revision")

	// Event attributes
	AttrEventType  = attribute.Key("esclient.event.type")
	AttrEventID    = attribute.Key("esclient.event.id")
	AttrEventCount = attribute.Key("esclient.events.count")

	// Subscription attributes
	AttrGroup      = attribute.Key("esclient.subscription.group")
	AttrRetryCount = attribute.Key("esclient.retry.count")

	AttrOperation = attribute.Key("esclient.operation")
)

var (
	meter  = otel.Meter(instrumentationName, metric.WithInstrumentationVersion(instrumentationVersion))
	tracer = otel.Tracer(instrumentationName, trace.WithInstrumentationVersion(instrumentationVersion))

	// Command metrics
	CommandsHandled, _ = meter.Int64Counter(
		"esclient.commands.handled",
		metric.WithDescription("Total number of commands handled"),
		metric.WithUnit("{command}"),
	)

	CommandsDuration, _ = meter.Float64Histogram(
		"esclient.commands.duration",
		metric.WithDescription("Command handling duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000),
	)

	CommandsInFlight, _ = meter.Int64UpDownCounter(
		"esclient.commands.in_flight",
		metric.WithDescription("Number of commands currently being processed"),
		metric.WithUnit("{command}"),
	)

	CommandsFailed, _ = meter.Int64Counter(
		"esclient.commands.failed",
		metric.WithDescription("Number of failed commands"),
		metric.WithUnit("{command}"),
	)

	// Event metrics
	EventsAppended, _ = meter.Int64Counter(
		"esclient.events.appended",
		metric.WithDescription("Number of events appended to streams"),
		metric.WithUnit("{event}"),
	)

	EventsLoaded, _ = meter.Int64Counter(
		"esclient.events.loaded",
		metric.WithDescription("Number of events loaded from streams"),
		metric.WithUnit("{event}"),
	)

	// Subscription metrics
	EventsHandled, _ = meter.Int64Counter(
		"esclient.subscription.handled",
		metric.WithDescription("Number of events handled by subscription handlers"),
		metric.WithUnit("{event}"),
	)

	EventsHandlerErrors, _ = meter.Int64Counter(
		"esclient.subscription.errors",
		metric.WithDescription("Number of subscription handler errors"),
		metric.WithUnit("{error}"),
	)

	HandlerDuration, _ = meter.Float64Histogram(
		"esclient.subscription.duration",
		metric.WithDescription("Subscription handler duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000),
	)

	Subscribers, _ = meter.Int64UpDownCounter(
		"esclient.subscription.subscribers",
		metric.WithDescription("Number of running subscriptions"),
		metric.WithUnit("{subscriber}"),
	)

	// EventStore metrics
	EventStoreDuration, _ = meter.Float64Histogram(
		"esclient.eventstore.duration",
		metric.WithDescription("Event store operation duration"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000),
	)

	EventStoreErrors, _ = meter.Int64Counter(
		"esclient.eventstore.errors",
		metric.WithDescription("Number of event store errors"),
		metric.WithUnit("{error}"),
	)

	ConcurrencyConflicts, _ = meter.Int64Counter(
		"esclient.concurrency.conflicts",
		metric.WithDescription("Number of concurrency conflicts"),
		metric.WithUnit("{conflict}"),
	)
)
