package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const defaultCorrelationKey = "correlationId"

type config struct {
	// operation prefixes span names: "<operation>.append", "<operation>.read".
	operation string

	// attributes are added to every store span.
	attributes []attribute.KeyValue

	tracer     trace.Tracer
	propagator propagation.TextMapPropagator

	// correlationKey is the metadata key that receives the trace id. Empty
	// disables it.
	correlationKey string
}

func newConfig(options []Option) config {
	c := config{
		operation:      "EventStore",
		correlationKey: defaultCorrelationKey,
	}
	for _, o := range options {
		o.apply(&c)
	}
	if c.tracer == nil {
		c.tracer = tracer
	}
	return c
}

func (c config) textMapPropagator() propagation.TextMapPropagator {
	if c.propagator != nil {
		return c.propagator
	}
	return otel.GetTextMapPropagator()
}

// Option configures WithEventStoreTelemetry.
type Option interface {
	apply(*config)
}

type optionFunc func(*config)

func (o optionFunc) apply(c *config) {
	o(c)
}

// WithOperation sets the span name prefix, "EventStore" by default.
// Use this to tell several decorated stores apart.
func WithOperation(operation string) Option {
	return optionFunc(func(c *config) {
		if operation != "" {
			c.operation = operation
		}
	})
}

// WithAttributes adds attrs to every store span, e.g. the backend in use.
func WithAttributes(attrs ...attribute.KeyValue) Option {
	return optionFunc(func(c *config) {
		c.attributes = append(c.attributes, attrs...)
	})
}

// WithTracerProvider traces with tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return optionFunc(func(c *config) {
		c.tracer = tp.Tracer(instrumentationName, trace.WithInstrumentationVersion(instrumentationVersion))
	})
}

// WithPropagator sets how the trace context is written into event metadata.
// The global propagator is used by default; handlers extract with the global
// one, so both sides should agree.
func WithPropagator(p propagation.TextMapPropagator) Option {
	return optionFunc(func(c *config) {
		c.propagator = p
	})
}

// WithCorrelationKey sets the metadata key for the trace id of the appending
// span. An empty key disables it.
func WithCorrelationKey(key string) Option {
	return optionFunc(func(c *config) {
		c.correlationKey = key
	})
}
