package esclient

// Timer measures the duration of an operation. Call ObserveDuration when
// the operation completes to record the elapsed time.
type Timer interface {
	ObserveDuration()
}

// DeliveryOutcome is what the subscription did with an entry.
type DeliveryOutcome string

const (
	OutcomeAcked   DeliveryOutcome = "acked"
	OutcomeRetried DeliveryOutcome = "retried"
	OutcomeParked  DeliveryOutcome = "parked"
	OutcomeFailed  DeliveryOutcome = "failed"
)

// Metrics receives instrumentation from the EventStore. Implementations must
// be safe for concurrent use.
type Metrics interface {
	AppendDuration(category string) Timer
	EventsAppended(category string, count int)
	ConcurrencyConflict(category string)

	ReadDuration(category string) Timer
	EventsRead(category string, count int)

	HandlerDuration(eventType string) Timer
	EventDelivered(eventType string, outcome DeliveryOutcome)
	InFlight(group string, delta int)
}

type nopTimer struct{}

func (nopTimer) ObserveDuration() {}

type nopMetrics struct{}

func (nopMetrics) AppendDuration(string) Timer            { return nopTimer{} }
func (nopMetrics) EventsAppended(string, int)             {}
func (nopMetrics) ConcurrencyConflict(string)             {}
func (nopMetrics) ReadDuration(string) Timer              { return nopTimer{} }
func (nopMetrics) EventsRead(string, int)                 {}
func (nopMetrics) HandlerDuration(string) Timer           { return nopTimer{} }
func (nopMetrics) EventDelivered(string, DeliveryOutcome) {}
func (nopMetrics) InFlight(string, int)                   {}

// NopMetrics returns a no-op Metrics implementation.
func NopMetrics() Metrics { return nopMetrics{} }
