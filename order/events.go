// Package order is the order aggregate: a ride is placed by a rider, accepted
// by a driver and then completed, or cancelled before completion.
package order

import (
	"github.com/google/uuid"

	"github.com/terraskye/esclient"
)

type OrderPlacedEvent struct {
	esclient.Base
	RiderID uuid.UUID `json:"riderId"`
	Price   float64   `json:"price"`
}

func (*OrderPlacedEvent) EventType() string { return "OrderPlacedEvent" }

type OrderAcceptedEvent struct {
	esclient.Base
	DriverID uuid.UUID `json:"driverId"`
}

func (*OrderAcceptedEvent) EventType() string { return "OrderAcceptedEvent" }

type OrderCompletedEvent struct {
	esclient.Base
}

func (*OrderCompletedEvent) EventType() string { return "OrderCompletedEvent" }

type OrderCancelledEvent struct {
	esclient.Base
	Reason string `json:"reason"`
}

func (*OrderCancelledEvent) EventType() string { return "OrderCancelledEvent" }

// NewCodec returns a codec that knows every order event.
func NewCodec() *esclient.Codec {
	return esclient.NewCodec(
		func() esclient.Event { return &OrderPlacedEvent{} },
		func() esclient.Event { return &OrderAcceptedEvent{} },
		func() esclient.Event { return &OrderCompletedEvent{} },
		func() esclient.Event { return &OrderCancelledEvent{} },
	)
}
