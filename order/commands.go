package order

import (
	"fmt"

	"github.com/google/uuid"
)

type PlaceOrder struct {
	OrderID uuid.UUID
	RiderID uuid.UUID
	Price   float64
}

func (c PlaceOrder) AggregateID() uuid.UUID { return c.OrderID }

type AcceptOrder struct {
	OrderID  uuid.UUID
	DriverID uuid.UUID
}

func (c AcceptOrder) AggregateID() uuid.UUID { return c.OrderID }

type CompleteOrder struct {
	OrderID uuid.UUID
}

func (c CompleteOrder) AggregateID() uuid.UUID { return c.OrderID }

type CancelOrder struct {
	OrderID uuid.UUID
	Reason  string
}

func (c CancelOrder) AggregateID() uuid.UUID { return c.OrderID }

func validate(cmd any) error {
	switch c := cmd.(type) {
	case PlaceOrder:
		if c.RiderID == uuid.Nil {
			return fmt.Errorf("%w: rider id is required", ErrInvalidCommand)
		}
		if c.Price <= 0 {
			return fmt.Errorf("%w: price must be positive", ErrInvalidCommand)
		}
	case AcceptOrder:
		if c.DriverID == uuid.Nil {
			return fmt.Errorf("%w: driver id is required", ErrInvalidCommand)
		}
	}
	return nil
}
