package order

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/terraskye/esclient"
)

type Status string

const (
	StatusNew       Status = ""
	StatusPlaced    Status = "PLACED"
	StatusAccepted  Status = "ACCEPTED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrOrderExists       = errors.New("order already exists")
	ErrInvalidTransition = errors.New("invalid order status transition")
	ErrInvalidCommand    = errors.New("invalid command")
)

// Order is the write model state folded from an order's history.
type Order struct {
	ID       uuid.UUID
	Status   Status
	RiderID  uuid.UUID
	DriverID uuid.UUID
	Price    float64
	Reason   string
}

// Evolve applies one historical event.
func Evolve(state Order, ev esclient.Event) Order {
	switch e := ev.(type) {
	case *OrderPlacedEvent:
		state.ID = e.AggregateID()
		state.Status = StatusPlaced
		state.RiderID = e.RiderID
		state.Price = e.Price
	case *OrderAcceptedEvent:
		state.Status = StatusAccepted
		state.DriverID = e.DriverID
	case *OrderCompletedEvent:
		state.Status = StatusCompleted
	case *OrderCancelledEvent:
		state.Status = StatusCancelled
		state.Reason = e.Reason
	}
	return state
}

// Decide validates cmd against state and returns the events it causes.
func Decide(state Order, cmd esclient.Command) ([]esclient.Event, error) {
	if err := validate(cmd); err != nil {
		return nil, err
	}

	switch c := cmd.(type) {
	case PlaceOrder:
		if state.Status != StatusNew {
			return nil, fmt.Errorf("place order %s: %w", c.OrderID, ErrOrderExists)
		}
		return []esclient.Event{&OrderPlacedEvent{
			Base:    esclient.NewBase(c.OrderID),
			RiderID: c.RiderID,
			Price:   c.Price,
		}}, nil

	case AcceptOrder:
		if err := transition(state, StatusAccepted, StatusPlaced); err != nil {
			return nil, err
		}
		return []esclient.Event{&OrderAcceptedEvent{
			Base:     esclient.NewBase(c.OrderID),
			DriverID: c.DriverID,
		}}, nil

	case CompleteOrder:
		if err := transition(state, StatusCompleted, StatusAccepted); err != nil {
			return nil, err
		}
		return []esclient.Event{&OrderCompletedEvent{Base: esclient.NewBase(c.OrderID)}}, nil

	case CancelOrder:
		if err := transition(state, StatusCancelled, StatusPlaced, StatusAccepted); err != nil {
			return nil, err
		}
		return []esclient.Event{&OrderCancelledEvent{
			Base:   esclient.NewBase(c.OrderID),
			Reason: c.Reason,
		}}, nil

	default:
		return nil, fmt.Errorf("%w: unknown command %T", ErrInvalidCommand, cmd)
	}
}

func transition(state Order, to Status, from ...Status) error {
	if state.Status == StatusNew {
		return ErrOrderNotFound
	}
	for _, s := range from {
		if state.Status == s {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, state.Status, to)
}
