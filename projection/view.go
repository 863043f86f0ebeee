// Package projection keeps a queryable read model of orders up to date from
// the order subscription.
package projection

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("order view not found")

// ErrRevisionGap is returned when an event skips past the next revision the
// view expects. The event is left for redelivery once the gap is filled.
var ErrRevisionGap = errors.New("order view revision gap")

// OrderView is the read model of one order.
type OrderView struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"orderId"`
	Status    string    `gorm:"index" json:"status"`
	RiderID   uuid.UUID `gorm:"type:uuid" json:"riderId"`
	DriverID  uuid.UUID `gorm:"type:uuid" json:"driverId,omitempty"`
	Price     float64   `json:"price"`
	Reason    string    `json:"reason,omitempty"`
	Revision  int64     `json:"revision"`
	PlacedAt  time.Time `json:"placedAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Repository stores order views. Save must not replace a view with one of a
// lower or equal revision.
type Repository interface {
	Get(ctx context.Context, id uuid.UUID) (OrderView, error)
	Save(ctx context.Context, view OrderView) error
}
