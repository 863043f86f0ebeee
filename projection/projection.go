package projection

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/terraskye/esclient"
	"github.com/terraskye/esclient/order"
)

// OrderProjection folds order events into OrderViews. Deliveries are at least
// once, so an event at or below the stored revision is acknowledged without
// being applied again. An event further ahead than the next revision fails
// with ErrRevisionGap so it is redelivered after the missing one.
type OrderProjection struct {
	repo Repository
	log  *logrus.Entry
	*esclient.EventGroupProcessor
}

var _ esclient.EventHandler = (*OrderProjection)(nil)

func NewOrderProjection(repo Repository, log *logrus.Entry) *OrderProjection {
	p := &OrderProjection{
		repo: repo,
		log:  log.WithField("component", "projection"),
	}
	p.EventGroupProcessor = esclient.NewEventGroupProcessor(
		esclient.OnEvent(p.onPlaced),
		esclient.OnEvent(p.onAccepted),
		esclient.OnEvent(p.onCompleted),
		esclient.OnEvent(p.onCancelled),
	).IgnoreUnhandled()
	return p
}

func (p *OrderProjection) onPlaced(ctx context.Context, ev *order.OrderPlacedEvent) error {
	view, err := p.repo.Get(ctx, ev.AggregateID())
	switch {
	case err == nil:
		if view.Revision >= ev.Revision() {
			p.duplicate(ev, view)
			return nil
		}
	case !errors.Is(err, ErrNotFound):
		return err
	}

	return p.repo.Save(ctx, OrderView{
		ID:        ev.AggregateID(),
		Status:    string(order.StatusPlaced),
		RiderID:   ev.RiderID,
		Price:     ev.Price,
		Revision:  ev.Revision(),
		PlacedAt:  ev.CreatedDate(),
		UpdatedAt: ev.CreatedDate(),
	})
}

func (p *OrderProjection) onAccepted(ctx context.Context, ev *order.OrderAcceptedEvent) error {
	return p.update(ctx, ev, func(v *OrderView) {
		v.Status = string(order.StatusAccepted)
		v.DriverID = ev.DriverID
	})
}

func (p *OrderProjection) onCompleted(ctx context.Context, ev *order.OrderCompletedEvent) error {
	return p.update(ctx, ev, func(v *OrderView) {
		v.Status = string(order.StatusCompleted)
	})
}

func (p *OrderProjection) onCancelled(ctx context.Context, ev *order.OrderCancelledEvent) error {
	return p.update(ctx, ev, func(v *OrderView) {
		v.Status = string(order.StatusCancelled)
		v.Reason = ev.Reason
	})
}

func (p *OrderProjection) update(ctx context.Context, ev esclient.Event, apply func(*OrderView)) error {
	view, err := p.repo.Get(ctx, ev.AggregateID())
	if err != nil {
		// the placed event has not been projected yet; redelivery catches up
		return fmt.Errorf("project %s@%d: %w", ev.EventType(), ev.Revision(), err)
	}
	if view.Revision >= ev.Revision() {
		p.duplicate(ev, view)
		return nil
	}
	if ev.Revision() != view.Revision+1 {
		return fmt.Errorf("project %s@%d: view at %d: %w", ev.EventType(), ev.Revision(), view.Revision, ErrRevisionGap)
	}

	apply(&view)
	view.Revision = ev.Revision()
	view.UpdatedAt = ev.CreatedDate()
	return p.repo.Save(ctx, view)
}

func (p *OrderProjection) duplicate(ev esclient.Event, view OrderView) {
	p.log.WithFields(logrus.Fields{
		"order_id":      view.ID,
		"event_type":    ev.EventType(),
		"revision":      ev.Revision(),
		"view_revision": view.Revision,
	}).Debug("skipping already projected event")
}
