package kurrentdb

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/kurrent-io/KurrentDB-Client-Go/kurrentdb"
	"github.com/sirupsen/logrus"

	"github.com/terraskye/esclient"
)

// subscription adapts a persistent subscription to esclient.Subscription.
// The server's Recv has no context, so a pump goroutine forwards events.
type subscription struct {
	ps     *kurrentdb.PersistentSubscription
	log    *logrus.Entry
	events chan *kurrentdb.PersistentSubscriptionEvent
	done   chan struct{}

	mu      sync.Mutex
	pending map[uuid.UUID]*kurrentdb.ResolvedEvent

	closeOnce sync.Once
}

var _ esclient.Subscription = (*subscription)(nil)

func newSubscription(ps *kurrentdb.PersistentSubscription, log *logrus.Entry) *subscription {
	s := &subscription{
		ps:      ps,
		log:     log,
		events:  make(chan *kurrentdb.PersistentSubscriptionEvent),
		done:    make(chan struct{}),
		pending: make(map[uuid.UUID]*kurrentdb.ResolvedEvent),
	}
	go s.pump()
	return s
}

func (s *subscription) pump() {
	defer close(s.events)
	for {
		ev := s.ps.Recv()
		select {
		case s.events <- ev:
		case <-s.done:
			return
		}
		if ev.SubscriptionDropped != nil {
			return
		}
	}
}

func (s *subscription) Recv(ctx context.Context) (*esclient.Delivery, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok := <-s.events:
			if !ok {
				return nil, esclient.ErrSubscriptionDropped
			}
			if ev.SubscriptionDropped != nil {
				return nil, fmt.Errorf("%w: %v", esclient.ErrSubscriptionDropped, ev.SubscriptionDropped.Error)
			}
			if ev.EventAppeared == nil {
				continue
			}

			resolved := ev.EventAppeared.Event
			original := resolved.Event
			if original == nil {
				// link to a deleted event
				s.log.WithField("link", resolved.Link.EventID).Debug("skipping unresolvable link")
				if err := s.ps.Nack("unresolvable link", kurrentdb.NackActionSkip, resolved); err != nil {
					s.log.WithError(err).Warn("failed to skip unresolvable link")
				}
				continue
			}

			d := &esclient.Delivery{
				Event:      toRecordedEvent(original),
				Link:       toRecordedEvent(resolved.Link),
				RetryCount: int(ev.EventAppeared.RetryCount),
			}

			s.mu.Lock()
			s.pending[original.EventID] = resolved
			s.mu.Unlock()
			return d, nil
		}
	}
}

func (s *subscription) take(d *esclient.Delivery) (*kurrentdb.ResolvedEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	resolved, ok := s.pending[d.Event.EventID]
	if !ok {
		return nil, fmt.Errorf("event %s is not pending on this subscription", d.Event.EventID)
	}
	delete(s.pending, d.Event.EventID)
	return resolved, nil
}

func (s *subscription) Ack(d *esclient.Delivery) error {
	resolved, err := s.take(d)
	if err != nil {
		return err
	}
	return s.ps.Ack(resolved)
}

func (s *subscription) Nack(d *esclient.Delivery, action esclient.NackAction, reason string) error {
	resolved, err := s.take(d)
	if err != nil {
		return err
	}

	var kaction kurrentdb.NackAction
	switch action {
	case esclient.NackRetry:
		kaction = kurrentdb.NackActionRetry
	case esclient.NackPark:
		kaction = kurrentdb.NackActionPark
	case esclient.NackSkip:
		kaction = kurrentdb.NackActionSkip
	default:
		return fmt.Errorf("unsupported nack action %v", action)
	}
	return s.ps.Nack(reason, kaction, resolved)
}

func (s *subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}
