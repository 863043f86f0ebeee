package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/terraskye/esclient"
)

var (
	errClosed        = errors.New("memory backend is closed")
	errGroupNotFound = errors.New("subscription group not found")
	errNotInFlight   = errors.New("event is not in flight on this subscription")
)

type subscription struct {
	backend    *Backend
	group      *group
	bufferSize int
	inflight   int
	closed     bool
}

var _ esclient.Subscription = (*subscription)(nil)

func (s *subscription) Recv(ctx context.Context) (*esclient.Delivery, error) {
	b := s.backend
	for {
		b.mu.Lock()
		if s.closed || b.closed {
			b.mu.Unlock()
			return nil, esclient.ErrSubscriptionDropped
		}

		g := s.group
		if s.inflight < s.bufferSize {
			g.fill(b)
			if e := g.take(s); e != nil {
				e.owner = s
				s.inflight++
				g.inflight[e.event.EventID] = e
				d := &esclient.Delivery{Event: e.event, Link: e.link, RetryCount: e.retryCount}
				b.mu.Unlock()
				return d, nil
			}
		}
		wait := g.notify
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}
}

func (s *subscription) Ack(d *esclient.Delivery) error {
	b := s.backend
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, err := s.release(d); err != nil {
		return err
	}
	s.group.broadcast()
	return nil
}

func (s *subscription) Nack(d *esclient.Delivery, action esclient.NackAction, reason string) error {
	b := s.backend
	b.mu.Lock()
	defer b.mu.Unlock()

	e, err := s.release(d)
	if err != nil {
		return err
	}

	g := s.group
	switch action {
	case esclient.NackRetry:
		g.retry(e)
	case esclient.NackPark:
		e.owner = nil
		g.parked = append(g.parked, e)
	case esclient.NackSkip:
	default:
		return fmt.Errorf("unsupported nack action %v", action)
	}

	b.log.WithField("stream", d.Event.StreamID).
		WithField("revision", d.Event.Revision).
		WithField("action", action).
		Debug("nacked: ", reason)
	g.broadcast()
	return nil
}

// release removes d from the in-flight set. Callers hold the backend lock.
func (s *subscription) release(d *esclient.Delivery) (*entry, error) {
	if s.closed {
		return nil, esclient.ErrSubscriptionDropped
	}
	e, ok := s.group.inflight[d.Event.EventID]
	if !ok || e.owner != s {
		return nil, errNotInFlight
	}
	delete(s.group.inflight, d.Event.EventID)
	s.inflight--
	return e, nil
}

// Close leaves the group. Entries still in flight are redelivered to the
// remaining or next consumers with an increased retry count.
func (s *subscription) Close() error {
	b := s.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	g := s.group
	var pending []*entry
	for id, e := range g.inflight {
		if e.owner == s {
			delete(g.inflight, id)
			pending = append(pending, e)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].position() < pending[j].position() })
	for _, e := range pending {
		g.retry(e)
	}
	s.inflight = 0
	g.removeConsumer(s)
	g.broadcast()
	return nil
}
