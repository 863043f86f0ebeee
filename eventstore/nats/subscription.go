package nats

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/sirupsen/logrus"

	"github.com/terraskye/esclient"
)

// consumerName derives a durable consumer name for group on stream.
// JetStream names may not contain '.', '*', '>' or whitespace.
func consumerName(stream, group string) string {
	name := group + "_" + strings.TrimPrefix(stream, categoryPrefix)
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '$':
			return '_'
		}
		return r
	}, name)
}

// CreateSubscriptionGroup creates a durable pull consumer. A terminated
// message is the parked equivalent: JetStream emits an advisory and never
// redelivers it.
func (b *Backend) CreateSubscriptionGroup(ctx context.Context, stream, group string, settings esclient.SubscriptionSettings) error {
	subject, err := b.subject(stream)
	if err != nil {
		return err
	}
	name := consumerName(stream, group)

	if _, err := b.stream.Consumer(ctx, name); err == nil {
		return fmt.Errorf("group %q on %q: %w", group, stream, esclient.ErrSubscriptionGroupExists)
	} else if !errors.Is(err, jetstream.ErrConsumerNotFound) {
		return fmt.Errorf("lookup consumer %s: %w", name, err)
	}

	cfg := jetstream.ConsumerConfig{
		Durable:       name,
		Description:   "subscription group " + group,
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
		MaxDeliver:    settings.MaxRetryCount + 1,
		AckWait:       settings.MessageTimeout,
	}
	if settings.FromStart {
		cfg.DeliverPolicy = jetstream.DeliverAllPolicy
	}

	if _, err := b.stream.CreateConsumer(ctx, cfg); err != nil {
		if errors.Is(err, jetstream.ErrConsumerExists) {
			return fmt.Errorf("group %q on %q: %w", group, stream, esclient.ErrSubscriptionGroupExists)
		}
		return fmt.Errorf("create consumer %s: %w", name, err)
	}
	b.log.WithFields(logrus.Fields{"consumer": name, "filter": subject}).Info("created subscription group")
	return nil
}

func (b *Backend) SubscribeToGroup(ctx context.Context, stream, group string, bufferSize int) (esclient.Subscription, error) {
	name := consumerName(stream, group)
	cons, err := b.stream.Consumer(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("subscribe to %q on %q: %w", group, stream, err)
	}
	it, err := cons.Messages(jetstream.PullMaxMessages(bufferSize))
	if err != nil {
		return nil, fmt.Errorf("subscribe to %q on %q: %w", group, stream, err)
	}

	s := &subscription{
		it:      it,
		log:     b.log.WithFields(logrus.Fields{"consumer": name}),
		msgs:    make(chan result),
		done:    make(chan struct{}),
		pending: make(map[uuid.UUID]jetstream.Msg),
	}
	go s.pump()
	return s, nil
}

type result struct {
	msg jetstream.Msg
	err error
}

// subscription bridges the blocking message iterator to Recv(ctx).
type subscription struct {
	it   jetstream.MessagesContext
	log  *logrus.Entry
	msgs chan result
	done chan struct{}

	mu      sync.Mutex
	pending map[uuid.UUID]jetstream.Msg

	closeOnce sync.Once
}

var _ esclient.Subscription = (*subscription)(nil)

func (s *subscription) pump() {
	defer close(s.msgs)
	for {
		msg, err := s.it.Next()
		select {
		case s.msgs <- result{msg: msg, err: err}:
		case <-s.done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *subscription) Recv(ctx context.Context) (*esclient.Delivery, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case r, ok := <-s.msgs:
			if !ok {
				return nil, esclient.ErrSubscriptionDropped
			}
			if r.err != nil {
				return nil, fmt.Errorf("%w: %v", esclient.ErrSubscriptionDropped, r.err)
			}

			ev, _, err := toRecordedEvent(r.msg)
			if err != nil {
				// not written by this client
				s.log.WithError(err).Warn("terminating foreign message")
				if err := r.msg.Term(); err != nil {
					s.log.WithError(err).Warn("failed to terminate message")
				}
				continue
			}
			md, err := r.msg.Metadata()
			if err != nil {
				return nil, err
			}

			s.mu.Lock()
			s.pending[ev.EventID] = r.msg
			s.mu.Unlock()
			return &esclient.Delivery{Event: ev, RetryCount: int(md.NumDelivered) - 1}, nil
		}
	}
}

func (s *subscription) take(d *esclient.Delivery) (jetstream.Msg, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.pending[d.Event.EventID]
	if !ok {
		return nil, fmt.Errorf("event %s is not pending on this subscription", d.Event.EventID)
	}
	delete(s.pending, d.Event.EventID)
	return msg, nil
}

func (s *subscription) Ack(d *esclient.Delivery) error {
	msg, err := s.take(d)
	if err != nil {
		return err
	}
	return msg.Ack()
}

func (s *subscription) Nack(d *esclient.Delivery, action esclient.NackAction, reason string) error {
	msg, err := s.take(d)
	if err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{
		"stream":   d.Event.StreamID,
		"revision": d.Event.Revision,
		"action":   action,
	}).Debug("nack: ", reason)

	switch action {
	case esclient.NackRetry:
		return msg.Nak()
	case esclient.NackPark:
		return msg.Term()
	case esclient.NackSkip:
		return msg.Ack()
	default:
		return fmt.Errorf("unsupported nack action %v", action)
	}
}

// Close stops pulling. Pending messages are redelivered after AckWait.
func (s *subscription) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.it.Stop()
	})
	return nil
}
