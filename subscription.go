package esclient

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// EnsureSubscriptionGroup creates the subscription group on the category
// stream. A group that already exists is left untouched.
func (s *EventStore) EnsureSubscriptionGroup(ctx context.Context) error {
	stream := s.CategoryStream()
	log := s.log.WithFields(logrus.Fields{"stream": stream, "group": s.opts.group})

	err := s.backend.CreateSubscriptionGroup(ctx, stream, s.opts.group, SubscriptionSettings{
		FromStart:        true,
		ResolveLinkTos:   true,
		ConsumerStrategy: ConsumerStrategyPinned,
		MaxRetryCount:    s.opts.maxRetryCount,
		MessageTimeout:   s.opts.messageTimeout,
	})
	switch {
	case errors.Is(err, ErrSubscriptionGroupExists):
		log.Debug("subscription group already exists")
		return nil
	case err != nil:
		return fmt.Errorf("create subscription group %q on %q: %w", s.opts.group, stream, err)
	}

	log.Info("created subscription group")
	return nil
}

// Subscribe delivers every event appended to any stream of the category to
// handler, at least once and in revision order per origin stream.
//
// The entry is acknowledged when handler returns nil or ErrSkippedEvent. An
// entry whose payload cannot be decoded is parked. A handler error is first
// retried in process (see WithHandlerRetry) and then handed back to the server:
// redelivered while the entry's retry count is below the configured maximum,
// parked afterwards.
//
// Subscribe blocks until ctx is done, in which case it returns nil, or until
// the subscription fails. The entry in hand is finished on shutdown; queued
// entries stay unacknowledged and are redelivered later.
func (s *EventStore) Subscribe(ctx context.Context, handler EventHandler) error {
	if handler == nil {
		return ErrNilHandler
	}
	if err := s.EnsureSubscriptionGroup(ctx); err != nil {
		return err
	}

	stream := s.CategoryStream()
	sub, err := s.backend.SubscribeToGroup(ctx, stream, s.opts.group, s.opts.bufferSize)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("subscribe to group %q on %q: %w", s.opts.group, stream, err)
	}

	r := &subscriptionRunner{
		store:   s,
		sub:     sub,
		handler: handler,
		group:   s.opts.group,
		log:     s.log.WithFields(logrus.Fields{"stream": stream, "group": s.opts.group}),
	}
	r.log.WithField("workers", s.opts.workers).Info("subscription started")
	defer r.log.Info("subscription stopped")

	return r.run(ctx)
}

type subscriptionRunner struct {
	store   *EventStore
	sub     Subscription
	handler EventHandler
	group   string
	log     *logrus.Entry
}

func (r *subscriptionRunner) run(ctx context.Context) error {
	defer func() {
		if err := r.sub.Close(); err != nil {
			r.log.WithError(err).Warn("failed to close subscription")
		}
	}()

	workers := r.store.opts.workers
	queueSize := r.store.opts.bufferSize / workers
	if queueSize < 1 {
		queueSize = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	queues := make([]chan *Delivery, workers)
	for i := range queues {
		queue := make(chan *Delivery, queueSize)
		queues[i] = queue
		g.Go(func() error {
			r.worker(gctx, queue)
			return nil
		})
	}

	g.Go(func() error {
		defer func() {
			for _, q := range queues {
				close(q)
			}
		}()
		for {
			d, err := r.sub.Recv(gctx)
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return err
			}
			r.store.metrics.InFlight(r.group, 1)
			select {
			case queues[r.shard(d)] <- d:
			case <-gctx.Done():
				r.store.metrics.InFlight(r.group, -1)
				return nil
			}
		}
	})

	err := g.Wait()
	if err != nil && ctx.Err() == nil {
		r.log.WithError(err).Error("subscription failed")
		return err
	}
	return nil
}

func (r *subscriptionRunner) worker(ctx context.Context, queue <-chan *Delivery) {
	for {
		select {
		case <-ctx.Done():
			r.drop(queue)
			return
		case d, ok := <-queue:
			if !ok {
				return
			}
			r.process(ctx, d)
		}
	}
}

// drop releases the in-flight count of entries that will not be processed.
func (r *subscriptionRunner) drop(queue <-chan *Delivery) {
	for range queue {
		r.store.metrics.InFlight(r.group, -1)
	}
}

func (r *subscriptionRunner) shard(d *Delivery) int {
	workers := r.store.opts.workers
	if workers == 1 {
		return 0
	}
	hash := fnv.New32a()
	hash.Write([]byte(d.Event.StreamID))
	return int(hash.Sum32() % uint32(workers))
}

func (r *subscriptionRunner) process(ctx context.Context, d *Delivery) {
	defer r.store.metrics.InFlight(r.group, -1)
	if ctx.Err() != nil {
		return
	}

	log := r.log.WithFields(logrus.Fields{
		"origin_stream": d.Event.StreamID,
		"revision":      d.Event.Revision,
		"event_type":    d.Event.EventType,
		"event_id":      d.Event.EventID,
		"retry_count":   d.RetryCount,
	})

	ev, err := r.store.toEvent(d.Event)
	if err != nil {
		log.WithError(err).Error("cannot decode event, parking it")
		r.nack(log, d, NackPark, err)
		return
	}

	err = r.handle(WithDelivery(ctx, r.group, d), ev)
	if err == nil {
		if ackErr := r.sub.Ack(d); ackErr != nil {
			log.WithError(ackErr).Error("failed to acknowledge event")
			r.store.metrics.EventDelivered(d.Event.EventType, OutcomeFailed)
			return
		}
		log.Debug("event handled")
		r.store.metrics.EventDelivered(d.Event.EventType, OutcomeAcked)
		return
	}

	if ctx.Err() != nil {
		log.WithError(err).Debug("handler interrupted by shutdown, leaving event pending")
		return
	}

	if d.RetryCount < r.store.opts.maxRetryCount {
		log.WithError(err).Warn("handler failed, requesting redelivery")
		r.nack(log, d, NackRetry, err)
		return
	}
	log.WithError(err).Error("handler failed too often, parking event")
	r.nack(log, d, NackPark, err)
}

func (r *subscriptionRunner) handle(ctx context.Context, ev Event) error {
	defer r.store.metrics.HandlerDuration(ev.EventType()).ObserveDuration()

	err := backoff.Retry(func() error {
		return r.safeHandle(ctx, ev)
	}, backoff.WithContext(r.store.opts.handlerRetry(), ctx))

	var skipped ErrSkippedEvent
	if errors.As(err, &skipped) {
		return nil
	}
	return err
}

func (r *subscriptionRunner) safeHandle(ctx context.Context, ev Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in handler: %v", p)
		}
	}()

	err = r.handler.Handle(ctx, ev)

	var skipped ErrSkippedEvent
	if errors.As(err, &skipped) {
		return backoff.Permanent(err)
	}
	return err
}

func (r *subscriptionRunner) nack(log *logrus.Entry, d *Delivery, action NackAction, cause error) {
	outcome := OutcomeRetried
	if action == NackPark {
		outcome = OutcomeParked
	}
	if err := r.sub.Nack(d, action, cause.Error()); err != nil {
		log.WithError(err).WithField("action", action).Error("failed to nack event")
		outcome = OutcomeFailed
	}
	r.store.metrics.EventDelivered(d.Event.EventType, outcome)
}
