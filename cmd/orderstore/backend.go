package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/terraskye/esclient"
	"github.com/terraskye/esclient/config"
	eskurrent "github.com/terraskye/esclient/eventstore/kurrentdb"
	esmemory "github.com/terraskye/esclient/eventstore/memory"
	esnats "github.com/terraskye/esclient/eventstore/nats"
	"github.com/terraskye/esclient/order"
)

func openBackend(ctx context.Context, c config.Config, log *logrus.Entry) (esclient.Backend, error) {
	log = log.WithField("backend", c.Backend)

	switch c.Backend {
	case config.BackendKurrentDB:
		b, err := eskurrent.New(c.EventStore.ConnectionString, eskurrent.WithLogger(log))
		if err != nil {
			return nil, err
		}
		return b, nil
	case config.BackendNATS:
		b, err := esnats.New(ctx, c.NATS.URL,
			esnats.WithStreamName(c.NATS.Stream),
			esnats.WithLogger(log),
		)
		if err != nil {
			return nil, err
		}
		return b, nil
	case config.BackendMemory:
		log.Warn("events are kept in memory and lost on exit")
		return esmemory.New(esmemory.WithLogger(log)), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", c.Backend)
	}
}

func newEventStore(c config.Config, backend esclient.Backend, log *logrus.Entry, metrics esclient.Metrics) *esclient.EventStore {
	ps := c.EventStore.PersistentSubscription
	return esclient.NewEventStore(backend, order.NewCodec(),
		esclient.WithCategory(c.EventStore.Category),
		esclient.WithSubscriptionGroup(ps.Group),
		esclient.WithBufferSize(ps.BufferSize),
		esclient.WithMaxRetryCount(ps.MaxRetryCount),
		esclient.WithMessageTimeout(ps.MessageTimeout),
		esclient.WithWorkers(ps.Workers),
		esclient.WithLogger(log),
		esclient.WithMetrics(metrics),
	)
}
