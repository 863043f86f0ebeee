package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/terraskye/esclient"
)

type storeLogger struct {
	logger *logrus.Entry
	next   esclient.Store
}

func (s *storeLogger) Append(ctx context.Context, ev esclient.Event, expectedRevision int64) (int64, error) {
	if ev == nil {
		return s.next.Append(ctx, ev, expectedRevision)
	}
	return s.AppendEvents(ctx, expectedRevision, ev)
}

func (s *storeLogger) AppendEvents(ctx context.Context, expectedRevision int64, events ...esclient.Event) (int64, error) {
	l := s.logger.WithFields(logrus.Fields{
		"expected_revision": expectedRevision,
		"count":             len(events),
	})
	if len(events) > 0 && events[0] != nil {
		l = l.WithField("aggregate_id", events[0].AggregateID())
	}

	revision, err := s.next.AppendEvents(ctx, expectedRevision, events...)
	switch {
	case esclient.IsConcurrencyError(err):
		l.Warnf("Append rejected: %v", err)
	case err != nil:
		l.Errorf("Append failed: %v", err)
	default:
		l.WithField("revision", revision).Info("Appended")
	}
	return revision, err
}

func (s *storeLogger) ReadEvents(ctx context.Context, aggregateID uuid.UUID) ([]esclient.Event, error) {
	events, err := s.next.ReadEvents(ctx, aggregateID)
	if err != nil {
		s.logger.WithField("aggregate_id", aggregateID).Errorf("Read failed: %v", err)
	}
	return events, err
}

func (s *storeLogger) Subscribe(ctx context.Context, handler esclient.EventHandler) error {
	s.logger.Info("Subscription started")
	err := s.next.Subscribe(ctx, handler)
	if err != nil {
		s.logger.Errorf("Subscription failed: %v", err)
	} else {
		s.logger.Info("Subscription stopped")
	}
	return err
}

// WithStoreLogging wraps a Store with logging functionality. Appends are
// logged at info level, concurrency conflicts at warn level and all other
// failures at error level.
func WithStoreLogging(logger *logrus.Entry, next esclient.Store) esclient.Store {
	return &storeLogger{
		logger: logger,
		next:   next,
	}
}
