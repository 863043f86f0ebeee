package order_test

import (
	"context"
	"sync"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/terraskye/esclient"
	"github.com/terraskye/esclient/eventstore/memory"
	"github.com/terraskye/esclient/order"
)

func newService(t *testing.T, opts ...order.ServiceOption) (*order.Service, *esclient.EventStore) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	log := logrus.NewEntry(logger)
	store := esclient.NewEventStore(memory.New(memory.WithLogger(log)), order.NewCodec(), esclient.WithLogger(log))
	t.Cleanup(func() { _ = store.Close() })
	opts = append([]order.ServiceOption{order.WithLogger(log)}, opts...)
	svc := order.NewService(store, opts...)
	t.Cleanup(svc.Close)
	return svc, store
}

func TestService_Lifecycle(t *testing.T) {
	svc, _ := newService(t)
	ctx := t.Context()
	id, rider, driver := uuid.New(), uuid.New(), uuid.New()

	rev, err := svc.Place(ctx, order.PlaceOrder{OrderID: id, RiderID: rider, Price: 20})
	require.NoError(t, err)
	require.EqualValues(t, 0, rev)

	rev, err = svc.Accept(ctx, order.AcceptOrder{OrderID: id, DriverID: driver})
	require.NoError(t, err)
	require.EqualValues(t, 1, rev)

	rev, err = svc.Complete(ctx, order.CompleteOrder{OrderID: id})
	require.NoError(t, err)
	require.EqualValues(t, 2, rev)

	_, err = svc.Cancel(ctx, order.CancelOrder{OrderID: id, Reason: "too late"})
	require.ErrorIs(t, err, order.ErrInvalidTransition)
	require.ErrorIs(t, err, esclient.ErrBusinessRuleViolation)

	state, rev, err := svc.Load(ctx, id)
	require.NoError(t, err)
	require.EqualValues(t, 2, rev)
	require.Equal(t, order.StatusCompleted, state.Status)
	require.Equal(t, driver, state.DriverID)

	history, err := svc.History(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 3)
}

func TestService_UnknownOrder(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.Accept(t.Context(), order.AcceptOrder{OrderID: uuid.New(), DriverID: uuid.New()})
	require.ErrorIs(t, err, order.ErrOrderNotFound)

	_, _, err = svc.Load(t.Context(), uuid.New())
	require.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestService_ConcurrentCommandsOnOneOrder(t *testing.T) {
	svc, store := newService(t, order.WithConflictRetry(func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 20)
	}))
	ctx := t.Context()
	id := uuid.New()

	_, err := svc.Place(ctx, order.PlaceOrder{OrderID: id, RiderID: uuid.New(), Price: 5})
	require.NoError(t, err)

	// exactly one transition out of PLACED can win
	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := svc.Accept(ctx, order.AcceptOrder{OrderID: id, DriverID: uuid.New()})
		errs <- err
	}()
	go func() {
		defer wg.Done()
		_, err := svc.Accept(ctx, order.AcceptOrder{OrderID: id, DriverID: uuid.New()})
		errs <- err
	}()
	wg.Wait()
	close(errs)

	var failed int
	for err := range errs {
		if err != nil {
			require.ErrorIs(t, err, order.ErrInvalidTransition)
			failed++
		}
	}
	require.Equal(t, 1, failed)

	events, err := store.ReadEvents(context.WithoutCancel(ctx), id)
	require.NoError(t, err)
	require.Len(t, events, 2)
}
