package esclient_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/terraskye/esclient"
)

type renameCart struct {
	Cart uuid.UUID
	Name string
}

func (c renameCart) AggregateID() uuid.UUID { return c.Cart }

func TestCommandBus_Dispatch(t *testing.T) {
	bus := esclient.NewCommandBus(10, 2)
	defer bus.Stop()

	esclient.Register(bus, func(ctx context.Context, cmd addItem) (int64, error) {
		return 7, nil
	})

	rev, err := bus.Dispatch(t.Context(), addItem{Cart: uuid.New(), Item: "pen"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rev != 7 {
		t.Fatalf("expected revision 7, got %d", rev)
	}
}

func TestCommandBus_NoHandler(t *testing.T) {
	bus := esclient.NewCommandBus(10, 1)
	defer bus.Stop()

	esclient.Register(bus, func(ctx context.Context, cmd addItem) (int64, error) {
		return 0, nil
	})

	if _, err := bus.Dispatch(t.Context(), renameCart{Cart: uuid.New()}); err == nil {
		t.Fatal("expected error for missing handler")
	}
}

func TestCommandBus_NilCommand(t *testing.T) {
	bus := esclient.NewCommandBus(10, 1)
	defer bus.Stop()

	if _, err := bus.Dispatch(t.Context(), nil); !errors.Is(err, esclient.ErrNilCommand) {
		t.Fatalf("expected ErrNilCommand, got %v", err)
	}
}

func TestCommandBus_HandlerError(t *testing.T) {
	bus := esclient.NewCommandBus(10, 1)
	defer bus.Stop()

	want := errors.New("rejected")
	esclient.Register(bus, func(ctx context.Context, cmd addItem) (int64, error) {
		return esclient.UnsetRevision, want
	})

	if _, err := bus.Dispatch(t.Context(), addItem{Cart: uuid.New()}); !errors.Is(err, want) {
		t.Fatalf("expected handler error, got %v", err)
	}
}

func TestCommandBus_HandlerPanic(t *testing.T) {
	bus := esclient.NewCommandBus(10, 1)
	defer bus.Stop()

	esclient.Register(bus, func(ctx context.Context, cmd addItem) (int64, error) {
		panic("boom")
	})

	if _, err := bus.Dispatch(t.Context(), addItem{Cart: uuid.New()}); err == nil {
		t.Fatal("expected error from panicking handler")
	}

	// the worker survives the panic
	if _, err := bus.Dispatch(t.Context(), addItem{Cart: uuid.New()}); err == nil {
		t.Fatal("expected error from panicking handler")
	}
}

func TestCommandBus_DuplicateRegistration(t *testing.T) {
	bus := esclient.NewCommandBus(10, 1)
	defer bus.Stop()

	h := func(ctx context.Context, cmd addItem) (int64, error) { return 0, nil }
	esclient.Register(bus, h)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	esclient.Register(bus, h)
}

func TestCommandBus_Stopped(t *testing.T) {
	bus := esclient.NewCommandBus(10, 1)
	bus.Stop()
	bus.Stop()

	if _, err := bus.Dispatch(t.Context(), addItem{Cart: uuid.New()}); !errors.Is(err, esclient.ErrCommandBusStopped) {
		t.Fatalf("expected ErrCommandBusStopped, got %v", err)
	}
}

func TestCommandBus_ContextCancelled(t *testing.T) {
	bus := esclient.NewCommandBus(10, 1)
	defer bus.Stop()

	release := make(chan struct{})
	esclient.Register(bus, func(ctx context.Context, cmd addItem) (int64, error) {
		<-release
		return 0, nil
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	if _, err := bus.Dispatch(ctx, addItem{Cart: uuid.New()}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestCommandBus_SerializesPerAggregate(t *testing.T) {
	bus := esclient.NewCommandBus(100, 4)
	defer bus.Stop()

	var (
		running    atomic.Int32
		overlapped atomic.Bool
		handled    atomic.Int32
	)
	esclient.Register(bus, func(ctx context.Context, cmd addItem) (int64, error) {
		if running.Add(1) > 1 {
			overlapped.Store(true)
		}
		time.Sleep(time.Millisecond)
		running.Add(-1)
		return int64(handled.Add(1)), nil
	})

	id := uuid.New()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := bus.Dispatch(t.Context(), addItem{Cart: id}); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if overlapped.Load() {
		t.Fatal("commands for one aggregate ran concurrently")
	}
	if handled.Load() != 20 {
		t.Fatalf("expected 20 handled commands, got %d", handled.Load())
	}
}
