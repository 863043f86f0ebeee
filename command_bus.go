package esclient

import (
	"context"
	"fmt"
	"hash/fnv"
	"reflect"
	"sync"
)

// queuedCommand is a command waiting in a shard queue together with the
// caller's context and the channel its result goes to.
type queuedCommand struct {
	ctx     context.Context
	command Command
	result  chan<- commandResult
}

type commandResult struct {
	revision int64
	err      error
}

// CommandBus dispatches commands to their registered handlers. Commands are
// sharded by aggregate ID, so commands for one aggregate run one at a time
// in dispatch order while different aggregates proceed in parallel. This
// avoids most concurrency conflicts between writers in the same process.
type CommandBus struct {
	handlersMu sync.RWMutex
	handlers   map[reflect.Type]func(ctx context.Context, command Command) (int64, error)

	mu      sync.RWMutex
	stopped bool
	queues  []chan queuedCommand
	workers sync.WaitGroup
}

// NewCommandBus starts shardCount workers, each with a queue of bufferSize
// commands.
//
// Example:
//
//	bus := NewCommandBus(64, 4)
//	Register(bus, placeOrderHandler)
//	defer bus.Stop()
func NewCommandBus(bufferSize int, shardCount int) *CommandBus {
	if shardCount <= 0 {
		shardCount = 1
	}
	if bufferSize < 0 {
		bufferSize = 0
	}

	bus := &CommandBus{
		handlers: make(map[reflect.Type]func(ctx context.Context, command Command) (int64, error)),
		queues:   make([]chan queuedCommand, shardCount),
	}

	for i := range bus.queues {
		bus.queues[i] = make(chan queuedCommand, bufferSize)
		bus.workers.Add(1)
		go bus.worker(bus.queues[i])
	}

	return bus
}

// Register adds the handler for commands of type C.
//
// Panics if a handler is already registered for C.
func Register[C Command](b *CommandBus, handler CommandHandler[C]) {
	cmdType := reflect.TypeFor[C]()

	b.handlersMu.Lock()
	defer b.handlersMu.Unlock()

	if _, exists := b.handlers[cmdType]; exists {
		panic(fmt.Sprintf("handler already registered for command type %s", cmdType))
	}

	b.handlers[cmdType] = func(ctx context.Context, cmd Command) (int64, error) {
		c, ok := cmd.(C)
		if !ok {
			return UnsetRevision, fmt.Errorf("expected command type %s but got %T", cmdType, cmd)
		}
		return handler(ctx, c)
	}
}

// Dispatch enqueues cmd on its aggregate's shard and waits for the handler's
// result. It is safe to call concurrently.
func (b *CommandBus) Dispatch(ctx context.Context, cmd Command) (int64, error) {
	if cmd == nil {
		return UnsetRevision, fmt.Errorf("dispatch: %w", ErrNilCommand)
	}
	result := make(chan commandResult, 1)

	b.mu.RLock()
	if b.stopped {
		b.mu.RUnlock()
		return UnsetRevision, ErrCommandBusStopped
	}
	select {
	case b.queues[b.shard(cmd)] <- queuedCommand{ctx: ctx, command: cmd, result: result}:
		b.mu.RUnlock()
	case <-ctx.Done():
		b.mu.RUnlock()
		return UnsetRevision, ctx.Err()
	}

	select {
	case res := <-result:
		return res.revision, res.err
	case <-ctx.Done():
		return UnsetRevision, ctx.Err()
	}
}

func (b *CommandBus) worker(queue <-chan queuedCommand) {
	defer b.workers.Done()

	for qc := range queue {
		if err := qc.ctx.Err(); err != nil {
			qc.result <- commandResult{revision: UnsetRevision, err: err}
			continue
		}

		b.handlersMu.RLock()
		h, exists := b.handlers[reflect.TypeOf(qc.command)]
		b.handlersMu.RUnlock()

		if !exists {
			qc.result <- commandResult{
				revision: UnsetRevision,
				err:      fmt.Errorf("no handler for command %T", qc.command),
			}
			continue
		}

		qc.result <- b.handle(h, qc)
	}
}

func (b *CommandBus) handle(h func(ctx context.Context, command Command) (int64, error), qc queuedCommand) (res commandResult) {
	defer func() {
		if r := recover(); r != nil {
			res = commandResult{revision: UnsetRevision, err: fmt.Errorf("panic in handler for %T: %v", qc.command, r)}
		}
	}()

	rev, err := h(qc.ctx, qc.command)
	return commandResult{revision: rev, err: err}
}

func (b *CommandBus) shard(cmd Command) int {
	id := cmd.AggregateID()
	hash := fnv.New32a()
	_, _ = hash.Write(id[:])
	return int(hash.Sum32() % uint32(len(b.queues)))
}

// Stop stops accepting commands and waits until the queued ones are handled.
// Calling Stop more than once is a no-op.
func (b *CommandBus) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	for _, q := range b.queues {
		close(q)
	}
	b.mu.Unlock()

	b.workers.Wait()
}
