package esclient

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
)

// CommandHandler handles commands of type C and returns the revision of the
// aggregate after the command was applied.
//
// A command that decides no events leaves the stream untouched; the returned
// revision is then the current one (NoStreamRevision for an aggregate without
// history).
type CommandHandler[C Command] func(ctx context.Context, command C) (int64, error)

// Evolver folds one historical event into the aggregate state.
type Evolver[T any] func(currentState T, event Event) T

// Decider determines which events should occur based on the current state and a command.
//
// Notes:
//   - The Decider should not mutate the input state directly; it should produce
//     events that, when applied via the Evolver, will update the state accordingly.
//   - Returning an empty slice indicates that the command produces no events
//     (e.g., it was idempotent or had no effect).
type Decider[T any, C Command] func(state T, cmd C) ([]Event, error)

// CommandHandlerOption modifies handlerOptions.
type CommandHandlerOption func(configuration *handlerOptions)

type handlerOptions struct {
	// RetryStrategy builds the backoff used when the append hits a concurrency
	// conflict. It is called once per command.
	RetryStrategy func() backoff.BackOff
}

// WithRetryStrategy sets the retry strategy for a NewCommandHandler.
//
// Only concurrency conflicts are retried; every retry re-reads the history and
// decides again on the fresh state.
//
// Usage:
//
//	handler := NewCommandHandler(store, initialState, evolve, decide,
//	    WithRetryStrategy(func() backoff.BackOff {
//	        return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
//	    }))
func WithRetryStrategy(strategy func() backoff.BackOff) CommandHandlerOption {
	return func(cfg *handlerOptions) { cfg.RetryStrategy = strategy }
}

// NewCommandHandler returns a generic command handler for any aggregate type.
//
// It performs the following steps:
//  1. Read the event history of the command's aggregate.
//  2. Evolve the current state from initialState.
//  3. Decide which new events should occur.
//  4. Append them with the last read revision as expected revision.
//
// Store errors and business rule violations are returned wrapped. A concurrency
// conflict is retried with the configured strategy (no retry by default) and,
// once retries are exhausted, returned as *OptimisticConcurrencyControlError.
func NewCommandHandler[T any, C Command](
	store Store,
	initialState T,
	evolve Evolver[T],
	decide Decider[T, C],
	opts ...CommandHandlerOption,
) CommandHandler[C] {
	cfg := &handlerOptions{
		RetryStrategy: func() backoff.BackOff { return &backoff.StopBackOff{} },
	}
	for _, o := range opts {
		o(cfg)
	}

	return func(ctx context.Context, command C) (int64, error) {
		id := command.AggregateID()

		return backoff.RetryWithData(func() (int64, error) {
			history, err := store.ReadEvents(ctx, id)
			if err != nil {
				return UnsetRevision, backoff.Permanent(fmt.Errorf("handle command %T for aggregate %q: load failed: %w", command, id, err))
			}

			state := initialState
			revision := NoStreamRevision
			for _, ev := range history {
				state = evolve(state, ev)
				revision = ev.Revision()
			}

			events, err := decide(state, command)
			if err != nil {
				return UnsetRevision, backoff.Permanent(fmt.Errorf("handle command %T for aggregate %q: %w: %w", command, id, ErrBusinessRuleViolation, err))
			}
			if len(events) == 0 {
				return revision, nil
			}

			next, err := store.AppendEvents(ctx, revision, events...)
			if err != nil {
				var conflict *OptimisticConcurrencyControlError
				if errors.As(err, &conflict) {
					return UnsetRevision, conflict
				}
				return UnsetRevision, backoff.Permanent(fmt.Errorf("handle command %T for aggregate %q: failed to save events: %w", command, id, err))
			}
			return next, nil
		}, backoff.WithContext(cfg.RetryStrategy(), ctx))
	}
}
