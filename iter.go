package esclient

import (
	"context"
	"errors"
	"io"
)

// Iterator is a pull iterator over a lazily read sequence, such as a stream
// being read from a backend. The producer returns io.EOF when it is exhausted;
// Err reports nil in that case.
type Iterator[T any] struct {
	nextFunc func(ctx context.Context) (T, error)
	closer   func() error
	current  T
	err      error
	done     bool
}

// NewIteratorFunc creates an iterator from a function that produces the next
// value, or io.EOF when there are no more values.
func NewIteratorFunc[T any](nextFunc func(ctx context.Context) (T, error)) *Iterator[T] {
	return &Iterator[T]{nextFunc: nextFunc}
}

// NewSliceIterator iterates over the given items in order.
func NewSliceIterator[T any](items []T) *Iterator[T] {
	i := 0
	return NewIteratorFunc(func(ctx context.Context) (T, error) {
		var zero T
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		if i >= len(items) {
			return zero, io.EOF
		}
		item := items[i]
		i++
		return item, nil
	})
}

// WithCloser attaches a release function called once the iterator is
// exhausted, fails, or is closed explicitly.
func (it *Iterator[T]) WithCloser(closer func() error) *Iterator[T] {
	it.closer = closer
	return it
}

// Next advances the iterator. Returns false if the iterator is done or an error occurred.
func (it *Iterator[T]) Next(ctx context.Context) bool {
	if it.done {
		return false
	}

	it.current, it.err = it.nextFunc(ctx)
	if it.err != nil {
		it.done = true
		if errors.Is(it.err, io.EOF) {
			it.err = nil
		}
		_ = it.Close()
		return false
	}
	return true
}

// Value returns the current item.
func (it *Iterator[T]) Value() T {
	return it.current
}

// Err returns the last error encountered during iteration.
func (it *Iterator[T]) Err() error {
	return it.err
}

// Close releases the underlying resources. It is safe to call more than once.
func (it *Iterator[T]) Close() error {
	it.done = true
	if it.closer == nil {
		return nil
	}
	closer := it.closer
	it.closer = nil
	return closer()
}

// All consumes the iterator and returns all items in a slice.
func (it *Iterator[T]) All(ctx context.Context) ([]T, error) {
	var results []T
	for it.Next(ctx) {
		results = append(results, it.Value())
	}
	return results, it.Err()
}
