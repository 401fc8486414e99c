// Package batch runs a function over many items with bounded concurrency and
// a hard per-item timeout.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultConcurrency = 3
	DefaultTimeout     = 20 * time.Second
)

// ErrItemTimeout is matched by every *TimeoutError.
var ErrItemTimeout = errors.New("batch item timed out")

// TimeoutError reports an item abandoned after the per-item timeout.
type TimeoutError struct {
	Index int
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("item %d timed out after %s", e.Index, e.After)
}

func (e *TimeoutError) Unwrap() error { return ErrItemTimeout }

// Hooks lets callers observe or perturb item execution. Production code uses
// NoHooks; tests inject failures or delays.
type Hooks interface {
	// BeforeItem runs inside the item's timeout, before the item function.
	// A non-nil error fails the item without calling the function.
	BeforeItem(ctx context.Context, index int) error
}

// NoHooks is the production Hooks implementation.
type NoHooks struct{}

func (NoHooks) BeforeItem(context.Context, int) error { return nil }

// HookFunc adapts a function to Hooks.
type HookFunc func(ctx context.Context, index int) error

func (f HookFunc) BeforeItem(ctx context.Context, index int) error { return f(ctx, index) }

// Options tunes a Map call. Zero values fall back to the defaults.
type Options struct {
	Concurrency int
	Timeout     time.Duration
	Hooks       Hooks
}

func (o Options) concurrency() int {
	if o.Concurrency <= 0 {
		return DefaultConcurrency
	}
	return o.Concurrency
}

func (o Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return DefaultTimeout
	}
	return o.Timeout
}

func (o Options) hooks() Hooks {
	if o.Hooks == nil {
		return NoHooks{}
	}
	return o.Hooks
}

// Result is the settled value of one item.
type Result[R any] struct {
	Value R
	Err   error
}

// Map applies fn to every item using min(concurrency, len(items)) workers
// that pull from a shared cursor. The returned slice is indexed like items.
// A failing or timed-out item never affects the others.
func Map[T, R any](
	ctx context.Context,
	items []T,
	fn func(context.Context, T) (R, error),
	opts Options,
) []Result[R] {
	out := make([]Result[R], len(items))
	if len(items) == 0 {
		return out
	}
	workers := min(opts.concurrency(), len(items))
	timeout := opts.timeout()
	hooks := opts.hooks()

	var (
		cursor atomic.Int64
		group  errgroup.Group
	)
	for range workers {
		group.Go(func() error {
			for {
				i := int(cursor.Add(1) - 1)
				if i >= len(items) {
					return nil
				}
				out[i] = runItem(ctx, i, items[i], fn, timeout, hooks)
			}
		})
	}
	_ = group.Wait()
	return out
}

func runItem[T, R any](
	ctx context.Context,
	index int,
	item T,
	fn func(context.Context, T) (R, error),
	timeout time.Duration,
	hooks Hooks,
) Result[R] {
	itemCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan Result[R], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Result[R]{Err: fmt.Errorf("item %d panicked: %v", index, r)}
			}
		}()
		if err := hooks.BeforeItem(itemCtx, index); err != nil {
			done <- Result[R]{Err: err}
			return
		}
		v, err := fn(itemCtx, item)
		done <- Result[R]{Value: v, Err: err}
	}()

	select {
	case r := <-done:
		// fn may observe its own deadline before we do.
		if r.Err != nil && ctx.Err() == nil && errors.Is(itemCtx.Err(), context.DeadlineExceeded) {
			return Result[R]{Err: &TimeoutError{Index: index, After: timeout}}
		}
		return r
	case <-itemCtx.Done():
		if err := ctx.Err(); err != nil {
			return Result[R]{Err: fmt.Errorf("item %d: %w", index, err)}
		}
		return Result[R]{Err: &TimeoutError{Index: index, After: timeout}}
	}
}
