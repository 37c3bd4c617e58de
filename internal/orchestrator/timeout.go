package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var errTimeout = errors.New("codec call timed out")

type outcome[T any] struct {
	val T
	err error
}

// settledCh is closed; calls that return before their deadline hand it back.
var settledCh = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// callWithTimeout runs fn and converts a panic into an error. With a
// positive timeout it stops waiting after d and reports errTimeout. The
// returned channel closes once fn has actually returned, so the caller can
// keep the call charged to its slot until then.
func callWithTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, <-chan struct{}, error) {
	if d <= 0 {
		val, err := guarded(ctx, fn)
		return val, settledCh, err
	}
	callCtx, cancel := context.WithTimeout(ctx, d)

	ch := make(chan outcome[T], 1)
	settled := make(chan struct{})
	go func() {
		defer close(settled)
		defer cancel()
		val, err := guarded(callCtx, fn)
		ch <- outcome[T]{val: val, err: err}
	}()

	select {
	case out := <-ch:
		return out.val, settled, out.err
	case <-callCtx.Done():
		var zero T
		return zero, settled, fmt.Errorf("%w after %s", errTimeout, d)
	}
}

func guarded[T any](ctx context.Context, fn func(context.Context) (T, error)) (val T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("codec panic: %v", r)
		}
	}()
	return fn(ctx)
}
