package command

import (
	"context"
	"sync"
)

// Callback receives the outcome of a dispatched command.
// Exactly one of its methods is called, at most once per dispatch.
type Callback interface {
	OnSuccess(cmd Command, result any)
	OnFailure(cmd Command, err error)
}

// CallbackFuncs adapts a pair of functions to Callback. Nil functions are ignored.
type CallbackFuncs struct {
	Success func(cmd Command, result any)
	Failure func(cmd Command, err error)
}

// OnSuccess implements Callback.
func (c CallbackFuncs) OnSuccess(cmd Command, result any) {
	if c.Success != nil {
		c.Success(cmd, result)
	}
}

// OnFailure implements Callback.
func (c CallbackFuncs) OnFailure(cmd Command, err error) {
	if c.Failure != nil {
		c.Failure(cmd, err)
	}
}

// NoOpCallback discards outcomes.
type NoOpCallback struct{}

// OnSuccess implements Callback.
func (NoOpCallback) OnSuccess(Command, any) {}

// OnFailure implements Callback.
func (NoOpCallback) OnFailure(Command, error) {}

// FutureCallback is a Callback whose outcome can be awaited.
type FutureCallback struct {
	done   chan struct{}
	once   sync.Once
	result any
	err    error
}

// NewFutureCallback creates an unresolved FutureCallback.
func NewFutureCallback() *FutureCallback {
	return &FutureCallback{done: make(chan struct{})}
}

// OnSuccess implements Callback.
func (f *FutureCallback) OnSuccess(_ Command, result any) {
	f.once.Do(func() {
		f.result = result
		close(f.done)
	})
}

// OnFailure implements Callback.
func (f *FutureCallback) OnFailure(_ Command, err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Done is closed once the outcome is known.
func (f *FutureCallback) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the outcome is known or ctx is done.
func (f *FutureCallback) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
