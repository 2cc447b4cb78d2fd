package disruptor

import (
	"errors"
	"fmt"

	"github.com/getpup/pupcommand/es"
	"github.com/getpup/pupcommand/es/store"
)

var (
	// ErrBusStopped indicates a dispatch after Stop was called.
	ErrBusStopped = errors.New("command bus is stopped")

	// ErrBusNotStarted indicates a dispatch before Start was called.
	ErrBusNotStarted = errors.New("command bus is not started")

	// ErrAggregateAlreadyRegistered indicates a second, different aggregate loaded in one unit of work.
	ErrAggregateAlreadyRegistered = errors.New("unit of work already holds a different aggregate")

	// ErrNoUnitOfWork indicates repository access outside of command handling.
	ErrNoUnitOfWork = errors.New("no unit of work in context")

	// ErrUnknownAggregateType indicates a repository lookup for a type with no registered factory.
	ErrUnknownAggregateType = errors.New("no repository for aggregate type")
)

// AggregateNotFoundError indicates that no events exist for an aggregate.
// The pipeline retries a command failing with it once, since the aggregate may
// have been created by a command that is not yet stored.
type AggregateNotFoundError struct {
	Err           error
	AggregateType string
	AggregateID   string
}

func (e *AggregateNotFoundError) Error() string {
	return fmt.Sprintf("aggregate %s %s not found; it may not be stored yet if it was created by a concurrent command", e.AggregateType, e.AggregateID)
}

func (e *AggregateNotFoundError) Unwrap() error {
	return e.Err
}

// AggregateStateCorruptedError indicates a command rejected because its aggregate
// is blacklisted. It is transient: the aggregate recovers once its caches were cleared.
type AggregateStateCorruptedError struct {
	AggregateID string
}

func (e *AggregateStateCorruptedError) Error() string {
	return fmt.Sprintf("aggregate %s is blacklisted after a failure; the command may be retried once it has recovered", e.AggregateID)
}

// AggregateBlacklistedError reports the failure that caused an aggregate to be blacklisted.
// Callers receive the unwrapped cause; the wrapper triggers recovery.
type AggregateBlacklistedError struct {
	Err         error
	AggregateID string
}

func (e *AggregateBlacklistedError) Error() string {
	return fmt.Sprintf("aggregate %s blacklisted: %v", e.AggregateID, e.Err)
}

func (e *AggregateBlacklistedError) Unwrap() error {
	return e.Err
}

// ConflictingVersionError indicates an aggregate not at the version a command expected.
type ConflictingVersionError struct {
	AggregateID string
	Expected    es.ExpectedVersion
	Actual      int64
}

func (e *ConflictingVersionError) Error() string {
	return fmt.Sprintf("aggregate %s is at version %d, command expected %s", e.AggregateID, e.Actual, e.Expected)
}

func (e *ConflictingVersionError) Unwrap() error {
	return store.ErrOptimisticConcurrency
}

// PanicError wraps a value recovered from a panicking handler or listener.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic during command processing: %v", e.Value)
}
