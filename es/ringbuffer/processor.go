package ringbuffer

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// EventHandler processes entries published to the ring buffer.
type EventHandler[T any] interface {
	// OnEvent is called for every published sequence in order.
	// endOfBatch is true for the last sequence of the current available batch.
	OnEvent(entry *T, sequence int64, endOfBatch bool) error
}

// LifecycleAware is optionally implemented by handlers that need start/stop notifications.
// An OnStart error keeps the processor from running.
type LifecycleAware interface {
	OnStart() error
	OnShutdown() error
}

// ExceptionHandler receives errors and panics raised by handlers.
type ExceptionHandler[T any] interface {
	// HandleEventException is called when OnEvent fails. Processing continues with the next sequence.
	HandleEventException(err error, sequence int64, entry *T)
	HandleOnStartException(err error)
	HandleOnShutdownException(err error)
}

// PanicError wraps a value recovered from a panicking handler.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler panicked: %v", e.Value)
}

const (
	processorIdle int32 = iota
	processorRunning
	processorHalted
)

var (
	// ErrProcessorRunning indicates Run was called on a processor that is already running.
	ErrProcessorRunning = errors.New("processor is already running")

	// ErrHandlerStart indicates a LifecycleAware handler failed in OnStart.
	ErrHandlerStart = errors.New("handler failed to start")
)

// BatchEventProcessor drives one EventHandler over the ring buffer on a dedicated goroutine.
type BatchEventProcessor[T any] struct {
	ring           *RingBuffer[T]
	barrier        *SequenceBarrier
	handler        EventHandler[T]
	exceptions     ExceptionHandler[T]
	sequence       *Sequence
	state          atomic.Int32
	handlerStarted atomic.Bool // OnStart succeeded and OnShutdown is still due
}

// NewBatchEventProcessor creates a processor for handler reading through barrier.
func NewBatchEventProcessor[T any](ring *RingBuffer[T], barrier *SequenceBarrier, handler EventHandler[T], exceptions ExceptionHandler[T]) *BatchEventProcessor[T] {
	return &BatchEventProcessor[T]{
		ring:       ring,
		barrier:    barrier,
		handler:    handler,
		exceptions: exceptions,
		sequence:   NewSequence(InitialCursorValue),
	}
}

// Sequence returns the sequence of the last entry this processor finished.
func (p *BatchEventProcessor[T]) Sequence() *Sequence {
	return p.sequence
}

// Halt signals the processor to stop after the entry it is currently handling.
func (p *BatchEventProcessor[T]) Halt() {
	p.state.Store(processorHalted)
	p.barrier.Alert()
}

// IsRunning reports whether Run is active.
func (p *BatchEventProcessor[T]) IsRunning() bool {
	return p.state.Load() == processorRunning
}

// Run processes entries until halted. It blocks and should be run on its own goroutine.
func (p *BatchEventProcessor[T]) Run() error {
	if !p.state.CompareAndSwap(processorIdle, processorRunning) {
		if p.state.Load() == processorRunning {
			return ErrProcessorRunning
		}
		// halted before it started
		return nil
	}
	p.barrier.ClearAlert()
	if p.state.Load() != processorRunning {
		p.state.Store(processorIdle)
		return nil
	}
	if err := p.notifyStart(); err != nil {
		p.state.Store(processorIdle)
		return err
	}
	defer func() {
		p.notifyShutdown()
		p.state.Store(processorIdle)
	}()

	next := p.sequence.Get() + 1
	for {
		available, err := p.barrier.WaitFor(next)
		if err != nil {
			if errors.Is(err, ErrAlerted) && p.state.Load() != processorRunning {
				return nil
			}
			continue
		}
		for next <= available {
			p.process(next, available)
			next++
		}
		p.sequence.Set(available)
	}
}

func (p *BatchEventProcessor[T]) process(seq, available int64) {
	entry := p.ring.Get(seq)
	defer func() {
		if r := recover(); r != nil {
			p.exceptions.HandleEventException(&PanicError{Value: r}, seq, entry)
		}
	}()
	if err := p.handler.OnEvent(entry, seq, seq == available); err != nil {
		p.exceptions.HandleEventException(err, seq, entry)
	}
}

// notifyStart calls OnStart unless it already succeeded. A failure is reported and returned.
func (p *BatchEventProcessor[T]) notifyStart() error {
	if p.handlerStarted.Load() {
		return nil
	}
	if l, ok := p.handler.(LifecycleAware); ok {
		if err := l.OnStart(); err != nil {
			p.exceptions.HandleOnStartException(err)
			return fmt.Errorf("%w: %w", ErrHandlerStart, err)
		}
	}
	p.handlerStarted.Store(true)
	return nil
}

func (p *BatchEventProcessor[T]) notifyShutdown() {
	if !p.handlerStarted.Swap(false) {
		return
	}
	if l, ok := p.handler.(LifecycleAware); ok {
		if err := l.OnShutdown(); err != nil {
			p.exceptions.HandleOnShutdownException(err)
		}
	}
}
