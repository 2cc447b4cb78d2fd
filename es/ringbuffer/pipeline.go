package ringbuffer

import (
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrAlreadyStarted indicates Start was called twice.
	ErrAlreadyStarted = errors.New("pipeline already started")

	// ErrNoHandlers indicates Start was called on a pipeline without handler groups.
	ErrNoHandlers = errors.New("pipeline has no handlers")
)

// Pipeline wires handler groups onto a ring buffer and runs one processor goroutine per handler.
// Handlers of the same group run in parallel; a group created with Then only sees a sequence
// after every handler of the upstream group has finished it.
type Pipeline[T any] struct {
	ring       *RingBuffer[T]
	exceptions ExceptionHandler[T]
	groups     []*HandlerGroup[T]
	started    atomic.Bool
	wg         sync.WaitGroup
	launch     func(func())
}

// HandlerGroup is a set of processors that share the same upstream dependencies.
type HandlerGroup[T any] struct {
	pipeline      *Pipeline[T]
	processors    []*BatchEventProcessor[T]
	hasDependents bool
}

// NewPipeline creates a pipeline over ring. launch starts processor goroutines; nil uses the go statement.
func NewPipeline[T any](ring *RingBuffer[T], exceptions ExceptionHandler[T], launch func(func())) *Pipeline[T] {
	if launch == nil {
		launch = func(fn func()) { go fn() }
	}
	return &Pipeline[T]{
		ring:       ring,
		exceptions: exceptions,
		launch:     launch,
	}
}

// RingBuffer returns the underlying ring buffer.
func (p *Pipeline[T]) RingBuffer() *RingBuffer[T] {
	return p.ring
}

// HandleEventsWith adds a group of handlers that depend only on the producer cursor.
func (p *Pipeline[T]) HandleEventsWith(handlers ...EventHandler[T]) *HandlerGroup[T] {
	return p.createGroup(nil, handlers)
}

// Then adds a group of handlers that process each sequence after all handlers in g.
func (g *HandlerGroup[T]) Then(handlers ...EventHandler[T]) *HandlerGroup[T] {
	g.hasDependents = true
	return g.pipeline.createGroup(g.sequences(), handlers)
}

// Sequences returns the sequences of the group's processors.
func (g *HandlerGroup[T]) sequences() []*Sequence {
	seqs := make([]*Sequence, len(g.processors))
	for i, proc := range g.processors {
		seqs[i] = proc.Sequence()
	}
	return seqs
}

func (p *Pipeline[T]) createGroup(dependents []*Sequence, handlers []EventHandler[T]) *HandlerGroup[T] {
	g := &HandlerGroup[T]{pipeline: p}
	for _, h := range handlers {
		barrier := p.ring.NewBarrier(dependents...)
		g.processors = append(g.processors, NewBatchEventProcessor(p.ring, barrier, h, p.exceptions))
	}
	p.groups = append(p.groups, g)
	return g
}

// Start notifies LifecycleAware handlers, gates the producer on the terminal groups
// and launches all processors. If a handler fails to start, the handlers already
// started are shut down, nothing is launched and the error wraps ErrHandlerStart.
func (p *Pipeline[T]) Start() error {
	if len(p.groups) == 0 {
		return ErrNoHandlers
	}
	if !p.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	var started []*BatchEventProcessor[T]
	for _, g := range p.groups {
		for _, proc := range g.processors {
			if err := proc.notifyStart(); err != nil {
				for _, s := range started {
					s.notifyShutdown()
				}
				p.started.Store(false)
				return err
			}
			started = append(started, proc)
		}
	}
	for _, g := range p.groups {
		if !g.hasDependents {
			p.ring.AddGatingSequences(g.sequences()...)
		}
	}
	for _, g := range p.groups {
		for _, proc := range g.processors {
			proc := proc
			p.wg.Add(1)
			p.launch(func() {
				defer p.wg.Done()
				_ = proc.Run()
			})
		}
	}
	return nil
}

// Halt stops every processor after its current entry and waits for them to exit.
func (p *Pipeline[T]) Halt() {
	for _, g := range p.groups {
		for _, proc := range g.processors {
			proc.Halt()
		}
	}
	p.wg.Wait()
	// processors halted before Run began still owe their handler a shutdown
	for _, g := range p.groups {
		for _, proc := range g.processors {
			proc.notifyShutdown()
		}
	}
}

// MinimumProcessedSequence returns the lowest sequence finished by the terminal groups.
func (p *Pipeline[T]) MinimumProcessedSequence() int64 {
	var seqs []*Sequence
	for _, g := range p.groups {
		if !g.hasDependents {
			seqs = append(seqs, g.sequences()...)
		}
	}
	return minimumSequence(seqs, p.ring.Cursor())
}
