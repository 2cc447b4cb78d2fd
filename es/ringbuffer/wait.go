package ringbuffer

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"
)

// ErrAlerted is returned from a wait when the barrier was alerted, typically on halt.
var ErrAlerted = errors.New("sequence barrier alerted")

// alertable is checked by wait strategies while they wait.
type alertable interface {
	checkAlert() error
}

// WaitStrategy decides how a consumer waits for a sequence to become available.
// The choice affects latency and CPU use only, never correctness.
type WaitStrategy interface {
	// WaitFor returns the highest sequence >= seq known to be available in dependents
	// (or in cursor when dependents is empty).
	WaitFor(seq int64, cursor *Sequence, dependents []*Sequence, barrier alertable) (int64, error)

	// SignalAllWhenBlocking wakes consumers that block on the cursor.
	SignalAllWhenBlocking()
}

// WaitStrategyType names the wait strategies available through configuration.
type WaitStrategyType string

const (
	Blocking WaitStrategyType = "blocking"
	BusySpin WaitStrategyType = "busy-spin"
	Sleeping WaitStrategyType = "sleeping"
	Yielding WaitStrategyType = "yielding"
)

// NewWaitStrategy builds the named wait strategy.
func NewWaitStrategy(t WaitStrategyType) (WaitStrategy, error) {
	switch t {
	case Blocking, "":
		return NewBlockingWaitStrategy(), nil
	case BusySpin:
		return BusySpinWaitStrategy{}, nil
	case Sleeping:
		return NewSleepingWaitStrategy(), nil
	case Yielding:
		return YieldingWaitStrategy{}, nil
	default:
		return nil, fmt.Errorf("unknown wait strategy %q", t)
	}
}

func dependentSequence(cursor *Sequence, dependents []*Sequence) int64 {
	if len(dependents) == 0 {
		return cursor.Get()
	}
	return minimumSequence(dependents, cursor.Get())
}

// BlockingWaitStrategy parks consumers on a condition variable until the producer publishes.
// Lowest CPU use, highest latency.
type BlockingWaitStrategy struct {
	mu   sync.Mutex
	cond *sync.Cond
}

// NewBlockingWaitStrategy creates a BlockingWaitStrategy.
func NewBlockingWaitStrategy() *BlockingWaitStrategy {
	ws := &BlockingWaitStrategy{}
	ws.cond = sync.NewCond(&ws.mu)
	return ws
}

// WaitFor implements WaitStrategy.
func (ws *BlockingWaitStrategy) WaitFor(seq int64, cursor *Sequence, dependents []*Sequence, barrier alertable) (int64, error) {
	if cursor.Get() < seq {
		ws.mu.Lock()
		for cursor.Get() < seq {
			if err := barrier.checkAlert(); err != nil {
				ws.mu.Unlock()
				return 0, err
			}
			ws.cond.Wait()
		}
		ws.mu.Unlock()
	}

	// Upstream consumers are typically close behind the cursor; spin on them.
	for {
		available := dependentSequence(cursor, dependents)
		if available >= seq {
			return available, nil
		}
		if err := barrier.checkAlert(); err != nil {
			return 0, err
		}
		runtime.Gosched()
	}
}

// SignalAllWhenBlocking implements WaitStrategy.
func (ws *BlockingWaitStrategy) SignalAllWhenBlocking() {
	ws.mu.Lock()
	ws.cond.Broadcast()
	ws.mu.Unlock()
}

// BusySpinWaitStrategy spins without yielding. Lowest latency, burns a core per consumer.
type BusySpinWaitStrategy struct{}

// WaitFor implements WaitStrategy.
func (BusySpinWaitStrategy) WaitFor(seq int64, cursor *Sequence, dependents []*Sequence, barrier alertable) (int64, error) {
	for {
		available := dependentSequence(cursor, dependents)
		if available >= seq {
			return available, nil
		}
		if err := barrier.checkAlert(); err != nil {
			return 0, err
		}
	}
}

// SignalAllWhenBlocking implements WaitStrategy.
func (BusySpinWaitStrategy) SignalAllWhenBlocking() {}

// YieldingWaitStrategy spins briefly, then yields the processor between checks.
type YieldingWaitStrategy struct{}

const yieldingSpinTries = 100

// WaitFor implements WaitStrategy.
func (YieldingWaitStrategy) WaitFor(seq int64, cursor *Sequence, dependents []*Sequence, barrier alertable) (int64, error) {
	counter := yieldingSpinTries
	for {
		available := dependentSequence(cursor, dependents)
		if available >= seq {
			return available, nil
		}
		if err := barrier.checkAlert(); err != nil {
			return 0, err
		}
		if counter == 0 {
			runtime.Gosched()
		} else {
			counter--
		}
	}
}

// SignalAllWhenBlocking implements WaitStrategy.
func (YieldingWaitStrategy) SignalAllWhenBlocking() {}

// SleepingWaitStrategy spins, then yields, then sleeps for SleepTime between checks.
type SleepingWaitStrategy struct {
	Retries   int
	SleepTime time.Duration
}

// NewSleepingWaitStrategy returns a SleepingWaitStrategy with 200 retries and a 100µs sleep.
func NewSleepingWaitStrategy() SleepingWaitStrategy {
	return SleepingWaitStrategy{Retries: 200, SleepTime: 100 * time.Microsecond}
}

// WaitFor implements WaitStrategy.
func (ws SleepingWaitStrategy) WaitFor(seq int64, cursor *Sequence, dependents []*Sequence, barrier alertable) (int64, error) {
	counter := ws.Retries
	for {
		available := dependentSequence(cursor, dependents)
		if available >= seq {
			return available, nil
		}
		if err := barrier.checkAlert(); err != nil {
			return 0, err
		}
		switch {
		case counter > ws.Retries/2:
			counter--
		case counter > 0:
			counter--
			runtime.Gosched()
		default:
			time.Sleep(ws.SleepTime)
		}
	}
}

// SignalAllWhenBlocking implements WaitStrategy.
func (SleepingWaitStrategy) SignalAllWhenBlocking() {}
