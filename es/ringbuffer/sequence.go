// Package ringbuffer implements a pre-allocated, power-of-two sized ring of reusable
// entries with sequence-based coordination between producers and staged consumer groups.
//
// Producers claim a sequence, populate the slot at that sequence and publish it.
// Consumers run as BatchEventProcessors, each tracking its own Sequence and waiting
// on a SequenceBarrier that combines the producer cursor with the sequences of the
// upstream processors it depends on. No locks are taken on the hot path; all
// cross-goroutine visibility flows through atomic sequence reads and writes.
package ringbuffer

import (
	"math"
	"sync/atomic"
)

// InitialCursorValue is the value of a sequence before anything was claimed or processed.
const InitialCursorValue int64 = -1

// cacheLinePad keeps hot sequences on their own cache line.
type cacheLinePad [7]int64

// Sequence is a padded, atomically updated sequence counter.
type Sequence struct {
	_     cacheLinePad
	value atomic.Int64
	_     cacheLinePad
}

// NewSequence returns a sequence set to initial.
func NewSequence(initial int64) *Sequence {
	s := &Sequence{}
	s.value.Store(initial)
	return s
}

// Get returns the current value.
func (s *Sequence) Get() int64 {
	return s.value.Load()
}

// Set stores v.
func (s *Sequence) Set(v int64) {
	s.value.Store(v)
}

// CompareAndSet atomically replaces expected with next.
func (s *Sequence) CompareAndSet(expected, next int64) bool {
	return s.value.CompareAndSwap(expected, next)
}

// minimumSequence returns the smallest value among sequences, or fallback when empty.
func minimumSequence(sequences []*Sequence, fallback int64) int64 {
	lowest := int64(math.MaxInt64)
	for _, s := range sequences {
		if v := s.Get(); v < lowest {
			lowest = v
		}
	}
	if lowest == math.MaxInt64 {
		return fallback
	}
	return min(lowest, fallback)
}
