package ringbuffer

import (
	"fmt"
	"runtime"
	"sync/atomic"
)

// ProducerType selects the claim algorithm used by a ring buffer.
type ProducerType int

const (
	// MultiProducer allows Next to be called from any number of goroutines.
	MultiProducer ProducerType = iota
	// SingleProducer requires that only one goroutine ever claims sequences.
	SingleProducer
)

// String returns the configuration name of the producer type.
func (p ProducerType) String() string {
	switch p {
	case SingleProducer:
		return "single"
	case MultiProducer:
		return "multi"
	default:
		return fmt.Sprintf("ProducerType(%d)", int(p))
	}
}

// ParseProducerType converts a configuration value into a ProducerType.
func ParseProducerType(s string) (ProducerType, error) {
	switch s {
	case "single":
		return SingleProducer, nil
	case "multi", "":
		return MultiProducer, nil
	default:
		return 0, fmt.Errorf("unknown producer type %q", s)
	}
}

// Sequencer coordinates claiming and publishing of sequences.
type Sequencer interface {
	// Next claims the next sequence, blocking while the ring is full.
	Next() int64

	// Publish makes seq visible to consumers.
	Publish(seq int64)

	// IsAvailable reports whether seq has been published.
	IsAvailable(seq int64) bool

	// HighestPublishedSequence returns the highest contiguous published sequence in [lowerBound, available].
	HighestPublishedSequence(lowerBound, available int64) int64

	// Cursor returns the cursor sequence consumers wait on.
	Cursor() *Sequence

	// AddGatingSequences registers consumer sequences the producer must not overrun.
	AddGatingSequences(sequences ...*Sequence)

	// BufferSize returns the ring capacity.
	BufferSize() int64

	// WaitStrategy returns the strategy consumers use to wait on the cursor.
	WaitStrategy() WaitStrategy
}

type sequencerBase struct {
	bufferSize   int64
	waitStrategy WaitStrategy
	cursor       *Sequence
	gating       atomic.Pointer[[]*Sequence]
}

func (s *sequencerBase) Cursor() *Sequence          { return s.cursor }
func (s *sequencerBase) BufferSize() int64          { return s.bufferSize }
func (s *sequencerBase) WaitStrategy() WaitStrategy { return s.waitStrategy }

func (s *sequencerBase) gatingSequences() []*Sequence {
	if p := s.gating.Load(); p != nil {
		return *p
	}
	return nil
}

func (s *sequencerBase) AddGatingSequences(sequences ...*Sequence) {
	for {
		current := s.gating.Load()
		var next []*Sequence
		if current != nil {
			next = append(next, *current...)
		}
		cursor := s.cursor.Get()
		for _, seq := range sequences {
			seq.Set(cursor)
			next = append(next, seq)
		}
		if s.gating.CompareAndSwap(current, &next) {
			return
		}
	}
}

// singleProducerSequencer keeps producer-side state in plain fields; only one goroutine may claim.
type singleProducerSequencer struct {
	sequencerBase
	nextValue    int64
	cachedGating int64
}

func newSingleProducerSequencer(bufferSize int64, ws WaitStrategy) *singleProducerSequencer {
	return &singleProducerSequencer{
		sequencerBase: sequencerBase{
			bufferSize:   bufferSize,
			waitStrategy: ws,
			cursor:       NewSequence(InitialCursorValue),
		},
		nextValue:    InitialCursorValue,
		cachedGating: InitialCursorValue,
	}
}

func (s *singleProducerSequencer) Next() int64 {
	next := s.nextValue + 1
	wrapPoint := next - s.bufferSize
	if wrapPoint > s.cachedGating || s.cachedGating > s.nextValue {
		var minSeq int64
		for {
			minSeq = minimumSequence(s.gatingSequences(), s.nextValue)
			if wrapPoint <= minSeq {
				break
			}
			runtime.Gosched()
		}
		s.cachedGating = minSeq
	}
	s.nextValue = next
	return next
}

func (s *singleProducerSequencer) Publish(seq int64) {
	s.cursor.Set(seq)
	s.waitStrategy.SignalAllWhenBlocking()
}

func (s *singleProducerSequencer) IsAvailable(seq int64) bool {
	return seq <= s.cursor.Get()
}

func (s *singleProducerSequencer) HighestPublishedSequence(_, available int64) int64 {
	return available
}

// multiProducerSequencer claims by CAS on the cursor and tracks publication per slot,
// since claims may be published out of order.
type multiProducerSequencer struct {
	sequencerBase
	gatingCache *Sequence
	available   []atomic.Int64
	indexMask   int64
}

func newMultiProducerSequencer(bufferSize int64, ws WaitStrategy) *multiProducerSequencer {
	s := &multiProducerSequencer{
		sequencerBase: sequencerBase{
			bufferSize:   bufferSize,
			waitStrategy: ws,
			cursor:       NewSequence(InitialCursorValue),
		},
		gatingCache: NewSequence(InitialCursorValue),
		available:   make([]atomic.Int64, bufferSize),
		indexMask:   bufferSize - 1,
	}
	for i := range s.available {
		s.available[i].Store(InitialCursorValue)
	}
	return s
}

func (s *multiProducerSequencer) Next() int64 {
	for {
		current := s.cursor.Get()
		next := current + 1
		wrapPoint := next - s.bufferSize
		cachedGating := s.gatingCache.Get()

		if wrapPoint > cachedGating || cachedGating > current {
			gating := minimumSequence(s.gatingSequences(), current)
			if wrapPoint > gating {
				runtime.Gosched()
				continue
			}
			s.gatingCache.Set(gating)
		} else if s.cursor.CompareAndSet(current, next) {
			return next
		}
	}
}

func (s *multiProducerSequencer) Publish(seq int64) {
	s.available[seq&s.indexMask].Store(seq)
	s.waitStrategy.SignalAllWhenBlocking()
}

func (s *multiProducerSequencer) IsAvailable(seq int64) bool {
	return s.available[seq&s.indexMask].Load() == seq
}

func (s *multiProducerSequencer) HighestPublishedSequence(lowerBound, available int64) int64 {
	for seq := lowerBound; seq <= available; seq++ {
		if !s.IsAvailable(seq) {
			return seq - 1
		}
	}
	return available
}
