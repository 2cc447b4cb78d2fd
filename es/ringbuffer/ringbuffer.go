package ringbuffer

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrInvalidBufferSize indicates a buffer size that is not a positive power of two.
var ErrInvalidBufferSize = errors.New("buffer size must be a positive power of two")

// RingBuffer is a fixed-capacity circular array of reusable entries of type T.
type RingBuffer[T any] struct {
	entries   []T
	indexMask int64
	sequencer Sequencer
}

// New creates a ring buffer of size entries. init, when non-nil, is called once per
// slot to pre-allocate its contents.
func New[T any](size int, producer ProducerType, ws WaitStrategy, init func(entry *T)) (*RingBuffer[T], error) {
	if size <= 0 || size&(size-1) != 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBufferSize, size)
	}
	if ws == nil {
		ws = NewBlockingWaitStrategy()
	}

	var sequencer Sequencer
	switch producer {
	case SingleProducer:
		sequencer = newSingleProducerSequencer(int64(size), ws)
	case MultiProducer:
		sequencer = newMultiProducerSequencer(int64(size), ws)
	default:
		return nil, fmt.Errorf("unknown producer type %v", producer)
	}

	rb := &RingBuffer[T]{
		entries:   make([]T, size),
		indexMask: int64(size - 1),
		sequencer: sequencer,
	}
	if init != nil {
		for i := range rb.entries {
			init(&rb.entries[i])
		}
	}
	return rb, nil
}

// Next claims the next sequence. It blocks while the buffer is full.
func (rb *RingBuffer[T]) Next() int64 {
	return rb.sequencer.Next()
}

// Get returns the entry for seq. The caller must own seq (claimed or published and not yet passed).
func (rb *RingBuffer[T]) Get(seq int64) *T {
	return &rb.entries[seq&rb.indexMask]
}

// Publish makes seq visible to consumers.
func (rb *RingBuffer[T]) Publish(seq int64) {
	rb.sequencer.Publish(seq)
}

// PublishEvent claims a slot, lets translate populate it and publishes it.
// The slot is published even if translate panics, so consumers never stall on it.
func (rb *RingBuffer[T]) PublishEvent(translate func(entry *T, seq int64)) int64 {
	seq := rb.sequencer.Next()
	defer rb.sequencer.Publish(seq)
	translate(rb.Get(seq), seq)
	return seq
}

// Cursor returns the highest claimed (multi-producer) or published (single-producer) sequence.
func (rb *RingBuffer[T]) Cursor() int64 {
	return rb.sequencer.Cursor().Get()
}

// BufferSize returns the number of slots.
func (rb *RingBuffer[T]) BufferSize() int64 {
	return rb.sequencer.BufferSize()
}

// AddGatingSequences prevents the producer from wrapping past the given consumer sequences.
func (rb *RingBuffer[T]) AddGatingSequences(sequences ...*Sequence) {
	rb.sequencer.AddGatingSequences(sequences...)
}

// NewBarrier creates a barrier that waits for the cursor and all dependents.
func (rb *RingBuffer[T]) NewBarrier(dependents ...*Sequence) *SequenceBarrier {
	return &SequenceBarrier{
		sequencer:  rb.sequencer,
		cursor:     rb.sequencer.Cursor(),
		dependents: dependents,
	}
}

// SequenceBarrier gives a consumer a view of the sequences it may process.
type SequenceBarrier struct {
	sequencer  Sequencer
	cursor     *Sequence
	dependents []*Sequence
	alerted    atomic.Bool
}

// WaitFor blocks per the wait strategy until seq is available, returning the highest
// available sequence, which may be greater than seq.
func (b *SequenceBarrier) WaitFor(seq int64) (int64, error) {
	if err := b.checkAlert(); err != nil {
		return 0, err
	}
	available, err := b.sequencer.WaitStrategy().WaitFor(seq, b.cursor, b.dependents, b)
	if err != nil {
		return 0, err
	}
	if available < seq {
		return available, nil
	}
	return b.sequencer.HighestPublishedSequence(seq, available), nil
}

// Alert interrupts waiting consumers.
func (b *SequenceBarrier) Alert() {
	b.alerted.Store(true)
	b.sequencer.WaitStrategy().SignalAllWhenBlocking()
}

// ClearAlert resets the alert state.
func (b *SequenceBarrier) ClearAlert() {
	b.alerted.Store(false)
}

// IsAlerted reports whether the barrier was alerted.
func (b *SequenceBarrier) IsAlerted() bool {
	return b.alerted.Load()
}

func (b *SequenceBarrier) checkAlert() error {
	if b.alerted.Load() {
		return ErrAlerted
	}
	return nil
}
