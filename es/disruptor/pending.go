package disruptor

import (
	"github.com/google/uuid"

	"github.com/getpup/pupcommand/es/cache"
)

// pendingCreates remembers commands that already took the aggregate-not-found
// reschedule once. It belongs to one publisher goroutine. Entries are removed when
// their command finishes; the LRU bound drops ids of commands that never came back.
type pendingCreates struct {
	ids *cache.LRU[uuid.UUID, struct{}]
}

func newPendingCreates(capacity int) *pendingCreates {
	return &pendingCreates{ids: cache.NewLRU[uuid.UUID, struct{}](capacity, nil)}
}

func (p *pendingCreates) add(id uuid.UUID) {
	p.ids.Put(id, struct{}{})
}

func (p *pendingCreates) contains(id uuid.UUID) bool {
	_, ok := p.ids.Peek(id)
	return ok
}

func (p *pendingCreates) remove(id uuid.UUID) {
	p.ids.Remove(id)
}

func (p *pendingCreates) len() int {
	return p.ids.Len()
}
