package disruptor

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/getpup/pupcommand/es/command"
)

func TestSegmentFor_IsDeterministicAndBalanced(t *testing.T) {
	const ids, segments = 10000, 4
	counts := make([]int, segments)
	for i := 0; i < ids; i++ {
		id := fmt.Sprintf("agg-%d", i)
		s := segmentFor(id, segments)
		assert.Equal(t, s, segmentFor(id, segments))
		counts[s]++
	}
	for s, n := range counts {
		assert.InDelta(t, ids/segments, n, ids/segments/5, "segment %d", s)
	}

	assert.Zero(t, segmentFor("agg-1", 1))
	assert.Zero(t, segmentFor("agg-1", 0))
}

func TestRouter_RouteFor(t *testing.T) {
	r := router{resolver: command.PayloadTargetResolver{}, invokers: 4, serializers: 0, publishers: 2}

	got := r.routeFor(command.New("Deposit", deposit{ID: "acc-7"}))
	assert.True(t, got.targetResolved)
	assert.Equal(t, "acc-7", got.target.AggregateID)
	assert.Equal(t, segmentFor("acc-7", 4), got.invokerSegment)
	assert.Equal(t, segmentFor("acc-7", 2), got.publisherSegment)
	assert.Zero(t, got.serializerSegment)

	assert.Equal(t, route{}, r.routeFor(command.New("Open", untargetedOpen{ID: "acc-7"})),
		"unroutable commands go to the first segment of every stage")

	single := router{resolver: command.PayloadTargetResolver{}, invokers: 1, publishers: 1}
	assert.False(t, single.needsRouting())
	assert.Equal(t, route{}, single.routeFor(command.New("Deposit", deposit{ID: "acc-7"})))
}
