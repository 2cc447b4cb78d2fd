package disruptor

import (
	"hash/fnv"
	"math"

	"github.com/getpup/pupcommand/es/command"
)

// segmentFor maps an aggregate id onto one of count segments with FNV-1a.
// The same id always lands on the same segment.
func segmentFor(aggregateID string, count int) int {
	if count <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(aggregateID))
	return int(h.Sum32()&math.MaxInt32) % count
}

// router computes the segments a command is processed on.
type router struct {
	resolver    command.TargetResolver
	invokers    int
	serializers int
	publishers  int
}

func (r router) needsRouting() bool {
	return r.invokers > 1 || r.serializers > 1 || r.publishers > 1
}

// routeFor resolves the target only when a stage has more than one worker.
// Commands whose target cannot be resolved go to segment 0 everywhere.
func (r router) routeFor(cmd command.Command) route {
	if !r.needsRouting() || r.resolver == nil {
		return route{}
	}
	target, err := r.resolver.Resolve(cmd)
	if err != nil {
		return route{}
	}
	return route{
		target:            target,
		targetResolved:    true,
		invokerSegment:    segmentFor(target.AggregateID, r.invokers),
		serializerSegment: segmentFor(target.AggregateID, r.serializers),
		publisherSegment:  segmentFor(target.AggregateID, r.publishers),
	}
}
