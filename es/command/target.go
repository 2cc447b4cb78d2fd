package command

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/getpup/pupcommand/es"
)

// ErrNoTarget indicates the target aggregate of a command could not be determined.
var ErrNoTarget = errors.New("cannot determine target aggregate of command")

// Target identifies the aggregate a command acts on.
type Target struct {
	// ExpectedVersion is checked against the loaded aggregate. The zero value skips the check.
	ExpectedVersion es.ExpectedVersion

	AggregateID string
}

// TargetResolver derives the target aggregate of a command.
type TargetResolver interface {
	Resolve(cmd Command) (Target, error)
}

// TargetResolverFunc adapts a function to TargetResolver.
type TargetResolverFunc func(cmd Command) (Target, error)

// Resolve implements TargetResolver.
func (f TargetResolverFunc) Resolve(cmd Command) (Target, error) {
	return f(cmd)
}

// TargetAware is implemented by payloads that know their target aggregate.
type TargetAware interface {
	TargetAggregateID() string
}

// VersionAware is optionally implemented by TargetAware payloads to request a version check.
type VersionAware interface {
	TargetExpectedVersion() es.ExpectedVersion
}

// PayloadTargetResolver resolves targets from payloads implementing TargetAware.
type PayloadTargetResolver struct{}

// Resolve implements TargetResolver.
func (PayloadTargetResolver) Resolve(cmd Command) (Target, error) {
	ta, ok := cmd.Payload.(TargetAware)
	if !ok {
		return Target{}, fmt.Errorf("%w %s: payload %T does not implement TargetAware", ErrNoTarget, cmd.Name, cmd.Payload)
	}
	id := ta.TargetAggregateID()
	if id == "" {
		return Target{}, fmt.Errorf("%w %s: empty aggregate id", ErrNoTarget, cmd.Name)
	}
	target := Target{AggregateID: id}
	if va, ok := cmd.Payload.(VersionAware); ok {
		target.ExpectedVersion = va.TargetExpectedVersion()
	}
	return target, nil
}

const (
	// DefaultAggregateIDKey is the metadata key read by MetadataTargetResolver for the aggregate id.
	DefaultAggregateIDKey = "aggregate_id"

	// DefaultExpectedVersionKey is the metadata key read by MetadataTargetResolver for the expected version.
	DefaultExpectedVersionKey = "expected_version"
)

// MetadataTargetResolver resolves targets from command metadata.
type MetadataTargetResolver struct {
	AggregateIDKey     string
	ExpectedVersionKey string
}

// NewMetadataTargetResolver returns a resolver reading the default metadata keys.
func NewMetadataTargetResolver() MetadataTargetResolver {
	return MetadataTargetResolver{
		AggregateIDKey:     DefaultAggregateIDKey,
		ExpectedVersionKey: DefaultExpectedVersionKey,
	}
}

// Resolve implements TargetResolver.
func (r MetadataTargetResolver) Resolve(cmd Command) (Target, error) {
	id := cmd.MetadataValue(r.AggregateIDKey)
	if id == "" {
		return Target{}, fmt.Errorf("%w %s: metadata key %q not set", ErrNoTarget, cmd.Name, r.AggregateIDKey)
	}
	target := Target{AggregateID: id}
	if raw := cmd.MetadataValue(r.ExpectedVersionKey); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			return Target{}, fmt.Errorf("invalid expected version %q on command %s", raw, cmd.Name)
		}
		target.ExpectedVersion = es.Exact(v)
	}
	return target, nil
}
