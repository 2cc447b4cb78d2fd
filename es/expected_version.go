package es

import "fmt"

// ExpectedVersion represents the aggregate version a command expects to act upon.
// Versions are sequence numbers of the last committed event, so a freshly created
// aggregate with one event is at version 0.
type ExpectedVersion struct {
	value int64
	set   bool
}

const (
	// expectedVersionAny indicates no version check should be performed
	expectedVersionAny = -1
	// expectedVersionNoStream indicates the aggregate must not exist
	expectedVersionNoStream = -2
)

// Any returns an ExpectedVersion that skips version validation.
// The zero value of ExpectedVersion behaves like Any.
func Any() ExpectedVersion {
	return ExpectedVersion{value: expectedVersionAny, set: true}
}

// NoStream returns an ExpectedVersion that enforces the aggregate must not exist.
func NoStream() ExpectedVersion {
	return ExpectedVersion{value: expectedVersionNoStream, set: true}
}

// Exact returns an ExpectedVersion that enforces the aggregate must be at exactly the specified version.
// The version must be non-negative (>= 0).
func Exact(version int64) ExpectedVersion {
	if version < 0 {
		panic(fmt.Sprintf("exact version must be non-negative, got %d", version))
	}
	return ExpectedVersion{value: version, set: true}
}

// IsAny returns true if this is an "Any" expected version (no version check).
func (ev ExpectedVersion) IsAny() bool {
	return !ev.set || ev.value == expectedVersionAny
}

// IsNoStream returns true if this is a "NoStream" expected version (aggregate must not exist).
func (ev ExpectedVersion) IsNoStream() bool {
	return ev.set && ev.value == expectedVersionNoStream
}

// IsExact returns true if this is an "Exact" expected version (aggregate must be at specific version).
func (ev ExpectedVersion) IsExact() bool {
	return ev.set && ev.value >= 0
}

// Value returns the exact version number if this is an Exact expected version.
// Returns 0 for Any and NoStream.
func (ev ExpectedVersion) Value() int64 {
	if ev.IsExact() {
		return ev.value
	}
	return 0
}

// Matches reports whether an aggregate currently at version satisfies the expectation.
// A version of -1 means the aggregate has no events.
func (ev ExpectedVersion) Matches(version int64) bool {
	switch {
	case ev.IsAny():
		return true
	case ev.IsNoStream():
		return version < 0
	default:
		return version == ev.value
	}
}

// String returns a string representation of the ExpectedVersion.
func (ev ExpectedVersion) String() string {
	if ev.IsAny() {
		return "Any"
	}
	if ev.IsNoStream() {
		return "NoStream"
	}
	return fmt.Sprintf("Exact(%d)", ev.value)
}
