// Package command defines commands, their handlers and the hooks around dispatch and handling.
package command

import (
	"maps"

	"github.com/google/uuid"
)

// Command is an immutable request to change the state of one aggregate.
// Name selects the handler; Payload carries the data the handler needs.
type Command struct {
	// Payload contains the command data in its in-memory form
	Payload any

	// Metadata carries correlation and tracing values
	Metadata map[string]string

	// Name identifies the command and selects its handler
	Name string

	// ID is a unique identifier for this command
	ID uuid.UUID
}

// New creates a command with a fresh identifier.
func New(name string, payload any) Command {
	return Command{
		ID:      uuid.New(),
		Name:    name,
		Payload: payload,
	}
}

// WithMetadata returns a copy of the command with the given metadata merged in.
func (c Command) WithMetadata(md map[string]string) Command {
	merged := make(map[string]string, len(c.Metadata)+len(md))
	maps.Copy(merged, c.Metadata)
	maps.Copy(merged, md)
	c.Metadata = merged
	return c
}

// MetadataValue returns the metadata value for key, or "" when it is absent.
func (c Command) MetadataValue(key string) string {
	return c.Metadata[key]
}
