package sqlstore

import (
	"github.com/getpup/pupcommand/es"
	"github.com/getpup/pupcommand/es/serializer"
)

// Config contains configuration for a SQL event store.
// Configuration is immutable after construction.
type Config struct {
	// Logger is an optional logger for observability.
	// If nil, logging is disabled.
	Logger es.Logger

	// Serializer encodes payloads for storage. Defaults to serializer.New(nil).
	Serializer serializer.Serializer

	// Representation is the payload encoding written by the store
	Representation string

	// EventsTable is the name of the events table
	EventsTable string

	// AggregateHeadsTable is the name of the aggregate head tracking table
	AggregateHeadsTable string

	// SnapshotsTable is the name of the snapshots table
	SnapshotsTable string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Serializer:          serializer.New(nil),
		Representation:      serializer.JSON,
		EventsTable:         "events",
		AggregateHeadsTable: "aggregate_heads",
		SnapshotsTable:      "snapshots",
	}
}

// Option is a functional option for configuring a Store.
type Option func(*Config)

// WithLogger sets a logger for the store.
func WithLogger(logger es.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithSerializer sets the payload serializer and the representation it writes.
// Payloads already encoded in that representation by the command bus are stored as is.
func WithSerializer(s serializer.Serializer, representation string) Option {
	return func(c *Config) {
		c.Serializer = s
		c.Representation = representation
	}
}

// WithEventsTable sets a custom events table name.
func WithEventsTable(tableName string) Option {
	return func(c *Config) {
		c.EventsTable = tableName
	}
}

// WithAggregateHeadsTable sets a custom aggregate heads table name.
func WithAggregateHeadsTable(tableName string) Option {
	return func(c *Config) {
		c.AggregateHeadsTable = tableName
	}
}

// WithSnapshotsTable sets a custom snapshots table name.
func WithSnapshotsTable(tableName string) Option {
	return func(c *Config) {
		c.SnapshotsTable = tableName
	}
}

// NewConfig creates a store configuration with functional options.
// It starts with the default configuration and applies the given options.
//
// Example:
//
//	config := sqlstore.NewConfig(
//	    sqlstore.WithLogger(myLogger),
//	    sqlstore.WithEventsTable("custom_events"),
//	)
func NewConfig(opts ...Option) Config {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return config
}
