// Package migrations provides SQL migration generation for the event store schema.
package migrations

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config configures migration generation.
type Config struct {
	// OutputFolder is the directory where the migration file will be written
	OutputFolder string

	// OutputFilename is the name of the migration file
	OutputFilename string

	// EventsTable is the name of the events table
	EventsTable string

	// AggregateHeadsTable is the name of the aggregate head tracking table
	AggregateHeadsTable string

	// SnapshotsTable is the name of the snapshots table
	SnapshotsTable string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	timestamp := time.Now().Format("20060102150405")
	return Config{
		OutputFolder:        "migrations",
		OutputFilename:      fmt.Sprintf("%s_init_command_store.sql", timestamp),
		EventsTable:         "events",
		AggregateHeadsTable: "aggregate_heads",
		SnapshotsTable:      "snapshots",
	}
}

// GeneratePostgres generates a PostgreSQL migration file.
func GeneratePostgres(config *Config) error {
	return write(config, PostgresSQL(config))
}

// GenerateSQLite generates a SQLite migration file.
func GenerateSQLite(config *Config) error {
	return write(config, SQLiteSQL(config))
}

// GenerateMySQL generates a MySQL/MariaDB migration file.
func GenerateMySQL(config *Config) error {
	return write(config, MySQLSQL(config))
}

func write(config *Config, sql string) error {
	if err := os.MkdirAll(config.OutputFolder, 0o755); err != nil {
		return fmt.Errorf("failed to create output folder: %w", err)
	}

	outputPath := filepath.Join(config.OutputFolder, config.OutputFilename)
	if err := os.WriteFile(outputPath, []byte(sql), 0o600); err != nil {
		return fmt.Errorf("failed to write migration file: %w", err)
	}
	return nil
}

// PostgresSQL returns the PostgreSQL schema.
func PostgresSQL(config *Config) string {
	return fmt.Sprintf(`-- Command Store Migration
-- Generated: %[1]s

-- Events table stores all domain events in append-only fashion
CREATE TABLE IF NOT EXISTS %[2]s (
    global_position BIGSERIAL PRIMARY KEY,
    aggregate_type TEXT NOT NULL,
    aggregate_id TEXT NOT NULL,
    aggregate_sequence BIGINT NOT NULL,
    event_id UUID NOT NULL UNIQUE,
    event_type TEXT NOT NULL,
    payload_type TEXT NOT NULL,
    representation TEXT NOT NULL,
    payload BYTEA,
    metadata JSONB,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    -- One event per sequence number of an aggregate
    UNIQUE (aggregate_type, aggregate_id, aggregate_sequence)
);

-- Index for event type queries
CREATE INDEX IF NOT EXISTS idx_%[2]s_event_type
    ON %[2]s (event_type, global_position);

-- Aggregate heads table tracks the last sequence number of each aggregate
-- Provides O(1) head lookup for appends
CREATE TABLE IF NOT EXISTS %[3]s (
    aggregate_type TEXT NOT NULL,
    aggregate_id TEXT NOT NULL,
    aggregate_sequence BIGINT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    PRIMARY KEY (aggregate_type, aggregate_id)
);

-- Snapshots table keeps the latest snapshot of each aggregate
CREATE TABLE IF NOT EXISTS %[4]s (
    aggregate_type TEXT NOT NULL,
    aggregate_id TEXT NOT NULL,
    aggregate_sequence BIGINT NOT NULL,
    event_id UUID NOT NULL,
    event_type TEXT NOT NULL,
    payload_type TEXT NOT NULL,
    representation TEXT NOT NULL,
    payload BYTEA,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    PRIMARY KEY (aggregate_type, aggregate_id)
);
`,
		time.Now().Format(time.RFC3339),
		config.EventsTable,
		config.AggregateHeadsTable,
		config.SnapshotsTable,
	)
}

// SQLiteSQL returns the SQLite schema.
func SQLiteSQL(config *Config) string {
	return fmt.Sprintf(`-- Command Store Migration for SQLite
-- Generated: %[1]s

-- Events table stores all domain events in append-only fashion
CREATE TABLE IF NOT EXISTS %[2]s (
    global_position INTEGER PRIMARY KEY AUTOINCREMENT,
    aggregate_type TEXT NOT NULL,
    aggregate_id TEXT NOT NULL,
    aggregate_sequence INTEGER NOT NULL,
    event_id TEXT NOT NULL UNIQUE,
    event_type TEXT NOT NULL,
    payload_type TEXT NOT NULL,
    representation TEXT NOT NULL,
    payload BLOB,
    metadata TEXT,
    created_at TEXT NOT NULL DEFAULT (datetime('now')),

    -- One event per sequence number of an aggregate
    UNIQUE (aggregate_type, aggregate_id, aggregate_sequence)
);

-- Index for event type queries
CREATE INDEX IF NOT EXISTS idx_%[2]s_event_type
    ON %[2]s (event_type, global_position);

-- Aggregate heads table tracks the last sequence number of each aggregate
-- Provides O(1) head lookup for appends
CREATE TABLE IF NOT EXISTS %[3]s (
    aggregate_type TEXT NOT NULL,
    aggregate_id TEXT NOT NULL,
    aggregate_sequence INTEGER NOT NULL,
    updated_at TEXT NOT NULL DEFAULT (datetime('now')),

    PRIMARY KEY (aggregate_type, aggregate_id)
);

-- Snapshots table keeps the latest snapshot of each aggregate
CREATE TABLE IF NOT EXISTS %[4]s (
    aggregate_type TEXT NOT NULL,
    aggregate_id TEXT NOT NULL,
    aggregate_sequence INTEGER NOT NULL,
    event_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    payload_type TEXT NOT NULL,
    representation TEXT NOT NULL,
    payload BLOB,
    created_at TEXT NOT NULL DEFAULT (datetime('now')),

    PRIMARY KEY (aggregate_type, aggregate_id)
);
`,
		time.Now().Format(time.RFC3339),
		config.EventsTable,
		config.AggregateHeadsTable,
		config.SnapshotsTable,
	)
}

// MySQLSQL returns the MySQL/MariaDB schema.
func MySQLSQL(config *Config) string {
	return fmt.Sprintf(`-- Command Store Migration for MySQL/MariaDB
-- Generated: %[1]s

-- Events table stores all domain events in append-only fashion
CREATE TABLE IF NOT EXISTS %[2]s (
    global_position BIGINT AUTO_INCREMENT PRIMARY KEY,
    aggregate_type VARCHAR(255) NOT NULL,
    aggregate_id VARCHAR(255) NOT NULL,
    aggregate_sequence BIGINT NOT NULL,
    event_id CHAR(36) NOT NULL UNIQUE,
    event_type VARCHAR(255) NOT NULL,
    payload_type VARCHAR(255) NOT NULL,
    representation VARCHAR(32) NOT NULL,
    payload LONGBLOB,
    metadata JSON,
    created_at TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),

    -- One event per sequence number of an aggregate
    UNIQUE KEY unique_aggregate_sequence (aggregate_type, aggregate_id, aggregate_sequence)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;

-- Index for event type queries
CREATE INDEX idx_%[2]s_event_type
    ON %[2]s (event_type, global_position);

-- Aggregate heads table tracks the last sequence number of each aggregate
-- Provides O(1) head lookup for appends
CREATE TABLE IF NOT EXISTS %[3]s (
    aggregate_type VARCHAR(255) NOT NULL,
    aggregate_id VARCHAR(255) NOT NULL,
    aggregate_sequence BIGINT NOT NULL,
    updated_at TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6) ON UPDATE CURRENT_TIMESTAMP(6),

    PRIMARY KEY (aggregate_type, aggregate_id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;

-- Snapshots table keeps the latest snapshot of each aggregate
CREATE TABLE IF NOT EXISTS %[4]s (
    aggregate_type VARCHAR(255) NOT NULL,
    aggregate_id VARCHAR(255) NOT NULL,
    aggregate_sequence BIGINT NOT NULL,
    event_id CHAR(36) NOT NULL,
    event_type VARCHAR(255) NOT NULL,
    payload_type VARCHAR(255) NOT NULL,
    representation VARCHAR(32) NOT NULL,
    payload LONGBLOB,
    created_at TIMESTAMP(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),

    PRIMARY KEY (aggregate_type, aggregate_id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;
`,
		time.Now().Format(time.RFC3339),
		config.EventsTable,
		config.AggregateHeadsTable,
		config.SnapshotsTable,
	)
}
