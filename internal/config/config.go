// Package config defines service configuration and its loading.
//
// Conventions:
// - New returns defaults; Load layers a YAML file and environment variables on top.
// - External errors are wrapped with this package's sentinel errors.
package config

import (
	"runtime"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat selects the log encoding: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// DatabaseURL is the postgres DSN of the game store. Empty selects the in-memory store.
	DatabaseURL string `koanf:"database_url"`
	// GraphPath is the SQLite file of the graph store. Empty selects the in-memory graph.
	GraphPath string `koanf:"graph_path"`

	// EdgeBatchSize caps edges per queued message.
	EdgeBatchSize int `koanf:"edge_batch_size"`
	// EdgeDelaySeconds is the visibility delay between node and edge writes.
	EdgeDelaySeconds int `koanf:"edge_delay_seconds"`
	// QueueCapacity bounds the in-memory delay queue.
	QueueCapacity int `koanf:"queue_capacity"`
	// EdgeWorkerCount sets the number of edge batch consumers.
	EdgeWorkerCount int `koanf:"edge_worker_count"`
	// MaxReceiveCount bounds redelivery of a failing edge batch.
	MaxReceiveCount int `koanf:"max_receive_count"`

	// StreamPartitions sets how many ordered change-stream partitions run in parallel.
	StreamPartitions int `koanf:"stream_partitions"`
	// StreamBuffer is the per-partition buffer.
	StreamBuffer int `koanf:"stream_buffer"`
	// DedupeSize bounds how many change ids are remembered for redelivery suppression.
	DedupeSize int `koanf:"dedupe_size"`

	// RosterPageSize is the hierarchy page size.
	RosterPageSize int `koanf:"roster_page_size"`
	// RosterCreateSubGroupCap limits sub-group expansion on create.
	RosterCreateSubGroupCap int `koanf:"roster_create_subgroup_cap"`
	// RosterLookupBatch is the identity lookup batch size.
	RosterLookupBatch int `koanf:"roster_lookup_batch"`
	// RosterMaxUsers bounds one roster resolution.
	RosterMaxUsers int `koanf:"roster_max_users"`

	// Timezone is the IANA zone used for schedule expressions.
	Timezone string `koanf:"timezone"`

	// OTelEndpoint enables OTLP trace export when set.
	OTelEndpoint string `koanf:"otel_endpoint"`
	// MetricsEnabled turns Prometheus recording on.
	MetricsEnabled bool `koanf:"metrics_enabled"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:                "info",
		LogFormat:               "text",
		Addr:                    ":9080",
		EdgeBatchSize:           25,
		EdgeDelaySeconds:        45,
		QueueCapacity:           100_000,
		EdgeWorkerCount:         runtime.NumCPU() * 2,
		MaxReceiveCount:         5,
		StreamPartitions:        runtime.NumCPU(),
		StreamBuffer:            1024,
		DedupeSize:              100_000,
		RosterPageSize:          100,
		RosterCreateSubGroupCap: 10,
		RosterLookupBatch:       100,
		RosterMaxUsers:          50_000,
		Timezone:                "UTC",
		MetricsEnabled:          true,
	}
}

// EdgeDelay returns EdgeDelaySeconds as a duration.
func (c *Config) EdgeDelay() time.Duration {
	return time.Duration(c.EdgeDelaySeconds) * time.Second
}

// Location loads the configured schedule zone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}
