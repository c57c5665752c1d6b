package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultReconnectInterval = 2500 * time.Millisecond
	DefaultMaxReconnects     = 25
	DefaultPingInterval      = 30 * time.Second
	DefaultBufferLimit       = 4096
	DefaultBatchSize         = 500
	DefaultFlushInterval     = 2 * time.Second
	DefaultBufferSize        = 4096
	DefaultDedupWindow       = 8192
	DefaultWriteParallel     = 4
	DefaultPostgresPort      = 5432
	DefaultPostgresSSLMode   = "prefer"
	DefaultPostgresMaxConns  = 10
	DefaultPostgresMinConns  = 2
	DefaultMongoPort         = 27017
	DefaultMongoCollection   = "change_events"
	DefaultMongoMinPoolSize  = 2
	DefaultMongoMaxPoolSize  = 16
	DefaultResyncInterval    = 15 * time.Minute
	DefaultResyncConcurrency = 4
	DefaultResyncTimeout     = 10 * time.Second
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
)

func (c *MirrorConfig) applyDefaults() {
	// Connection defaults
	if c.Connection.ReconnectInterval == 0 {
		c.Connection.ReconnectInterval = DefaultReconnectInterval
	}
	if c.Connection.MaxReconnects == 0 {
		c.Connection.MaxReconnects = DefaultMaxReconnects
	}
	if c.Connection.PingInterval == 0 {
		c.Connection.PingInterval = DefaultPingInterval
	}
	if c.Connection.BufferLimit == 0 {
		c.Connection.BufferLimit = DefaultBufferLimit
	}

	// Pipeline defaults
	if c.Pipeline.BatchSize == 0 {
		c.Pipeline.BatchSize = DefaultBatchSize
	}
	if c.Pipeline.FlushInterval == 0 {
		c.Pipeline.FlushInterval = DefaultFlushInterval
	}
	if c.Pipeline.BufferSize == 0 {
		c.Pipeline.BufferSize = DefaultBufferSize
	}
	if c.Pipeline.DedupWindow == 0 {
		c.Pipeline.DedupWindow = DefaultDedupWindow
	}
	if c.Pipeline.WriteParallel == 0 {
		c.Pipeline.WriteParallel = DefaultWriteParallel
	}

	// Sink defaults
	if c.Sinks.Postgres.Port == 0 {
		c.Sinks.Postgres.Port = DefaultPostgresPort
	}
	if c.Sinks.Postgres.SSLMode == "" {
		c.Sinks.Postgres.SSLMode = DefaultPostgresSSLMode
	}
	if c.Sinks.Postgres.MaxConns == 0 {
		c.Sinks.Postgres.MaxConns = DefaultPostgresMaxConns
	}
	if c.Sinks.Postgres.MinConns == 0 {
		c.Sinks.Postgres.MinConns = DefaultPostgresMinConns
	}
	if c.Sinks.Mongo.Port == 0 {
		c.Sinks.Mongo.Port = DefaultMongoPort
	}
	if c.Sinks.Mongo.Collection == "" {
		c.Sinks.Mongo.Collection = DefaultMongoCollection
	}
	if c.Sinks.Mongo.MinPoolSize == 0 {
		c.Sinks.Mongo.MinPoolSize = DefaultMongoMinPoolSize
	}
	if c.Sinks.Mongo.MaxPoolSize == 0 {
		c.Sinks.Mongo.MaxPoolSize = DefaultMongoMaxPoolSize
	}

	// Resync defaults
	if c.Resync.Interval == 0 {
		c.Resync.Interval = DefaultResyncInterval
	}
	if c.Resync.Concurrency == 0 {
		c.Resync.Concurrency = DefaultResyncConcurrency
	}
	if c.Resync.Timeout == 0 {
		c.Resync.Timeout = DefaultResyncTimeout
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}
