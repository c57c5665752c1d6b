package config

import "time"

// MirrorConfig is the root configuration for an eddy-mirror instance.
type MirrorConfig struct {
	Endpoint   EndpointConfig   `yaml:"endpoint"`
	Connection ConnectionConfig `yaml:"connection"`
	Tables     []string         `yaml:"tables"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Sinks      SinksConfig      `yaml:"sinks"`
	Resync     ResyncConfig     `yaml:"resync"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// EndpointConfig locates the EddyDB server.
type EndpointConfig struct {
	URL       string `yaml:"url"`
	Namespace string `yaml:"namespace"`
	Database  string `yaml:"database"`
}

// ConnectionConfig tunes the websocket engine.
type ConnectionConfig struct {
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	MaxReconnects     int           `yaml:"max_reconnects"`
	PingInterval      time.Duration `yaml:"ping_interval"`
	BufferLimit       int           `yaml:"buffer_limit"`
}

// PipelineConfig tunes batching and delivery.
type PipelineConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
	DedupWindow   int           `yaml:"dedup_window"`
	WriteParallel int           `yaml:"write_parallel"`
}

// SinksConfig selects and configures the stores.
type SinksConfig struct {
	Postgres PostgresConfig `yaml:"postgres"`
	Mongo    MongoConfig    `yaml:"mongo"`
}

// PostgresConfig holds a postgres connection.
type PostgresConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// MongoConfig holds a mongo connection.
type MongoConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	User        string `yaml:"user"`
	Password    string `yaml:"password"`
	Database    string `yaml:"database"`
	Collection  string `yaml:"collection"`
	MinPoolSize uint64 `yaml:"min_pool_size"`
	MaxPoolSize uint64 `yaml:"max_pool_size"`
}

// ResyncConfig tunes the periodic snapshot re-pull.
type ResyncConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Interval    time.Duration `yaml:"interval"`
	Concurrency int           `yaml:"concurrency"`
	Timeout     time.Duration `yaml:"timeout"`
}

// LoggingConfig selects log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json, color
}
