package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *MirrorConfig) Validate() error {
	if c.Endpoint.URL == "" {
		return errors.New("endpoint.url is required")
	}
	if len(c.Tables) == 0 {
		return errors.New("at least one table is required")
	}

	if c.Pipeline.BatchSize < 1 {
		return errors.New("pipeline.batch_size must be >= 1")
	}
	if c.Pipeline.BufferSize < 1 {
		return errors.New("pipeline.buffer_size must be >= 1")
	}
	if c.Pipeline.WriteParallel < 1 {
		return errors.New("pipeline.write_parallel must be >= 1")
	}

	if !c.Sinks.Postgres.Enabled && !c.Sinks.Mongo.Enabled {
		return errors.New("at least one sink must be enabled")
	}
	if c.Sinks.Postgres.Enabled {
		if err := c.Sinks.Postgres.validate("sinks.postgres"); err != nil {
			return err
		}
	}
	if c.Sinks.Mongo.Enabled {
		if err := c.Sinks.Mongo.validate("sinks.mongo"); err != nil {
			return err
		}
	}

	if c.Resync.Enabled && c.Resync.Concurrency < 1 {
		return errors.New("resync.concurrency must be >= 1")
	}

	switch c.Logging.Format {
	case "text", "json", "color":
	default:
		return fmt.Errorf("logging.format must be text, json or color, got %q", c.Logging.Format)
	}

	return nil
}

func (pg *PostgresConfig) validate(prefix string) error {
	if pg.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if pg.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if pg.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if pg.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if pg.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if pg.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if pg.MinConns > pg.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, pg.MinConns, pg.MaxConns)
	}
	return nil
}

func (m *MongoConfig) validate(prefix string) error {
	if m.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if m.Database == "" {
		return fmt.Errorf("%s.database is required", prefix)
	}
	if m.MinPoolSize > m.MaxPoolSize {
		return fmt.Errorf("%s.min_pool_size (%d) cannot exceed max_pool_size (%d)", prefix, m.MinPoolSize, m.MaxPoolSize)
	}
	return nil
}
