package sink

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eddydb/eddy-go/internal/model"
)

// PostgresSink writes change events to the change_events table. Inserts use
// ON CONFLICT DO NOTHING on the event id, so re-delivered batches are free.
type PostgresSink struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresSink wraps a connection pool. The sink owns the pool and closes
// it on Close.
func NewPostgresSink(pool *pgxpool.Pool, logger *slog.Logger) *PostgresSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresSink{
		pool:   pool,
		logger: logger.With("sink", "postgres"),
	}
}

// Name identifies the sink.
func (s *PostgresSink) Name() string { return "postgres" }

// Write inserts a batch of events.
func (s *PostgresSink) Write(ctx context.Context, events []model.ChangeEvent) error {
	if len(events) == 0 {
		return nil
	}

	start := time.Now()

	batch := &pgx.Batch{}
	for _, ev := range events {
		batch.Queue(`
			INSERT INTO change_events (event_id, table_name, record_id, action, payload, received_at, source)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (event_id) DO NOTHING
		`, ev.EventID, ev.Table, ev.RecordID, ev.Action, ev.Payload, ev.ReceivedAt, ev.Source)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()

	conflicts := 0
	for range events {
		ct, err := results.Exec()
		if err != nil {
			return err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	s.logger.Debug("wrote batch",
		"count", len(events),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
	return nil
}

// Close releases the connection pool.
func (s *PostgresSink) Close(ctx context.Context) error {
	s.pool.Close()
	return nil
}
