// Command eddy-mirror follows live changes on EddyDB tables and mirrors
// them into postgres and mongo. Live notifications and periodic snapshot
// resyncs feed one batching pipeline; content dedup keeps the overlap
// between the two paths from writing twice.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	eddy "github.com/eddydb/eddy-go"
	"github.com/eddydb/eddy-go/connection"
	"github.com/eddydb/eddy-go/internal/clog"
	"github.com/eddydb/eddy-go/internal/config"
	"github.com/eddydb/eddy-go/internal/database"
	"github.com/eddydb/eddy-go/internal/model"
	"github.com/eddydb/eddy-go/internal/resync"
	"github.com/eddydb/eddy-go/internal/sink"
	"github.com/eddydb/eddy-go/internal/version"
)

func main() {
	app := &cli.App{
		Name:    "eddy-mirror",
		Usage:   "Mirror EddyDB tables into postgres and mongo",
		Version: version.String(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "configs/eddy-mirror.yaml",
				Usage:   "path to config file",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// mirror ties the client, the pipeline and the live subscriptions together.
type mirror struct {
	cfg      *config.MirrorConfig
	db       *eddy.DB
	pipeline *sink.Pipeline
	logger   *slog.Logger

	liveMu  sync.Mutex
	liveIDs map[string]string // table -> current subscription id
}

func run(c *cli.Context) error {
	configPath := c.String("config")

	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, closeLogger, err := buildLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer closeLogger()
	slog.SetDefault(logger)

	logger.Info("starting mirror",
		"version", version.Version,
		"commit", version.Commit,
		"config", configPath,
	)
	logger.Info("configuration loaded",
		"endpoint", cfg.Endpoint.URL,
		"tables", len(cfg.Tables),
		"postgres", cfg.Sinks.Postgres.Enabled,
		"mongo", cfg.Sinks.Mongo.Enabled,
		"resync", cfg.Resync.Enabled,
	)

	signalCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(signalCtx)
	defer cancel()

	// Sinks own their store handles and close them.
	var sinks []sink.Sink
	if cfg.Sinks.Postgres.Enabled {
		logger.Info("connecting to postgres",
			"host", cfg.Sinks.Postgres.Host,
			"port", cfg.Sinks.Postgres.Port,
			"database", cfg.Sinks.Postgres.Name,
		)
		pool, err := database.NewPostgresPool(ctx, cfg.Sinks.Postgres)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		sinks = append(sinks, sink.NewPostgresSink(pool, logger))
	}
	if cfg.Sinks.Mongo.Enabled {
		logger.Info("connecting to mongo",
			"host", cfg.Sinks.Mongo.Host,
			"port", cfg.Sinks.Mongo.Port,
			"database", cfg.Sinks.Mongo.Database,
		)
		client, err := database.NewMongoClient(ctx, cfg.Sinks.Mongo)
		if err != nil {
			closeSinks(sinks, logger)
			return fmt.Errorf("connect mongo: %w", err)
		}
		sinks = append(sinks, sink.NewMongoSink(client, cfg.Sinks.Mongo.Database, cfg.Sinks.Mongo.Collection, logger))
	}
	logger.Info("sinks connected", "count", len(sinks))

	pipeline, err := sink.NewPipeline(sink.PipelineConfig{
		BatchSize:     cfg.Pipeline.BatchSize,
		FlushInterval: cfg.Pipeline.FlushInterval,
		BufferSize:    cfg.Pipeline.BufferSize,
		DedupWindow:   cfg.Pipeline.DedupWindow,
		WriteParallel: int64(cfg.Pipeline.WriteParallel),
	}, sinks, logger)
	if err != nil {
		closeSinks(sinks, logger)
		return fmt.Errorf("build pipeline: %w", err)
	}
	if err := pipeline.Start(ctx); err != nil {
		closeSinks(sinks, logger)
		return fmt.Errorf("start pipeline: %w", err)
	}

	db, err := eddy.Connect(ctx, cfg.Endpoint.URL,
		eddy.WithLogger(logger),
		eddy.WithConfig(func(cc *connection.Config) {
			cc.ReconnectInterval = cfg.Connection.ReconnectInterval
			cc.MaxReconnects = cfg.Connection.MaxReconnects
			cc.PingInterval = cfg.Connection.PingInterval
			cc.BufferLimit = cfg.Connection.BufferLimit
			cc.OnError = func(err error) {
				logger.Error("connection failed permanently", "error", err)
				cancel()
			}
		}),
	)
	if err != nil {
		pipeline.Stop(context.Background())
		closeSinks(sinks, logger)
		return fmt.Errorf("connect eddydb: %w", err)
	}
	logger.Info("eddydb connected", "url", cfg.Endpoint.URL)

	if err := db.Use(ctx, cfg.Endpoint.Namespace, cfg.Endpoint.Database); err != nil {
		db.Close()
		pipeline.Stop(context.Background())
		closeSinks(sinks, logger)
		return fmt.Errorf("use %s/%s: %w", cfg.Endpoint.Namespace, cfg.Endpoint.Database, err)
	}

	m := &mirror{
		cfg:      cfg,
		db:       db,
		pipeline: pipeline,
		logger:   logger,
		liveIDs:  make(map[string]string, len(cfg.Tables)),
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, table := range cfg.Tables {
		g.Go(func() error {
			return m.subscribe(gctx, table)
		})
	}
	if err := g.Wait(); err != nil {
		db.Close()
		pipeline.Stop(context.Background())
		closeSinks(sinks, logger)
		return fmt.Errorf("subscribe: %w", err)
	}
	logger.Info("live subscriptions established", "tables", len(cfg.Tables))

	var resyncer *resync.Resyncer
	if cfg.Resync.Enabled {
		resyncer = resync.New(resync.Config{
			Interval:    cfg.Resync.Interval,
			Concurrency: cfg.Resync.Concurrency,
			Timeout:     cfg.Resync.Timeout,
		}, db, cfg.Tables, resync.EventHandlerFunc(func(ev model.ChangeEvent) error {
			if !m.pipeline.Push(ev) {
				return errors.New("pipeline closed")
			}
			return nil
		}), logger)
		if err := resyncer.Start(ctx); err != nil {
			db.Close()
			pipeline.Stop(context.Background())
			closeSinks(sinks, logger)
			return fmt.Errorf("start resync: %w", err)
		}
	}

	logger.Info("mirror running")
	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if resyncer != nil {
		if err := resyncer.Stop(shutdownCtx); err != nil {
			logger.Warn("resync stop", "error", err)
		}
	}

	// Kill live queries before closing so the server stops streaming.
	killCtx, killCancel := context.WithTimeout(context.Background(), 5*time.Second)
	for table, id := range m.snapshotLive() {
		if err := db.Kill(killCtx, id); err != nil {
			logger.Warn("kill failed", "table", table, "live_id", id, "error", err)
		}
	}
	killCancel()

	db.Close()

	if err := pipeline.Stop(shutdownCtx); err != nil {
		logger.Warn("pipeline stop", "error", err)
	}
	closeSinks(sinks, logger)

	stats := pipeline.Stats()
	logger.Info("mirror stopped",
		"accepted", stats.Accepted,
		"written", stats.Written,
		"deduped", stats.Deduped,
		"errors", stats.Errors,
	)
	return nil
}

// subscribe opens a live query on table and routes its notifications into
// the pipeline. A stream torn down by a transport drop is reopened once the
// connection is back; Send blocks until then.
func (m *mirror) subscribe(ctx context.Context, table string) error {
	id, err := m.db.Live(ctx, table)
	if err != nil {
		return fmt.Errorf("live %s: %w", table, err)
	}

	err = m.db.ListenLive(id, func(note connection.Notification) {
		if note.Action == connection.ActionClose {
			if note.Detail == connection.CloseSocketClosed && ctx.Err() == nil {
				m.logger.Warn("live stream lost, resubscribing", "table", table)
				go m.resubscribe(ctx, table)
			}
			return
		}
		ev := model.NewChangeEvent(table, string(note.Action), note.Result, model.SourceLive)
		if !m.pipeline.Push(ev) {
			m.logger.Debug("pipeline closed, event dropped", "table", table)
		}
	})
	if err != nil {
		return err
	}

	m.liveMu.Lock()
	m.liveIDs[table] = id
	m.liveMu.Unlock()
	m.logger.Info("subscribed", "table", table, "live_id", id)
	return nil
}

func (m *mirror) resubscribe(ctx context.Context, table string) {
	for ctx.Err() == nil {
		err := m.subscribe(ctx, table)
		if err == nil {
			return
		}
		m.logger.Warn("resubscribe failed", "table", table, "error", err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(m.cfg.Connection.ReconnectInterval):
		}
	}
}

func (m *mirror) snapshotLive() map[string]string {
	m.liveMu.Lock()
	defer m.liveMu.Unlock()
	ids := make(map[string]string, len(m.liveIDs))
	for table, id := range m.liveIDs {
		ids[table] = id
	}
	return ids
}

func closeSinks(sinks []sink.Sink, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, s := range sinks {
		if err := s.Close(ctx); err != nil {
			logger.Warn("sink close", "sink", s.Name(), "error", err)
		}
	}
}

func buildLogger(cfg config.LoggingConfig) (*slog.Logger, func(), error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	switch cfg.Format {
	case "json":
		h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
		return slog.New(h), func() {}, nil
	case "color":
		h := clog.New(os.Stdout, level)
		return slog.New(h), func() { h.Close() }, nil
	default:
		h := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
		return slog.New(h), func() {}, nil
	}
}

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", level)
	}
}
