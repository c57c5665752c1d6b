package eddy

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/eddydb/eddy-go/connection"
)

// ErrLiveUnsupported is returned for live-query operations on an engine
// without live support, such as the HTTP engine.
var ErrLiveUnsupported = errors.New("live queries need the websocket engine")

// DB is a client for one EddyDB server. All data methods are thin wrappers
// over the engine's Send; results stay raw JSON for the caller to decode.
type DB struct {
	rpc    connection.RPC
	logger *slog.Logger

	// Session state, re-applied after a reconnect.
	mu        sync.Mutex
	namespace string
	database  string
	lets      map[string]any
}

type options struct {
	logger     *slog.Logger
	http       bool
	config     func(*connection.Config)
	httpConfig func(*connection.HTTPConfig)
}

// Option customizes Connect.
type Option func(*options)

// WithLogger sets the logger for the client and its engine.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithHTTP selects the one-shot HTTP engine instead of the websocket one.
// Live queries are unavailable on it.
func WithHTTP() Option {
	return func(o *options) { o.http = true }
}

// WithConfig tweaks the websocket engine configuration before dialing.
func WithConfig(fn func(*connection.Config)) Option {
	return func(o *options) { o.config = fn }
}

// WithHTTPConfig tweaks the HTTP engine configuration.
func WithHTTPConfig(fn func(*connection.HTTPConfig)) Option {
	return func(o *options) { o.httpConfig = fn }
}

// Connect builds an engine for the given endpoint and, for the websocket
// engine, opens the connection. The endpoint accepts http(s) or ws(s)
// schemes; normalization appends the /rpc path.
func Connect(ctx context.Context, url string, opts ...Option) (*DB, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	db := &DB{
		logger: o.logger,
		lets:   make(map[string]any),
	}

	if o.http {
		cfg := connection.DefaultHTTPConfig(url)
		if o.httpConfig != nil {
			o.httpConfig(&cfg)
		}
		client, err := connection.NewHTTPClient(cfg, o.logger)
		if err != nil {
			return nil, err
		}
		db.rpc = client
		return db, nil
	}

	cfg := connection.DefaultConfig(url)
	if o.config != nil {
		o.config(&cfg)
	}

	// Namespace selection and LET bindings die with the remote session, so
	// chain a hook that restores them on every (re)connect.
	userConnect := cfg.OnConnect
	cfg.OnConnect = func() {
		db.restoreSession()
		if userConnect != nil {
			userConnect()
		}
	}

	conn, err := connection.New(cfg, o.logger)
	if err != nil {
		return nil, err
	}
	db.rpc = conn

	if err := conn.Open(ctx); err != nil {
		return nil, err
	}
	return db, nil
}

// New wraps an already-built engine. Useful for custom engine configuration
// or test doubles; Connect is the common path.
func New(rpc connection.RPC, logger *slog.Logger) *DB {
	if logger == nil {
		logger = slog.Default()
	}
	return &DB{
		rpc:    rpc,
		logger: logger,
		lets:   make(map[string]any),
	}
}

// Close tears the engine down.
func (db *DB) Close() error {
	return db.rpc.Close()
}

// restoreSession re-issues the namespace selection and LET bindings on a
// fresh transport.
func (db *DB) restoreSession() {
	db.mu.Lock()
	namespace, database := db.namespace, db.database
	lets := make(map[string]any, len(db.lets))
	for key, value := range db.lets {
		lets[key] = value
	}
	db.mu.Unlock()

	if namespace == "" && database == "" && len(lets) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if namespace != "" || database != "" {
		if _, err := db.rpc.Send(ctx, "use", namespace, database); err != nil {
			db.logger.Warn("failed to restore namespace selection",
				"namespace", namespace,
				"database", database,
				"error", err,
			)
		}
	}
	for key, value := range lets {
		if _, err := db.rpc.Send(ctx, "let", key, value); err != nil {
			db.logger.Warn("failed to restore binding", "key", key, "error", err)
		}
	}
}

func (db *DB) live() (connection.LiveHandler, error) {
	handler, ok := db.rpc.(connection.LiveHandler)
	if !ok {
		return nil, ErrLiveUnsupported
	}
	return handler, nil
}
