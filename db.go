package eddy

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/eddydb/eddy-go/connection"
	"github.com/eddydb/eddy-go/eql"
)

// Use selects the namespace and database for this session. The selection is
// remembered and re-applied automatically after a reconnect.
func (db *DB) Use(ctx context.Context, namespace, database string) error {
	if _, err := db.rpc.Send(ctx, "use", namespace, database); err != nil {
		return err
	}

	db.mu.Lock()
	db.namespace = namespace
	db.database = database
	db.mu.Unlock()
	return nil
}

// Let binds a session variable referenced as $key in queries. Bindings are
// re-applied automatically after a reconnect.
func (db *DB) Let(ctx context.Context, key string, value any) error {
	if _, err := db.rpc.Send(ctx, "let", key, value); err != nil {
		return err
	}

	db.mu.Lock()
	db.lets[key] = value
	db.mu.Unlock()
	return nil
}

// Unset removes a session variable.
func (db *DB) Unset(ctx context.Context, key string) error {
	if _, err := db.rpc.Send(ctx, "unset", key); err != nil {
		return err
	}

	db.mu.Lock()
	delete(db.lets, key)
	db.mu.Unlock()
	return nil
}

// Ping checks that the server answers.
func (db *DB) Ping(ctx context.Context) error {
	_, err := db.rpc.Send(ctx, "ping")
	return err
}

// Info returns session information from the server.
func (db *DB) Info(ctx context.Context) (json.RawMessage, error) {
	return db.rpc.Send(ctx, "info")
}

// Query runs a built query with its bound parameters.
func (db *DB) Query(ctx context.Context, q *eql.Query) (json.RawMessage, error) {
	return db.rpc.Send(ctx, "query", q.Params()...)
}

// QueryRaw runs query text with explicit parameter bindings.
func (db *DB) QueryRaw(ctx context.Context, text string, vars map[string]any) (json.RawMessage, error) {
	if vars == nil {
		vars = map[string]any{}
	}
	return db.rpc.Send(ctx, "query", text, vars)
}

// Select reads a table or a single record ("table" or "table:id").
func (db *DB) Select(ctx context.Context, thing string) (json.RawMessage, error) {
	return db.rpc.Send(ctx, "select", thing)
}

// Create inserts a record.
func (db *DB) Create(ctx context.Context, thing string, data any) (json.RawMessage, error) {
	return db.rpc.Send(ctx, "create", thing, data)
}

// Update replaces the content of a record or a whole table.
func (db *DB) Update(ctx context.Context, thing string, data any) (json.RawMessage, error) {
	return db.rpc.Send(ctx, "update", thing, data)
}

// Delete removes a record or a whole table.
func (db *DB) Delete(ctx context.Context, thing string) (json.RawMessage, error) {
	return db.rpc.Send(ctx, "delete", thing)
}

// Live starts a live query on a table and returns its subscription id.
// Attach listeners with ListenLive or LiveNotifications; note that
// notifications arriving before a listener registers are buffered, so
// nothing is lost in between.
func (db *DB) Live(ctx context.Context, table string) (string, error) {
	if _, err := db.live(); err != nil {
		return "", err
	}

	result, err := db.rpc.Send(ctx, "live", table)
	if err != nil {
		return "", err
	}

	var id string
	if err := json.Unmarshal(result, &id); err != nil {
		return "", fmt.Errorf("decode live id: %w", err)
	}
	return id, nil
}

// ListenLive registers fn for notifications on a subscription id.
func (db *DB) ListenLive(id string, fn connection.NotificationHandler) error {
	handler, err := db.live()
	if err != nil {
		return err
	}
	handler.ListenLive(id, fn)
	return nil
}

// LiveNotifications returns a channel of notifications for a subscription
// id. The channel closes after a terminal CLOSE notification.
func (db *DB) LiveNotifications(id string) (<-chan connection.Notification, error) {
	handler, err := db.live()
	if err != nil {
		return nil, err
	}
	return handler.LiveNotifications(id)
}

// Kill terminates a live query. Local listeners receive a terminal
// CLOSE/"query killed" notification before the kill reaches the server.
func (db *DB) Kill(ctx context.Context, id string) error {
	handler, err := db.live()
	if err != nil {
		return err
	}
	return handler.Kill(ctx, id)
}
