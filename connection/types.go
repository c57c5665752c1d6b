package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Errors
var (
	ErrNotConnected     = errors.New("not connected")
	ErrConnectionClosed = errors.New("connection closed")
	ErrAlreadyClosed    = errors.New("already closed")
	ErrUnknownCloseCode = errors.New("unknown close code")
	ErrInvalidScheme    = errors.New("invalid endpoint scheme")
)

// RPC is the method-call surface shared by the websocket and HTTP engines.
type RPC interface {
	// Send issues a single RPC and returns the raw result payload.
	Send(ctx context.Context, method string, params ...any) (json.RawMessage, error)

	// Close tears the engine down.
	Close() error
}

// LiveHandler is the live-subscription surface. Only the websocket engine
// implements it; the HTTP engine is request/response only.
type LiveHandler interface {
	// ListenLive registers fn for notifications on a subscription id.
	ListenLive(id string, fn NotificationHandler)

	// LiveNotifications returns a channel fed by an installed listener.
	LiveNotifications(id string) (<-chan Notification, error)

	// Kill terminates a subscription locally and remotely.
	Kill(ctx context.Context, id string) error
}

// Status is the lifecycle state of a Connection.
type Status int

const (
	StatusClosed Status = iota
	StatusOpen
	StatusReconnecting
)

// String returns the state name.
func (s Status) String() string {
	switch s {
	case StatusClosed:
		return "CLOSED"
	case StatusOpen:
		return "OPEN"
	case StatusReconnecting:
		return "RECONNECTING"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Action identifies the kind of change a notification reports.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"

	// ActionClose is synthesized locally when a stream terminates.
	// Notification.Detail carries the cause.
	ActionClose Action = "CLOSE"
)

// Details attached to ActionClose notifications.
const (
	CloseSocketClosed = "socket closed"
	CloseQueryKilled  = "query killed"
)

// Notification is a push event for one live subscription.
type Notification struct {
	ID     string          `json:"id"`               // subscription id
	Action Action          `json:"action"`           // CREATE, UPDATE, DELETE, CLOSE
	Result json.RawMessage `json:"result,omitempty"` // record payload
	Detail string          `json:"detail,omitempty"` // cause, CLOSE only
}

// NotificationHandler consumes notifications for one subscription.
type NotificationHandler func(Notification)

// request is an outgoing RPC frame.
type request struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params []any  `json:"params"`
}

// response is an inbound direct-reply frame, matched to a request by id.
type response struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error,omitempty"`
}

// RPCError is a method-level error reported by the server.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("eddydb: rpc error %d: %s", e.Code, e.Message)
}

// Config configures a websocket Connection.
type Config struct {
	URL               string        // endpoint URL; http(s) schemes are rewritten and /rpc appended
	DialTimeout       time.Duration // websocket handshake timeout
	WriteTimeout      time.Duration // write deadline for outgoing frames
	ReconnectInterval time.Duration // fixed delay between reconnect attempts
	MaxReconnects     int           // consecutive failed attempts before giving up (0 = retry forever)
	PingInterval      time.Duration // keepalive ping RPC period (0 = disabled)
	BufferLimit       int           // per-subscription early-arrival cap (0 = unbounded)
	ChannelBuffer     int           // LiveNotifications channel capacity

	// Optional lifecycle hooks.
	OnConnect func()
	OnClose   func()
	OnError   func(error)
}

// DefaultConfig returns sensible defaults for the given endpoint.
func DefaultConfig(url string) Config {
	return Config{
		URL:               url,
		DialTimeout:       10 * time.Second,
		WriteTimeout:      5 * time.Second,
		ReconnectInterval: 2500 * time.Millisecond,
		MaxReconnects:     25,
		PingInterval:      30 * time.Second,
		ChannelBuffer:     64,
	}
}
