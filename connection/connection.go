package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	_ RPC         = (*Connection)(nil)
	_ LiveHandler = (*Connection)(nil)
)

// Connection is a persistent, auto-reconnecting websocket RPC connection.
// It multiplexes concurrent request/response exchanges and live-subscription
// streams over one socket: replies are correlated to callers by request id,
// notifications fan out to every listener registered for their subscription
// id, and notifications that arrive before any listener does are buffered
// and replayed on first registration.
//
// An unsolicited transport drop moves the connection to StatusReconnecting
// and redials after a fixed interval. Any transport closure, solicited or
// not, fails in-flight Send calls with ErrConnectionClosed, delivers one
// terminal CLOSE notification per listener and clears all correlation state.
type Connection struct {
	cfg    Config
	logger *slog.Logger

	// reqID generates outgoing request identifiers.
	reqID atomic.Int64

	// Write serialization
	writeMu sync.Mutex

	// mu guards everything below.
	mu        sync.Mutex
	status    Status
	ws        *websocket.Conn
	gen       uint64        // transport generation; events from older transports are stale
	ready     chan struct{} // armed while an open or reconnect is in flight, nil otherwise
	closed    chan struct{} // released when transport-close handling finishes
	retry     *time.Timer   // scheduled reconnect, nil if none
	attempts  int           // consecutive failed reconnect attempts
	pending   map[int64]chan response
	listeners map[string][]NotificationHandler
	buffered  map[string][]Notification
}

// New creates a Connection for the given endpoint. The URL is normalized
// (http becomes ws, /rpc appended); no dial happens until Open.
func New(cfg Config, logger *slog.Logger) (*Connection, error) {
	if logger == nil {
		logger = slog.Default()
	}

	url, err := Endpoint(cfg.URL)
	if err != nil {
		return nil, err
	}
	cfg.URL = url

	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 2500 * time.Millisecond
	}
	if cfg.ChannelBuffer <= 0 {
		cfg.ChannelBuffer = 64
	}

	return &Connection{
		cfg:       cfg,
		logger:    logger.With("conn_id", uuid.NewString()[:8]),
		status:    StatusClosed,
		pending:   make(map[int64]chan response),
		listeners: make(map[string][]NotificationHandler),
		buffered:  make(map[string][]Notification),
	}, nil
}

// Status returns the current lifecycle state.
func (c *Connection) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Open establishes the websocket connection. Any prior transport is first
// force-closed with the normal closure code, which fails its in-flight
// requests and notifies its listeners like any other closure. Open blocks
// until the handshake completes or fails; on failure the connection is left
// closed and the error hook fires.
func (c *Connection) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	if c.ready != nil {
		close(c.ready)
	}
	ws := c.ws
	c.ws = nil
	c.gen++
	closed := c.closed
	c.closed = nil
	pending, listeners := c.resetLocked()
	c.status = StatusClosed
	c.attempts = 0
	ready := make(chan struct{})
	c.ready = ready
	c.mu.Unlock()

	if ws != nil {
		reason, _ := CloseReason(websocket.CloseNormalClosure)
		ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
			time.Now().Add(time.Second),
		)
		ws.Close()
	}
	failPending(pending)
	notifyClosed(listeners, CloseSocketClosed)
	if closed != nil {
		close(closed)
	}

	if err := c.dialAttempt(ctx, ready); err != nil {
		c.mu.Lock()
		if c.ready == ready {
			c.status = StatusClosed
			close(ready)
			c.ready = nil
		}
		c.mu.Unlock()

		c.logger.Warn("connect failed", "url", c.cfg.URL, "error", err)
		if c.cfg.OnError != nil {
			c.cfg.OnError(err)
		}
		return fmt.Errorf("open %s: %w", c.cfg.URL, err)
	}

	return nil
}

// Close closes the connection with the normal closure code.
func (c *Connection) Close() error {
	return c.CloseWithCode(websocket.CloseNormalClosure)
}

// CloseWithCode closes the connection with a code from the closure registry.
// The closed state is set before the transport is told to close, which marks
// the resulting transport-close event solicited and suppresses reconnection.
// CloseWithCode waits until in-flight requests were failed and listeners
// notified. Safe to call with no live transport; hooks still fire.
func (c *Connection) CloseWithCode(code int) error {
	reason, ok := CloseReason(code)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownCloseCode, code)
	}

	c.mu.Lock()
	c.status = StatusClosed
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
	if c.ready != nil {
		close(c.ready)
		c.ready = nil
	}
	ws := c.ws
	closed := c.closed
	c.mu.Unlock()

	if ws == nil {
		if c.cfg.OnClose != nil {
			c.cfg.OnClose()
		}
		return nil
	}

	ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(time.Second),
	)
	ws.Close()

	if c.cfg.OnClose != nil {
		c.cfg.OnClose()
	}

	if closed != nil {
		<-closed
	}
	return nil
}

// Send issues an RPC and blocks until the matching reply arrives. Calls made
// while an open or reconnect is in flight queue behind the handshake instead
// of failing. The reply is matched purely by id, so concurrent calls may
// complete in any order relative to each other.
func (c *Connection) Send(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	if err := c.awaitReady(ctx); err != nil {
		return nil, err
	}
	if params == nil {
		params = []any{}
	}

	id := c.reqID.Add(1)
	ch := make(chan response, 1)

	c.mu.Lock()
	if c.status != StatusOpen {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	c.pending[id] = ch
	ws := c.ws
	c.mu.Unlock()

	frame, err := json.Marshal(request{ID: id, Method: method, Params: params})
	if err != nil {
		c.removePending(id)
		return nil, fmt.Errorf("encode %s request: %w", method, err)
	}

	c.writeMu.Lock()
	ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	err = ws.WriteMessage(websocket.TextMessage, frame)
	c.writeMu.Unlock()
	if err != nil {
		c.removePending(id)
		return nil, fmt.Errorf("write %s request: %w", method, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrConnectionClosed
		}
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		c.removePending(id)
		return nil, ctx.Err()
	}
}

// ListenLive registers fn for notifications on a subscription id. Listeners
// for one id are invoked in registration order; registering the same fn
// twice delivers to it twice. Notifications that arrived before any listener
// are replayed to fn, in arrival order, before ListenLive returns; the
// replayed backlog is gone afterwards, so a second listener starts from the
// next live notification.
func (c *Connection) ListenLive(id string, fn NotificationHandler) {
	for {
		c.mu.Lock()
		backlog := c.buffered[id]
		if len(backlog) == 0 {
			// Registration only happens once the backlog is drained, so
			// dispatch cannot interleave fresh notifications with the replay.
			c.listeners[id] = append(c.listeners[id], fn)
			c.mu.Unlock()
			return
		}
		delete(c.buffered, id)
		c.mu.Unlock()

		for _, note := range backlog {
			fn(note)
		}
	}
}

// LiveNotifications returns a channel fed by a listener registered for id.
// Buffered early arrivals are queued onto the channel before it is returned.
// The channel closes after a terminal CLOSE notification is delivered. A
// consumer that stops draining the channel eventually stalls dispatch for
// the whole connection.
func (c *Connection) LiveNotifications(id string) (<-chan Notification, error) {
	if id == "" {
		return nil, fmt.Errorf("live notifications: empty subscription id")
	}

	ch := make(chan Notification, c.cfg.ChannelBuffer)
	c.ListenLive(id, func(note Notification) {
		ch <- note
		if note.Action == ActionClose {
			close(ch)
		}
	})
	return ch, nil
}

// Kill terminates a live subscription. Listeners receive one terminal
// CLOSE/"query killed" notification each and are deregistered before the
// kill request goes to the server, then the subscription's early-arrival
// buffer is dropped. Notifications still in flight from the server re-enter
// the early-arrival buffer rather than reaching the dead listeners.
func (c *Connection) Kill(ctx context.Context, id string) error {
	c.mu.Lock()
	handlers := c.listeners[id]
	delete(c.listeners, id)
	c.mu.Unlock()

	terminal := Notification{ID: id, Action: ActionClose, Detail: CloseQueryKilled}
	for _, fn := range handlers {
		fn(terminal)
	}

	_, err := c.Send(ctx, "kill", id)

	c.mu.Lock()
	delete(c.buffered, id)
	c.mu.Unlock()

	if err != nil {
		return fmt.Errorf("kill %s: %w", id, err)
	}
	return nil
}

// awaitReady blocks until the connection is open, an explicit close settles
// the question, or ctx expires.
func (c *Connection) awaitReady(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.status == StatusOpen {
			c.mu.Unlock()
			return nil
		}
		ready := c.ready
		c.mu.Unlock()

		if ready == nil {
			return ErrNotConnected
		}

		select {
		case <-ready:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// dialAttempt dials the endpoint and installs the new transport. ready must
// be the channel armed for this attempt; if the connection was closed or
// reopened while the dial was in flight the fresh socket is discarded.
func (c *Connection) dialAttempt(ctx context.Context, ready chan struct{}) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.DialTimeout,
	}

	ws, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return err
	}

	ws.SetPingHandler(func(data string) error {
		return ws.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})

	c.mu.Lock()
	if c.ready != ready {
		c.mu.Unlock()
		ws.Close()
		return ErrAlreadyClosed
	}
	c.ws = ws
	c.gen++
	gen := c.gen
	c.status = StatusOpen
	c.attempts = 0
	c.closed = make(chan struct{})
	done := c.closed
	close(ready)
	c.ready = nil
	c.mu.Unlock()

	go c.readLoop(ws, gen)
	if c.cfg.PingInterval > 0 {
		go c.pingLoop(done)
	}

	c.logger.Info("connected", "url", c.cfg.URL)
	if c.cfg.OnConnect != nil {
		c.cfg.OnConnect()
	}
	return nil
}

// redial runs one scheduled reconnect attempt.
func (c *Connection) redial() {
	c.mu.Lock()
	if c.status != StatusReconnecting || c.ready == nil {
		c.mu.Unlock()
		return
	}
	ready := c.ready
	c.retry = nil
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DialTimeout)
	defer cancel()

	err := c.dialAttempt(ctx, ready)
	if err == nil {
		return
	}

	c.mu.Lock()
	if c.ready != ready || c.status != StatusReconnecting {
		c.mu.Unlock()
		return
	}
	c.attempts++
	attempts := c.attempts
	if c.cfg.MaxReconnects > 0 && attempts >= c.cfg.MaxReconnects {
		c.status = StatusClosed
		close(ready)
		c.ready = nil
		c.mu.Unlock()

		c.logger.Error("reconnect attempts exhausted",
			"attempts", attempts,
			"error", err,
		)
		if c.cfg.OnError != nil {
			c.cfg.OnError(err)
		}
		return
	}
	c.retry = time.AfterFunc(c.cfg.ReconnectInterval, c.redial)
	c.mu.Unlock()

	c.logger.Warn("reconnect failed",
		"attempt", attempts,
		"error", err,
	)
}

// readLoop processes inbound frames one at a time, in arrival order, until
// the transport drops.
func (c *Connection) readLoop(ws *websocket.Conn, gen uint64) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.handleClose(gen, err)
			return
		}
		c.dispatch(data)
	}
}

// handleClose runs when a transport reports closure. gen identifies the
// transport the event came from; events from a transport that was already
// force-closed are stale and ignored. For the live transport: in-flight
// requests fail, every listener gets one terminal CLOSE/"socket closed"
// notification, all correlation state is cleared, and, unless the closure
// was solicited by Close, a reconnect is scheduled after the fixed interval.
func (c *Connection) handleClose(gen uint64, cause error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	solicited := c.status == StatusClosed
	ws := c.ws
	c.ws = nil
	c.gen++
	closed := c.closed
	c.closed = nil
	pending, listeners := c.resetLocked()
	if !solicited {
		c.status = StatusReconnecting
		c.ready = make(chan struct{})
		c.retry = time.AfterFunc(c.cfg.ReconnectInterval, c.redial)
	}
	c.mu.Unlock()

	if ws != nil {
		ws.Close()
	}
	failPending(pending)
	notifyClosed(listeners, CloseSocketClosed)
	if closed != nil {
		close(closed)
	}

	if !solicited {
		c.logger.Warn("connection lost, reconnecting",
			"delay", c.cfg.ReconnectInterval,
			"error", cause,
		)
		if c.cfg.OnClose != nil {
			c.cfg.OnClose()
		}
	}
}

// dispatch classifies one inbound frame. Push notifications go to the
// subscription router, direct replies to the pending caller, anything else
// is dropped.
func (c *Connection) dispatch(data []byte) {
	if note, ok := decodeNotification(data); ok {
		c.dispatchNotification(note)
		return
	}

	var resp response
	if err := json.Unmarshal(data, &resp); err != nil || resp.ID == 0 {
		c.logger.Debug("dropping unroutable frame", "size", len(data))
		return
	}
	c.routeReply(resp)
}

// routeReply hands a direct reply to the caller awaiting its id. The pending
// entry is removed unconditionally; a second reply for the same id has
// nowhere to land.
func (c *Connection) routeReply(resp response) {
	c.mu.Lock()
	ch, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("dropping reply with no pending request", "id", resp.ID)
		return
	}
	ch <- resp
}

// dispatchNotification fans a notification out to the listeners registered
// for its subscription id, or buffers it when there are none. Fan-out is
// concurrent across listeners but awaited as a unit, so frames cannot
// reorder relative to each other.
func (c *Connection) dispatchNotification(note Notification) {
	c.mu.Lock()
	handlers := c.listeners[note.ID]
	if len(handlers) == 0 {
		buf := c.buffered[note.ID]
		if c.cfg.BufferLimit > 0 && len(buf) >= c.cfg.BufferLimit {
			buf = buf[1:]
			c.logger.Warn("early-arrival buffer full, dropping oldest",
				"live_id", note.ID,
				"limit", c.cfg.BufferLimit,
			)
		}
		c.buffered[note.ID] = append(buf, note)
		c.mu.Unlock()
		return
	}
	snapshot := make([]NotificationHandler, len(handlers))
	copy(snapshot, handlers)
	c.mu.Unlock()

	var wg sync.WaitGroup
	for _, fn := range snapshot {
		wg.Add(1)
		go func(fn NotificationHandler) {
			defer wg.Done()
			fn(note)
		}(fn)
	}
	wg.Wait()
}

// pingLoop issues keepalive ping RPCs until the transport drops.
func (c *Connection) pingLoop(done <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), c.cfg.PingInterval)
			_, err := c.Send(ctx, "ping")
			cancel()
			if err != nil {
				c.logger.Debug("keepalive ping failed", "error", err)
			}
		}
	}
}

// resetLocked snapshots and clears correlator, router and buffer state in
// one step. Caller holds mu.
func (c *Connection) resetLocked() (map[int64]chan response, map[string][]NotificationHandler) {
	pending := c.pending
	listeners := c.listeners
	c.pending = make(map[int64]chan response)
	c.listeners = make(map[string][]NotificationHandler)
	c.buffered = make(map[string][]Notification)
	return pending, listeners
}

func (c *Connection) removePending(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// failPending wakes every caller still awaiting a reply; they observe
// ErrConnectionClosed.
func failPending(pending map[int64]chan response) {
	for _, ch := range pending {
		close(ch)
	}
}

// notifyClosed delivers one terminal CLOSE notification per listener.
func notifyClosed(listeners map[string][]NotificationHandler, detail string) {
	for id, handlers := range listeners {
		note := Notification{ID: id, Action: ActionClose, Detail: detail}
		for _, fn := range handlers {
			fn(note)
		}
	}
}
