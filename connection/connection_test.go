package connection

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// mockWSServer creates a test websocket server.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// rpcEcho answers every request with the given result payload.
func rpcEcho(result string) func(*websocket.Conn) {
	return func(conn *websocket.Conn) {
		for {
			var req request
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			reply := fmt.Sprintf(`{"id":%d,"result":%s}`, req.ID, result)
			if err := conn.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
				return
			}
		}
	}
}

func writeNotification(conn *websocket.Conn, liveID string, action Action, result string) error {
	frame := fmt.Sprintf(`{"result":{"id":%q,"action":%q,"result":%s}}`, liveID, action, result)
	return conn.WriteMessage(websocket.TextMessage, []byte(frame))
}

// recorder collects notifications delivered to one listener.
type recorder struct {
	mu    sync.Mutex
	notes []Notification
}

func (r *recorder) handle(note Notification) {
	r.mu.Lock()
	r.notes = append(r.notes, note)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.notes))
	copy(out, r.notes)
	return out
}

func testConfig(url string) Config {
	return Config{
		URL:               url,
		DialTimeout:       2 * time.Second,
		WriteTimeout:      time.Second,
		ReconnectInterval: 50 * time.Millisecond,
	}
}

func TestConnection_OpenAndSend(t *testing.T) {
	server := mockWSServer(t, rpcEcho(`"pong"`))
	defer server.Close()

	conn, err := New(testConfig(wsURL(server)), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if got := conn.Status(); got != StatusClosed {
		t.Errorf("Status = %v before Open, want CLOSED", got)
	}

	if err := conn.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer conn.Close()

	if got := conn.Status(); got != StatusOpen {
		t.Errorf("Status = %v after Open, want OPEN", got)
	}

	result, err := conn.Send(context.Background(), "ping")
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if string(result) != `"pong"` {
		t.Errorf("result = %s, want \"pong\"", result)
	}
}

func TestConnection_SendNotConnected(t *testing.T) {
	conn, err := New(testConfig("ws://localhost:12345"), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	_, err = conn.Send(context.Background(), "ping")
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestConnection_SendQueuesBehindHandshake(t *testing.T) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Slow handshake: the upgrade only starts after a delay.
		time.Sleep(150 * time.Millisecond)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		rpcEcho(`"pong"`)(conn)
	}))
	defer server.Close()

	conn, err := New(testConfig(wsURL(server)), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	openDone := make(chan error, 1)
	go func() {
		openDone <- conn.Open(context.Background())
	}()

	// Give Open a head start so the ready signal is armed, then send while
	// the handshake is still in flight.
	time.Sleep(20 * time.Millisecond)

	result, err := conn.Send(context.Background(), "ping")
	if err != nil {
		t.Fatalf("Send during handshake failed: %v", err)
	}
	if string(result) != `"pong"` {
		t.Errorf("result = %s, want \"pong\"", result)
	}

	if err := <-openDone; err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	conn.Close()
}

func TestConnection_OutOfOrderReplies(t *testing.T) {
	// The server withholds the reply to the first request until a second
	// request arrives, then answers in reverse order.
	server := mockWSServer(t, func(conn *websocket.Conn) {
		var reqs []request
		for len(reqs) < 2 {
			var req request
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			reqs = append(reqs, req)
		}
		for i := len(reqs) - 1; i >= 0; i-- {
			reply := fmt.Sprintf(`{"id":%d,"result":"reply-%s"}`, reqs[i].ID, reqs[i].Method)
			conn.WriteMessage(websocket.TextMessage, []byte(reply))
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	conn, err := New(testConfig(wsURL(server)), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := conn.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer conn.Close()

	type result struct {
		method string
		data   string
		err    error
	}
	results := make(chan result, 2)
	for _, method := range []string{"first", "second"} {
		go func(method string) {
			data, err := conn.Send(context.Background(), method)
			results <- result{method: method, data: string(data), err: err}
		}(method)
		// Keep request ids in a deterministic order.
		time.Sleep(20 * time.Millisecond)
	}

	for i := 0; i < 2; i++ {
		select {
		case res := <-results:
			if res.err != nil {
				t.Fatalf("Send %s failed: %v", res.method, res.err)
			}
			want := fmt.Sprintf("%q", "reply-"+res.method)
			if res.data != want {
				t.Errorf("Send %s = %s, want %s", res.method, res.data, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for replies")
		}
	}
}

func TestConnection_EarlyArrivalsReplayInOrder(t *testing.T) {
	pushed := make(chan struct{})
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for i := 1; i <= 3; i++ {
			writeNotification(conn, "live-1", ActionCreate, fmt.Sprintf(`{"n":%d}`, i))
		}
		close(pushed)
		rpcEcho(`null`)(conn)
	})
	defer server.Close()

	conn, err := New(testConfig(wsURL(server)), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := conn.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer conn.Close()

	<-pushed
	// Let the pushed notifications reach the buffer.
	time.Sleep(100 * time.Millisecond)

	var first recorder
	conn.ListenLive("live-1", first.handle)

	// Replay happens before ListenLive returns.
	notes := first.snapshot()
	if len(notes) != 3 {
		t.Fatalf("replayed %d notifications, want 3", len(notes))
	}
	for i, note := range notes {
		want := fmt.Sprintf(`{"n":%d}`, i+1)
		if string(note.Result) != want {
			t.Errorf("notification %d: result = %s, want %s", i, note.Result, want)
		}
		if note.Action != ActionCreate {
			t.Errorf("notification %d: action = %s, want CREATE", i, note.Action)
		}
	}

	// The buffer is drained and deleted: a second listener sees no replay.
	var second recorder
	conn.ListenLive("live-1", second.handle)
	if n := len(second.snapshot()); n != 0 {
		t.Errorf("second listener replayed %d notifications, want 0", n)
	}
}

func TestConnection_FanOutDuplicateListeners(t *testing.T) {
	ready := make(chan struct{})
	server := mockWSServer(t, func(conn *websocket.Conn) {
		<-ready
		writeNotification(conn, "live-1", ActionUpdate, `{"v":1}`)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	conn, err := New(testConfig(wsURL(server)), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := conn.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer conn.Close()

	// The same handler registered twice is invoked twice per notification.
	var rec recorder
	conn.ListenLive("live-1", rec.handle)
	conn.ListenLive("live-1", rec.handle)
	close(ready)

	time.Sleep(100 * time.Millisecond)

	if n := len(rec.snapshot()); n != 2 {
		t.Errorf("handler invoked %d times, want 2", n)
	}
}

func TestConnection_Kill(t *testing.T) {
	var killSeen atomic.Bool
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			var req request
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			if req.Method == "kill" {
				killSeen.Store(true)
			}
			reply := fmt.Sprintf(`{"id":%d,"result":null}`, req.ID)
			conn.WriteMessage(websocket.TextMessage, []byte(reply))
		}
	})
	defer server.Close()

	conn, err := New(testConfig(wsURL(server)), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := conn.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer conn.Close()

	var rec recorder
	var killSentEarly atomic.Bool
	conn.ListenLive("live-1", func(note Notification) {
		if killSeen.Load() {
			killSentEarly.Store(true)
		}
		rec.handle(note)
	})

	if err := conn.Kill(context.Background(), "live-1"); err != nil {
		t.Fatalf("Kill failed: %v", err)
	}

	notes := rec.snapshot()
	if len(notes) != 1 {
		t.Fatalf("listener received %d notifications, want 1", len(notes))
	}
	if notes[0].Action != ActionClose || notes[0].Detail != CloseQueryKilled {
		t.Errorf("terminal notification = %s/%s, want CLOSE/%s", notes[0].Action, notes[0].Detail, CloseQueryKilled)
	}
	if killSentEarly.Load() {
		t.Error("kill request reached the server before listeners were notified")
	}
	if !killSeen.Load() {
		t.Error("kill request never reached the server")
	}
}

func TestConnection_NotificationsAfterKillAreBuffered(t *testing.T) {
	notify := make(chan struct{})
	server := mockWSServer(t, func(conn *websocket.Conn) {
		go func() {
			<-notify
			writeNotification(conn, "live-1", ActionDelete, `{"gone":true}`)
		}()
		rpcEcho(`null`)(conn)
	})
	defer server.Close()

	conn, err := New(testConfig(wsURL(server)), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := conn.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer conn.Close()

	var rec recorder
	conn.ListenLive("live-1", rec.handle)
	if err := conn.Kill(context.Background(), "live-1"); err != nil {
		t.Fatalf("Kill failed: %v", err)
	}

	// A straggler notification arriving after the kill must not reach the
	// dead listener; it starts a fresh early-arrival buffer.
	close(notify)
	time.Sleep(100 * time.Millisecond)

	if n := len(rec.snapshot()); n != 1 {
		t.Errorf("killed listener received %d notifications, want only the terminal one", n)
	}

	var late recorder
	conn.ListenLive("live-1", late.handle)
	notes := late.snapshot()
	if len(notes) != 1 {
		t.Fatalf("late listener replayed %d notifications, want 1", len(notes))
	}
	if notes[0].Action != ActionDelete {
		t.Errorf("late notification action = %s, want DELETE", notes[0].Action)
	}
}

func TestConnection_UnsolicitedCloseResetsState(t *testing.T) {
	var conns atomic.Int32
	server := mockWSServer(t, func(conn *websocket.Conn) {
		if conns.Add(1) == 1 {
			// Drop the first transport as soon as a request arrives,
			// leaving the caller in flight.
			conn.ReadMessage()
			return
		}
		rpcEcho(`"pong"`)(conn)
	})
	defer server.Close()

	var connects, closes atomic.Int32
	cfg := testConfig(wsURL(server))
	cfg.ReconnectInterval = 200 * time.Millisecond
	cfg.OnConnect = func() { connects.Add(1) }
	cfg.OnClose = func() { closes.Add(1) }

	conn, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := conn.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer conn.Close()

	var rec recorder
	conn.ListenLive("live-1", rec.handle)

	sendErr := make(chan error, 1)
	go func() {
		_, err := conn.Send(context.Background(), "query")
		sendErr <- err
	}()

	select {
	case err := <-sendErr:
		if !errors.Is(err, ErrConnectionClosed) {
			t.Errorf("in-flight Send error = %v, want ErrConnectionClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight Send never returned after transport drop")
	}

	if got := conn.Status(); got != StatusReconnecting {
		t.Errorf("Status = %v after unsolicited close, want RECONNECTING", got)
	}

	// Pending callers wake before listeners are notified; give the close
	// handler a moment to finish delivering terminal notifications.
	time.Sleep(50 * time.Millisecond)

	notes := rec.snapshot()
	if len(notes) != 1 {
		t.Fatalf("listener received %d terminal notifications, want 1", len(notes))
	}
	if notes[0].Action != ActionClose || notes[0].Detail != CloseSocketClosed {
		t.Errorf("terminal notification = %s/%s, want CLOSE/%s", notes[0].Action, notes[0].Detail, CloseSocketClosed)
	}
	if closes.Load() != 1 {
		t.Errorf("OnClose fired %d times, want 1", closes.Load())
	}

	// The reconnect succeeds after the fixed delay and the listener maps
	// were cleared: nothing is delivered to the old listener anymore.
	time.Sleep(400 * time.Millisecond)

	if got := conn.Status(); got != StatusOpen {
		t.Errorf("Status = %v after reconnect, want OPEN", got)
	}
	if connects.Load() != 2 {
		t.Errorf("OnConnect fired %d times, want 2", connects.Load())
	}

	if _, err := conn.Send(context.Background(), "ping"); err != nil {
		t.Errorf("Send after reconnect failed: %v", err)
	}
}

func TestConnection_ExplicitCloseDoesNotReconnect(t *testing.T) {
	var conns atomic.Int32
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conns.Add(1)
		rpcEcho(`null`)(conn)
	})
	defer server.Close()

	var closes atomic.Int32
	cfg := testConfig(wsURL(server))
	cfg.OnClose = func() { closes.Add(1) }

	conn, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := conn.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if err := conn.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if got := conn.Status(); got != StatusClosed {
		t.Errorf("Status = %v after Close, want CLOSED", got)
	}
	if closes.Load() != 1 {
		t.Errorf("OnClose fired %d times, want 1", closes.Load())
	}

	// No reconnect attempt after several reconnect intervals.
	time.Sleep(300 * time.Millisecond)
	if n := conns.Load(); n != 1 {
		t.Errorf("server saw %d connections, want 1", n)
	}
	if got := conn.Status(); got != StatusClosed {
		t.Errorf("Status = %v, want CLOSED to stick", got)
	}
}

func TestConnection_CloseWithUnknownCode(t *testing.T) {
	conn, err := New(testConfig("ws://localhost:12345"), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := conn.CloseWithCode(4999); !errors.Is(err, ErrUnknownCloseCode) {
		t.Errorf("CloseWithCode(4999) = %v, want ErrUnknownCloseCode", err)
	}
}

func TestConnection_CloseWithoutTransport(t *testing.T) {
	var closes atomic.Int32
	cfg := testConfig("ws://localhost:12345")
	cfg.OnClose = func() { closes.Add(1) }

	conn, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := conn.Close(); err != nil {
		t.Errorf("Close without transport failed: %v", err)
	}
	if closes.Load() != 1 {
		t.Errorf("OnClose fired %d times, want 1", closes.Load())
	}
}

func TestConnection_ReconnectGivesUp(t *testing.T) {
	drop := make(chan struct{})
	server := mockWSServer(t, func(conn *websocket.Conn) {
		<-drop
	})

	var errs atomic.Int32
	cfg := testConfig(wsURL(server))
	cfg.ReconnectInterval = 20 * time.Millisecond
	cfg.MaxReconnects = 2
	cfg.DialTimeout = 200 * time.Millisecond
	cfg.OnError = func(error) { errs.Add(1) }

	conn, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := conn.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	// Take the listener away for good, then drop the live transport; the
	// bounded retry loop must settle on CLOSED and report through the
	// error hook.
	server.Close()
	close(drop)

	deadline := time.After(3 * time.Second)
	for conn.Status() != StatusClosed {
		select {
		case <-deadline:
			t.Fatalf("Status = %v, never settled on CLOSED", conn.Status())
		case <-time.After(50 * time.Millisecond):
		}
	}

	if errs.Load() == 0 {
		t.Error("OnError never fired after reconnect attempts ran out")
	}
	if _, err := conn.Send(context.Background(), "ping"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send after give-up = %v, want ErrNotConnected", err)
	}
}

func TestConnection_LiveNotificationsChannel(t *testing.T) {
	ready := make(chan struct{})
	server := mockWSServer(t, func(conn *websocket.Conn) {
		go func() {
			<-ready
			writeNotification(conn, "live-1", ActionCreate, `{"n":1}`)
			writeNotification(conn, "live-1", ActionUpdate, `{"n":2}`)
		}()
		rpcEcho(`null`)(conn)
	})
	defer server.Close()

	conn, err := New(testConfig(wsURL(server)), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := conn.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer conn.Close()

	ch, err := conn.LiveNotifications("live-1")
	if err != nil {
		t.Fatalf("LiveNotifications failed: %v", err)
	}
	close(ready)

	for i, want := range []Action{ActionCreate, ActionUpdate} {
		select {
		case note := <-ch:
			if note.Action != want {
				t.Errorf("notification %d: action = %s, want %s", i, note.Action, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for notifications")
		}
	}

	if err := conn.Kill(context.Background(), "live-1"); err != nil {
		t.Fatalf("Kill failed: %v", err)
	}

	select {
	case note, ok := <-ch:
		if !ok {
			t.Fatal("channel closed before the terminal notification")
		}
		if note.Action != ActionClose || note.Detail != CloseQueryKilled {
			t.Errorf("terminal notification = %s/%s, want CLOSE/%s", note.Action, note.Detail, CloseQueryKilled)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for terminal notification")
	}

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected the channel to close after the terminal notification")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for channel close")
	}
}

func TestConnection_DoubleClose(t *testing.T) {
	server := mockWSServer(t, rpcEcho(`null`))
	defer server.Close()

	conn, err := New(testConfig(wsURL(server)), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := conn.Open(context.Background()); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	if err := conn.Close(); err != nil {
		t.Errorf("first Close failed: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestConnection_ReopenAfterClose(t *testing.T) {
	server := mockWSServer(t, rpcEcho(`"pong"`))
	defer server.Close()

	conn, err := New(testConfig(wsURL(server)), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := conn.Open(context.Background()); err != nil {
			t.Fatalf("Open %d failed: %v", i, err)
		}
		if _, err := conn.Send(context.Background(), "ping"); err != nil {
			t.Fatalf("Send %d failed: %v", i, err)
		}
		if err := conn.Close(); err != nil {
			t.Fatalf("Close %d failed: %v", i, err)
		}
	}
}
