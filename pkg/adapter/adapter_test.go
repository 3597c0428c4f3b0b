package adapter

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"merilcat/pkg/signal"
)

type buses struct {
	events  *signal.Bus[[]byte]
	actions *signal.Bus[[]byte]
}

func newBuses(t *testing.T) buses {
	t.Helper()
	b := buses{events: signal.New[[]byte](), actions: signal.New[[]byte]()}
	t.Cleanup(func() {
		b.events.Close()
		b.actions.Close()
	})
	return b
}

// startServer serves the adapter through httptest and returns its URL.
func startServer(t *testing.T, b buses) string {
	t.Helper()
	srv := NewServer("", "/ws", b.events, b.actions)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func httpHandler(fn func(*websocket.Conn), up *websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fn(conn)
	}
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func recv(t *testing.T, p *signal.Port[[]byte]) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	frame, err := p.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	return string(frame)
}

func TestInboundFramesAreRoutedByEcho(t *testing.T) {
	b := newBuses(t)
	events := b.events.Port()
	actions := b.actions.Port()
	url := startServer(t, b)
	gw := dial(t, url)

	gw.WriteMessage(websocket.TextMessage, []byte(`{"post_type":"meta_event","meta_event_type":"heartbeat"}`))
	gw.WriteMessage(websocket.TextMessage, []byte(`not json`))
	gw.WriteMessage(websocket.BinaryMessage, []byte(`{"echo":"0"}`))
	gw.WriteMessage(websocket.TextMessage, []byte(`{"status":"ok","echo":"1"}`))

	if got := recv(t, events); !strings.Contains(got, "heartbeat") {
		t.Errorf("event bus got %s", got)
	}
	if got := recv(t, actions); !strings.Contains(got, `"echo":"1"`) {
		t.Errorf("action bus got %s", got)
	}
	if n := events.Len(); n != 0 {
		t.Errorf("event bus holds %d unexpected frames", n)
	}
}

func TestOutboundFramesAreWritten(t *testing.T) {
	b := newBuses(t)
	url := startServer(t, b)
	gw := dial(t, url)

	// Wait until the adapter is reading the fan-in queues.
	time.Sleep(50 * time.Millisecond)

	sender := b.actions.Port()
	sender.Send([]byte(`{broken`))
	sender.Send([]byte(`{"action":"send_like","echo":"1"}`))

	gw.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := gw.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != `{"action":"send_like","echo":"1"}` {
		t.Errorf("gateway received %s", data)
	}
}

func TestFilteredActionsAreNotWritten(t *testing.T) {
	b := newBuses(t)
	b.actions.SetFilter(func(frame []byte) bool {
		return !strings.Contains(string(frame), `"echo":"stale"`)
	})
	sender := b.actions.Port()
	sender.Send([]byte(`{"action":"send_like","echo":"stale"}`))
	sender.Send([]byte(`{"action":"send_like","echo":"2"}`))

	url := startServer(t, b)
	gw := dial(t, url)
	gw.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := gw.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != `{"action":"send_like","echo":"2"}` {
		t.Errorf("gateway received %s", data)
	}
}

func TestNewerConnectionReplacesCurrent(t *testing.T) {
	b := newBuses(t)
	srv := NewServer("", "/ws", b.events, b.actions)

	var mu sync.Mutex
	var states []State
	srv.OnState(func(s State, _ string) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	first := dial(t, url)
	time.Sleep(50 * time.Millisecond)
	dial(t, url)

	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := first.ReadMessage(); err == nil {
		t.Fatal("first connection still open after replacement")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(states)
		mu.Unlock()
		if n >= 3 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	want := []State{StateConnected, StateDisconnected, StateConnected}
	if len(states) < 3 {
		t.Fatalf("states = %v", states)
	}
	for i, s := range want {
		if states[i] != s {
			t.Errorf("states[%d] = %s, want %s", i, states[i], s)
		}
	}
}

func TestRunReportsConnectionLost(t *testing.T) {
	b := newBuses(t)
	up := websocket.Upgrader{}
	result := make(chan error, 1)
	ts := httptest.NewServer(httpHandler(func(conn *websocket.Conn) {
		result <- New(conn, b.events, b.actions).Run(context.Background())
	}, &up))
	defer ts.Close()

	gw := dial(t, "ws"+strings.TrimPrefix(ts.URL, "http"))
	gw.Close()

	select {
	case err := <-result:
		if !errors.Is(err, ErrConnectionLost) {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after the peer closed")
	}
}

func TestClientRedials(t *testing.T) {
	b := newBuses(t)
	events := b.events.Port()

	var mu sync.Mutex
	accepted := 0
	up := websocket.Upgrader{}
	ts := httptest.NewServer(httpHandler(func(conn *websocket.Conn) {
		mu.Lock()
		accepted++
		n := accepted
		mu.Unlock()
		if n == 1 {
			conn.Close()
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"post_type":"meta_event","meta_event_type":"lifecycle"}`))
		time.Sleep(time.Second)
		conn.Close()
	}, &up))
	defer ts.Close()

	c := NewClient("ws"+strings.TrimPrefix(ts.URL, "http"), nil, b.events, b.actions)
	c.SetBackoff(10*time.Millisecond, 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	if got := recv(t, events); !strings.Contains(got, "lifecycle") {
		t.Errorf("event bus got %s", got)
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Client.Run did not stop on cancel")
	}
}

func TestValidateURL(t *testing.T) {
	for _, ok := range []string{"ws://127.0.0.1:3001", "wss://gw.example.com/ws"} {
		if err := ValidateURL(ok); err != nil {
			t.Errorf("ValidateURL(%q) = %v", ok, err)
		}
	}
	for _, bad := range []string{"", "http://x", "ws://"} {
		if err := ValidateURL(bad); err == nil {
			t.Errorf("ValidateURL(%q) accepted", bad)
		}
	}
}
