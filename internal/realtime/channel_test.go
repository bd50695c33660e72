package realtime

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	apperrors "github.com/mariek/littlefeed/internal/errors"
	"github.com/mariek/littlefeed/internal/models"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// newWSServer upgrades every request and hands the socket plus the handshake
// query to the handler.
func newWSServer(t *testing.T, handler func(conn *websocket.Conn, query url.Values)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		handler(conn, r.URL.Query())
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitForState(t *testing.T, c *Channel, want State) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("channel never reached state %q, stuck at %q", want, c.State())
}

func TestConnectSendsIdentityParams(t *testing.T) {
	gotQuery := make(chan url.Values, 1)
	srv := newWSServer(t, func(conn *websocket.Conn, query url.Values) {
		gotQuery <- query
		conn.ReadMessage()
		conn.Close()
	})

	ch := New(Options{
		URL:      wsURL(srv),
		Token:    "tok-123",
		UserID:   "user-1",
		DeviceID: "device-a",
	})
	ch.Connect(context.Background())
	defer ch.Close()
	waitForState(t, ch, StateConnected)

	select {
	case q := <-gotQuery:
		if q.Get("token") != "tok-123" {
			t.Errorf("token = %q, want tok-123", q.Get("token"))
		}
		if q.Get("userId") != "user-1" {
			t.Errorf("userId = %q, want user-1", q.Get("userId"))
		}
		if q.Get("deviceId") != "device-a" {
			t.Errorf("deviceId = %q, want device-a", q.Get("deviceId"))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw a handshake")
	}
}

func TestInboundMessageDispatched(t *testing.T) {
	srv := newWSServer(t, func(conn *websocket.Conn, _ url.Values) {
		conn.WriteJSON(models.Message{
			Type:      models.EventFeedingAdded,
			DeviceID:  "device-b",
			MessageID: "m1",
		})
		conn.ReadMessage()
		conn.Close()
	})

	ch := New(Options{URL: wsURL(srv), DeviceID: "device-a"})
	got := make(chan models.Message, 1)
	ch.Subscribe(func(msg models.Message) { got <- msg })
	ch.Connect(context.Background())
	defer ch.Close()

	select {
	case msg := <-got:
		if msg.Type != models.EventFeedingAdded {
			t.Errorf("type = %q, want %q", msg.Type, models.EventFeedingAdded)
		}
		if msg.DeviceID != "device-b" {
			t.Errorf("deviceId = %q, want device-b", msg.DeviceID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("listener never fired")
	}
}

func TestOwnDeviceEchoDropped(t *testing.T) {
	srv := newWSServer(t, func(conn *websocket.Conn, _ url.Values) {
		// Echo from this very device must be ignored; the follow-up from
		// another device must get through.
		conn.WriteJSON(models.Message{Type: models.EventFeedingAdded, DeviceID: "device-a", MessageID: "echo"})
		conn.WriteJSON(models.Message{Type: models.EventFeedingAdded, DeviceID: "device-b", MessageID: "real"})
		conn.ReadMessage()
		conn.Close()
	})

	ch := New(Options{URL: wsURL(srv), DeviceID: "device-a"})
	got := make(chan models.Message, 2)
	ch.Subscribe(func(msg models.Message) { got <- msg })
	ch.Connect(context.Background())
	defer ch.Close()

	select {
	case msg := <-got:
		if msg.MessageID != "real" {
			t.Fatalf("first delivered message = %q, want the non-echo one", msg.MessageID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("non-echo message never delivered")
	}
	select {
	case msg := <-got:
		t.Fatalf("unexpected second delivery: %+v", msg)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSendWhileDisconnectedIsNoop(t *testing.T) {
	ch := New(Options{URL: "ws://127.0.0.1:1/realtime", DeviceID: "device-a"})
	// Must not panic, block or queue.
	ch.Send(models.MessageTypeSyncRequest, map[string]any{"reason": "test"})
	if ch.State() != StateDisconnected {
		t.Fatalf("state = %q, want disconnected", ch.State())
	}
}

func TestSendStampsMessageIdentity(t *testing.T) {
	received := make(chan models.Message, 2)
	srv := newWSServer(t, func(conn *websocket.Conn, _ url.Values) {
		for {
			var msg models.Message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			received <- msg
		}
	})

	ch := New(Options{URL: wsURL(srv), UserID: "user-1", DeviceID: "device-a"})
	ch.Connect(context.Background())
	defer ch.Close()
	waitForState(t, ch, StateConnected)

	ch.Send(models.MessageTypeSyncRequest, map[string]any{"kind": "feeding"})
	ch.Send(models.MessageTypeSyncRequest, nil)

	var first, second models.Message
	for i, dst := range []*models.Message{&first, &second} {
		select {
		case msg := <-received:
			*dst = msg
		case <-time.After(2 * time.Second):
			t.Fatalf("message %d never arrived", i)
		}
	}
	if first.DeviceID != "device-a" || first.UserID != "user-1" {
		t.Errorf("identity = (%q, %q), want (device-a, user-1)", first.DeviceID, first.UserID)
	}
	if first.MessageID == "" || second.MessageID == "" {
		t.Error("messages missing ids")
	}
	if first.MessageID == second.MessageID {
		t.Errorf("message ids must be fresh per send, both %q", first.MessageID)
	}
	if first.Timestamp == 0 {
		t.Error("timestamp not stamped")
	}
}

func TestReconnectAfterServerDrop(t *testing.T) {
	var mu sync.Mutex
	dials := 0
	srv := newWSServer(t, func(conn *websocket.Conn, _ url.Values) {
		mu.Lock()
		dials++
		n := dials
		mu.Unlock()
		if n == 1 {
			// Drop the first connection immediately.
			conn.Close()
			return
		}
		conn.ReadMessage()
		conn.Close()
	})

	ch := New(Options{URL: wsURL(srv), DeviceID: "device-a", BackoffBase: 10 * time.Millisecond})
	ch.Connect(context.Background())
	defer ch.Close()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := dials
		mu.Unlock()
		if n >= 2 && ch.State() == StateConnected {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("channel never reconnected, dials=%d state=%q", dials, ch.State())
}

func TestGivesUpAfterAttemptCeiling(t *testing.T) {
	states := make(chan State, 32)
	var failErr error
	var mu sync.Mutex

	ch := New(Options{
		URL:         "ws://127.0.0.1:1/realtime",
		DeviceID:    "device-a",
		BackoffBase: time.Millisecond,
		MaxAttempts: 5,
	})
	ch.SetStatusListener(func(state State, err error) {
		if state == StateFailed {
			mu.Lock()
			failErr = err
			mu.Unlock()
		}
		states <- state
	})
	ch.Connect(context.Background())
	defer ch.Close()

	waitForState(t, ch, StateFailed)

	mu.Lock()
	err := failErr
	mu.Unlock()
	if err == nil {
		t.Fatal("failed state carried no error")
	}
	if !apperrors.Is(err, apperrors.ErrReconnectGaveUp) {
		t.Errorf("error code = %v, want ErrReconnectGaveUp", err)
	}
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		t.Error("error is not an AppError")
	}
}

func TestConnectWhileConnectedReplacesManager(t *testing.T) {
	received := make(chan models.Message, 8)
	var mu sync.Mutex
	dials := 0
	srv := newWSServer(t, func(conn *websocket.Conn, _ url.Values) {
		mu.Lock()
		dials++
		mu.Unlock()
		for {
			var msg models.Message
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			received <- msg
		}
	})

	ch := New(Options{URL: wsURL(srv), UserID: "user-1", DeviceID: "device-a"})
	ch.Connect(context.Background())
	waitForState(t, ch, StateConnected)

	// A connectivity flip re-triggers Connect on a live channel. The old
	// manager must be fully torn down and the replacement connection must work.
	ch.Connect(context.Background())

	deadline := time.Now().Add(3 * time.Second)
	delivered := false
	for !delivered && time.Now().Before(deadline) {
		ch.Send(models.MessageTypeSyncRequest, nil)
		select {
		case <-received:
			delivered = true
		case <-time.After(50 * time.Millisecond):
		}
	}
	if !delivered {
		t.Fatal("send after replacing the connection never reached the server")
	}
	mu.Lock()
	n := dials
	mu.Unlock()
	if n != 2 {
		t.Errorf("dials = %d, want 2", n)
	}

	closed := make(chan struct{})
	go func() {
		ch.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(3 * time.Second):
		t.Fatal("Close hung after Connect replaced a live connection")
	}
	if ch.State() != StateDisconnected {
		t.Fatalf("state = %q, want disconnected", ch.State())
	}
}

func TestConnectAfterFailureRestartsBudget(t *testing.T) {
	srv := newWSServer(t, func(conn *websocket.Conn, _ url.Values) {
		conn.ReadMessage()
		conn.Close()
	})

	ch := New(Options{
		URL:         "ws://127.0.0.1:1/realtime",
		DeviceID:    "device-a",
		BackoffBase: time.Millisecond,
		MaxAttempts: 2,
	})
	ch.Connect(context.Background())
	waitForState(t, ch, StateFailed)

	// Explicit re-trigger against a reachable endpoint succeeds.
	ch.opts.URL = wsURL(srv)
	ch.Connect(context.Background())
	defer ch.Close()
	waitForState(t, ch, StateConnected)
}
