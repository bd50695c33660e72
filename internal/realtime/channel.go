// Package realtime maintains the live push connection between devices.
//
// The channel only signals that something changed elsewhere; authoritative
// data always travels through the REST transport. Outbound messages are
// best-effort and never queued.
package realtime

import (
	"context"
	"fmt"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	apperrors "github.com/mariek/littlefeed/internal/errors"
	"github.com/mariek/littlefeed/internal/logging"
	"github.com/mariek/littlefeed/internal/models"
)

// State is the channel's connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	// StateFailed means the reconnect attempt ceiling was reached; no further
	// attempts happen until the next explicit Connect.
	StateFailed State = "failed"
)

// StatusListener observes connection state transitions. The error is non-nil
// only for the failed state.
type StatusListener func(state State, err error)

// MessageListener receives inbound real-time messages that passed the
// self-echo filter.
type MessageListener func(models.Message)

// Options configures a Channel.
type Options struct {
	// URL is the websocket endpoint, e.g. ws://host/realtime.
	URL string
	// Token, UserID and DeviceID are presented as connection parameters on
	// every (re)connect handshake.
	Token    string
	UserID   string
	DeviceID string
	// BackoffBase seeds the reconnect backoff (default 1s, doubling).
	BackoffBase time.Duration
	// MaxAttempts caps consecutive failed dials before giving up (default 5).
	MaxAttempts int
}

// Channel is the persistent push connection for one device.
type Channel struct {
	opts   Options
	dialer *websocket.Dialer

	mu        sync.Mutex
	state     State
	conn      *websocket.Conn
	writeMu   sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	wg        sync.WaitGroup
	statusFn  StatusListener
	nextID    int
	listeners map[int]MessageListener
	entropy   *rand.Rand
}

// New creates a disconnected Channel.
func New(opts Options) *Channel {
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	return &Channel{
		opts:      opts,
		dialer:    websocket.DefaultDialer,
		state:     StateDisconnected,
		listeners: make(map[int]MessageListener),
		entropy:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetStatusListener registers the status observer. Only one is kept; the
// orchestrator multiplexes further if needed.
func (c *Channel) SetStatusListener(fn StatusListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statusFn = fn
}

// Subscribe registers a message listener and returns an unsubscribe token.
func (c *Channel) Subscribe(fn MessageListener) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.listeners[c.nextID] = fn
	return c.nextID
}

// Unsubscribe removes a message listener.
func (c *Channel) Unsubscribe(token int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.listeners, token)
}

// Connect starts the connection manager. Explicit triggers (connectivity
// regained, app foregrounded) call Connect again after a Failed state to
// restart the attempt budget. Calling Connect while already running replaces
// the previous manager.
func (c *Channel) Connect(ctx context.Context) {
	// Tear the previous manager all the way down before starting a new one:
	// cancelling the context alone leaves its read loop blocked on the socket.
	// Cancel and close under the same lock that guards conn, so the old run
	// cannot slip a freshly dialed connection past the teardown.
	c.mu.Lock()
	prevCancel := c.cancel
	prevDone := c.done
	if prevCancel != nil {
		prevCancel()
		if c.conn != nil {
			c.conn.Close()
		}
	}
	c.mu.Unlock()
	if prevCancel != nil {
		<-prevDone
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.mu.Lock()
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run(runCtx, done)
}

// Close stops the manager and closes the socket. No further reconnect
// attempts occur until re-initialized via Connect.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	c.wg.Wait()
	c.setState(StateDisconnected, nil)
}

// Send broadcasts a message on the channel: fresh per-message id, this
// device's id, account identity and a timestamp. Silently no-ops when not
// connected; real-time messages are never queued durably.
func (c *Channel) Send(msgType string, data map[string]any) {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected
	msgID := ulid.MustNew(ulid.Timestamp(time.Now()), c.entropy).String()
	c.mu.Unlock()

	if !connected || conn == nil {
		return
	}

	msg := models.Message{
		Type:      msgType,
		Data:      data,
		UserID:    c.opts.UserID,
		Timestamp: time.Now().Unix(),
		DeviceID:  c.opts.DeviceID,
		MessageID: msgID,
	}

	c.writeMu.Lock()
	err := conn.WriteJSON(msg)
	c.writeMu.Unlock()
	if err != nil {
		// Best-effort: the read loop notices the broken socket and reconnects.
		logging.Debug("realtime send failed", map[string]any{"type": msgType, "error": err.Error()})
	}
}

// run dials and reads until the context is cancelled or the attempt budget is
// exhausted. State machine: disconnected -> connecting -> connected; an
// unexpected close goes back to connecting after an exponential backoff.
func (c *Channel) run(ctx context.Context, done chan struct{}) {
	defer c.wg.Done()
	defer close(done)

	backoff := c.opts.BackoffBase
	attempts := 0

	for {
		if ctx.Err() != nil {
			return
		}

		c.setState(StateConnecting, nil)
		conn, resp, err := c.dialer.DialContext(ctx, c.handshakeURL(), nil)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			attempts++
			if attempts >= c.opts.MaxAttempts {
				giveUp := apperrors.Wrap(apperrors.ErrReconnectGaveUp,
					fmt.Sprintf("gave up after %d attempts", attempts), err)
				logging.ErrorWithCode("realtime channel gave up",
					string(apperrors.ErrReconnectGaveUp), err)
				c.setState(StateFailed, giveUp)
				return
			}
			logging.Debug("realtime dial failed, backing off", map[string]any{
				"attempt": attempts,
				"backoff": backoff.String(),
			})
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff *= 2
			continue
		}

		attempts = 0
		backoff = c.opts.BackoffBase

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		// Teardown may have raced the dial; it closed whatever conn it saw,
		// which might not have been this one.
		if ctx.Err() != nil {
			conn.Close()
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
			}
			c.mu.Unlock()
			return
		}
		c.setState(StateConnected, nil)

		c.readLoop(conn)

		c.mu.Lock()
		// A replacement manager may already own c.conn; only clear our own.
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		c.setState(StateDisconnected, nil)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
	}
}

// readLoop pumps inbound messages until the connection drops.
func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		var msg models.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Debug("realtime read error", map[string]any{"error": err.Error()})
			}
			return
		}
		c.dispatch(msg)
	}
}

// dispatch fans a message out to listeners. A message originating from this
// device is never acted upon, regardless of type: the server should not echo,
// but the transport boundary is untrusted.
func (c *Channel) dispatch(msg models.Message) {
	if msg.DeviceID == c.opts.DeviceID {
		return
	}

	c.mu.Lock()
	fns := make([]MessageListener, 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logging.Warn("realtime listener panicked",
						map[string]any{"type": msg.Type, "panic": r})
				}
			}()
			fn(msg)
		}()
	}
}

func (c *Channel) setState(state State, err error) {
	c.mu.Lock()
	changed := c.state != state
	c.state = state
	statusFn := c.statusFn
	c.mu.Unlock()

	if changed && statusFn != nil {
		statusFn(state, err)
	}
}

// handshakeURL attaches the identity parameters the server keys presence on.
func (c *Channel) handshakeURL() string {
	q := url.Values{}
	q.Set("token", c.opts.Token)
	q.Set("userId", c.opts.UserID)
	q.Set("deviceId", c.opts.DeviceID)
	return c.opts.URL + "?" + q.Encode()
}
