package devserver

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mariek/littlefeed/internal/logging"
	"github.com/mariek/littlefeed/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub relays real-time messages between connected devices of the same
// account. It never echoes a message back to the device that sent it; the
// deviceId tag on each message is what makes that possible.
type Hub struct {
	clients    map[*wsClient]bool
	broadcast  chan models.Message
	register   chan *wsClient
	unregister chan *wsClient
	stop       chan struct{}
	done       chan struct{}
}

// NewHub creates a Hub; call Run in a goroutine.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan models.Message, 64),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Stop shuts the hub down and waits for Run to return. Call at most once,
// and only after the HTTP server has stopped accepting connections.
func (h *Hub) Stop() {
	close(h.stop)
	<-h.done
}

// Run owns the client set. All membership changes and fan-outs flow through
// the hub's channels, so no mutex is needed.
func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case <-h.stop:
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			logging.Debug("realtime client connected", map[string]any{
				"device_id": client.deviceID,
				"clients":   len(h.clients),
			})

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}

		case msg := <-h.broadcast:
			data, err := json.Marshal(msg)
			if err != nil {
				continue
			}
			for client := range h.clients {
				// Same account only, and never back to the sender's device.
				if client.deviceID == msg.DeviceID {
					continue
				}
				if msg.UserID != "" && client.userID != "" && client.userID != msg.UserID {
					continue
				}
				select {
				case client.send <- data:
				default:
					delete(h.clients, client)
					close(client.send)
				}
			}
		}
	}
}

// wsClient is one connected device socket.
type wsClient struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	deviceID string
	userID   string
}

// handleWebsocket upgrades the connection and starts the pumps. Identity
// comes from the handshake query parameters.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	userID := query.Get("userId")

	if s.secret != "" {
		sub, err := parseToken(s.secret, query.Get("token"))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		userID = sub
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("websocket upgrade failed", map[string]any{"error": err.Error()})
		return
	}

	client := &wsClient{
		hub:      s.hub,
		conn:     conn,
		send:     make(chan []byte, 16),
		deviceID: query.Get("deviceId"),
		userID:   userID,
	}
	s.hub.register <- client

	go client.writePump()
	go client.readPump()

	// Handshake ack so clients can distinguish "socket open" from "relay ready".
	ack := models.Message{
		Type:      models.MessageTypeConnected,
		UserID:    client.userID,
		Timestamp: time.Now().Unix(),
	}
	if data, err := json.Marshal(ack); err == nil {
		select {
		case client.send <- data:
		default:
		}
	}
}

func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg models.Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Debug("realtime read error", map[string]any{"error": err.Error()})
			}
			return
		}
		// Stamp identity from the connection rather than trusting the body.
		if msg.DeviceID == "" {
			msg.DeviceID = c.deviceID
		}
		if c.userID != "" {
			msg.UserID = c.userID
		}
		c.hub.broadcast <- msg
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
