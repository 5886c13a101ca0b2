package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codefionn/personachat/internal/logger"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 65536
)

// Client is one WebSocket connection.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan *WebMessage
	srv  *Server
}

// NewClient wraps an upgraded connection.
func NewClient(hub *Hub, conn *websocket.Conn, srv *Server) *Client {
	id, _ := generateClientID()
	return &Client{
		id:   id,
		hub:  hub,
		conn: conn,
		send: make(chan *WebMessage, 256),
		srv:  srv,
	}
}

// ReadPump reads client commands until the connection drops.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Error("WebSocket read error: %v", err)
			}
			break
		}

		var msg WebMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			logger.Error("Failed to unmarshal message: %v", err)
			continue
		}
		c.handleMessage(&msg)
	}
}

// WritePump writes queued events and keepalive pings to the connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				logger.Error("WebSocket write error: %v", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage dispatches one client command onto the shared command layer.
func (c *Client) handleMessage(msg *WebMessage) {
	switch msg.Type {
	case CommandSend:
		c.srv.dispatchSend(msg.Text)
	case CommandRegenerate:
		c.srv.dispatchRegenerate()
	case CommandSwipeLeft:
		if err := c.srv.engine.SwipeLeft(); err != nil {
			c.srv.broadcastError(err)
		}
	case CommandSwipeRight:
		c.srv.dispatchSwipeRight()
	case CommandImpersonate:
		c.srv.dispatchImpersonate()
	case CommandStop:
		c.srv.engine.Abort()
	case CommandDeleteLast:
		if err := c.srv.engine.DeleteLastTurn(); err != nil {
			c.srv.broadcastError(err)
		}
	default:
		logger.Warn("Unknown client command: %s", msg.Type)
	}
}

func generateClientID() (string, error) {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// background returns the context generations run on. Client commands outlive
// the WebSocket request; aborts go through engine.Abort.
func background() context.Context {
	return context.Background()
}
