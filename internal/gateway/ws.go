// internal/gateway/ws.go
package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/quayside/browserpilot/internal/framehub"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = (wsPongWait * 9) / 10
	wsMaxMessageSize = 4 * 1024
	wsSendBuffer     = 8
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The gateway is same-operator tooling; auth happens in middleware.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsClient is one live-feed connection with decoupled read and write pumps.
type wsClient struct {
	conn   *websocket.Conn
	send   chan []byte
	logger *zap.Logger
}

// handleLive upgrades to a websocket and forwards the same stream records the
// ndjson endpoint produces. A slow client loses frames instead of backing up
// the hub.
func (s *Server) handleLive(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	fps := 0
	if raw := q.Get("fps"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			fps = n
		}
	}
	includeStatus := q.Get("status") == "1" || q.Get("status") == "true"

	conn, err := wsUpgrader.Upgrade(w, req, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed.", zap.Error(err))
		return
	}

	client := &wsClient{
		conn:   conn,
		send:   make(chan []byte, wsSendBuffer),
		logger: s.logger.Named("live"),
	}

	events, err := s.frames.Stream(req.Context(), framehub.StreamOptions{
		FPS:           fps,
		IncludeStatus: includeStatus,
	})
	if err != nil {
		client.logger.Warn("Failed to start live stream.", zap.Error(err))
		conn.Close()
		return
	}

	go client.writePump()
	go client.forward(events)
	client.readPump()
}

// forward turns hub events into outbound messages, dropping when the send
// buffer is full.
func (c *wsClient) forward(events <-chan framehub.StreamEvent) {
	defer close(c.send)
	for ev := range events {
		rec := streamRecord{Type: "frame", Frame: ev.Frame}
		if ev.Status != nil {
			rec.Status = ev.Status
		}
		msg, err := json.Marshal(rec)
		if err != nil {
			c.logger.Warn("Failed to marshal live event.", zap.Error(err))
			continue
		}
		select {
		case c.send <- msg:
		default:
			// Slow consumer, drop the frame.
		}
	}
}

// readPump drains inbound messages so control frames are processed, and tears
// the connection down when the client goes away. The feed is one-directional;
// inbound payloads are ignored.
func (c *wsClient) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(wsMaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("Live connection closed unexpectedly.", zap.Error(err))
			}
			return
		}
	}
}

// writePump delivers queued messages and keeps the connection alive with
// pings. Runs until the send channel closes or a write fails.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
