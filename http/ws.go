package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"knowyourcar/ml"
	"knowyourcar/monitoring"
	"knowyourcar/valuation"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsMaxMessage = 16 << 10
)

// MessageType 消息类型
type MessageType string

const (
	EstimateMessage MessageType = "estimate"
	ErrorMessage    MessageType = "error"
)

// wsMessage is one server reply on the live estimate socket.
type wsMessage struct {
	Type      MessageType         `json:"type"`
	RequestID string              `json:"request_id"`
	Data      *valuation.Estimate `json:"data,omitempty"`
	Error     string              `json:"error,omitempty"`
	Message   string              `json:"message,omitempty"`
}

// wsClient WebSocket客户端
type wsClient struct {
	conn     *websocket.Conn
	send     chan wsMessage
	done     chan struct{}
	clientID string
	server   *Server
}

// handleEstimateWS answers every JSON estimate request received on the
// socket with an estimate or error message, in order.
func (s *Server) handleEstimateWS(w http.ResponseWriter, r *http.Request) {
	// the upgrader writes its own response, so the id is passed explicitly
	header := http.Header{}
	header.Set("X-Request-ID", GetRequestID(r.Context()))
	conn, err := s.upgrader.Upgrade(w, r, header)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &wsClient{
		conn:     conn,
		send:     make(chan wsMessage, 16),
		done:     make(chan struct{}),
		clientID: GetRequestID(r.Context()),
		server:   s,
	}
	s.logger.Debug("websocket client connected", zap.String("client_id", client.clientID))

	go client.writePump()
	client.readPump()
}

// readPump WebSocket读取泵
func (c *wsClient) readPump() {
	defer func() {
		close(c.send)
		c.server.logger.Debug("websocket client disconnected", zap.String("client_id", c.clientID))
	}()

	c.conn.SetReadLimit(wsMaxMessage)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for seq := 1; ; seq++ {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.logger.Warn("websocket read error",
					zap.String("client_id", c.clientID),
					zap.Error(err))
			}
			return
		}
		select {
		case c.send <- c.answer(fmt.Sprintf("%s-%d", c.clientID, seq), data):
		case <-c.done:
			return
		}
	}
}

func (c *wsClient) answer(requestID string, data []byte) wsMessage {
	ctx, cancel := context.WithTimeout(context.Background(), wsWriteWait)
	defer cancel()

	start := time.Now()
	var est valuation.Estimate
	req, err := ml.ParseEstimateRequest(data)
	if err == nil {
		est, err = c.server.deps.Estimator.Estimate(ctx, requestID, req)
	}
	c.server.observe(monitoring.ChannelWebSocket, start, est, err)
	if err == nil {
		return wsMessage{Type: EstimateMessage, RequestID: requestID, Data: &est}
	}

	kind := ml.ErrorKind(err)
	msg := err.Error()
	if statusFor(kind) == http.StatusInternalServerError {
		c.server.logger.Error("live estimate failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		msg = "internal server error"
	}
	return wsMessage{Type: ErrorMessage, RequestID: requestID, Error: kind, Message: msg}
}

// writePump WebSocket写入泵
func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		close(c.done)
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			payload, err := json.Marshal(msg)
			if err != nil {
				c.server.logger.Error("marshal websocket message", zap.Error(err))
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.server.logger.Warn("websocket write error", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
