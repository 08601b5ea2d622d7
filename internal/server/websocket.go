package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/roach88/flowkit/internal/events"
)

type (
	// Client is one websocket connection streaming events from the hub.
	Client struct {
		conn        *websocket.Conn
		queue       *events.Queue
		unsubscribe func()
		filter      Filter
		logger      *slog.Logger
		closeOnce   sync.Once
		ctx         context.Context
		cancel      context.CancelFunc
	}

	// Filter selects the events sent to a client.
	Filter struct {
		Flows []string      `json:"flows,omitempty"`
		Kinds []events.Kind `json:"kinds,omitempty"`
	}

	// SubscribeRequest replaces a client's filter.
	SubscribeRequest struct {
		Type string `json:"type"`
		Filter
	}
)

const (
	writeWait          = 10 * time.Second
	pongWait           = 60 * time.Second
	pingPeriod         = (pongWait * 9) / 10
	maxMessageSize     = 512
	wsBufferSize       = 1024
	incomingBufferSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  wsBufferSize,
	WriteBufferSize: wsBufferSize,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Match reports whether e passes the filter. Empty lists match everything.
func (f Filter) Match(e events.Event) bool {
	if len(f.Flows) > 0 && !slices.Contains(f.Flows, e.FlowName) {
		return false
	}
	if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, e.Kind) {
		return false
	}
	return true
}

func (s *Server) handleWebSocket(c *gin.Context) {
	filter := Filter{Flows: c.QueryArray("flow")}
	for _, k := range c.QueryArray("kind") {
		filter.Kinds = append(filter.Kinds, events.Kind(k))
	}

	// Subscribed before the handshake: every event after the upgrade
	// reaches the client.
	queue := events.NewQueue()
	unsubscribe := s.hub.Subscribe(queue)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		unsubscribe()
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		conn:        conn,
		queue:       queue,
		unsubscribe: unsubscribe,
		filter:      filter,
		logger:      s.logger,
		ctx:         ctx,
		cancel:      cancel,
	}
	s.registerWebSocket(client)

	go func() {
		defer s.unregisterWebSocket(client)
		client.run()
	}()
}

// Close stops streaming and closes the connection.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.unsubscribe()
		c.queue.Close()
		c.cancel()
		_ = c.conn.Close()
	})
}

func (c *Client) run() {
	ctx := c.ctx
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	incoming := make(chan []byte, incomingBufferSize)
	go c.readMessages(incoming)

	outgoing := make(chan events.Event)
	go func() {
		_ = c.queue.Run(ctx, func(e events.Event) error {
			select {
			case outgoing <- e:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()

	for {
		select {
		case message, ok := <-incoming:
			if !ok {
				return
			}
			c.handleSubscribe(message)

		case e := <-outgoing:
			if !c.sendEventIfMatched(e) {
				return
			}

		case <-ticker.C:
			if !c.sendPing() {
				return
			}

		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) readMessages(incoming chan []byte) {
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			close(incoming)
			return
		}
		select {
		case incoming <- message:
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Client) handleSubscribe(message []byte) {
	var sub SubscribeRequest
	if err := json.Unmarshal(message, &sub); err != nil {
		c.logger.Warn("failed to parse websocket message", "error", err)
		return
	}
	if sub.Type != "subscribe" {
		return
	}
	c.filter = sub.Filter
}

func (c *Client) sendEventIfMatched(e events.Event) bool {
	if !c.filter.Match(e) {
		return true
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(e); err != nil {
		c.logger.Warn("websocket write failed", "error", err)
		return false
	}
	return true
}

func (c *Client) sendPing() bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := c.conn.WriteMessage(websocket.PingMessage, nil)
	return err == nil
}
