package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/platformbuilds/atalaya/internal/config"
	"github.com/platformbuilds/atalaya/internal/monitoring"
	"github.com/platformbuilds/atalaya/pkg/logger"
)

// Topics clients can subscribe to.
const (
	TopicLogs   = "logs"
	TopicAlerts = "alerts"
)

const writeWait = 10 * time.Second

// Message is the JSON frame pushed to subscribers.
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

type frame struct {
	topic   string
	payload []byte
}

// Client is one connected subscriber. Its send channel is closed by the hub
// when the client disconnects or falls too far behind.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	topics map[string]bool
}

// Hub owns all connected clients. Membership only changes on the Run
// goroutine; Broadcast is safe from any goroutine and drops frames instead of
// blocking when the hub is saturated.
type Hub struct {
	cfg    config.WebSocketConfig
	logger logger.Logger

	upgrader   websocket.Upgrader
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan frame

	connCount int64
}

func NewHub(cfg config.WebSocketConfig, log logger.Logger) *Hub {
	if cfg.ReadBufferSize <= 0 {
		cfg.ReadBufferSize = 1024
	}
	if cfg.WriteBufferSize <= 0 {
		cfg.WriteBufferSize = 1024
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 1 << 20
	}

	return &Hub{
		cfg:    cfg,
		logger: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			// TODO: tighten in prod (check Origin/Host)
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan frame, 256),
	}
}

// Run services registrations and broadcasts until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			atomic.StoreInt64(&h.connCount, int64(len(h.clients)))
			h.reportGauges()
			h.logger.Info("websocket client connected",
				"topics", topicNames(client.topics), "clients", len(h.clients))

		case client := <-h.unregister:
			h.drop(client)

		case f := <-h.broadcast:
			for client := range h.clients {
				if !client.topics[f.topic] {
					continue
				}
				select {
				case client.send <- f.payload:
				default:
					// slow client: cut it loose rather than stall everyone
					h.drop(client)
				}
			}

		case <-ctx.Done():
			for client := range h.clients {
				h.drop(client)
			}
			return
		}
	}
}

// Broadcast queues one message for every subscriber of topic. Never blocks:
// frames are dropped when the hub cannot keep up.
func (h *Hub) Broadcast(topic string, payload interface{}) {
	msg, err := json.Marshal(Message{Type: topic, Data: payload, Timestamp: time.Now()})
	if err != nil {
		h.logger.Error("websocket message marshal failed", "topic", topic, "error", err)
		return
	}
	select {
	case h.broadcast <- frame{topic: topic, payload: msg}:
	default:
		h.logger.Debug("websocket broadcast dropped", "topic", topic)
	}
}

// ClientCount reports connected clients for the readiness endpoint.
func (h *Hub) ClientCount() int64 {
	return atomic.LoadInt64(&h.connCount)
}

// HandleConnection upgrades GET /ws. Subscriptions come from the query
// string (?topics=logs,alerts); both topics when absent.
func (h *Hub) HandleConnection(c *gin.Context) {
	if h.cfg.MaxConnections > 0 && h.ClientCount() >= int64(h.cfg.MaxConnections) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "websocket connection limit reached"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, 64),
		topics: parseTopics(c.Query("topics")),
	}
	h.register <- client

	go client.writePump()
	go client.readPump()
}

func (h *Hub) drop(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	// closing send makes writePump emit a close frame and drop the conn
	close(client.send)
	atomic.StoreInt64(&h.connCount, int64(len(h.clients)))
	h.reportGauges()
	h.logger.Info("websocket client disconnected", "clients", len(h.clients))
}

func (h *Hub) reportGauges() {
	counts := map[string]int{TopicLogs: 0, TopicAlerts: 0}
	for client := range h.clients {
		for topic := range client.topics {
			counts[topic]++
		}
	}
	for topic, n := range counts {
		monitoring.SetWebSocketClients(topic, float64(n))
	}
}

// writePump pushes queued frames and periodic pings until the send channel
// closes or a write fails.
func (c *Client) writePump() {
	ping := time.NewTicker(time.Duration(c.hub.cfg.PingInterval) * time.Second)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames; it exists to run the ping/pong contract
// and to notice closed connections.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(c.hub.cfg.MaxMessageSize))
	wait := 2 * time.Duration(c.hub.cfg.PingInterval) * time.Second
	c.conn.SetReadDeadline(time.Now().Add(wait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func parseTopics(raw string) map[string]bool {
	topics := make(map[string]bool)
	for _, t := range strings.Split(raw, ",") {
		switch strings.TrimSpace(t) {
		case TopicLogs:
			topics[TopicLogs] = true
		case TopicAlerts:
			topics[TopicAlerts] = true
		}
	}
	if len(topics) == 0 {
		topics[TopicLogs] = true
		topics[TopicAlerts] = true
	}
	return topics
}

func topicNames(topics map[string]bool) []string {
	names := make([]string, 0, len(topics))
	for t := range topics {
		names = append(names, t)
	}
	return names
}
