package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aegisshield/discovery-console/internal/config"
	"github.com/aegisshield/discovery-console/internal/metrics"
)

// Topics carried by the hub
const (
	TopicBatch    = "batch"
	TopicDeletion = "deletion"
	TopicViews    = "views"
	TopicSystem   = "system"

	allTopics    = "*"
	redisChannel = "discovery-console:realtime"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 512
	sendBuffer     = 256
)

// MessageType represents different types of real-time messages
type MessageType string

const (
	MessageTypeBatchProgress    MessageType = "batch_progress"
	MessageTypeDeletionProgress MessageType = "deletion_progress"
	MessageTypeDeletionOutcome  MessageType = "deletion_outcome"
	MessageTypeViewsInvalidated MessageType = "views_invalidated"
	MessageTypeSubscribe        MessageType = "subscribe"
	MessageTypeError            MessageType = "error"
)

// Message represents a real-time message
type Message struct {
	Type      MessageType `json:"type"`
	Topic     string      `json:"topic"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
	ClientID  string      `json:"client_id,omitempty"`
}

// SubscriptionRequest represents a subscription request
type SubscriptionRequest struct {
	Type   string   `json:"type"`
	Topics []string `json:"topics"`
}

// relayEnvelope carries a message between replicas over Redis
type relayEnvelope struct {
	Origin string          `json:"origin"`
	Topic  string          `json:"topic"`
	Data   json.RawMessage `json:"data"`
}

type outbound struct {
	topic string
	data  []byte
}

// Hub maintains the set of active connections and broadcasts messages
type Hub struct {
	id         string
	clients    map[*Client]bool
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	redis      *redis.Client
	upgrader   websocket.Upgrader
	metrics    *metrics.Collector
	logger     *zap.Logger
	mutex      sync.RWMutex
}

// Client represents a WebSocket client connection
type Client struct {
	ID     string
	Hub    *Hub
	Conn   *websocket.Conn
	Send   chan []byte
	Topics map[string]bool
	mutex  sync.RWMutex
}

// NewHub creates a new WebSocket hub. redisClient may be nil, in which case
// messages stay on this replica.
func NewHub(cfg config.WebSocketConfig, redisClient *redis.Client, collector *metrics.Collector, logger *zap.Logger) *Hub {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
	}
	if !cfg.CheckOrigin {
		upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	}

	return &Hub{
		id:         uuid.New().String(),
		clients:    make(map[*Client]bool),
		broadcast:  make(chan outbound, sendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		redis:      redisClient,
		upgrader:   upgrader,
		metrics:    collector,
		logger:     logger,
	}
}

// Run serves register, unregister and broadcast requests until ctx ends
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mutex.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.Send)
			}
			h.mutex.Unlock()
			return

		case client := <-h.register:
			h.mutex.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mutex.Unlock()
			h.metrics.SetWebSocketClients(count)
			h.logger.Debug("Client connected", zap.String("client_id", client.ID))

		case client := <-h.unregister:
			h.remove(client)
			h.logger.Debug("Client disconnected", zap.String("client_id", client.ID))

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mutex.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.Send)
	}
	count := len(h.clients)
	h.mutex.Unlock()
	h.metrics.SetWebSocketClients(count)
}

// deliver sends to every subscribed client, dropping clients whose buffer
// is full
func (h *Hub) deliver(msg outbound) {
	var slow []*Client

	h.mutex.RLock()
	for client := range h.clients {
		if !client.subscribed(msg.topic) {
			continue
		}
		select {
		case client.Send <- msg.data:
		default:
			slow = append(slow, client)
		}
	}
	h.mutex.RUnlock()

	for _, client := range slow {
		h.remove(client)
	}
}

// HandleWebSocket upgrades the request. Topics may be preselected with
// ?topics=batch,deletion; without it the client receives every topic.
func (h *Hub) HandleWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade connection", zap.Error(err))
		return
	}

	client := &Client{
		ID:     uuid.New().String(),
		Hub:    h,
		Conn:   conn,
		Send:   make(chan []byte, sendBuffer),
		Topics: make(map[string]bool),
	}
	if topics := c.Query("topics"); topics != "" {
		for _, t := range strings.Split(topics, ",") {
			if t = strings.TrimSpace(t); t != "" {
				client.Topics[t] = true
			}
		}
	} else {
		client.Topics[allTopics] = true
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// Publish broadcasts a message to local subscribers and, when Redis is
// configured, to the other replicas
func (h *Hub) Publish(topic string, msgType MessageType, payload interface{}) error {
	data, err := json.Marshal(&Message{
		Type:      msgType,
		Topic:     topic,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	h.enqueue(outbound{topic: topic, data: data})

	if h.redis == nil {
		return nil
	}
	relay, err := json.Marshal(relayEnvelope{Origin: h.id, Topic: topic, Data: data})
	if err != nil {
		return fmt.Errorf("failed to marshal relay message: %w", err)
	}
	return h.redis.Publish(context.Background(), redisChannel, relay).Err()
}

// SubscribeToRedis relays messages published by other replicas until ctx ends
func (h *Hub) SubscribeToRedis(ctx context.Context) {
	if h.redis == nil {
		return
	}
	pubsub := h.redis.Subscribe(ctx, redisChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env relayEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				h.logger.Warn("Dropping malformed relay message", zap.Error(err))
				continue
			}
			if env.Origin == h.id {
				continue
			}
			h.enqueue(outbound{topic: env.Topic, data: env.Data})
		}
	}
}

func (h *Hub) enqueue(msg outbound) {
	select {
	case h.broadcast <- msg:
	case <-h.done:
	}
}

func clientTopic(id string) string {
	return "client:" + id
}

// ConnectedClients returns the number of connected clients
func (h *Hub) ConnectedClients() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

func (c *Client) subscribed(topic string) bool {
	if strings.HasPrefix(topic, "client:") {
		return topic == clientTopic(c.ID)
	}
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.Topics[allTopics] || c.Topics[topic]
}

// readPump pumps messages from the websocket connection to the hub
func (c *Client) readPump() {
	defer func() {
		select {
		case c.Hub.unregister <- c:
		case <-c.Hub.done:
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Debug("WebSocket read error", zap.String("client_id", c.ID), zap.Error(err))
			}
			break
		}

		var subReq SubscriptionRequest
		if err := json.Unmarshal(message, &subReq); err != nil {
			c.reply(MessageTypeError, "Malformed request")
			continue
		}
		c.handleSubscription(&subReq)
	}
}

// writePump pumps messages from the hub to the websocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleSubscription handles subscription requests from clients
func (c *Client) handleSubscription(req *SubscriptionRequest) {
	c.mutex.Lock()
	switch req.Type {
	case "subscribe":
		for _, topic := range req.Topics {
			c.Topics[topic] = true
		}
	case "unsubscribe":
		for _, topic := range req.Topics {
			delete(c.Topics, topic)
		}
	default:
		c.mutex.Unlock()
		c.reply(MessageTypeError, fmt.Sprintf("Unknown request type: %q", req.Type))
		return
	}
	c.mutex.Unlock()

	c.reply(MessageTypeSubscribe, fmt.Sprintf("Subscription updated: %s", req.Type))
}

// reply sends a system message to this client only
func (c *Client) reply(msgType MessageType, payload string) {
	data, _ := json.Marshal(&Message{
		Type:      msgType,
		Topic:     TopicSystem,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		ClientID:  c.ID,
	})
	c.Hub.enqueue(outbound{topic: clientTopic(c.ID), data: data})
}
