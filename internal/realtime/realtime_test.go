package realtime

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aegisshield/discovery-console/internal/config"
)

func setupHub(t *testing.T) (*Hub, string) {
	t.Helper()
	return setupRelayHub(t, nil)
}

// setupRelayHub starts a hub that relays through rdb when it is not nil
func setupRelayHub(t *testing.T, rdb *redis.Client) (*Hub, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := NewHub(config.WebSocketConfig{ReadBufferSize: 1024, WriteBufferSize: 1024}, rdb, nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	if rdb != nil {
		go hub.SubscribeToRedis(ctx)
	}

	router := gin.New()
	router.GET("/ws", hub.HandleWebSocket)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return hub, "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHub(t *testing.T) {
	t.Run("Broadcasts To All Topics By Default", func(t *testing.T) {
		hub, url := setupHub(t)
		conn := dial(t, url)
		require.Eventually(t, func() bool { return hub.ConnectedClients() == 1 }, time.Second, 5*time.Millisecond)

		require.NoError(t, hub.Publish(TopicBatch, MessageTypeBatchProgress, map[string]int{"completed": 2}))

		msg := readMessage(t, conn)
		assert.Equal(t, MessageTypeBatchProgress, msg.Type)
		assert.Equal(t, TopicBatch, msg.Topic)
	})

	t.Run("Filters By Preselected Topics", func(t *testing.T) {
		hub, url := setupHub(t)
		conn := dial(t, url+"?topics=deletion")
		require.Eventually(t, func() bool { return hub.ConnectedClients() == 1 }, time.Second, 5*time.Millisecond)

		require.NoError(t, hub.Publish(TopicBatch, MessageTypeBatchProgress, nil))
		require.NoError(t, hub.Publish(TopicDeletion, MessageTypeDeletionProgress, nil))

		msg := readMessage(t, conn)
		assert.Equal(t, TopicDeletion, msg.Topic)
	})

	t.Run("Subscription Requests", func(t *testing.T) {
		hub, url := setupHub(t)
		conn := dial(t, url+"?topics=system")
		require.Eventually(t, func() bool { return hub.ConnectedClients() == 1 }, time.Second, 5*time.Millisecond)

		require.NoError(t, conn.WriteJSON(SubscriptionRequest{Type: "subscribe", Topics: []string{TopicViews}}))
		ack := readMessage(t, conn)
		assert.Equal(t, MessageTypeSubscribe, ack.Type)
		assert.NotEmpty(t, ack.ClientID)

		require.NoError(t, hub.Publish(TopicViews, MessageTypeViewsInvalidated, []string{"kpis"}))
		msg := readMessage(t, conn)
		assert.Equal(t, MessageTypeViewsInvalidated, msg.Type)
	})

	t.Run("Unregisters On Close", func(t *testing.T) {
		hub, url := setupHub(t)
		conn := dial(t, url)
		require.Eventually(t, func() bool { return hub.ConnectedClients() == 1 }, time.Second, 5*time.Millisecond)

		conn.Close()
		assert.Eventually(t, func() bool { return hub.ConnectedClients() == 0 }, 2*time.Second, 10*time.Millisecond)
	})
}

func TestHub_Errors(t *testing.T) {
	hub, url := setupHub(t)
	conn := dial(t, url+"?topics=batch")
	require.Eventually(t, func() bool { return hub.ConnectedClients() == 1 }, time.Second, 5*time.Millisecond)

	t.Run("Malformed Request", func(t *testing.T) {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
		msg := readMessage(t, conn)
		assert.Equal(t, MessageTypeError, msg.Type)
		assert.Equal(t, "Malformed request", msg.Payload)
	})

	t.Run("Unknown Request Type", func(t *testing.T) {
		require.NoError(t, conn.WriteJSON(SubscriptionRequest{Type: "replay", Topics: []string{TopicBatch}}))
		msg := readMessage(t, conn)
		assert.Equal(t, MessageTypeError, msg.Type)
		assert.Contains(t, msg.Payload, "replay")
	})
}

func TestHub_RedisRelay(t *testing.T) {
	mr := miniredis.RunT(t)
	newClient := func() *redis.Client {
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { rdb.Close() })
		return rdb
	}

	local, url := setupRelayHub(t, newClient())
	peer, _ := setupRelayHub(t, newClient())
	require.Eventually(t, func() bool {
		return mr.PubSubNumSub(redisChannel)[redisChannel] == 2
	}, 2*time.Second, 10*time.Millisecond)

	conn := dial(t, url)
	require.Eventually(t, func() bool { return local.ConnectedClients() == 1 }, time.Second, 5*time.Millisecond)

	t.Run("Delivers Peer Messages", func(t *testing.T) {
		require.NoError(t, peer.Publish(TopicDeletion, MessageTypeDeletionOutcome, map[string]string{"kind": "all_succeeded"}))
		msg := readMessage(t, conn)
		assert.Equal(t, MessageTypeDeletionOutcome, msg.Type)
		assert.Equal(t, TopicDeletion, msg.Topic)
	})

	t.Run("Drops Own Relayed Messages", func(t *testing.T) {
		require.NoError(t, local.Publish(TopicBatch, MessageTypeBatchProgress, nil))
		assert.Equal(t, MessageTypeBatchProgress, readMessage(t, conn).Type)

		// A duplicate of the local message would arrive before this one
		require.NoError(t, peer.Publish(TopicViews, MessageTypeViewsInvalidated, []string{"kpis"}))
		assert.Equal(t, MessageTypeViewsInvalidated, readMessage(t, conn).Type)
	})
}
