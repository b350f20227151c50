package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/albireox/lvm-spec-pressure/internal/model"
)

type wsFixture struct {
	bus     *EventBus
	handler *WebSocketHandler
	server  *httptest.Server
}

func newWSFixture(t *testing.T, allowedOrigins []string) *wsFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	bus := NewEventBus(zap.NewNop())
	go bus.Start()

	h := NewWebSocketHandler(bus, allowedOrigins, zap.NewNop())
	router := gin.New()
	h.RegisterRoutes(router.Group("/ws"))

	server := httptest.NewServer(router)
	t.Cleanup(func() {
		server.Close()
		h.Close()
		bus.Close()
	})

	return &wsFixture{bus: bus, handler: h, server: server}
}

func (f *wsFixture) dial(t *testing.T, path string, header http.Header) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	message := readMessage(t, conn)
	require.Equal(t, "connected", message.Type)

	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) WebSocketMessage {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var message WebSocketMessage
	require.NoError(t, conn.ReadJSON(&message))
	return message
}

func eventCamera(t *testing.T, message WebSocketMessage) string {
	t.Helper()

	require.Equal(t, "bridge_event", message.Type)
	data, ok := message.Data.(map[string]interface{})
	require.True(t, ok)
	return data["camera"].(string)
}

func TestWebSocket_StreamsFilteredEvents(t *testing.T) {
	require := require.New(t)

	fixture := newWSFixture(t, nil)
	conn := fixture.dial(t, "/ws/events?camera=b1", nil)

	fixture.bus.Publish(model.NewBridgeEvent(model.EventTransaction, "r1", nil))
	fixture.bus.Publish(model.NewBridgeEvent(model.EventTransaction, "b1", nil))

	require.Equal("b1", eventCamera(t, readMessage(t, conn)))
	require.Equal(1, fixture.handler.GetConnectionStats().TotalConnections)
}

func TestWebSocket_BridgeRoute(t *testing.T) {
	fixture := newWSFixture(t, nil)
	conn := fixture.dial(t, "/ws/bridges/R1", nil)

	fixture.bus.Publish(model.NewBridgeEvent(model.EventClientConnected, "b1", nil))
	fixture.bus.Publish(model.NewBridgeEvent(model.EventClientConnected, "r1", nil))

	require.Equal(t, "r1", eventCamera(t, readMessage(t, conn)))
}

func TestWebSocket_SubscribeAndPing(t *testing.T) {
	require := require.New(t)

	fixture := newWSFixture(t, nil)
	conn := fixture.dial(t, "/ws/events", nil)

	require.NoError(conn.WriteJSON(WebSocketMessage{Type: "ping"}))
	require.Equal("pong", readMessage(t, conn).Type)

	require.NoError(conn.WriteJSON(WebSocketMessage{
		Type: "subscribe",
		Data: map[string]interface{}{"camera": "Z1"},
	}))
	require.Equal("subscription_confirmed", readMessage(t, conn).Type)

	fixture.bus.Publish(model.NewBridgeEvent(model.EventTransaction, "b1", nil))
	fixture.bus.Publish(model.NewBridgeEvent(model.EventTransaction, "z1", nil))
	require.Equal("z1", eventCamera(t, readMessage(t, conn)))

	require.NoError(conn.WriteJSON(WebSocketMessage{Type: "subscribe"}))
	require.Equal("error", readMessage(t, conn).Type)

	require.NoError(conn.WriteJSON(WebSocketMessage{Type: "reboot"}))
	require.Equal("error", readMessage(t, conn).Type)
}

func TestWebSocket_RejectsUnknownOrigin(t *testing.T) {
	fixture := newWSFixture(t, []string{"http://lvm-webapp"})

	url := "ws" + strings.TrimPrefix(fixture.server.URL, "http") + "/ws/events"
	_, response, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://elsewhere"}})
	require.Error(t, err)
	require.NotNil(t, response)
	require.Equal(t, http.StatusForbidden, response.StatusCode)

	conn := fixture.dial(t, "/ws/events", http.Header{"Origin": {"http://lvm-webapp"}})
	require.NotNil(t, conn)
}

func TestWebSocket_DisconnectUnregisters(t *testing.T) {
	fixture := newWSFixture(t, nil)
	conn := fixture.dial(t, "/ws/events", nil)
	require.Equal(t, 1, fixture.handler.GetConnectionStats().TotalConnections)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return fixture.handler.GetConnectionStats().TotalConnections == 0
	}, 2*time.Second, 10*time.Millisecond)
}
