// internal/handler/websocket_handler.go
package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/albireox/lvm-spec-pressure/internal/model"
	"github.com/albireox/lvm-spec-pressure/internal/utils"
)

const (
	pongWait     = 60 * time.Second
	pingPeriod   = 54 * time.Second
	writeTimeout = 10 * time.Second
)

// WebSocketHandler streams bridge events to WebSocket clients
type WebSocketHandler struct {
	upgrader     websocket.Upgrader
	connections  *ConnectionManager
	eventBus     *EventBus
	subscription <-chan model.BridgeEvent
	logger       *utils.ServiceLogger
	done         chan struct{}
}

// NewWebSocketHandler creates a WebSocket handler fed by eventBus. An empty
// allowedOrigins accepts any origin.
func NewWebSocketHandler(eventBus *EventBus, allowedOrigins []string, logger *zap.Logger) *WebSocketHandler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}

	handler := &WebSocketHandler{
		upgrader:     upgrader,
		connections:  NewConnectionManager(),
		eventBus:     eventBus,
		subscription: eventBus.Subscribe(),
		logger:       utils.NewServiceLogger(logger, "websocket-handler"),
		done:         make(chan struct{}),
	}

	go handler.forwardEvents()

	return handler
}

func originChecker(allowedOrigins []string) func(r *http.Request) bool {
	if len(allowedOrigins) == 0 {
		return func(*http.Request) bool { return true }
	}

	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[strings.TrimRight(origin, "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed[origin]
	}
}

// RegisterRoutes registers WebSocket routes
func (h *WebSocketHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/events", h.HandleEventConnection)
	router.GET("/bridges/:camera", h.HandleBridgeConnection)
}

// HandleEventConnection streams events of every bridge, or of the cameras
// listed in the camera query parameter
func (h *WebSocketHandler) HandleEventConnection(c *gin.Context) {
	h.serve(c, c.QueryArray("camera"))
}

// HandleBridgeConnection streams events of a single bridge
func (h *WebSocketHandler) HandleBridgeConnection(c *gin.Context) {
	camera := strings.ToLower(c.Param("camera"))
	if camera == "" {
		utils.ErrorResponse(c, http.StatusBadRequest, "camera is required", nil)
		return
	}
	h.serve(c, []string{camera})
}

func (h *WebSocketHandler) serve(c *gin.Context, cameras []string) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	client := &Client{
		ID:          uuid.New().String(),
		Connection:  conn,
		Send:        make(chan []byte, 256),
		UserAgent:   c.Request.UserAgent(),
		RemoteAddr:  c.Request.RemoteAddr,
		ConnectedAt: time.Now(),
	}
	for _, camera := range cameras {
		if camera != "" {
			client.Follow(strings.ToLower(camera))
		}
	}

	h.connections.Register(client)
	h.logger.Info("Event WebSocket client connected",
		zap.String("client_id", client.ID),
		zap.String("remote_addr", client.RemoteAddr),
		zap.Strings("cameras", client.Cameras()),
	)

	h.sendMessage(client, &WebSocketMessage{
		Type: "connected",
		Data: map[string]interface{}{
			"client_id": client.ID,
			"cameras":   client.Cameras(),
		},
		Timestamp: time.Now(),
	})

	go h.handleClientRead(client)
	go h.handleClientWrite(client)
}

// handleClientRead handles reading messages from WebSocket client
func (h *WebSocketHandler) handleClientRead(client *Client) {
	defer func() {
		if h.connections.Unregister(client) {
			h.logger.Info("Event WebSocket client disconnected", zap.String("client_id", client.ID))
		}
		client.Connection.Close()
	}()

	client.Connection.SetReadDeadline(time.Now().Add(pongWait))
	client.Connection.SetPongHandler(func(string) error {
		client.Connection.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, messageBytes, err := client.Connection.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("WebSocket read error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
			}
			break
		}

		var message WebSocketMessage
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			h.logger.Warn("Failed to parse WebSocket message",
				zap.Error(err),
				zap.String("client_id", client.ID),
			)
			h.sendError(client, "invalid message")
			continue
		}

		h.handleClientMessage(client, &message)
	}
}

// handleClientWrite handles writing messages to WebSocket client
func (h *WebSocketHandler) handleClientWrite(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Connection.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			client.Connection.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				client.Connection.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := client.Connection.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Error("WebSocket write error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
				return
			}

		case <-ticker.C:
			client.Connection.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := client.Connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleClientMessage handles incoming client messages
func (h *WebSocketHandler) handleClientMessage(client *Client, message *WebSocketMessage) {
	switch message.Type {
	case "subscribe":
		if camera, ok := messageCamera(message); ok {
			client.Follow(camera)
			h.logger.Debug("Client subscribed to camera",
				zap.String("client_id", client.ID),
				zap.String("camera", camera),
			)
			h.sendMessage(client, &WebSocketMessage{
				Type:      "subscription_confirmed",
				Data:      map[string]interface{}{"camera": camera},
				Timestamp: time.Now(),
			})
			return
		}
		h.sendError(client, "camera is required")
	case "unsubscribe":
		if camera, ok := messageCamera(message); ok {
			client.Unfollow(camera)
			h.sendMessage(client, &WebSocketMessage{
				Type:      "unsubscription_confirmed",
				Data:      map[string]interface{}{"camera": camera},
				Timestamp: time.Now(),
			})
			return
		}
		h.sendError(client, "camera is required")
	case "ping":
		h.sendMessage(client, &WebSocketMessage{
			Type:      "pong",
			Timestamp: time.Now(),
		})
	default:
		h.logger.Warn("Unknown message type",
			zap.String("type", message.Type),
			zap.String("client_id", client.ID),
		)
		h.sendError(client, "unknown message type: "+message.Type)
	}
}

func messageCamera(message *WebSocketMessage) (string, bool) {
	data, ok := message.Data.(map[string]interface{})
	if !ok {
		return "", false
	}
	camera, ok := data["camera"].(string)
	if !ok || camera == "" {
		return "", false
	}
	return strings.ToLower(camera), true
}

// forwardEvents relays bus events to clients until the subscription closes
func (h *WebSocketHandler) forwardEvents() {
	defer close(h.done)

	for event := range h.subscription {
		h.BroadcastBridgeEvent(event)
	}
}

// BroadcastBridgeEvent sends an event to every client following its camera
func (h *WebSocketHandler) BroadcastBridgeEvent(event model.BridgeEvent) {
	messageBytes, err := json.Marshal(&WebSocketMessage{
		Type:      "bridge_event",
		Data:      event,
		Timestamp: time.Now(),
	})
	if err != nil {
		h.logger.Error("Failed to marshal broadcast message", zap.Error(err))
		return
	}

	for _, clientID := range h.connections.Broadcast(event.Camera, messageBytes) {
		h.logger.Warn("Client send channel full during broadcast",
			zap.String("client_id", clientID),
		)
	}
}

// sendMessage sends a message to a client
func (h *WebSocketHandler) sendMessage(client *Client, message *WebSocketMessage) {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal WebSocket message", zap.Error(err))
		return
	}

	if !h.connections.Send(client, messageBytes) {
		h.logger.Warn("Client send channel full or closed, dropping message",
			zap.String("client_id", client.ID),
		)
	}
}

// sendError sends an error message to a client
func (h *WebSocketHandler) sendError(client *Client, errorMsg string) {
	h.sendMessage(client, &WebSocketMessage{
		Type:      "error",
		Data:      map[string]interface{}{"error": errorMsg},
		Timestamp: time.Now(),
	})
}

// GetConnectionStats returns connection statistics
func (h *WebSocketHandler) GetConnectionStats() *ConnectionStats {
	return h.connections.GetStats()
}

// Close stops relaying events and disconnects every client
func (h *WebSocketHandler) Close() {
	h.eventBus.Unsubscribe(h.subscription)
	<-h.done
	h.connections.CloseAll()
}
