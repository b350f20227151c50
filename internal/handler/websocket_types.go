// internal/handler/websocket_types.go
package handler

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Client represents a WebSocket client
type Client struct {
	ID          string          `json:"id"`
	Connection  *websocket.Conn `json:"-"`
	Send        chan []byte     `json:"-"`
	UserAgent   string          `json:"user_agent"`
	RemoteAddr  string          `json:"remote_addr"`
	ConnectedAt time.Time       `json:"connected_at"`

	mutex   sync.RWMutex
	cameras map[string]bool
}

// Cameras returns the cameras the client follows; empty means all
func (c *Client) Cameras() []string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	cameras := make([]string, 0, len(c.cameras))
	for camera := range c.cameras {
		cameras = append(cameras, camera)
	}
	return cameras
}

// Follow adds a camera to the client's filter
func (c *Client) Follow(camera string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.cameras == nil {
		c.cameras = make(map[string]bool)
	}
	c.cameras[camera] = true
}

// Unfollow removes a camera from the client's filter
func (c *Client) Unfollow(camera string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	delete(c.cameras, camera)
}

// Wants reports whether events for camera should reach the client
func (c *Client) Wants(camera string) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.cameras) == 0 || c.cameras[camera]
}

// WebSocketMessage represents a WebSocket message
type WebSocketMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// ConnectionManager manages WebSocket connections. A client's Send channel
// is closed only while holding the write lock, and sends happen under the
// read lock, so a send never hits a closed channel.
type ConnectionManager struct {
	clients map[string]*Client
	mutex   sync.RWMutex
}

// NewConnectionManager creates a new connection manager
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		clients: make(map[string]*Client),
	}
}

// Register registers a new client
func (cm *ConnectionManager) Register(client *Client) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()
	cm.clients[client.ID] = client
}

// Unregister removes a client and closes its send channel. It reports
// whether the client was registered.
func (cm *ConnectionManager) Unregister(client *Client) bool {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	if _, ok := cm.clients[client.ID]; !ok {
		return false
	}
	delete(cm.clients, client.ID)
	close(client.Send)
	return true
}

// Send queues a message for one client without blocking. It returns false
// if the client is gone or its buffer is full.
func (cm *ConnectionManager) Send(client *Client, message []byte) bool {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	if _, ok := cm.clients[client.ID]; !ok {
		return false
	}
	select {
	case client.Send <- message:
		return true
	default:
		return false
	}
}

// Broadcast queues a message for every client following camera and
// returns the ids of clients whose buffer was full
func (cm *ConnectionManager) Broadcast(camera string, message []byte) []string {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	var dropped []string
	for _, client := range cm.clients {
		if !client.Wants(camera) {
			continue
		}
		select {
		case client.Send <- message:
		default:
			dropped = append(dropped, client.ID)
		}
	}
	return dropped
}

// CloseAll unregisters every client
func (cm *ConnectionManager) CloseAll() {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	for id, client := range cm.clients {
		delete(cm.clients, id)
		close(client.Send)
	}
}

// GetStats returns connection statistics
func (cm *ConnectionManager) GetStats() *ConnectionStats {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	stats := &ConnectionStats{
		TotalConnections: len(cm.clients),
		ByCamera:         make(map[string]int),
		Clients:          make([]*Client, 0, len(cm.clients)),
	}

	for _, client := range cm.clients {
		cameras := client.Cameras()
		if len(cameras) == 0 {
			stats.ByCamera["*"]++
		}
		for _, camera := range cameras {
			stats.ByCamera[camera]++
		}
		stats.Clients = append(stats.Clients, client)
	}

	return stats
}

// ConnectionStats represents connection statistics
type ConnectionStats struct {
	TotalConnections int            `json:"total_connections"`
	ByCamera         map[string]int `json:"by_camera"`
	Clients          []*Client      `json:"clients"`
}
