// internal/model/event.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of event
type EventType string

const (
	EventBridgeStarted      EventType = "BRIDGE_STARTED"
	EventBridgeStopped      EventType = "BRIDGE_STOPPED"
	EventClientConnected    EventType = "CLIENT_CONNECTED"
	EventClientDisconnected EventType = "CLIENT_DISCONNECTED"
	EventTransaction        EventType = "TRANSACTION"
	EventTransactionFailed  EventType = "TRANSACTION_FAILED"
)

// BridgeEvent represents an event emitted by a bridge server
type BridgeEvent struct {
	ID        uuid.UUID              `json:"id"`
	EventType EventType              `json:"event_type"`
	Camera    string                 `json:"camera"`
	ClientID  string                 `json:"client_id,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Severity  string                 `json:"severity"` // INFO, WARNING, ERROR
}

// NewBridgeEvent creates an event stamped with a fresh id and the current time
func NewBridgeEvent(eventType EventType, camera string, data map[string]interface{}) BridgeEvent {
	severity := "INFO"
	if eventType == EventTransactionFailed {
		severity = "ERROR"
	}

	return BridgeEvent{
		ID:        uuid.New(),
		EventType: eventType,
		Camera:    camera,
		Data:      data,
		Timestamp: time.Now(),
		Severity:  severity,
	}
}
