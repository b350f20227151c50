// internal/model/device.go
package model

import (
	"time"
)

// ConnectionType represents how a bridged device is reached
type ConnectionType string

const (
	ConnectionTypeSerial ConnectionType = "SERIAL"
	ConnectionTypeTCP    ConnectionType = "TCP"
)

// BridgeState represents the lifecycle state of a bridge server
type BridgeState string

const (
	BridgeStateIdle      BridgeState = "IDLE"
	BridgeStateListening BridgeState = "LISTENING"
	BridgeStateStopped   BridgeState = "STOPPED"
)

// DeviceIdentity describes the serial instrument behind a bridge
type DeviceIdentity struct {
	Spec           string         `json:"spec"`
	Camera         string         `json:"camera"`
	URL            string         `json:"url"`
	ConnectionType ConnectionType `json:"connection_type"`
	BaudRate       int            `json:"baud_rate"`
	DataBits       int            `json:"data_bits"`
	StopBits       float64        `json:"stop_bits"`
	Parity         string         `json:"parity"`
}

// LinkStats provides serial link statistics
type LinkStats struct {
	Connects       int64         `json:"connects"`
	Transactions   int64         `json:"transactions"`
	BytesWritten   int64         `json:"bytes_written"`
	BytesRead      int64         `json:"bytes_read"`
	ErrorCount     int64         `json:"error_count"`
	TimeoutCount   int64         `json:"timeout_count"`
	LastActivity   time.Time     `json:"last_activity"`
	AverageLatency time.Duration `json:"average_latency"`
	IsConnected    bool          `json:"is_connected"`
}

// ClientInfo describes one TCP client attached to a bridge
type ClientInfo struct {
	ID           string    `json:"id"`
	RemoteAddr   string    `json:"remote_addr"`
	ConnectedAt  time.Time `json:"connected_at"`
	Transactions int64     `json:"transactions"`
}

// BridgeStatus is a point-in-time snapshot of one bridge server
type BridgeStatus struct {
	Camera          string          `json:"camera"`
	Address         string          `json:"address"`
	Port            int             `json:"port"`
	State           BridgeState     `json:"state"`
	Timeout         time.Duration   `json:"timeout"`
	Delimiter       string          `json:"delimiter,omitempty"`
	Device          *DeviceIdentity `json:"device,omitempty"`
	AcceptedClients int64           `json:"accepted_clients"`
	ActiveClients   []ClientInfo    `json:"active_clients"`
	Link            *LinkStats      `json:"link,omitempty"`
}

// SerialPort describes a serial port found on the host
type SerialPort struct {
	Name         string `json:"name"`
	IsUSB        bool   `json:"is_usb"`
	VID          string `json:"vid,omitempty"`
	PID          string `json:"pid,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	Product      string `json:"product,omitempty"`
	Camera       string `json:"camera,omitempty"`
}
