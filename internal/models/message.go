// Package models provides data model definitions for the Littlefeed sync core.
package models

// Real-time message types exchanged over the push channel.
const (
	MessageTypeConnected   = "connection.established"
	MessageTypeSyncRequest = "sync.requested"
)

// Message is an ephemeral real-time notification. It signals that something
// changed elsewhere; it never carries authoritative data.
type Message struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	UserID    string         `json:"userId"`
	Timestamp int64          `json:"timestamp"`
	DeviceID  string         `json:"deviceId"`
	MessageID string         `json:"messageId"`
}
