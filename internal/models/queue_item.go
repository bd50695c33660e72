// Package models provides data model definitions for the Littlefeed sync core.
package models

import "encoding/json"

// Action is the mutation a queue item replays against the cloud store.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// QueueItem is a pending mutation staged for replay. The payload always
// carries the record id; for create/update it carries the full record.
type QueueItem struct {
	ID         string          `json:"id"` // queue-entry id, not the record id
	EntityType EntityType      `json:"entity_type"`
	Action     Action          `json:"action"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt int64           `json:"enqueued_at"`
	RetryCount int             `json:"retry_count"`
}

// MaxQueueRetries is the attempt ceiling after which an item is abandoned.
const MaxQueueRetries = 3
