// Package models provides data model definitions for the Littlefeed sync core.
package models

// Change event types emitted by the local store and the orchestrator.
const (
	EventFeedingAdded   = "feeding.added"
	EventFeedingUpdated = "feeding.updated"
	EventFeedingDeleted = "feeding.deleted"

	EventDiaperAdded   = "diaper.added"
	EventDiaperUpdated = "diaper.updated"
	EventDiaperDeleted = "diaper.deleted"

	EventCloudSyncCompleted = "cloudsync.completed"
)

// ChangeEvent is delivered synchronously to every registered listener after a
// local write commits.
type ChangeEvent struct {
	Type      string         `json:"type"`
	RecordID  string         `json:"record_id,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
	Timestamp int64          `json:"timestamp"`
}
