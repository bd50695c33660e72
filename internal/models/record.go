// Package models provides data model definitions for the Littlefeed sync core.
package models

import "time"

// SyncStatus tracks a record's relationship to the cloud store.
type SyncStatus string

const (
	// SyncPending means the record was written locally and is not yet
	// confirmed remotely.
	SyncPending SyncStatus = "pending"
	// SyncSynced means the record is confirmed present remotely with
	// matching content.
	SyncSynced SyncStatus = "synced"
	// SyncError means a remote rejection was not resolved by retry.
	SyncError SyncStatus = "error"
)

// EntityType identifies a synchronized record kind.
type EntityType string

const (
	EntityFeeding EntityType = "feeding"
	EntityDiaper  EntityType = "diaper"
)

// FeedingEvent is a bottle feeding record.
type FeedingEvent struct {
	ID         string     `db:"id" json:"id"`
	Amount     int        `db:"amount" json:"amount"` // milliliters, positive
	Time       int64      `db:"time" json:"time"`     // unix seconds
	Color      string     `db:"color" json:"color"`   // display tag only
	SyncStatus SyncStatus `db:"sync_status" json:"sync_status"`
	CreatedAt  int64      `db:"created_at" json:"created_at"`
	UpdatedAt  int64      `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for FeedingEvent.
func (FeedingEvent) TableName() string {
	return "feedings"
}

// TimeValue returns the feeding time as time.Time.
func (f *FeedingEvent) TimeValue() time.Time {
	return time.Unix(f.Time, 0)
}

// Touch updates the UpdatedAt timestamp.
func (f *FeedingEvent) Touch() {
	f.UpdatedAt = time.Now().Unix()
}

// DiaperEvent is a diaper change record.
type DiaperEvent struct {
	ID         string     `db:"id" json:"id"`
	Time       int64      `db:"time" json:"time"`
	Note       string     `db:"note" json:"note,omitempty"` // optional free text
	Color      string     `db:"color" json:"color"`
	SyncStatus SyncStatus `db:"sync_status" json:"sync_status"`
	CreatedAt  int64      `db:"created_at" json:"created_at"`
	UpdatedAt  int64      `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for DiaperEvent.
func (DiaperEvent) TableName() string {
	return "diapers"
}

// TimeValue returns the change time as time.Time.
func (d *DiaperEvent) TimeValue() time.Time {
	return time.Unix(d.Time, 0)
}

// Touch updates the UpdatedAt timestamp.
func (d *DiaperEvent) Touch() {
	d.UpdatedAt = time.Now().Unix()
}
