// Package store implements the durable local record store.
//
// The store owns three concerns: record CRUD for feedings and diapers with
// per-record sync status, a small key-value area (device id, queue snapshot,
// sync flags), and synchronous change-event fan-out after each committed write.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mariek/littlefeed/internal/db"
	apperrors "github.com/mariek/littlefeed/internal/errors"
	"github.com/mariek/littlefeed/internal/ident"
	"github.com/mariek/littlefeed/internal/logging"
	"github.com/mariek/littlefeed/internal/models"
)

// Key-value area keys.
const (
	KeyDeviceID      = "device_id"
	KeySyncQueue     = "sync_queue"
	KeyLastSyncTime  = "last_sync_time"
	KeyFirstSyncDone = "first_sync_done"
)

// Store is the durable local record store. Construct once, Init before use.
type Store struct {
	dataDir string
	bus     *Bus

	initMu      sync.Mutex
	initialized bool
	db          *db.DB
	gen         *ident.Generator
}

// New creates an uninitialized Store rooted at dataDir.
func New(dataDir string) *Store {
	return &Store{
		dataDir: dataDir,
		bus:     NewBus(),
	}
}

// Init opens the database, applies migrations, and loads or creates the
// per-install device id. Idempotent; concurrent callers block until the first
// caller's initialization completes.
func (s *Store) Init() error {
	s.initMu.Lock()
	defer s.initMu.Unlock()

	if s.initialized {
		return nil
	}

	database, err := db.Open(s.dataDir)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "open local store", err)
	}

	if err := db.Migrate(database.DB); err != nil {
		database.Close()
		return apperrors.Wrap(apperrors.ErrMigration, "migrate local store", err)
	}

	s.db = database

	deviceID, ok, err := s.getValueLocked(KeyDeviceID)
	if err != nil {
		database.Close()
		s.db = nil
		return apperrors.Wrap(apperrors.ErrDatabase, "load device id", err)
	}
	if !ok {
		deviceID = ident.NewDeviceID()
		if err := s.setValueLocked(KeyDeviceID, deviceID); err != nil {
			database.Close()
			s.db = nil
			return apperrors.Wrap(apperrors.ErrDatabase, "persist device id", err)
		}
		logging.Info("generated device id", map[string]any{"device_id": deviceID})
	}

	s.gen = ident.NewGenerator(deviceID)
	s.initialized = true
	return nil
}

// Close closes the underlying database. The store can be re-initialized.
func (s *Store) Close() error {
	s.initMu.Lock()
	defer s.initMu.Unlock()

	if !s.initialized {
		return nil
	}
	s.initialized = false
	err := s.db.Close()
	s.db = nil
	return err
}

// DeviceID returns the persisted per-install device identifier.
func (s *Store) DeviceID() string {
	return s.gen.DeviceID()
}

// Subscribe registers a change listener and returns an unsubscribe token.
func (s *Store) Subscribe(fn Listener) int {
	return s.bus.Subscribe(fn)
}

// Unsubscribe removes a previously registered listener.
func (s *Store) Unsubscribe(token int) {
	s.bus.Unsubscribe(token)
}

// Emit publishes an event on the store's change bus. Used by the orchestrator
// for aggregate events such as cloud-sync completion.
func (s *Store) Emit(event models.ChangeEvent) {
	s.bus.Emit(event)
}

// =====================================================
// Feeding operations
// =====================================================

// InsertFeeding writes a new feeding record with sync status pending and emits
// a feeding.added event after the write commits. The id is generated locally,
// never by the remote store.
func (s *Store) InsertFeeding(amount int, at time.Time, color string) (*models.FeedingEvent, error) {
	if amount <= 0 {
		return nil, apperrors.New(apperrors.ErrRecordInvalid, "feeding amount must be positive")
	}

	now := time.Now().Unix()
	record := &models.FeedingEvent{
		ID:         s.gen.Generate(),
		Amount:     amount,
		Time:       at.Unix(),
		Color:      color,
		SyncStatus: models.SyncPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	query := `
	INSERT INTO feedings (id, amount, time, color, sync_status, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query, record.ID, record.Amount, record.Time, record.Color,
		record.SyncStatus, record.CreatedAt, record.UpdatedAt)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "insert feeding", err)
	}

	s.bus.Emit(models.ChangeEvent{
		Type:     models.EventFeedingAdded,
		RecordID: record.ID,
		Fields:   feedingFields(record),
	})
	return record, nil
}

// UpdateFeeding overwrites the mutable fields of a feeding. Sync status is
// left untouched. Returns false when no row has the given id.
func (s *Store) UpdateFeeding(id string, amount int, at time.Time, color string) (bool, error) {
	if amount <= 0 {
		return false, apperrors.New(apperrors.ErrRecordInvalid, "feeding amount must be positive")
	}

	query := `UPDATE feedings SET amount = ?, time = ?, color = ?, updated_at = ? WHERE id = ?`
	res, err := s.db.Exec(query, amount, at.Unix(), color, time.Now().Unix(), id)
	if err != nil {
		return false, apperrors.Wrap(apperrors.ErrDatabase, "update feeding", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return false, nil
	}

	s.bus.Emit(models.ChangeEvent{
		Type:     models.EventFeedingUpdated,
		RecordID: id,
		Fields: map[string]any{
			"amount": amount,
			"time":   at.Unix(),
			"color":  color,
		},
	})
	return true, nil
}

// DeleteFeeding removes a feeding row outright (no tombstone) and emits a
// feeding.deleted event. Returns false when no row has the given id.
func (s *Store) DeleteFeeding(id string) (bool, error) {
	res, err := s.db.Exec("DELETE FROM feedings WHERE id = ?", id)
	if err != nil {
		return false, apperrors.Wrap(apperrors.ErrDatabase, "delete feeding", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return false, nil
	}

	s.bus.Emit(models.ChangeEvent{
		Type:     models.EventFeedingDeleted,
		RecordID: id,
	})
	return true, nil
}

// GetFeeding retrieves a feeding by id. Returns (nil, nil) when absent.
func (s *Store) GetFeeding(id string) (*models.FeedingEvent, error) {
	query := `
	SELECT id, amount, time, color, sync_status, created_at, updated_at
	FROM feedings WHERE id = ?
	`
	var record models.FeedingEvent
	err := s.db.QueryRow(query, id).Scan(
		&record.ID, &record.Amount, &record.Time, &record.Color,
		&record.SyncStatus, &record.CreatedAt, &record.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "get feeding", err)
	}
	return &record, nil
}

// RecentFeedings returns the most recent n feedings ordered by time descending.
func (s *Store) RecentFeedings(n int) ([]*models.FeedingEvent, error) {
	query := `
	SELECT id, amount, time, color, sync_status, created_at, updated_at
	FROM feedings ORDER BY time DESC LIMIT ?
	`
	return s.scanFeedings(query, n)
}

// FeedingsBetween returns feedings within [from, to] ordered by time descending.
func (s *Store) FeedingsBetween(from, to time.Time) ([]*models.FeedingEvent, error) {
	query := `
	SELECT id, amount, time, color, sync_status, created_at, updated_at
	FROM feedings WHERE time >= ? AND time <= ? ORDER BY time DESC
	`
	return s.scanFeedings(query, from.Unix(), to.Unix())
}

// SetFeedingStatus explicitly resets a feeding's sync status. No change event
// is emitted; sync status transitions are not user-visible mutations.
func (s *Store) SetFeedingStatus(id string, status models.SyncStatus) error {
	_, err := s.db.Exec("UPDATE feedings SET sync_status = ? WHERE id = ?", status, id)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "set feeding status", err)
	}
	return nil
}

// ApplyRemoteFeeding reconciles a record fetched from the cloud into the
// local store, bypassing the pending/queue path: an absent record is inserted
// as synced, a record whose fields differ is updated in place and marked
// synced. Returns what happened so the caller can count.
func (s *Store) ApplyRemoteFeeding(remote *models.FeedingEvent) (created, updated bool, err error) {
	local, err := s.GetFeeding(remote.ID)
	if err != nil {
		return false, false, err
	}

	now := time.Now().Unix()
	if local == nil {
		query := `
		INSERT INTO feedings (id, amount, time, color, sync_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		`
		_, err := s.db.Exec(query, remote.ID, remote.Amount, remote.Time, remote.Color,
			models.SyncSynced, now, now)
		if err != nil {
			return false, false, apperrors.Wrap(apperrors.ErrDatabase, "insert remote feeding", err)
		}
		s.bus.Emit(models.ChangeEvent{
			Type:     models.EventFeedingAdded,
			RecordID: remote.ID,
			Fields:   feedingFields(remote),
		})
		return true, false, nil
	}

	if local.Amount == remote.Amount && local.Time == remote.Time &&
		local.Color == remote.Color && local.SyncStatus == models.SyncSynced {
		return false, false, nil
	}

	query := `UPDATE feedings SET amount = ?, time = ?, color = ?, sync_status = ?, updated_at = ? WHERE id = ?`
	_, err = s.db.Exec(query, remote.Amount, remote.Time, remote.Color, models.SyncSynced, now, remote.ID)
	if err != nil {
		return false, false, apperrors.Wrap(apperrors.ErrDatabase, "update remote feeding", err)
	}
	s.bus.Emit(models.ChangeEvent{
		Type:     models.EventFeedingUpdated,
		RecordID: remote.ID,
		Fields:   feedingFields(remote),
	})
	return false, true, nil
}

// FeedingIDs returns every local feeding id. Used for deletion inference.
func (s *Store) FeedingIDs() ([]string, error) {
	return s.scanIDs("SELECT id FROM feedings")
}

func (s *Store) scanFeedings(query string, args ...any) ([]*models.FeedingEvent, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "query feedings", err)
	}
	defer rows.Close()

	var records []*models.FeedingEvent
	for rows.Next() {
		var record models.FeedingEvent
		if err := rows.Scan(
			&record.ID, &record.Amount, &record.Time, &record.Color,
			&record.SyncStatus, &record.CreatedAt, &record.UpdatedAt,
		); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "scan feeding", err)
		}
		records = append(records, &record)
	}
	return records, rows.Err()
}

func (s *Store) scanIDs(query string, args ...any) ([]string, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "query ids", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "scan id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func feedingFields(f *models.FeedingEvent) map[string]any {
	return map[string]any{
		"amount":      f.Amount,
		"time":        f.Time,
		"color":       f.Color,
		"sync_status": string(f.SyncStatus),
	}
}

// CountByStatus returns per-sync-status record counts for one table.
func (s *Store) CountByStatus(entity models.EntityType) (map[models.SyncStatus]int, error) {
	table := "feedings"
	if entity == models.EntityDiaper {
		table = "diapers"
	}
	rows, err := s.db.Query(fmt.Sprintf("SELECT sync_status, COUNT(*) FROM %s GROUP BY sync_status", table))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "count by status", err)
	}
	defer rows.Close()

	counts := make(map[models.SyncStatus]int)
	for rows.Next() {
		var status models.SyncStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "scan status count", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
