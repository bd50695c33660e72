// Package store implements the durable local record store.
package store

import (
	"database/sql"
	"errors"
	"time"

	apperrors "github.com/mariek/littlefeed/internal/errors"
	"github.com/mariek/littlefeed/internal/models"
)

// InsertDiaper writes a new diaper record with sync status pending and emits
// a diaper.added event after the write commits.
func (s *Store) InsertDiaper(at time.Time, note, color string) (*models.DiaperEvent, error) {
	now := time.Now().Unix()
	record := &models.DiaperEvent{
		ID:         s.gen.Generate(),
		Time:       at.Unix(),
		Note:       note,
		Color:      color,
		SyncStatus: models.SyncPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	query := `
	INSERT INTO diapers (id, time, note, color, sync_status, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.Exec(query, record.ID, record.Time, record.Note, record.Color,
		record.SyncStatus, record.CreatedAt, record.UpdatedAt)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "insert diaper", err)
	}

	s.bus.Emit(models.ChangeEvent{
		Type:     models.EventDiaperAdded,
		RecordID: record.ID,
		Fields:   diaperFields(record),
	})
	return record, nil
}

// UpdateDiaper overwrites the mutable fields of a diaper record. Sync status
// is left untouched. Returns false when no row has the given id.
func (s *Store) UpdateDiaper(id string, at time.Time, note, color string) (bool, error) {
	query := `UPDATE diapers SET time = ?, note = ?, color = ?, updated_at = ? WHERE id = ?`
	res, err := s.db.Exec(query, at.Unix(), note, color, time.Now().Unix(), id)
	if err != nil {
		return false, apperrors.Wrap(apperrors.ErrDatabase, "update diaper", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return false, nil
	}

	s.bus.Emit(models.ChangeEvent{
		Type:     models.EventDiaperUpdated,
		RecordID: id,
		Fields: map[string]any{
			"time":  at.Unix(),
			"note":  note,
			"color": color,
		},
	})
	return true, nil
}

// DeleteDiaper removes a diaper row outright and emits a diaper.deleted event.
func (s *Store) DeleteDiaper(id string) (bool, error) {
	res, err := s.db.Exec("DELETE FROM diapers WHERE id = ?", id)
	if err != nil {
		return false, apperrors.Wrap(apperrors.ErrDatabase, "delete diaper", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return false, nil
	}

	s.bus.Emit(models.ChangeEvent{
		Type:     models.EventDiaperDeleted,
		RecordID: id,
	})
	return true, nil
}

// GetDiaper retrieves a diaper by id. Returns (nil, nil) when absent.
func (s *Store) GetDiaper(id string) (*models.DiaperEvent, error) {
	query := `
	SELECT id, time, note, color, sync_status, created_at, updated_at
	FROM diapers WHERE id = ?
	`
	var record models.DiaperEvent
	err := s.db.QueryRow(query, id).Scan(
		&record.ID, &record.Time, &record.Note, &record.Color,
		&record.SyncStatus, &record.CreatedAt, &record.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "get diaper", err)
	}
	return &record, nil
}

// RecentDiapers returns the most recent n diapers ordered by time descending.
func (s *Store) RecentDiapers(n int) ([]*models.DiaperEvent, error) {
	query := `
	SELECT id, time, note, color, sync_status, created_at, updated_at
	FROM diapers ORDER BY time DESC LIMIT ?
	`
	return s.scanDiapers(query, n)
}

// DiapersBetween returns diapers within [from, to] ordered by time descending.
func (s *Store) DiapersBetween(from, to time.Time) ([]*models.DiaperEvent, error) {
	query := `
	SELECT id, time, note, color, sync_status, created_at, updated_at
	FROM diapers WHERE time >= ? AND time <= ? ORDER BY time DESC
	`
	return s.scanDiapers(query, from.Unix(), to.Unix())
}

// SetDiaperStatus explicitly resets a diaper's sync status.
func (s *Store) SetDiaperStatus(id string, status models.SyncStatus) error {
	_, err := s.db.Exec("UPDATE diapers SET sync_status = ? WHERE id = ?", status, id)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "set diaper status", err)
	}
	return nil
}

// ApplyRemoteDiaper reconciles a record fetched from the cloud into the local
// store, the diaper counterpart of ApplyRemoteFeeding.
func (s *Store) ApplyRemoteDiaper(remote *models.DiaperEvent) (created, updated bool, err error) {
	local, err := s.GetDiaper(remote.ID)
	if err != nil {
		return false, false, err
	}

	now := time.Now().Unix()
	if local == nil {
		query := `
		INSERT INTO diapers (id, time, note, color, sync_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		`
		_, err := s.db.Exec(query, remote.ID, remote.Time, remote.Note, remote.Color,
			models.SyncSynced, now, now)
		if err != nil {
			return false, false, apperrors.Wrap(apperrors.ErrDatabase, "insert remote diaper", err)
		}
		s.bus.Emit(models.ChangeEvent{
			Type:     models.EventDiaperAdded,
			RecordID: remote.ID,
			Fields:   diaperFields(remote),
		})
		return true, false, nil
	}

	if local.Time == remote.Time && local.Note == remote.Note &&
		local.Color == remote.Color && local.SyncStatus == models.SyncSynced {
		return false, false, nil
	}

	query := `UPDATE diapers SET time = ?, note = ?, color = ?, sync_status = ?, updated_at = ? WHERE id = ?`
	_, err = s.db.Exec(query, remote.Time, remote.Note, remote.Color, models.SyncSynced, now, remote.ID)
	if err != nil {
		return false, false, apperrors.Wrap(apperrors.ErrDatabase, "update remote diaper", err)
	}
	s.bus.Emit(models.ChangeEvent{
		Type:     models.EventDiaperUpdated,
		RecordID: remote.ID,
		Fields:   diaperFields(remote),
	})
	return false, true, nil
}

// DiaperIDs returns every local diaper id. Used for deletion inference.
func (s *Store) DiaperIDs() ([]string, error) {
	return s.scanIDs("SELECT id FROM diapers")
}

func (s *Store) scanDiapers(query string, args ...any) ([]*models.DiaperEvent, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrDatabase, "query diapers", err)
	}
	defer rows.Close()

	var records []*models.DiaperEvent
	for rows.Next() {
		var record models.DiaperEvent
		if err := rows.Scan(
			&record.ID, &record.Time, &record.Note, &record.Color,
			&record.SyncStatus, &record.CreatedAt, &record.UpdatedAt,
		); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrDatabase, "scan diaper", err)
		}
		records = append(records, &record)
	}
	return records, rows.Err()
}

func diaperFields(d *models.DiaperEvent) map[string]any {
	return map[string]any{
		"time":        d.Time,
		"note":        d.Note,
		"color":       d.Color,
		"sync_status": string(d.SyncStatus),
	}
}
