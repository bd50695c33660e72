// Package store implements the durable local record store.
package store

import (
	"database/sql"
	"errors"

	apperrors "github.com/mariek/littlefeed/internal/errors"
)

// The kv table is the store's small key-value area: device identifier, the
// serialized sync queue snapshot, and sync bookkeeping flags.

// GetValue reads a key-value entry. The second return reports presence.
func (s *Store) GetValue(key string) (string, bool, error) {
	s.initMu.Lock()
	defer s.initMu.Unlock()
	return s.getValueLocked(key)
}

// SetValue writes a key-value entry, replacing any previous value.
func (s *Store) SetValue(key, value string) error {
	s.initMu.Lock()
	defer s.initMu.Unlock()
	return s.setValueLocked(key, value)
}

// DeleteValue removes a key-value entry. Missing keys are not an error.
func (s *Store) DeleteValue(key string) error {
	s.initMu.Lock()
	defer s.initMu.Unlock()

	if _, err := s.db.Exec("DELETE FROM kv WHERE key = ?", key); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "delete kv entry", err)
	}
	return nil
}

func (s *Store) getValueLocked(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperrors.Wrap(apperrors.ErrDatabase, "read kv entry", err)
	}
	return value, true, nil
}

func (s *Store) setValueLocked(key, value string) error {
	query := `
	INSERT INTO kv (key, value) VALUES (?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`
	if _, err := s.db.Exec(query, key, value); err != nil {
		return apperrors.Wrap(apperrors.ErrDatabase, "write kv entry", err)
	}
	return nil
}
