package sqlite

import (
	"database/sql"
	"fmt"
	"strconv"
	"sync"

	"github.com/castkit/mediacache/internal/policy"
)

const (
	keyCellularDownloads  = "allow_cellular_downloads"
	keyCellularStreaming  = "allow_cellular_streaming"
	keyAutomaticDownloads = "automatic_downloads"
)

// SettingsStore persists the user's data-usage preferences in the settings
// table and serves snapshots from memory.
type SettingsStore struct {
	db *sql.DB

	mu     sync.RWMutex
	policy policy.UserDataPolicy
}

// NewSettingsStore loads persisted preferences, falling back to defaults for
// keys that were never written.
func NewSettingsStore(dbConn *sql.DB, defaults policy.UserDataPolicy) (*SettingsStore, error) {
	s := &SettingsStore{db: dbConn, policy: defaults}

	rows, err := dbConn.Query(`SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}

		enabled, err := strconv.ParseBool(value)
		if err != nil {
			continue
		}

		switch key {
		case keyCellularDownloads:
			s.policy.AllowCellularDownloads = enabled
		case keyCellularStreaming:
			s.policy.AllowCellularStreaming = enabled
		case keyAutomaticDownloads:
			s.policy.AutomaticDownloads = enabled
		}
	}

	return s, rows.Err()
}

func (s *SettingsStore) Snapshot() policy.UserDataPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.policy
}

func (s *SettingsStore) Update(p policy.UserDataPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pairs := map[string]bool{
		keyCellularDownloads:  p.AllowCellularDownloads,
		keyCellularStreaming:  p.AllowCellularStreaming,
		keyAutomaticDownloads: p.AutomaticDownloads,
	}

	for key, value := range pairs {
		if _, err := s.db.Exec(`
			INSERT INTO settings (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`, key, strconv.FormatBool(value)); err != nil {
			return fmt.Errorf("failed to persist setting %s: %w", key, err)
		}
	}

	s.policy = p

	return nil
}
