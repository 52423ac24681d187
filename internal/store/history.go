package store

import (
	"time"
)

// SyncHistory represents a batch job run
type SyncHistory struct {
	ID           int64      `json:"id"`
	RunID        string     `json:"runId"`
	SyncType     string     `json:"syncType"` // "status_estimate"
	Status       string     `json:"status"`   // "running", "success", "partial", "failed"
	ItemsSynced  int        `json:"itemsSynced"`
	ItemsSkipped int        `json:"itemsSkipped"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	StartedAt    time.Time  `json:"startedAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
}

// CreateSyncHistory creates a new sync history record
func (db *DB) CreateSyncHistory(sh *SyncHistory) error {
	result, err := db.Exec(`
		INSERT INTO sync_history (run_id, sync_type, status, items_synced, items_skipped, error_message, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, sh.RunID, sh.SyncType, sh.Status, sh.ItemsSynced, sh.ItemsSkipped, sh.ErrorMessage, sh.StartedAt)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	sh.ID = id
	return nil
}

// UpdateSyncHistory updates a sync history record
func (db *DB) UpdateSyncHistory(sh *SyncHistory) error {
	_, err := db.Exec(`
		UPDATE sync_history
		SET status = ?, items_synced = ?, items_skipped = ?, error_message = ?, completed_at = ?
		WHERE id = ?
	`, sh.Status, sh.ItemsSynced, sh.ItemsSkipped, sh.ErrorMessage, sh.CompletedAt, sh.ID)
	return err
}

// GetSyncHistory returns the most recent runs of a job type
func (db *DB) GetSyncHistory(syncType string, limit int) ([]SyncHistory, error) {
	rows, err := db.Query(`
		SELECT id, run_id, sync_type, status, items_synced, items_skipped, COALESCE(error_message, ''), started_at, completed_at
		FROM sync_history
		WHERE sync_type = ?
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, syncType, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []SyncHistory
	for rows.Next() {
		var sh SyncHistory
		err := rows.Scan(&sh.ID, &sh.RunID, &sh.SyncType, &sh.Status, &sh.ItemsSynced, &sh.ItemsSkipped,
			&sh.ErrorMessage, &sh.StartedAt, &sh.CompletedAt)
		if err != nil {
			return nil, err
		}
		history = append(history, sh)
	}
	return history, rows.Err()
}
