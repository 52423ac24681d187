package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/julienbonastre/fba-inbound-helpers/internal/inbound"
)

// CachePlacementOptions stores the option list of a plan for ttl
func (db *DB) CachePlacementOptions(inboundPlanID string, options []inbound.PlacementOption, ttl time.Duration) error {
	data, err := json.Marshal(options)
	if err != nil {
		return fmt.Errorf("failed to marshal placement options: %w", err)
	}
	expiresAt := db.now().Add(ttl).Unix()
	_, err = db.Exec(`
		INSERT INTO placement_option_cache (inbound_plan_id, options, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(inbound_plan_id) DO UPDATE SET
			options = excluded.options,
			expires_at = excluded.expires_at
	`, inboundPlanID, string(data), expiresAt)
	return err
}

// GetCachedPlacementOptions returns the cached options of a plan. ok is
// false when nothing is cached or the entry expired.
func (db *DB) GetCachedPlacementOptions(inboundPlanID string) ([]inbound.PlacementOption, bool, error) {
	var data string
	err := db.QueryRow(`
		SELECT options FROM placement_option_cache
		WHERE inbound_plan_id = ? AND expires_at > ?
	`, inboundPlanID, db.now().Unix()).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var options []inbound.PlacementOption
	if err := json.Unmarshal([]byte(data), &options); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached placement options: %w", err)
	}
	return options, true, nil
}

// ClearPlacementOptions drops the cached options of a plan
func (db *DB) ClearPlacementOptions(inboundPlanID string) error {
	_, err := db.Exec(`DELETE FROM placement_option_cache WHERE inbound_plan_id = ?`, inboundPlanID)
	return err
}

// PurgeExpiredPlacementOptions removes expired cache entries
func (db *DB) PurgeExpiredPlacementOptions() (int64, error) {
	result, err := db.Exec(`DELETE FROM placement_option_cache WHERE expires_at <= ?`, db.now().Unix())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
