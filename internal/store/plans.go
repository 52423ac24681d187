package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/julienbonastre/fba-inbound-helpers/internal/inbound"
)

// PlanStatus is the locally recorded stage of an inbound plan
type PlanStatus string

const (
	PlanCreated           PlanStatus = "created"
	PlanAwaitingSelection PlanStatus = "awaiting_selection"
	PlanConfirming        PlanStatus = "confirming"
	PlanConfirmed         PlanStatus = "confirmed"
)

// ConfirmClaimTTL bounds how long a confirmation claim blocks other
// writers when its holder died without releasing it
const ConfirmClaimTTL = 15 * time.Minute

// PlanRecord is a plan created by this tool
type PlanRecord struct {
	InboundPlanID     string     `json:"inboundPlanId"`
	OperationID       string     `json:"operationId"`
	Link              string     `json:"link"`
	Status            PlanStatus `json:"status"`
	PlacementOptionID string     `json:"placementOptionId,omitempty"`
	ShipmentIDs       []string   `json:"shipmentIds"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

// SavePlan inserts or updates a plan record. A confirmed or claimed plan
// keeps its status and confirmation details.
func (db *DB) SavePlan(p *PlanRecord) error {
	if p.Status == "" {
		p.Status = PlanCreated
	}
	ids, err := json.Marshal(nonNil(p.ShipmentIDs))
	if err != nil {
		return err
	}
	_, err = db.Exec(`
		INSERT INTO inbound_plans (inbound_plan_id, operation_id, link, status, placement_option_id, shipment_ids)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(inbound_plan_id) DO UPDATE SET
			operation_id = excluded.operation_id,
			link = excluded.link,
			status = excluded.status,
			placement_option_id = excluded.placement_option_id,
			shipment_ids = excluded.shipment_ids,
			updated_at = CURRENT_TIMESTAMP
		WHERE inbound_plans.status NOT IN ('confirmed', 'confirming')
	`, p.InboundPlanID, p.OperationID, p.Link, string(p.Status), p.PlacementOptionID, string(ids))
	if err != nil {
		return fmt.Errorf("failed to save plan %s: %w", p.InboundPlanID, err)
	}
	return nil
}

// GetPlan returns a plan record, or nil when it is unknown
func (db *DB) GetPlan(inboundPlanID string) (*PlanRecord, error) {
	var p PlanRecord
	var status, ids string
	err := db.QueryRow(`
		SELECT inbound_plan_id, operation_id, link, status, placement_option_id, shipment_ids, created_at, updated_at
		FROM inbound_plans
		WHERE inbound_plan_id = ?
	`, inboundPlanID).Scan(&p.InboundPlanID, &p.OperationID, &p.Link, &status, &p.PlacementOptionID, &ids, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.Status = PlanStatus(status)
	if err := json.Unmarshal([]byte(ids), &p.ShipmentIDs); err != nil {
		return nil, fmt.Errorf("failed to decode shipment ids of plan %s: %w", inboundPlanID, err)
	}
	return &p, nil
}

// IsPlanConfirmed reports whether a confirmation was recorded for the plan
func (db *DB) IsPlanConfirmed(inboundPlanID string) (bool, error) {
	var n int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM inbound_plans WHERE inbound_plan_id = ? AND status = 'confirmed'
	`, inboundPlanID).Scan(&n)
	return n > 0, err
}

// ClaimConfirmation marks the plan as being confirmed so no other process
// sends a second remote confirmation. It returns inbound.ErrPlanAlreadyConfirmed
// for a confirmed plan and inbound.ErrPlanBusy while another live claim
// holds it. Claims older than ConfirmClaimTTL are taken over.
func (db *DB) ClaimConfirmation(inboundPlanID string) error {
	now := db.now().Unix()
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT OR IGNORE INTO inbound_plans (inbound_plan_id) VALUES (?)`, inboundPlanID); err != nil {
		return err
	}
	result, err := tx.Exec(`
		UPDATE inbound_plans SET
			claimed_status = CASE WHEN status = 'confirming' THEN claimed_status ELSE status END,
			status = 'confirming',
			claimed_at = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE inbound_plan_id = ?
			AND (status NOT IN ('confirmed', 'confirming')
				OR (status = 'confirming' AND claimed_at <= ?))
	`, now, inboundPlanID, now-int64(ConfirmClaimTTL/time.Second))
	if err != nil {
		return fmt.Errorf("failed to claim plan %s: %w", inboundPlanID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var status string
		if err := tx.QueryRow(`SELECT status FROM inbound_plans WHERE inbound_plan_id = ?`, inboundPlanID).Scan(&status); err != nil {
			return err
		}
		if PlanStatus(status) == PlanConfirmed {
			return inbound.ErrPlanAlreadyConfirmed
		}
		return inbound.ErrPlanBusy
	}
	return tx.Commit()
}

// ReleaseConfirmation drops a claim after a failed confirmation and
// restores the status the plan had before it
func (db *DB) ReleaseConfirmation(inboundPlanID string) error {
	_, err := db.Exec(`
		UPDATE inbound_plans SET
			status = CASE WHEN claimed_status = '' THEN 'created' ELSE claimed_status END,
			claimed_status = '',
			claimed_at = 0,
			updated_at = CURRENT_TIMESTAMP
		WHERE inbound_plan_id = ? AND status = 'confirming'
	`, inboundPlanID)
	return err
}

// MarkPlanConfirmed records the confirmed option and shipments. It returns
// inbound.ErrPlanAlreadyConfirmed if the plan was confirmed before.
func (db *DB) MarkPlanConfirmed(inboundPlanID, placementOptionID string, shipmentIDs []string) error {
	ids, err := json.Marshal(nonNil(shipmentIDs))
	if err != nil {
		return err
	}
	result, err := db.Exec(`
		INSERT INTO inbound_plans (inbound_plan_id, status, placement_option_id, shipment_ids)
		VALUES (?, 'confirmed', ?, ?)
		ON CONFLICT(inbound_plan_id) DO UPDATE SET
			status = 'confirmed',
			placement_option_id = excluded.placement_option_id,
			shipment_ids = excluded.shipment_ids,
			claimed_status = '',
			claimed_at = 0,
			updated_at = CURRENT_TIMESTAMP
		WHERE inbound_plans.status != 'confirmed'
	`, inboundPlanID, placementOptionID, string(ids))
	if err != nil {
		return fmt.Errorf("failed to mark plan %s confirmed: %w", inboundPlanID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return inbound.ErrPlanAlreadyConfirmed
	}
	return nil
}

// RecordASINQuantities stores the per-ASIN unit counts submitted with a plan
func (db *DB) RecordASINQuantities(inboundPlanID string, quantities map[string]int) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT OR IGNORE INTO inbound_plans (inbound_plan_id) VALUES (?)`, inboundPlanID); err != nil {
		return err
	}
	for asin, qty := range quantities {
		_, err := tx.Exec(`
			INSERT INTO plan_asin_quantities (inbound_plan_id, asin, quantity)
			VALUES (?, ?, ?)
			ON CONFLICT(inbound_plan_id, asin) DO UPDATE SET quantity = excluded.quantity, recorded_at = CURRENT_TIMESTAMP
		`, inboundPlanID, asin, qty)
		if err != nil {
			return fmt.Errorf("failed to record %s for plan %s: %w", asin, inboundPlanID, err)
		}
	}
	return tx.Commit()
}

// GetASINQuantities returns the recorded per-ASIN unit counts of a plan
func (db *DB) GetASINQuantities(inboundPlanID string) (map[string]int, error) {
	rows, err := db.Query(`
		SELECT asin, quantity FROM plan_asin_quantities WHERE inbound_plan_id = ?
	`, inboundPlanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var asin string
		var qty int
		if err := rows.Scan(&asin, &qty); err != nil {
			return nil, err
		}
		out[asin] = qty
	}
	return out, rows.Err()
}

// ASINQuantities sums positive quantities per non-empty ASIN
func ASINQuantities(items []inbound.LineItem) map[string]int {
	out := make(map[string]int)
	for _, it := range items {
		if it.ASIN == "" || it.Quantity <= 0 {
			continue
		}
		out[it.ASIN] += it.Quantity
	}
	return out
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
