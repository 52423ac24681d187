package store

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julienbonastre/fba-inbound-helpers/internal/inbound"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPlanLifecycle(t *testing.T) {
	db := openTestDB(t)

	missing, err := db.GetPlan("wf-none")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, db.SavePlan(&PlanRecord{InboundPlanID: "wf-1", OperationID: "op-1", Link: "https://x?wf=wf-1"}))
	p, err := db.GetPlan("wf-1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, PlanCreated, p.Status)
	assert.Equal(t, []string{}, p.ShipmentIDs)

	confirmed, err := db.IsPlanConfirmed("wf-1")
	require.NoError(t, err)
	assert.False(t, confirmed)

	require.NoError(t, db.MarkPlanConfirmed("wf-1", "po-1", []string{"sh-1"}))
	require.ErrorIs(t, db.MarkPlanConfirmed("wf-1", "po-2", nil), inbound.ErrPlanAlreadyConfirmed)

	p, err = db.GetPlan("wf-1")
	require.NoError(t, err)
	assert.Equal(t, PlanConfirmed, p.Status)
	assert.Equal(t, "po-1", p.PlacementOptionID)
	assert.Equal(t, []string{"sh-1"}, p.ShipmentIDs)
	assert.Equal(t, "op-1", p.OperationID)

	// a later save must not reopen a confirmed plan
	require.NoError(t, db.SavePlan(&PlanRecord{InboundPlanID: "wf-1", Status: PlanAwaitingSelection}))
	p, err = db.GetPlan("wf-1")
	require.NoError(t, err)
	assert.Equal(t, PlanConfirmed, p.Status)
}

func TestMarkUnknownPlanConfirmed(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.MarkPlanConfirmed("wf-2", "po-1", nil))
	confirmed, err := db.IsPlanConfirmed("wf-2")
	require.NoError(t, err)
	assert.True(t, confirmed)
}

func TestConfirmationClaim(t *testing.T) {
	db := openTestDB(t)
	now := time.Unix(1_700_000_000, 0)
	db.now = func() time.Time { return now }
	require.NoError(t, db.SavePlan(&PlanRecord{InboundPlanID: "wf-1", Status: PlanAwaitingSelection}))

	require.NoError(t, db.ClaimConfirmation("wf-1"))
	require.ErrorIs(t, db.ClaimConfirmation("wf-1"), inbound.ErrPlanBusy)

	// saves while claimed keep the claim
	require.NoError(t, db.SavePlan(&PlanRecord{InboundPlanID: "wf-1", Status: PlanCreated}))
	p, err := db.GetPlan("wf-1")
	require.NoError(t, err)
	assert.Equal(t, PlanConfirming, p.Status)

	require.NoError(t, db.ReleaseConfirmation("wf-1"))
	p, err = db.GetPlan("wf-1")
	require.NoError(t, err)
	assert.Equal(t, PlanAwaitingSelection, p.Status)

	require.NoError(t, db.ClaimConfirmation("wf-1"))
	require.NoError(t, db.MarkPlanConfirmed("wf-1", "po-1", []string{"sh-1"}))
	require.ErrorIs(t, db.ClaimConfirmation("wf-1"), inbound.ErrPlanAlreadyConfirmed)
}

func TestConfirmationClaimExpires(t *testing.T) {
	db := openTestDB(t)
	now := time.Unix(1_700_000_000, 0)
	db.now = func() time.Time { return now }

	require.NoError(t, db.ClaimConfirmation("wf-1"))
	now = now.Add(ConfirmClaimTTL - time.Second)
	require.ErrorIs(t, db.ClaimConfirmation("wf-1"), inbound.ErrPlanBusy)

	now = now.Add(2 * time.Second)
	require.NoError(t, db.ClaimConfirmation("wf-1"))
	require.NoError(t, db.ReleaseConfirmation("wf-1"))
	p, err := db.GetPlan("wf-1")
	require.NoError(t, err)
	assert.Equal(t, PlanCreated, p.Status)
}

func TestOpenAddsClaimColumnsToOlderFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	raw, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = raw.Exec(`CREATE TABLE inbound_plans (
		inbound_plan_id TEXT PRIMARY KEY,
		operation_id TEXT NOT NULL DEFAULT '',
		link TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'created',
		placement_option_id TEXT NOT NULL DEFAULT '',
		shipment_ids TEXT NOT NULL DEFAULT '[]',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	db, err := Open(path)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.ClaimConfirmation("wf-1"))
}

func TestASINQuantities(t *testing.T) {
	items := []inbound.LineItem{
		{SKU: "A", ASIN: "B01", Quantity: 2},
		{SKU: "B", ASIN: "B01", Quantity: 3},
		{SKU: "C", ASIN: "", Quantity: 9},
		{SKU: "D", ASIN: "B02", Quantity: 0},
	}
	q := ASINQuantities(items)
	assert.Equal(t, map[string]int{"B01": 5}, q)

	db := openTestDB(t)
	require.NoError(t, db.RecordASINQuantities("wf-1", q))
	got, err := db.GetASINQuantities("wf-1")
	require.NoError(t, err)
	assert.Equal(t, q, got)
}

func TestPlacementOptionCacheExpiry(t *testing.T) {
	db := openTestDB(t)
	now := time.Unix(1_700_000_000, 0)
	db.now = func() time.Time { return now }

	opts := []inbound.PlacementOption{{"placementOptionId": "po-1"}, {"placementOptionId": "po-2", "mode": "PALLET"}}
	require.NoError(t, db.CachePlacementOptions("wf-1", opts, time.Hour))

	got, ok, err := db.GetCachedPlacementOptions("wf-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, got, 2)
	assert.Equal(t, "po-2", got[1].ID())

	now = now.Add(time.Hour + time.Second)
	_, ok, err = db.GetCachedPlacementOptions("wf-1")
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := db.PurgeExpiredPlacementOptions()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, db.CachePlacementOptions("wf-1", opts, time.Hour))
	require.NoError(t, db.ClearPlacementOptions("wf-1"))
	_, ok, err = db.GetCachedPlacementOptions("wf-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSyncHistory(t *testing.T) {
	db := openTestDB(t)

	sh := &SyncHistory{RunID: "run-1", SyncType: "status_estimate", Status: "running", StartedAt: time.Now()}
	require.NoError(t, db.CreateSyncHistory(sh))
	require.NotZero(t, sh.ID)

	done := time.Now()
	sh.Status = "partial"
	sh.ItemsSynced = 3
	sh.ItemsSkipped = 1
	sh.ErrorMessage = "one row failed"
	sh.CompletedAt = &done
	require.NoError(t, db.UpdateSyncHistory(sh))

	history, err := db.GetSyncHistory("status_estimate", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "partial", history[0].Status)
	assert.Equal(t, 1, history[0].ItemsSkipped)
	assert.NotNil(t, history[0].CompletedAt)
}

func TestSessionStoreRoundTrip(t *testing.T) {
	db := openTestDB(t)
	store := NewSessionStore(db, []byte("0123456789abcdef0123456789abcdef"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	session, err := store.Get(req, "selection")
	require.NoError(t, err)
	assert.True(t, session.IsNew)
	session.Values["inboundPlanId"] = "wf-1"
	require.NoError(t, session.Save(req, rec))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)

	req2 := httptest.NewRequest(http.MethodGet, "/", nil)
	req2.AddCookie(cookies[0])
	loaded, err := store.Get(req2, "selection")
	require.NoError(t, err)
	assert.False(t, loaded.IsNew)
	assert.Equal(t, "wf-1", loaded.Values["inboundPlanId"])

	require.NoError(t, store.CleanupExpiredSessions())
}
