package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/julienbonastre/fba-inbound-helpers/internal/inbound"
	"github.com/julienbonastre/fba-inbound-helpers/internal/metrics"
	"github.com/julienbonastre/fba-inbound-helpers/internal/sheet"
	"github.com/julienbonastre/fba-inbound-helpers/internal/store"
)

// Job types recorded in sync_history
const (
	SyncTypeStatusEstimate    = "status_estimate"
	SyncTypeInventoryEstimate = "inventory_estimate"
)

// TotalsProvider fetches shipped/received totals of a plan
type TotalsProvider interface {
	GetPlanQuantityTotals(ctx context.Context, inboundPlanID string) (inbound.QuantityTotals, error)
}

// Columns names the purchase sheet columns the jobs read and write
type Columns struct {
	Status            string `yaml:"status"`
	Plan              string `yaml:"plan"`
	StatusEstimate    string `yaml:"status_estimate"`
	ASIN              string `yaml:"asin"`
	PurchaseQuantity  string `yaml:"purchase_quantity"`
	InventoryEstimate string `yaml:"inventory_estimate"`
}

// Labels are the status values written to the sheet
type Labels struct {
	InTransit  string `yaml:"in_transit"`
	InStock    string `yaml:"in_stock"`
	OutOfStock string `yaml:"out_of_stock"`
}

// DefaultColumns returns the purchase sheet layout
func DefaultColumns() Columns {
	return Columns{
		Status:            "ステータス",
		Plan:              "納品プラン",
		StatusEstimate:    "ステータス推測値",
		ASIN:              "ASIN",
		PurchaseQuantity:  "購入数",
		InventoryEstimate: "在庫数推測値",
	}
}

// DefaultLabels returns the sheet's status labels
func DefaultLabels() Labels {
	return Labels{InTransit: "納品中", InStock: "在庫あり", OutOfStock: "在庫無し"}
}

// Label maps an estimated status to its sheet label
func (l Labels) Label(s inbound.ShipmentStatus) string {
	if s == inbound.StatusInStock {
		return l.InStock
	}
	return l.InTransit
}

// Result summarizes one job run
type Result struct {
	RunID   string `json:"runId"`
	Updated int    `json:"updated"`
	Skipped int    `json:"skipped"`
	Plans   int    `json:"plans,omitempty"`
	Changed int    `json:"changed,omitempty"`
}

// Service runs the reconciliation jobs over a purchase sheet
type Service struct {
	totals  TotalsProvider
	db      *store.DB
	columns Columns
	labels  Labels
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewService creates a reconciliation service. db may be nil to skip run history.
func NewService(totals TotalsProvider, db *store.DB, columns Columns, labels Labels, logger *zap.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		totals:  totals,
		db:      db,
		columns: columns,
		labels:  labels,
		logger:  logger.Named("reconcile"),
		metrics: m,
		now:     time.Now,
	}
}

// UpdateStatusEstimates re-fetches quantities for every in-transit row and
// writes the estimated status. Rows without a plan id or whose totals cannot
// be fetched are skipped. The sheet is saved when any row changed.
func (s *Service) UpdateStatusEstimates(ctx context.Context, sh *sheet.Sheet) (*Result, error) {
	run := s.startRun(SyncTypeStatusEstimate)
	result := &Result{RunID: run.RunID}
	cache := make(map[string]inbound.QuantityTotals)
	var lastErr error
	fail := func(err error) (*Result, error) {
		s.failRun(run, result, err)
		return nil, err
	}

	for _, row := range sh.Filter(s.columns.Status, s.labels.InTransit) {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		planID := inbound.ExtractPlanID(row.Get(s.columns.Plan))
		if planID == "" {
			s.logger.Warn("no inbound plan id in row, skipping", zap.Int("row", row.Number()))
			s.skip(result, "no_plan")
			continue
		}

		totals, ok := cache[planID]
		if !ok {
			var err error
			totals, err = s.totals.GetPlanQuantityTotals(ctx, planID)
			if err != nil {
				s.logger.Warn("failed to fetch plan quantities, skipping",
					zap.String("inboundPlanId", planID),
					zap.Int("row", row.Number()),
					zap.Error(err))
				s.skip(result, "fetch_failed")
				lastErr = err
				continue
			}
			cache[planID] = totals
		}

		estimate := s.labels.Label(totals.Status())
		if err := row.Set(s.columns.StatusEstimate, estimate); err != nil {
			return fail(err)
		}
		s.logger.Info("status estimated",
			zap.Int("row", row.Number()),
			zap.String("inboundPlanId", planID),
			zap.Int("shipped", totals.QuantityShipped),
			zap.Int("received", totals.QuantityReceived),
			zap.String("estimate", estimate))
		result.Updated++
		s.metrics.ObserveReconciledRow("updated")
	}
	result.Plans = len(cache)

	if result.Updated > 0 {
		if err := sh.Save(); err != nil {
			return fail(fmt.Errorf("failed to save sheet: %w", err))
		}
	}
	s.finishRun(run, result, lastErr)
	s.logger.Info("status estimate complete",
		zap.String("runId", result.RunID),
		zap.Int("updated", result.Updated),
		zap.Int("skipped", result.Skipped),
		zap.Int("plans", result.Plans))
	return result, nil
}

// LoadStock reads available units per ASIN from a stock sheet
func LoadStock(stock *sheet.Sheet, asinColumn, availableColumn string) (map[string]int, error) {
	for _, col := range []string{asinColumn, availableColumn} {
		if !stock.HasColumn(col) {
			return nil, fmt.Errorf("stock sheet has no %q column", col)
		}
	}
	out := make(map[string]int)
	for _, row := range stock.Rows() {
		asin := strings.TrimSpace(row.Get(asinColumn))
		if asin == "" {
			continue
		}
		out[asin] += wholeNumber(row.Get(availableColumn))
	}
	return out, nil
}

// UpdateInventoryEstimates spreads each ASIN's available stock over its
// in-stock purchase rows from the bottom of the sheet up. Each row gets
// min(purchased, remaining); a row that gets nothing is marked out of stock.
func (s *Service) UpdateInventoryEstimates(sh *sheet.Sheet, stock map[string]int) (*Result, error) {
	run := s.startRun(SyncTypeInventoryEstimate)
	result := &Result{RunID: run.RunID}
	fail := func(err error) (*Result, error) {
		s.failRun(run, result, err)
		return nil, err
	}

	groups := make(map[string][]*sheet.Row)
	var asins []string
	for _, row := range sh.Filter(s.columns.Status, s.labels.InStock) {
		asin := strings.TrimSpace(row.Get(s.columns.ASIN))
		if asin == "" {
			continue
		}
		if _, seen := groups[asin]; !seen {
			asins = append(asins, asin)
		}
		groups[asin] = append(groups[asin], row)
	}

	for _, asin := range asins {
		rows := groups[asin]
		sort.Slice(rows, func(i, j int) bool { return rows[i].Number() > rows[j].Number() })
		remaining := stock[asin]
		if remaining < 0 {
			remaining = 0
		}
		for _, row := range rows {
			estimate := min(wholeNumber(row.Get(s.columns.PurchaseQuantity)), remaining)
			remaining -= estimate
			if err := row.Set(s.columns.InventoryEstimate, fmt.Sprint(estimate)); err != nil {
				return fail(err)
			}
			result.Updated++
			if estimate == 0 {
				if err := row.Set(s.columns.StatusEstimate, s.labels.OutOfStock); err != nil {
					return fail(err)
				}
				result.Changed++
			}
			s.logger.Debug("inventory estimated",
				zap.String("asin", asin),
				zap.Int("row", row.Number()),
				zap.Int("estimate", estimate),
				zap.Int("remaining", remaining))
		}
	}

	if result.Updated > 0 {
		if err := sh.Save(); err != nil {
			return fail(fmt.Errorf("failed to save sheet: %w", err))
		}
	}
	s.finishRun(run, result, nil)
	s.logger.Info("inventory estimate complete",
		zap.String("runId", result.RunID),
		zap.Int("written", result.Updated),
		zap.Int("statusChanged", result.Changed),
		zap.Int("asins", len(asins)))
	return result, nil
}

func (s *Service) skip(result *Result, reason string) {
	result.Skipped++
	s.metrics.ObserveReconciledRow("skipped_" + reason)
}

func (s *Service) startRun(syncType string) *store.SyncHistory {
	run := &store.SyncHistory{
		RunID:     uuid.NewString(),
		SyncType:  syncType,
		Status:    "running",
		StartedAt: s.now(),
	}
	if s.db != nil {
		if err := s.db.CreateSyncHistory(run); err != nil {
			s.logger.Warn("failed to create sync history", zap.Error(err))
		}
	}
	return run
}

func (s *Service) finishRun(run *store.SyncHistory, result *Result, lastErr error) {
	now := s.now()
	run.CompletedAt = &now
	run.ItemsSynced = result.Updated
	run.ItemsSkipped = result.Skipped
	if result.Skipped > 0 {
		run.Status = "partial"
		if lastErr != nil {
			run.ErrorMessage = lastErr.Error()
		}
	} else {
		run.Status = "success"
	}
	if s.db != nil && run.ID != 0 {
		if err := s.db.UpdateSyncHistory(run); err != nil {
			s.logger.Warn("failed to update sync history", zap.Error(err))
		}
	}
}

// failRun records a run that stopped before the sheet was saved, so none
// of its updates were persisted
func (s *Service) failRun(run *store.SyncHistory, result *Result, err error) {
	now := s.now()
	run.CompletedAt = &now
	run.Status = "failed"
	run.ItemsSynced = 0
	run.ItemsSkipped = result.Skipped
	run.ErrorMessage = err.Error()
	if s.db != nil && run.ID != 0 {
		if uerr := s.db.UpdateSyncHistory(run); uerr != nil {
			s.logger.Warn("failed to update sync history", zap.Error(uerr))
		}
	}
	s.logger.Warn("run aborted", zap.String("runId", run.RunID), zap.String("syncType", run.SyncType), zap.Error(err))
}

func wholeNumber(raw string) int {
	raw = strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil || n < 0 {
		return 0
	}
	return int(n)
}
