package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/julienbonastre/fba-inbound-helpers/internal/inbound"
	"github.com/julienbonastre/fba-inbound-helpers/internal/metrics"
	"github.com/julienbonastre/fba-inbound-helpers/internal/packing"
	"github.com/julienbonastre/fba-inbound-helpers/internal/spapi"
	"github.com/julienbonastre/fba-inbound-helpers/internal/store"
)

// DefaultOptionCacheTTL is how long placement options stay selectable
const DefaultOptionCacheTTL = time.Hour

// PlanAPI is the part of the SP-API client the workflows drive
type PlanAPI interface {
	CreatePlanWithRetry(ctx context.Context, items []inbound.LineItem) (*spapi.CreatedPlan, error)
	WaitInboundPlanCreation(ctx context.Context, operationID string) error
	GetPlacementOptions(ctx context.Context, inboundPlanID string) ([]inbound.PlacementOption, error)
	ListPlacementOptions(ctx context.Context, inboundPlanID string) ([]inbound.PlacementOption, error)
	ConfirmPlacementOption(ctx context.Context, inboundPlanID, placementOptionID string) ([]spapi.Shipment, error)
	GetPackingGroupID(ctx context.Context, inboundPlanID string) (string, error)
	SetPackingInformation(ctx context.Context, inboundPlanID, packingGroupID string, boxes []spapi.Box) error
	PlanLink(inboundPlanID string) string
}

var _ PlanAPI = (*spapi.Client)(nil)

// Config tunes the orchestrator
type Config struct {
	OptionCacheTTL time.Duration

	// RevalidateOptions lists options from the API before every confirmation
	// instead of trusting the cache.
	RevalidateOptions bool
}

// PlanResult is what a finished workflow reports back to the sheet
type PlanResult struct {
	InboundPlanID     string             `json:"inboundPlanId"`
	OperationID       string             `json:"operationId"`
	Link              string             `json:"link"`
	PlacementOptionID string             `json:"placementOptionId,omitempty"`
	ShipmentIDs       []string           `json:"shipmentIds"`
	Items             []inbound.LineItem `json:"items,omitempty"`
}

// Selection is a created plan waiting for a human to pick an option
type Selection struct {
	Plan       PlanResult                `json:"plan"`
	Options    []inbound.PlacementOption `json:"options"`
	Selectable []inbound.PlacementOption `json:"selectable"`
}

// PackingResult summarizes a packing information submission
type PackingResult struct {
	InboundPlanID  string `json:"inboundPlanId"`
	PackingGroupID string `json:"packingGroupId"`
	CartonCount    int    `json:"cartonCount"`
	BoxGroups      int    `json:"boxGroups"`
}

// Orchestrator runs the inbound plan workflows
type Orchestrator struct {
	api     PlanAPI
	db      *store.DB
	config  Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	creates singleflight.Group

	mu     sync.Mutex
	active map[string]struct{}
}

// New creates an orchestrator
func New(api PlanAPI, db *store.DB, cfg Config, logger *zap.Logger, m *metrics.Metrics) *Orchestrator {
	if cfg.OptionCacheTTL <= 0 {
		cfg.OptionCacheTTL = DefaultOptionCacheTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		api:     api,
		db:      db,
		config:  cfg,
		logger:  logger.Named("workflow"),
		metrics: m,
		active:  make(map[string]struct{}),
	}
}

// lockPlan claims a plan for the generate/confirm phases. The returned
// func releases it.
func (o *Orchestrator) lockPlan(inboundPlanID string) (func(), error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.active[inboundPlanID]; busy {
		return nil, fmt.Errorf("plan %s: %w", inboundPlanID, inbound.ErrPlanBusy)
	}
	o.active[inboundPlanID] = struct{}{}
	return func() {
		o.mu.Lock()
		delete(o.active, inboundPlanID)
		o.mu.Unlock()
	}, nil
}

// CreatePlan creates a plan and confirms the first placement option
func (o *Orchestrator) CreatePlan(ctx context.Context, items []inbound.LineItem) (*PlanResult, error) {
	v, err, shared := o.creates.Do("auto:"+inbound.Fingerprint(items), func() (any, error) {
		plan, err := o.create(ctx, items)
		if err != nil {
			return nil, err
		}
		unlock, err := o.lockPlan(plan.InboundPlanID)
		if err != nil {
			return nil, err
		}
		defer unlock()

		options, err := o.api.GetPlacementOptions(ctx, plan.InboundPlanID)
		if err != nil {
			return nil, err
		}
		if len(options) == 0 {
			return nil, &inbound.NoOptionsError{InboundPlanID: plan.InboundPlanID}
		}
		// first option, no cost or transport comparison
		if err := o.confirm(ctx, plan, options[0], true); err != nil {
			return nil, err
		}
		return plan, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		o.logger.Info("joined an in-flight plan creation for the same items")
	}
	result := *v.(*PlanResult)
	return &result, nil
}

// CreatePlanAndAwaitSelection creates a plan, generates its placement
// options and caches them for a later ConfirmPlacementOption.
func (o *Orchestrator) CreatePlanAndAwaitSelection(ctx context.Context, items []inbound.LineItem) (*Selection, error) {
	v, err, _ := o.creates.Do("select:"+inbound.Fingerprint(items), func() (any, error) {
		plan, err := o.create(ctx, items)
		if err != nil {
			return nil, err
		}
		return o.prepareSelection(ctx, plan)
	})
	if err != nil {
		return nil, err
	}
	sel := *v.(*Selection)
	return &sel, nil
}

// PlacementOptions regenerates the options of an existing plan for selection
func (o *Orchestrator) PlacementOptions(ctx context.Context, inboundPlanID string) (*Selection, error) {
	if inboundPlanID == "" {
		return nil, &inbound.PreconditionError{Message: "inbound plan id is required"}
	}
	plan := &PlanResult{InboundPlanID: inboundPlanID, Link: o.api.PlanLink(inboundPlanID), ShipmentIDs: []string{}}
	if rec, err := o.db.GetPlan(inboundPlanID); err != nil {
		return nil, err
	} else if rec != nil {
		if rec.Status == store.PlanConfirmed {
			return nil, fmt.Errorf("plan %s: %w", inboundPlanID, inbound.ErrPlanAlreadyConfirmed)
		}
		plan.OperationID = rec.OperationID
	}
	return o.prepareSelection(ctx, plan)
}

// CachedSelection returns the cached options of a plan without calling the API
func (o *Orchestrator) CachedSelection(inboundPlanID string) (*Selection, bool, error) {
	options, ok, err := o.db.GetCachedPlacementOptions(inboundPlanID)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &Selection{
		Plan:       PlanResult{InboundPlanID: inboundPlanID, Link: o.api.PlanLink(inboundPlanID), ShipmentIDs: []string{}},
		Options:    options,
		Selectable: inbound.FilterSelectable(options),
	}, true, nil
}

func (o *Orchestrator) prepareSelection(ctx context.Context, plan *PlanResult) (*Selection, error) {
	unlock, err := o.lockPlan(plan.InboundPlanID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	options, err := o.api.GetPlacementOptions(ctx, plan.InboundPlanID)
	if err != nil {
		return nil, err
	}
	if err := o.db.CachePlacementOptions(plan.InboundPlanID, options, o.config.OptionCacheTTL); err != nil {
		return nil, fmt.Errorf("failed to cache placement options: %w", err)
	}
	if err := o.db.SavePlan(&store.PlanRecord{
		InboundPlanID: plan.InboundPlanID,
		OperationID:   plan.OperationID,
		Link:          plan.Link,
		Status:        store.PlanAwaitingSelection,
	}); err != nil {
		return nil, err
	}
	selectable := inbound.FilterSelectable(options)
	o.logger.Info("placement options ready for selection",
		zap.String("inboundPlanId", plan.InboundPlanID),
		zap.Int("options", len(options)),
		zap.Int("selectable", len(selectable)))
	return &Selection{Plan: *plan, Options: options, Selectable: selectable}, nil
}

// ConfirmPlacementOption confirms a human-picked option. Pallet-like
// options are refused unless allowPallet is set.
func (o *Orchestrator) ConfirmPlacementOption(ctx context.Context, inboundPlanID, placementOptionID string, allowPallet bool) (*PlanResult, error) {
	if inboundPlanID == "" || placementOptionID == "" {
		return nil, &inbound.PreconditionError{Message: "inbound plan id and placement option id are required"}
	}
	unlock, err := o.lockPlan(inboundPlanID)
	if err != nil {
		o.metrics.ObserveConfirm("busy")
		return nil, err
	}
	defer unlock()

	confirmed, err := o.db.IsPlanConfirmed(inboundPlanID)
	if err != nil {
		return nil, err
	}
	if confirmed {
		o.metrics.ObserveConfirm("duplicate")
		return nil, fmt.Errorf("plan %s: %w", inboundPlanID, inbound.ErrPlanAlreadyConfirmed)
	}

	options, err := o.optionsForConfirm(ctx, inboundPlanID)
	if err != nil {
		return nil, err
	}
	option, ok := inbound.FindOption(options, placementOptionID)
	if !ok {
		return nil, fmt.Errorf("placement option %s of plan %s: %w", placementOptionID, inboundPlanID, inbound.ErrOptionNotFound)
	}

	plan := &PlanResult{InboundPlanID: inboundPlanID, Link: o.api.PlanLink(inboundPlanID)}
	if rec, err := o.db.GetPlan(inboundPlanID); err == nil && rec != nil {
		plan.OperationID = rec.OperationID
	}
	if err := o.confirm(ctx, plan, option, allowPallet); err != nil {
		return nil, err
	}
	return plan, nil
}

func (o *Orchestrator) optionsForConfirm(ctx context.Context, inboundPlanID string) ([]inbound.PlacementOption, error) {
	if !o.config.RevalidateOptions {
		cached, ok, err := o.db.GetCachedPlacementOptions(inboundPlanID)
		if err != nil {
			o.logger.Warn("placement option cache unreadable, listing from API", zap.Error(err))
		} else if ok {
			return cached, nil
		}
	}
	return o.api.ListPlacementOptions(ctx, inboundPlanID)
}

// create submits the plan, records it and waits for the creation operation
func (o *Orchestrator) create(ctx context.Context, items []inbound.LineItem) (*PlanResult, error) {
	created, err := o.api.CreatePlanWithRetry(ctx, items)
	if err != nil {
		return nil, err
	}
	plan := &PlanResult{
		InboundPlanID: created.InboundPlanID,
		OperationID:   created.OperationID,
		Link:          o.api.PlanLink(created.InboundPlanID),
		ShipmentIDs:   []string{},
		Items:         created.Items,
	}
	if err := o.db.SavePlan(&store.PlanRecord{
		InboundPlanID: plan.InboundPlanID,
		OperationID:   plan.OperationID,
		Link:          plan.Link,
		Status:        store.PlanCreated,
	}); err != nil {
		return nil, err
	}
	if err := o.db.RecordASINQuantities(plan.InboundPlanID, store.ASINQuantities(items)); err != nil {
		// the plan exists remotely, a missing work record is not fatal
		o.logger.Error("failed to record ASIN quantities",
			zap.String("inboundPlanId", plan.InboundPlanID), zap.Error(err))
	}

	if err := o.api.WaitInboundPlanCreation(ctx, plan.OperationID); err != nil {
		return nil, fmt.Errorf("plan %s: %w", plan.InboundPlanID, err)
	}
	return plan, nil
}

// confirm guards, confirms and records one option. The caller holds the plan lock.
func (o *Orchestrator) confirm(ctx context.Context, plan *PlanResult, option inbound.PlacementOption, allowPallet bool) error {
	if !allowPallet && inbound.IsPalletLike(option) {
		o.metrics.ObserveConfirm("guarded")
		o.logger.Warn("refusing pallet-like placement option",
			zap.String("inboundPlanId", plan.InboundPlanID),
			zap.String("placementOptionId", option.ID()))
		return &inbound.PalletGuardError{InboundPlanID: plan.InboundPlanID, PlacementOptionID: option.ID()}
	}

	// the in-process lock does not cover other processes on the same database
	if err := o.db.ClaimConfirmation(plan.InboundPlanID); err != nil {
		switch {
		case errors.Is(err, inbound.ErrPlanAlreadyConfirmed):
			o.metrics.ObserveConfirm("duplicate")
		case errors.Is(err, inbound.ErrPlanBusy):
			o.metrics.ObserveConfirm("busy")
		}
		return fmt.Errorf("plan %s: %w", plan.InboundPlanID, err)
	}

	shipments, err := o.api.ConfirmPlacementOption(ctx, plan.InboundPlanID, option.ID())
	if err != nil {
		o.metrics.ObserveConfirm("failed")
		if rerr := o.db.ReleaseConfirmation(plan.InboundPlanID); rerr != nil {
			o.logger.Error("failed to release confirmation claim",
				zap.String("inboundPlanId", plan.InboundPlanID), zap.Error(rerr))
		}
		return err
	}
	plan.PlacementOptionID = option.ID()
	plan.ShipmentIDs = spapi.ShipmentIDs(shipments)

	// a failed write leaves the claim in place until it expires
	if err := o.db.MarkPlanConfirmed(plan.InboundPlanID, plan.PlacementOptionID, plan.ShipmentIDs); err != nil {
		o.logger.Error("failed to record confirmation", zap.String("inboundPlanId", plan.InboundPlanID), zap.Error(err))
	}
	if err := o.db.ClearPlacementOptions(plan.InboundPlanID); err != nil {
		o.logger.Warn("failed to clear cached placement options", zap.Error(err))
	}
	o.metrics.ObserveConfirm("confirmed")
	o.logger.Info("inbound plan confirmed",
		zap.String("inboundPlanId", plan.InboundPlanID),
		zap.String("placementOptionId", plan.PlacementOptionID),
		zap.Strings("shipmentIds", plan.ShipmentIDs),
		zap.String("link", plan.Link))
	return nil
}

// SubmitPackingInfo parses carton text and sends it as the packing
// information of the plan's first packing group.
func (o *Orchestrator) SubmitPackingInfo(ctx context.Context, inboundPlanID, cartonText string) (*PackingResult, error) {
	if inboundPlanID == "" {
		return nil, &inbound.PreconditionError{Message: "inbound plan id is required"}
	}
	cartons, err := packing.ParseCartons(cartonText)
	if err != nil {
		return nil, err
	}
	boxes := packing.BuildBoxes(cartons)

	unlock, err := o.lockPlan(inboundPlanID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	groupID, err := o.api.GetPackingGroupID(ctx, inboundPlanID)
	if err != nil {
		return nil, err
	}
	if err := o.api.SetPackingInformation(ctx, inboundPlanID, groupID, boxes); err != nil {
		return nil, err
	}
	o.logger.Info("packing information submitted",
		zap.String("inboundPlanId", inboundPlanID),
		zap.String("packingGroupId", groupID),
		zap.Int("cartons", len(cartons)))
	return &PackingResult{
		InboundPlanID:  inboundPlanID,
		PackingGroupID: groupID,
		CartonCount:    len(cartons),
		BoxGroups:      len(boxes),
	}, nil
}
