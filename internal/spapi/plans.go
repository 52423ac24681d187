package spapi

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/julienbonastre/fba-inbound-helpers/internal/inbound"
)

const (
	labelPlanCreation       = "inbound plan creation"
	labelOptionGeneration   = "placement option generation"
	labelOptionConfirmation = "placement option confirmation"
)

type planItem struct {
	MSKU       string        `json:"msku"`
	Quantity   int           `json:"quantity"`
	LabelOwner inbound.Owner `json:"labelOwner"`
	PrepOwner  inbound.Owner `json:"prepOwner"`
}

type createPlanRequest struct {
	DestinationMarketplaces []string   `json:"destinationMarketplaces"`
	SourceAddress           Address    `json:"sourceAddress"`
	Items                   []planItem `json:"items"`
	Name                    string     `json:"name"`
}

// CreatedPlan is the accepted result of a plan creation request
type CreatedPlan struct {
	InboundPlanID string `json:"inboundPlanId"`
	OperationID   string `json:"operationId"`

	// Items is the item set the API accepted, after any prepOwner repair
	Items []inbound.LineItem `json:"-"`
}

// Shipment is a shipment produced by a confirmed placement option
type Shipment struct {
	ShipmentID string `json:"shipmentId"`
	Status     string `json:"status,omitempty"`
}

type pagination struct {
	NextToken string `json:"nextToken"`
}

// CreateInboundPlan submits a single plan creation request
func (c *Client) CreateInboundPlan(ctx context.Context, items []inbound.LineItem) (*CreatedPlan, error) {
	req := createPlanRequest{
		DestinationMarketplaces: []string{c.config.MarketplaceID},
		SourceAddress:           c.config.SourceAddress,
		Items:                   make([]planItem, 0, len(items)),
		Name:                    "Inbound " + c.now().In(c.config.Location).Format("2006-01-02 15:04"),
	}
	for _, it := range items {
		label := it.LabelOwner
		if label == "" {
			label = inbound.OwnerSeller
		}
		prep := it.PrepOwner
		if prep == "" {
			prep = inbound.OwnerNone
		}
		req.Items = append(req.Items, planItem{MSKU: it.SKU, Quantity: it.Quantity, LabelOwner: label, PrepOwner: prep})
	}

	var plan CreatedPlan
	if err := c.call(ctx, "create inbound plan", http.MethodPost, inboundPath+"/inboundPlans", req, http.StatusAccepted, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// CreatePlanWithRetry creates a plan, repairing prepOwner values the API
// rejects and resubmitting up to MaxCreateRetries times. Errors without a
// recognizable prepOwner issue are returned after the first attempt.
func (c *Client) CreatePlanWithRetry(ctx context.Context, items []inbound.LineItem) (*CreatedPlan, error) {
	if len(items) == 0 {
		return nil, &inbound.ValidationError{Message: "cannot create an inbound plan without items"}
	}
	work := make([]inbound.LineItem, len(items))
	copy(work, items)
	for i := range work {
		if work[i].PrepOwner == "" {
			work[i].PrepOwner = inbound.OwnerNone
		}
	}

	for attempt := 0; ; attempt++ {
		plan, err := c.CreateInboundPlan(ctx, work)
		if err == nil {
			c.metrics.ObserveCreateAttempt("accepted")
			c.logger.Info("inbound plan created",
				zap.String("inboundPlanId", plan.InboundPlanID),
				zap.String("operationId", plan.OperationID),
				zap.Int("attempts", attempt+1))
			plan.Items = work
			return plan, nil
		}
		c.metrics.ObserveCreateAttempt("rejected")

		var reqErr *inbound.RemoteRequestError
		if !errors.As(err, &reqErr) {
			return nil, err
		}
		parsed := inbound.ParseRemoteError(reqErr.Error())
		if parsed.Kind != inbound.RemoteErrorValidation {
			return nil, err
		}
		if attempt >= c.config.MaxCreateRetries {
			c.logger.Error("prepOwner retries exhausted", zap.Int("attempts", attempt+1), zap.Error(err))
			return nil, err
		}

		fixes := parsed.PrepOwnerFixes()
		if !inbound.ApplyPrepOwnerFixes(work, fixes) {
			c.logger.Error("plan creation rejected for a reason other than prepOwner", zap.Error(err))
			return nil, err
		}
		for _, fix := range fixes {
			c.logger.Info("correcting prepOwner",
				zap.String("sku", fix.SKU),
				zap.String("prepOwner", string(fix.PrepOwner)))
		}
		c.metrics.ObservePrepOwnerCorrection()
		c.logger.Info("retrying plan creation with corrected prepOwner",
			zap.Int("retry", attempt+1),
			zap.Int("maxRetries", c.config.MaxCreateRetries))
	}
}

// WaitInboundPlanCreation waits for the plan creation operation
func (c *Client) WaitInboundPlanCreation(ctx context.Context, operationID string) error {
	if operationID == "" {
		return &inbound.PreconditionError{Message: "operationId is required to wait for plan creation"}
	}
	return c.poller.WaitForCompletion(ctx, operationID, labelPlanCreation)
}

// GeneratePlacementOptions starts placement option generation and returns its operation id
func (c *Client) GeneratePlacementOptions(ctx context.Context, inboundPlanID string) (string, error) {
	var out struct {
		OperationID string `json:"operationId"`
	}
	path := inboundPath + "/inboundPlans/" + url.PathEscape(inboundPlanID) + "/placementOptions"
	if err := c.call(ctx, "generate placement options", http.MethodPost, path, nil, http.StatusAccepted, &out); err != nil {
		return "", err
	}
	return out.OperationID, nil
}

// ListPlacementOptions lists every placement option of a plan. An empty
// list is a NoOptionsError.
func (c *Client) ListPlacementOptions(ctx context.Context, inboundPlanID string) ([]inbound.PlacementOption, error) {
	base := inboundPath + "/inboundPlans/" + url.PathEscape(inboundPlanID) + "/placementOptions"
	var options []inbound.PlacementOption
	token := ""
	for {
		var page struct {
			PlacementOptions []inbound.PlacementOption `json:"placementOptions"`
			Pagination       *pagination               `json:"pagination"`
		}
		if err := c.call(ctx, "list placement options", http.MethodGet, pagedPath(base, token), nil, http.StatusOK, &page); err != nil {
			return nil, err
		}
		options = append(options, page.PlacementOptions...)
		if page.Pagination == nil || page.Pagination.NextToken == "" {
			break
		}
		token = page.Pagination.NextToken
	}
	if len(options) == 0 {
		return nil, &inbound.NoOptionsError{InboundPlanID: inboundPlanID}
	}
	return options, nil
}

// GetPlacementOptions generates options, waits for generation and lists them
func (c *Client) GetPlacementOptions(ctx context.Context, inboundPlanID string) ([]inbound.PlacementOption, error) {
	operationID, err := c.GeneratePlacementOptions(ctx, inboundPlanID)
	if err != nil {
		return nil, err
	}
	if err := c.poller.WaitForCompletion(ctx, operationID, labelOptionGeneration); err != nil {
		return nil, err
	}
	options, err := c.ListPlacementOptions(ctx, inboundPlanID)
	if err != nil {
		return nil, err
	}
	c.LogPlacementOptions(inboundPlanID, options)
	return options, nil
}

// LogPlacementOptions writes an overview line and one summary line per option
func (c *Client) LogPlacementOptions(inboundPlanID string, options []inbound.PlacementOption) {
	pallet := 0
	for _, o := range options {
		if inbound.IsPalletLike(o) {
			pallet++
		}
	}
	c.logger.Info("placement options",
		zap.String("inboundPlanId", inboundPlanID),
		zap.Int("count", len(options)),
		zap.Int("palletLike", pallet),
		zap.Int("nonPallet", len(options)-pallet))
	for i, o := range options {
		c.logger.Info("placement option",
			zap.String("inboundPlanId", inboundPlanID),
			zap.Int("index", i),
			zap.Any("summary", inbound.Summarize(o)))
	}
}

// ConfirmPlacementOption confirms an option, waits for it, and returns the resulting shipments
func (c *Client) ConfirmPlacementOption(ctx context.Context, inboundPlanID, placementOptionID string) ([]Shipment, error) {
	var out struct {
		OperationID string `json:"operationId"`
	}
	path := inboundPath + "/inboundPlans/" + url.PathEscape(inboundPlanID) +
		"/placementOptions/" + url.PathEscape(placementOptionID) + "/confirmation"
	if err := c.call(ctx, "confirm placement option", http.MethodPost, path, nil, http.StatusAccepted, &out); err != nil {
		return nil, err
	}
	if err := c.poller.WaitForCompletion(ctx, out.OperationID, labelOptionConfirmation); err != nil {
		return nil, err
	}
	shipments, err := c.ListShipments(ctx, inboundPlanID)
	if err != nil {
		return nil, err
	}
	c.logger.Info("placement option confirmed",
		zap.String("inboundPlanId", inboundPlanID),
		zap.String("placementOptionId", placementOptionID),
		zap.Strings("shipmentIds", ShipmentIDs(shipments)))
	return shipments, nil
}

// ListShipments lists the shipments of a plan
func (c *Client) ListShipments(ctx context.Context, inboundPlanID string) ([]Shipment, error) {
	base := inboundPath + "/inboundPlans/" + url.PathEscape(inboundPlanID) + "/shipments"
	var shipments []Shipment
	token := ""
	for {
		var page struct {
			Shipments  []Shipment  `json:"shipments"`
			Pagination *pagination `json:"pagination"`
		}
		if err := c.call(ctx, "list shipments", http.MethodGet, pagedPath(base, token), nil, http.StatusOK, &page); err != nil {
			return nil, err
		}
		shipments = append(shipments, page.Shipments...)
		if page.Pagination == nil || page.Pagination.NextToken == "" {
			break
		}
		token = page.Pagination.NextToken
	}
	return shipments, nil
}

// ShipmentIDs returns the non-empty shipment ids in order
func ShipmentIDs(shipments []Shipment) []string {
	ids := make([]string, 0, len(shipments))
	for _, s := range shipments {
		if s.ShipmentID != "" {
			ids = append(ids, s.ShipmentID)
		}
	}
	return ids
}

func pagedPath(base, token string) string {
	if token == "" {
		return base
	}
	return base + "?paginationToken=" + url.QueryEscape(token)
}
