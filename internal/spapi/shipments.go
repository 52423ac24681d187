package spapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/julienbonastre/fba-inbound-helpers/internal/inbound"
)

// ShipmentItem is a shipment line item. Field names differ between API
// versions, so values are read through several candidate keys.
type ShipmentItem map[string]any

var (
	skuKeys      = []string{"msku", "sellerSku", "SellerSKU", "sku", "seller_sku"}
	shippedKeys  = []string{"quantityShipped", "QuantityShipped", "quantity_shipped"}
	receivedKeys = []string{"quantityReceived", "QuantityReceived", "quantity_received"}
)

// SKU returns the seller SKU of the item
func (i ShipmentItem) SKU() string {
	for _, k := range skuKeys {
		if v, ok := i[k]; ok && v != nil {
			if s := strings.TrimSpace(fmt.Sprint(v)); s != "" {
				return s
			}
		}
	}
	return ""
}

// QuantityShipped returns the shipped unit count, 0 when absent
func (i ShipmentItem) QuantityShipped() int {
	return i.firstInt(shippedKeys)
}

// QuantityReceived returns the received unit count, 0 when absent
func (i ShipmentItem) QuantityReceived() int {
	return i.firstInt(receivedKeys)
}

func (i ShipmentItem) firstInt(keys []string) int {
	for _, k := range keys {
		v, ok := i[k]
		if !ok || v == nil {
			continue
		}
		switch n := v.(type) {
		case float64:
			return int(n)
		case json.Number:
			if f, err := n.Float64(); err == nil {
				return int(f)
			}
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
				return int(f)
			}
		}
	}
	return 0
}

// GetShipmentItems fetches shipment items from the current API path, falling
// back to the v0 path. Both failing is a PartialFetchError.
func (c *Client) GetShipmentItems(ctx context.Context, shipmentID string) ([]ShipmentItem, error) {
	sid := strings.TrimSpace(shipmentID)
	if sid == "" {
		return nil, &inbound.PreconditionError{Message: "shipmentId is required"}
	}
	primary := inboundPath + "/shipments/" + url.PathEscape(sid) + "/items"
	legacy := legacyPath + "/shipments/" + url.PathEscape(sid) + "/items?MarketplaceId=" + url.QueryEscape(c.config.MarketplaceID)

	items, primaryErr := c.fetchItems(ctx, sid, primary)
	if primaryErr == nil {
		return items, nil
	}
	c.logger.Debug("primary shipment items path failed, trying v0",
		zap.String("shipmentId", sid), zap.Error(primaryErr))

	items, legacyErr := c.fetchItems(ctx, sid, legacy)
	if legacyErr == nil {
		return items, nil
	}
	return nil, &inbound.PartialFetchError{ShipmentID: sid, Primary: primaryErr, Fallback: legacyErr}
}

func (c *Client) fetchItems(ctx context.Context, shipmentID, path string) ([]ShipmentItem, error) {
	var body any
	if err := c.call(ctx, "get shipment items", http.MethodGet, path, nil, http.StatusOK, &body); err != nil {
		return nil, err
	}
	items := extractItems(body)
	if len(items) == 0 {
		c.logger.Warn("shipment has no items", zap.String("shipmentId", shipmentID), zap.String("path", path))
	}
	return items, nil
}

// extractItems finds the item array in the envelopes seen across API versions
func extractItems(body any) []ShipmentItem {
	if arr, ok := body.([]any); ok {
		return toItems(arr)
	}
	obj, ok := body.(map[string]any)
	if !ok {
		return nil
	}
	if arr, ok := obj["items"].([]any); ok {
		return toItems(arr)
	}
	switch payload := obj["payload"].(type) {
	case []any:
		return toItems(payload)
	case map[string]any:
		for _, k := range []string{"items", "member", "ItemData", "itemData"} {
			if arr, ok := payload[k].([]any); ok {
				return toItems(arr)
			}
		}
	}
	return nil
}

func toItems(arr []any) []ShipmentItem {
	items := make([]ShipmentItem, 0, len(arr))
	for _, e := range arr {
		if m, ok := e.(map[string]any); ok {
			items = append(items, ShipmentItem(m))
		}
	}
	return items
}

// GetPlanQuantityTotals sums shipped and received units over every shipment
// of a plan. A plan without shipments yields zero totals.
func (c *Client) GetPlanQuantityTotals(ctx context.Context, inboundPlanID string) (inbound.QuantityTotals, error) {
	planID := strings.TrimSpace(inboundPlanID)
	if planID == "" {
		return inbound.QuantityTotals{}, &inbound.PreconditionError{Message: "inboundPlanId is required"}
	}
	shipments, err := c.ListShipments(ctx, planID)
	if err != nil {
		return inbound.QuantityTotals{}, err
	}
	totals := inbound.QuantityTotals{ShipmentIDs: ShipmentIDs(shipments)}
	if len(totals.ShipmentIDs) == 0 {
		c.logger.Warn("plan has no shipments yet", zap.String("inboundPlanId", planID))
		return totals, nil
	}

	for _, sid := range totals.ShipmentIDs {
		items, err := c.GetShipmentItems(ctx, sid)
		if err != nil {
			return inbound.QuantityTotals{}, err
		}
		for _, it := range items {
			totals.QuantityShipped += it.QuantityShipped()
			totals.QuantityReceived += it.QuantityReceived()
		}
	}
	c.logger.Info("plan quantity totals",
		zap.String("inboundPlanId", planID),
		zap.Int("quantityShipped", totals.QuantityShipped),
		zap.Int("quantityReceived", totals.QuantityReceived),
		zap.Strings("shipmentIds", totals.ShipmentIDs))
	return totals, nil
}

// GetShipmentQuantityTotals sums shipped and received units of one shipment
func (c *Client) GetShipmentQuantityTotals(ctx context.Context, shipmentID string) (inbound.QuantityTotals, error) {
	return c.GetShipmentQuantityTotalsForSKU(ctx, shipmentID, "")
}

// GetShipmentQuantityTotalsForSKU sums units of one shipment, restricted to
// sku when it is non-empty
func (c *Client) GetShipmentQuantityTotalsForSKU(ctx context.Context, shipmentID, sku string) (inbound.QuantityTotals, error) {
	items, err := c.GetShipmentItems(ctx, shipmentID)
	if err != nil {
		return inbound.QuantityTotals{}, err
	}
	sku = strings.TrimSpace(sku)
	totals := inbound.QuantityTotals{ShipmentIDs: []string{strings.TrimSpace(shipmentID)}}
	for _, it := range items {
		if sku != "" && it.SKU() != sku {
			continue
		}
		totals.QuantityShipped += it.QuantityShipped()
		totals.QuantityReceived += it.QuantityReceived()
	}
	return totals, nil
}

// GetShipmentStatus returns the v0 ShipmentStatus (WORKING, SHIPPED,
// RECEIVING, CLOSED...) or "" when the shipment is not found
func (c *Client) GetShipmentStatus(ctx context.Context, shipmentID string) (string, error) {
	sid := strings.TrimSpace(shipmentID)
	if sid == "" {
		return "", &inbound.PreconditionError{Message: "shipmentId is required"}
	}
	q := url.Values{}
	q.Set("ShipmentIdList", sid)
	q.Set("QueryType", "SHIPMENT")
	q.Set("MarketplaceId", c.config.MarketplaceID)

	var out struct {
		Payload struct {
			ShipmentData []struct {
				ShipmentID     string `json:"ShipmentId"`
				ShipmentStatus string `json:"ShipmentStatus"`
			} `json:"ShipmentData"`
		} `json:"payload"`
	}
	if err := c.call(ctx, "get shipment status", http.MethodGet, legacyPath+"/shipments?"+q.Encode(), nil, http.StatusOK, &out); err != nil {
		return "", err
	}
	for _, s := range out.Payload.ShipmentData {
		if s.ShipmentID == sid {
			return s.ShipmentStatus, nil
		}
	}
	return "", nil
}
