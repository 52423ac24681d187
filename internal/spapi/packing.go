package spapi

import (
	"context"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/julienbonastre/fba-inbound-helpers/internal/inbound"
)

const (
	labelPackingGeneration   = "packing option generation"
	labelPackingConfirmation = "packing option confirmation"
	labelPackingInformation  = "packing information update"

	ContentSourceBarcode2D = "BARCODE_2D"
)

// PackingOption is a packing option of a plan
type PackingOption struct {
	PackingOptionID string   `json:"packingOptionId"`
	PackingGroups   []string `json:"packingGroups"`
	Status          string   `json:"status,omitempty"`
}

// PackingGroupItem is an item assigned to a packing group
type PackingGroupItem struct {
	MSKU       string        `json:"msku"`
	ASIN       string        `json:"asin,omitempty"`
	FNSKU      string        `json:"fnsku,omitempty"`
	Quantity   int           `json:"quantity"`
	LabelOwner inbound.Owner `json:"labelOwner,omitempty"`
}

// Dimensions of a box
type Dimensions struct {
	Length            float64 `json:"length"`
	Width             float64 `json:"width"`
	Height            float64 `json:"height"`
	UnitOfMeasurement string  `json:"unitOfMeasurement"`
}

// Weight of a box
type Weight struct {
	Unit  string  `json:"unit"`
	Value float64 `json:"value"`
}

// Box is a group of identical cartons in a packing information request
type Box struct {
	ContentInformationSource string     `json:"contentInformationSource"`
	Dimensions               Dimensions `json:"dimensions"`
	Weight                   Weight     `json:"weight"`
	Quantity                 int        `json:"quantity"`
}

type packageGrouping struct {
	PackingGroupID string `json:"packingGroupId"`
	Boxes          []Box  `json:"boxes"`
}

type operationAccepted struct {
	OperationID string `json:"operationId"`
}

func planPath(inboundPlanID string) string {
	return inboundPath + "/inboundPlans/" + url.PathEscape(inboundPlanID)
}

// GeneratePackingOptions starts packing option generation
func (c *Client) GeneratePackingOptions(ctx context.Context, inboundPlanID string) (string, error) {
	var out operationAccepted
	if err := c.call(ctx, "generate packing options", http.MethodPost, planPath(inboundPlanID)+"/packingOptions", nil, http.StatusAccepted, &out); err != nil {
		return "", err
	}
	return out.OperationID, nil
}

// ListPackingOptions lists the packing options of a plan
func (c *Client) ListPackingOptions(ctx context.Context, inboundPlanID string) ([]PackingOption, error) {
	base := planPath(inboundPlanID) + "/packingOptions"
	var options []PackingOption
	token := ""
	for {
		var page struct {
			PackingOptions []PackingOption `json:"packingOptions"`
			Pagination     *pagination     `json:"pagination"`
		}
		if err := c.call(ctx, "list packing options", http.MethodGet, pagedPath(base, token), nil, http.StatusOK, &page); err != nil {
			return nil, err
		}
		options = append(options, page.PackingOptions...)
		if page.Pagination == nil || page.Pagination.NextToken == "" {
			return options, nil
		}
		token = page.Pagination.NextToken
	}
}

// ConfirmPackingOption confirms a packing option and waits for the operation
func (c *Client) ConfirmPackingOption(ctx context.Context, inboundPlanID, packingOptionID string) error {
	var out operationAccepted
	path := planPath(inboundPlanID) + "/packingOptions/" + url.PathEscape(packingOptionID) + "/confirmation"
	if err := c.call(ctx, "confirm packing option", http.MethodPost, path, nil, http.StatusAccepted, &out); err != nil {
		return err
	}
	return c.poller.WaitForCompletion(ctx, out.OperationID, labelPackingConfirmation)
}

// GetPackingGroupID generates packing options, confirms the first option
// that has a packing group, and returns that group's id
func (c *Client) GetPackingGroupID(ctx context.Context, inboundPlanID string) (string, error) {
	operationID, err := c.GeneratePackingOptions(ctx, inboundPlanID)
	if err != nil {
		return "", err
	}
	if err := c.poller.WaitForCompletion(ctx, operationID, labelPackingGeneration); err != nil {
		return "", err
	}
	options, err := c.ListPackingOptions(ctx, inboundPlanID)
	if err != nil {
		return "", err
	}
	for _, o := range options {
		if len(o.PackingGroups) == 0 {
			continue
		}
		if err := c.ConfirmPackingOption(ctx, inboundPlanID, o.PackingOptionID); err != nil {
			return "", err
		}
		c.logger.Info("packing group resolved",
			zap.String("inboundPlanId", inboundPlanID),
			zap.String("packingOptionId", o.PackingOptionID),
			zap.String("packingGroupId", o.PackingGroups[0]))
		return o.PackingGroups[0], nil
	}
	return "", &inbound.PreconditionError{Message: "no packing group available for inbound plan " + inboundPlanID}
}

// GetPackingGroupItems lists the items of a packing group
func (c *Client) GetPackingGroupItems(ctx context.Context, inboundPlanID, packingGroupID string) ([]PackingGroupItem, error) {
	base := planPath(inboundPlanID) + "/packingGroups/" + url.PathEscape(packingGroupID) + "/items"
	var items []PackingGroupItem
	token := ""
	for {
		var page struct {
			Items      []PackingGroupItem `json:"items"`
			Pagination *pagination        `json:"pagination"`
		}
		if err := c.call(ctx, "list packing group items", http.MethodGet, pagedPath(base, token), nil, http.StatusOK, &page); err != nil {
			return nil, err
		}
		items = append(items, page.Items...)
		if page.Pagination == nil || page.Pagination.NextToken == "" {
			return items, nil
		}
		token = page.Pagination.NextToken
	}
}

// SetPackingInformation submits box information for a packing group and
// waits for the update to complete
func (c *Client) SetPackingInformation(ctx context.Context, inboundPlanID, packingGroupID string, boxes []Box) error {
	if len(boxes) == 0 {
		return &inbound.ValidationError{Message: "at least one box is required"}
	}
	for i := range boxes {
		if boxes[i].ContentInformationSource == "" {
			boxes[i].ContentInformationSource = ContentSourceBarcode2D
		}
	}
	body := struct {
		PackageGroupings []packageGrouping `json:"packageGroupings"`
	}{
		PackageGroupings: []packageGrouping{{PackingGroupID: packingGroupID, Boxes: boxes}},
	}

	var out operationAccepted
	if err := c.call(ctx, "set packing information", http.MethodPost, planPath(inboundPlanID)+"/packingInformation", body, http.StatusAccepted, &out); err != nil {
		return err
	}
	return c.poller.WaitForCompletion(ctx, out.OperationID, labelPackingInformation)
}
