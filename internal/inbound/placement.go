package inbound

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// PlacementOption is an opaque placement option as returned by the API
type PlacementOption map[string]any

// ID returns the placementOptionId field
func (o PlacementOption) ID() string {
	if v, ok := o["placementOptionId"].(string); ok {
		return v
	}
	return ""
}

var (
	palletTokenRe = regexp.MustCompile(`(?i)pallet|ltl|freight|truckload|truck`)
	modeKeyRe     = regexp.MustCompile(`(?i)mode|transport|shipping|pallet`)
)

// summaryKeys are copied into a summary whenever present
var summaryKeys = []string{
	"fees", "fee", "totalFees", "charges",
	"transportationMode", "shippingMode", "shippingMethod", "mode",
	"shipmentIds", "shipments", "destinationFulfillmentCenters", "assignedShipments",
	"placementFee", "isRecommended", "recommended", "splitShipments", "distribution",
	"inboundPlanId", "status", "expiration",
}

const maxExtraSummaryKeys = 15

// IsPalletLike reports whether any string or number value in the option,
// at any depth, mentions a pallet, LTL, freight or truck token. It is a
// best-effort heuristic over field names the API does not guarantee.
func IsPalletLike(o PlacementOption) bool {
	var parts []string
	collectValues(map[string]any(o), &parts)
	return palletTokenRe.MatchString(strings.Join(parts, " "))
}

func collectValues(v any, out *[]string) {
	switch t := v.(type) {
	case string:
		*out = append(*out, t)
	case float64, int, int64, bool:
		*out = append(*out, fmt.Sprint(t))
	case []any:
		for _, e := range t {
			collectValues(e, out)
		}
	case map[string]any:
		for _, e := range t {
			collectValues(e, out)
		}
	case PlacementOption:
		collectValues(map[string]any(t), out)
	}
}

// OptionSummary is the audit/display view of a placement option
type OptionSummary map[string]any

// Summarize keeps the recognizable transport and distribution fields of an
// option plus a bounded number of other primitive mode-like fields
func Summarize(o PlacementOption) OptionSummary {
	s := OptionSummary{
		"placementOptionId": o.ID(),
		"isPalletLike":      IsPalletLike(o),
	}
	known := make(map[string]bool, len(summaryKeys))
	for _, k := range summaryKeys {
		known[k] = true
		if v, ok := o[k]; ok {
			s[k] = v
		}
	}

	var extra []string
	for k, v := range o {
		if known[k] || k == "placementOptionId" || !modeKeyRe.MatchString(k) || !isPrimitive(v) {
			continue
		}
		extra = append(extra, k)
	}
	sort.Strings(extra)
	if len(extra) > maxExtraSummaryKeys {
		extra = extra[:maxExtraSummaryKeys]
	}
	for _, k := range extra {
		s[k] = o[k]
	}
	return s
}

func isPrimitive(v any) bool {
	switch v.(type) {
	case string, float64, int, int64, bool, nil:
		return true
	}
	return false
}

// FilterSelectable drops pallet-like options
func FilterSelectable(options []PlacementOption) []PlacementOption {
	out := make([]PlacementOption, 0, len(options))
	for _, o := range options {
		if !IsPalletLike(o) {
			out = append(out, o)
		}
	}
	return out
}

// FindOption returns the option with the given id
func FindOption(options []PlacementOption, id string) (PlacementOption, bool) {
	for _, o := range options {
		if o.ID() == id {
			return o, true
		}
	}
	return nil, false
}
