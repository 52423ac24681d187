package inbound

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ShipmentStatus is the coarse state inferred from shipped/received counts
type ShipmentStatus int

const (
	StatusInTransit ShipmentStatus = iota
	StatusInStock
)

func (s ShipmentStatus) String() string {
	if s == StatusInStock {
		return "in-stock"
	}
	return "in-transit"
}

// EstimateStatus is in-stock only once something shipped and everything shipped was received
func EstimateStatus(shipped, received int) ShipmentStatus {
	if shipped > 0 && received >= shipped {
		return StatusInStock
	}
	return StatusInTransit
}

// QuantityTotals sums shipped/received units across shipments
type QuantityTotals struct {
	QuantityShipped  int      `json:"quantityShipped"`
	QuantityReceived int      `json:"quantityReceived"`
	ShipmentIDs      []string `json:"shipmentIds"`
}

// Status applies EstimateStatus to the totals
func (t QuantityTotals) Status() ShipmentStatus {
	return EstimateStatus(t.QuantityShipped, t.QuantityReceived)
}

// PlanLink builds the Seller Central deep link for a plan
func PlanLink(sellerCentralBase, inboundPlanID string) string {
	return strings.TrimRight(sellerCentralBase, "/") + "/fba/sendtoamazon/pack_later_confirm_shipments?wf=" + inboundPlanID
}

// HyperlinkFormula renders a spreadsheet HYPERLINK formula
func HyperlinkFormula(link, text string) string {
	return fmt.Sprintf(`=HYPERLINK("%s","%s")`, link, text)
}

var (
	hyperlinkRe = regexp.MustCompile(`(?i)^=?\s*HYPERLINK\(\s*"([^"]+)"\s*(?:[,;]\s*"([^"]*)")?`)
	wfParamRe   = regexp.MustCompile(`(?i)[?&]wf=([^&#"]+)`)
	planTokenRe = regexp.MustCompile(`(?i)wf[a-f0-9-]+`)
)

// ExtractPlanID reads an inbound plan id from a plan cell holding either the
// id itself or a HYPERLINK formula. The formula's display text wins over the
// link's wf parameter.
func ExtractPlanID(cell string) string {
	v := strings.TrimSpace(cell)
	if v == "" {
		return ""
	}
	m := hyperlinkRe.FindStringSubmatch(v)
	if m == nil {
		return v
	}
	if text := strings.TrimSpace(m[2]); text != "" {
		return text
	}
	wf := wfParamRe.FindStringSubmatch(m[1])
	if wf == nil {
		return ""
	}
	if decoded, err := url.QueryUnescape(wf[1]); err == nil {
		return decoded
	}
	return wf[1]
}

// FindPlanToken returns the first wf-prefixed plan id token inside free text
func FindPlanToken(value string) string {
	return planTokenRe.FindString(value)
}
