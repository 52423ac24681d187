package inbound

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimateStatus(t *testing.T) {
	tests := []struct {
		shipped, received int
		want              ShipmentStatus
	}{
		{100, 40, StatusInTransit},
		{100, 100, StatusInStock},
		{100, 120, StatusInStock},
		{0, 0, StatusInTransit},
		{0, 10, StatusInTransit},
		{100, 0, StatusInTransit},
	}
	for _, tt := range tests {
		got := EstimateStatus(tt.shipped, tt.received)
		assert.Equal(t, tt.want, got, "shipped=%d received=%d", tt.shipped, tt.received)
		assert.Equal(t, got, EstimateStatus(tt.shipped, tt.received))
	}
}

func TestPlanLink(t *testing.T) {
	assert.Equal(t,
		"https://sellercentral.amazon.co.jp/fba/sendtoamazon/pack_later_confirm_shipments?wf=wf123",
		PlanLink("https://sellercentral.amazon.co.jp", "wf123"))
	assert.Equal(t,
		"https://sellercentral.amazon.co.jp/fba/sendtoamazon/pack_later_confirm_shipments?wf=wf123",
		PlanLink("https://sellercentral.amazon.co.jp/", "wf123"))
}

func TestExtractPlanID(t *testing.T) {
	link := PlanLink("https://sellercentral.amazon.co.jp", "wf5db5a649-f80b")
	tests := []struct {
		name string
		cell string
		want string
	}{
		{"plain id", " wf5db5a649-f80b ", "wf5db5a649-f80b"},
		{"formula with text", HyperlinkFormula(link, "wf5db5a649-f80b"), "wf5db5a649-f80b"},
		{"formula without text", `=HYPERLINK("` + link + `")`, "wf5db5a649-f80b"},
		{"formula empty text", `=HYPERLINK("` + link + `","")`, "wf5db5a649-f80b"},
		{"encoded wf", `=HYPERLINK("https://x/?a=1&wf=wf%2Dabc")`, "wf-abc"},
		{"formula without wf", `=HYPERLINK("https://x/")`, ""},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractPlanID(tt.cell))
		})
	}
}

func TestFindPlanToken(t *testing.T) {
	assert.Equal(t, "wf5db5a649-f80b", FindPlanToken("see plan wf5db5a649-f80b here"))
	assert.Equal(t, "", FindPlanToken("nothing"))
}
