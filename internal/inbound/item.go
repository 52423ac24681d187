package inbound

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Owner is the party responsible for labeling or prep of a unit
type Owner string

const (
	OwnerAmazon Owner = "AMAZON"
	OwnerSeller Owner = "SELLER"
	OwnerNone   Owner = "NONE"
)

// Valid reports whether o is one of the API owner values
func (o Owner) Valid() bool {
	switch o {
	case OwnerAmazon, OwnerSeller, OwnerNone:
		return true
	}
	return false
}

// ownerKeywords are checked in order; the first substring hit wins
var ownerKeywords = []struct {
	owner    Owner
	keywords []string
}{
	{OwnerNone, []string{"none", "なし", "無し", "不要"}},
	{OwnerAmazon, []string{"amazon", "アマゾン", "amz"}},
	{OwnerSeller, []string{"seller", "セラー", "出品者", "自社"}},
}

// NormalizeOwner maps a free-text cell value to an Owner, returning
// fallback when nothing matches
func NormalizeOwner(raw string, fallback Owner) Owner {
	v := strings.ToLower(strings.TrimSpace(raw))
	if v == "" {
		return fallback
	}
	for _, k := range ownerKeywords {
		for _, kw := range k.keywords {
			if strings.Contains(v, kw) {
				return k.owner
			}
		}
	}
	return fallback
}

// LineItem is one SKU in an inbound plan request
type LineItem struct {
	SKU        string `json:"msku"`
	ASIN       string `json:"asin,omitempty"`
	Quantity   int    `json:"quantity"`
	LabelOwner Owner  `json:"labelOwner"`
	PrepOwner  Owner  `json:"prepOwner"`
}

// Row is a spreadsheet row with named-column access
type Row interface {
	Get(column string) string
	Number() int
}

// Columns names the sheet columns the aggregator reads
type Columns struct {
	SKU        string
	ASIN       string
	Quantity   string
	LabelOwner string
	PrepOwner  string
}

// OwnerDefaults are the fallback owners used when a cell is blank or unrecognized
type OwnerDefaults struct {
	Label Owner
	Prep  Owner
}

// Aggregator merges purchase rows into one LineItem per SKU
type Aggregator struct {
	cols     Columns
	defaults OwnerDefaults
	logger   *zap.Logger
}

// NewAggregator creates an aggregator over the given columns
func NewAggregator(cols Columns, defaults OwnerDefaults, logger *zap.Logger) *Aggregator {
	if defaults.Label == "" {
		defaults.Label = OwnerSeller
	}
	if defaults.Prep == "" {
		defaults.Prep = OwnerNone
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{cols: cols, defaults: defaults, logger: logger.Named("aggregator")}
}

// Aggregate returns the merged items in first-seen SKU order. Bad rows are
// logged and skipped; an empty result is a ValidationError.
func (a *Aggregator) Aggregate(rows []Row) ([]LineItem, error) {
	index := make(map[string]int)
	var items []LineItem

	for _, row := range rows {
		sku := strings.TrimSpace(row.Get(a.cols.SKU))
		if sku == "" {
			a.logger.Info("skipping row without SKU", zap.Int("row", row.Number()))
			continue
		}
		qty, ok := parseQuantity(row.Get(a.cols.Quantity))
		if !ok {
			a.logger.Info("skipping row with invalid quantity",
				zap.Int("row", row.Number()),
				zap.String("sku", sku),
				zap.String("quantity", row.Get(a.cols.Quantity)))
			continue
		}

		label := a.owner(row, a.cols.LabelOwner, a.defaults.Label)
		prep := a.owner(row, a.cols.PrepOwner, a.defaults.Prep)
		asin := ""
		if a.cols.ASIN != "" {
			asin = strings.TrimSpace(row.Get(a.cols.ASIN))
		}

		i, seen := index[sku]
		if !seen {
			index[sku] = len(items)
			items = append(items, LineItem{
				SKU:        sku,
				ASIN:       asin,
				Quantity:   qty,
				LabelOwner: label,
				PrepOwner:  prep,
			})
			continue
		}

		item := &items[i]
		item.Quantity += qty
		if item.ASIN == "" {
			item.ASIN = asin
		}
		item.LabelOwner = a.merge(sku, "labelOwner", item.LabelOwner, label, a.defaults.Label, row.Number())
		item.PrepOwner = a.merge(sku, "prepOwner", item.PrepOwner, prep, a.defaults.Prep, row.Number())
	}

	if len(items) == 0 {
		return nil, &ValidationError{Message: "no valid line items: every row had an empty SKU or a non-positive quantity"}
	}
	return items, nil
}

func (a *Aggregator) owner(row Row, column string, fallback Owner) Owner {
	if column == "" {
		return fallback
	}
	return NormalizeOwner(row.Get(column), fallback)
}

// merge keeps whichever value differs from the fallback. Two conflicting
// non-default values keep the first one.
func (a *Aggregator) merge(sku, field string, current, next, fallback Owner, rowNum int) Owner {
	switch {
	case current == next:
		return current
	case current == fallback:
		return next
	case next == fallback:
		return current
	}
	a.logger.Warn("conflicting owner values for SKU, keeping first",
		zap.String("sku", sku),
		zap.String("field", field),
		zap.String("kept", string(current)),
		zap.String("ignored", string(next)),
		zap.Int("row", rowNum))
	return current
}

// parseQuantity accepts positive whole numbers, tolerating a ".0" suffix
// and thousands separators
func parseQuantity(raw string) (int, bool) {
	v := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}

// Fingerprint identifies an item set for de-duplicating concurrent creates
func Fingerprint(items []LineItem) string {
	var b strings.Builder
	for _, it := range items {
		fmt.Fprintf(&b, "%s|%d|%s|%s;", it.SKU, it.Quantity, it.LabelOwner, it.PrepOwner)
	}
	return b.String()
}
