package packing

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/julienbonastre/fba-inbound-helpers/internal/spapi"
)

var (
	cmPerInch = decimal.RequireFromString("2.54")
	lbPerKg   = decimal.RequireFromString("2.20462")

	// an entry starts with "N:" or "N-M:" at the beginning or after whitespace
	entryStartRe = regexp.MustCompile(`(^|\s)\d+(?:-\d+)?[：:]`)

	// 1-2：60*40*32 29.1KG
	dimsFirstRe = regexp.MustCompile(`(?i)^(\d+(?:-\d+)?)\s*[：:]\s*(\d+(?:\.\d+)?)\s*[*×x]\s*(\d+(?:\.\d+)?)\s*[*×x]\s*(\d+(?:\.\d+)?)\s*(?:cm)?\s+(\d+(?:\.\d+)?)\s*(?:kg)?$`)
	// 3：29.1kg 60*40*32cm
	weightFirstRe = regexp.MustCompile(`(?i)^(\d+(?:-\d+)?)\s*[：:]\s*(\d+(?:\.\d+)?)\s*(?:kg)?\s+(\d+(?:\.\d+)?)\s*[*×x]\s*(\d+(?:\.\d+)?)\s*[*×x]\s*(\d+(?:\.\d+)?)\s*(?:cm)?$`)
)

// Carton is one physical box with metric measurements
type Carton struct {
	BoxNumber int             `json:"boxNumber"`
	LengthCm  decimal.Decimal `json:"lengthCm"`
	WidthCm   decimal.Decimal `json:"widthCm"`
	HeightCm  decimal.Decimal `json:"heightCm"`
	WeightKg  decimal.Decimal `json:"weightKg"`
}

// ParseError reports a carton entry in neither accepted format
type ParseError struct {
	Entry string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("cannot parse carton entry %q (expected \"box：L*W*H weightKG\" or \"box：weightKG L*W*H cm\")", e.Entry)
}

// MaxBoxes bounds the box numbers and the carton count of one input
const MaxBoxes = 5000

// ParseCartons parses whitespace separated carton entries. A box range such
// as "1-3" yields one carton per box. The result is sorted by box number.
func ParseCartons(input string) ([]Carton, error) {
	var cartons []Carton
	for _, entry := range splitEntries(input) {
		parsed, err := parseEntry(entry)
		if err != nil {
			return nil, err
		}
		cartons = append(cartons, parsed...)
		if len(cartons) > MaxBoxes {
			return nil, fmt.Errorf("more than %d cartons", MaxBoxes)
		}
	}
	if len(cartons) == 0 {
		return nil, &ParseError{Entry: strings.TrimSpace(input)}
	}
	sort.SliceStable(cartons, func(i, j int) bool {
		return cartons[i].BoxNumber < cartons[j].BoxNumber
	})
	return cartons, nil
}

func splitEntries(input string) []string {
	locs := entryStartRe.FindAllStringSubmatchIndex(input, -1)
	starts := make([]int, 0, len(locs)+1)
	starts = append(starts, 0)
	for _, loc := range locs {
		if s := loc[3]; s > 0 {
			starts = append(starts, s)
		}
	}
	starts = append(starts, len(input))

	var entries []string
	for i := 0; i+1 < len(starts); i++ {
		if e := strings.TrimSpace(input[starts[i]:starts[i+1]]); e != "" {
			entries = append(entries, e)
		}
	}
	return entries
}

func parseEntry(entry string) ([]Carton, error) {
	var boxRange, l, w, h, kg string
	if m := dimsFirstRe.FindStringSubmatch(entry); m != nil {
		boxRange, l, w, h, kg = m[1], m[2], m[3], m[4], m[5]
	} else if m := weightFirstRe.FindStringSubmatch(entry); m != nil {
		boxRange, kg, l, w, h = m[1], m[2], m[3], m[4], m[5]
	} else {
		return nil, &ParseError{Entry: entry}
	}

	first, last, err := parseRange(boxRange)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", entry, err)
	}
	template := Carton{
		LengthCm: decimal.RequireFromString(l),
		WidthCm:  decimal.RequireFromString(w),
		HeightCm: decimal.RequireFromString(h),
		WeightKg: decimal.RequireFromString(kg),
	}
	cartons := make([]Carton, 0, last-first+1)
	for n := first; n <= last; n++ {
		c := template
		c.BoxNumber = n
		cartons = append(cartons, c)
	}
	return cartons, nil
}

func parseRange(r string) (int, int, error) {
	startStr, endStr, isRange := strings.Cut(r, "-")
	start, err := strconv.Atoi(startStr)
	if err != nil {
		return 0, 0, err
	}
	if !isRange {
		if start > MaxBoxes {
			return 0, 0, fmt.Errorf("box %d exceeds the limit of %d", start, MaxBoxes)
		}
		return start, start, nil
	}
	end, err := strconv.Atoi(endStr)
	if err != nil {
		return 0, 0, err
	}
	if end < start {
		return 0, 0, fmt.Errorf("invalid box range %d-%d", start, end)
	}
	if end > MaxBoxes {
		return 0, 0, fmt.Errorf("box %d exceeds the limit of %d", end, MaxBoxes)
	}
	return start, end, nil
}

// CmToInches converts centimetres to inches rounded to 2 decimals
func CmToInches(cm decimal.Decimal) decimal.Decimal {
	return cm.Div(cmPerInch).Round(2)
}

// KgToPounds converts kilograms to pounds rounded to 2 decimals
func KgToPounds(kg decimal.Decimal) decimal.Decimal {
	return kg.Mul(lbPerKg).Round(2)
}

// BuildBoxes converts cartons to imperial boxes, grouping identical cartons
// in first-seen order
func BuildBoxes(cartons []Carton) []spapi.Box {
	type key struct{ l, w, h, kg string }
	index := make(map[key]int)
	var boxes []spapi.Box

	for _, c := range cartons {
		k := key{c.LengthCm.String(), c.WidthCm.String(), c.HeightCm.String(), c.WeightKg.String()}
		if i, ok := index[k]; ok {
			boxes[i].Quantity++
			continue
		}
		index[k] = len(boxes)
		boxes = append(boxes, spapi.Box{
			ContentInformationSource: spapi.ContentSourceBarcode2D,
			Dimensions: spapi.Dimensions{
				Length:            CmToInches(c.LengthCm).InexactFloat64(),
				Width:             CmToInches(c.WidthCm).InexactFloat64(),
				Height:            CmToInches(c.HeightCm).InexactFloat64(),
				UnitOfMeasurement: "IN",
			},
			Weight: spapi.Weight{
				Unit:  "LB",
				Value: KgToPounds(c.WeightKg).InexactFloat64(),
			},
			Quantity: 1,
		})
	}
	return boxes
}
