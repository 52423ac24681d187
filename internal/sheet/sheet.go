package sheet

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/julienbonastre/fba-inbound-helpers/internal/inbound"
)

// Sheet is a CSV export of the purchase sheet with named columns. Row
// numbers match the spreadsheet: the header is row 1.
type Sheet struct {
	path    string
	header  []string
	index   map[string]int
	records [][]string
}

// Row is one data row of a Sheet
type Row struct {
	sheet *Sheet
	i     int
}

// Load reads a sheet from a CSV file with a header row
func Load(path string) (*Sheet, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sheet %s: %w", path, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet CSV: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("sheet %s has no header row", path)
	}

	s := &Sheet{path: path, index: make(map[string]int)}
	for i, name := range records[0] {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\uFEFF"))
		s.header = append(s.header, name)
		if _, dup := s.index[name]; !dup {
			s.index[name] = i
		}
	}
	s.records = records[1:]
	return s, nil
}

// Header returns the column names
func (s *Sheet) Header() []string {
	return append([]string(nil), s.header...)
}

// HasColumn reports whether the sheet has the named column
func (s *Sheet) HasColumn(name string) bool {
	_, ok := s.index[name]
	return ok
}

// EnsureColumn appends the named column if it is missing
func (s *Sheet) EnsureColumn(name string) {
	if s.HasColumn(name) {
		return
	}
	s.index[name] = len(s.header)
	s.header = append(s.header, name)
}

// Rows returns every data row
func (s *Sheet) Rows() []*Row {
	rows := make([]*Row, len(s.records))
	for i := range s.records {
		rows[i] = &Row{sheet: s, i: i}
	}
	return rows
}

// Filter returns the rows whose column value equals one of values
func (s *Sheet) Filter(column string, values ...string) []*Row {
	want := make(map[string]bool, len(values))
	for _, v := range values {
		want[v] = true
	}
	var rows []*Row
	for _, r := range s.Rows() {
		if want[strings.TrimSpace(r.Get(column))] {
			rows = append(rows, r)
		}
	}
	return rows
}

// Select returns the rows with the given spreadsheet row numbers
func (s *Sheet) Select(numbers []int) ([]*Row, error) {
	rows := make([]*Row, 0, len(numbers))
	for _, n := range numbers {
		i := n - 2
		if i < 0 || i >= len(s.records) {
			return nil, fmt.Errorf("row %d is outside the sheet (rows 2-%d)", n, len(s.records)+1)
		}
		rows = append(rows, &Row{sheet: s, i: i})
	}
	return rows, nil
}

// Set writes a cell, adding the column when it does not exist
func (s *Sheet) Set(rowNumber int, column, value string) error {
	i := rowNumber - 2
	if i < 0 || i >= len(s.records) {
		return fmt.Errorf("row %d is outside the sheet", rowNumber)
	}
	s.EnsureColumn(column)
	col := s.index[column]
	for len(s.records[i]) <= col {
		s.records[i] = append(s.records[i], "")
	}
	s.records[i][col] = value
	return nil
}

// Save writes the sheet back to its file atomically
func (s *Sheet) Save() error {
	return s.SaveAs(s.path)
}

// SaveAs writes the sheet to path through a temporary file
func (s *Sheet) SaveAs(path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".sheet-*.csv")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(s.header); err != nil {
		tmp.Close()
		return err
	}
	for _, rec := range s.records {
		out := make([]string, len(s.header))
		copy(out, rec)
		if err := w.Write(out); err != nil {
			tmp.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write sheet CSV: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Get returns the raw value of a named column, "" when absent
func (r *Row) Get(column string) string {
	col, ok := r.sheet.index[column]
	if !ok {
		return ""
	}
	rec := r.sheet.records[r.i]
	if col >= len(rec) {
		return ""
	}
	return rec[col]
}

// Number returns the spreadsheet row number
func (r *Row) Number() int {
	return r.i + 2
}

// Set writes a cell of this row
func (r *Row) Set(column, value string) error {
	return r.sheet.Set(r.Number(), column, value)
}

// AsInboundRows adapts rows for the aggregator
func AsInboundRows(rows []*Row) []inbound.Row {
	out := make([]inbound.Row, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out
}

// LastRow is the spreadsheet number of the last data row; 1 for a sheet
// with only a header
func (s *Sheet) LastRow() int {
	return len(s.records) + 1
}

// ParseRowSpec parses "2,5-7" into sorted, de-duplicated row numbers.
// Numbers outside 2..lastRow are rejected before ranges are expanded.
func ParseRowSpec(spec string, lastRow int) ([]int, error) {
	seen := make(map[int]bool)
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		from, to, isRange := strings.Cut(part, "-")
		start, err := strconv.Atoi(strings.TrimSpace(from))
		if err != nil {
			return nil, fmt.Errorf("invalid row %q", part)
		}
		end := start
		if isRange {
			if end, err = strconv.Atoi(strings.TrimSpace(to)); err != nil || end < start {
				return nil, fmt.Errorf("invalid row range %q", part)
			}
		}
		if start < 2 || end > lastRow {
			return nil, fmt.Errorf("row %q is outside the sheet (rows 2-%d)", part, lastRow)
		}
		for n := start; n <= end; n++ {
			seen[n] = true
		}
	}
	if len(seen) == 0 {
		return nil, fmt.Errorf("no rows in %q", spec)
	}
	rows := make([]int, 0, len(seen))
	for n := range seen {
		rows = append(rows, n)
	}
	sort.Ints(rows)
	return rows, nil
}
