package audit

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/juanbarco92/delta/core"
	"github.com/shopspring/decimal"
)

var truthColumns = []string{"sku", "weight_kg", "width", "height", "depth"}

// integralFloat matches SKUs a spreadsheet exported as floats, e.g. "123.0".
var integralFloat = regexp.MustCompile(`^[0-9]+\.0+$`)

type TruthOption func(*TruthTable)

// WithCaseInsensitiveSKU folds case on both the table keys and lookups.
func WithCaseInsensitiveSKU() TruthOption {
	return func(t *TruthTable) {
		t.caseInsensitive = true
	}
}

// TruthTable is the seller-maintained SKU to package attributes table.
// Lookups are exact after normalization; the first row for a SKU wins.
type TruthTable struct {
	records         map[string]core.TruthRecord
	order           []string
	duplicates      []string
	caseInsensitive bool
}

func NewTruthTable(records []core.TruthRecord, opts ...TruthOption) *TruthTable {
	table := &TruthTable{records: make(map[string]core.TruthRecord, len(records))}
	for _, opt := range opts {
		if opt != nil {
			opt(table)
		}
	}
	for _, record := range records {
		table.add(record)
	}
	return table
}

func LoadTruthTable(path string, opts ...TruthOption) (*TruthTable, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audit: open truth table: %w", err)
	}
	defer file.Close()
	return ParseTruthTable(file, opts...)
}

// ParseTruthTable reads CSV with a header naming sku, weight_kg, width,
// height and depth in any order. Other columns are ignored.
func ParseTruthTable(r io.Reader, opts ...TruthOption) (*TruthTable, error) {
	buffered := bufio.NewReader(r)
	if bom, err := buffered.Peek(3); err == nil && bom[0] == 0xEF && bom[1] == 0xBB && bom[2] == 0xBF {
		_, _ = buffered.Discard(3)
	}
	reader := csv.NewReader(buffered)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, core.NewDataError("truth_table", "missing header row")
	}
	if err != nil {
		return nil, fmt.Errorf("audit: read truth table header: %w", err)
	}
	columns := make(map[string]int, len(header))
	for index, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = index
	}
	for _, name := range truthColumns {
		if _, ok := columns[name]; !ok {
			return nil, core.NewDataError("truth_table", "missing column %q", name)
		}
	}

	table := NewTruthTable(nil, opts...)
	line := 1
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("audit: read truth table line %d: %w", line, err)
		}
		cell := func(name string) string {
			index := columns[name]
			if index >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[index])
		}
		sku := normalizeSKU(cell("sku"))
		if sku == "" {
			continue
		}
		record := core.TruthRecord{SKU: sku}
		for _, field := range []struct {
			name string
			dest *decimal.Decimal
		}{
			{"weight_kg", &record.WeightKG},
			{"width", &record.Width},
			{"height", &record.Height},
			{"depth", &record.Depth},
		} {
			value, parseErr := decimal.NewFromString(cell(field.name))
			if parseErr != nil {
				return nil, &core.DataError{
					Field:   fmt.Sprintf("line %d %s", line, field.name),
					Message: fmt.Sprintf("invalid number %q", cell(field.name)),
					Err:     parseErr,
				}
			}
			*field.dest = value
		}
		table.add(record)
	}
	return table, nil
}

func (t *TruthTable) add(record core.TruthRecord) {
	record.SKU = normalizeSKU(record.SKU)
	key := t.key(record.SKU)
	if key == "" {
		return
	}
	if _, exists := t.records[key]; exists {
		t.duplicates = append(t.duplicates, record.SKU)
		return
	}
	t.records[key] = record
	t.order = append(t.order, key)
}

func (t *TruthTable) Lookup(sku string) (core.TruthRecord, bool) {
	if t == nil {
		return core.TruthRecord{}, false
	}
	record, ok := t.records[t.key(normalizeSKU(sku))]
	return record, ok
}

func (t *TruthTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.order)
}

func (t *TruthTable) Duplicates() []string {
	if t == nil {
		return nil
	}
	return append([]string(nil), t.duplicates...)
}

func (t *TruthTable) key(sku string) string {
	if t.caseInsensitive {
		return strings.ToLower(sku)
	}
	return sku
}

func normalizeSKU(sku string) string {
	sku = strings.TrimSpace(sku)
	if integralFloat.MatchString(sku) {
		sku = sku[:strings.IndexByte(sku, '.')]
	}
	return sku
}
