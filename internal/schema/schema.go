package schema

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/dvloznov/txn-tidy/internal/config"
	"github.com/dvloznov/txn-tidy/internal/domain"
	"github.com/shopspring/decimal"
)

// ErrMissingColumn is returned when a required header is not in the table.
var ErrMissingColumn = errors.New("missing required column")

// AIFlagValue is written to the AI flag column of every updated row.
const AIFlagValue = "TRUE"

// unambiguousLayouts read the same under either day/month order.
var unambiguousLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"2 Jan 2006",
	"02 Jan 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"January 2, 2006",
	time.RFC3339,
	"2006-01-02 15:04:05",
}

var (
	monthFirstLayouts = []string{"1/2/2006", "1/2/06", "1-2-2006"}
	dayFirstLayouts   = []string{"2/1/2006", "2/1/06", "2-1-2006", "2.1.2006"}
)

// DateLayouts returns the layouts tried for a date column written in order
// ("mdy" or "dmy"). Anything other than "dmy" reads numeric dates month first,
// as Tiller and US-locale sheets display them.
func DateLayouts(order string) []string {
	numeric := monthFirstLayouts
	if strings.EqualFold(order, config.DateOrderDMY) {
		numeric = dayFirstLayouts
	}
	layouts := make([]string, 0, len(unambiguousLayouts)+len(numeric))
	layouts = append(layouts, unambiguousLayouts...)
	return append(layouts, numeric...)
}

var defaultDateLayouts = DateLayouts(config.DateOrderMDY)

// OptionalColumn is a column the pipeline can run without.
type OptionalColumn struct {
	Header string
	index  int
	ok     bool
}

// Index returns the column position and whether the column exists.
func (c OptionalColumn) Index() (int, bool) {
	return c.index, c.ok
}

// Schema maps logical fields to column positions for one table header.
type Schema struct {
	Header []string

	ID                  int
	OriginalDescription int
	Description         int
	Category            int

	Date   OptionalColumn
	Amount OptionalColumn
	AIFlag OptionalColumn

	dateLayouts []string
}

// Update carries the fields written back to a row.
type Update struct {
	Description string
	Category    string
}

// FindColumn locates name in header, ignoring case and surrounding whitespace.
func FindColumn(header []string, name string) (int, bool) {
	want := strings.TrimSpace(name)
	if want == "" {
		return 0, false
	}
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), want) {
			return i, true
		}
	}
	return 0, false
}

// Resolve maps the configured column headers onto header. Every missing
// required column is reported in one error wrapping ErrMissingColumn.
func Resolve(header []string, cols config.Columns) (*Schema, error) {
	s := &Schema{
		Header:      append([]string(nil), header...),
		dateLayouts: DateLayouts(cols.DateOrder),
	}

	var missing []string
	required := []struct {
		name string
		dst  *int
	}{
		{cols.ID, &s.ID},
		{cols.OriginalDescription, &s.OriginalDescription},
		{cols.Description, &s.Description},
		{cols.Category, &s.Category},
	}
	for _, r := range required {
		idx, ok := FindColumn(header, r.name)
		if !ok {
			missing = append(missing, fmt.Sprintf("%q", r.name))
			continue
		}
		*r.dst = idx
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("Resolve: %w: %s", ErrMissingColumn, strings.Join(missing, ", "))
	}

	s.Date = optional(header, cols.Date)
	s.Amount = optional(header, cols.Amount)
	s.AIFlag = optional(header, cols.AIFlag)
	return s, nil
}

func optional(header []string, name string) OptionalColumn {
	idx, ok := FindColumn(header, name)
	return OptionalColumn{Header: name, index: idx, ok: ok}
}

// Record parses one data row. Short rows read as blank cells; unparsable
// dates and amounts read as absent.
func (s *Schema) Record(rowIndex int, values []string) domain.TransactionRecord {
	cell := func(i int) string {
		if i < 0 || i >= len(values) {
			return ""
		}
		return strings.TrimSpace(values[i])
	}

	rec := domain.TransactionRecord{
		RowIndex:            rowIndex,
		TransactionID:       cell(s.ID),
		OriginalDescription: cell(s.OriginalDescription),
		Description:         cell(s.Description),
		Category:            cell(s.Category),
	}
	if i, ok := s.Date.Index(); ok {
		if d, ok := ParseDateLayouts(cell(i), s.dateLayouts); ok {
			rec.Date = d
		}
	}
	if i, ok := s.Amount.Index(); ok {
		rec.Amount = ParseAmount(cell(i))
	}
	if i, ok := s.AIFlag.Index(); ok {
		rec.AIFlag = ParseFlag(cell(i))
	}
	return rec
}

// Apply returns a copy of values, padded to the header width, with the
// description and category replaced and the AI flag set when that column exists.
func (s *Schema) Apply(values []string, u Update) []string {
	width := len(s.Header)
	if len(values) > width {
		width = len(values)
	}
	out := make([]string, width)
	copy(out, values)

	out[s.Description] = u.Description
	out[s.Category] = u.Category
	if i, ok := s.AIFlag.Index(); ok {
		out[i] = AIFlagValue
	}
	return out
}

// ParseDate reads v with the default month-first layouts.
func ParseDate(v string) (civil.Date, bool) {
	return ParseDateLayouts(v, defaultDateLayouts)
}

// ParseDateLayouts tries each layout in order.
func ParseDateLayouts(v string, layouts []string) (civil.Date, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return civil.Date{}, false
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, v); err == nil {
			return civil.DateOf(t), true
		}
	}
	return civil.Date{}, false
}

var currencyStripper = strings.NewReplacer("£", "", "$", "", "€", "", ",", "", " ", "", "\u00a0", "")

// ParseAmount accepts currency symbols, thousands separators and accounting
// parentheses for negatives.
func ParseAmount(v string) decimal.NullDecimal {
	v = strings.TrimSpace(v)
	if v == "" {
		return decimal.NullDecimal{}
	}
	negative := false
	if strings.HasPrefix(v, "(") && strings.HasSuffix(v, ")") {
		negative = true
		v = v[1 : len(v)-1]
	}
	v = currencyStripper.Replace(v)
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.NullDecimal{}
	}
	if negative {
		d = d.Neg()
	}
	return decimal.NewNullDecimal(d)
}

// ParseFlag treats TRUE, yes, 1 and x (any case) as set.
func ParseFlag(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "yes", "y", "1", "x":
		return true
	}
	return false
}
