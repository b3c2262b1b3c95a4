package integration

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
)

// ColumnKind controls how a cell is normalised when a row is parsed
type ColumnKind int

const (
	ColumnText ColumnKind = iota
	ColumnDecimal
	ColumnInteger
	ColumnTimestamp
)

// Column is one positional column of a logical table
type Column struct {
	Name string
	Kind ColumnKind
}

// TableSchema is the fixed column layout of a logical table. The first
// column is the stable record id and the last one is updated_at.
type TableSchema struct {
	Table      string
	EntityType EntityType
	Columns    []Column
}

func text(name string) Column  { return Column{Name: name, Kind: ColumnText} }
func money(name string) Column { return Column{Name: name, Kind: ColumnDecimal} }
func count(name string) Column { return Column{Name: name, Kind: ColumnInteger} }
func stamp(name string) Column { return Column{Name: name, Kind: ColumnTimestamp} }

var schemas = []TableSchema{
	{
		Table:      "Orders",
		EntityType: EntityTypeOrder,
		Columns: []Column{
			text("order_id"), text("listing_id"), text("buyer_name"), text("buyer_email"),
			count("quantity"), money("total_amount"), text("currency"), text("status"),
			stamp("ship_by"), stamp("created_at"), stamp("updated_at"),
		},
	},
	{
		Table:      "Listings",
		EntityType: EntityTypeListing,
		Columns: []Column{
			text("listing_id"), text("sku"), text("title"), text("description"),
			money("price"), text("currency"), count("quantity"), text("status"),
			text("category"), text("tags"), text("supplier_id"), stamp("created_at"), stamp("updated_at"),
		},
	},
	{
		Table:      "Messages",
		EntityType: EntityTypeMessage,
		Columns: []Column{
			text("message_id"), text("thread_id"), text("order_id"), text("sender"),
			text("recipient"), text("subject"), text("body"), text("status"),
			stamp("created_at"), stamp("updated_at"),
		},
	},
	{
		Table:      "Drafts",
		EntityType: EntityTypeDraft,
		Columns: []Column{
			text("draft_id"), text("title"), text("description"), money("price"),
			count("quantity"), text("category"), stamp("created_at"), stamp("updated_at"),
		},
	},
	{
		Table:      "Suppliers",
		EntityType: EntityTypeSupplier,
		Columns: []Column{
			text("supplier_id"), text("name"), text("contact_email"), text("phone"),
			text("country"), count("lead_time_days"), stamp("updated_at"),
		},
	},
	{
		Table:      "Products",
		EntityType: EntityTypeProduct,
		Columns: []Column{
			text("product_id"), text("sku"), text("name"), money("cost"), text("supplier_id"),
			count("stock"), count("reorder_point"), stamp("created_at"), stamp("updated_at"),
		},
	},
}

// Schemas returns every table schema in the order tables are collected
func Schemas() []TableSchema {
	out := make([]TableSchema, len(schemas))
	copy(out, schemas)
	return out
}

// SchemaFor returns the schema of an entity type
func SchemaFor(e EntityType) (TableSchema, bool) {
	for _, s := range schemas {
		if s.EntityType == e {
			return s, true
		}
	}
	return TableSchema{}, false
}

// Width returns the number of columns a row must have
func (s TableSchema) Width() int {
	return len(s.Columns)
}

// IDColumn returns the name of the id column
func (s TableSchema) IDColumn() string {
	return s.Columns[0].Name
}

// UpdatedAtColumn returns the name of the last-modified column
func (s TableSchema) UpdatedAtColumn() string {
	return s.Columns[len(s.Columns)-1].Name
}

// payloadColumns are the columns stored in Record.Payload
func (s TableSchema) payloadColumns() []Column {
	return s.Columns[1 : len(s.Columns)-1]
}

// HeaderRow returns the canonical header
func (s TableSchema) HeaderRow() []string {
	out := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		out[i] = c.Name
	}
	return out
}

var headerFolder = cases.Fold()

func foldHeader(v string) string {
	v = strings.TrimSpace(v)
	v = strings.ReplaceAll(v, " ", "_")
	return headerFolder.String(v)
}

// CheckHeader compares a header row against the schema and returns one
// warning per mismatch. Mismatches never stop a read: columns are positional.
func (s TableSchema) CheckHeader(header []string) []string {
	var warnings []string
	if len(header) < s.Width() {
		warnings = append(warnings, fmt.Sprintf("%s: header has %d columns, expected %d", s.Table, len(header), s.Width()))
	}
	for i, c := range s.Columns {
		if i >= len(header) {
			break
		}
		if foldHeader(header[i]) != foldHeader(c.Name) {
			warnings = append(warnings, fmt.Sprintf("%s: column %d is %q, expected %q", s.Table, i+1, header[i], c.Name))
		}
	}
	return warnings
}

// ParseRow converts a positional row into a record. Rows shorter than the
// schema fail with ErrShortRow; cells that do not normalise are kept raw and
// reported as warnings.
func (s TableSchema) ParseRow(accountID int64, rowNumber int, row []string) (Record, []string, error) {
	if len(row) < s.Width() {
		return Record{}, nil, fmt.Errorf("%w: %s row %d has %d of %d columns", ErrShortRow, s.Table, rowNumber, len(row), s.Width())
	}
	id := strings.TrimSpace(row[0])
	if id == "" {
		return Record{}, nil, fmt.Errorf("%w: %s row %d", ErrMissingID, s.Table, rowNumber)
	}

	var warnings []string
	payload := make(map[string]any, s.Width()-2)
	for i, c := range s.payloadColumns() {
		value, err := normaliseCell(c, row[i+1])
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s row %d column %s: %v", s.Table, rowNumber, c.Name, err))
		}
		payload[c.Name] = value
	}

	rec := Record{
		ID:         id,
		EntityType: s.EntityType,
		AccountID:  accountID,
		Payload:    payload,
		RowNumber:  rowNumber,
	}

	if raw := strings.TrimSpace(row[s.Width()-1]); raw != "" {
		ts, err := ParseTimestamp(raw)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s row %d column %s: %v", s.Table, rowNumber, s.UpdatedAtColumn(), err))
		} else {
			rec.ExternalUpdatedAt = &ts
		}
	}

	return rec, warnings, nil
}

// FormatRow renders a record in column order. The updated_at cell carries
// the record's local modification time.
func (s TableSchema) FormatRow(rec Record) []string {
	row := make([]string, 0, s.Width())
	row = append(row, rec.ID)
	for _, c := range s.payloadColumns() {
		row = append(row, FormatCell(rec.Payload[c.Name]))
	}
	return append(row, FormatTimestamp(rec.LocalUpdatedAt))
}

// PayloadEqual reports whether two payloads render to the same cells
func (s TableSchema) PayloadEqual(a, b map[string]any) bool {
	for _, c := range s.payloadColumns() {
		av, _ := normaliseCell(c, FormatCell(a[c.Name]))
		bv, _ := normaliseCell(c, FormatCell(b[c.Name]))
		if av != bv {
			return false
		}
	}
	return true
}

func normaliseCell(c Column, raw string) (string, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return "", nil
	}
	switch c.Kind {
	case ColumnDecimal:
		d, err := decimal.NewFromString(strings.ReplaceAll(v, ",", ""))
		if err != nil {
			return v, fmt.Errorf("not a number: %q", v)
		}
		return d.String(), nil
	case ColumnInteger:
		d, err := decimal.NewFromString(strings.ReplaceAll(v, ",", ""))
		if err != nil || !d.IsInteger() {
			return v, fmt.Errorf("not an integer: %q", v)
		}
		return d.String(), nil
	case ColumnTimestamp:
		ts, err := ParseTimestamp(v)
		if err != nil {
			return v, err
		}
		return FormatTimestamp(ts), nil
	default:
		return v, nil
	}
}

// FormatCell renders a payload value as a sheet cell
func FormatCell(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case decimal.Decimal:
		return val.String()
	case time.Time:
		return FormatTimestamp(val)
	case *time.Time:
		if val == nil {
			return ""
		}
		return FormatTimestamp(*val)
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return decimal.NewFromFloat(val).String()
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses the timestamp formats sellers type into sheets.
// Values without a zone are read as UTC.
func ParseTimestamp(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, v); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", v)
}

// FormatTimestamp renders a timestamp the way exported rows carry it
func FormatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
