package sheets

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sellersync/backend/internal/domain/integration"
)

// MemoryProvider keeps documents in process memory. It is the fallback
// backend when no Google credentials are configured, and the test double
// for collectors and the orchestrator.
type MemoryProvider struct {
	mu        sync.RWMutex
	documents map[string]*MemoryDocument
	// autoCreate opens unknown ids as empty documents instead of failing
	autoCreate bool
}

// NewMemoryProvider creates an empty provider; unknown ids are not found
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{documents: make(map[string]*MemoryDocument)}
}

// NewFallbackProvider creates a provider that opens unknown ids as empty
// documents, so a process without credentials still runs.
func NewFallbackProvider() *MemoryProvider {
	p := NewMemoryProvider()
	p.autoCreate = true
	return p
}

// AddDocument registers an empty document and returns it
func (p *MemoryProvider) AddDocument(id string) *MemoryDocument {
	p.mu.Lock()
	defer p.mu.Unlock()
	doc := newMemoryDocument()
	p.documents[id] = doc
	return doc
}

// Document returns a registered document
func (p *MemoryProvider) Document(id string) (*MemoryDocument, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	doc, ok := p.documents[id]
	return doc, ok
}

// Open returns the document or ErrDocumentNotFound
func (p *MemoryProvider) Open(ctx context.Context, documentID string) (integration.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	doc, ok := p.documents[documentID]
	if !ok {
		if !p.autoCreate || documentID == "" {
			return nil, fmt.Errorf("%w: %s", integration.ErrDocumentNotFound, documentID)
		}
		doc = newMemoryDocument()
		p.documents[documentID] = doc
	}
	if err := doc.openError(); err != nil {
		return nil, err
	}
	return doc, nil
}

// MemoryDocument is an in-memory spreadsheet. Each table keeps its header
// at index 0 followed by the data rows.
type MemoryDocument struct {
	mu      sync.RWMutex
	tables  map[string][][]string
	failErr error
	calls   map[string]int
}

func newMemoryDocument() *MemoryDocument {
	return &MemoryDocument{
		tables: make(map[string][][]string),
		calls:  make(map[string]int),
	}
}

// SetTable replaces a table with a header and data rows
func (d *MemoryDocument) SetTable(table string, header []string, rows ...[]string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := make([][]string, 0, len(rows)+1)
	t = append(t, append([]string(nil), header...))
	for _, r := range rows {
		t = append(t, append([]string(nil), r...))
	}
	d.tables[table] = t
}

// AppendRows adds data rows directly, bypassing failure injection. A
// missing table is created with an empty header.
func (d *MemoryDocument) AppendRows(table string, rows ...[]string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.tables[table]; !ok {
		d.tables[table] = [][]string{nil}
	}
	for _, r := range rows {
		d.tables[table] = append(d.tables[table], append([]string(nil), r...))
	}
}

// Rows returns a copy of the data rows of a table
func (d *MemoryDocument) Rows(table string) [][]string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	t := d.tables[table]
	if len(t) <= 1 {
		return nil
	}
	out := make([][]string, len(t)-1)
	for i, r := range t[1:] {
		out[i] = append([]string(nil), r...)
	}
	return out
}

// FailWith makes every subsequent call return err; nil clears it
func (d *MemoryDocument) FailWith(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failErr = err
}

// Calls returns how often an operation was invoked
func (d *MemoryDocument) Calls(op string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.calls[op]
}

func (d *MemoryDocument) openError() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.failErr
}

// begin records a call and returns the table, or an error
func (d *MemoryDocument) begin(ctx context.Context, op, table string) ([][]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.calls[op]++
	if d.failErr != nil {
		return nil, d.failErr
	}
	t, ok := d.tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: %s", integration.ErrTableNotFound, table)
	}
	return t, nil
}

func (d *MemoryDocument) Header(ctx context.Context, table string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, err := d.begin(ctx, "header", table)
	if err != nil {
		return nil, err
	}
	if len(t) == 0 {
		return nil, nil
	}
	return append([]string(nil), t[0]...), nil
}

func (d *MemoryDocument) Read(ctx context.Context, table string, rng integration.RowRange) ([][]string, error) {
	if err := rng.Validate(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	t, err := d.begin(ctx, "read", table)
	if err != nil {
		return nil, err
	}

	last := dataRowCount(t)
	end := last
	if !rng.IsOpen() && rng.End < end {
		end = rng.End
	}
	var out [][]string
	for n := rng.Start; n <= end; n++ {
		out = append(out, append([]string(nil), t[n]...))
	}
	return out, nil
}

func (d *MemoryDocument) Append(ctx context.Context, table string, rows [][]string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, err := d.begin(ctx, "append", table)
	if err != nil {
		return err
	}
	t = t[:dataRowCount(t)+1]
	for _, r := range rows {
		t = append(t, append([]string(nil), r...))
	}
	d.tables[table] = t
	return nil
}

func (d *MemoryDocument) Update(ctx context.Context, table string, rng integration.RowRange, rows [][]string) error {
	if err := rng.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	t, err := d.begin(ctx, "update", table)
	if err != nil {
		return err
	}
	for i, r := range rows {
		n := rng.Start + i
		if !rng.IsOpen() && n > rng.End {
			break
		}
		for len(t) <= n {
			t = append(t, nil)
		}
		t[n] = append([]string(nil), r...)
	}
	d.tables[table] = t
	return nil
}

func (d *MemoryDocument) Clear(ctx context.Context, table string, rng integration.RowRange) error {
	if err := rng.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	t, err := d.begin(ctx, "clear", table)
	if err != nil {
		return err
	}
	end := len(t) - 1
	if !rng.IsOpen() && rng.End < end {
		end = rng.End
	}
	for n := rng.Start; n <= end; n++ {
		t[n] = nil
	}
	d.tables[table] = t
	return nil
}

func (d *MemoryDocument) RowCount(ctx context.Context, table string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, err := d.begin(ctx, "row_count", table)
	if err != nil {
		return 0, err
	}
	return dataRowCount(t), nil
}

// dataRowCount is the index of the last row that has any non-blank cell.
// Trailing blank rows are not counted, matching the Sheets API.
func dataRowCount(t [][]string) int {
	for n := len(t) - 1; n >= 1; n-- {
		for _, cell := range t[n] {
			if strings.TrimSpace(cell) != "" {
				return n
			}
		}
	}
	return 0
}

var (
	_ integration.DocumentProvider = (*MemoryProvider)(nil)
	_ integration.Document         = (*MemoryDocument)(nil)
)
