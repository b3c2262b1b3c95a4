package integration

import (
	"context"
	"errors"
	"fmt"

	"github.com/sellersync/backend/internal/domain/integration"
	"go.uber.org/zap"
)

// TableCollection is the outcome of reading one logical table
type TableCollection struct {
	Table      string
	EntityType integration.EntityType
	Records    []integration.Record
	// RowsConsumed is the number of rows the cursor advanced by
	RowsConsumed int
	SkippedRows  int
	CursorFrom   int
	CursorTo     int
	// Reset is set when the table shrank below the stored cursor
	Reset    bool
	Warnings []string
	Err      error

	// next is stored by Commit once Records are persisted
	next     integration.SyncCursor
	advanced bool
}

// Pending reports whether the table moved past its stored cursor and the
// new position still has to be committed.
func (t TableCollection) Pending() bool {
	return t.Err == nil && t.advanced
}

// AccountCollection is the outcome of collecting one account. A partial
// result is returned even when some tables fail.
type AccountCollection struct {
	AccountID int64
	Tables    []TableCollection
	Errors    []string
	Warnings  []string
}

// PerTable returns the collected records keyed by table name
func (c *AccountCollection) PerTable() map[string][]integration.Record {
	out := make(map[string][]integration.Record, len(c.Tables))
	for _, t := range c.Tables {
		out[t.Table] = t.Records
	}
	return out
}

// Records returns every collected record in table order
func (c *AccountCollection) Records() []integration.Record {
	var out []integration.Record
	for _, t := range c.Tables {
		out = append(out, t.Records...)
	}
	return out
}

// SkippedRows sums the skipped rows of every table
func (c *AccountCollection) SkippedRows() int {
	n := 0
	for _, t := range c.Tables {
		n += t.SkippedRows
	}
	return n
}

// AccountCollector reads every logical table of one account past its
// cursor. Reading never moves a stored cursor; callers persist the
// collected records first and then Commit each table. It is the only
// writer of that account's cursors.
type AccountCollector struct {
	documents integration.DocumentProvider
	cursors   integration.SyncCursorRepository
	schemas   []integration.TableSchema
	logger    *zap.Logger
	metrics   MetricsRecorder
}

// AccountCollectorOption configures an AccountCollector
type AccountCollectorOption func(*AccountCollector)

// WithCollectorTables restricts collection to the given schemas
func WithCollectorTables(schemas []integration.TableSchema) AccountCollectorOption {
	return func(c *AccountCollector) {
		c.schemas = schemas
	}
}

// WithCollectorMetrics sets the metrics recorder
func WithCollectorMetrics(m MetricsRecorder) AccountCollectorOption {
	return func(c *AccountCollector) {
		if m != nil {
			c.metrics = m
		}
	}
}

// NewAccountCollector creates a collector over every known table
func NewAccountCollector(
	documents integration.DocumentProvider,
	cursors integration.SyncCursorRepository,
	logger *zap.Logger,
	opts ...AccountCollectorOption,
) *AccountCollector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &AccountCollector{
		documents: documents,
		cursors:   cursors,
		schemas:   integration.Schemas(),
		logger:    logger,
		metrics:   noopMetrics{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect reads the account's tables in schema order. The returned error is
// non-nil only when the account as a whole could not be read (document not
// reachable, context cancelled); table failures are reported in the result.
// Tables finished before a cancellation stay in the returned collection.
func (c *AccountCollector) Collect(ctx context.Context, account integration.Account) (*AccountCollection, error) {
	log := c.logger.With(zap.Int64("account_id", account.ID), zap.String("user_id", account.UserID))
	result := &AccountCollection{AccountID: account.ID}

	doc, err := c.documents.Open(ctx, account.DocumentID)
	if err != nil {
		err = fmt.Errorf("account %d: open document: %w", account.ID, err)
		result.Errors = append(result.Errors, err.Error())
		return result, err
	}

	for _, schema := range c.schemas {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		tc := c.collectTable(ctx, log, doc, account.ID, schema)
		result.Tables = append(result.Tables, tc)
		result.Warnings = append(result.Warnings, tc.Warnings...)
		if tc.Err != nil {
			if errors.Is(tc.Err, context.Canceled) || errors.Is(tc.Err, context.DeadlineExceeded) {
				return result, tc.Err
			}
			result.Errors = append(result.Errors, fmt.Sprintf("account %d: %s: %v", account.ID, schema.Table, tc.Err))
		}
		c.metrics.RecordRowsCollected(ctx, schema.Table, len(tc.Records), tc.SkippedRows)
	}

	log.Debug("account collected",
		zap.Int("records", len(result.Records())),
		zap.Int("errors", len(result.Errors)),
	)
	return result, nil
}

func (c *AccountCollector) collectTable(
	ctx context.Context,
	log *zap.Logger,
	doc integration.Document,
	accountID int64,
	schema integration.TableSchema,
) TableCollection {
	log = log.With(zap.String("table", schema.Table))
	tc := TableCollection{Table: schema.Table, EntityType: schema.EntityType}

	cursor, err := c.cursors.Get(ctx, accountID, schema.Table)
	if err != nil {
		tc.Err = fmt.Errorf("load cursor: %w", err)
		return tc
	}
	tc.CursorFrom = cursor.LastPosition
	tc.CursorTo = cursor.LastPosition

	available, err := doc.RowCount(ctx, schema.Table)
	if err != nil {
		if errors.Is(err, integration.ErrTableNotFound) {
			tc.Warnings = append(tc.Warnings, fmt.Sprintf("account %d: table %s not found, skipped", accountID, schema.Table))
			log.Warn("table not found in document")
			return tc
		}
		tc.Err = err
		return tc
	}

	if available < cursor.LastPosition {
		tc.Reset = true
		tc.Warnings = append(tc.Warnings, fmt.Sprintf(
			"account %d: table %s has %d rows but cursor is at %d, re-reading from the start",
			accountID, schema.Table, available, cursor.LastPosition))
		log.Warn("table shrank below cursor, resetting",
			zap.Int("rows", available),
			zap.Int("cursor", cursor.LastPosition),
		)
		cursor.LastPosition = 0
	}

	if cursor.LastPosition == 0 {
		header, err := doc.Header(ctx, schema.Table)
		if err != nil {
			tc.Err = fmt.Errorf("read header: %w", err)
			return tc
		}
		for _, w := range schema.CheckHeader(header) {
			tc.Warnings = append(tc.Warnings, fmt.Sprintf("account %d: %s", accountID, w))
			log.Warn("header mismatch", zap.String("detail", w))
		}
	}

	if available == cursor.LastPosition && !tc.Reset {
		return tc
	}

	var rows [][]string
	if available > cursor.LastPosition {
		rows, err = doc.Read(ctx, schema.Table, integration.From(cursor.LastPosition+1))
		if err != nil {
			tc.Err = fmt.Errorf("read rows: %w", err)
			return tc
		}
	}

	for i, row := range rows {
		rowNumber := cursor.LastPosition + 1 + i
		rec, warnings, err := schema.ParseRow(accountID, rowNumber, row)
		if err != nil {
			tc.SkippedRows++
			tc.Warnings = append(tc.Warnings, fmt.Sprintf("account %d: %v", accountID, err))
			log.Warn("row skipped", zap.Int("row", rowNumber), zap.Error(err))
			continue
		}
		for _, w := range warnings {
			tc.Warnings = append(tc.Warnings, fmt.Sprintf("account %d: %s", accountID, w))
		}
		tc.Records = append(tc.Records, rec)
	}

	cursor.Advance(len(rows))
	cursor.AccountID = accountID
	cursor.LogicalTable = schema.Table
	tc.next = cursor
	tc.advanced = true
	tc.RowsConsumed = len(rows)
	tc.CursorTo = cursor.LastPosition
	return tc
}

// Commit stores the cursor position reached by a table read. Tables that
// failed or had nothing new are left alone.
func (c *AccountCollector) Commit(ctx context.Context, tc TableCollection) error {
	if !tc.Pending() {
		return nil
	}
	if err := c.cursors.Save(ctx, tc.next); err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}
