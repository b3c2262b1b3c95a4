package integration

import (
	"context"
	"strings"
	"testing"

	"github.com/sellersync/backend/internal/domain/integration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func ordersOnly() AccountCollectorOption {
	schema, _ := integration.SchemaFor(integration.EntityTypeOrder)
	return WithCollectorTables([]integration.TableSchema{schema})
}

func collectAndCommit(ctx context.Context, t *testing.T, c *AccountCollector, a integration.Account) *AccountCollection {
	t.Helper()
	got, err := c.Collect(ctx, a)
	require.NoError(t, err)
	for _, tc := range got.Tables {
		require.NoError(t, c.Commit(ctx, tc))
	}
	return got
}

func TestAccountCollector_CursorMonotonicity(t *testing.T) {
	h := newHarness(t, account(1, "u1"))
	ctx := context.Background()
	collector := NewAccountCollector(h.provider, h.cursors, zap.NewNop(), ordersOnly())
	doc := h.doc(1)

	doc.AppendRows("Orders",
		orderCells("A", "paid", t0),
		orderCells("B", "paid", t0),
		orderCells("C", "paid", t0),
	)

	consumed := 0
	position := func() int {
		c, err := h.cursors.Get(ctx, 1, "Orders")
		require.NoError(t, err)
		return c.LastPosition
	}

	got := collectAndCommit(ctx, t, collector, account(1, "u1"))
	require.Len(t, got.Tables, 1)
	assert.Len(t, got.Records(), 3)
	consumed += got.Tables[0].RowsConsumed
	assert.Equal(t, consumed, position())

	doc.AppendRows("Orders", orderCells("D", "paid", t0), orderCells("E", "paid", t0))
	got = collectAndCommit(ctx, t, collector, account(1, "u1"))
	assert.Equal(t, 3, got.Tables[0].CursorFrom)
	ids := []string{got.Records()[0].ID, got.Records()[1].ID}
	assert.Equal(t, []string{"D", "E"}, ids)
	assert.Equal(t, 4, got.Records()[0].RowNumber)
	consumed += got.Tables[0].RowsConsumed
	assert.Equal(t, consumed, position())

	reads := doc.Calls("read")
	got = collectAndCommit(ctx, t, collector, account(1, "u1"))
	assert.Empty(t, got.Records())
	assert.False(t, got.Tables[0].Pending())
	assert.Equal(t, 5, position())
	assert.Equal(t, reads, doc.Calls("read"), "nothing new means no read")
}

func TestAccountCollector_SkipsShortRowsButConsumesThem(t *testing.T) {
	h := newHarness(t, account(1, "u1"))
	ctx := context.Background()
	collector := NewAccountCollector(h.provider, h.cursors, zap.NewNop(), ordersOnly())

	h.doc(1).AppendRows("Orders",
		orderCells("A", "paid", t0),
		[]string{"B", "L-1"},
		orderCells("C", "paid", t0),
	)

	got := collectAndCommit(ctx, t, collector, account(1, "u1"))
	assert.Len(t, got.Records(), 2)
	assert.Equal(t, 1, got.SkippedRows())
	assert.Empty(t, got.Errors)
	assert.NotEmpty(t, got.Warnings)

	c, err := h.cursors.Get(ctx, 1, "Orders")
	require.NoError(t, err)
	assert.Equal(t, 3, c.LastPosition)
}

func TestAccountCollector_TruncatedTableResetsCursor(t *testing.T) {
	h := newHarness(t, account(1, "u1"))
	ctx := context.Background()
	collector := NewAccountCollector(h.provider, h.cursors, zap.NewNop(), ordersOnly())
	require.NoError(t, h.cursors.Save(ctx, integration.SyncCursor{AccountID: 1, LogicalTable: "Orders", LastPosition: 5}))

	schema, _ := integration.SchemaFor(integration.EntityTypeOrder)
	h.doc(1).SetTable("Orders", schema.HeaderRow(),
		orderCells("X", "paid", t0),
		orderCells("Y", "paid", t0),
	)

	got, err := collector.Collect(ctx, account(1, "u1"))
	require.NoError(t, err)
	table := got.Tables[0]
	assert.True(t, table.Reset)
	assert.Equal(t, 5, table.CursorFrom)
	assert.Equal(t, 2, table.CursorTo)
	assert.Len(t, table.Records, 2)
	assert.NotEmpty(t, table.Warnings)

	require.NoError(t, collector.Commit(ctx, table))
	c, err := h.cursors.Get(ctx, 1, "Orders")
	require.NoError(t, err)
	assert.Equal(t, 2, c.LastPosition)
}

func TestAccountCollector_ReadLeavesCursorUntilCommit(t *testing.T) {
	h := newHarness(t, account(1, "u1"))
	ctx := context.Background()
	collector := NewAccountCollector(h.provider, h.cursors, zap.NewNop(), ordersOnly())
	h.doc(1).AppendRows("Orders", orderCells("A", "paid", t0), orderCells("B", "paid", t0))

	position := func() int {
		c, err := h.cursors.Get(ctx, 1, "Orders")
		require.NoError(t, err)
		return c.LastPosition
	}

	first, err := collector.Collect(ctx, account(1, "u1"))
	require.NoError(t, err)
	assert.True(t, first.Tables[0].Pending())
	assert.Zero(t, position())

	again, err := collector.Collect(ctx, account(1, "u1"))
	require.NoError(t, err)
	assert.Len(t, again.Records(), 2, "uncommitted rows are delivered again")

	require.NoError(t, collector.Commit(ctx, again.Tables[0]))
	assert.Equal(t, 2, position())

	failed := again.Tables[0]
	failed.Err = integration.ErrDocumentUnavailable
	assert.False(t, failed.Pending())
	require.NoError(t, collector.Commit(ctx, failed))
	assert.Equal(t, 2, position())
}

func TestAccountCollector_MissingTableAndHeaderMismatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acct := account(3, "u1")

	doc := h.provider.AddDocument(acct.DocumentID)
	doc.SetTable("Orders", []string{"id", "something else"}, orderCells("A", "paid", t0))

	collector := NewAccountCollector(h.provider, h.cursors, zap.NewNop())
	got, err := collector.Collect(ctx, acct)
	require.NoError(t, err)
	assert.Empty(t, got.Errors, "missing tables are warnings")
	assert.Len(t, got.Tables, len(integration.Schemas()))
	assert.Len(t, got.PerTable()["Orders"], 1)

	var notFound, header int
	for _, w := range got.Warnings {
		switch {
		case strings.Contains(w, "not found"):
			notFound++
		case strings.Contains(w, "header"):
			header++
		}
	}
	assert.Equal(t, len(integration.Schemas())-1, notFound)
	assert.Positive(t, header)
}

func TestAccountCollector_DocumentErrors(t *testing.T) {
	h := newHarness(t, account(1, "u1"))
	ctx := context.Background()
	collector := NewAccountCollector(h.provider, h.cursors, zap.NewNop(), ordersOnly())

	t.Run("unknown document", func(t *testing.T) {
		_, err := collector.Collect(ctx, account(9, "u1"))
		assert.ErrorIs(t, err, integration.ErrDocumentNotFound)
	})

	t.Run("cancelled context leaves cursor alone", func(t *testing.T) {
		h.doc(1).AppendRows("Orders", orderCells("A", "paid", t0))
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := collector.Collect(cancelled, account(1, "u1"))
		assert.ErrorIs(t, err, context.Canceled)
		c, err := h.cursors.Get(ctx, 1, "Orders")
		require.NoError(t, err)
		assert.Zero(t, c.LastPosition)
	})

	t.Run("failing document fails the account", func(t *testing.T) {
		h.doc(1).FailWith(integration.ErrDocumentRateLimited)
		defer h.doc(1).FailWith(nil)

		got, err := collector.Collect(ctx, account(1, "u1"))
		assert.ErrorIs(t, err, integration.ErrDocumentRateLimited)
		assert.Len(t, got.Errors, 1)
	})
}
