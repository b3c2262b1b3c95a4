package sheets

import (
	"context"
	"errors"
	"testing"

	"github.com/sellersync/backend/internal/domain/integration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryProvider_Open(t *testing.T) {
	ctx := context.Background()

	p := NewMemoryProvider()
	_, err := p.Open(ctx, "missing")
	assert.ErrorIs(t, err, integration.ErrDocumentNotFound)

	p.AddDocument("doc-1")
	_, err = p.Open(ctx, "doc-1")
	assert.NoError(t, err)

	fallback := NewFallbackProvider()
	_, err = fallback.Open(ctx, "anything")
	assert.NoError(t, err)
	_, ok := fallback.Document("anything")
	assert.True(t, ok)
}

func TestMemoryDocument_ReadAndWrite(t *testing.T) {
	ctx := context.Background()
	doc := NewMemoryProvider().AddDocument("doc")
	doc.SetTable("Orders", []string{"order_id", "status"},
		[]string{"A", "paid"},
		[]string{"B", "shipped"},
		[]string{"C", "paid"},
	)

	header, err := doc.Header(ctx, "Orders")
	require.NoError(t, err)
	assert.Equal(t, []string{"order_id", "status"}, header)

	rows, err := doc.Read(ctx, "Orders", integration.From(2))
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"B", "shipped"}, {"C", "paid"}}, rows)

	rows, err = doc.Read(ctx, "Orders", integration.From(4))
	require.NoError(t, err)
	assert.Empty(t, rows, "past the end reads nothing")

	rows, err = doc.Read(ctx, "Orders", integration.RowRange{Start: 1, End: 1})
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	require.NoError(t, doc.Update(ctx, "Orders", integration.Single(2), [][]string{{"B", "refunded"}}))
	require.NoError(t, doc.Append(ctx, "Orders", [][]string{{"D", "paid"}}))
	n, err := doc.RowCount(ctx, "Orders")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, []string{"B", "refunded"}, doc.Rows("Orders")[1])

	require.NoError(t, doc.Clear(ctx, "Orders", integration.From(3)))
	n, err = doc.RowCount(ctx, "Orders")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "trailing blank rows are not counted")

	require.NoError(t, doc.Append(ctx, "Orders", [][]string{{"E", "paid"}}))
	assert.Equal(t, []string{"E", "paid"}, doc.Rows("Orders")[2], "append goes after the last non-blank row")
}

func TestMemoryDocument_Errors(t *testing.T) {
	ctx := context.Background()
	doc := NewMemoryProvider().AddDocument("doc")

	_, err := doc.Read(ctx, "Listings", integration.From(1))
	assert.ErrorIs(t, err, integration.ErrTableNotFound)

	_, err = doc.Read(ctx, "Listings", integration.RowRange{Start: 0})
	assert.ErrorIs(t, err, integration.ErrInvalidRowRange)

	doc.SetTable("Orders", []string{"order_id"})
	doc.FailWith(integration.ErrDocumentUnavailable)
	_, err = doc.RowCount(ctx, "Orders")
	assert.ErrorIs(t, err, integration.ErrDocumentUnavailable)
	assert.Equal(t, 1, doc.Calls("row_count"))

	doc.FailWith(nil)
	_, err = doc.RowCount(ctx, "Orders")
	assert.NoError(t, err)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = doc.Header(cctx, "Orders")
	assert.True(t, errors.Is(err, context.Canceled))
}
