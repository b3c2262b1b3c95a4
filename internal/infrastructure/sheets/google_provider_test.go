package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sellersync/backend/internal/domain/integration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name  string
		table string
		err   error
		want  error
	}{
		{"not found", "", &googleapi.Error{Code: 404}, integration.ErrDocumentNotFound},
		{"forbidden", "", &googleapi.Error{Code: 403, Message: "caller does not have permission"}, integration.ErrDocumentPermission},
		{"unauthorized", "", &googleapi.Error{Code: 401}, integration.ErrDocumentPermission},
		{"rate limited", "", &googleapi.Error{Code: 429}, integration.ErrDocumentRateLimited},
		{"server error", "", &googleapi.Error{Code: 503}, integration.ErrDocumentUnavailable},
		{"missing sheet", "Drafts", &googleapi.Error{Code: 400, Message: "Unable to parse range: 'Drafts'!A2:ZZ"}, integration.ErrTableNotFound},
		{"transport", "", errors.New("dial tcp: connection refused"), integration.ErrDocumentUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyError("doc-1", tt.table, tt.err)
			assert.ErrorIs(t, got, tt.want)
		})
	}

	other := classifyError("doc-1", "Orders", &googleapi.Error{Code: 400, Message: "bad value"})
	assert.False(t, integration.IsConnectivityError(other))
}

func TestDataRange(t *testing.T) {
	assert.Equal(t, "'Orders'!A2:ZZ", dataRange("Orders", integration.From(1)))
	assert.Equal(t, "'Orders'!A6:ZZ8", dataRange("Orders", integration.RowRange{Start: 5, End: 7}))
	assert.Equal(t, "'Seller''s Orders'!A1", a1("Seller's Orders", "A1", ""))
}

func newTestProvider(t *testing.T, handler http.HandlerFunc) *GoogleProvider {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	p, err := NewGoogleProvider(context.Background(),
		option.WithEndpoint(ts.URL+"/"),
		option.WithHTTPClient(ts.Client()),
	)
	require.NoError(t, err)
	return p
}

func TestGoogleProvider_Read(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if strings.Contains(r.URL.Path, "/values/") {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"range":          "Orders!A2:K3",
				"majorDimension": "ROWS",
				"values":         [][]string{{"A", "L1"}, {"B", "L2"}},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"spreadsheetId": "doc-1"})
	})

	doc, err := p.Open(context.Background(), "doc-1")
	require.NoError(t, err)

	rows, err := doc.Read(context.Background(), "Orders", integration.From(1))
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"A", "L1"}, {"B", "L2"}}, rows)
}

func TestGoogleProvider_OpenNotFound(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":404,"message":"Requested entity was not found.","status":"NOT_FOUND"}}`))
	})

	_, err := p.Open(context.Background(), "doc-missing")
	assert.ErrorIs(t, err, integration.ErrDocumentNotFound)
	assert.True(t, integration.IsConnectivityError(err))
}
