package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sellersync/backend/internal/domain/integration"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"
)

// lastColumn bounds open ranges; every logical table is narrower than this
const lastColumn = "ZZ"

// GoogleProvider implements integration.DocumentProvider on the Google Sheets API
type GoogleProvider struct {
	service *gsheets.Service
}

// NewGoogleProvider creates a provider. opts are passed to the Sheets client
// (credentials, endpoint, http client).
func NewGoogleProvider(ctx context.Context, opts ...option.ClientOption) (*GoogleProvider, error) {
	opts = append([]option.ClientOption{option.WithScopes(gsheets.SpreadsheetsScope)}, opts...)
	service, err := gsheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}
	return &GoogleProvider{service: service}, nil
}

// Open verifies the spreadsheet is reachable and returns a handle to it
func (p *GoogleProvider) Open(ctx context.Context, documentID string) (integration.Document, error) {
	if documentID == "" {
		return nil, fmt.Errorf("%w: empty document id", integration.ErrDocumentNotFound)
	}
	_, err := p.service.Spreadsheets.Get(documentID).
		Fields("spreadsheetId").
		Context(ctx).
		Do()
	if err != nil {
		return nil, classifyError(documentID, "", err)
	}
	return &googleDocument{service: p.service, id: documentID}, nil
}

type googleDocument struct {
	service *gsheets.Service
	id      string
}

func (d *googleDocument) Header(ctx context.Context, table string) ([]string, error) {
	resp, err := d.service.Spreadsheets.Values.Get(d.id, a1(table, "A1", lastColumn+"1")).Context(ctx).Do()
	if err != nil {
		return nil, classifyError(d.id, table, err)
	}
	rows := toRows(resp.Values)
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (d *googleDocument) Read(ctx context.Context, table string, rng integration.RowRange) ([][]string, error) {
	if err := rng.Validate(); err != nil {
		return nil, err
	}
	resp, err := d.service.Spreadsheets.Values.Get(d.id, dataRange(table, rng)).Context(ctx).Do()
	if err != nil {
		return nil, classifyError(d.id, table, err)
	}
	return toRows(resp.Values), nil
}

func (d *googleDocument) Append(ctx context.Context, table string, rows [][]string) error {
	if len(rows) == 0 {
		return nil
	}
	_, err := d.service.Spreadsheets.Values.Append(d.id, a1(table, "A1", ""), &gsheets.ValueRange{Values: toValues(rows)}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return classifyError(d.id, table, err)
	}
	return nil
}

func (d *googleDocument) Update(ctx context.Context, table string, rng integration.RowRange, rows [][]string) error {
	if err := rng.Validate(); err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	_, err := d.service.Spreadsheets.Values.Update(d.id, dataRange(table, rng), &gsheets.ValueRange{Values: toValues(rows)}).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return classifyError(d.id, table, err)
	}
	return nil
}

func (d *googleDocument) Clear(ctx context.Context, table string, rng integration.RowRange) error {
	if err := rng.Validate(); err != nil {
		return err
	}
	_, err := d.service.Spreadsheets.Values.Clear(d.id, dataRange(table, rng), &gsheets.ClearValuesRequest{}).
		Context(ctx).
		Do()
	if err != nil {
		return classifyError(d.id, table, err)
	}
	return nil
}

// RowCount counts data rows through the last non-empty id cell
func (d *googleDocument) RowCount(ctx context.Context, table string) (int, error) {
	resp, err := d.service.Spreadsheets.Values.Get(d.id, a1(table, "A2", "A")).
		MajorDimension("COLUMNS").
		Context(ctx).
		Do()
	if err != nil {
		return 0, classifyError(d.id, table, err)
	}
	if len(resp.Values) == 0 {
		return 0, nil
	}
	return len(resp.Values[0]), nil
}

// a1 builds an A1 range on a quoted sheet name
func a1(table, from, to string) string {
	name := "'" + strings.ReplaceAll(table, "'", "''") + "'"
	if to == "" {
		return name + "!" + from
	}
	return name + "!" + from + ":" + to
}

// dataRange maps data rows to sheet rows; data row n is sheet row n+1
func dataRange(table string, rng integration.RowRange) string {
	from := fmt.Sprintf("A%d", rng.Start+1)
	if rng.IsOpen() {
		return a1(table, from, lastColumn)
	}
	return a1(table, from, fmt.Sprintf("%s%d", lastColumn, rng.End+1))
}

func toRows(values [][]interface{}) [][]string {
	rows := make([][]string, len(values))
	for i, row := range values {
		rows[i] = make([]string, len(row))
		for j, cell := range row {
			rows[i][j] = fmt.Sprint(cell)
		}
	}
	return rows
}

func toValues(rows [][]string) [][]interface{} {
	values := make([][]interface{}, len(rows))
	for i, row := range rows {
		values[i] = make([]interface{}, len(row))
		for j, cell := range row {
			values[i][j] = cell
		}
	}
	return values
}

// classifyError maps Sheets API failures onto the domain error taxonomy
func classifyError(documentID, table string, err error) error {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%w: document %s: %v", integration.ErrDocumentUnavailable, documentID, err)
	}

	switch {
	case apiErr.Code == http.StatusBadRequest && table != "" && strings.Contains(apiErr.Message, "Unable to parse range"):
		return fmt.Errorf("%w: %s in document %s", integration.ErrTableNotFound, table, documentID)
	case apiErr.Code == http.StatusNotFound:
		return fmt.Errorf("%w: %s", integration.ErrDocumentNotFound, documentID)
	case apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden:
		return fmt.Errorf("%w: %s: %s", integration.ErrDocumentPermission, documentID, apiErr.Message)
	case apiErr.Code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", integration.ErrDocumentRateLimited, documentID)
	case apiErr.Code >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %s: %s", integration.ErrDocumentUnavailable, documentID, apiErr.Message)
	default:
		return fmt.Errorf("sheets: document %s: %w", documentID, err)
	}
}

var _ integration.DocumentProvider = (*GoogleProvider)(nil)
