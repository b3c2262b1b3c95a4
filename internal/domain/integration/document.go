package integration

import "context"

// RowRange addresses data rows of a logical table. Rows are 1-based and
// exclude the header, so data row 1 is the first row under the header.
// End is inclusive; End == 0 means "through the last row".
type RowRange struct {
	Start int
	End   int
}

// From returns an open-ended range starting at row start
func From(start int) RowRange {
	return RowRange{Start: start}
}

// Single returns a range covering exactly one row
func Single(row int) RowRange {
	return RowRange{Start: row, End: row}
}

// Validate checks the range bounds
func (r RowRange) Validate() error {
	if r.Start < 1 {
		return ErrInvalidRowRange
	}
	if r.End != 0 && r.End < r.Start {
		return ErrInvalidRowRange
	}
	return nil
}

// IsOpen reports whether the range runs to the end of the table
func (r RowRange) IsOpen() bool {
	return r.End == 0
}

// Document is one account's external spreadsheet. Column order of each
// table is the contract; the header row is only used for discovery.
type Document interface {
	// Header returns the header row of a table
	Header(ctx context.Context, table string) ([]string, error)

	// Read returns the rows of a table within rng; fewer rows than requested
	// means the table ended.
	Read(ctx context.Context, table string, rng RowRange) ([][]string, error)

	// Append adds rows after the last data row
	Append(ctx context.Context, table string, rows [][]string) error

	// Update overwrites the rows starting at rng.Start
	Update(ctx context.Context, table string, rng RowRange, rows [][]string) error

	// Clear blanks the rows in rng
	Clear(ctx context.Context, table string, rng RowRange) error

	// RowCount returns the number of data rows currently in a table
	RowCount(ctx context.Context, table string) (int, error)
}

// DocumentProvider opens per-account documents
type DocumentProvider interface {
	// Open returns a handle for a document id. Not found and permission
	// problems are reported as ErrDocumentNotFound and ErrDocumentPermission.
	Open(ctx context.Context, documentID string) (Document, error)
}
