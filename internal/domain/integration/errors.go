package integration

import "errors"

// Domain errors for the sync engine
var (
	// Configuration errors, fatal to a whole sync call
	ErrSyncDisabled          = errors.New("integration: sync is disabled")
	ErrUnknownConflictPolicy = errors.New("integration: unknown conflict resolution policy")
	ErrUnknownMergeStrategy  = errors.New("integration: unknown field merge strategy")
	ErrInvalidDirection      = errors.New("integration: invalid sync direction")
	ErrInvalidEntityType     = errors.New("integration: invalid entity type")
	ErrNoAccounts            = errors.New("integration: no accounts configured for user")

	// External document errors
	ErrDocumentNotFound    = errors.New("integration: document not found")
	ErrTableNotFound       = errors.New("integration: table not found in document")
	ErrDocumentPermission  = errors.New("integration: permission denied on document")
	ErrDocumentUnavailable = errors.New("integration: document service unavailable")
	ErrDocumentRateLimited = errors.New("integration: document service rate limited")
	ErrInvalidRowRange     = errors.New("integration: invalid row range")

	// Record and row errors
	ErrRecordNotFound = errors.New("integration: record not found")
	ErrShortRow       = errors.New("integration: row has fewer columns than the table schema")
	ErrMissingID      = errors.New("integration: row has an empty id column")

	// Concurrency and review errors
	ErrSyncInProgress          = errors.New("integration: sync already in progress for this user and entity type")
	ErrPendingConflictNotFound = errors.New("integration: pending conflict not found")
	ErrPendingConflictResolved = errors.New("integration: pending conflict already resolved")
	ErrPendingConflictStale    = errors.New("integration: local record changed after the conflict was held")
	ErrInvalidResolutionAction = errors.New("integration: invalid manual resolution action")
)

// IsConnectivityError reports whether err belongs to the connectivity/auth
// class: the whole table or account pass fails but the rest of the run goes on.
func IsConnectivityError(err error) bool {
	return errors.Is(err, ErrDocumentNotFound) ||
		errors.Is(err, ErrDocumentPermission) ||
		errors.Is(err, ErrDocumentUnavailable) ||
		errors.Is(err, ErrDocumentRateLimited)
}

// IsConfigurationError reports whether err is fatal to an entire sync call.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrSyncDisabled) ||
		errors.Is(err, ErrUnknownConflictPolicy) ||
		errors.Is(err, ErrUnknownMergeStrategy) ||
		errors.Is(err, ErrInvalidDirection) ||
		errors.Is(err, ErrInvalidEntityType)
}
