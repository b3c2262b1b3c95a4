// Package integration contains the synchronization bounded context.
// It keeps the relational record store consistent with the per-account
// spreadsheet documents sellers edit by hand.
//
// Key concepts:
//   - Record: one row of a logical table (orders, listings, messages, ...) keyed by a stable id
//   - SyncCursor: last consumed data row per (account, logical table)
//   - ActivityLogEntry: append-only sync attempt, doubles as the change-detection watermark
//   - Classify / Resolve: pure functions that partition records and decide conflicts
//
// Design Pattern: Ports & Adapters
//   - Ports (Document, DocumentProvider, repositories) are defined here in the domain layer
//   - Adapters (Google Sheets, GORM, Redis) are in the infrastructure layer
package integration
