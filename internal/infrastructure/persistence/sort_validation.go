package persistence

import (
	"strings"
)

// ValidateSortOrder normalizes the sort order to ASC or DESC.
// Anything other than ASC sorts descending.
func ValidateSortOrder(orderDir string) string {
	if strings.ToUpper(strings.TrimSpace(orderDir)) == "ASC" {
		return "ASC"
	}
	return "DESC"
}

// ValidateSortField returns sortField when it is whitelisted, otherwise
// defaultField. Column names never reach SQL unchecked.
func ValidateSortField(sortField string, allowedFields map[string]bool, defaultField string) string {
	trimmed := strings.TrimSpace(sortField)
	if trimmed == "" {
		return defaultField
	}
	if allowedFields[trimmed] {
		return trimmed
	}
	return defaultField
}

// ActivityLogSortFields are the sync_activity_logs columns History can sort by
var ActivityLogSortFields = map[string]bool{
	"id":          true,
	"created_at":  true,
	"started_at":  true,
	"user_id":     true,
	"action":      true,
	"entity_type": true,
	"success":     true,
}
