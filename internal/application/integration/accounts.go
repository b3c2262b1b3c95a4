package integration

import (
	"context"
	"sort"

	"github.com/sellersync/backend/internal/domain/integration"
)

// StaticAccountDirectory serves the accounts loaded at process start
type StaticAccountDirectory struct {
	accounts []integration.Account
}

// NewStaticAccountDirectory keeps the enabled accounts ordered by id
func NewStaticAccountDirectory(accounts []integration.Account) *StaticAccountDirectory {
	enabled := make([]integration.Account, 0, len(accounts))
	for _, a := range accounts {
		if a.Enabled {
			enabled = append(enabled, a)
		}
	}
	sort.Slice(enabled, func(i, j int) bool { return enabled[i].ID < enabled[j].ID })
	return &StaticAccountDirectory{accounts: enabled}
}

// ListAccounts returns every enabled account
func (d *StaticAccountDirectory) ListAccounts(_ context.Context) ([]integration.Account, error) {
	return append([]integration.Account(nil), d.accounts...), nil
}

// AccountsForUser returns the enabled accounts of one user
func (d *StaticAccountDirectory) AccountsForUser(_ context.Context, userID string) ([]integration.Account, error) {
	var out []integration.Account
	for _, a := range d.accounts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

// Users returns the distinct account owners, sorted
func (d *StaticAccountDirectory) Users(_ context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	var users []string
	for _, a := range d.accounts {
		if _, ok := seen[a.UserID]; ok {
			continue
		}
		seen[a.UserID] = struct{}{}
		users = append(users, a.UserID)
	}
	sort.Strings(users)
	return users, nil
}

var _ integration.AccountDirectory = (*StaticAccountDirectory)(nil)
