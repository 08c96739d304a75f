package core

import (
	"context"
	"errors"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// AccountRepository persists account snapshots. Implementations store
// every AccountData field and hand back exactly what was saved.
type AccountRepository interface {
	ListAccounts(ctx context.Context) ([]AccountData, error)

	FindAccount(ctx context.Context, id string) (*AccountData, error)

	// SaveAccount inserts or replaces the account.
	SaveAccount(ctx context.Context, account *AccountData) error

	DeleteAccount(ctx context.Context, id string) error

	// DefaultAccountID returns "" when no default is set.
	DefaultAccountID(ctx context.Context) (string, error)

	SetDefaultAccountID(ctx context.Context, id string) error
}
