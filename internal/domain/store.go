package domain

import (
	"context"
	"errors"

	"vietqr_bot/internal/secret"
)

var (
	// ErrNotFound is returned when the requested account or group does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAccountLimit is returned when a user already holds MaxAccountsPerUser accounts.
	ErrAccountLimit = errors.New("account limit reached")
	// ErrUnreadable is returned when a stored field no longer decrypts,
	// usually because ENCRYPTION_KEY changed without a rekey.
	ErrUnreadable = errors.New("stored value cannot be read")
)

// IsUnreadable reports a stored value that can never be decrypted with the
// current key.
func IsUnreadable(err error) bool {
	return errors.Is(err, ErrUnreadable) || errors.Is(err, secret.ErrUndecryptable)
}

// IsPermanentStoreError reports errors that retrying cannot fix. Everything
// else coming out of a store is assumed transient.
func IsPermanentStoreError(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrAccountLimit) || IsUnreadable(err) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// AccountStore persists bank accounts with the account number encrypted.
type AccountStore interface {
	GetDefaultAccount(ctx context.Context, userID int64) (BankAccount, error)
	ListAccounts(ctx context.Context, userID int64) ([]BankAccount, error)
	RevealAccount(ctx context.Context, userID int64, accountID string) (BankAccount, error)
	UpsertAccount(ctx context.Context, userID int64, account BankAccount) (BankAccount, error)
	DeleteAccount(ctx context.Context, userID int64, accountID string) error
	SetDefaultAccount(ctx context.Context, userID int64, accountID string) error
}

// GroupStore persists the chats each user may dispatch into.
type GroupStore interface {
	GetDefaultGroup(ctx context.Context, userID int64) (ChatGroup, error)
	ListGroups(ctx context.Context, userID int64) ([]ChatGroup, error)
	UpsertGroup(ctx context.Context, userID int64, group ChatGroup) (ChatGroup, error)
	DeleteGroup(ctx context.Context, userID int64, chatID int64) error
	SetDefaultGroup(ctx context.Context, userID int64, chatID int64) error
}
