package domain

import "time"

// MaxAccountsPerUser caps how many bank accounts one user may store.
const MaxAccountsPerUser = 5

// BankAccount is a beneficiary account owned by a user.
//
// AccountNumber is plaintext and only populated by AccountStore.RevealAccount
// for the encoder; every other read returns it empty. Persisted copies hold
// ciphertext only.
type BankAccount struct {
	ID            string
	UserID        int64
	BankCode      string
	BankName      string
	AccountNumber string
	HolderName    string
	Label         string
	IsDefault     bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Redacted returns a copy without the plaintext account number.
func (a BankAccount) Redacted() BankAccount {
	a.AccountNumber = ""
	return a
}
