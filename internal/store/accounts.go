package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"vietqr_bot/internal/domain"
	"vietqr_bot/internal/logging"
)

// documentCollection is the slice of *mongo.Collection used by the account
// and group stores.
type documentCollection interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	UpdateMany(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
	CountDocuments(ctx context.Context, filter interface{}, opts ...*options.CountOptions) (int64, error)
}

// FieldCipher encrypts individual document fields. *secret.Cipher satisfies it.
type FieldCipher interface {
	EncryptField(plaintext string) (string, error)
	DecryptField(value string) (string, error)
}

type accountDocument struct {
	AccountID     string    `bson:"account_id"`
	UserID        int64     `bson:"user_id"`
	BankCode      string    `bson:"bank_code"`
	BankName      string    `bson:"bank_name"`
	AccountNumber string    `bson:"account_number"`
	HolderName    string    `bson:"holder_name"`
	Label         string    `bson:"label"`
	IsDefault     bool      `bson:"is_default"`
	CreatedAt     time.Time `bson:"created_at"`
	UpdatedAt     time.Time `bson:"updated_at"`
}

// AccountStore implements domain.AccountStore on MongoDB. Account numbers and
// holder names are stored encrypted; the label carries only the masked number.
type AccountStore struct {
	accounts documentCollection
	cipher   FieldCipher
	newID    func() string
	now      func() time.Time
}

var _ domain.AccountStore = (*AccountStore)(nil)

// NewAccountStore builds an AccountStore over the accounts collection.
func NewAccountStore(accounts documentCollection, cipher FieldCipher) *AccountStore {
	return &AccountStore{
		accounts: accounts,
		cipher:   cipher,
		newID:    uuid.NewString,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ListAccounts returns the user's accounts, default first then oldest first.
// Account numbers are never included.
func (s *AccountStore) ListAccounts(ctx context.Context, userID int64) ([]domain.BankAccount, error) {
	if err := s.validate(ctx); err != nil {
		return nil, err
	}

	docs, err := s.findAll(ctx, userID)
	if err != nil {
		return nil, err
	}

	accounts := make([]domain.BankAccount, 0, len(docs))
	for _, doc := range docs {
		acct, err := s.toDomain(doc, false)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acct)
	}

	return accounts, nil
}

// GetDefaultAccount returns the default account, falling back to the oldest
// one when none is flagged.
func (s *AccountStore) GetDefaultAccount(ctx context.Context, userID int64) (domain.BankAccount, error) {
	accounts, err := s.ListAccounts(ctx, userID)
	if err != nil {
		return domain.BankAccount{}, err
	}
	if len(accounts) == 0 {
		return domain.BankAccount{}, fmt.Errorf("default account for user %d: %w", userID, domain.ErrNotFound)
	}
	return accounts[0], nil
}

// RevealAccount returns one account with its account number decrypted.
func (s *AccountStore) RevealAccount(ctx context.Context, userID int64, accountID string) (domain.BankAccount, error) {
	if err := s.validate(ctx); err != nil {
		return domain.BankAccount{}, err
	}

	doc, err := s.findOne(ctx, userID, accountID)
	if err != nil {
		return domain.BankAccount{}, err
	}

	return s.toDomain(doc, true)
}

// UpsertAccount inserts a new account when account.ID is empty and updates the
// matching one otherwise. On update an empty AccountNumber keeps the stored
// number. The first account a user stores becomes the default.
func (s *AccountStore) UpsertAccount(ctx context.Context, userID int64, account domain.BankAccount) (domain.BankAccount, error) {
	if err := s.validate(ctx); err != nil {
		return domain.BankAccount{}, err
	}
	if userID == 0 {
		return domain.BankAccount{}, errors.New("user_id is required")
	}

	account.UserID = userID
	account.BankCode = strings.TrimSpace(account.BankCode)
	account.HolderName = strings.TrimSpace(account.HolderName)
	if account.BankCode == "" {
		return domain.BankAccount{}, errors.New("bank code is required")
	}

	if account.ID == "" {
		return s.insert(ctx, account)
	}
	return s.update(ctx, account)
}

func (s *AccountStore) insert(ctx context.Context, account domain.BankAccount) (domain.BankAccount, error) {
	if account.AccountNumber == "" {
		return domain.BankAccount{}, errors.New("account number is required")
	}

	total, err := s.accounts.CountDocuments(ctx, bson.M{"user_id": account.UserID})
	if err != nil {
		return domain.BankAccount{}, fmt.Errorf("count accounts for user %d: %w", account.UserID, err)
	}
	if total >= domain.MaxAccountsPerUser {
		return domain.BankAccount{}, fmt.Errorf("user %d has %d accounts: %w", account.UserID, total, domain.ErrAccountLimit)
	}

	defaults, err := s.accounts.CountDocuments(ctx, bson.M{"user_id": account.UserID, "is_default": true})
	if err != nil {
		return domain.BankAccount{}, fmt.Errorf("count default accounts for user %d: %w", account.UserID, err)
	}

	number, holder, err := s.encrypt(account)
	if err != nil {
		return domain.BankAccount{}, err
	}

	now := s.now()
	account.ID = s.newID()
	account.IsDefault = defaults == 0
	account.Label = accountLabel(account)
	account.CreatedAt = now
	account.UpdatedAt = now

	doc := accountDocument{
		AccountID:     account.ID,
		UserID:        account.UserID,
		BankCode:      account.BankCode,
		BankName:      account.BankName,
		AccountNumber: number,
		HolderName:    holder,
		Label:         account.Label,
		IsDefault:     account.IsDefault,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	_, err = s.accounts.InsertOne(ctx, doc)
	if err != nil && doc.IsDefault && mongo.IsDuplicateKeyError(err) {
		// A concurrent insert took the default; user_single_default admits one.
		doc.IsDefault = false
		account.IsDefault = false
		_, err = s.accounts.InsertOne(ctx, doc)
	}
	if err != nil {
		return domain.BankAccount{}, fmt.Errorf("insert account for user %d: %w", account.UserID, err)
	}

	return account.Redacted(), nil
}

func (s *AccountStore) update(ctx context.Context, account domain.BankAccount) (domain.BankAccount, error) {
	existing, err := s.findOne(ctx, account.UserID, account.ID)
	if err != nil {
		return domain.BankAccount{}, err
	}
	if strings.TrimSpace(account.BankName) == "" {
		account.BankName = existing.BankName
	}

	set := bson.M{
		"bank_code":  account.BankCode,
		"bank_name":  account.BankName,
		"updated_at": s.now(),
	}

	if account.AccountNumber != "" {
		number, err := s.cipher.EncryptField(account.AccountNumber)
		if err != nil {
			return domain.BankAccount{}, fmt.Errorf("encrypt account number: %w", err)
		}
		set["account_number"] = number
		set["label"] = accountLabel(account)
	} else {
		set["label"] = relabel(existing.Label, account.BankName)
	}

	if account.HolderName != "" {
		holder, err := s.cipher.EncryptField(account.HolderName)
		if err != nil {
			return domain.BankAccount{}, fmt.Errorf("encrypt holder name: %w", err)
		}
		set["holder_name"] = holder
	}

	res, err := s.accounts.UpdateOne(ctx, accountFilter(account.UserID, account.ID), bson.M{"$set": set})
	if err != nil {
		return domain.BankAccount{}, fmt.Errorf("update account %s: %w", account.ID, err)
	}
	if res.MatchedCount == 0 {
		return domain.BankAccount{}, fmt.Errorf("update account %s: %w", account.ID, domain.ErrNotFound)
	}

	doc, err := s.findOne(ctx, account.UserID, account.ID)
	if err != nil {
		return domain.BankAccount{}, err
	}
	return s.toDomain(doc, false)
}

// DeleteAccount removes an account. When the default is removed the oldest
// remaining account is promoted.
func (s *AccountStore) DeleteAccount(ctx context.Context, userID int64, accountID string) error {
	if err := s.validate(ctx); err != nil {
		return err
	}

	doc, err := s.findOne(ctx, userID, accountID)
	if err != nil {
		return err
	}

	res, err := s.accounts.DeleteOne(ctx, accountFilter(userID, accountID))
	if err != nil {
		return fmt.Errorf("delete account %s: %w", accountID, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("delete account %s: %w", accountID, domain.ErrNotFound)
	}

	if !doc.IsDefault {
		return nil
	}

	remaining, err := s.findAll(ctx, userID)
	if err != nil {
		return err
	}
	if len(remaining) == 0 {
		return nil
	}

	return s.SetDefaultAccount(ctx, userID, remaining[0].AccountID)
}

// SetDefaultAccount flags accountID as the default and clears the flag on the
// user's other accounts.
func (s *AccountStore) SetDefaultAccount(ctx context.Context, userID int64, accountID string) error {
	if err := s.validate(ctx); err != nil {
		return err
	}

	if _, err := s.findOne(ctx, userID, accountID); err != nil {
		return err
	}

	if _, err := s.accounts.UpdateMany(ctx, bson.M{"user_id": userID}, bson.M{"$set": bson.M{"is_default": false}}); err != nil {
		return fmt.Errorf("clear default accounts for user %d: %w", userID, err)
	}

	res, err := s.accounts.UpdateOne(ctx, accountFilter(userID, accountID), bson.M{"$set": bson.M{"is_default": true, "updated_at": s.now()}})
	if err != nil {
		return fmt.Errorf("set default account %s: %w", accountID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("set default account %s: %w", accountID, domain.ErrNotFound)
	}

	return nil
}

func (s *AccountStore) validate(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if s == nil || s.accounts == nil || s.cipher == nil {
		return errors.New("account store is not initialized")
	}
	return nil
}

func (s *AccountStore) findOne(ctx context.Context, userID int64, accountID string) (accountDocument, error) {
	var doc accountDocument
	err := s.accounts.FindOne(ctx, accountFilter(userID, accountID)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return accountDocument{}, fmt.Errorf("find account %s: %w", accountID, domain.ErrNotFound)
	}
	if err != nil {
		return accountDocument{}, fmt.Errorf("find account %s: %w", accountID, err)
	}
	return doc, nil
}

func (s *AccountStore) findAll(ctx context.Context, userID int64) ([]accountDocument, error) {
	cursor, err := s.accounts.Find(ctx, bson.M{"user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("list accounts for user %d: %w", userID, err)
	}

	var docs []accountDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode accounts for user %d: %w", userID, err)
	}

	sort.SliceStable(docs, func(i, j int) bool {
		if docs[i].IsDefault != docs[j].IsDefault {
			return docs[i].IsDefault
		}
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.Before(docs[j].CreatedAt)
		}
		return docs[i].AccountID < docs[j].AccountID
	})

	return docs, nil
}

func (s *AccountStore) encrypt(account domain.BankAccount) (string, string, error) {
	number, err := s.cipher.EncryptField(account.AccountNumber)
	if err != nil {
		return "", "", fmt.Errorf("encrypt account number: %w", err)
	}
	holder, err := s.cipher.EncryptField(account.HolderName)
	if err != nil {
		return "", "", fmt.Errorf("encrypt holder name: %w", err)
	}
	return number, holder, nil
}

// toDomain decrypts the stored fields. Listings survive an undecryptable
// holder name with the name left blank, so the entry can still be removed;
// only reveal fails with domain.ErrUnreadable.
func (s *AccountStore) toDomain(doc accountDocument, reveal bool) (domain.BankAccount, error) {
	holder, err := s.cipher.DecryptField(doc.HolderName)
	if err != nil {
		if reveal {
			return domain.BankAccount{}, fmt.Errorf("decrypt holder name of account %s: %w: %w", doc.AccountID, domain.ErrUnreadable, err)
		}
		holder = ""
	}

	acct := domain.BankAccount{
		ID:         doc.AccountID,
		UserID:     doc.UserID,
		BankCode:   doc.BankCode,
		BankName:   doc.BankName,
		HolderName: holder,
		Label:      doc.Label,
		IsDefault:  doc.IsDefault,
		CreatedAt:  doc.CreatedAt,
		UpdatedAt:  doc.UpdatedAt,
	}

	if reveal {
		number, err := s.cipher.DecryptField(doc.AccountNumber)
		if err != nil {
			return domain.BankAccount{}, fmt.Errorf("decrypt account %s: %w: %w", doc.AccountID, domain.ErrUnreadable, err)
		}
		acct.AccountNumber = number
	}

	return acct, nil
}

func accountFilter(userID int64, accountID string) bson.M {
	return bson.M{"user_id": userID, "account_id": accountID}
}

func accountLabel(account domain.BankAccount) string {
	name := strings.TrimSpace(account.BankName)
	if name == "" {
		name = account.BankCode
	}
	return name + " " + logging.MaskAccount(account.AccountNumber)
}

// relabel swaps the bank name in front of an existing masked label.
func relabel(label, bankName string) string {
	idx := strings.LastIndex(label, " ")
	if idx < 0 || strings.TrimSpace(bankName) == "" {
		return label
	}
	return strings.TrimSpace(bankName) + label[idx:]
}
