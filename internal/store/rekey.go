package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"

	"vietqr_bot/internal/secret"
)

// RekeyResult summarizes a key migration.
type RekeyResult struct {
	Accounts int
	Groups   int
	Skipped  int
}

// Rekey re-encrypts every stored account and group field from one key to
// another. Plaintext values left by older deployments are encrypted as-is and
// values that already decrypt under the new key are skipped, so an
// interrupted run can be repeated.
func Rekey(ctx context.Context, accounts, groups documentCollection, from, to FieldCipher) (RekeyResult, error) {
	if ctx == nil {
		return RekeyResult{}, errors.New("context is required")
	}
	if accounts == nil || groups == nil || from == nil || to == nil {
		return RekeyResult{}, errors.New("rekey requires both collections and both ciphers")
	}

	var result RekeyResult

	cursor, err := accounts.Find(ctx, bson.M{})
	if err != nil {
		return result, fmt.Errorf("list accounts: %w", err)
	}
	var accountDocs []accountDocument
	if err := cursor.All(ctx, &accountDocs); err != nil {
		return result, fmt.Errorf("decode accounts: %w", err)
	}

	for _, doc := range accountDocs {
		number, numberChanged, err := reencrypt(doc.AccountNumber, from, to)
		if err != nil {
			return result, fmt.Errorf("account %s number: %w", doc.AccountID, err)
		}
		holder, holderChanged, err := reencrypt(doc.HolderName, from, to)
		if err != nil {
			return result, fmt.Errorf("account %s holder: %w", doc.AccountID, err)
		}
		if !numberChanged && !holderChanged {
			result.Skipped++
			continue
		}

		set := bson.M{"account_number": number, "holder_name": holder}
		if _, err := accounts.UpdateOne(ctx, bson.M{"account_id": doc.AccountID}, bson.M{"$set": set}); err != nil {
			return result, fmt.Errorf("update account %s: %w", doc.AccountID, err)
		}
		result.Accounts++
	}

	cursor, err = groups.Find(ctx, bson.M{})
	if err != nil {
		return result, fmt.Errorf("list groups: %w", err)
	}
	var groupDocs []groupDocument
	if err := cursor.All(ctx, &groupDocs); err != nil {
		return result, fmt.Errorf("decode groups: %w", err)
	}

	for _, doc := range groupDocs {
		title, changed, err := reencrypt(doc.Title, from, to)
		if err != nil {
			return result, fmt.Errorf("group %d title: %w", doc.ChatID, err)
		}
		if !changed {
			result.Skipped++
			continue
		}

		if _, err := groups.UpdateOne(ctx, groupFilter(doc.UserID, doc.ChatID), bson.M{"$set": bson.M{"title": title}}); err != nil {
			return result, fmt.Errorf("update group %d: %w", doc.ChatID, err)
		}
		result.Groups++
	}

	return result, nil
}

func reencrypt(value string, from, to FieldCipher) (string, bool, error) {
	if value == "" {
		return value, false, nil
	}
	if !secret.IsEncrypted(value) {
		out, err := to.EncryptField(value)
		return out, err == nil, err
	}

	plain, err := from.DecryptField(value)
	if err != nil {
		if _, newErr := to.DecryptField(value); newErr == nil {
			return value, false, nil
		}
		return "", false, err
	}

	out, err := to.EncryptField(plain)
	if err != nil {
		return "", false, err
	}
	return out, true, nil
}
