package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"vietqr_bot/internal/domain"
)

type groupDocument struct {
	UserID     int64     `bson:"user_id"`
	ChatID     int64     `bson:"chat_id"`
	Title      string    `bson:"title"`
	IsDefault  bool      `bson:"is_default"`
	CreatedAt  time.Time `bson:"created_at"`
	LastSeenAt time.Time `bson:"last_seen_at"`
}

// GroupStore implements domain.GroupStore on MongoDB with encrypted titles.
type GroupStore struct {
	groups documentCollection
	cipher FieldCipher
	now    func() time.Time
}

var _ domain.GroupStore = (*GroupStore)(nil)

// NewGroupStore builds a GroupStore over the groups collection.
func NewGroupStore(groups documentCollection, cipher FieldCipher) *GroupStore {
	return &GroupStore{
		groups: groups,
		cipher: cipher,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// UpsertGroup records that userID can post into group.ChatID, refreshing the
// title and last-seen timestamp. Setting group.IsDefault asks for the entry
// to become the default when the user has none yet; it never displaces an
// existing default.
func (s *GroupStore) UpsertGroup(ctx context.Context, userID int64, group domain.ChatGroup) (domain.ChatGroup, error) {
	if err := s.validate(ctx); err != nil {
		return domain.ChatGroup{}, err
	}
	if userID == 0 || group.ChatID == 0 {
		return domain.ChatGroup{}, errors.New("user_id and chat_id are required")
	}

	now := s.now()
	set := bson.M{"last_seen_at": now}
	if title := strings.TrimSpace(group.Title); title != "" {
		encrypted, err := s.cipher.EncryptField(title)
		if err != nil {
			return domain.ChatGroup{}, fmt.Errorf("encrypt group title: %w", err)
		}
		set["title"] = encrypted
	}

	update := bson.M{
		"$set": set,
		"$setOnInsert": bson.M{
			"user_id":    userID,
			"chat_id":    group.ChatID,
			"is_default": false,
			"created_at": now,
		},
	}

	filter := groupFilter(userID, group.ChatID)
	if _, err := s.groups.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
		return domain.ChatGroup{}, fmt.Errorf("upsert group %d for user %d: %w", group.ChatID, userID, err)
	}

	if group.IsDefault {
		defaults, err := s.groups.CountDocuments(ctx, bson.M{"user_id": userID, "is_default": true})
		if err != nil {
			return domain.ChatGroup{}, fmt.Errorf("count default groups for user %d: %w", userID, err)
		}
		if defaults == 0 {
			if err := s.SetDefaultGroup(ctx, userID, group.ChatID); err != nil {
				return domain.ChatGroup{}, err
			}
		}
	}

	doc, err := s.findOne(ctx, userID, group.ChatID)
	if err != nil {
		return domain.ChatGroup{}, err
	}
	return s.toDomain(doc), nil
}

// ListGroups returns the user's groups, default first then oldest first.
func (s *GroupStore) ListGroups(ctx context.Context, userID int64) ([]domain.ChatGroup, error) {
	if err := s.validate(ctx); err != nil {
		return nil, err
	}

	docs, err := s.findAll(ctx, userID)
	if err != nil {
		return nil, err
	}

	groups := make([]domain.ChatGroup, 0, len(docs))
	for _, doc := range docs {
		groups = append(groups, s.toDomain(doc))
	}
	return groups, nil
}

// GetDefaultGroup returns the default group, falling back to the earliest
// registered one.
func (s *GroupStore) GetDefaultGroup(ctx context.Context, userID int64) (domain.ChatGroup, error) {
	groups, err := s.ListGroups(ctx, userID)
	if err != nil {
		return domain.ChatGroup{}, err
	}
	if len(groups) == 0 {
		return domain.ChatGroup{}, fmt.Errorf("default group for user %d: %w", userID, domain.ErrNotFound)
	}
	return groups[0], nil
}

// DeleteGroup removes one registration, promoting the earliest remaining
// group when the default goes away.
func (s *GroupStore) DeleteGroup(ctx context.Context, userID int64, chatID int64) error {
	if err := s.validate(ctx); err != nil {
		return err
	}

	doc, err := s.findOne(ctx, userID, chatID)
	if err != nil {
		return err
	}

	res, err := s.groups.DeleteOne(ctx, groupFilter(userID, chatID))
	if err != nil {
		return fmt.Errorf("delete group %d: %w", chatID, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("delete group %d: %w", chatID, domain.ErrNotFound)
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
	return s.SetDefaultGroup(ctx, userID, remaining[0].ChatID)
}

// SetDefaultGroup makes chatID the user's default target.
func (s *GroupStore) SetDefaultGroup(ctx context.Context, userID int64, chatID int64) error {
	if err := s.validate(ctx); err != nil {
		return err
	}

	if _, err := s.findOne(ctx, userID, chatID); err != nil {
		return err
	}

	if _, err := s.groups.UpdateMany(ctx, bson.M{"user_id": userID}, bson.M{"$set": bson.M{"is_default": false}}); err != nil {
		return fmt.Errorf("clear default groups for user %d: %w", userID, err)
	}

	res, err := s.groups.UpdateOne(ctx, groupFilter(userID, chatID), bson.M{"$set": bson.M{"is_default": true}})
	if err != nil {
		return fmt.Errorf("set default group %d: %w", chatID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("set default group %d: %w", chatID, domain.ErrNotFound)
	}
	return nil
}

func (s *GroupStore) validate(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if s == nil || s.groups == nil || s.cipher == nil {
		return errors.New("group store is not initialized")
	}
	return nil
}

func (s *GroupStore) findOne(ctx context.Context, userID, chatID int64) (groupDocument, error) {
	var doc groupDocument
	err := s.groups.FindOne(ctx, groupFilter(userID, chatID)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return groupDocument{}, fmt.Errorf("find group %d: %w", chatID, domain.ErrNotFound)
	}
	if err != nil {
		return groupDocument{}, fmt.Errorf("find group %d: %w", chatID, err)
	}
	return doc, nil
}

func (s *GroupStore) findAll(ctx context.Context, userID int64) ([]groupDocument, error) {
	cursor, err := s.groups.Find(ctx, bson.M{"user_id": userID})
	if err != nil {
		return nil, fmt.Errorf("list groups for user %d: %w", userID, err)
	}

	var docs []groupDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode groups for user %d: %w", userID, err)
	}

	sort.SliceStable(docs, func(i, j int) bool {
		if docs[i].IsDefault != docs[j].IsDefault {
			return docs[i].IsDefault
		}
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.Before(docs[j].CreatedAt)
		}
		return docs[i].ChatID < docs[j].ChatID
	})
	return docs, nil
}

// toDomain decrypts the title. The title is display-only, so one that no
// longer decrypts is dropped and DisplayName falls back to the chat id.
func (s *GroupStore) toDomain(doc groupDocument) domain.ChatGroup {
	title, err := s.cipher.DecryptField(doc.Title)
	if err != nil {
		title = ""
	}
	return domain.ChatGroup{
		UserID:     doc.UserID,
		ChatID:     doc.ChatID,
		Title:      title,
		IsDefault:  doc.IsDefault,
		CreatedAt:  doc.CreatedAt,
		LastSeenAt: doc.LastSeenAt,
	}
}

func groupFilter(userID, chatID int64) bson.M {
	return bson.M{"user_id": userID, "chat_id": chatID}
}
