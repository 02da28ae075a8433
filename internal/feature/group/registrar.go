// Package group tracks the chats the bot is added to or removed from.
package group

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"vietqr_bot/internal/domain"
	"vietqr_bot/internal/logging"
)

// Registrar mirrors bot membership changes into the adding user's groups.
type Registrar struct {
	groups domain.GroupStore
	logger *logrus.Entry
}

// NewRegistrar constructs a Registrar backed by the group store.
func NewRegistrar(groups domain.GroupStore, logger *logrus.Entry) *Registrar {
	if logger == nil {
		logger = logging.Logger()
	}
	return &Registrar{groups: groups, logger: logger}
}

// BotAdded records chatID for the user who added the bot. Auto-registered
// entries are never promoted to default; the user does that through
// /addgroup or /groups. Repeated calls only refresh the title.
func (r *Registrar) BotAdded(ctx context.Context, userID, chatID int64, title string) (domain.ChatGroup, error) {
	if err := r.validate(ctx, userID, chatID); err != nil {
		return domain.ChatGroup{}, err
	}

	group, err := r.groups.UpsertGroup(ctx, userID, domain.ChatGroup{
		ChatID: chatID,
		Title:  strings.TrimSpace(title),
	})
	if err != nil {
		return domain.ChatGroup{}, fmt.Errorf("register group: %w", err)
	}

	r.logger.WithFields(logging.Fields{
		"event":   "group_registered",
		"user_id": userID,
		"chat_id": chatID,
		"default": group.IsDefault,
	}).Info("bot added to group")

	return group, nil
}

// BotRemoved drops chatID from the user's groups. A chat the user never
// registered is not an error.
func (r *Registrar) BotRemoved(ctx context.Context, userID, chatID int64) error {
	if err := r.validate(ctx, userID, chatID); err != nil {
		return err
	}

	err := r.groups.DeleteGroup(ctx, userID, chatID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("unregister group: %w", err)
	}

	r.logger.WithFields(logging.Fields{
		"event":   "group_unregistered",
		"user_id": userID,
		"chat_id": chatID,
	}).Info("bot removed from group")
	return nil
}

func (r *Registrar) validate(ctx context.Context, userID, chatID int64) error {
	if r == nil || r.groups == nil {
		return errors.New("group registrar is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}
	if userID == 0 || chatID == 0 {
		return errors.New("user id and chat id are required")
	}
	return nil
}
