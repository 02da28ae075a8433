package domain

import (
	"strconv"
	"time"
)

// ChatGroup is a Telegram chat a user can post QR codes into. Entries are
// per user: the same chat may be registered by several users.
type ChatGroup struct {
	UserID     int64
	ChatID     int64
	Title      string
	IsDefault  bool
	CreatedAt  time.Time
	LastSeenAt time.Time
}

// DisplayName prefers the title and falls back to the chat id.
func (g ChatGroup) DisplayName() string {
	if g.Title != "" {
		return g.Title
	}
	return strconv.FormatInt(g.ChatID, 10)
}
