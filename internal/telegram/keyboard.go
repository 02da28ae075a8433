package telegram

import (
	"strconv"
	"strings"

	"github.com/go-telegram/bot/models"

	"vietqr_bot/internal/conversation"
	"vietqr_bot/internal/domain"
)

// Callback data prefixes.
const (
	scopeFlow  = "flow"
	scopeMenu  = "menu"
	scopeAcct  = "acct"
	scopeGroup = "group"

	actionDefault = "default"
	actionDelete  = "del"
)

const buttonsPerRow = 3

func callbackData(parts ...string) string {
	return strings.Join(parts, ":")
}

// parseCallback splits "acct:del:acct-1" into scope, action and argument.
// flow and menu callbacks carry no action; everything after the scope is
// the argument.
func parseCallback(data string) (scope, action, arg string) {
	scope, rest, _ := strings.Cut(data, ":")
	switch scope {
	case scopeFlow, scopeMenu:
		return scope, "", rest
	}
	action, arg, _ = strings.Cut(rest, ":")
	return scope, action, arg
}

func choiceKeyboard(choices []conversation.Choice) *models.InlineKeyboardMarkup {
	if len(choices) == 0 {
		return nil
	}

	buttons := make([]models.InlineKeyboardButton, 0, len(choices))
	for _, choice := range choices {
		buttons = append(buttons, models.InlineKeyboardButton{
			Text:         choice.Label,
			CallbackData: callbackData(scopeFlow, choice.Value),
		})
	}
	return &models.InlineKeyboardMarkup{InlineKeyboard: rows(buttons, buttonsPerRow)}
}

func menuKeyboard() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{InlineKeyboard: [][]models.InlineKeyboardButton{
		{
			{Text: "Split a bill", CallbackData: callbackData(scopeMenu, "bill")},
			{Text: "Quick QR", CallbackData: callbackData(scopeMenu, "qr")},
		},
		{
			{Text: "Add bank account", CallbackData: callbackData(scopeMenu, "addbank")},
			{Text: "Add group", CallbackData: callbackData(scopeMenu, "addgroup")},
		},
	}}
}

func accountsKeyboard(accounts []domain.BankAccount) *models.InlineKeyboardMarkup {
	keyboard := make([][]models.InlineKeyboardButton, 0, len(accounts))
	for _, account := range accounts {
		row := make([]models.InlineKeyboardButton, 0, 2)
		if !account.IsDefault {
			row = append(row, models.InlineKeyboardButton{
				Text:         "Use " + account.Label,
				CallbackData: callbackData(scopeAcct, actionDefault, account.ID),
			})
		}
		row = append(row, models.InlineKeyboardButton{
			Text:         "Delete " + account.Label,
			CallbackData: callbackData(scopeAcct, actionDelete, account.ID),
		})
		keyboard = append(keyboard, row)
	}
	return &models.InlineKeyboardMarkup{InlineKeyboard: keyboard}
}

func groupsKeyboard(groups []domain.ChatGroup) *models.InlineKeyboardMarkup {
	keyboard := make([][]models.InlineKeyboardButton, 0, len(groups))
	for _, group := range groups {
		id := strconv.FormatInt(group.ChatID, 10)
		row := make([]models.InlineKeyboardButton, 0, 2)
		if !group.IsDefault {
			row = append(row, models.InlineKeyboardButton{
				Text:         "Use " + group.DisplayName(),
				CallbackData: callbackData(scopeGroup, actionDefault, id),
			})
		}
		row = append(row, models.InlineKeyboardButton{
			Text:         "Remove " + group.DisplayName(),
			CallbackData: callbackData(scopeGroup, actionDelete, id),
		})
		keyboard = append(keyboard, row)
	}
	return &models.InlineKeyboardMarkup{InlineKeyboard: keyboard}
}

func rows(buttons []models.InlineKeyboardButton, width int) [][]models.InlineKeyboardButton {
	out := make([][]models.InlineKeyboardButton, 0, (len(buttons)+width-1)/width)
	for len(buttons) > width {
		out = append(out, buttons[:width])
		buttons = buttons[width:]
	}
	if len(buttons) > 0 {
		out = append(out, buttons)
	}
	return out
}
