package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"vietqr_bot/internal/conversation"
	"vietqr_bot/internal/domain"
	"vietqr_bot/internal/logging"
	"vietqr_bot/internal/store"
)

const (
	textMenu = "I issue VietQR payment codes.\n\n" +
		"/bill - split a bill and post the QR to your group\n" +
		"/qr - a single QR, with or without an amount\n" +
		"/addbank - save a bank account\n" +
		"/addgroup - register a group chat\n" +
		"/accounts, /groups - manage what you saved\n" +
		"/cancel - stop the current request"
	textPrivileged  = "This command is for the bot owner and admins."
	textUnavailable = "Storage is unavailable right now. Please try again later."
	textGone        = "That entry no longer exists."
)

// Flows is the conversation surface the router drives.
type Flows interface {
	StartBillSplitFlow(ctx context.Context, userID int64) conversation.Reply
	StartAddAccountFlow(ctx context.Context, userID int64) conversation.Reply
	StartAddGroupFlow(ctx context.Context, userID int64) conversation.Reply
	StartQuickQRFlow(ctx context.Context, userID int64) conversation.Reply
	CancelFlow(ctx context.Context, userID int64) conversation.Reply
	HandleUserInput(ctx context.Context, userID int64, text string) (conversation.Reply, error)
}

// UserRegistrar records users as they talk to the bot.
type UserRegistrar interface {
	EnsureUser(ctx context.Context, userID int64) (bool, error)
}

// GroupRegistrar follows the bot joining and leaving chats.
type GroupRegistrar interface {
	BotAdded(ctx context.Context, userID, chatID int64, title string) (domain.ChatGroup, error)
	BotRemoved(ctx context.Context, userID, chatID int64) error
}

// RoleSource resolves a user's role.
type RoleSource interface {
	RoleOf(ctx context.Context, userID int64) (string, error)
}

// StatsSource reports collection counts for /stats.
type StatsSource interface {
	Snapshot(ctx context.Context) (store.Stats, error)
}

// Router turns updates into flow calls and store queries.
type Router struct {
	api      API
	flows    Flows
	accounts domain.AccountStore
	groups   domain.GroupStore

	users        UserRegistrar
	registrar    GroupRegistrar
	roles        RoleSource
	stats        StatsSource
	debugPayload bool

	logger *logrus.Entry
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithUserRegistrar records every private-chat user.
func WithUserRegistrar(users UserRegistrar) RouterOption {
	return func(r *Router) { r.users = users }
}

// WithGroupRegistrar auto-registers chats the bot is added to.
func WithGroupRegistrar(registrar GroupRegistrar) RouterOption {
	return func(r *Router) { r.registrar = registrar }
}

// WithRoleSource enables privileged commands.
func WithRoleSource(roles RoleSource) RouterOption {
	return func(r *Router) { r.roles = roles }
}

// WithStatsSource enables /stats.
func WithStatsSource(stats StatsSource) RouterOption {
	return func(r *Router) { r.stats = stats }
}

// WithDebugPayload echoes the raw payload to privileged users after a QR is
// delivered.
func WithDebugPayload(enabled bool) RouterOption {
	return func(r *Router) { r.debugPayload = enabled }
}

// WithRouterLogger overrides the router logger.
func WithRouterLogger(logger *logrus.Entry) RouterOption {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRouter wires the handlers. api, flows and both stores are required.
func NewRouter(api API, flows Flows, accounts domain.AccountStore, groups domain.GroupStore, opts ...RouterOption) (*Router, error) {
	if api == nil {
		return nil, errors.New("telegram api is required")
	}
	if flows == nil {
		return nil, errors.New("conversation flows are required")
	}
	if accounts == nil || groups == nil {
		return nil, errors.New("account and group stores are required")
	}

	r := &Router{
		api:      api,
		flows:    flows,
		accounts: accounts,
		groups:   groups,
		logger:   logging.Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.WithField("component", "telegram_router")
	return r, nil
}

// Handle routes a single update.
func (r *Router) Handle(ctx context.Context, update *models.Update) {
	if update == nil {
		return
	}

	switch {
	case update.Message != nil:
		r.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		r.handleCallback(ctx, update.CallbackQuery)
	case update.MyChatMember != nil:
		r.handleMembership(ctx, update.MyChatMember)
	}
}

func (r *Router) handleMessage(ctx context.Context, msg *models.Message) {
	if msg.From == nil || msg.From.IsBot {
		return
	}
	text := strings.TrimSpace(msg.Text)

	if msg.Chat.Type != models.ChatTypePrivate {
		if commandName(text) == "/id" {
			r.send(ctx, msg.Chat.ID, fmt.Sprintf("Chat ID: %d", msg.Chat.ID), nil)
		}
		return
	}

	userID := msg.From.ID
	r.ensureUser(ctx, userID)

	if text == "" {
		return
	}
	if command := commandName(text); command != "" {
		r.handleCommand(ctx, userID, command)
		return
	}
	r.feed(ctx, userID, text)
}

func (r *Router) handleCommand(ctx context.Context, userID int64, command string) {
	switch command {
	case "/start", "/help":
		r.send(ctx, userID, textMenu, menuKeyboard())
	case "/bill", "/qr", "/addbank", "/addgroup", "/cancel":
		r.startByName(ctx, userID, strings.TrimPrefix(command, "/"))
	case "/accounts":
		r.listAccounts(ctx, userID)
	case "/groups":
		r.listGroups(ctx, userID)
	case "/stats":
		r.showStats(ctx, userID)
	case "/id":
		r.send(ctx, userID, fmt.Sprintf("Your user ID: %d", userID), nil)
	default:
		r.send(ctx, userID, textMenu, menuKeyboard())
	}
}

func (r *Router) startByName(ctx context.Context, userID int64, name string) {
	var reply conversation.Reply
	switch name {
	case "bill":
		reply = r.flows.StartBillSplitFlow(ctx, userID)
	case "qr":
		reply = r.flows.StartQuickQRFlow(ctx, userID)
	case "addbank":
		reply = r.flows.StartAddAccountFlow(ctx, userID)
	case "addgroup":
		reply = r.flows.StartAddGroupFlow(ctx, userID)
	case "cancel":
		reply = r.flows.CancelFlow(ctx, userID)
	default:
		r.send(ctx, userID, textMenu, menuKeyboard())
		return
	}
	r.sendReply(ctx, userID, reply)
}

func (r *Router) feed(ctx context.Context, userID int64, text string) {
	reply, err := r.flows.HandleUserInput(ctx, userID, text)
	if err != nil {
		entry := r.logger.WithError(err).WithFields(logging.Fields{
			"event":   "telegram_flow_error",
			"user_id": userID,
			"outcome": reply.Outcome.String(),
		})
		if errors.Is(err, conversation.ErrStoreUnavailable) || errors.Is(err, conversation.ErrDispatchFailed) {
			entry.Warn("flow step failed")
		} else {
			entry.Error("flow step failed")
		}
	}
	r.sendReply(ctx, userID, reply)
}

func (r *Router) handleCallback(ctx context.Context, query *models.CallbackQuery) {
	if _, err := r.api.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{CallbackQueryID: query.ID}); err != nil {
		r.logger.WithError(err).WithField("event", "telegram_callback_ack_failed").Debug("callback ack failed")
	}

	userID := query.From.ID
	if userID == 0 {
		return
	}
	r.ensureUser(ctx, userID)

	scope, action, arg := parseCallback(query.Data)
	switch scope {
	case scopeFlow:
		r.feed(ctx, userID, arg)
	case scopeMenu:
		r.startByName(ctx, userID, arg)
	case scopeAcct:
		r.accountAction(ctx, userID, action, arg)
	case scopeGroup:
		chatID, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			r.logger.WithFields(logging.Fields{"event": "telegram_callback_invalid", "user_id": userID}).Warn("unparseable group callback")
			return
		}
		r.groupAction(ctx, userID, action, chatID)
	default:
		r.logger.WithFields(logging.Fields{"event": "telegram_callback_invalid", "user_id": userID}).Warn("unknown callback scope")
	}
}

func (r *Router) accountAction(ctx context.Context, userID int64, action, accountID string) {
	var (
		err  error
		done string
	)
	switch action {
	case actionDefault:
		err = r.accounts.SetDefaultAccount(ctx, userID, accountID)
		done = "Default account updated."
	case actionDelete:
		err = r.accounts.DeleteAccount(ctx, userID, accountID)
		done = "Account deleted."
	default:
		return
	}
	if !r.storeResult(ctx, userID, "account_"+action, err) {
		return
	}
	r.send(ctx, userID, done, nil)
	r.listAccounts(ctx, userID)
}

func (r *Router) groupAction(ctx context.Context, userID int64, action string, chatID int64) {
	var (
		err  error
		done string
	)
	switch action {
	case actionDefault:
		err = r.groups.SetDefaultGroup(ctx, userID, chatID)
		done = "Default group updated."
	case actionDelete:
		err = r.groups.DeleteGroup(ctx, userID, chatID)
		done = "Group removed."
	default:
		return
	}
	if !r.storeResult(ctx, userID, "group_"+action, err) {
		return
	}
	r.send(ctx, userID, done, nil)
	r.listGroups(ctx, userID)
}

// storeResult reports a failed store call to the user and returns false.
func (r *Router) storeResult(ctx context.Context, userID int64, op string, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, domain.ErrNotFound):
		r.send(ctx, userID, textGone, nil)
	default:
		r.logger.WithError(err).WithFields(logging.Fields{
			"event":   "telegram_store_error",
			"user_id": userID,
			"op":      op,
		}).Warn("store call failed")
		r.send(ctx, userID, textUnavailable, nil)
	}
	return false
}

func (r *Router) listAccounts(ctx context.Context, userID int64) {
	accounts, err := r.accounts.ListAccounts(ctx, userID)
	if !r.storeResult(ctx, userID, "list_accounts", err) {
		return
	}
	if len(accounts) == 0 {
		r.send(ctx, userID, "No bank accounts yet. Add one with /addbank.", nil)
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Your accounts (%d/%d):", len(accounts), domain.MaxAccountsPerUser)
	for _, account := range accounts {
		b.WriteString("\n")
		if account.IsDefault {
			b.WriteString("* ")
		} else {
			b.WriteString("- ")
		}
		b.WriteString(account.Label)
		if holder := strings.TrimSpace(account.HolderName); holder != "" {
			b.WriteString(" (" + holder + ")")
		}
	}
	b.WriteString("\n\n* marks the default account.")
	r.send(ctx, userID, b.String(), accountsKeyboard(accounts))
}

func (r *Router) listGroups(ctx context.Context, userID int64) {
	groups, err := r.groups.ListGroups(ctx, userID)
	if !r.storeResult(ctx, userID, "list_groups", err) {
		return
	}
	if len(groups) == 0 {
		r.send(ctx, userID, "No groups yet. Add the bot to a group or use /addgroup.", nil)
		return
	}

	var b strings.Builder
	b.WriteString("Your groups:")
	for _, group := range groups {
		b.WriteString("\n")
		if group.IsDefault {
			b.WriteString("* ")
		} else {
			b.WriteString("- ")
		}
		fmt.Fprintf(&b, "%s (%d)", group.DisplayName(), group.ChatID)
	}
	b.WriteString("\n\n* marks where bills are posted.")
	r.send(ctx, userID, b.String(), groupsKeyboard(groups))
}

func (r *Router) showStats(ctx context.Context, userID int64) {
	if !r.privileged(ctx, userID) {
		r.send(ctx, userID, textPrivileged, nil)
		return
	}
	if r.stats == nil {
		r.send(ctx, userID, "Stats are not configured.", nil)
		return
	}

	stats, err := r.stats.Snapshot(ctx)
	if !r.storeResult(ctx, userID, "stats", err) {
		return
	}
	r.send(ctx, userID, fmt.Sprintf("Users: %d\nAccounts: %d\nGroups: %d", stats.Users, stats.Accounts, stats.Groups), nil)
}

func (r *Router) handleMembership(ctx context.Context, change *models.ChatMemberUpdated) {
	if r.registrar == nil {
		return
	}
	if change.Chat.Type != models.ChatTypeGroup && change.Chat.Type != models.ChatTypeSupergroup {
		return
	}

	userID := change.From.ID
	chat := change.Chat
	logger := r.logger.WithFields(logging.Fields{"user_id": userID, "chat_id": chat.ID})

	switch {
	case isPresent(change.NewChatMember.Type) && !isPresent(change.OldChatMember.Type):
		group, err := r.registrar.BotAdded(ctx, userID, chat.ID, chat.Title)
		if err != nil {
			logger.WithError(err).WithField("event", "telegram_group_register_failed").Warn("could not register group")
			return
		}
		r.send(ctx, userID, fmt.Sprintf("Added %s to your groups. Use /groups to make it the default for bills.", group.DisplayName()), nil)
	case !isPresent(change.NewChatMember.Type) && isPresent(change.OldChatMember.Type):
		if err := r.registrar.BotRemoved(ctx, userID, chat.ID); err != nil {
			logger.WithError(err).WithField("event", "telegram_group_unregister_failed").Warn("could not unregister group")
		}
	}
}

func isPresent(status models.ChatMemberType) bool {
	switch status {
	case models.ChatMemberTypeOwner, models.ChatMemberTypeAdministrator, models.ChatMemberTypeMember, models.ChatMemberTypeRestricted:
		return true
	default:
		return false
	}
}

func (r *Router) ensureUser(ctx context.Context, userID int64) {
	if r.users == nil {
		return
	}
	if _, err := r.users.EnsureUser(ctx, userID); err != nil {
		r.logger.WithError(err).WithFields(logging.Fields{
			"event":   "telegram_user_register_failed",
			"user_id": userID,
		}).Warn("could not record user")
	}
}

func (r *Router) privileged(ctx context.Context, userID int64) bool {
	if r.roles == nil {
		return false
	}
	role, err := r.roles.RoleOf(ctx, userID)
	if err != nil {
		r.logger.WithError(err).WithFields(logging.Fields{
			"event":   "telegram_role_lookup_failed",
			"user_id": userID,
		}).Warn("role lookup failed")
		return false
	}
	return domain.IsPrivileged(role)
}

func (r *Router) sendReply(ctx context.Context, chatID int64, reply conversation.Reply) {
	r.send(ctx, chatID, reply.Text, choiceKeyboard(reply.Choices))

	if reply.Outcome == conversation.OutcomeCompleted && reply.Payload != "" && r.debugPayload && r.privileged(ctx, chatID) {
		r.send(ctx, chatID, "Payload:\n"+reply.Payload, nil)
	}
}

func (r *Router) send(ctx context.Context, chatID int64, text string, keyboard *models.InlineKeyboardMarkup) {
	if strings.TrimSpace(text) == "" {
		return
	}
	params := &bot.SendMessageParams{ChatID: chatID, Text: text}
	if keyboard != nil {
		params.ReplyMarkup = keyboard
	}
	if _, err := r.api.SendMessage(ctx, params); err != nil {
		r.logger.WithError(err).WithFields(logging.Fields{
			"event":   "telegram_send_failed",
			"chat_id": chatID,
		}).Warn("could not send message")
	}
}
