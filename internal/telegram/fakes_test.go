package telegram

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"vietqr_bot/internal/conversation"
	"vietqr_bot/internal/domain"
	"vietqr_bot/internal/store"
)

type sentMessage struct {
	chatID   int64
	text     string
	keyboard *models.InlineKeyboardMarkup
}

type sentPhoto struct {
	chatID  int64
	caption string
	name    string
	data    []byte
}

type fakeAPI struct {
	mu       sync.Mutex
	messages []sentMessage
	photos   []sentPhoto
	acks     []string
	photoErr error
	msgErr   error
}

func (f *fakeAPI) SendMessage(_ context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.msgErr != nil {
		return nil, f.msgErr
	}
	msg := sentMessage{chatID: params.ChatID.(int64), text: params.Text}
	if kb, ok := params.ReplyMarkup.(*models.InlineKeyboardMarkup); ok {
		msg.keyboard = kb
	}
	f.messages = append(f.messages, msg)
	return &models.Message{}, nil
}

func (f *fakeAPI) SendPhoto(_ context.Context, params *bot.SendPhotoParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.photoErr != nil {
		return nil, f.photoErr
	}
	upload := params.Photo.(*models.InputFileUpload)
	data, _ := io.ReadAll(upload.Data)
	f.photos = append(f.photos, sentPhoto{
		chatID:  params.ChatID.(int64),
		caption: params.Caption,
		name:    upload.Filename,
		data:    data,
	})
	return &models.Message{}, nil
}

func (f *fakeAPI) AnswerCallbackQuery(_ context.Context, params *bot.AnswerCallbackQueryParams) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acks = append(f.acks, params.CallbackQueryID)
	return true, nil
}

func (f *fakeAPI) last(t *testing.T) sentMessage {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.messages) == 0 {
		t.Fatalf("expected a message to be sent")
	}
	return f.messages[len(f.messages)-1]
}

type flowCall struct {
	name   string
	userID int64
	text   string
}

type fakeFlows struct {
	calls []flowCall
	reply conversation.Reply
	err   error
}

func (f *fakeFlows) record(name string, userID int64, text string) conversation.Reply {
	f.calls = append(f.calls, flowCall{name: name, userID: userID, text: text})
	if f.reply.Text == "" {
		return conversation.Reply{Text: name + " reply"}
	}
	return f.reply
}

func (f *fakeFlows) StartBillSplitFlow(_ context.Context, userID int64) conversation.Reply {
	return f.record("bill", userID, "")
}

func (f *fakeFlows) StartAddAccountFlow(_ context.Context, userID int64) conversation.Reply {
	return f.record("addbank", userID, "")
}

func (f *fakeFlows) StartAddGroupFlow(_ context.Context, userID int64) conversation.Reply {
	return f.record("addgroup", userID, "")
}

func (f *fakeFlows) StartQuickQRFlow(_ context.Context, userID int64) conversation.Reply {
	return f.record("qr", userID, "")
}

func (f *fakeFlows) CancelFlow(_ context.Context, userID int64) conversation.Reply {
	return f.record("cancel", userID, "")
}

func (f *fakeFlows) HandleUserInput(_ context.Context, userID int64, text string) (conversation.Reply, error) {
	return f.record("input", userID, text), f.err
}

type fakeAccounts struct {
	domain.AccountStore
	accounts   []domain.BankAccount
	defaulted  []string
	deleted    []string
	listErr    error
	missingIDs map[string]bool
}

func (f *fakeAccounts) ListAccounts(context.Context, int64) ([]domain.BankAccount, error) {
	return f.accounts, f.listErr
}

func (f *fakeAccounts) SetDefaultAccount(_ context.Context, _ int64, id string) error {
	if f.missingIDs[id] {
		return domain.ErrNotFound
	}
	f.defaulted = append(f.defaulted, id)
	return nil
}

func (f *fakeAccounts) DeleteAccount(_ context.Context, _ int64, id string) error {
	if f.missingIDs[id] {
		return domain.ErrNotFound
	}
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeGroups struct {
	domain.GroupStore
	groups    []domain.ChatGroup
	defaulted []int64
	deleted   []int64
}

func (f *fakeGroups) ListGroups(context.Context, int64) ([]domain.ChatGroup, error) {
	return f.groups, nil
}

func (f *fakeGroups) SetDefaultGroup(_ context.Context, _ int64, chatID int64) error {
	f.defaulted = append(f.defaulted, chatID)
	return nil
}

func (f *fakeGroups) DeleteGroup(_ context.Context, _ int64, chatID int64) error {
	f.deleted = append(f.deleted, chatID)
	return nil
}

type fakeUsers struct{ seen []int64 }

func (f *fakeUsers) EnsureUser(_ context.Context, userID int64) (bool, error) {
	f.seen = append(f.seen, userID)
	return len(f.seen) == 1, nil
}

type fakeRegistrar struct {
	added   []int64
	removed []int64
}

func (f *fakeRegistrar) BotAdded(_ context.Context, userID, chatID int64, title string) (domain.ChatGroup, error) {
	f.added = append(f.added, chatID)
	return domain.ChatGroup{UserID: userID, ChatID: chatID, Title: title}, nil
}

func (f *fakeRegistrar) BotRemoved(_ context.Context, _ int64, chatID int64) error {
	f.removed = append(f.removed, chatID)
	return nil
}

type fakeRoles map[int64]string

func (f fakeRoles) RoleOf(_ context.Context, userID int64) (string, error) {
	if role, ok := f[userID]; ok {
		return role, nil
	}
	return domain.RoleUser, nil
}

type fakeStats struct{ stats store.Stats }

func (f fakeStats) Snapshot(context.Context) (store.Stats, error) { return f.stats, nil }

type routerFixture struct {
	router    *Router
	api       *fakeAPI
	flows     *fakeFlows
	accounts  *fakeAccounts
	groups    *fakeGroups
	users     *fakeUsers
	registrar *fakeRegistrar
	hook      *logtest.Hook
}

func newRouterFixture(t *testing.T, opts ...RouterOption) *routerFixture {
	t.Helper()
	hookLogger, hook := logtest.NewNullLogger()
	f := &routerFixture{
		api:       &fakeAPI{},
		flows:     &fakeFlows{},
		accounts:  &fakeAccounts{},
		groups:    &fakeGroups{},
		users:     &fakeUsers{},
		registrar: &fakeRegistrar{},
		hook:      hook,
	}
	base := []RouterOption{
		WithRouterLogger(logrus.NewEntry(hookLogger)),
		WithUserRegistrar(f.users),
		WithGroupRegistrar(f.registrar),
	}
	router, err := NewRouter(f.api, f.flows, f.accounts, f.groups, append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewRouter returned error: %v", err)
	}
	f.router = router
	return f
}

func privateText(userID int64, text string) *models.Update {
	return &models.Update{Message: &models.Message{
		From: &models.User{ID: userID},
		Chat: models.Chat{ID: userID, Type: models.ChatTypePrivate},
		Text: text,
	}}
}

func callback(userID int64, data string) *models.Update {
	return &models.Update{CallbackQuery: &models.CallbackQuery{
		ID:   "cb-" + data,
		From: models.User{ID: userID},
		Data: data,
	}}
}
