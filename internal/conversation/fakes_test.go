package conversation

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"vietqr_bot/internal/dispatch"
	"vietqr_bot/internal/domain"
)

var errFlaky = errors.New("server selection timeout")

type memAccounts struct {
	mu       sync.Mutex
	accounts map[string]domain.BankAccount
	failures map[string][]error
	writes   int

	// block, when set, parks GetDefaultAccount until it is closed.
	block   chan struct{}
	entered chan struct{}
}

func newMemAccounts() *memAccounts {
	return &memAccounts{accounts: map[string]domain.BankAccount{}, failures: map[string][]error{}}
}

func (m *memAccounts) seed(acct domain.BankAccount) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[acct.ID] = acct
}

func (m *memAccounts) failNext(op string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = append(m.failures[op], errs...)
}

func (m *memAccounts) popFailure(op string) error {
	errs := m.failures[op]
	if len(errs) == 0 {
		return nil
	}
	m.failures[op] = errs[1:]
	return errs[0]
}

func (m *memAccounts) sorted(userID int64) []domain.BankAccount {
	var out []domain.BankAccount
	for _, a := range m.accounts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsDefault != out[j].IsDefault {
			return out[i].IsDefault
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *memAccounts) GetDefaultAccount(_ context.Context, userID int64) (domain.BankAccount, error) {
	if m.block != nil {
		if m.entered != nil {
			m.entered <- struct{}{}
		}
		<-m.block
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popFailure("get_default"); err != nil {
		return domain.BankAccount{}, err
	}
	accounts := m.sorted(userID)
	if len(accounts) == 0 {
		return domain.BankAccount{}, domain.ErrNotFound
	}
	return accounts[0].Redacted(), nil
}

func (m *memAccounts) ListAccounts(_ context.Context, userID int64) ([]domain.BankAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.BankAccount
	for _, a := range m.sorted(userID) {
		out = append(out, a.Redacted())
	}
	return out, nil
}

func (m *memAccounts) RevealAccount(_ context.Context, userID int64, accountID string) (domain.BankAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popFailure("reveal"); err != nil {
		return domain.BankAccount{}, err
	}
	a, ok := m.accounts[accountID]
	if !ok || a.UserID != userID {
		return domain.BankAccount{}, domain.ErrNotFound
	}
	return a, nil
}

func (m *memAccounts) UpsertAccount(_ context.Context, userID int64, account domain.BankAccount) (domain.BankAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.popFailure("upsert"); err != nil {
		return domain.BankAccount{}, err
	}
	m.writes++
	if account.ID == "" {
		account.ID = "acct-" + strconv.Itoa(len(m.accounts)+1)
	}
	account.UserID = userID
	account.IsDefault = len(m.sorted(userID)) == 0
	account.Label = account.BankName + " ***" + account.AccountNumber[len(account.AccountNumber)-4:]
	m.accounts[account.ID] = account
	return account.Redacted(), nil
}

func (m *memAccounts) DeleteAccount(_ context.Context, _ int64, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	delete(m.accounts, accountID)
	return nil
}

func (m *memAccounts) SetDefaultAccount(context.Context, int64, string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	return nil
}

func (m *memAccounts) writeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

type memGroups struct {
	mu     sync.Mutex
	groups []domain.ChatGroup
	writes int
}

func (m *memGroups) GetDefaultGroup(_ context.Context, userID int64) (domain.ChatGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var fallback *domain.ChatGroup
	for i, g := range m.groups {
		if g.UserID != userID {
			continue
		}
		if g.IsDefault {
			return g, nil
		}
		if fallback == nil {
			fallback = &m.groups[i]
		}
	}
	if fallback == nil {
		return domain.ChatGroup{}, domain.ErrNotFound
	}
	return *fallback, nil
}

func (m *memGroups) ListGroups(_ context.Context, userID int64) ([]domain.ChatGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ChatGroup
	for _, g := range m.groups {
		if g.UserID == userID {
			out = append(out, g)
		}
	}
	return out, nil
}

func (m *memGroups) UpsertGroup(_ context.Context, userID int64, group domain.ChatGroup) (domain.ChatGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes++
	group.UserID = userID
	for i, g := range m.groups {
		if g.UserID == userID && g.ChatID == group.ChatID {
			g.Title = group.Title
			m.groups[i] = g
			return g, nil
		}
	}
	m.groups = append(m.groups, group)
	return group, nil
}

func (m *memGroups) DeleteGroup(context.Context, int64, int64) error { return nil }

func (m *memGroups) SetDefaultGroup(context.Context, int64, int64) error { return nil }

type recordingGateway struct {
	mu       sync.Mutex
	requests []dispatch.Request
	errs     []error

	block   chan struct{}
	entered chan struct{}
}

func (g *recordingGateway) Send(_ context.Context, req dispatch.Request) error {
	if g.block != nil {
		if g.entered != nil {
			g.entered <- struct{}{}
		}
		<-g.block
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if len(g.errs) == 0 {
		return nil
	}
	err := g.errs[0]
	if len(g.errs) > 1 {
		g.errs = g.errs[1:]
	}
	return err
}

func (g *recordingGateway) sent() []dispatch.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]dispatch.Request(nil), g.requests...)
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type engineFixture struct {
	engine   *Engine
	accounts *memAccounts
	groups   *memGroups
	gateway  *recordingGateway
	clock    *manualClock
	hook     *logtest.Hook
}

const (
	testUser  = int64(42)
	testGroup = int64(-1001234567890)
)

func newFixture(t *testing.T, opts ...Option) *engineFixture {
	t.Helper()

	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	f := &engineFixture{
		accounts: newMemAccounts(),
		groups:   &memGroups{},
		gateway:  &recordingGateway{},
		clock:    &manualClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)},
		hook:     hook,
	}

	base := []Option{
		WithLogger(logrus.NewEntry(logger)),
		WithClock(f.clock.Now),
		WithStoreRetry(StoreRetry{Attempts: 3}),
		WithDispatchRetry(dispatch.RetryPolicy{Attempts: 3}),
	}
	engine, err := NewEngine(f.accounts, f.groups, f.gateway, append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewEngine returned error: %v", err)
	}
	f.engine = engine
	return f
}

// withDefaults seeds one default account and one group for testUser.
func (f *engineFixture) withDefaults() *engineFixture {
	f.accounts.seed(domain.BankAccount{
		ID:            "acct-1",
		UserID:        testUser,
		BankCode:      "970436",
		BankName:      "Vietcombank",
		AccountNumber: "0123456789",
		HolderName:    "NGUYEN VAN A",
		Label:         "Vietcombank ***6789",
		IsDefault:     true,
	})
	f.groups.groups = append(f.groups.groups, domain.ChatGroup{
		UserID:    testUser,
		ChatID:    testGroup,
		Title:     "Lunch crew",
		IsDefault: true,
	})
	return f
}

func (f *engineFixture) send(t *testing.T, text string) Reply {
	t.Helper()
	reply, err := f.engine.HandleUserInput(context.Background(), testUser, text)
	if err != nil {
		t.Fatalf("HandleUserInput(%q) returned error: %v", text, err)
	}
	return reply
}

func (f *engineFixture) hasEvent(event string) bool {
	for _, entry := range f.hook.AllEntries() {
		if entry.Data["event"] == event {
			return true
		}
	}
	return false
}
