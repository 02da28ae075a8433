// Package conversation drives the multi-step chats that collect bill, account
// and group details and, once the user confirms, issue the VietQR code.
//
// Each user has at most one live flow. Input for a user is serialized: a
// message arriving while the previous one is still being processed gets a
// busy reply instead of racing it. Store and gateway calls run outside the
// registry lock; their result is committed only if the flow was not cancelled
// or replaced in the meantime.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"vietqr_bot/internal/dispatch"
	"vietqr_bot/internal/domain"
	"vietqr_bot/internal/logging"
	"vietqr_bot/internal/vietqr"
)

// DefaultIdleTimeout is how long a flow may sit untouched before eviction.
const DefaultIdleTimeout = 10 * time.Minute

const (
	textNoFlow            = "There is nothing in progress. Use /bill, /qr, /addbank or /addgroup to start."
	textNothingToConfirm  = "Nothing to confirm. The request was already handled or has expired."
	textBusy              = "Still working on your previous message, please retry in a moment."
	textCancelled         = "Cancelled. Nothing was saved or sent."
	textNothingToCancel   = "Nothing to cancel."
	textSuperseded        = "That request was cancelled or replaced by a newer one."
	textStoreUnavailable  = "Storage is unavailable right now. Please try again later; your answers are kept."
	textAccountUnreadable = "Your saved bank account can no longer be read. Remove it with /accounts, add it again with /addbank, then start again."
)

// Engine owns the flow registry and runs each step.
type Engine struct {
	registry *registry

	accounts domain.AccountStore
	groups   domain.GroupStore
	gateway  dispatch.Gateway
	encoder  vietqr.Encoder
	layout   dispatch.Layout

	dispatchRetry dispatch.RetryPolicy
	storeRetry    StoreRetry
	idleTimeout   time.Duration
	now           func() time.Time
	logger        *logrus.Entry
}

// Option configures an Engine.
type Option func(*Engine)

// WithLayout sets the background placement handed to the gateway.
func WithLayout(layout dispatch.Layout) Option {
	return func(e *Engine) { e.layout = layout }
}

// WithLogger sets the base logger.
func WithLogger(logger *logrus.Entry) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithIdleTimeout overrides DefaultIdleTimeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.idleTimeout = d
		}
	}
}

// WithStoreRetry overrides DefaultStoreRetry.
func WithStoreRetry(retry StoreRetry) Option {
	return func(e *Engine) { e.storeRetry = retry }
}

// WithDispatchRetry overrides dispatch.DefaultRetryPolicy.
func WithDispatchRetry(policy dispatch.RetryPolicy) Option {
	return func(e *Engine) { e.dispatchRetry = policy }
}

// WithEncoder replaces the default truncating encoder.
func WithEncoder(encoder vietqr.Encoder) Option {
	return func(e *Engine) { e.encoder = encoder }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine wires the engine to its collaborators.
func NewEngine(accounts domain.AccountStore, groups domain.GroupStore, gateway dispatch.Gateway, opts ...Option) (*Engine, error) {
	if accounts == nil || groups == nil {
		return nil, errors.New("account and group stores are required")
	}
	if gateway == nil {
		return nil, errors.New("dispatch gateway is required")
	}

	e := &Engine{
		registry:      newRegistry(),
		accounts:      accounts,
		groups:        groups,
		gateway:       gateway,
		dispatchRetry: dispatch.DefaultRetryPolicy,
		storeRetry:    DefaultStoreRetry,
		idleTimeout:   DefaultIdleTimeout,
		now:           time.Now,
		logger:        logging.Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// StartBillSplitFlow begins collecting a bill to split in a group.
func (e *Engine) StartBillSplitFlow(ctx context.Context, userID int64) Reply {
	return e.startFlow(ctx, userID, KindBillSplit)
}

// StartAddAccountFlow begins collecting a new bank account.
func (e *Engine) StartAddAccountFlow(ctx context.Context, userID int64) Reply {
	return e.startFlow(ctx, userID, KindAddAccount)
}

// StartAddGroupFlow begins registering a target group.
func (e *Engine) StartAddGroupFlow(ctx context.Context, userID int64) Reply {
	return e.startFlow(ctx, userID, KindAddGroup)
}

// StartQuickQRFlow begins a single QR, optionally with an open amount.
func (e *Engine) StartQuickQRFlow(ctx context.Context, userID int64) Reply {
	return e.startFlow(ctx, userID, KindQuickQR)
}

func (e *Engine) startFlow(_ context.Context, userID int64, kind Kind) Reply {
	flow, replaced := e.registry.start(userID, kind, e.now())

	if replaced != nil {
		e.flowLogger(*replaced).WithField("event", "flow_replaced").Info("incomplete flow discarded by a new one")
	}
	e.flowLogger(flow).WithField("event", "flow_started").Info("flow started")

	reply := e.prompt(flow)
	reply.Outcome = OutcomePrompted
	return reply
}

// CancelFlow discards the user's flow at whatever step it is.
func (e *Engine) CancelFlow(_ context.Context, userID int64) Reply {
	flow, ok := e.registry.remove(userID)
	if !ok {
		return Reply{Text: textNothingToCancel, Outcome: OutcomeNoActiveFlow}
	}

	e.flowLogger(flow).WithField("event", "flow_cancelled").Info("flow cancelled")
	return Reply{Text: textCancelled, Outcome: OutcomeCancelled}
}

// ActiveFlow returns a copy of the user's live flow.
func (e *Engine) ActiveFlow(userID int64) (Flow, bool) {
	return e.registry.get(userID)
}

// ActiveFlows counts the flows currently held.
func (e *Engine) ActiveFlows() int {
	return e.registry.size()
}

// EvictIdle discards flows idle for longer than the configured timeout and
// returns them. Flows whose step is running are skipped.
func (e *Engine) EvictIdle(now time.Time) []Flow {
	evicted := e.registry.evictIdle(now.Add(-e.idleTimeout))
	for _, flow := range evicted {
		e.flowLogger(flow).WithFields(logging.Fields{
			"event":     "flow_evicted",
			"idle_for":  now.Sub(flow.LastActivity).Round(time.Second).String(),
			"flow_open": now.Sub(flow.CreatedAt).Round(time.Second).String(),
		}).Info("idle flow evicted")
	}
	return evicted
}

// HandleUserInput feeds one message to the user's flow. The returned error is
// non-nil only for failures worth surfacing to operators; the Reply is always
// safe to show the user.
func (e *Engine) HandleUserInput(ctx context.Context, userID int64, text string) (Reply, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	flow, status := e.registry.acquire(userID)
	switch status {
	case noFlow:
		if classifyAnswer(text) == answerYes {
			return Reply{Text: textNothingToConfirm, Outcome: OutcomeNoActiveFlow}, nil
		}
		return Reply{Text: textNoFlow, Outcome: OutcomeNoActiveFlow}, nil
	case flowBusy:
		e.logger.WithFields(logging.Fields{"event": "flow_busy", "user_id": userID}).Debug("input rejected while flow is busy")
		return Reply{Text: textBusy, Outcome: OutcomeBusy}, nil
	}

	text = strings.TrimSpace(text)

	var t transition
	switch flow.Kind {
	case KindBillSplit:
		t = e.billSplitStep(ctx, flow, text)
	case KindAddAccount:
		t = e.addAccountStep(ctx, flow, text)
	case KindAddGroup:
		t = e.addGroupStep(ctx, flow, text)
	case KindQuickQR:
		t = e.quickQRStep(ctx, flow, text)
	default:
		t = e.discard(flow, Reply{Text: textNoFlow, Outcome: OutcomeFailed})
	}

	return e.apply(flow, t)
}

type disposition int

const (
	// keep commits the updated flow.
	keep disposition = iota
	// rollback leaves the flow as it was before the step.
	rollback
	// drop removes the flow.
	drop
	// settled means the step already claimed the flow.
	settled
)

type transition struct {
	flow        Flow
	reply       Reply
	err         error
	disposition disposition
}

func (e *Engine) apply(original Flow, t transition) (Reply, error) {
	switch t.disposition {
	case keep:
		if !e.registry.commit(t.flow, e.now()) {
			return Reply{Text: textSuperseded, Outcome: OutcomeCancelled}, nil
		}
	case rollback:
		e.registry.release(original)
	case drop:
		e.registry.claim(original)
	}
	return t.reply, t.err
}

func (e *Engine) advance(flow Flow, next Step) transition {
	flow.Step = next
	reply := e.prompt(flow)
	reply.Outcome = OutcomePrompted
	return transition{flow: flow, reply: reply, disposition: keep}
}

func (e *Engine) reprompt(flow Flow, reason error) transition {
	e.flowLogger(flow).WithError(invalid(flow.Step, reason.Error())).
		WithField("event", "flow_invalid_input").Debug("input rejected")

	reply := e.prompt(flow)
	reply.Text = reason.Error() + "\n\n" + reply.Text
	reply.Outcome = OutcomeReprompted
	return transition{flow: flow, reply: reply, disposition: keep}
}

func (e *Engine) discard(flow Flow, reply Reply) transition {
	return transition{flow: flow, reply: reply, disposition: drop}
}

func (e *Engine) unavailable(flow Flow, err error) transition {
	e.flowLogger(flow).WithError(err).WithField("event", "flow_store_unavailable").Warn("store unavailable, flow rolled back")
	return transition{
		flow:        flow,
		reply:       Reply{Text: textStoreUnavailable, Outcome: OutcomeFailed},
		err:         asUnavailable(err),
		disposition: rollback,
	}
}

// complete claims the flow and runs finish. A second confirmation arriving
// after the claim sees no flow. Transient store failures put the flow back so
// the user can confirm again.
func (e *Engine) complete(ctx context.Context, flow Flow, finish func(context.Context, Flow) (Reply, error)) transition {
	if !e.registry.claim(flow) {
		return transition{reply: Reply{Text: textNothingToConfirm, Outcome: OutcomeNoActiveFlow}, disposition: settled}
	}

	reply, err := finish(ctx, flow)
	if errors.Is(err, ErrStoreUnavailable) {
		if e.registry.restore(flow, e.now()) {
			reply.Text = textStoreUnavailable + " Confirm again to retry."
			reply.Choices = e.prompt(flow).Choices
		}
		e.flowLogger(flow).WithError(err).WithField("event", "flow_store_unavailable").Warn("completion failed, flow restored")
	}
	return transition{reply: reply, err: err, disposition: settled}
}

// loadTargets reads the default account and, when available, the default
// group before the confirmation prompt.
func (e *Engine) loadTargets(ctx context.Context, flow Flow, requireGroup bool) transition {
	var account domain.BankAccount
	err := e.withStore(ctx, flow, "get default account", func(ctx context.Context) error {
		var err error
		account, err = e.accounts.GetDefaultAccount(ctx, flow.UserID)
		return err
	})
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return e.discard(flow, Reply{Text: "You have no bank account yet. Add one with /addbank, then start again.", Outcome: OutcomeFailed})
	case err != nil:
		return e.unavailable(flow, err)
	}

	var group domain.ChatGroup
	err = e.withStore(ctx, flow, "get default group", func(ctx context.Context) error {
		var err error
		group, err = e.groups.GetDefaultGroup(ctx, flow.UserID)
		return err
	})
	switch {
	case errors.Is(err, domain.ErrNotFound):
		if requireGroup {
			return e.discard(flow, Reply{Text: "No group is registered yet. Add the bot to a group or use /addgroup, then start again.", Outcome: OutcomeFailed})
		}
	case err != nil:
		return e.unavailable(flow, err)
	default:
		flow.Answers.Group = group
		flow.Answers.HasGroup = true
	}

	flow.Answers.Account = account
	return e.advance(flow, StepAwaitingConfirmation)
}

// reveal fetches the plaintext account number right before encoding.
func (e *Engine) reveal(ctx context.Context, flow Flow) (domain.BankAccount, error) {
	var account domain.BankAccount
	err := e.withStore(ctx, flow, "reveal account", func(ctx context.Context) error {
		var err error
		account, err = e.accounts.RevealAccount(ctx, flow.UserID, flow.Answers.Account.ID)
		return err
	})
	return account, err
}

type issue struct {
	account domain.BankAccount
	amount  vietqr.Amount
	message string
	chatID  int64
	caption string
	target  string
}

// issueQR encodes the payload and delivers it. The flow is already claimed.
func (e *Engine) issueQR(ctx context.Context, flow Flow, in issue) (Reply, error) {
	logger := e.flowLogger(flow).WithField("account", in.account.Label)

	payload, err := e.encoder.Encode(vietqr.Account{
		BankCode:      in.account.BankCode,
		AccountNumber: in.account.AccountNumber,
		HolderName:    in.account.HolderName,
	}, in.amount, in.message)
	if err != nil {
		logger.WithError(err).WithField("event", "flow_encoding_error").Error("qr payload could not be encoded")
		return Reply{
			Text:    "The QR code could not be built from this account. Check it with /accounts and start again.",
			Outcome: OutcomeFailed,
		}, fmt.Errorf("%w: %w", ErrEncodingFailed, err)
	}

	amountText := ""
	if v, ok := in.amount.Value(); ok {
		amountText = FormatVND(v) + " VND"
	}

	req := dispatch.Request{
		ChatID:  in.chatID,
		Payload: payload,
		Caption: in.caption,
		Card: dispatch.Card{
			BankName:      in.account.BankName,
			HolderName:    in.account.HolderName,
			AccountNumber: in.account.AccountNumber,
			Amount:        amountText,
			Note:          in.message,
		},
		Layout: e.layout,
	}

	if err := dispatch.Deliver(ctx, e.gateway, req, e.dispatchRetry); err != nil {
		logger = logger.WithError(err).WithFields(logging.Fields{
			"event":     "flow_dispatch_failed",
			"chat_id":   in.chatID,
			"permanent": dispatch.IsPermanent(err),
		})
		logger.Warn("qr dispatch failed")

		if dispatch.IsPermanent(err) {
			return Reply{
				Text:    fmt.Sprintf("The QR could not be delivered to %s. Make sure the bot can post there, then start the request again.", in.target),
				Outcome: OutcomeFailed,
			}, fmt.Errorf("%w: %w", ErrDispatchFailed, err)
		}
		return Reply{
			Text:    fmt.Sprintf("Delivery to %s kept failing. The payment code is below so it can be shared by hand:\n\n%s", in.target, payload),
			Outcome: OutcomeFailed,
			Payload: payload,
		}, fmt.Errorf("%w: %w", ErrDispatchFailed, err)
	}

	logger.WithFields(logging.Fields{"event": "flow_completed", "chat_id": in.chatID}).Info("qr delivered")
	return Reply{Text: fmt.Sprintf("QR sent to %s.", in.target), Outcome: OutcomeCompleted, Payload: payload}, nil
}

func (e *Engine) unexpectedStep(flow Flow) transition {
	e.flowLogger(flow).WithField("event", "flow_unexpected_step").Error("flow reached a step its kind does not use")
	return e.discard(flow, Reply{Text: "Something went wrong with this request. Please start again.", Outcome: OutcomeFailed})
}

func (e *Engine) flowLogger(flow Flow) *logrus.Entry {
	return logging.Enrich(e.logger, logging.Context{
		UserID: flow.UserID,
		Flow:   flow.Kind.String(),
		Step:   flow.Step.String(),
	})
}

func asUnavailable(err error) error {
	if err == nil || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

func storeFailed(err error) (Reply, error) {
	return Reply{Text: textStoreUnavailable, Outcome: OutcomeFailed}, asUnavailable(err)
}

// accountUnreadable ends a claimed flow whose account no longer decrypts.
// Retrying cannot help until the user re-adds the account.
func (e *Engine) accountUnreadable(flow Flow, err error) (Reply, error) {
	e.flowLogger(flow).WithError(err).WithField("event", "flow_account_unreadable").Error("stored account cannot be decrypted")
	return Reply{Text: textAccountUnreadable, Outcome: OutcomeFailed}, err
}
