package conversation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"vietqr_bot/internal/domain"
	"vietqr_bot/internal/logging"
	"vietqr_bot/internal/vietqr"
)

var (
	errConfirm     = errors.New("answer yes to go ahead or no to cancel")
	errDestination = errors.New("choose group, private or no")
	errNoGroup     = errors.New("no group is registered yet, send private or no")
)

var partyChoices = []int{2, 3, 4, 5, 6, 8}

func (e *Engine) billSplitStep(ctx context.Context, flow Flow, text string) transition {
	switch flow.Step {
	case StepAwaitingAmount:
		total, err := ParseAmount(text)
		if err != nil {
			return e.reprompt(flow, err)
		}
		flow.Answers.Total = total
		return e.advance(flow, StepAwaitingMessage)

	case StepAwaitingMessage:
		message, err := parseMessage(text)
		if err != nil {
			return e.reprompt(flow, err)
		}
		flow.Answers.Message = message
		return e.advance(flow, StepAwaitingPartyCount)

	case StepAwaitingPartyCount:
		n, err := parsePartyCount(text, flow.Answers.Total)
		if err != nil {
			return e.reprompt(flow, err)
		}
		flow.Answers.PartyCount = n
		return e.loadTargets(ctx, flow, true)

	case StepAwaitingConfirmation:
		switch classifyAnswer(text) {
		case answerYes:
			return e.complete(ctx, flow, e.finishBillSplit)
		case answerNo:
			return e.cancelAtConfirmation(flow)
		default:
			return e.reprompt(flow, errConfirm)
		}
	}
	return e.unexpectedStep(flow)
}

func (e *Engine) finishBillSplit(ctx context.Context, flow Flow) (Reply, error) {
	a := flow.Answers
	shares, err := SplitShares(a.Total, a.PartyCount)
	if err != nil {
		return Reply{Text: "This bill can no longer be split. Please start again.", Outcome: OutcomeFailed}, fmt.Errorf("split bill: %w", err)
	}

	account, err := e.reveal(ctx, flow)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return Reply{Text: "Your default account was removed. Pick another with /accounts and start again.", Outcome: OutcomeFailed}, nil
	case domain.IsUnreadable(err):
		return e.accountUnreadable(flow, err)
	case err != nil:
		return storeFailed(err)
	}

	// Everyone scans the same code, so it carries the common share.
	common := shares[len(shares)-1]
	return e.issueQR(ctx, flow, issue{
		account: account,
		amount:  vietqr.FixedAmount(common),
		message: a.Message,
		chatID:  a.Group.ChatID,
		caption: billCaption(a, shares),
		target:  a.Group.DisplayName(),
	})
}

func billCaption(a Answers, shares []int64) string {
	title := a.Message
	if title == "" {
		title = fmt.Sprintf("Bill split %d ways", a.PartyCount)
	}

	lines := []string{
		title,
		fmt.Sprintf("Total: %s VND", FormatVND(a.Total)),
		fmt.Sprintf("Each person: %s VND", FormatVND(shares[len(shares)-1])),
	}
	if shares[0] != shares[len(shares)-1] {
		lines = append(lines, fmt.Sprintf("First person: %s VND (includes the remainder)", FormatVND(shares[0])))
	}
	return strings.Join(lines, "\n")
}

func (e *Engine) addAccountStep(ctx context.Context, flow Flow, text string) transition {
	switch flow.Step {
	case StepAwaitingBankCode:
		bank, err := parseBank(text)
		if err != nil {
			return e.reprompt(flow, err)
		}
		flow.Answers.Bank = bank
		return e.advance(flow, StepAwaitingAccountNumber)

	case StepAwaitingAccountNumber:
		number, err := parseAccountNumber(text)
		if err != nil {
			return e.reprompt(flow, err)
		}
		flow.Answers.AccountNumber = number
		return e.advance(flow, StepAwaitingLabel)

	case StepAwaitingLabel:
		holder, err := parseHolderName(text)
		if err != nil {
			return e.reprompt(flow, err)
		}
		flow.Answers.HolderName = holder
		return e.advance(flow, StepAwaitingConfirmation)

	case StepAwaitingConfirmation:
		switch classifyAnswer(text) {
		case answerYes:
			return e.complete(ctx, flow, e.finishAddAccount)
		case answerNo:
			return e.cancelAtConfirmation(flow)
		default:
			return e.reprompt(flow, errConfirm)
		}
	}
	return e.unexpectedStep(flow)
}

func (e *Engine) finishAddAccount(ctx context.Context, flow Flow) (Reply, error) {
	a := flow.Answers

	var saved domain.BankAccount
	err := e.withStore(ctx, flow, "upsert account", func(ctx context.Context) error {
		var err error
		saved, err = e.accounts.UpsertAccount(ctx, flow.UserID, domain.BankAccount{
			BankCode:      a.Bank.Code,
			BankName:      a.Bank.Name,
			AccountNumber: a.AccountNumber,
			HolderName:    a.HolderName,
		})
		return err
	})
	switch {
	case errors.Is(err, domain.ErrAccountLimit):
		return Reply{
			Text:    fmt.Sprintf("You already have %d accounts. Remove one in /accounts before adding another.", domain.MaxAccountsPerUser),
			Outcome: OutcomeFailed,
		}, nil
	case err != nil:
		return storeFailed(err)
	}

	e.flowLogger(flow).WithFields(logging.Fields{
		"event":   "account_saved",
		"account": saved.Label,
		"default": saved.IsDefault,
	}).Info("bank account saved")

	text := fmt.Sprintf("Saved %s.", saved.Label)
	if saved.IsDefault {
		text += " It is your default account."
	}
	return Reply{Text: text, Outcome: OutcomeCompleted}, nil
}

func (e *Engine) addGroupStep(ctx context.Context, flow Flow, text string) transition {
	switch flow.Step {
	case StepAwaitingChatID:
		chatID, err := parseChatID(text)
		if err != nil {
			return e.reprompt(flow, err)
		}
		flow.Answers.ChatID = chatID
		return e.advance(flow, StepAwaitingGroupLabel)

	case StepAwaitingGroupLabel:
		label, err := parseGroupLabel(text)
		if err != nil {
			return e.reprompt(flow, err)
		}
		flow.Answers.GroupLabel = label
		return e.advance(flow, StepAwaitingConfirmation)

	case StepAwaitingConfirmation:
		switch classifyAnswer(text) {
		case answerYes:
			return e.complete(ctx, flow, e.finishAddGroup)
		case answerNo:
			return e.cancelAtConfirmation(flow)
		default:
			return e.reprompt(flow, errConfirm)
		}
	}
	return e.unexpectedStep(flow)
}

func (e *Engine) finishAddGroup(ctx context.Context, flow Flow) (Reply, error) {
	a := flow.Answers

	var saved domain.ChatGroup
	err := e.withStore(ctx, flow, "upsert group", func(ctx context.Context) error {
		var err error
		saved, err = e.groups.UpsertGroup(ctx, flow.UserID, domain.ChatGroup{
			ChatID:    a.ChatID,
			Title:     a.GroupLabel,
			IsDefault: true,
		})
		return err
	})
	if err != nil {
		return storeFailed(err)
	}

	e.flowLogger(flow).WithFields(logging.Fields{
		"event":   "group_saved",
		"chat_id": saved.ChatID,
		"default": saved.IsDefault,
	}).Info("group registered")

	text := fmt.Sprintf("Group %s registered.", saved.DisplayName())
	if saved.IsDefault {
		text += " Bills go there by default."
	}
	return Reply{Text: text, Outcome: OutcomeCompleted}, nil
}

func (e *Engine) quickQRStep(ctx context.Context, flow Flow, text string) transition {
	switch flow.Step {
	case StepAwaitingAmount:
		if text == SkipToken {
			flow.Answers.OpenAmount = true
			flow.Answers.Total = 0
			return e.advance(flow, StepAwaitingMessage)
		}
		total, err := ParseAmount(text)
		if err != nil {
			return e.reprompt(flow, err)
		}
		flow.Answers.Total = total
		return e.advance(flow, StepAwaitingMessage)

	case StepAwaitingMessage:
		message, err := parseMessage(text)
		if err != nil {
			return e.reprompt(flow, err)
		}
		flow.Answers.Message = message
		return e.loadTargets(ctx, flow, false)

	case StepAwaitingConfirmation:
		switch classifyAnswer(text) {
		case answerGroup:
			if !flow.Answers.HasGroup {
				return e.reprompt(flow, errNoGroup)
			}
			return e.complete(ctx, flow, e.finishQuickQR(flow.Answers.Group.ChatID, flow.Answers.Group.DisplayName()))
		case answerPrivate, answerYes:
			return e.complete(ctx, flow, e.finishQuickQR(flow.UserID, "this chat"))
		case answerNo:
			return e.cancelAtConfirmation(flow)
		default:
			return e.reprompt(flow, errDestination)
		}
	}
	return e.unexpectedStep(flow)
}

func (e *Engine) finishQuickQR(chatID int64, target string) func(context.Context, Flow) (Reply, error) {
	return func(ctx context.Context, flow Flow) (Reply, error) {
		account, err := e.reveal(ctx, flow)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			return Reply{Text: "Your default account was removed. Pick another with /accounts and start again.", Outcome: OutcomeFailed}, nil
		case domain.IsUnreadable(err):
			return e.accountUnreadable(flow, err)
		case err != nil:
			return storeFailed(err)
		}

		a := flow.Answers
		amount := vietqr.OpenAmount()
		caption := "Scan to pay, amount entered by the payer"
		if !a.OpenAmount {
			amount = vietqr.FixedAmount(a.Total)
			caption = fmt.Sprintf("Amount: %s VND", FormatVND(a.Total))
		}
		if a.Message != "" {
			caption += "\nNote: " + a.Message
		}

		return e.issueQR(ctx, flow, issue{
			account: account,
			amount:  amount,
			message: a.Message,
			chatID:  chatID,
			caption: caption,
			target:  target,
		})
	}
}

func (e *Engine) cancelAtConfirmation(flow Flow) transition {
	e.flowLogger(flow).WithField("event", "flow_declined").Info("flow declined at confirmation")
	return e.discard(flow, Reply{Text: textCancelled, Outcome: OutcomeCancelled})
}

// prompt describes what the flow is waiting for.
func (e *Engine) prompt(flow Flow) Reply {
	a := flow.Answers

	switch flow.Step {
	case StepAwaitingAmount:
		if flow.Kind == KindQuickQR {
			return Reply{
				Text:    "Send the amount in VND (e.g. 150000 or 150k), or - to let the payer enter it.",
				Choices: []Choice{{Label: "Open amount", Value: SkipToken}},
			}
		}
		return Reply{Text: "Send the bill total in VND (e.g. 350000, 350.000 or 350k)."}

	case StepAwaitingMessage:
		return Reply{
			Text:    fmt.Sprintf("Send a transfer note (up to %d characters), or - to skip.", vietqr.MaxMessageLength),
			Choices: []Choice{{Label: "Skip", Value: SkipToken}},
		}

	case StepAwaitingPartyCount:
		choices := make([]Choice, 0, len(partyChoices))
		for _, n := range partyChoices {
			if int64(n) <= a.Total {
				choices = append(choices, Choice{Label: fmt.Sprintf("%d people", n), Value: strconv.Itoa(n)})
			}
		}
		return Reply{
			Text:    fmt.Sprintf("Total %s VND. How many people share it?", FormatVND(a.Total)),
			Choices: choices,
		}

	case StepAwaitingBankCode:
		choices := make([]Choice, 0, len(vietqr.Banks))
		for _, bank := range vietqr.Banks {
			choices = append(choices, Choice{Label: bank.Name, Value: bank.Code})
		}
		return Reply{Text: "Pick your bank, or send its 6 or 8 digit BIN.", Choices: choices}

	case StepAwaitingAccountNumber:
		return Reply{Text: fmt.Sprintf("Send the %s account number.", a.Bank.Name)}

	case StepAwaitingLabel:
		return Reply{Text: "Send the account holder name as the bank shows it."}

	case StepAwaitingChatID:
		return Reply{Text: "Send the group chat id. Run /id inside the group to see it."}

	case StepAwaitingGroupLabel:
		return Reply{
			Text:    "Send a label for this group, or - to skip.",
			Choices: []Choice{{Label: "Skip", Value: SkipToken}},
		}

	case StepAwaitingConfirmation:
		return e.confirmationPrompt(flow)
	}

	return Reply{Text: textNoFlow}
}

func yesNo(confirm string) []Choice {
	return []Choice{{Label: confirm, Value: "yes"}, {Label: "Cancel", Value: "no"}}
}

func (e *Engine) confirmationPrompt(flow Flow) Reply {
	a := flow.Answers
	var lines []string

	switch flow.Kind {
	case KindBillSplit:
		shares, err := SplitShares(a.Total, a.PartyCount)
		if err != nil {
			return Reply{Text: err.Error()}
		}
		lines = append(lines,
			fmt.Sprintf("Split %s VND between %d people.", FormatVND(a.Total), a.PartyCount),
			fmt.Sprintf("Each person: %s VND", FormatVND(shares[len(shares)-1])),
		)
		if shares[0] != shares[len(shares)-1] {
			lines = append(lines, fmt.Sprintf("First person: %s VND (includes the remainder)", FormatVND(shares[0])))
		}
		if a.Message != "" {
			lines = append(lines, "Note: "+a.Message)
		}
		lines = append(lines,
			"Account: "+a.Account.Label,
			"Group: "+a.Group.DisplayName(),
			"",
			"Send the QR to the group?",
		)
		return Reply{Text: strings.Join(lines, "\n"), Choices: yesNo("Send")}

	case KindAddAccount:
		lines = append(lines,
			fmt.Sprintf("Bank: %s (%s)", a.Bank.Name, a.Bank.Code),
			"Account: "+logging.MaskAccount(a.AccountNumber),
			"Holder: "+a.HolderName,
			"",
			"Save this account?",
		)
		return Reply{Text: strings.Join(lines, "\n"), Choices: yesNo("Save")}

	case KindAddGroup:
		label := a.GroupLabel
		if label == "" {
			label = "(none)"
		}
		lines = append(lines,
			fmt.Sprintf("Chat id: %d", a.ChatID),
			"Label: "+label,
			"",
			"Register this group?",
		)
		return Reply{Text: strings.Join(lines, "\n"), Choices: yesNo("Register")}

	case KindQuickQR:
		if a.OpenAmount {
			lines = append(lines, "Amount: entered by the payer")
		} else {
			lines = append(lines, fmt.Sprintf("Amount: %s VND", FormatVND(a.Total)))
		}
		if a.Message != "" {
			lines = append(lines, "Note: "+a.Message)
		}
		lines = append(lines, "Account: "+a.Account.Label, "", "Where should the QR go?")

		var choices []Choice
		if a.HasGroup {
			choices = append(choices, Choice{Label: "Group " + a.Group.DisplayName(), Value: "group"})
		}
		choices = append(choices, Choice{Label: "Send it to me", Value: "private"}, Choice{Label: "Cancel", Value: "no"})
		return Reply{Text: strings.Join(lines, "\n"), Choices: choices}
	}

	return Reply{Text: textNoFlow}
}
