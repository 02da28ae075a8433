package conversation

// Kind identifies what a flow is collecting input for.
type Kind int

const (
	KindNone Kind = iota
	KindBillSplit
	KindAddAccount
	KindAddGroup
	KindQuickQR
)

func (k Kind) String() string {
	switch k {
	case KindBillSplit:
		return "bill_split"
	case KindAddAccount:
		return "add_account"
	case KindAddGroup:
		return "add_group"
	case KindQuickQR:
		return "quick_qr"
	default:
		return "none"
	}
}

// Step is the point a flow is suspended at, waiting for user input.
type Step int

const (
	StepIdle Step = iota
	StepAwaitingAmount
	StepAwaitingMessage
	StepAwaitingPartyCount
	StepAwaitingConfirmation
	StepAwaitingBankCode
	StepAwaitingAccountNumber
	StepAwaitingLabel
	StepAwaitingChatID
	StepAwaitingGroupLabel
	StepCompleted
)

func (s Step) String() string {
	switch s {
	case StepIdle:
		return "idle"
	case StepAwaitingAmount:
		return "awaiting_amount"
	case StepAwaitingMessage:
		return "awaiting_message"
	case StepAwaitingPartyCount:
		return "awaiting_party_count"
	case StepAwaitingConfirmation:
		return "awaiting_confirmation"
	case StepAwaitingBankCode:
		return "awaiting_bank_code"
	case StepAwaitingAccountNumber:
		return "awaiting_account_number"
	case StepAwaitingLabel:
		return "awaiting_label"
	case StepAwaitingChatID:
		return "awaiting_chat_id"
	case StepAwaitingGroupLabel:
		return "awaiting_group_label"
	case StepCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// firstStep is where a new flow of kind k starts.
func firstStep(k Kind) Step {
	switch k {
	case KindBillSplit, KindQuickQR:
		return StepAwaitingAmount
	case KindAddAccount:
		return StepAwaitingBankCode
	case KindAddGroup:
		return StepAwaitingChatID
	default:
		return StepIdle
	}
}
