package conversation

// Outcome tells the glue layer what a call did to the flow.
type Outcome int

const (
	OutcomePrompted Outcome = iota
	OutcomeReprompted
	OutcomeCompleted
	OutcomeCancelled
	OutcomeNoActiveFlow
	OutcomeBusy
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomePrompted:
		return "prompted"
	case OutcomeReprompted:
		return "reprompted"
	case OutcomeCompleted:
		return "completed"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeNoActiveFlow:
		return "no_active_flow"
	case OutcomeBusy:
		return "busy"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Choice is a suggested answer. Value is what HandleUserInput expects back.
type Choice struct {
	Label string
	Value string
}

// Reply is what the user should see next.
type Reply struct {
	Text    string
	Choices []Choice
	Outcome Outcome
	// Payload is the encoded VietQR string when the flow produced one. The
	// glue may echo it to privileged users; it is never logged.
	Payload string
}
