package conversation

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"vietqr_bot/internal/vietqr"
)

// Input limits.
const (
	MinPartyCount      = 2
	MaxPartyCount      = 50
	MaxHolderNameRunes = 50
	MaxGroupLabelRunes = 64
	// SkipToken skips an optional step.
	SkipToken = "-"
)

var (
	thousand   = decimal.NewFromInt(1000)
	amountCeil = decimal.New(1, vietqr.MaxAmountDigits)

	errAmountFormat = errors.New("enter a number such as 150000, 150.000 or 150k")
)

// ParseAmount reads a whole-VND amount. It accepts thousands grouping with
// "." or ",", a decimal part (rounded half away from zero), a trailing "k"
// for thousands and an optional "vnd" or "đ" suffix.
func ParseAmount(raw string) (int64, error) {
	s := strings.ToLower(strings.Join(strings.Fields(raw), ""))
	for _, suffix := range []string{"vnd", "đ"} {
		s = strings.TrimSuffix(s, suffix)
	}

	multiplier := decimal.NewFromInt(1)
	thousands := strings.HasSuffix(s, "k")
	if thousands {
		s = strings.TrimSuffix(s, "k")
		multiplier = thousand
	}

	if s == "" {
		return 0, errAmountFormat
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' && r != ',' {
			return 0, errAmountFormat
		}
	}

	normalized, err := normalizeSeparators(s, thousands)
	if err != nil {
		return 0, err
	}

	value, err := decimal.NewFromString(normalized)
	if err != nil {
		return 0, errAmountFormat
	}

	value = value.Mul(multiplier).Round(0)
	if !value.IsPositive() {
		return 0, errors.New("amount must be greater than zero")
	}
	if value.GreaterThanOrEqual(amountCeil) {
		return 0, fmt.Errorf("amount must have at most %d digits", vietqr.MaxAmountDigits)
	}

	return value.IntPart(), nil
}

// normalizeSeparators rewrites grouping and decimal marks into a plain
// decimal string. When both marks appear the last one is the decimal point.
// A single mark followed by exactly three digits is grouping unless a "k"
// suffix makes a fraction more plausible.
func normalizeSeparators(s string, thousands bool) (string, error) {
	dots, commas := strings.Count(s, "."), strings.Count(s, ",")

	switch {
	case dots == 0 && commas == 0:
		return s, nil
	case dots > 0 && commas > 0:
		decimalMark := "."
		groupMark := ","
		if strings.LastIndex(s, ",") > strings.LastIndex(s, ".") {
			decimalMark, groupMark = ",", "."
		}
		if strings.Count(s, decimalMark) > 1 {
			return "", errAmountFormat
		}
		return strings.Replace(strings.ReplaceAll(s, groupMark, ""), decimalMark, ".", 1), nil
	}

	mark := "."
	if commas > 0 {
		mark = ","
	}
	parts := strings.Split(s, mark)
	if len(parts) > 2 || (len(parts) == 2 && len(parts[1]) == 3 && !thousands) {
		for i, part := range parts {
			if part == "" || (i > 0 && len(part) != 3) {
				return "", errAmountFormat
			}
		}
		return strings.Join(parts, ""), nil
	}
	if parts[0] == "" || parts[1] == "" {
		return "", errAmountFormat
	}
	return parts[0] + "." + parts[1], nil
}

// SplitShares divides total into n whole-VND shares. The remainder goes to
// the first share so the shares always sum to total.
func SplitShares(total int64, n int) ([]int64, error) {
	if n < MinPartyCount {
		return nil, fmt.Errorf("party count must be at least %d", MinPartyCount)
	}
	if total < int64(n) {
		return nil, fmt.Errorf("total %d cannot be split %d ways", total, n)
	}

	base := total / int64(n)
	shares := make([]int64, n)
	for i := range shares {
		shares[i] = base
	}
	shares[0] += total % int64(n)
	return shares, nil
}

// FormatVND renders 1234567 as "1.234.567".
func FormatVND(amount int64) string {
	digits := strconv.FormatInt(amount, 10)
	sign := ""
	if strings.HasPrefix(digits, "-") {
		sign, digits = "-", digits[1:]
	}

	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	return sign + b.String()
}

func parsePartyCount(text string, total int64) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return 0, errors.New("enter the number of people as digits")
	}
	if n < MinPartyCount || n > MaxPartyCount {
		return 0, fmt.Errorf("the bill can be split between %d and %d people", MinPartyCount, MaxPartyCount)
	}
	if int64(n) > total {
		return 0, fmt.Errorf("%s VND is too small to split %d ways", FormatVND(total), n)
	}
	return n, nil
}

func parseMessage(text string) (string, error) {
	if strings.TrimSpace(text) == SkipToken {
		return "", nil
	}
	folded := vietqr.FoldASCII(text)
	if folded == "" {
		return "", errors.New("the note must contain letters or digits, or send - to skip")
	}
	if len(folded) > vietqr.MaxMessageLength {
		return "", fmt.Errorf("the note is limited to %d characters, yours has %d", vietqr.MaxMessageLength, len(folded))
	}
	return folded, nil
}

func parseBank(text string) (vietqr.Bank, error) {
	if bank, ok := vietqr.LookupBank(text); ok {
		return bank, nil
	}
	code := strings.Join(strings.Fields(text), "")
	if err := vietqr.ValidateBankCode(code); err != nil {
		return vietqr.Bank{}, errors.New("pick a bank from the list or send its 6 or 8 digit BIN")
	}
	return vietqr.Bank{Name: "BIN " + code, Code: code}, nil
}

func parseAccountNumber(text string) (string, error) {
	number := strings.Join(strings.Fields(text), "")
	if err := vietqr.ValidateAccountNumber(number); err != nil {
		return "", errors.New("an account number is 6 to 19 digits")
	}
	return number, nil
}

func parseHolderName(text string) (string, error) {
	name := strings.ToUpper(vietqr.FoldASCII(text))
	if name == "" {
		return "", errors.New("enter the account holder name")
	}
	if len(name) > MaxHolderNameRunes {
		return "", fmt.Errorf("the holder name is limited to %d characters", MaxHolderNameRunes)
	}
	return name, nil
}

func parseChatID(text string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
	if err != nil || id == 0 {
		return 0, errors.New("send the numeric chat id, e.g. -1001234567890 (use /id inside the group)")
	}
	return id, nil
}

func parseGroupLabel(text string) (string, error) {
	label := strings.Join(strings.Fields(text), " ")
	if label == SkipToken {
		return "", nil
	}
	if utf8.RuneCountInString(label) > MaxGroupLabelRunes {
		return "", fmt.Errorf("the label is limited to %d characters", MaxGroupLabelRunes)
	}
	return label, nil
}

type answer int

const (
	answerUnknown answer = iota
	answerYes
	answerNo
	answerGroup
	answerPrivate
)

var answers = map[string]answer{
	"yes":      answerYes,
	"y":        answerYes,
	"ok":       answerYes,
	"co":       answerYes,
	"xac nhan": answerYes,
	"confirm":  answerYes,
	"no":       answerNo,
	"n":        answerNo,
	"huy":      answerNo,
	"khong":    answerNo,
	"cancel":   answerNo,
	"group":    answerGroup,
	"private":  answerPrivate,
}

func classifyAnswer(text string) answer {
	return answers[strings.ToLower(vietqr.FoldASCII(text))]
}
