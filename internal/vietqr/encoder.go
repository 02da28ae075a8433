// Package vietqr builds NAPAS VietQR payloads: EMV-QR tag-length-value
// strings terminated by a CRC16/CCITT-FALSE checksum.
package vietqr

import (
	"strconv"
	"strings"
)

// Top-level tags used in a VietQR payload.
const (
	tagPayloadFormat   = "00"
	tagInitiation      = "01"
	tagMerchantAccount = "38"
	tagCategory        = "52"
	tagCurrency        = "53"
	tagAmount          = "54"
	tagCountry         = "58"
	tagMerchantName    = "59"
	tagMerchantCity    = "60"
	tagAdditionalData  = "62"
	tagCRC             = "63"
)

const (
	payloadFormat     = "01"
	initiationStatic  = "11"
	initiationDynamic = "12"
	napasGUID         = "A000000727"
	serviceToAccount  = "QRIBFTTA"
	categoryCode      = "0000"
	currencyVND       = "704"
	countryVN         = "VN"
	merchantCity      = "HANOI"
	tagPurpose        = "08"
)

// Field limits. The purpose sub-field is nested in the additional data
// template, whose own value is capped at 99 bytes, so four bytes go to the
// sub-field header.
const (
	MaxMessageLength    = maxFieldLength - 4
	MaxHolderNameLength = 25
	MaxAmountDigits     = 13
	minAccountDigits    = 6
	maxAccountDigits    = 19
)

// Account identifies the beneficiary of a transfer.
type Account struct {
	BankCode      string
	AccountNumber string
	HolderName    string
}

// Amount is an optional whole-VND transfer amount.
type Amount struct {
	value   int64
	present bool
}

// OpenAmount leaves the amount to the payer and yields a static QR.
func OpenAmount() Amount { return Amount{} }

// FixedAmount embeds v VND and yields a dynamic QR.
func FixedAmount(v int64) Amount { return Amount{value: v, present: true} }

// Value reports the amount and whether it is present.
func (a Amount) Value() (int64, bool) { return a.value, a.present }

// Encoder builds payloads. The zero value truncates long messages.
type Encoder struct {
	// RejectLongMessage makes Encode fail with MessageTooLongError rather
	// than truncating the purpose text.
	RejectLongMessage bool
}

// Encode builds a payload with the default Encoder.
func Encode(account Account, amount Amount, message string) (string, error) {
	return Encoder{}.Encode(account, amount, message)
}

// Encode validates its inputs and returns the checksummed payload. Identical
// inputs always produce identical output.
func (e Encoder) Encode(account Account, amount Amount, message string) (string, error) {
	bankCode := stripSpaces(account.BankCode)
	if err := validateBankCode(bankCode); err != nil {
		return "", err
	}
	accountNumber := stripSpaces(account.AccountNumber)
	if err := validateAccountNumber(accountNumber); err != nil {
		return "", err
	}

	amountValue, hasAmount := amount.Value()
	amountText := ""
	if hasAmount {
		if amountValue <= 0 {
			return "", &InvalidAmountError{Value: amountValue, Reason: "must be positive"}
		}
		amountText = strconv.FormatInt(amountValue, 10)
		if len(amountText) > MaxAmountDigits {
			return "", &InvalidAmountError{Value: amountValue, Reason: "exceeds 13 digits"}
		}
	}

	purpose := FoldASCII(message)
	if len(purpose) > MaxMessageLength {
		if e.RejectLongMessage {
			return "", &MessageTooLongError{Length: len(purpose), Max: MaxMessageLength}
		}
		purpose = strings.TrimSpace(purpose[:MaxMessageLength])
	}

	beneficiary, err := EncodeTLV(
		Field{Tag: "00", Value: bankCode},
		Field{Tag: "01", Value: accountNumber},
	)
	if err != nil {
		return "", err
	}
	merchant, err := EncodeTLV(
		Field{Tag: "00", Value: napasGUID},
		Field{Tag: "01", Value: beneficiary},
		Field{Tag: "02", Value: serviceToAccount},
	)
	if err != nil {
		return "", err
	}

	initiation := initiationStatic
	if hasAmount {
		initiation = initiationDynamic
	}

	fields := []Field{
		{Tag: tagPayloadFormat, Value: payloadFormat},
		{Tag: tagInitiation, Value: initiation},
		{Tag: tagMerchantAccount, Value: merchant},
		{Tag: tagCategory, Value: categoryCode},
		{Tag: tagCurrency, Value: currencyVND},
	}
	if hasAmount {
		fields = append(fields, Field{Tag: tagAmount, Value: amountText})
	}
	fields = append(fields,
		Field{Tag: tagCountry, Value: countryVN},
		Field{Tag: tagMerchantName, Value: merchantName(account.HolderName)},
		Field{Tag: tagMerchantCity, Value: merchantCity},
	)
	if purpose != "" {
		additional, err := EncodeTLV(Field{Tag: tagPurpose, Value: purpose})
		if err != nil {
			return "", err
		}
		fields = append(fields, Field{Tag: tagAdditionalData, Value: additional})
	}

	body, err := EncodeTLV(fields...)
	if err != nil {
		return "", err
	}

	body += tagCRC + "04"
	return body + Checksum(body), nil
}

// ValidateAccountNumber applies the same rules Encode uses.
func ValidateAccountNumber(accountNumber string) error {
	return validateAccountNumber(stripSpaces(accountNumber))
}

// ValidateBankCode applies the same rules Encode uses.
func ValidateBankCode(bankCode string) error {
	return validateBankCode(stripSpaces(bankCode))
}

func validateBankCode(code string) error {
	if code == "" {
		return &InvalidAccountError{Field: "bank_code", Reason: "is required"}
	}
	if !isDigits(code) || (len(code) != 6 && len(code) != 8) {
		return &InvalidAccountError{Field: "bank_code", Reason: "must be 6 or 8 digits"}
	}
	return nil
}

func validateAccountNumber(number string) error {
	if number == "" {
		return &InvalidAccountError{Field: "account_number", Reason: "is required"}
	}
	if !isDigits(number) {
		return &InvalidAccountError{Field: "account_number", Reason: "must contain digits only"}
	}
	if len(number) < minAccountDigits || len(number) > maxAccountDigits {
		return &InvalidAccountError{Field: "account_number", Reason: "must be 6 to 19 digits"}
	}
	return nil
}

func merchantName(holder string) string {
	name := strings.ToUpper(FoldASCII(holder))
	if name == "" {
		return "NA"
	}
	if len(name) > MaxHolderNameLength {
		name = strings.TrimSpace(name[:MaxHolderNameLength])
	}
	return name
}

func stripSpaces(s string) string {
	return strings.Join(strings.Fields(s), "")
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
