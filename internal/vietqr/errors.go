package vietqr

import (
	"errors"
	"fmt"
)

// ErrEncoding is matched by every error Encode can return.
var ErrEncoding = errors.New("vietqr: encoding error")

var (
	// ErrFieldOverflow reports a TLV value longer than the two-digit length
	// prefix can describe. Validation should make it unreachable.
	ErrFieldOverflow = fmt.Errorf("%w: tlv field overflow", ErrEncoding)
	// ErrMalformedTLV is returned by ParseTLV for truncated or non-numeric input.
	ErrMalformedTLV = errors.New("vietqr: malformed tlv")
	// ErrChecksumMismatch is returned by Verify when the trailing CRC does not
	// match the payload.
	ErrChecksumMismatch = errors.New("vietqr: checksum mismatch")
)

// InvalidAccountError reports a missing or malformed bank code or account number.
type InvalidAccountError struct {
	Field  string
	Reason string
}

func (e *InvalidAccountError) Error() string {
	return fmt.Sprintf("invalid account %s: %s", e.Field, e.Reason)
}

func (e *InvalidAccountError) Unwrap() error { return ErrEncoding }

// InvalidAmountError reports a present amount that cannot be encoded.
type InvalidAmountError struct {
	Value  int64
	Reason string
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("invalid amount %d: %s", e.Value, e.Reason)
}

func (e *InvalidAmountError) Unwrap() error { return ErrEncoding }

// MessageTooLongError is returned when truncation is disabled and the folded
// message exceeds MaxMessageLength.
type MessageTooLongError struct {
	Length int
	Max    int
}

func (e *MessageTooLongError) Error() string {
	return fmt.Sprintf("message too long: %d bytes, max %d", e.Length, e.Max)
}

func (e *MessageTooLongError) Unwrap() error { return ErrEncoding }
