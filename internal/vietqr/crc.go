package vietqr

import (
	"fmt"
	"strings"
)

// CRC16 computes CRC-16/CCITT-FALSE: polynomial 0x1021, init 0xFFFF, no
// reflection, no final xor.
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b) << 8
		for i := 0; i < 8; i++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// Checksum renders CRC16 of data as four uppercase hex digits.
func Checksum(data string) string {
	return fmt.Sprintf("%04X", CRC16([]byte(data)))
}

// Verify checks that payload ends in a CRC field whose value matches every
// preceding byte, including the "6304" header.
func Verify(payload string) error {
	if len(payload) < 8 {
		return fmt.Errorf("%w: payload too short", ErrMalformedTLV)
	}
	header := payload[len(payload)-8 : len(payload)-4]
	if header != tagCRC+"04" {
		return fmt.Errorf("%w: missing crc field", ErrMalformedTLV)
	}
	want := Checksum(payload[:len(payload)-4])
	if got := payload[len(payload)-4:]; !strings.EqualFold(got, want) {
		return fmt.Errorf("%w: got %s, want %s", ErrChecksumMismatch, got, want)
	}
	return nil
}
