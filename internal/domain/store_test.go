package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"vietqr_bot/internal/secret"
)

func TestIsPermanentStoreError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		permanent bool
	}{
		{"not found", fmt.Errorf("account a1: %w", ErrNotFound), true},
		{"limit", ErrAccountLimit, true},
		{"unreadable", fmt.Errorf("decrypt account a1: %w: %w", ErrUnreadable, secret.ErrUndecryptable), true},
		{"bare decrypt failure", fmt.Errorf("decrypt: %w", secret.ErrUndecryptable), true},
		{"canceled", context.Canceled, true},
		{"network", errors.New("server selection timeout"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPermanentStoreError(tt.err); got != tt.permanent {
				t.Fatalf("IsPermanentStoreError(%v) = %v, want %v", tt.err, got, tt.permanent)
			}
		})
	}
}
