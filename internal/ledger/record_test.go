package ledger

import (
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/yanun0323/errors"
)

func TestStatusTerminality(t *testing.T) {
	testCases := []struct {
		status    Status
		available bool
		terminal  bool
	}{
		{StatusPending, true, false},
		{StatusFilled, true, true},
		{StatusFailed, true, true},
		{StatusCancelled, true, true},
		{Status("SHIPPED"), false, false},
		{Status(""), false, false},
	}

	for _, tc := range testCases {
		t.Run(string(tc.status), func(t *testing.T) {
			if got := tc.status.IsAvailable(); got != tc.available {
				t.Fatalf("IsAvailable mismatch! should be %v but got %v", tc.available, got)
			}
			if got := tc.status.IsTerminal(); got != tc.terminal {
				t.Fatalf("IsTerminal mismatch! should be %v but got %v", tc.terminal, got)
			}
		})
	}
}

func TestIsUniqueViolation(t *testing.T) {
	unique := &pgconn.PgError{Code: "23505"}
	if !isUniqueViolation(unique) {
		t.Fatal("code 23505 must be a unique violation")
	}
	if !isUniqueViolation(errors.Wrap(unique, "insert trades")) {
		t.Fatal("wrapped unique violation must still match")
	}

	other := &pgconn.PgError{Code: "40001"}
	if isUniqueViolation(other) {
		t.Fatal("serialization failure is not a unique violation")
	}
	if isUniqueViolation(errors.New("plain")) {
		t.Fatal("plain error is not a unique violation")
	}
}
