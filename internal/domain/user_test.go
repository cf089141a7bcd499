package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestNewUserValidatesName(t *testing.T) {
	u, err := NewUser("Alice")
	if err != nil {
		t.Fatalf("NewUser: %v", err)
	}
	if u.ID == "" || u.DisplayName != "Alice" {
		t.Fatalf("user = %+v", u)
	}

	if _, err := NewUser(""); !errors.Is(err, ErrNameEmpty) {
		t.Fatalf("empty name = %v, want ErrNameEmpty", err)
	}
	if _, err := NewUser(strings.Repeat("x", MaxDisplayNameLen+1)); !errors.Is(err, ErrNameTooLong) {
		t.Fatalf("long name = %v, want ErrNameTooLong", err)
	}
}

func TestSetDisplayName(t *testing.T) {
	u, err := NewUser("Alice")
	if err != nil {
		t.Fatalf("NewUser: %v", err)
	}
	if err := u.SetDisplayName(strings.Repeat("x", MaxDisplayNameLen+1)); !errors.Is(err, ErrNameTooLong) {
		t.Fatalf("SetDisplayName = %v, want ErrNameTooLong", err)
	}
	if u.DisplayName != "Alice" {
		t.Fatal("failed rename mutated the user")
	}
}

func TestCallStatusInCall(t *testing.T) {
	inCall := map[CallStatus]bool{
		CallIdle:      false,
		CallCalling:   true,
		CallRinging:   true,
		CallConnected: true,
		CallRejected:  false,
		CallEnded:     false,
	}
	for status, want := range inCall {
		if got := status.InCall(); got != want {
			t.Errorf("%s.InCall() = %v, want %v", status, got, want)
		}
	}
}
