package store

import (
	"errors"
	"testing"
)

func TestValidTransition(t *testing.T) {
	cases := []struct {
		action string
		from   string
		valid  bool
	}{
		{"start", "booked", true},
		{"start", "in_progress", false},
		{"start", "cancelled", false},
		{"complete", "in_progress", true},
		{"complete", "booked", false},
		{"cancel", "booked", true},
		{"cancel", "in_progress", false},
		{"cancel", "completed", false},
		{"cancel", "cancelled", false},
		{"unknown", "booked", false},
	}

	for _, tt := range cases {
		if got := ValidTransition(tt.action, tt.from); got != tt.valid {
			t.Fatalf("ValidTransition(%q, %q)=%v, want %v", tt.action, tt.from, got, tt.valid)
		}
	}
}

func TestNextStatus(t *testing.T) {
	status, err := NextStatus(ActionStart, "booked")
	if err != nil || status != "in_progress" {
		t.Fatalf("expected in_progress, got %q (%v)", status, err)
	}
	status, err = NextStatus(ActionComplete, "in_progress")
	if err != nil || status != "completed" {
		t.Fatalf("expected completed, got %q (%v)", status, err)
	}
	if _, err := NextStatus(ActionComplete, "booked"); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}
