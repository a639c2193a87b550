package queue

import (
	"errors"
	"testing"

	"medcare/token-service/internal/models"
)

func TestParseClock(t *testing.T) {
	cases := []struct {
		value string
		want  int
		ok    bool
	}{
		{"09:00", 540, true},
		{"9:30", 570, true},
		{"00:00", 0, true},
		{"23:59", 1439, true},
		{"24:00", 0, false},
		{"12:60", 0, false},
		{"noon", 0, false},
		{"", 0, false},
	}
	for _, tt := range cases {
		got, err := ParseClock(tt.value)
		if tt.ok && (err != nil || got != tt.want) {
			t.Fatalf("ParseClock(%q)=%d, %v; want %d", tt.value, got, err, tt.want)
		}
		if !tt.ok && !errors.Is(err, ErrInvalidOpenTime) {
			t.Fatalf("ParseClock(%q) expected ErrInvalidOpenTime, got %v", tt.value, err)
		}
	}
}

func TestFormatClockWraps(t *testing.T) {
	cases := map[int]string{
		0:    "00:00",
		555:  "09:15",
		1439: "23:59",
		1440: "00:00",
		1445: "00:05",
		-15:  "23:45",
	}
	for minutes, want := range cases {
		if got := FormatClock(minutes); got != want {
			t.Fatalf("FormatClock(%d)=%q, want %q", minutes, got, want)
		}
	}
}

func TestSlotFor(t *testing.T) {
	cases := []struct {
		open  string
		ahead int
		start string
		end   string
	}{
		{"09:00", 0, "09:00", "09:15"},
		{"09:00", 1, "09:15", "09:30"},
		{"09:00", 3, "09:45", "10:00"},
		{"23:50", 1, "00:05", "00:20"},
		{"23:40", 1, "23:55", "00:10"},
	}
	for _, tt := range cases {
		open, err := ParseClock(tt.open)
		if err != nil {
			t.Fatalf("parse %q: %v", tt.open, err)
		}
		slot := SlotFor(open, tt.ahead)
		if slot.StartTime != tt.start || slot.EndTime != tt.end {
			t.Fatalf("SlotFor(%s, %d)=%+v, want %s-%s", tt.open, tt.ahead, slot, tt.start, tt.end)
		}
	}
}

func TestTokensAheadNeverNegative(t *testing.T) {
	for token := 0; token <= 20; token++ {
		for current := 0; current <= 20; current++ {
			if got := TokensAhead(token, current); got < 0 {
				t.Fatalf("TokensAhead(%d, %d)=%d", token, current, got)
			}
		}
	}
	if got := TokensAhead(7, 3); got != 4 {
		t.Fatalf("expected 4 tokens ahead, got %d", got)
	}
}

func TestProgressForIsYourTurnBoundary(t *testing.T) {
	state := models.QueueState{CurrentToken: 5, TotalTokens: 9}

	before := ProgressFor(state, 6)
	if before.IsYourTurn || before.TokensAhead != 1 || before.EstimatedWaitMinutes != 15 {
		t.Fatalf("unexpected progress before turn: %+v", before)
	}
	equal := ProgressFor(state, 5)
	if !equal.IsYourTurn || equal.TokensAhead != 0 || equal.EstimatedWaitMinutes != 0 {
		t.Fatalf("expected turn at equality: %+v", equal)
	}
	past := ProgressFor(state, 2)
	if !past.IsYourTurn || past.TokensAhead != 0 {
		t.Fatalf("expected turn once passed: %+v", past)
	}
}

func TestValidateKey(t *testing.T) {
	if err := ValidateKey(models.QueueKey{DoctorID: "doc-1", ClinicID: "clinic-1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateKey(models.QueueKey{DoctorID: " ", ClinicID: "clinic-1"}); !errors.Is(err, ErrInvalidQueueKey) {
		t.Fatalf("expected ErrInvalidQueueKey, got %v", err)
	}
}
