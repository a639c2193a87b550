package queue

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"medcare/token-service/internal/models"
)

// ServiceMinutes is the fixed consultation length used for every estimate.
const ServiceMinutes = 15

const minutesPerDay = 24 * 60

var (
	ErrInvalidQueueKey = errors.New("invalid queue key")
	ErrInvalidOpenTime = errors.New("invalid open time")
)

type Progress struct {
	TokenNumber          int  `json:"token_number"`
	CurrentToken         int  `json:"current_token"`
	TotalTokens          int  `json:"total_tokens"`
	TokensAhead          int  `json:"tokens_ahead"`
	EstimatedWaitMinutes int  `json:"estimated_wait_minutes"`
	IsYourTurn           bool `json:"is_your_turn"`
}

func ValidateKey(key models.QueueKey) error {
	if strings.TrimSpace(key.DoctorID) == "" || strings.TrimSpace(key.ClinicID) == "" {
		return ErrInvalidQueueKey
	}
	return nil
}

// ParseClock converts an "HH:MM" wall clock time into minutes after midnight.
func ParseClock(value string) (int, error) {
	parsed, err := time.Parse("15:04", strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidOpenTime, value)
	}
	return parsed.Hour()*60 + parsed.Minute(), nil
}

// FormatClock renders minutes after midnight as "HH:MM". Values past the end
// of the day wrap around onto the same 24-hour clock.
func FormatClock(minutes int) string {
	minutes %= minutesPerDay
	if minutes < 0 {
		minutes += minutesPerDay
	}
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

func TokensAhead(tokenNumber, currentToken int) int {
	return max(0, tokenNumber-currentToken)
}

func EstimatedWait(tokensAhead int) int {
	return tokensAhead * ServiceMinutes
}

// SlotFor places a patient tokensAhead consultations after the queue opens.
func SlotFor(openMinutes, tokensAhead int) models.TimeSlot {
	start := openMinutes + EstimatedWait(tokensAhead)
	return models.TimeSlot{
		StartTime: FormatClock(start),
		EndTime:   FormatClock(start + ServiceMinutes),
	}
}

func ProgressFor(state models.QueueState, tokenNumber int) Progress {
	ahead := TokensAhead(tokenNumber, state.CurrentToken)
	return Progress{
		TokenNumber:          tokenNumber,
		CurrentToken:         state.CurrentToken,
		TotalTokens:          state.TotalTokens,
		TokensAhead:          ahead,
		EstimatedWaitMinutes: EstimatedWait(ahead),
		IsYourTurn:           state.CurrentToken >= tokenNumber,
	}
}
