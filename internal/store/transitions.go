package store

import "medcare/token-service/internal/models"

const (
	ActionStart    = "start"
	ActionComplete = "complete"
	ActionCancel   = "cancel"
)

var transitionMap = map[string][]string{
	ActionStart:    {models.StatusBooked},
	ActionComplete: {models.StatusInProgress},
	ActionCancel:   {models.StatusBooked},
}

var transitionTarget = map[string]string{
	ActionStart:    models.StatusInProgress,
	ActionComplete: models.StatusCompleted,
	ActionCancel:   models.StatusCancelled,
}

func ValidTransition(action, fromStatus string) bool {
	allowed, ok := transitionMap[action]
	if !ok {
		return false
	}
	for _, status := range allowed {
		if status == fromStatus {
			return true
		}
	}
	return false
}

// NextStatus resolves the status an appointment moves to for action, or
// ErrInvalidState when the transition is not allowed from fromStatus.
func NextStatus(action, fromStatus string) (string, error) {
	if !ValidTransition(action, fromStatus) {
		return "", ErrInvalidState
	}
	return transitionTarget[action], nil
}
