package domain

import "strings"

var movementTransitions = map[string]map[string]struct{}{
	StatusPending: {
		StatusCompleted: {},
		StatusFailed:    {},
	},
	StatusCompleted: {},
	StatusFailed:    {},
}

func normalizeState(state string) string {
	return strings.ToUpper(strings.TrimSpace(state))
}

// CanTransition reports whether a movement may move from current to next.
// Terminal states have no outgoing transitions.
func CanTransition(current, next string) bool {
	nextStates, ok := movementTransitions[normalizeState(current)]
	if !ok {
		return false
	}
	_, ok = nextStates[normalizeState(next)]
	return ok
}

// IsTerminal reports whether status is COMPLETED or FAILED.
func IsTerminal(status string) bool {
	switch normalizeState(status) {
	case StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}
