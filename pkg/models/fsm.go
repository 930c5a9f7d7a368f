package models

import (
	"fmt"
)

// validTransitions maps from-state to allowed to-states
var validTransitions = map[JobState]map[JobState]bool{
	JobStateIdle: {
		JobStateSubmitted: true, // Idle → Submitted (user triggers analysis)
	},
	JobStateSubmitted: {
		JobStatePending: true, // Submitted → Pending (backend accepted the job)
		JobStateFailed:  true, // Submitted → Failed (start failure)
	},
	JobStatePending: {
		JobStatePending:   true, // Pending → Pending (404 or transient error)
		JobStateCompleted: true, // Pending → Completed (200 with result)
		JobStateFailed:    true, // Pending → Failed (any other status, or poll cap)
	},
	// Terminal states (no transitions allowed)
	JobStateCompleted: {},
	JobStateFailed:    {},
}

// ValidateTransition checks if a state transition is valid
func ValidateTransition(from, to JobState) error {
	allowedStates, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("unknown source state: %s", from)
	}

	if !allowedStates[to] {
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}

	return nil
}

// IsTerminalState returns true if the state is terminal (no further polling)
func IsTerminalState(state JobState) bool {
	return state == JobStateCompleted || state == JobStateFailed
}

// IsActiveState returns true while the job still needs the network
func IsActiveState(state JobState) bool {
	return state == JobStateSubmitted || state == JobStatePending
}
