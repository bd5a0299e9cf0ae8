package flow

import "fmt"

// StageState is the lifecycle state of one stage within an execution.
type StageState string

const (
	StatePending   StageState = "pending"
	StateRunning   StageState = "running"
	StateCompleted StageState = "completed"
	StateFailed    StageState = "failed"
)

var allowedTransitions = map[StageState]map[StageState]struct{}{
	StatePending: {
		StateRunning: {},
	},
	StateRunning: {
		StateCompleted: {},
		StateFailed:    {},
	},
	StateCompleted: {},
	StateFailed:    {},
}

// ValidateTransition rejects any move the stage lifecycle does not allow.
func ValidateTransition(from, to StageState) error {
	if _, ok := allowedTransitions[from]; !ok {
		return fmt.Errorf("invalid stage state: %q", from)
	}
	if _, ok := allowedTransitions[to]; !ok {
		return fmt.Errorf("invalid stage state: %q", to)
	}
	if _, ok := allowedTransitions[from][to]; !ok {
		return fmt.Errorf("invalid stage transition: %s -> %s", from, to)
	}
	return nil
}

// Terminal reports whether no further transition is possible.
func (s StageState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}
