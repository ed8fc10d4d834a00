package manager

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionBusy is returned when a session is asked to move while it is already moving.
	ErrSessionBusy = errors.New("session is already advancing")
	// ErrSessionComplete is returned when advancing past the last step.
	ErrSessionComplete = errors.New("session is complete")
	// ErrSessionClosed is returned by every operation on a committed, aborted or closed session.
	ErrSessionClosed = errors.New("session is closed")
	// ErrSessionIncomplete is returned when committing before the last step ran.
	ErrSessionIncomplete = errors.New("session has steps left")
	// ErrSessionIdle is returned when data is submitted before any step was entered.
	ErrSessionIdle = errors.New("session is idle")
	// ErrNoStep is returned when there is no current step to describe.
	ErrNoStep = errors.New("no current step")
	// ErrCharacterBusy is returned when a character already has an open session.
	ErrCharacterBusy = errors.New("character already has an open session")
	// ErrNotClass is returned when a level change targets an item that is not a class.
	ErrNotClass = errors.New("item is not a class")
	// ErrLevelCap is returned when a new class cannot gain a single level.
	ErrLevelCap = errors.New("character is at the level cap")
	// ErrCommitFailed wraps provider failures while committing.
	ErrCommitFailed = errors.New("commit failed")
	// ErrPlanningInconsistency is wrapped by every PlanningError.
	ErrPlanningInconsistency = errors.New("planning inconsistency")
)

// PlanningError reports a step that no longer matches the clone, for example one
// referencing an item that is gone. It is fatal to the session.
type PlanningError struct {
	Index int
	Step  string
	Err   error
}

func (e *PlanningError) Error() string {
	return fmt.Sprintf("step %d (%s): %v", e.Index, e.Step, e.Err)
}

// Unwrap exposes both ErrPlanningInconsistency and the underlying cause.
func (e *PlanningError) Unwrap() []error {
	return []error{ErrPlanningInconsistency, e.Err}
}

func planningError(index int, step *Step, err error) error {
	return &PlanningError{Index: index, Step: step.String(), Err: err}
}
