package cycle

import "fmt"

// TemporalInvariantError reports an ordering, gap or overlap violation.
// It is raised before anything is written.
type TemporalInvariantError struct {
	Rule   Rule
	Detail string
}

func (e *TemporalInvariantError) Error() string {
	return fmt.Sprintf("temporal invariant %s violated: %s", e.Rule, e.Detail)
}

// StateTransitionError reports an action the cycle's status does not allow.
type StateTransitionError struct {
	CycleID int64
	From    Status
	Action  Action
}

func (e *StateTransitionError) Error() string {
	if e.CycleID == 0 {
		return fmt.Sprintf("cannot %s: an active cycle in %s already exists", e.Action, e.From)
	}
	return fmt.Sprintf("cannot %s on cycle %d in status %s", e.Action, e.CycleID, e.From)
}

// NotFoundError reports an unknown id.
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

func gapDetail(what string, gap, minimum int) string {
	return fmt.Sprintf("%s is %d days after its anchor, at least %d required", what, gap, minimum)
}
