package workflow

// State is a position in the request lifecycle
type State string

const (
	// StateDraft is the implicit state of a request before it is submitted. It is never persisted.
	StateDraft    State = "DRAFT"
	StatePending  State = "PENDING"
	StateApproved State = "APPROVED"
	StateRejected State = "REJECTED"
	StatePaid     State = "PAID"
)

var validStates = map[State]bool{
	StateDraft:    true,
	StatePending:  true,
	StateApproved: true,
	StateRejected: true,
	StatePaid:     true,
}

// closedStates accept no trigger at all
var closedStates = map[State]bool{
	StateRejected: true,
	StatePaid:     true,
}

// IsClosed returns true if no further transition is possible from the state
func (s State) IsClosed() bool {
	return closedStates[s]
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state belongs to the lifecycle
func (s State) IsValid() bool {
	return validStates[s]
}
