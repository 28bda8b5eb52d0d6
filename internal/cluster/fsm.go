package cluster

// FSM applies one Command to local graph state and returns the op result:
// a bool for removals, the new log length for APPEND_TEXT, nil otherwise.
type FSM interface {
	Apply(cmd Command) (any, error)
}
