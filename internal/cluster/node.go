package cluster

import (
	"context"
	"errors"
)

var (
	ErrNotLeader = &NotLeaderError{}
	ErrUnknownOp = errors.New("unknown op")
)

// NotLeaderError is returned when a write reaches a process that is not the
// leader. Leader holds the address this process believes is leading, if any.
type NotLeaderError struct {
	Leader string
}

func (e *NotLeaderError) Error() string {
	if e.Leader == "" {
		return "not leader"
	}
	return "not leader (leader is " + e.Leader + ")"
}

func (e *NotLeaderError) Is(target error) bool {
	_, ok := target.(*NotLeaderError)
	return ok
}

// Node accepts graph writes (leader only).
type Node interface {
	// Propose applies a command and returns the FSM result.
	Propose(ctx context.Context, cmd Command) (any, error)
}

// LeaderChecker reports the current role as seen by this process.
type LeaderChecker interface {
	IsLeader() bool
	Leader() string
}
