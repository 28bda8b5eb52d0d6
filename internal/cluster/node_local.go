package cluster

import (
	"context"
	"sync"
)

// LocalNode applies commands straight to the FSM, but only while this
// process holds the leader role. Followers receive state by snapshot only.
type LocalNode struct {
	mu      sync.Mutex
	fsm     FSM
	role    LeaderChecker
	applied uint64
}

func NewLocalNode(fsm FSM, role LeaderChecker) *LocalNode {
	return &LocalNode{fsm: fsm, role: role}
}

func (n *LocalNode) Propose(ctx context.Context, cmd Command) (any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	if !n.role.IsLeader() {
		return nil, &NotLeaderError{Leader: n.role.Leader()}
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	out, err := n.fsm.Apply(cmd)
	if err == nil {
		n.applied++
	}
	return out, err
}

// Applied returns how many commands were applied successfully.
func (n *LocalNode) Applied() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.applied
}
