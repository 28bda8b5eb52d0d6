package cluster

import (
	"unicode/utf8"

	"github.com/C-NASIR/graphsync/internal/store"
)

type GraphFSM struct {
	S *store.Store
}

func NewGraphFSM(s *store.Store) *GraphFSM { return &GraphFSM{S: s} }

// Apply runs cmd against the store. REMOVE_* return whether anything was
// removed and APPEND_TEXT returns the new log length.
func (f *GraphFSM) Apply(cmd Command) (any, error) {
	switch cmd.Op {
	case OpAddNode:
		return nil, f.S.AddNode(cmd.Node)
	case OpAddEdge:
		return nil, f.S.AddEdge(cmd.Node, cmd.Peer)
	case OpRemoveEdge:
		return f.S.RemoveEdge(cmd.Node, cmd.Peer), nil
	case OpRemoveNode:
		return f.S.RemoveNode(cmd.Node), nil
	case OpAppendText:
		if !utf8.ValidString(cmd.Text) {
			return nil, store.ErrInvalidText
		}
		return f.S.AppendText(cmd.Text), nil
	default:
		return nil, ErrUnknownOp
	}
}
