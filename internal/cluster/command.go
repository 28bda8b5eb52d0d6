package cluster

// Op is an operation that mutates the graph on the leader.
type Op string

const (
	OpAddNode    Op = "ADD_NODE"
	OpAddEdge    Op = "ADD_EDGE"
	OpRemoveEdge Op = "REMOVE_EDGE"
	OpRemoveNode Op = "REMOVE_NODE"
	OpAppendText Op = "APPEND_TEXT"
)

type Command struct {
	Op   Op
	Node string // ADD_NODE/REMOVE_NODE, first endpoint for edge ops
	Peer string // second endpoint for ADD_EDGE/REMOVE_EDGE
	Text string // APPEND_TEXT
}

func AddNode(id string) Command { return Command{Op: OpAddNode, Node: id} }
func AddEdge(a, b string) Command { return Command{Op: OpAddEdge, Node: a, Peer: b} }
func RemoveEdge(a, b string) Command { return Command{Op: OpRemoveEdge, Node: a, Peer: b} }
func RemoveNode(id string) Command { return Command{Op: OpRemoveNode, Node: id} }
func AppendText(text string) Command { return Command{Op: OpAppendText, Text: text} }
