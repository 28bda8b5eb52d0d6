package wire

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/C-NASIR/graphsync/internal/store"
)

// Command names a request kind.
type Command string

const (
	CmdStoreText   Command = "STORE_TEXT"
	CmdGetState    Command = "GET_STATE"
	CmdWhoIsLeader Command = "WHO_IS_LEADER"
	CmdAddNode     Command = "ADD_NODE"
	CmdAddEdge     Command = "ADD_EDGE"
	CmdRemoveEdge  Command = "REMOVE_EDGE"
	CmdRemoveNode  Command = "REMOVE_NODE"
	CmdGetNode     Command = "GET_NODE"
)

// argCount is the number of arguments following "<COMMAND>:". Two arguments
// are separated by a newline, which node ids may not contain.
var argCount = map[Command]int{
	CmdStoreText:  1,
	CmdAddNode:    1,
	CmdRemoveNode: 1,
	CmdGetNode:    1,
	CmdAddEdge:    2,
	CmdRemoveEdge: 2,
}

// Request is a decoded request frame.
type Request struct {
	Command Command
	Text    string // STORE_TEXT only
	Node    string // graph commands
	Peer    string // ADD_EDGE, REMOVE_EDGE
}

func StoreText(text string) Request { return Request{Command: CmdStoreText, Text: text} }
func GetState() Request { return Request{Command: CmdGetState} }
func WhoIsLeader() Request { return Request{Command: CmdWhoIsLeader} }
func AddNode(id string) Request { return Request{Command: CmdAddNode, Node: id} }
func RemoveNode(id string) Request { return Request{Command: CmdRemoveNode, Node: id} }
func GetNode(id string) Request { return Request{Command: CmdGetNode, Node: id} }
func AddEdge(a, b string) Request { return Request{Command: CmdAddEdge, Node: a, Peer: b} }
func RemoveEdge(a, b string) Request { return Request{Command: CmdRemoveEdge, Node: a, Peer: b} }

// Marshal renders the request in its textual form, e.g. "STORE_TEXT:hello"
// or "ADD_EDGE:a\nb".
func (r Request) Marshal() []byte {
	switch argCount[r.Command] {
	case 1:
		arg := r.Node
		if r.Command == CmdStoreText {
			arg = r.Text
		}
		return []byte(string(r.Command) + ":" + arg)
	case 2:
		return []byte(string(r.Command) + ":" + r.Node + "\n" + r.Peer)
	}
	return []byte(r.Command)
}

// ParseRequest decodes a request frame body.
func ParseRequest(b []byte) (Request, error) {
	if !utf8.Valid(b) {
		return Request{}, protocolErr("request is not valid UTF-8", nil)
	}
	s := string(b)
	switch Command(s) {
	case CmdGetState, CmdWhoIsLeader:
		return Request{Command: Command(s)}, nil
	}
	if name, rest, ok := strings.Cut(s, ":"); ok {
		cmd := Command(name)
		switch argCount[cmd] {
		case 1:
			if cmd == CmdStoreText {
				return StoreText(rest), nil
			}
			return Request{Command: cmd, Node: rest}, nil
		case 2:
			node, peer, ok := strings.Cut(rest, "\n")
			if !ok {
				return Request{}, protocolErr(fmt.Sprintf("%s needs two newline-separated node ids", cmd), nil)
			}
			return Request{Command: cmd, Node: node, Peer: peer}, nil
		}
	}
	if len(s) > 32 {
		s = s[:32] + "..."
	}
	return Request{}, protocolErr(fmt.Sprintf("unrecognized command %q", s), nil)
}

// Status tags the kind of a response.
type Status string

const (
	StatusTextStored   Status = "TEXT_STORED"
	StatusState        Status = "STATE"
	StatusLeader       Status = "LEADER"
	StatusGraphUpdated Status = "GRAPH_UPDATED"
	StatusNode         Status = "NODE"
	StatusError        Status = "ERROR"
)

// Error codes carried by StatusError responses.
const (
	CodeProtocolError   = "PROTOCOL_ERROR"
	CodeNotLeader       = "NOT_LEADER"
	CodeUnknownNode     = "UNKNOWN_NODE"
	CodeInvalidArgument = "INVALID_ARGUMENT"
	CodeInternal        = "INTERNAL"
)

// Response is a decoded response frame. Which fields are meaningful depends
// on Status.
type Response struct {
	Status    Status
	Length    int            // TEXT_STORED
	State     store.Snapshot // STATE
	Leader    string         // LEADER
	Role      string         // LEADER
	Changed   bool           // GRAPH_UPDATED; false when a removal found nothing
	Node      string         // NODE
	Found     bool           // NODE
	Neighbors []string       // NODE
	Code      string         // ERROR
	Message   string         // ERROR
}

func ErrorResponse(code, msg string) Response {
	return Response{Status: StatusError, Code: code, Message: msg}
}

// Err returns a *RemoteError for ERROR responses and nil otherwise.
func (r Response) Err() error {
	if r.Status != StatusError {
		return nil
	}
	return &RemoteError{Code: r.Code, Message: r.Message}
}

// Marshal encodes the response as a protobuf Struct.
func (r Response) Marshal() ([]byte, error) {
	fields := map[string]*structpb.Value{
		"status": structpb.NewStringValue(string(r.Status)),
	}
	switch r.Status {
	case StatusTextStored:
		fields["length"] = structpb.NewNumberValue(float64(r.Length))
	case StatusState:
		adj := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(r.State.Adjacency))}
		for id, neighbors := range r.State.Adjacency {
			adj.Fields[id] = structpb.NewListValue(stringList(neighbors))
		}
		fields["adjacency"] = structpb.NewStructValue(adj)
		fields["text_log"] = structpb.NewListValue(stringList(r.State.TextLog))
	case StatusLeader:
		fields["leader"] = structpb.NewStringValue(r.Leader)
		fields["role"] = structpb.NewStringValue(r.Role)
	case StatusGraphUpdated:
		fields["changed"] = structpb.NewBoolValue(r.Changed)
	case StatusNode:
		fields["node"] = structpb.NewStringValue(r.Node)
		fields["found"] = structpb.NewBoolValue(r.Found)
		fields["neighbors"] = structpb.NewListValue(stringList(r.Neighbors))
	case StatusError:
		fields["code"] = structpb.NewStringValue(r.Code)
		fields["message"] = structpb.NewStringValue(r.Message)
	default:
		return nil, fmt.Errorf("marshal response: unknown status %q", r.Status)
	}
	return proto.Marshal(&structpb.Struct{Fields: fields})
}

// UnmarshalResponse decodes a response frame body. Any shape mismatch is a
// *ProtocolError.
func UnmarshalResponse(b []byte) (Response, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(b, &s); err != nil {
		return Response{}, protocolErr("decode response", err)
	}
	status, err := stringField(&s, "status")
	if err != nil {
		return Response{}, err
	}
	r := Response{Status: Status(status)}
	switch r.Status {
	case StatusTextStored:
		v, ok := s.Fields["length"].GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return Response{}, protocolErr("missing length", nil)
		}
		r.Length = int(v.NumberValue)
	case StatusState:
		r.State, err = decodeState(&s)
	case StatusLeader:
		if r.Leader, err = stringField(&s, "leader"); err == nil {
			r.Role, err = stringField(&s, "role")
		}
	case StatusGraphUpdated:
		r.Changed, err = boolField(&s, "changed")
	case StatusNode:
		r, err = decodeNode(&s, r)
	case StatusError:
		if r.Code, err = stringField(&s, "code"); err == nil {
			r.Message, err = stringField(&s, "message")
		}
	default:
		return Response{}, protocolErr(fmt.Sprintf("unknown status %q", status), nil)
	}
	if err != nil {
		return Response{}, err
	}
	return r, nil
}

func decodeState(s *structpb.Struct) (store.Snapshot, error) {
	adj := s.Fields["adjacency"].GetStructValue()
	if adj == nil {
		return store.Snapshot{}, protocolErr("missing adjacency", nil)
	}
	logList := s.Fields["text_log"].GetListValue()
	if logList == nil {
		return store.Snapshot{}, protocolErr("missing text_log", nil)
	}
	snap := store.Snapshot{Adjacency: make(map[string][]string, len(adj.Fields))}
	for id, v := range adj.Fields {
		list := v.GetListValue()
		if list == nil {
			return store.Snapshot{}, protocolErr(fmt.Sprintf("adjacency of %q is not a list", id), nil)
		}
		neighbors, err := fromStringList(list)
		if err != nil {
			return store.Snapshot{}, err
		}
		snap.Adjacency[id] = neighbors
	}
	text, err := fromStringList(logList)
	if err != nil {
		return store.Snapshot{}, err
	}
	snap.TextLog = text
	return snap, nil
}

func decodeNode(s *structpb.Struct, r Response) (Response, error) {
	var err error
	if r.Node, err = stringField(s, "node"); err != nil {
		return r, err
	}
	if r.Found, err = boolField(s, "found"); err != nil {
		return r, err
	}
	list := s.Fields["neighbors"].GetListValue()
	if list == nil {
		return r, protocolErr("missing neighbors", nil)
	}
	r.Neighbors, err = fromStringList(list)
	return r, err
}

func boolField(s *structpb.Struct, name string) (bool, error) {
	v, ok := s.Fields[name].GetKind().(*structpb.Value_BoolValue)
	if !ok {
		return false, protocolErr(fmt.Sprintf("missing bool field %q", name), nil)
	}
	return v.BoolValue, nil
}

func stringField(s *structpb.Struct, name string) (string, error) {
	v, ok := s.Fields[name].GetKind().(*structpb.Value_StringValue)
	if !ok {
		return "", protocolErr(fmt.Sprintf("missing string field %q", name), nil)
	}
	return v.StringValue, nil
}

func stringList(in []string) *structpb.ListValue {
	values := make([]*structpb.Value, len(in))
	for i, s := range in {
		values[i] = structpb.NewStringValue(s)
	}
	return &structpb.ListValue{Values: values}
}

func fromStringList(l *structpb.ListValue) ([]string, error) {
	out := make([]string, len(l.Values))
	for i, v := range l.Values {
		sv, ok := v.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, protocolErr("list element is not a string", nil)
		}
		out[i] = sv.StringValue
	}
	return out, nil
}
