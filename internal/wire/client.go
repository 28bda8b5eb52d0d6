package wire

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/C-NASIR/graphsync/internal/store"
)

// DefaultTimeout bounds a whole exchange when the client has none configured.
const DefaultTimeout = 3 * time.Second

// Client performs one-shot request/response exchanges with peers.
type Client struct {
	Timeout      time.Duration
	MaxFrameSize int
}

func NewClient(timeout time.Duration, maxFrameSize int) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &Client{Timeout: timeout, MaxFrameSize: maxFrameSize}
}

func (c *Client) dial(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectionError{Addr: addr, Op: "dial", Err: err}
	}
	return conn, nil
}

// Do sends req to addr on a fresh connection and returns the decoded reply.
// ERROR replies are returned as a Response; use Response.Err to surface them.
func (c *Client) Do(ctx context.Context, addr string, req Request) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	conn, err := c.dial(ctx, addr)
	if err != nil {
		return Response{}, err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if err := WriteFrame(conn, req.Marshal()); err != nil {
		return Response{}, &ConnectionError{Addr: addr, Op: "write", Err: err}
	}
	body, err := ReadFrame(conn, c.MaxFrameSize)
	if err != nil {
		var perr *ProtocolError
		if errors.As(err, &perr) {
			return Response{}, err
		}
		return Response{}, &ConnectionError{Addr: addr, Op: "read", Err: err}
	}
	return UnmarshalResponse(body)
}

func (c *Client) call(ctx context.Context, addr string, req Request, want Status) (Response, error) {
	resp, err := c.Do(ctx, addr, req)
	if err != nil {
		return Response{}, err
	}
	if err := resp.Err(); err != nil {
		return Response{}, err
	}
	if resp.Status != want {
		return Response{}, protocolErr(fmt.Sprintf("%s answered with %s", req.Command, resp.Status), nil)
	}
	return resp, nil
}

// GetState pulls the full snapshot from addr.
func (c *Client) GetState(ctx context.Context, addr string) (store.Snapshot, error) {
	resp, err := c.call(ctx, addr, GetState(), StatusState)
	if err != nil {
		return store.Snapshot{}, err
	}
	return resp.State, nil
}

// LeaderInfo is a peer's answer to WHO_IS_LEADER.
type LeaderInfo struct {
	Leader string
	Role   string
}

func (c *Client) WhoIsLeader(ctx context.Context, addr string) (LeaderInfo, error) {
	resp, err := c.call(ctx, addr, WhoIsLeader(), StatusLeader)
	if err != nil {
		return LeaderInfo{}, err
	}
	return LeaderInfo{Leader: resp.Leader, Role: resp.Role}, nil
}

// StoreText appends text on the leader at addr and returns the new log length.
func (c *Client) StoreText(ctx context.Context, addr, text string) (int, error) {
	resp, err := c.call(ctx, addr, StoreText(text), StatusTextStored)
	if err != nil {
		return 0, err
	}
	return resp.Length, nil
}

// Probe checks reachability of addr with a bounded connect-and-close.
func (c *Client) Probe(ctx context.Context, addr string) error {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()
	conn, err := c.dial(ctx, addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

// AddNode creates id on the leader at addr.
func (c *Client) AddNode(ctx context.Context, addr, id string) error {
	_, err := c.call(ctx, addr, AddNode(id), StatusGraphUpdated)
	return err
}

// AddEdge connects two existing nodes on the leader at addr.
func (c *Client) AddEdge(ctx context.Context, addr, a, b string) error {
	_, err := c.call(ctx, addr, AddEdge(a, b), StatusGraphUpdated)
	return err
}

// RemoveEdge reports whether the edge existed.
func (c *Client) RemoveEdge(ctx context.Context, addr, a, b string) (bool, error) {
	resp, err := c.call(ctx, addr, RemoveEdge(a, b), StatusGraphUpdated)
	return resp.Changed, err
}

// RemoveNode reports whether the node existed.
func (c *Client) RemoveNode(ctx context.Context, addr, id string) (bool, error) {
	resp, err := c.call(ctx, addr, RemoveNode(id), StatusGraphUpdated)
	return resp.Changed, err
}

// NodeInfo is a peer's answer to GET_NODE.
type NodeInfo struct {
	ID        string   `json:"id"`
	Found     bool     `json:"found"`
	Neighbors []string `json:"neighbors"`
}

// GetNode looks id up on addr. Followers answer from their last sync.
func (c *Client) GetNode(ctx context.Context, addr, id string) (NodeInfo, error) {
	resp, err := c.call(ctx, addr, GetNode(id), StatusNode)
	if err != nil {
		return NodeInfo{}, err
	}
	return NodeInfo{ID: resp.Node, Found: resp.Found, Neighbors: resp.Neighbors}, nil
}
