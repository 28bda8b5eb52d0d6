// Package server answers wire protocol requests against the local store. It
// runs for the whole process lifetime; writes are accepted only while the
// process leads.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/C-NASIR/graphsync/internal/cluster"
	"github.com/C-NASIR/graphsync/internal/ctxlog"
	"github.com/C-NASIR/graphsync/internal/store"
	"github.com/C-NASIR/graphsync/internal/wire"
)

// BindError means the listening address could not be bound. It is fatal at
// startup.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string { return fmt.Sprintf("bind %s: %v", e.Addr, e.Err) }
func (e *BindError) Unwrap() error { return e.Err }

// RoleView exposes the role state the server reports to peers.
type RoleView interface {
	Role() cluster.Role
	Leader() string
}

type Options struct {
	// Timeout bounds reading the request and writing the response.
	Timeout      time.Duration
	MaxFrameSize int
}

type Server struct {
	addr  string
	store *store.Store
	node  cluster.Node
	roles RoleView
	opts  Options

	mu     sync.Mutex
	ln     net.Listener
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

func New(addr string, st *store.Store, node cluster.Node, roles RoleView, opts Options) *Server {
	if opts.Timeout <= 0 {
		opts.Timeout = wire.DefaultTimeout
	}
	if opts.MaxFrameSize <= 0 {
		opts.MaxFrameSize = wire.DefaultMaxFrameSize
	}
	return &Server{
		addr:  addr,
		store: st,
		node:  node,
		roles: roles,
		opts:  opts,
		conns: make(map[net.Conn]struct{}),
	}
}

// Listen binds the configured address.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return &BindError{Addr: s.addr, Err: err}
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve accepts connections until ctx is canceled or the listener is closed.
// Each connection is handled on its own goroutine.
func (s *Server) Serve(ctx context.Context) error {
	if s.Addr() == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()

	logger := ctxlog.FromContext(ctx)
	logger.Info("Request server listening.", "address", ln.Addr().String())
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	// In-flight handlers get the shutdown grace period instead of being cut
	// off the moment ctx is canceled.
	base := context.WithoutCancel(ctx)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				logger.Info("Request server stopped accepting.")
				return nil
			}
			logger.Warn("Accept failed.", "error", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		if !s.track(conn) {
			_ = conn.Close()
			continue
		}
		go s.handle(base, conn)
	}
}

// Shutdown closes the listener and waits for in-flight handlers. When ctx
// expires first, remaining connections are closed forcibly.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	if s.ln != nil {
		_ = s.ln.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	s.mu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()
	<-done
	return ctx.Err()
}

// track registers conn with the handler wait group. It refuses once
// Shutdown has started.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	_ = conn.Close()
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)

	ctx = ctxlog.With(ctx, "conn_id", uuid.NewString(), "remote_addr", conn.RemoteAddr().String())
	logger := ctxlog.FromContext(ctx)
	_ = conn.SetDeadline(time.Now().Add(s.opts.Timeout))

	body, err := wire.ReadFrame(conn, s.opts.MaxFrameSize)
	if err != nil {
		var perr *wire.ProtocolError
		switch {
		case errors.Is(err, io.EOF):
			// Health probes connect and close without sending anything.
			logger.Debug("Connection closed before a request.")
		case errors.As(err, &perr):
			logger.Warn("Malformed request frame.", "error", err)
			s.reply(ctx, conn, wire.ErrorResponse(wire.CodeProtocolError, perr.Error()))
			discardPending(conn)
		default:
			logger.Warn("Reading request failed.", "error", err)
		}
		return
	}

	s.reply(ctx, conn, s.dispatch(ctx, body))
}

// discardPending drains unread request bytes for a moment so closing the
// socket sends FIN rather than RST and the error reply is not lost.
func discardPending(conn net.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	_, _ = io.Copy(io.Discard, io.LimitReader(conn, 64<<10))
}

func (s *Server) dispatch(ctx context.Context, body []byte) wire.Response {
	logger := ctxlog.FromContext(ctx)
	req, err := wire.ParseRequest(body)
	if err != nil {
		logger.Warn("Rejected request.", "error", err)
		return wire.ErrorResponse(wire.CodeProtocolError, err.Error())
	}
	logger.Debug("Request received.", "command", req.Command)

	switch req.Command {
	case wire.CmdStoreText:
		out, err := s.node.Propose(ctx, cluster.AppendText(req.Text))
		if err != nil {
			return s.writeError(ctx, req, err)
		}
		n, _ := out.(int)
		return wire.Response{Status: wire.StatusTextStored, Length: n}

	case wire.CmdAddNode, wire.CmdAddEdge, wire.CmdRemoveEdge, wire.CmdRemoveNode:
		out, err := s.node.Propose(ctx, graphCommand(req))
		if err != nil {
			return s.writeError(ctx, req, err)
		}
		changed, ok := out.(bool)
		if !ok {
			changed = true
		}
		return wire.Response{Status: wire.StatusGraphUpdated, Changed: changed}

	case wire.CmdGetNode:
		neighbors, err := s.store.Neighbors(req.Node)
		if err != nil {
			return wire.Response{Status: wire.StatusNode, Node: req.Node}
		}
		return wire.Response{Status: wire.StatusNode, Node: req.Node, Found: true, Neighbors: neighbors}

	case wire.CmdGetState:
		return wire.Response{Status: wire.StatusState, State: s.store.Snapshot()}

	case wire.CmdWhoIsLeader:
		role := s.roles.Role()
		leader := s.roles.Leader()
		if role == cluster.RolePromoting {
			leader = ""
		}
		return wire.Response{Status: wire.StatusLeader, Leader: leader, Role: role.String()}
	}
	return wire.ErrorResponse(wire.CodeProtocolError, "unsupported command "+string(req.Command))
}

func graphCommand(req wire.Request) cluster.Command {
	switch req.Command {
	case wire.CmdAddNode:
		return cluster.AddNode(req.Node)
	case wire.CmdAddEdge:
		return cluster.AddEdge(req.Node, req.Peer)
	case wire.CmdRemoveEdge:
		return cluster.RemoveEdge(req.Node, req.Peer)
	default:
		return cluster.RemoveNode(req.Node)
	}
}

// writeError maps a rejected write to its wire error code.
func (s *Server) writeError(ctx context.Context, req wire.Request, err error) wire.Response {
	switch {
	case errors.Is(err, cluster.ErrNotLeader):
		return wire.ErrorResponse(wire.CodeNotLeader, err.Error())
	case errors.Is(err, store.ErrUnknownNode):
		return wire.ErrorResponse(wire.CodeUnknownNode, err.Error())
	case errors.Is(err, store.ErrEmptyNodeID),
		errors.Is(err, store.ErrInvalidNodeID),
		errors.Is(err, store.ErrSelfLoop),
		errors.Is(err, store.ErrInvalidText):
		return wire.ErrorResponse(wire.CodeInvalidArgument, err.Error())
	}
	ctxlog.FromContext(ctx).Error("Applying write failed.", "command", req.Command, "error", err)
	return wire.ErrorResponse(wire.CodeInternal, err.Error())
}

func (s *Server) reply(ctx context.Context, conn net.Conn, resp wire.Response) {
	logger := ctxlog.FromContext(ctx)
	b, err := resp.Marshal()
	if err != nil {
		logger.Error("Encoding response failed.", "status", resp.Status, "error", err)
		if b, err = wire.ErrorResponse(wire.CodeInternal, "response could not be encoded").Marshal(); err != nil {
			return
		}
	}
	if err := wire.WriteFrame(conn, b); err != nil {
		logger.Warn("Writing response failed.", "error", err)
	}
}
