package server

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/C-NASIR/graphsync/internal/cluster"
	"github.com/C-NASIR/graphsync/internal/ctxlog"
	"github.com/C-NASIR/graphsync/internal/store"
	"github.com/C-NASIR/graphsync/internal/wire"
)

type fakeRoles struct {
	mu     sync.Mutex
	role   cluster.Role
	leader string
}

func (f *fakeRoles) Role() cluster.Role {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.role
}

func (f *fakeRoles) Leader() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.leader
}

func (f *fakeRoles) IsLeader() bool { return f.Role() == cluster.RoleLeader }

type harness struct {
	addr   string
	store  *store.Store
	roles  *fakeRoles
	srv    *Server
	client *wire.Client
}

func startServer(t *testing.T, role cluster.Role, leader string) *harness {
	t.Helper()
	st := store.NewStore()
	roles := &fakeRoles{role: role, leader: leader}
	node := cluster.NewLocalNode(cluster.NewGraphFSM(st), roles)
	srv := New("127.0.0.1:0", st, node, roles, Options{Timeout: time.Second})
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(ctxlog.WithLogger(context.Background(), ctxlog.Discard()))
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		shutdownCtx, c := context.WithTimeout(context.Background(), time.Second)
		defer c()
		_ = srv.Shutdown(shutdownCtx)
		<-done
	})

	return &harness{
		addr:   srv.Addr().String(),
		store:  st,
		roles:  roles,
		srv:    srv,
		client: wire.NewClient(time.Second, 0),
	}
}

func TestGetStateReturnsFullSnapshot(t *testing.T) {
	h := startServer(t, cluster.RoleLeader, "")
	h.store.AppendText("hello")

	snap, err := h.client.GetState(context.Background(), h.addr)
	require.NoError(t, err)

	want := store.Snapshot{Adjacency: map[string][]string{}, TextLog: []string{"hello"}}
	if diff := cmp.Diff(want, snap, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("GET_STATE mismatch (-want +got):\n%s", diff)
	}

	follower := store.NewStore()
	require.NoError(t, follower.ReplaceSnapshot(snap))
	assert.Equal(t, []string{"hello"}, follower.Snapshot().TextLog)
}

func TestStoreTextOnLeader(t *testing.T) {
	h := startServer(t, cluster.RoleLeader, "")
	ctx := context.Background()

	n, err := h.client.StoreText(ctx, h.addr, "first")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = h.client.StoreText(ctx, h.addr, "second: with colon")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, []string{"first", "second: with colon"}, h.store.Snapshot().TextLog)
}

func TestStoreTextOnFollowerIsRejected(t *testing.T) {
	h := startServer(t, cluster.RoleFollower, "10.0.5.201:6666")

	_, err := h.client.StoreText(context.Background(), h.addr, "nope")
	var rerr *wire.RemoteError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, wire.CodeNotLeader, rerr.Code)
	assert.Contains(t, rerr.Message, "10.0.5.201:6666")
	assert.Empty(t, h.store.Snapshot().TextLog)
}

func TestFollowerAnswersReads(t *testing.T) {
	h := startServer(t, cluster.RoleFollower, "10.0.5.201:6666")
	h.store.AddNode("a")

	info, err := h.client.WhoIsLeader(context.Background(), h.addr)
	require.NoError(t, err)
	assert.Equal(t, wire.LeaderInfo{Leader: "10.0.5.201:6666", Role: "follower"}, info)

	snap, err := h.client.GetState(context.Background(), h.addr)
	require.NoError(t, err)
	assert.Contains(t, snap.Adjacency, "a")
}

func TestPromotingReportsNoLeader(t *testing.T) {
	h := startServer(t, cluster.RolePromoting, "10.0.5.201:6666")

	info, err := h.client.WhoIsLeader(context.Background(), h.addr)
	require.NoError(t, err)
	assert.Empty(t, info.Leader)
	assert.Equal(t, "promoting", info.Role)
}

// rawExchange writes payload as-is and half-closes the connection so the
// server sees EOF after the bytes it was sent.
func rawExchange(t *testing.T, addr string, payload []byte) wire.Response {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(time.Second)))

	_, err = conn.Write(payload)
	require.NoError(t, err)
	require.NoError(t, conn.(*net.TCPConn).CloseWrite())

	body, err := wire.ReadFrame(conn, 0)
	require.NoError(t, err)
	resp, err := wire.UnmarshalResponse(body)
	require.NoError(t, err)
	return resp
}

func TestMalformedRequestDoesNotStallServer(t *testing.T) {
	h := startServer(t, cluster.RoleLeader, "")

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len("GET_GRAPH")))
	cases := map[string][]byte{
		"unknown command": append(header[:], []byte("GET_GRAPH")...),
		"unframed legacy": []byte("GET_GRAPH"),
		"truncated frame": {0, 0, 0, 9, 'G', 'E'},
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			resp := rawExchange(t, h.addr, payload)
			assert.Equal(t, wire.StatusError, resp.Status)
			assert.Equal(t, wire.CodeProtocolError, resp.Code)

			info, err := h.client.WhoIsLeader(context.Background(), h.addr)
			require.NoError(t, err, "next connection must be served normally")
			assert.Equal(t, "leader", info.Role)
		})
	}
}

func TestSlowClientDoesNotBlockOthers(t *testing.T) {
	h := startServer(t, cluster.RoleLeader, "")

	idle, err := net.Dial("tcp", h.addr)
	require.NoError(t, err)
	defer idle.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_, err = h.client.GetState(ctx, h.addr)
	require.NoError(t, err)
}

func TestProbeIsAnsweredSilently(t *testing.T) {
	h := startServer(t, cluster.RoleLeader, "")
	require.NoError(t, h.client.Probe(context.Background(), h.addr))

	_, err := h.client.GetState(context.Background(), h.addr)
	require.NoError(t, err)
}

func TestBindError(t *testing.T) {
	h := startServer(t, cluster.RoleLeader, "")

	other := New(h.addr, store.NewStore(), nil, h.roles, Options{})
	err := other.Listen()
	var berr *BindError
	require.ErrorAs(t, err, &berr)
	assert.Equal(t, h.addr, berr.Addr)
}

func TestShutdownStopsAccepting(t *testing.T) {
	st := store.NewStore()
	roles := &fakeRoles{role: cluster.RoleLeader}
	srv := New("127.0.0.1:0", st, cluster.NewLocalNode(cluster.NewGraphFSM(st), roles), roles, Options{})
	require.NoError(t, srv.Listen())
	addr := srv.Addr().String()

	ctx, cancel := context.WithCancel(ctxlog.WithLogger(context.Background(), ctxlog.Discard()))
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	// Hold a connection open so Shutdown has to force it closed.
	idle, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer idle.Close()
	time.Sleep(20 * time.Millisecond)

	cancel()
	shutdownCtx, c := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer c()
	err = srv.Shutdown(shutdownCtx)
	assert.True(t, err == nil || errors.Is(err, context.DeadlineExceeded))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after shutdown")
	}

	_, err = wire.NewClient(200*time.Millisecond, 0).GetState(context.Background(), addr)
	var cerr *wire.ConnectionError
	assert.ErrorAs(t, err, &cerr)
}

func TestGraphCommandsOnLeader(t *testing.T) {
	h := startServer(t, cluster.RoleLeader, "")
	ctx := context.Background()

	require.NoError(t, h.client.AddNode(ctx, h.addr, "alice"))
	require.NoError(t, h.client.AddNode(ctx, h.addr, "bob"))
	require.NoError(t, h.client.AddNode(ctx, h.addr, "carol"))
	require.NoError(t, h.client.AddEdge(ctx, h.addr, "alice", "bob"))
	require.NoError(t, h.client.AddEdge(ctx, h.addr, "alice", "carol"))

	info, err := h.client.GetNode(ctx, h.addr, "alice")
	require.NoError(t, err)
	assert.Equal(t, wire.NodeInfo{ID: "alice", Found: true, Neighbors: []string{"bob", "carol"}}, info)

	removed, err := h.client.RemoveEdge(ctx, h.addr, "alice", "bob")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = h.client.RemoveEdge(ctx, h.addr, "alice", "bob")
	require.NoError(t, err)
	assert.False(t, removed, "second removal finds nothing")

	removed, err = h.client.RemoveNode(ctx, h.addr, "carol")
	require.NoError(t, err)
	assert.True(t, removed)

	want := map[string][]string{"alice": {}, "bob": {}}
	if diff := cmp.Diff(want, h.store.Snapshot().Adjacency, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("adjacency mismatch (-want +got):\n%s", diff)
	}
}

func TestGetNodeMissing(t *testing.T) {
	h := startServer(t, cluster.RoleFollower, "10.0.5.201:6666")

	info, err := h.client.GetNode(context.Background(), h.addr, "ghost")
	require.NoError(t, err)
	assert.False(t, info.Found)
	assert.Empty(t, info.Neighbors)
}

func TestGraphWriteErrorsMapToCodes(t *testing.T) {
	h := startServer(t, cluster.RoleLeader, "")
	ctx := context.Background()
	require.NoError(t, h.client.AddNode(ctx, h.addr, "a"))

	tests := map[string]struct {
		call func() error
		code string
	}{
		"edge to unknown node": {func() error { return h.client.AddEdge(ctx, h.addr, "a", "ghost") }, wire.CodeUnknownNode},
		"self-loop":            {func() error { return h.client.AddEdge(ctx, h.addr, "a", "a") }, wire.CodeInvalidArgument},
		"empty id":             {func() error { return h.client.AddNode(ctx, h.addr, "") }, wire.CodeInvalidArgument},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			var rerr *wire.RemoteError
			require.ErrorAs(t, tt.call(), &rerr)
			assert.Equal(t, tt.code, rerr.Code)
		})
	}
	assert.Equal(t, store.Stats{Nodes: 1}, h.store.Stats())
}

func TestGraphWritesOnFollowerAreRejected(t *testing.T) {
	h := startServer(t, cluster.RoleFollower, "10.0.5.201:6666")

	err := h.client.AddNode(context.Background(), h.addr, "a")
	var rerr *wire.RemoteError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, wire.CodeNotLeader, rerr.Code)
	assert.False(t, h.store.HasNode("a"))
}
