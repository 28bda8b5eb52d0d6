package cluster

import (
	"context"
	"errors"
	"sync"

	"github.com/C-NASIR/graphsync/internal/ctxlog"
	"github.com/C-NASIR/graphsync/internal/store"
	"github.com/C-NASIR/graphsync/internal/wire"
)

var errUnreachable = errors.New("connection refused")

// fakeTransport simulates a set of peers by address.
type fakeTransport struct {
	mu      sync.Mutex
	up      map[string]bool
	leaders map[string]wire.LeaderInfo
	states  map[string]store.Snapshot
	pulls   int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		up:      make(map[string]bool),
		leaders: make(map[string]wire.LeaderInfo),
		states:  make(map[string]store.Snapshot),
	}
}

func (f *fakeTransport) setUp(addr string, up bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.up[addr] = up
}

func (f *fakeTransport) setLeader(addr, leader, role string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaders[addr] = wire.LeaderInfo{Leader: leader, Role: role}
}

func (f *fakeTransport) setState(addr string, snap store.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[addr] = snap
}

func (f *fakeTransport) pullCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pulls
}

func (f *fakeTransport) Probe(ctx context.Context, addr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.up[addr] {
		return &wire.ConnectionError{Addr: addr, Op: "dial", Err: errUnreachable}
	}
	return nil
}

func (f *fakeTransport) WhoIsLeader(ctx context.Context, addr string) (wire.LeaderInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.up[addr] {
		return wire.LeaderInfo{}, &wire.ConnectionError{Addr: addr, Op: "dial", Err: errUnreachable}
	}
	return f.leaders[addr], nil
}

func (f *fakeTransport) GetState(ctx context.Context, addr string) (store.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulls++
	if !f.up[addr] {
		return store.Snapshot{}, &wire.ConnectionError{Addr: addr, Op: "dial", Err: errUnreachable}
	}
	snap, ok := f.states[addr]
	if !ok {
		return store.Snapshot{}, &wire.ProtocolError{Reason: "no state configured"}
	}
	return snap, nil
}

func quietContext() context.Context {
	return ctxlog.WithLogger(context.Background(), ctxlog.Discard())
}
