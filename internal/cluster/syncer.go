package cluster

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/C-NASIR/graphsync/internal/ctxlog"
	"github.com/C-NASIR/graphsync/internal/store"
)

var errNoLeader = errors.New("no known leader")

// Syncer keeps a follower's store equal to the leader's by pulling the full
// snapshot every interval. A failed pull leaves the local store untouched.
type Syncer struct {
	store    *store.Store
	tr       Transport
	leader   func() string
	interval time.Duration

	mu       sync.Mutex
	lastSync time.Time
}

func NewSyncer(st *store.Store, tr Transport, leader func() string, interval time.Duration) *Syncer {
	return &Syncer{store: st, tr: tr, leader: leader, interval: interval}
}

// Run pulls once immediately and then on every tick until ctx is canceled.
func (s *Syncer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	_ = s.SyncOnce(ctx)
	for {
		select {
		case <-ticker.C:
			_ = s.SyncOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// SyncOnce performs a single pull-and-replace.
func (s *Syncer) SyncOnce(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	addr := s.leader()
	if addr == "" {
		logger.Warn("Sync skipped, no known leader.")
		return errNoLeader
	}

	snap, err := s.tr.GetState(ctx, addr)
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn("Sync pull failed, keeping local state.", "leader", addr, "error", err)
		}
		return err
	}
	if err := s.store.ReplaceSnapshot(snap); err != nil {
		logger.Warn("Leader sent an invalid snapshot, keeping local state.", "leader", addr, "error", err)
		return err
	}

	s.mu.Lock()
	s.lastSync = time.Now()
	s.mu.Unlock()

	st := s.store.Stats()
	logger.Debug("Snapshot installed.", "leader", addr, "nodes", st.Nodes, "edges", st.Edges, "text_entries", st.TextEntries)
	return nil
}

// LastSync returns the time of the last successful pull, zero if none.
func (s *Syncer) LastSync() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSync
}
