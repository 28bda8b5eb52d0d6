package cluster

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/C-NASIR/graphsync/internal/ctxlog"
	"github.com/C-NASIR/graphsync/internal/store"
	"github.com/C-NASIR/graphsync/internal/wire"
)

// Transport is what the manager and syncer need from the network.
// *wire.Client implements it.
type Transport interface {
	Probe(ctx context.Context, addr string) error
	WhoIsLeader(ctx context.Context, addr string) (wire.LeaderInfo, error)
	GetState(ctx context.Context, addr string) (store.Snapshot, error)
}

type ManagerConfig struct {
	Self             string
	InitialRole      Role
	LeaderAddr       string
	Peers            []string
	SyncInterval     time.Duration
	ProbeInterval    time.Duration
	FailureThreshold int
}

// Manager owns the role state machine. A single health loop probes the
// leader while following, runs peer discovery while promoting, and starts or
// stops the Syncer on every transition.
type Manager struct {
	cfg    ManagerConfig
	tr     Transport
	syncer *Syncer

	mu       sync.Mutex
	role     Role
	leader   string
	failures int

	// owned by the health loop goroutine
	syncCancel context.CancelFunc
	syncDone   chan struct{}
}

func NewManager(cfg ManagerConfig, st *store.Store, tr Transport) *Manager {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 1
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 10 * time.Second
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = 60 * time.Second
	}
	m := &Manager{
		cfg:    cfg,
		tr:     tr,
		role:   cfg.InitialRole,
		leader: cfg.LeaderAddr,
	}
	if m.role == RoleLeader {
		m.leader = cfg.Self
	}
	m.syncer = NewSyncer(st, tr, m.Leader, cfg.SyncInterval)
	return m
}

func (m *Manager) Role() Role {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.role
}

// Leader returns the leader address this process currently follows, or its
// own address when leading.
func (m *Manager) Leader() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leader
}

func (m *Manager) IsLeader() bool {
	return m.Role() == RoleLeader
}

// Run drives the health loop until ctx is canceled. The syncer is stopped
// before Run returns.
func (m *Manager) Run(ctx context.Context) error {
	ctx = ctxlog.With(ctx, "self", m.cfg.Self)
	logger := ctxlog.FromContext(ctx)
	logger.Info("Role manager started.", "role", m.Role(), "leader", m.Leader())

	if m.Role() == RoleFollower {
		m.startSync(ctx)
	}
	defer m.stopSync()

	ticker := time.NewTicker(m.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.tick(ctx)
		case <-ctx.Done():
			logger.Info("Role manager stopped.", "role", m.Role())
			return nil
		}
	}
}

func (m *Manager) tick(ctx context.Context) {
	switch m.Role() {
	case RoleFollower:
		m.checkLeader(ctx)
	case RolePromoting:
		m.promote(ctx)
	}
}

func (m *Manager) checkLeader(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)
	leader := m.Leader()
	err := m.tr.Probe(ctx, leader)

	m.mu.Lock()
	if err == nil {
		m.failures = 0
		m.mu.Unlock()
		return
	}
	m.failures++
	failures := m.failures
	m.mu.Unlock()

	if ctx.Err() != nil {
		return
	}
	logger.Warn("Leader probe failed.", "leader", leader, "failures", failures, "threshold", m.cfg.FailureThreshold, "error", err)
	if failures < m.cfg.FailureThreshold {
		return
	}

	m.stopSync()
	m.setRole(ctx, RolePromoting, leader)
	m.promote(ctx)
}

// promote asks every peer who leads. A reported leader that answers a probe
// is adopted. Otherwise the reachable process with the smallest address takes
// over; everyone else stays promoting and polls again on the next tick.
func (m *Manager) promote(ctx context.Context) {
	logger := ctxlog.FromContext(ctx)
	reachable := []string{m.cfg.Self}

	for _, peer := range m.cfg.Peers {
		if peer == m.cfg.Self {
			continue
		}
		info, err := m.tr.WhoIsLeader(ctx, peer)
		if err != nil {
			logger.Debug("Peer did not answer WHO_IS_LEADER.", "peer", peer, "error", err)
			continue
		}
		reachable = append(reachable, peer)

		candidate := info.Leader
		if candidate == "" || candidate == m.cfg.Self {
			continue
		}
		if err := m.tr.Probe(ctx, candidate); err != nil {
			logger.Debug("Reported leader is unreachable.", "peer", peer, "leader", candidate)
			continue
		}
		m.follow(ctx, candidate)
		return
	}
	if ctx.Err() != nil {
		return
	}

	winner := lowestAddr(reachable)
	if winner != m.cfg.Self {
		logger.Info("Waiting for peer to take over.", "candidate", winner, "reachable", len(reachable))
		return
	}
	m.becomeLeader(ctx)
}

func (m *Manager) follow(ctx context.Context, leader string) {
	m.setRole(ctx, RoleFollower, leader)
	m.startSync(ctx)
}

func (m *Manager) becomeLeader(ctx context.Context) {
	// The syncer must be gone before the role flips so no pull can overwrite
	// writes accepted as leader.
	m.stopSync()
	m.setRole(ctx, RoleLeader, m.cfg.Self)
}

func (m *Manager) setRole(ctx context.Context, role Role, leader string) {
	m.mu.Lock()
	from := m.role
	m.role = role
	m.leader = leader
	m.failures = 0
	m.mu.Unlock()

	ctxlog.FromContext(ctx).Info("Role changed.", "from", from, "to", role, "leader", leader)
}

func (m *Manager) startSync(ctx context.Context) {
	if m.syncCancel != nil {
		return
	}
	syncCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.syncCancel = cancel
	m.syncDone = done
	go func() {
		defer close(done)
		m.syncer.Run(syncCtx)
	}()
}

func (m *Manager) stopSync() {
	if m.syncCancel == nil {
		return
	}
	m.syncCancel()
	<-m.syncDone
	m.syncCancel = nil
	m.syncDone = nil
}

// AwaitRole blocks until the manager reaches role or ctx is done.
func (m *Manager) AwaitRole(ctx context.Context, role Role) error {
	t := time.NewTicker(20 * time.Millisecond)
	defer t.Stop()
	for {
		if m.Role() == role {
			return nil
		}
		select {
		case <-t.C:
		case <-ctx.Done():
			return errors.New("role " + role.String() + " not reached: " + ctx.Err().Error())
		}
	}
}

func lowestAddr(addrs []string) string {
	low := addrs[0]
	for _, a := range addrs[1:] {
		if a < low {
			low = a
		}
	}
	return low
}
