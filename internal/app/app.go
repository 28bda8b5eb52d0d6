// Package app assembles one graph store process: store, role manager, write
// path and request server, all driven by a single cancellable context.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/C-NASIR/graphsync/internal/cluster"
	"github.com/C-NASIR/graphsync/internal/config"
	"github.com/C-NASIR/graphsync/internal/ctxlog"
	"github.com/C-NASIR/graphsync/internal/server"
	"github.com/C-NASIR/graphsync/internal/store"
	"github.com/C-NASIR/graphsync/internal/wire"
)

// App encapsulates the process dependencies and lifecycle.
type App struct {
	cfg     config.Config
	logger  *slog.Logger
	store   *store.Store
	client  *wire.Client
	manager *cluster.Manager
	node    *cluster.LocalNode
	srv     *server.Server
}

// New validates cfg and wires the components. Nothing is started.
func New(cfg config.Config, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	role, err := cluster.ParseRole(cfg.Role)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	st := store.NewStore()
	client := wire.NewClient(cfg.ConnTimeout, cfg.MaxFrameSize)
	mgr := cluster.NewManager(cluster.ManagerConfig{
		Self:             cfg.Addr,
		InitialRole:      role,
		LeaderAddr:       cfg.LeaderAddr,
		Peers:            cfg.Peers,
		SyncInterval:     cfg.SyncInterval,
		ProbeInterval:    cfg.ProbeInterval,
		FailureThreshold: cfg.FailureThreshold,
	}, st, client)
	node := cluster.NewLocalNode(cluster.NewGraphFSM(st), mgr)
	srv := server.New(cfg.Addr, st, node, mgr, server.Options{
		Timeout:      cfg.ConnTimeout,
		MaxFrameSize: cfg.MaxFrameSize,
	})

	return &App{
		cfg:     cfg,
		logger:  logger,
		store:   st,
		client:  client,
		manager: mgr,
		node:    node,
		srv:     srv,
	}, nil
}

// Store returns the local graph store.
func (a *App) Store() *store.Store { return a.store }

// Manager returns the role manager. This is primarily for testing.
func (a *App) Manager() *cluster.Manager { return a.manager }

// Node returns the write path used by local callers.
func (a *App) Node() cluster.Node { return a.node }

// Addr returns the bound listener address once Run has bound it.
func (a *App) Addr() net.Addr { return a.srv.Addr() }

// Run binds the listener and serves until ctx is canceled. A bind failure is
// returned immediately as *server.BindError. On cancellation in-flight
// requests get ShutdownGrace to finish.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger.With("instance_id", uuid.NewString()))
	logger := ctxlog.FromContext(ctx)

	if err := a.srv.Listen(); err != nil {
		logger.Error("Could not bind listening address.", "address", a.cfg.Addr, "error", err)
		return err
	}
	logger.Info("Node starting.", "address", a.cfg.Addr, "role", a.cfg.Role, "leader", a.cfg.LeaderAddr, "peers", len(a.cfg.Peers))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.srv.Serve(gctx) })
	g.Go(func() error { return a.manager.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), a.cfg.ShutdownGrace)
		defer cancel()
		if err := a.srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Shutdown grace period expired; connections closed.", "error", err)
		}
		return nil
	})

	err := g.Wait()
	logger.Info("Node stopped.", "role", a.manager.Role())
	return err
}
