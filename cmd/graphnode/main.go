package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/C-NASIR/graphsync/internal/app"
	"github.com/C-NASIR/graphsync/internal/config"
	"github.com/C-NASIR/graphsync/internal/ctxlog"
	"github.com/C-NASIR/graphsync/internal/wire"
)

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd(outW, logW io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "graphnode",
		Short:         "Replicated in-memory graph store node",
		Long:          `Runs a graph store process, or talks to a running one over the framed TCP protocol.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(outW)
	root.SetErr(logW)

	root.AddCommand(newServeCmd(logW))
	root.AddCommand(newStateCmd(outW), newLeaderCmd(outW), newStoreTextCmd(outW))
	root.AddCommand(newAddNodeCmd(outW), newAddEdgeCmd(outW), newRemoveEdgeCmd(outW), newRemoveNodeCmd(outW), newGetNodeCmd(outW))
	return root
}

func newServeCmd(logW io.Writer) *cobra.Command {
	var configPath, logLevel, logFormat string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a node until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := config.LoadFile(ctx, configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if cmd.Flags().Changed("log-format") {
				cfg.LogFormat = logFormat
			}

			logger := ctxlog.New(cfg.LogLevel, cfg.LogFormat, logW)
			node, err := app.New(cfg, logger)
			if err != nil {
				return err
			}
			return node.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "node.hcl", "path to the node HCL file")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	cmd.Flags().StringVar(&logFormat, "log-format", "text", "log format: text or json")
	return cmd
}

// clientFlags are shared by the one-shot client verbs.
type clientFlags struct {
	addr    string
	timeout time.Duration
}

func (f *clientFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.addr, "addr", "127.0.0.1:6666", "node address")
	cmd.Flags().DurationVar(&f.timeout, "timeout", wire.DefaultTimeout, "per-request timeout")
}

func (f *clientFlags) client() *wire.Client { return wire.NewClient(f.timeout, 0) }

// explain turns a NOT_LEADER rejection into a hint about where to write.
func (f *clientFlags) explain(err error) error {
	var rerr *wire.RemoteError
	if errors.As(err, &rerr) && rerr.Code == wire.CodeNotLeader {
		return fmt.Errorf("%s is not the leader: %s", f.addr, rerr.Message)
	}
	return err
}

func newStateCmd(outW io.Writer) *cobra.Command {
	var f clientFlags
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Print the node's graph and text log as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := f.client().GetState(cmd.Context(), f.addr)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(outW)
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		},
	}
	f.register(cmd)
	return cmd
}

func newLeaderCmd(outW io.Writer) *cobra.Command {
	var f clientFlags
	cmd := &cobra.Command{
		Use:   "leader",
		Short: "Ask a node which process leads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := f.client().WhoIsLeader(cmd.Context(), f.addr)
			if err != nil {
				return err
			}
			leader := info.Leader
			if leader == "" {
				leader = "(none)"
			}
			fmt.Fprintf(outW, "leader=%s role=%s\n", leader, info.Role)
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func newStoreTextCmd(outW io.Writer) *cobra.Command {
	var f clientFlags
	cmd := &cobra.Command{
		Use:   "store-text <text>",
		Short: "Append text to the leader's text log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := f.client().StoreText(cmd.Context(), f.addr, args[0])
			if err != nil {
				return f.explain(err)
			}
			fmt.Fprintf(outW, "stored, log length %d\n", n)
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func newAddNodeCmd(outW io.Writer) *cobra.Command {
	var f clientFlags
	cmd := &cobra.Command{
		Use:   "add-node <id>",
		Short: "Create a node on the leader",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := f.client().AddNode(cmd.Context(), f.addr, args[0]); err != nil {
				return f.explain(err)
			}
			fmt.Fprintf(outW, "node %q added\n", args[0])
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func newAddEdgeCmd(outW io.Writer) *cobra.Command {
	var f clientFlags
	cmd := &cobra.Command{
		Use:   "add-edge <a> <b>",
		Short: "Connect two existing nodes on the leader",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := f.client().AddEdge(cmd.Context(), f.addr, args[0], args[1]); err != nil {
				return f.explain(err)
			}
			fmt.Fprintf(outW, "edge %q-%q added\n", args[0], args[1])
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func newRemoveEdgeCmd(outW io.Writer) *cobra.Command {
	var f clientFlags
	cmd := &cobra.Command{
		Use:   "remove-edge <a> <b>",
		Short: "Disconnect two nodes on the leader",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			removed, err := f.client().RemoveEdge(cmd.Context(), f.addr, args[0], args[1])
			if err != nil {
				return f.explain(err)
			}
			if !removed {
				fmt.Fprintf(outW, "edge %q-%q not found\n", args[0], args[1])
				return nil
			}
			fmt.Fprintf(outW, "edge %q-%q removed\n", args[0], args[1])
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func newRemoveNodeCmd(outW io.Writer) *cobra.Command {
	var f clientFlags
	cmd := &cobra.Command{
		Use:   "remove-node <id>",
		Short: "Delete a node and its edges on the leader",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			removed, err := f.client().RemoveNode(cmd.Context(), f.addr, args[0])
			if err != nil {
				return f.explain(err)
			}
			if !removed {
				fmt.Fprintf(outW, "node %q not found\n", args[0])
				return nil
			}
			fmt.Fprintf(outW, "node %q removed\n", args[0])
			return nil
		},
	}
	f.register(cmd)
	return cmd
}

func newGetNodeCmd(outW io.Writer) *cobra.Command {
	var f clientFlags
	cmd := &cobra.Command{
		Use:   "get-node <id>",
		Short: "Look a node up and print its neighbors as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := f.client().GetNode(cmd.Context(), f.addr, args[0])
			if err != nil {
				return err
			}
			return json.NewEncoder(outW).Encode(info)
		},
	}
	f.register(cmd)
	return cmd
}
