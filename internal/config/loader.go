package config

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/C-NASIR/graphsync/internal/ctxlog"
)

// fileRoot mirrors the top-level blocks accepted in a node file.
type fileRoot struct {
	Node   *nodeBlock   `hcl:"node,block"`
	Timing *timingBlock `hcl:"timing,block"`
	Log    *logBlock    `hcl:"log,block"`
	Remain hcl.Body     `hcl:",remain"`
}

type nodeBlock struct {
	Addr       string   `hcl:"addr"`
	Role       *string  `hcl:"role,optional"`
	LeaderAddr *string  `hcl:"leader,optional"`
	Peers      []string `hcl:"peers,optional"`
}

type timingBlock struct {
	SyncInterval     *string `hcl:"sync_interval,optional"`
	ProbeInterval    *string `hcl:"probe_interval,optional"`
	FailureThreshold *int    `hcl:"failure_threshold,optional"`
	ConnTimeout      *string `hcl:"connect_timeout,optional"`
	ShutdownGrace    *string `hcl:"shutdown_grace,optional"`
	MaxFrameSize     *int    `hcl:"max_frame_size,optional"`
}

type logBlock struct {
	Level  *string `hcl:"level,optional"`
	Format *string `hcl:"format,optional"`
}

// LoadFile parses an HCL node file and layers it over Default. The result is
// validated before it is returned.
func LoadFile(ctx context.Context, path string) (Config, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Loading node config.", "path", path)

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return Config{}, fmt.Errorf("failed to parse HCL file %s: %w", path, diags)
	}
	return decode(file.Body, path)
}

// Parse is LoadFile for in-memory sources; filename is used in diagnostics.
func Parse(src []byte, filename string) (Config, error) {
	file, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return Config{}, fmt.Errorf("failed to parse HCL file %s: %w", filename, diags)
	}
	return decode(file.Body, filename)
}

func decode(body hcl.Body, filename string) (Config, error) {
	var root fileRoot
	if diags := gohcl.DecodeBody(body, nil, &root); diags.HasErrors() {
		return Config{}, fmt.Errorf("failed to decode HCL file %s: %w", filename, diags)
	}
	if root.Node == nil {
		return Config{}, fmt.Errorf("%s: missing node block", filename)
	}

	cfg := Default()
	cfg.Addr = root.Node.Addr
	setString(&cfg.Role, root.Node.Role)
	setString(&cfg.LeaderAddr, root.Node.LeaderAddr)
	cfg.Peers = root.Node.Peers

	if t := root.Timing; t != nil {
		for _, d := range []struct {
			name string
			src  *string
			dst  *time.Duration
		}{
			{"sync_interval", t.SyncInterval, &cfg.SyncInterval},
			{"probe_interval", t.ProbeInterval, &cfg.ProbeInterval},
			{"connect_timeout", t.ConnTimeout, &cfg.ConnTimeout},
			{"shutdown_grace", t.ShutdownGrace, &cfg.ShutdownGrace},
		} {
			if d.src == nil {
				continue
			}
			v, err := time.ParseDuration(*d.src)
			if err != nil {
				return Config{}, fmt.Errorf("%s: timing.%s: %w", filename, d.name, err)
			}
			*d.dst = v
		}
		if t.FailureThreshold != nil {
			cfg.FailureThreshold = *t.FailureThreshold
		}
		if t.MaxFrameSize != nil {
			cfg.MaxFrameSize = *t.MaxFrameSize
		}
	}

	if l := root.Log; l != nil {
		setString(&cfg.LogLevel, l.Level)
		setString(&cfg.LogFormat, l.Format)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: invalid config: %w", filename, err)
	}
	return cfg, nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
