// Package config holds the plain configuration value consumed by a graph store
// process, plus an HCL loader used by the command-line bootstrap.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"
)

// Config holds process-level settings used for wiring the service.
type Config struct {
	// Addr is both the bind address and the identity advertised to peers.
	Addr       string
	Role       string // "leader" or "follower"
	LeaderAddr string
	Peers      []string

	SyncInterval     time.Duration
	ProbeInterval    time.Duration
	FailureThreshold int
	ConnTimeout      time.Duration
	ShutdownGrace    time.Duration
	MaxFrameSize     int

	LogLevel  string
	LogFormat string
}

// Default returns a Config with the stock intervals and timeouts.
func Default() Config {
	return Config{
		Role:             "follower",
		SyncInterval:     60 * time.Second,
		ProbeInterval:    10 * time.Second,
		FailureThreshold: 1,
		ConnTimeout:      3 * time.Second,
		ShutdownGrace:    5 * time.Second,
		MaxFrameSize:     64 << 20,
		LogLevel:         "info",
		LogFormat:        "text",
	}
}

// Validate reports every problem found, joined into one error.
func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr is required"))
	} else if err := checkAdvertisable(c.Addr); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Role) {
	case "leader":
	case "follower":
		if c.LeaderAddr == "" {
			errs = append(errs, errors.New("leader address is required for a follower"))
		}
	default:
		errs = append(errs, fmt.Errorf("role must be 'leader' or 'follower', got %q", c.Role))
	}
	for name, d := range map[string]time.Duration{
		"sync_interval":   c.SyncInterval,
		"probe_interval":  c.ProbeInterval,
		"connect_timeout": c.ConnTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.FailureThreshold < 1 {
		errs = append(errs, fmt.Errorf("failure_threshold must be at least 1, got %d", c.FailureThreshold))
	}
	if c.ShutdownGrace < 0 {
		errs = append(errs, fmt.Errorf("shutdown_grace cannot be negative, got %s", c.ShutdownGrace))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log level must be 'debug', 'info', 'warn', or 'error', got %q", c.LogLevel))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log format must be 'text' or 'json', got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// checkAdvertisable rejects addresses peers cannot dial back. Addr doubles as
// the identity compared during promotion, so a wildcard host is not allowed.
func checkAdvertisable(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("addr %q: %w", addr, err)
	}
	if host == "" {
		return fmt.Errorf("addr %q has no host; peers need a reachable address", addr)
	}
	if ip, err := netip.ParseAddr(host); err == nil && ip.IsUnspecified() {
		return fmt.Errorf("addr %q is a wildcard; peers need a reachable address", addr)
	}
	return nil
}
