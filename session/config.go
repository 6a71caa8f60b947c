// Copyright 2026 The Wrapix Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/taheris/wrapix/guest"
	"github.com/taheris/wrapix/lib/clock"
)

// Config holds configuration for creating a new Session.
type Config struct {
	// Workspace is the host directory shared into the guest at the
	// same absolute path.
	Workspace string

	// Image is the root filesystem image for the guest.
	Image string

	// Kernel is the kernel the monitor boots.
	Kernel string

	// KernelCmdline is an optional kernel command line override.
	KernelCmdline string

	// CPUs is the number of virtual CPUs.
	CPUs int

	// MemoryMiB is the guest memory size in MiB.
	MemoryMiB int

	// Command is the workload to run inside the guest.
	Command []string

	// Piped disables the interactive terminal: stdin, stdout, and
	// stderr are passed through to the monitor unchanged.
	Piped bool

	// DirMounts, FileMounts, and SocketMounts are mount requests in
	// host:guest form.
	DirMounts    []string
	FileMounts   []string
	SocketMounts []string

	// NetworkMode is "open" or "restricted". Empty means open.
	NetworkMode string

	// AllowedDomains is the egress allow-list consumed in restricted
	// mode.
	AllowedDomains []string

	// DNS optionally overrides the guest's resolvers. Useful with the
	// NAT attachment, whose built-in DNS forwarding is limited.
	DNS []string

	// MonitorPath is the resolved path to the VM monitor binary.
	MonitorPath string

	// BridgeHelperPath is the resolved path to the network bridge
	// helper. Empty selects the NAT attachment instead.
	BridgeHelperPath string

	// BridgeExtraArgs are appended to the bridge helper command line.
	BridgeExtraArgs []string

	// InstancesDir is the directory holding per-session instance
	// records.
	InstancesDir string

	// AuditLogPath is the append-only audit log file.
	AuditLogPath string

	// RunID correlates this session with an external run, if any. It
	// is recorded in the instance record and the audit record.
	RunID string

	// Logger for session operations. If nil, slog.Default() is used.
	Logger *slog.Logger

	// Clock drives audit timestamps and the monitor teardown grace.
	// If nil, the real clock is used.
	Clock clock.Clock
}

func (c *Config) validate() error {
	var errs []error

	if c.Workspace == "" {
		errs = append(errs, fmt.Errorf("workspace is required"))
	}
	if c.Image == "" {
		errs = append(errs, fmt.Errorf("image is required"))
	}
	if c.Kernel == "" {
		errs = append(errs, fmt.Errorf("kernel is required"))
	}
	if c.MonitorPath == "" {
		errs = append(errs, fmt.Errorf("monitor path is required"))
	}
	if c.InstancesDir == "" {
		errs = append(errs, fmt.Errorf("instances directory is required"))
	}
	if c.AuditLogPath == "" {
		errs = append(errs, fmt.Errorf("audit log path is required"))
	}
	if len(c.Command) == 0 {
		errs = append(errs, fmt.Errorf("command is required"))
	}
	if c.CPUs < 1 {
		errs = append(errs, fmt.Errorf("cpus must be at least 1, got %d", c.CPUs))
	}
	if c.MemoryMiB < 128 {
		errs = append(errs, fmt.Errorf("memory must be at least 128 MiB, got %d", c.MemoryMiB))
	}
	switch c.NetworkMode {
	case "", guest.NetModeOpen, guest.NetModeRestricted:
	default:
		errs = append(errs, fmt.Errorf("network mode %q is not %q or %q",
			c.NetworkMode, guest.NetModeOpen, guest.NetModeRestricted))
	}
	for _, domain := range c.AllowedDomains {
		if domain == "" || strings.ContainsAny(domain, ", ") {
			errs = append(errs, fmt.Errorf("invalid allowed domain %q", domain))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
