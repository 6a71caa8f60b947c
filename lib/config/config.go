// Copyright 2026 The Wrapix Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for wrapix.
//
// Configuration is loaded from a single file specified by:
//   - WRAPIX_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. This ensures deterministic,
// auditable configuration with no hidden overrides.
//
// The config file may contain environment-specific sections (development,
// staging, production) that override base values when the environment matches.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the master configuration for wrapix.
type Config struct {
	// Environment identifies the deployment type (development, staging, production).
	Environment Environment `yaml:"environment"`

	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths"`

	// VM configures the virtual machine monitor.
	VM VMConfig `yaml:"vm"`

	// Bridge configures the userspace network bridge helper.
	Bridge BridgeConfig `yaml:"bridge"`

	// Session configures per-session defaults.
	Session SessionConfig `yaml:"session"`

	// EnvironmentOverrides contains per-environment overrides.
	// These are applied after the base config is loaded.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains fields that can be overridden per environment.
type ConfigOverrides struct {
	Paths   *PathsConfig   `yaml:"paths,omitempty"`
	VM      *VMConfig      `yaml:"vm,omitempty"`
	Bridge  *BridgeConfig  `yaml:"bridge,omitempty"`
	Session *SessionConfig `yaml:"session,omitempty"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// Root is the base directory for wrapix data.
	Root string `yaml:"root"`

	// Bin is where wrapix helper binaries are installed.
	// This provides hermetic binary paths independent of user PATH.
	// Contains the VM monitor and bridge helper when installed locally.
	Bin string `yaml:"bin"`

	// Instances is where per-session instance records live. One
	// subdirectory per active session; removed on session deletion.
	Instances string `yaml:"instances"`

	// AuditLog is the append-only session audit log file.
	AuditLog string `yaml:"audit_log"`
}

// VMConfig configures the virtual machine monitor.
type VMConfig struct {
	// Monitor is the VM monitor binary (vfkit-compatible flag surface).
	// A bare name is resolved via Paths.Bin then PATH.
	// Default: vfkit
	Monitor string `yaml:"monitor"`

	// Image is the default root disk image attached as virtio-blk.
	Image string `yaml:"image"`

	// Kernel is an optional kernel to boot directly instead of the
	// image's bootloader.
	Kernel string `yaml:"kernel"`

	// KernelCmdline is the kernel command line, used only with Kernel.
	KernelCmdline string `yaml:"kernel_cmdline"`

	// CPUs is the default virtual CPU count.
	// Default: 4
	CPUs int `yaml:"cpus"`

	// MemoryMiB is the default guest memory in MiB.
	// Default: 4096
	MemoryMiB int `yaml:"memory_mib"`

	// NATDNS lists resolver IPs written to the guest's resolv.conf.
	// Empty leaves the guest resolver state untouched. Only meaningful
	// in NAT mode, where the monitor's built-in stack does not expose a
	// resolver address the guest can discover on its own.
	NATDNS []string `yaml:"nat_dns"`
}

// BridgeConfig configures the userspace network bridge helper.
type BridgeConfig struct {
	// Helper is the bridge helper binary (gvproxy-compatible). Empty
	// means no bridge: sessions fall back to the monitor's NAT device.
	// A bare name is resolved via Paths.Bin then PATH.
	Helper string `yaml:"helper"`

	// ExtraArgs are appended to the helper command line after the
	// socket listen flags.
	ExtraArgs []string `yaml:"extra_args"`
}

// SessionConfig configures per-session defaults. Command-line flags
// override these per invocation.
type SessionConfig struct {
	// DefaultCommand is the workload started when none is given.
	// Default: /bin/bash
	DefaultCommand string `yaml:"default_command"`

	// NetworkMode selects egress filtering: "open" or "restricted".
	// Default: open (development), restricted (production)
	NetworkMode string `yaml:"network_mode"`

	// AllowedDomains is the egress allow-list applied in restricted
	// mode. Ignored in open mode.
	AllowedDomains []string `yaml:"allowed_domains"`

	// DirMounts, FileMounts, and SocketMounts are host:guest mount
	// requests applied to every session before per-invocation flags.
	DirMounts    []string `yaml:"dir_mounts"`
	FileMounts   []string `yaml:"file_mounts"`
	SocketMounts []string `yaml:"socket_mounts"`
}

// Default returns the default configuration.
// These defaults are used as a base before loading the config file.
// They exist primarily to ensure all fields have sensible zero-values,
// not as a fallback - the config file is required.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".cache", "wrapix")

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:      defaultRoot,
			Bin:       filepath.Join(defaultRoot, "bin"),
			Instances: filepath.Join(defaultRoot, "instances"),
			AuditLog:  filepath.Join(defaultRoot, "audit.log"),
		},
		VM: VMConfig{
			Monitor:   "vfkit",
			CPUs:      4,
			MemoryMiB: 4096,
		},
		Bridge: BridgeConfig{},
		Session: SessionConfig{
			DefaultCommand: "/bin/bash",
			NetworkMode:    "open",
		},
	}
}

// Load loads configuration from the WRAPIX_CONFIG environment variable.
//
// This is the only way to load configuration without an explicit path.
// There are no fallbacks or defaults - if WRAPIX_CONFIG is not set, this fails.
// This ensures deterministic, auditable configuration with no hidden overrides.
func Load() (*Config, error) {
	configPath := os.Getenv("WRAPIX_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("WRAPIX_CONFIG environment variable not set; " +
			"set it to the path of your wrapix.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables do not
// override config values - this ensures deterministic, auditable configuration.
// The only expansion performed is ${HOME} and similar path variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if err := cfg.loadFile(path); err != nil {
		return nil, err
	}

	// Apply environment-specific overrides (development/staging/production sections in the file).
	cfg.applyEnvironmentOverrides()

	// Expand ${HOME} and similar variables in paths for portability.
	cfg.expandVariables()

	return cfg, nil
}

// loadFile loads a single configuration file, merging into the current config.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, c)
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		// Production defaults: restricted egress unless the file says otherwise.
		if overrides == nil {
			overrides = &ConfigOverrides{
				Session: &SessionConfig{
					NetworkMode: "restricted",
				},
			}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Paths != nil {
		if overrides.Paths.Root != "" {
			c.Paths.Root = overrides.Paths.Root
		}
		if overrides.Paths.Bin != "" {
			c.Paths.Bin = overrides.Paths.Bin
		}
		if overrides.Paths.Instances != "" {
			c.Paths.Instances = overrides.Paths.Instances
		}
		if overrides.Paths.AuditLog != "" {
			c.Paths.AuditLog = overrides.Paths.AuditLog
		}
	}

	if overrides.VM != nil {
		if overrides.VM.Monitor != "" {
			c.VM.Monitor = overrides.VM.Monitor
		}
		if overrides.VM.Image != "" {
			c.VM.Image = overrides.VM.Image
		}
		if overrides.VM.Kernel != "" {
			c.VM.Kernel = overrides.VM.Kernel
		}
		if overrides.VM.KernelCmdline != "" {
			c.VM.KernelCmdline = overrides.VM.KernelCmdline
		}
		if overrides.VM.CPUs != 0 {
			c.VM.CPUs = overrides.VM.CPUs
		}
		if overrides.VM.MemoryMiB != 0 {
			c.VM.MemoryMiB = overrides.VM.MemoryMiB
		}
		if overrides.VM.NATDNS != nil {
			c.VM.NATDNS = overrides.VM.NATDNS
		}
	}

	if overrides.Bridge != nil {
		if overrides.Bridge.Helper != "" {
			c.Bridge.Helper = overrides.Bridge.Helper
		}
		if overrides.Bridge.ExtraArgs != nil {
			c.Bridge.ExtraArgs = overrides.Bridge.ExtraArgs
		}
	}

	if overrides.Session != nil {
		if overrides.Session.DefaultCommand != "" {
			c.Session.DefaultCommand = overrides.Session.DefaultCommand
		}
		if overrides.Session.NetworkMode != "" {
			c.Session.NetworkMode = overrides.Session.NetworkMode
		}
		if overrides.Session.AllowedDomains != nil {
			c.Session.AllowedDomains = overrides.Session.AllowedDomains
		}
		if overrides.Session.DirMounts != nil {
			c.Session.DirMounts = overrides.Session.DirMounts
		}
		if overrides.Session.FileMounts != nil {
			c.Session.FileMounts = overrides.Session.FileMounts
		}
		if overrides.Session.SocketMounts != nil {
			c.Session.SocketMounts = overrides.Session.SocketMounts
		}
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"WRAPIX_ROOT": c.Paths.Root,
		"HOME":        os.Getenv("HOME"),
	}

	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["WRAPIX_ROOT"] = c.Paths.Root // Update for dependent paths.

	c.Paths.Bin = expandVars(c.Paths.Bin, vars)
	c.Paths.Instances = expandVars(c.Paths.Instances, vars)
	c.Paths.AuditLog = expandVars(c.Paths.AuditLog, vars)
	c.VM.Monitor = expandVars(c.VM.Monitor, vars)
	c.VM.Image = expandVars(c.VM.Image, vars)
	c.VM.Kernel = expandVars(c.VM.Kernel, vars)
	c.Bridge.Helper = expandVars(c.Bridge.Helper, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Paths.Root == "" {
		errs = append(errs, fmt.Errorf("paths.root is required"))
	}

	if c.VM.Monitor == "" {
		errs = append(errs, fmt.Errorf("vm.monitor is required"))
	}
	if c.VM.CPUs < 1 {
		errs = append(errs, fmt.Errorf("vm.cpus must be at least 1, got %d", c.VM.CPUs))
	}
	if c.VM.MemoryMiB < 128 {
		errs = append(errs, fmt.Errorf("vm.memory_mib must be at least 128, got %d", c.VM.MemoryMiB))
	}
	for _, addr := range c.VM.NATDNS {
		if _, err := netip.ParseAddr(addr); err != nil {
			errs = append(errs, fmt.Errorf("vm.nat_dns entry %q is not an IP address", addr))
		}
	}

	if c.Session.NetworkMode != "open" && c.Session.NetworkMode != "restricted" {
		errs = append(errs, fmt.Errorf("session.network_mode must be open or restricted, got %q", c.Session.NetworkMode))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates all configured directories if they don't exist.
func (c *Config) EnsurePaths() error {
	paths := []string{
		c.Paths.Root,
		c.Paths.Bin,
		c.Paths.Instances,
		filepath.Dir(c.Paths.AuditLog),
	}

	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}

	return nil
}

// BinaryPath returns the full path to a wrapix helper binary.
// It looks in Paths.Bin first, then falls back to exec.LookPath.
// This provides hermetic binary resolution when Bin is configured.
// Absolute paths are returned as-is after an existence check.
func (c *Config) BinaryPath(name string) (string, error) {
	if filepath.IsAbs(name) {
		if _, err := os.Stat(name); err != nil {
			return "", fmt.Errorf("%s: %w", name, err)
		}
		return name, nil
	}

	// If Bin is configured, look there first.
	if c.Paths.Bin != "" {
		binPath := filepath.Join(c.Paths.Bin, name)
		if _, err := os.Stat(binPath); err == nil {
			return binPath, nil
		}
	}

	// Fall back to PATH lookup.
	path, err := exec.LookPath(name)
	if err != nil {
		if c.Paths.Bin != "" {
			return "", fmt.Errorf("%s not found in %s or PATH", name, c.Paths.Bin)
		}
		return "", fmt.Errorf("%s not found in PATH", name)
	}
	return path, nil
}
