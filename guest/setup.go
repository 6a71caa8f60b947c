// Copyright 2026 The Wrapix Authors
// SPDX-License-Identifier: Apache-2.0

package guest

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/taheris/wrapix/guest/egress"
)

// Setup is the privileged first phase of the guest entrypoint. It runs
// as root, the only identity the shared filesystem grants, and
// performs everything that must happen before the namespace remap:
// user database entries, staged mount copies, socket permission fixes,
// ssh and git configuration, state database seeding, resolver
// overrides, and the egress filter.
//
// The zero value is usable; the path fields exist so tests can point
// the setup at a scratch tree instead of the real root filesystem.
type Setup struct {
	// ControlDir is where the guest's init mounted the control share.
	// Defaults to ControlDir.
	Control string

	// EtcDir is the guest's /etc. Defaults to /etc.
	EtcDir string

	// ResolvConf is the resolver configuration file. Defaults to
	// /etc/resolv.conf.
	ResolvConf string

	// HomeRoot is where user home directories live. Defaults to /home.
	HomeRoot string

	// Logger receives structured log output. If nil, slog.Default()
	// is used.
	Logger *slog.Logger
}

func (s *Setup) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Setup) controlDir() string {
	if s.Control != "" {
		return s.Control
	}
	return ControlDir
}

func (s *Setup) etcDir() string {
	if s.EtcDir != "" {
		return s.EtcDir
	}
	return "/etc"
}

func (s *Setup) resolvConf() string {
	if s.ResolvConf != "" {
		return s.ResolvConf
	}
	return "/etc/resolv.conf"
}

func (s *Setup) homeDir(username string) string {
	if s.HomeRoot != "" {
		return filepath.Join(s.HomeRoot, username)
	}
	return HomeDir(username)
}

// Run executes the setup phase and returns the parsed contract for the
// phases that follow. Contract errors and user database failures are
// fatal: without an identity to remap to the session must not proceed.
// So is a restricted-mode egress install that fails with nft present;
// the session must not run unfiltered. Per-mount copy failures are
// warnings, matching the host planner's best-effort discipline.
func (s *Setup) Run(ctx context.Context) (*Contract, error) {
	logger := s.logger()

	envPath := filepath.Join(s.controlDir(), EnvFileName)
	if err := LoadEnvFile(envPath); err != nil {
		return nil, fmt.Errorf("guest setup: %w", err)
	}

	contract, err := ParseContract()
	if err != nil {
		return nil, fmt.Errorf("guest setup: %w", err)
	}

	logger.Info("guest setup starting",
		"host_uid", contract.HostUID,
		"host_user", contract.HostUser,
		"network_mode", contract.NetworkMode,
	)

	if err := EnsureUser(s.etcDir(), contract.HostUser, contract.HostUID); err != nil {
		return nil, fmt.Errorf("guest setup: %w", err)
	}
	home := s.homeDir(contract.HostUser)
	if err := os.MkdirAll(home, 0o755); err != nil {
		return nil, fmt.Errorf("guest setup: creating home directory: %w", err)
	}

	s.copyMounts(contract)
	s.widenSockets(contract)

	if err := ConfigureSSH(home, contract.HostUser, contract.Workspace, logger); err != nil {
		logger.Warn("ssh/git configuration incomplete", "error", err)
	}

	if err := SeedStateDB(ctx, contract.Workspace, home, logger); err != nil {
		logger.Warn("state database seeding failed", "error", err)
	}

	if len(contract.DNS) > 0 {
		if err := writeResolvConf(s.resolvConf(), contract.DNS); err != nil {
			logger.Warn("resolver override failed", "error", err)
		}
	}

	if contract.NetworkMode == NetModeRestricted {
		if err := egress.Install(ctx, contract.AllowedDomains, logger); err != nil {
			return nil, fmt.Errorf("guest setup: %w", err)
		}
	}

	logger.Info("guest setup complete")
	return contract, nil
}

// copyMounts copies the staged directory and file mounts to their
// destinations. Each entry is independent and best effort: a failed
// copy is logged and skipped so one bad mount does not take down the
// session. Copies run as root, which is what gives the destinations
// the ownership the namespace remap later inverts.
func (s *Setup) copyMounts(contract *Contract) {
	logger := s.logger()

	for _, instruction := range contract.DirMounts {
		if err := copyTree(instruction.Staging, instruction.Dest); err != nil {
			logger.Warn("skipping directory mount",
				"staging", instruction.Staging,
				"dest", instruction.Dest,
				"error", err,
			)
			continue
		}
		logger.Debug("directory mount copied", "dest", instruction.Dest)
	}

	for _, instruction := range contract.FileMounts {
		if err := copyFile(instruction.Staging, instruction.Dest); err != nil {
			logger.Warn("skipping file mount",
				"staging", instruction.Staging,
				"dest", instruction.Dest,
				"error", err,
			)
			continue
		}
		logger.Debug("file mount copied", "dest", instruction.Dest)
	}
}

// widenSockets opens up the permission bits on socket mounts. The
// shared filesystem can present sockets with modes that make them
// unusable from the remapped workload; 0666 restores connectability.
func (s *Setup) widenSockets(contract *Contract) {
	logger := s.logger()
	for _, path := range contract.SocketMounts {
		if err := os.Chmod(path, 0o666); err != nil {
			logger.Warn("socket permission fix failed", "path", path, "error", err)
		}
	}
}

// copyTree recursively copies the directory at source to dest,
// preserving file modes. Symlinks are recreated with their literal
// targets. Existing files at the destination are overwritten; this is
// the "mount wins" semantic a bind mount would have had.
func copyTree(source, dest string) error {
	return filepath.WalkDir(source, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		relative, err := filepath.Rel(source, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, relative)

		switch {
		case entry.IsDir():
			info, err := entry.Info()
			if err != nil {
				return err
			}
			return os.MkdirAll(target, info.Mode().Perm())
		case entry.Type()&fs.ModeSymlink != 0:
			linkTarget, err := os.Readlink(path)
			if err != nil {
				return err
			}
			if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
				return err
			}
			return os.Symlink(linkTarget, target)
		case entry.Type().IsRegular():
			return copyFile(path, target)
		default:
			// Sockets, devices, and fifos do not survive a file copy;
			// socket mounts arrive through their own mechanism.
			return nil
		}
	})
}

// copyFile copies one regular file, creating parent directories as
// needed and preserving the source's permission bits.
func copyFile(source, dest string) error {
	sourceFile, err := os.Open(source)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	info, err := sourceFile.Stat()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	destFile, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		destFile.Close()
		return err
	}
	if err := destFile.Close(); err != nil {
		return err
	}
	return nil
}

// writeResolvConf replaces the resolver configuration with the given
// nameserver addresses.
func writeResolvConf(path string, servers []string) error {
	var content string
	for _, server := range servers {
		content += "nameserver " + server + "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
