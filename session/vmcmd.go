// Copyright 2026 The Wrapix Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

const (
	controlTag   = "wrapix.ctl"
	workspaceTag = "wrapix.ws"

	// netDeviceFD is the child file descriptor carrying the bridge's
	// frame socket. ExtraFiles start at fd 3 and the frame socket is
	// the only entry.
	netDeviceFD = 3
)

// monitorArgs builds the monitor's argument list. The order is fixed:
// machine shape, kernel, block device, filesystem shares (control,
// workspace, staging shares in index order), network device, console.
func monitorArgs(cfg *Config, plan *MountPlan, controlDir string, bridged bool) []string {
	args := []string{
		"--cpus", strconv.Itoa(cfg.CPUs),
		"--memory", strconv.Itoa(cfg.MemoryMiB),
		"--kernel", cfg.Kernel,
	}
	if cfg.KernelCmdline != "" {
		args = append(args, "--kernel-cmdline", cfg.KernelCmdline)
	}
	args = append(args, "--device", "virtio-blk,path="+cfg.Image)
	args = append(args, "--device", fsDevice(controlDir, controlTag))
	args = append(args, "--device", fsDevice(cfg.Workspace, workspaceTag))
	for _, share := range plan.Shares() {
		args = append(args, "--device", fsDevice(share.HostDir, share.Tag()))
	}
	if bridged {
		args = append(args, "--device", fmt.Sprintf("virtio-net,fd=%d", netDeviceFD))
	} else {
		args = append(args, "--device", "virtio-net,nat")
	}
	args = append(args, "--device", "virtio-serial,stdio")
	return args
}

func fsDevice(hostDir, tag string) string {
	return fmt.Sprintf("virtio-fs,sharedDir=%s,mountTag=%s", hostDir, tag)
}

// writeGuestEnv writes the guest environment file: one KEY=VALUE line
// per entry, sorted by key so the file is deterministic.
func writeGuestEnv(path string, env map[string]string) error {
	keys := make([]string, 0, len(env))
	for key := range env {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var builder strings.Builder
	for _, key := range keys {
		builder.WriteString(key)
		builder.WriteString("=")
		builder.WriteString(env[key])
		builder.WriteString("\n")
	}
	if err := os.WriteFile(path, []byte(builder.String()), 0o644); err != nil {
		return fmt.Errorf("writing guest environment: %w", err)
	}
	return nil
}

// writeEntryScript writes the workload script the guest runs after
// setup. Arguments are shell-quoted individually so the command
// survives the trip through the shell unchanged.
func writeEntryScript(path string, command []string) error {
	var builder strings.Builder
	builder.WriteString("#!/bin/sh\n")
	builder.WriteString("exec")
	for _, arg := range command {
		builder.WriteString(" ")
		builder.WriteString(shellQuote(arg))
	}
	builder.WriteString("\n")
	if err := os.WriteFile(path, []byte(builder.String()), 0o755); err != nil {
		return fmt.Errorf("writing entry script: %w", err)
	}
	return nil
}

func shellQuote(s string) string {
	// Safe characters that don't need quoting.
	safe := true
	for _, char := range s {
		if !isShellSafe(char) {
			safe = false
			break
		}
	}
	if safe && s != "" {
		return s
	}

	// Single-quote the string, escaping any internal single quotes.
	return "'" + strings.ReplaceAll(s, "'", "'\\''") + "'"
}

// isShellSafe returns true if the character doesn't need shell quoting.
func isShellSafe(char rune) bool {
	if char >= 'a' && char <= 'z' {
		return true
	}
	if char >= 'A' && char <= 'Z' {
		return true
	}
	if char >= '0' && char <= '9' {
		return true
	}
	switch char {
	case '-', '_', '.', '/', ':', '=', '+', ',', '@':
		return true
	}
	return false
}
