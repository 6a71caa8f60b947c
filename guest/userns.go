// Copyright 2026 The Wrapix Authors
// SPDX-License-Identifier: Apache-2.0

package guest

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
)

// ReExecArg is the argument the entrypoint passes to itself when
// re-executing inside the remapped namespace. The wrapix-guest binary
// dispatches on it: without the argument it runs setup and re-exec,
// with it it runs the workload.
const ReExecArg = "workload"

// ReExec runs the entrypoint again inside a fresh user namespace that
// maps the host uid onto outer root, waits for it, and returns the
// workload's exit code. This is the ownership boundary: the shared
// filesystem presents everything as root, the new namespace declares
// inner HostUID equivalent to outer root, and so every shared path
// appears correctly owned inside with no chown having touched anything.
//
// Namespace creation failing is fatal. Running the workload without
// the remap would silently produce root-attributed files and a
// workload that believes it is root; no session is better than that
// session.
func ReExec(contract *Contract, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cmd := exec.Command("/proc/self/exe", ReExecArg)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = os.Environ()
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags:  syscall.CLONE_NEWUSER,
		UidMappings: uidMappings(contract.HostUID),
		GidMappings: gidMappings(contract.HostUID),
	}

	logger.Debug("entering user namespace",
		"inner_uid", contract.HostUID,
		"outer_uid", 0,
	)

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code := exitErr.ExitCode()
			if code < 0 {
				code = 1
			}
			return code, nil
		}
		// Start itself failed: the kernel refused the namespace
		// (EPERM, EINVAL on ancient or locked-down kernels) or the
		// re-exec could not be spawned.
		return 0, fmt.Errorf("user namespace re-exec failed "+
			"(kernel without user namespace support, or creation disallowed): %w", err)
	}

	return 0, nil
}

// uidMappings declares the single-entry map "inner hostUID = outer 0".
// The re-exec'd process starts with outer uid 0, so inside the
// namespace it becomes hostUID directly; no setuid is involved.
func uidMappings(hostUID int) []syscall.SysProcIDMap {
	return []syscall.SysProcIDMap{
		{ContainerID: hostUID, HostID: 0, Size: 1},
	}
}

// gidMappings mirrors uidMappings for the matching group.
func gidMappings(hostUID int) []syscall.SysProcIDMap {
	return []syscall.SysProcIDMap{
		{ContainerID: hostUID, HostID: 0, Size: 1},
	}
}
