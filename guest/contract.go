// Copyright 2026 The Wrapix Authors
// SPDX-License-Identifier: Apache-2.0

package guest

// Environment variable names shared between the host runner and the
// guest entrypoint. The runner writes them to the control share's env
// file; Setup loads that file into the process environment before
// anything else reads it.
const (
	// EnvHostUID and EnvHostUser carry the true host identity. The
	// guest creates a matching user account and remaps uid 0 to
	// EnvHostUID before the workload starts.
	EnvHostUID  = "HOST_UID"
	EnvHostUser = "HOST_USER"

	// EnvDirMounts and EnvFileMounts hold comma-separated
	// "staging:destination" pairs. The staging side names a path under
	// the mounted staging shares; the guest copies it to the
	// destination.
	EnvDirMounts  = "WRAPIX_DIR_MOUNTS"
	EnvFileMounts = "WRAPIX_FILE_MOUNTS"

	// EnvSocketMounts holds comma-separated guest paths whose
	// permission bits are widened after mounting. The shared
	// filesystem can present sockets as unreadable.
	EnvSocketMounts = "WRAPIX_SOCKET_MOUNTS"

	// EnvNetMode selects the egress policy: NetModeOpen or
	// NetModeRestricted.
	EnvNetMode = "WRAPIX_NET_MODE"

	// EnvAllowedDomains holds the comma-separated domain allow-list
	// consumed when the mode is restricted.
	EnvAllowedDomains = "WRAPIX_ALLOWED_DOMAINS"

	// EnvWorkspace is the workspace path, identical inside and
	// outside the guest.
	EnvWorkspace = "WRAPIX_WORKSPACE"

	// EnvDNS holds comma-separated resolver addresses. When set, the
	// guest rewrites /etc/resolv.conf with them.
	EnvDNS = "WRAPIX_DNS"

	// EnvTermRows and EnvTermCols carry the initial console geometry.
	// The virtio console has no size of its own, so the workload PTY
	// is created with these dimensions.
	EnvTermRows = "WRAPIX_TERM_ROWS"
	EnvTermCols = "WRAPIX_TERM_COLS"
)

// Network modes.
const (
	NetModeOpen       = "open"
	NetModeRestricted = "restricted"
)

// Paths fixed by the guest image's init: where it mounts the control
// share and where the staging shares land.
const (
	ControlDir      = "/run/wrapix"
	StagingMountDir = "/run/wrapix/mounts"
)

// Files inside the control share.
const (
	// EnvFileName is the environment file written by the runner.
	EnvFileName = "env"

	// EntryScriptName is the shell-quoted workload script written by
	// the runner and run by the guest as "sh entry.sh".
	EntryScriptName = "entry.sh"

	// ResultFileName is written by the workload (when it knows its
	// own session identifier) and read back by the runner for the
	// audit record.
	ResultFileName = "result"
)
