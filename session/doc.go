// Copyright 2026 The Wrapix Authors
// SPDX-License-Identifier: Apache-2.0

// Package session runs one isolated environment from creation through
// deletion.
//
// A session owns a single microVM instance: it plans the mount shares,
// starts the network bridge (or falls back to NAT), writes the guest
// control files, launches the VM monitor, relays the terminal, waits
// for exit, and tears everything down. The lifecycle is
//
//	Created -> Started -> Running -> Exited -> Deleted
//
// and deletion is unconditional: the instance directory, the bridge
// helper, and the monitor process group are cleaned up on every path
// out of Run, including cancellation. The last act of every session is
// appending one line to the audit log.
//
// # Instance directory
//
// Each session materializes under <instances>/wrapix-<pid>/:
//
//	instance.cbor   persisted record, rewritten on state transitions
//	ctl/            control share, mounted in the guest at /run/wrapix
//	ctl/env         guest environment contract
//	ctl/entry.sh    shell-quoted workload command
//	ctl/result      child session id, written back by the workload
//
// The directory name is derived from the owning process id, so one
// process runs at most one session and a crashed session's leftovers
// are reclaimed when the pid is reused.
//
// # Mount plan
//
// Mount requests arrive as host:guest pairs. The shared-filesystem
// transport can only export directories, so the planner assigns each
// distinct host directory one staging share and each file mount a
// staging share for its parent directory; the guest performs the final
// copies from the staging paths to the requested destinations. Missing
// host paths are skipped with a warning rather than failing the
// session.
package session
