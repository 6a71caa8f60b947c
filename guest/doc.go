// Copyright 2026 The Wrapix Authors
// SPDX-License-Identifier: Apache-2.0

// Package guest implements the in-VM side of a wrapix session: the
// privileged setup phase, the user-namespace remap, and the workload
// relay.
//
// The shared filesystem presents every host file as owned by root,
// regardless of its true host ownership. The guest entrypoint exploits
// that instead of fighting it: phase one runs as root and performs all
// the work only root can do (user database entries, copying staged
// mounts into place, socket permission fixes, egress rules); phase two
// re-executes the entrypoint inside a fresh user namespace that maps
// the host uid onto outer root. Inside that namespace every root-owned
// shared path, the workspace included, appears owned by the host user
// with no recursive chown ever having run. Phase three, inside the
// namespace, relays the workload through a real PTY because the virtio
// console cannot be trusted with terminal attributes.
//
// The three phases correspond to [Setup.Run], [ReExec], and
// [RunWorkload], invoked in that order by the wrapix-guest binary. The
// host runner communicates with all three through the environment
// contract in contract.go, delivered as a file on the control share
// and loaded verbatim into the process environment before anything
// else runs.
//
// Namespace creation failure is fatal: a guest that cannot remap must
// not fall back to running the workload as plain root, because
// everything the workload then created would surface on the host with
// the wrong ownership story.
package guest
