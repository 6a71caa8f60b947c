// Copyright 2026 The Wrapix Authors
// SPDX-License-Identifier: Apache-2.0

// Package bridge wires the guest VM's network device to a userspace
// TCP/IP stack.
//
// The VM monitor's built-in NAT only carries ICMP, which is useless
// for an agent that needs to clone repositories and call APIs. Full
// egress comes from an external gvproxy-style helper process: it
// terminates the guest's Ethernet frames in userspace and re-issues
// the traffic as ordinary host sockets. The bridge owns everything
// around that helper: spawning it, waiting for its frame socket to
// appear, performing the datagram handshake that registers this
// process as the VM endpoint, handing the connected socket to the
// monitor, and tearing the helper down when the session ends.
//
// The handshake is deliberately minimal: bind a private unix datagram
// socket, connect it toward the helper's frame socket, and send the
// 4-byte magic "VFKT". The helper records the sender address from
// that first datagram and uses it as the frame destination from then
// on. Every subsequent datagram in either direction is one raw
// Ethernet frame.
//
// [Bridge] is the single type. Start spawns and verifies; File
// exposes the connected socket for the monitor's virtio-net device;
// Stop terminates the helper (SIGTERM, then SIGKILL after a bounded
// grace) and removes the socket files. Stop runs on every session
// exit path, including failed startup, so a crashed session never
// leaks a helper process.
package bridge
