// Copyright 2026 The Wrapix Authors
// SPDX-License-Identifier: Apache-2.0

// Package dgram provides unix datagram socket primitives for the
// bridge handshake and frame transport.
//
// The VM monitor exchanges raw Ethernet frames with the bridge helper
// over an AF_UNIX SOCK_DGRAM socket: one frame per datagram, no
// framing bytes. Establishing that link requires exact low-level
// control (bind to a private path, connect toward the helper's frame
// socket, write a 4-byte magic) that net.Conn's dial helpers do not
// expose, so this package wraps the raw golang.org/x/sys/unix calls
// once and nothing else in the tree touches a sockaddr.
//
// Key exports:
//
//   - [Open] -- socket + bind to a caller-owned path
//   - [Conn.Connect], [Conn.Send], [Conn.Recv] -- datagram I/O
//   - [Conn.File] -- duplicate for exec.Cmd.ExtraFiles handoff
//
// Paths are validated against the 108-byte sockaddr_un limit before
// any syscall, so callers get a readable error instead of EINVAL.
package dgram
