// Copyright 2026 The Wrapix Authors
// SPDX-License-Identifier: Apache-2.0

package dgram

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// maxSocketPath is the size of sockaddr_un's sun_path on Linux. One
// byte is reserved for the trailing NUL, so usable paths are shorter.
// Keep socket directories short (/tmp, not a deep build tree) or bind
// will fail before the kernel ever sees the path.
const maxSocketPath = 108

// Conn is a unix datagram socket bound to a private path. It preserves
// datagram boundaries: one Send is one datagram on the wire, one Recv
// returns exactly one datagram. Conn is single-owner; it is not safe
// for concurrent use.
type Conn struct {
	fd       int
	bindPath string
}

// Open creates an AF_UNIX SOCK_DGRAM socket and binds it to bindPath.
// The path must not exist and must fit in sockaddr_un. The caller owns
// the socket file; Close removes it.
func Open(bindPath string) (*Conn, error) {
	if err := checkPath(bindPath); err != nil {
		return nil, err
	}

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("dgram: socket: %w", err)
	}

	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: bindPath}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("dgram: bind %s: %w", bindPath, err)
	}

	return &Conn{fd: fd, bindPath: bindPath}, nil
}

// Connect associates the socket with a peer path. After Connect, Send
// writes to the peer and Recv accepts datagrams from it.
func (c *Conn) Connect(path string) error {
	if err := checkPath(path); err != nil {
		return err
	}
	if err := unix.Connect(c.fd, &unix.SockaddrUnix{Name: path}); err != nil {
		return fmt.Errorf("dgram: connect %s: %w", path, err)
	}
	return nil
}

// Send writes p as a single datagram to the connected peer. A short
// write is an error: datagram sockets deliver whole messages or
// nothing, so anything less than len(p) means the transport is broken.
func (c *Conn) Send(p []byte) error {
	n, err := unix.Write(c.fd, p)
	if err != nil {
		return fmt.Errorf("dgram: send on %s: %w", c.bindPath, err)
	}
	if n != len(p) {
		return fmt.Errorf("dgram: short send on %s: %d of %d bytes", c.bindPath, n, len(p))
	}
	return nil
}

// Recv reads one datagram into p and returns its length. If p is
// smaller than the datagram, the excess is discarded by the kernel.
// Recv blocks until a datagram arrives.
func (c *Conn) Recv(p []byte) (int, error) {
	n, err := unix.Read(c.fd, p)
	if err != nil {
		return 0, fmt.Errorf("dgram: recv on %s: %w", c.bindPath, err)
	}
	return n, nil
}

// File duplicates the socket as an *os.File for handing to a child
// process via exec.Cmd.ExtraFiles. The duplicate is independent: the
// child keeps its copy across Close on this Conn, and closing the
// returned file does not affect this Conn.
func (c *Conn) File() (*os.File, error) {
	dupFD, err := unix.Dup(c.fd)
	if err != nil {
		return nil, fmt.Errorf("dgram: dup %s: %w", c.bindPath, err)
	}
	return os.NewFile(uintptr(dupFD), c.bindPath), nil
}

// Close closes the socket and removes the bind path. Safe to call once
// per Conn; the socket file is removed best effort.
func (c *Conn) Close() error {
	err := unix.Close(c.fd)
	if removeErr := os.Remove(c.bindPath); removeErr != nil && !os.IsNotExist(removeErr) && err == nil {
		err = removeErr
	}
	if err != nil {
		return fmt.Errorf("dgram: close %s: %w", c.bindPath, err)
	}
	return nil
}

// BindPath returns the path this socket is bound to.
func (c *Conn) BindPath() string {
	return c.bindPath
}

func checkPath(path string) error {
	if path == "" {
		return fmt.Errorf("dgram: empty socket path")
	}
	if len(path) >= maxSocketPath {
		return fmt.Errorf("dgram: socket path %d bytes, exceeds sockaddr_un limit of %d: %s",
			len(path), maxSocketPath, path)
	}
	return nil
}
