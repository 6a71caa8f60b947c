// Copyright 2026 The Wrapix Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/term"
)

// Default console geometry when no terminal is attached. The guest
// creates the workload PTY with these dimensions.
const (
	defaultTermRows = 24
	defaultTermCols = 80
)

// terminalGeometry returns the calling terminal's rows and columns,
// falling back to the defaults in piped mode or when stdin is not a
// terminal.
func terminalGeometry(piped bool) (rows, cols int) {
	rows, cols = defaultTermRows, defaultTermCols
	if piped {
		return rows, cols
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return rows, cols
	}
	width, height, err := term.GetSize(fd)
	if err != nil {
		return rows, cols
	}
	return height, width
}

// console owns the host side of an interactive session. The monitor
// runs on a fresh PTY; the calling terminal is switched to raw mode
// and relayed to it byte for byte.
type console struct {
	ptmx    *os.File
	restore func()
	logger  *slog.Logger
}

// startInteractive starts the monitor command on a new PTY and begins
// relaying the calling terminal to it. The terminal is restored by
// Close.
func startInteractive(cmd *exec.Cmd, logger *slog.Logger) (*console, error) {
	ptmx, err := pty.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("starting monitor on pty: %w", err)
	}

	c := &console{ptmx: ptmx, logger: logger}
	c.pushGeometry()

	stdinFD := int(os.Stdin.Fd())
	if term.IsTerminal(stdinFD) {
		state, err := term.MakeRaw(stdinFD)
		if err != nil {
			logger.Warn("raw mode unavailable, input will be line-buffered", "error", err)
		} else {
			c.restore = func() { _ = term.Restore(stdinFD, state) }
		}
	}

	// The stdin copy blocks past monitor exit on the final read; it
	// dies with the process.
	go func() { _, _ = io.Copy(ptmx, os.Stdin) }()
	go func() { _, _ = io.Copy(os.Stdout, ptmx) }()

	return c, nil
}

// pushGeometry copies the calling terminal's current size to the
// monitor PTY.
func (c *console) pushGeometry() {
	if err := pty.InheritSize(os.Stdin, c.ptmx); err != nil {
		c.logger.Debug("terminal resize not propagated", "error", err)
	}
}

// forwardResizes pushes the terminal geometry to the monitor PTY each
// time the calling terminal is resized. Returns when ctx is cancelled.
func (c *console) forwardResizes(ctx context.Context) {
	resized := make(chan os.Signal, 1)
	signal.Notify(resized, syscall.SIGWINCH)
	defer signal.Stop(resized)

	for {
		select {
		case <-ctx.Done():
			return
		case <-resized:
			c.pushGeometry()
		}
	}
}

// Close restores the calling terminal and releases the PTY.
func (c *console) Close() {
	if c.restore != nil {
		c.restore()
	}
	_ = c.ptmx.Close()
}
