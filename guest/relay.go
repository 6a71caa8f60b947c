// Copyright 2026 The Wrapix Authors
// SPDX-License-Identifier: Apache-2.0

package guest

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/creack/pty"
	"golang.org/x/term"

	"github.com/taheris/wrapix/lib/clock"
)

// drainGrace is how long the relay keeps draining PTY output after the
// workload exits. The master only reports end-of-file once every slave
// descriptor is gone, and a background process that survives the
// session-leader SIGHUP can hold one open indefinitely.
const drainGrace = 2 * time.Second

// RunWorkload is the final guest phase, running inside the remapped
// namespace. The virtio console cannot be trusted with terminal
// attributes, so the workload gets a real PTY sized from the contract
// geometry and the relay shuttles bytes between console and PTY. Runs
// until the workload exits; returns its exit code (1 if it died to a
// signal).
func RunWorkload(contract *Contract, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}

	home := HomeDir(contract.HostUser)
	workingDir := contract.Workspace
	if workingDir == "" {
		workingDir = home
	}

	cmd := exec.Command("/bin/sh", filepath.Join(ControlDir, EntryScriptName))
	cmd.Dir = workingDir
	cmd.Env = workloadEnv(contract, home)

	size := &pty.Winsize{
		Rows: uint16(contract.TermRows),
		Cols: uint16(contract.TermCols),
	}
	ptmx, err := pty.StartWithSize(cmd, size)
	if err != nil {
		return 0, fmt.Errorf("starting workload on pty: %w", err)
	}

	// Raw mode on the console gives keystroke-level interactivity.
	// Some virtio consoles reject tcsetattr; input is then
	// line-buffered, but the LF-to-CR rewrite below still makes Enter
	// behave.
	consoleFD := int(os.Stdin.Fd())
	if state, err := term.MakeRaw(consoleFD); err != nil {
		logger.Debug("console raw mode unavailable, input is line-buffered", "error", err)
	} else {
		defer term.Restore(consoleFD, state)
	}

	// The input relay blocks in a console read with nothing to cancel
	// it; it is abandoned at process exit like every console reader.
	go func() { _ = relayInput(ptmx, os.Stdin) }()

	return awaitWorkload(cmd, ptmx, os.Stdout, clock.Real(), logger)
}

// awaitWorkload waits for the workload to exit, drains the PTY output
// still buffered on the master, and maps the result to an exit code
// (1 if the workload died to a signal). The drain is bounded: once
// drainGrace passes without the master running dry, the master is
// closed to force the copier out, so a leftover process holding the
// slave cannot keep the session alive.
func awaitWorkload(cmd *exec.Cmd, ptmx *os.File, output io.Writer, clk clock.Clock, logger *slog.Logger) (int, error) {
	// The output relay doubles as the drain: the PTY keeps returning
	// buffered workload output after the child exits and only errors
	// once every slave descriptor is closed.
	outputDone := make(chan struct{})
	go func() {
		defer close(outputDone)
		_, _ = io.Copy(output, ptmx)
	}()

	waitErr := cmd.Wait()

	select {
	case <-outputDone:
	case <-clk.After(drainGrace):
		logger.Debug("pty drain timed out, a background process still holds the terminal")
	}
	_ = ptmx.Close()
	<-outputDone

	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return 0, fmt.Errorf("waiting for workload: %w", waitErr)
		}
		code := exitErr.ExitCode()
		if code < 0 {
			code = 1
		}
		return code, nil
	}
	return 0, nil
}

// workloadEnv builds the workload's environment: the inherited guest
// environment plus the identity variables for the remapped user.
// exec.Cmd keeps the last duplicate, so these appends override
// anything inherited.
func workloadEnv(contract *Contract, home string) []string {
	return append(os.Environ(),
		"HOME="+home,
		"USER="+contract.HostUser,
		"LOGNAME="+contract.HostUser,
	)
}

// relayInput copies console input to the workload PTY, rewriting LF to
// CR in flight. The console's ICRNL turns the Enter key's CR into LF
// before it reaches us, and interactive programs read CR as submit.
func relayInput(dst io.Writer, src io.Reader) error {
	buffer := make([]byte, 4096)
	for {
		n, err := src.Read(buffer)
		if n > 0 {
			lfToCR(buffer[:n])
			if _, writeErr := dst.Write(buffer[:n]); writeErr != nil {
				return writeErr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// lfToCR rewrites every LF in the buffer to CR, in place.
func lfToCR(buffer []byte) {
	for i, b := range buffer {
		if b == '\n' {
			buffer[i] = '\r'
		}
	}
}
