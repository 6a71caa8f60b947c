// Copyright 2026 The Wrapix Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/taheris/wrapix/lib/clock"
	"github.com/taheris/wrapix/lib/dgram"
)

const (
	// handshakeMagic is the first datagram on the frame socket. The
	// helper treats the sender of this exact 4-byte message as the VM
	// endpoint; everything after it is raw Ethernet frames.
	handshakeMagic = "VFKT"

	// readyPollInterval and readyPollAttempts bound how long Start
	// waits for the helper to create its frame socket: 5 seconds total.
	readyPollInterval = 100 * time.Millisecond
	readyPollAttempts = 50

	// teardownGrace is how long Stop waits after SIGTERM before
	// escalating to SIGKILL.
	teardownGrace = 3 * time.Second

	apiSocketName   = "api.sock"
	frameSocketName = "frame.sock"
	vmSocketName    = "vm.sock"
)

// Bridge runs a userspace network stack helper and connects the VM's
// frame transport to it. The helper owns DHCP, DNS forwarding, and
// outbound TCP/UDP; the bridge owns the helper's lifecycle and the
// datagram socket the monitor uses for Ethernet frames.
type Bridge struct {
	// HelperPath is the resolved path to the helper binary.
	HelperPath string

	// SocketDir is a private directory for the helper's API socket,
	// its frame socket, and the VM-side bind path. Created by Start,
	// removed socket by socket on Stop. Keep it short: unix socket
	// paths have a hard length limit.
	SocketDir string

	// ExtraArgs are appended to the helper command line after the
	// listen flags.
	ExtraArgs []string

	// Logger receives structured log output. If nil, slog.Default()
	// is used.
	Logger *slog.Logger

	// Clock drives the readiness poll and the teardown grace period.
	// If nil, the real clock is used. Tests inject a fake.
	Clock clock.Clock

	cmd     *exec.Cmd
	conn    *dgram.Conn
	exited  chan struct{}
	exitErr error
	stderr  *stderrBuffer

	mu      sync.Mutex
	stopped bool
}

func (b *Bridge) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}

func (b *Bridge) clock() clock.Clock {
	if b.Clock != nil {
		return b.Clock
	}
	return clock.Real()
}

// APISocketPath returns the helper's control API socket path.
func (b *Bridge) APISocketPath() string {
	return filepath.Join(b.SocketDir, apiSocketName)
}

func (b *Bridge) frameSocketPath() string {
	return filepath.Join(b.SocketDir, frameSocketName)
}

func (b *Bridge) vmSocketPath() string {
	return filepath.Join(b.SocketDir, vmSocketName)
}

// Start spawns the helper, waits for its frame socket to appear, and
// performs the handshake that registers this process as the VM
// endpoint. On any failure the helper is torn down before returning:
// a configured bridge either works or the session does not start.
func (b *Bridge) Start(ctx context.Context) error {
	if b.HelperPath == "" {
		return fmt.Errorf("bridge: HelperPath is required")
	}
	if b.SocketDir == "" {
		return fmt.Errorf("bridge: SocketDir is required")
	}

	if err := os.MkdirAll(b.SocketDir, 0700); err != nil {
		return fmt.Errorf("bridge: creating socket dir: %w", err)
	}

	args := []string{
		"--listen", "unix://" + b.APISocketPath(),
		"--listen-vfkit", "unixgram://" + b.frameSocketPath(),
	}
	args = append(args, b.ExtraArgs...)

	b.stderr = &stderrBuffer{logger: b.logger()}
	b.cmd = exec.Command(b.HelperPath, args...)
	b.cmd.Stderr = b.stderr

	// Own process group so teardown signals reach the helper and any
	// children it forks (negative PID = the whole group).
	b.cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := b.cmd.Start(); err != nil {
		return fmt.Errorf("bridge: starting helper %s: %w", b.HelperPath, err)
	}

	b.exited = make(chan struct{})
	go func() {
		b.exitErr = b.cmd.Wait()
		close(b.exited)
	}()

	b.logger().Debug("bridge helper started",
		"helper", b.HelperPath,
		"pid", b.cmd.Process.Pid,
	)

	if err := b.awaitFrameSocket(ctx); err != nil {
		b.Stop()
		return err
	}

	if err := b.handshake(); err != nil {
		b.Stop()
		return err
	}

	b.logger().Info("bridge started",
		"helper", b.HelperPath,
		"frame_socket", b.frameSocketPath(),
	)
	return nil
}

// awaitFrameSocket polls for the helper's frame socket. The helper
// binds it asynchronously after startup; until it exists there is
// nothing to hand to the monitor.
func (b *Bridge) awaitFrameSocket(ctx context.Context) error {
	framePath := b.frameSocketPath()

	for attempt := 0; attempt < readyPollAttempts; attempt++ {
		info, err := os.Stat(framePath)
		if err == nil && info.Mode()&os.ModeSocket != 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("bridge: waiting for frame socket: %w", ctx.Err())
		case <-b.exited:
			return fmt.Errorf("bridge: helper exited before creating %s: %v%s",
				framePath, b.exitErr, b.stderr.tail())
		case <-b.clock().After(readyPollInterval):
		}
	}

	return fmt.Errorf("bridge: frame socket %s did not appear after %v",
		framePath, time.Duration(readyPollAttempts)*readyPollInterval)
}

// handshake binds the VM-side socket, connects it to the helper's
// frame socket, and sends the 4-byte magic. The helper records the
// sender address from that first datagram, which is why the socket
// must be bound to a real path before sending. A completed send is
// success; the helper does not reply.
func (b *Bridge) handshake() error {
	conn, err := dgram.Open(b.vmSocketPath())
	if err != nil {
		return fmt.Errorf("bridge: handshake: %w", err)
	}

	if err := conn.Connect(b.frameSocketPath()); err != nil {
		conn.Close()
		return fmt.Errorf("bridge: handshake: %w", err)
	}

	if err := conn.Send([]byte(handshakeMagic)); err != nil {
		conn.Close()
		return fmt.Errorf("bridge: handshake: %w", err)
	}

	b.conn = conn
	return nil
}

// File returns a duplicate of the connected frame socket for the
// monitor's virtio-net device. The monitor reads and writes Ethernet
// frames on it directly; the bridge never touches frame traffic.
func (b *Bridge) File() (*os.File, error) {
	if b.conn == nil {
		return nil, fmt.Errorf("bridge: not started")
	}
	return b.conn.File()
}

// Stop tears the bridge down: SIGTERM to the helper's process group,
// SIGKILL after a bounded grace, then socket file cleanup. Stop is
// idempotent and safe to call after a failed Start; it never blocks
// longer than the grace period plus process reaping.
func (b *Bridge) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	b.mu.Unlock()

	if b.conn != nil {
		if err := b.conn.Close(); err != nil {
			b.logger().Warn("closing vm socket", "error", err)
		}
		b.conn = nil
	}

	if b.cmd != nil && b.cmd.Process != nil {
		b.terminateHelper()
	}

	for _, path := range []string{b.APISocketPath(), b.frameSocketPath()} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			b.logger().Warn("removing bridge socket", "path", path, "error", err)
		}
	}

	b.logger().Info("bridge stopped", "helper", b.HelperPath)
}

func (b *Bridge) terminateHelper() {
	pid := b.cmd.Process.Pid

	select {
	case <-b.exited:
		return
	default:
	}

	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && err != syscall.ESRCH {
		b.logger().Warn("signalling helper", "pid", pid, "error", err)
	}

	select {
	case <-b.exited:
	case <-b.clock().After(teardownGrace):
		b.logger().Warn("helper ignored SIGTERM, killing", "pid", pid)
		if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
			b.logger().Warn("killing helper", "pid", pid, "error", err)
		}
		<-b.exited
	}
}

// stderrBuffer captures helper stderr for error context and mirrors
// it to the debug log.
type stderrBuffer struct {
	logger *slog.Logger

	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *stderrBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	s.buf.Write(p)
	s.mu.Unlock()
	s.logger.Debug("helper stderr", "output", string(bytes.TrimRight(p, "\n")))
	return len(p), nil
}

// tail returns captured stderr formatted for inclusion in an error
// message, or empty if the helper wrote nothing.
func (s *stderrBuffer) tail() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	text := bytes.TrimSpace(s.buf.Bytes())
	if len(text) == 0 {
		return ""
	}
	const limit = 1024
	if len(text) > limit {
		text = text[len(text)-limit:]
	}
	return fmt.Sprintf(" (stderr: %s)", text)
}
