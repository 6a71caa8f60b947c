// Copyright 2026 The Wrapix Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/taheris/wrapix/lib/clock"
	"github.com/taheris/wrapix/lib/dgram"
	"github.com/taheris/wrapix/lib/testutil"
)

// writeStub writes a shell script that stands in for the bridge
// helper. Real helpers create the frame socket themselves; the stubs
// here do not, so tests that need a ready socket pre-create it with
// [frameEndpoint].
func writeStub(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "helper.sh")
	content := "#!/bin/sh\n" + script + "\n"
	if err := os.WriteFile(path, []byte(content), 0755); err != nil {
		t.Fatalf("writing helper stub: %v", err)
	}
	return path
}

// frameEndpoint binds the frame socket path the way a ready helper
// would, and returns the test's end of it.
func frameEndpoint(t *testing.T, bridge *Bridge) *dgram.Conn {
	t.Helper()
	conn, err := dgram.Open(bridge.frameSocketPath())
	if err != nil {
		t.Fatalf("binding frame socket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestStart_MissingHelperPath(t *testing.T) {
	bridge := &Bridge{SocketDir: testutil.SocketDir(t)}
	err := bridge.Start(context.Background())
	if err == nil {
		t.Fatal("expected error for missing HelperPath")
	}
	if got := err.Error(); got != "bridge: HelperPath is required" {
		t.Fatalf("unexpected error: %s", got)
	}
}

func TestStart_MissingSocketDir(t *testing.T) {
	bridge := &Bridge{HelperPath: "/bin/true"}
	err := bridge.Start(context.Background())
	if err == nil {
		t.Fatal("expected error for missing SocketDir")
	}
	if got := err.Error(); got != "bridge: SocketDir is required" {
		t.Fatalf("unexpected error: %s", got)
	}
}

func TestStartSendsHandshakeMagic(t *testing.T) {
	bridge := &Bridge{
		HelperPath: writeStub(t, "exec sleep 60"),
		SocketDir:  filepath.Join(testutil.SocketDir(t), "br"),
	}
	if err := os.MkdirAll(bridge.SocketDir, 0700); err != nil {
		t.Fatal(err)
	}
	helperSide := frameEndpoint(t, bridge)

	if err := bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer bridge.Stop()

	// The first and only setup datagram is the 4-byte magic, with no
	// length prefix and no trailer.
	buf := make([]byte, 64)
	n, err := helperSide.Recv(buf)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if n != 4 || string(buf[:4]) != "VFKT" {
		t.Fatalf("handshake datagram = %q (%d bytes), want %q", buf[:n], n, "VFKT")
	}
}

func TestFrameSocketCarriesRawFrames(t *testing.T) {
	bridge := &Bridge{
		HelperPath: writeStub(t, "exec sleep 60"),
		SocketDir:  filepath.Join(testutil.SocketDir(t), "br"),
	}
	if err := os.MkdirAll(bridge.SocketDir, 0700); err != nil {
		t.Fatal(err)
	}
	helperSide := frameEndpoint(t, bridge)

	if err := bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer bridge.Stop()

	// Drain the handshake datagram first.
	buf := make([]byte, 2048)
	if _, err := helperSide.Recv(buf); err != nil {
		t.Fatalf("Recv handshake: %v", err)
	}

	monitorFile, err := bridge.File()
	if err != nil {
		t.Fatalf("File: %v", err)
	}
	defer monitorFile.Close()

	// Helper-to-VM direction: a datagram sent to the VM socket
	// arrives on the file handed to the monitor, one frame per read.
	frame := append([]byte{0x52, 0x54, 0x00, 0x12, 0x34, 0x56}, make([]byte, 56)...)
	if err := helperSide.Connect(bridge.vmSocketPath()); err != nil {
		t.Fatalf("Connect back: %v", err)
	}
	if err := helperSide.Send(frame); err != nil {
		t.Fatalf("Send frame: %v", err)
	}

	n, err := monitorFile.Read(buf)
	if err != nil {
		t.Fatalf("Read frame: %v", err)
	}
	if n != len(frame) {
		t.Fatalf("frame read = %d bytes, want %d", n, len(frame))
	}
}

func TestStartFailsWhenFrameSocketNeverAppears(t *testing.T) {
	fakeClock := clock.Fake(time.Now())
	bridge := &Bridge{
		HelperPath: writeStub(t, "exec sleep 60"),
		SocketDir:  filepath.Join(testutil.SocketDir(t), "br"),
		Clock:      fakeClock,
	}

	startErr := make(chan error, 1)
	go func() {
		startErr <- bridge.Start(context.Background())
	}()

	// Drive the poll loop through all of its attempts.
	for range readyPollAttempts {
		fakeClock.WaitForTimers(1)
		fakeClock.Advance(readyPollInterval)
	}

	err := testutil.RequireReceive(t, startErr, 5*time.Second, "Start result")
	if err == nil {
		t.Fatal("expected error when frame socket never appears")
	}
	if !strings.Contains(err.Error(), "did not appear") {
		t.Errorf("error %q does not mention the missing socket", err)
	}

	// The failed Start must have torn the helper down.
	testutil.RequireClosed(t, bridge.exited, 5*time.Second, "helper exit after failed Start")
}

func TestStartFailsWhenHelperExitsEarly(t *testing.T) {
	bridge := &Bridge{
		HelperPath: writeStub(t, `echo "bad flags" >&2; exit 3`),
		SocketDir:  filepath.Join(testutil.SocketDir(t), "br"),
		Clock:      clock.Fake(time.Now()),
	}

	err := bridge.Start(context.Background())
	if err == nil {
		t.Fatal("expected error when helper exits before creating socket")
	}
	if !strings.Contains(err.Error(), "exited before creating") {
		t.Errorf("error %q does not mention early helper exit", err)
	}
	if !strings.Contains(err.Error(), "bad flags") {
		t.Errorf("error %q does not carry helper stderr", err)
	}
}

func TestStartCancelledContext(t *testing.T) {
	fakeClock := clock.Fake(time.Now())
	bridge := &Bridge{
		HelperPath: writeStub(t, "exec sleep 60"),
		SocketDir:  filepath.Join(testutil.SocketDir(t), "br"),
		Clock:      fakeClock,
	}

	ctx, cancel := context.WithCancel(context.Background())
	startErr := make(chan error, 1)
	go func() {
		startErr <- bridge.Start(ctx)
	}()

	fakeClock.WaitForTimers(1)
	cancel()

	err := testutil.RequireReceive(t, startErr, 5*time.Second, "Start result")
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

func TestStopTerminatesHelperAndRemovesSockets(t *testing.T) {
	bridge := &Bridge{
		HelperPath: writeStub(t, "exec sleep 60"),
		SocketDir:  filepath.Join(testutil.SocketDir(t), "br"),
	}
	if err := os.MkdirAll(bridge.SocketDir, 0700); err != nil {
		t.Fatal(err)
	}
	frameEndpoint(t, bridge)

	if err := bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	bridge.Stop()

	testutil.RequireClosed(t, bridge.exited, 5*time.Second, "helper exit")

	if _, err := os.Stat(bridge.vmSocketPath()); !os.IsNotExist(err) {
		t.Errorf("vm socket still present after Stop (stat err = %v)", err)
	}
	if _, err := os.Stat(bridge.frameSocketPath()); !os.IsNotExist(err) {
		t.Errorf("frame socket still present after Stop (stat err = %v)", err)
	}
}

func TestStopEscalatesToSigkill(t *testing.T) {
	fakeClock := clock.Fake(time.Now())
	bridge := &Bridge{
		// Ignores SIGTERM forever; only SIGKILL ends it.
		HelperPath: writeStub(t, `trap "" TERM; while true; do sleep 1; done`),
		SocketDir:  filepath.Join(testutil.SocketDir(t), "br"),
		Clock:      fakeClock,
	}
	if err := os.MkdirAll(bridge.SocketDir, 0700); err != nil {
		t.Fatal(err)
	}
	frameEndpoint(t, bridge)

	if err := bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	stopDone := make(chan struct{})
	go func() {
		bridge.Stop()
		close(stopDone)
	}()

	// Stop waits out the grace period before escalating.
	fakeClock.WaitForTimers(1)
	fakeClock.Advance(teardownGrace)

	testutil.RequireClosed(t, stopDone, 5*time.Second, "Stop after SIGKILL")
}

func TestStopIdempotent(t *testing.T) {
	bridge := &Bridge{
		HelperPath: writeStub(t, "exec sleep 60"),
		SocketDir:  filepath.Join(testutil.SocketDir(t), "br"),
	}
	if err := os.MkdirAll(bridge.SocketDir, 0700); err != nil {
		t.Fatal(err)
	}
	frameEndpoint(t, bridge)

	if err := bridge.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	bridge.Stop()
	bridge.Stop()
}

func TestStopWithoutStart(t *testing.T) {
	bridge := &Bridge{
		HelperPath: "/bin/true",
		SocketDir:  testutil.SocketDir(t),
	}
	// Must not panic with no process and no socket.
	bridge.Stop()
}
