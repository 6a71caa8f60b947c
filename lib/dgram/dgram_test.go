// Copyright 2026 The Wrapix Authors
// SPDX-License-Identifier: Apache-2.0

package dgram_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/taheris/wrapix/lib/dgram"
	"github.com/taheris/wrapix/lib/testutil"
)

// openPair returns two bound sockets with a connected from a to b.
func openPair(t *testing.T) (a, b *dgram.Conn) {
	t.Helper()

	dir := testutil.SocketDir(t)

	a, err := dgram.Open(filepath.Join(dir, "a.sock"))
	if err != nil {
		t.Fatalf("Open a: %v", err)
	}
	t.Cleanup(func() { a.Close() })

	b, err = dgram.Open(filepath.Join(dir, "b.sock"))
	if err != nil {
		t.Fatalf("Open b: %v", err)
	}
	t.Cleanup(func() { b.Close() })

	if err := a.Connect(b.BindPath()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return a, b
}

func TestSendRecv(t *testing.T) {
	a, b := openPair(t)

	msg := []byte("VFKT")
	if err := a.Send(msg); err != nil {
		t.Fatalf("Send: %v", err)
	}

	buf := make([]byte, 64)
	n, err := b.Recv(buf)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if n != len(msg) {
		t.Fatalf("Recv returned %d bytes, want %d", n, len(msg))
	}
	if !bytes.Equal(buf[:n], msg) {
		t.Errorf("Recv = %q, want %q", buf[:n], msg)
	}
}

func TestDatagramBoundariesPreserved(t *testing.T) {
	a, b := openPair(t)

	// Three datagrams of distinct sizes. Each Recv must return exactly
	// one, never a coalesced stream.
	sizes := []int{4, 1, 1500}
	for _, size := range sizes {
		if err := a.Send(bytes.Repeat([]byte{0xAB}, size)); err != nil {
			t.Fatalf("Send %d bytes: %v", size, err)
		}
	}

	buf := make([]byte, 4096)
	for _, want := range sizes {
		n, err := b.Recv(buf)
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		if n != want {
			t.Errorf("Recv returned %d bytes, want %d", n, want)
		}
	}
}

func TestRecvTruncatesOversizedDatagram(t *testing.T) {
	a, b := openPair(t)

	if err := a.Send([]byte("12345678")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	buf := make([]byte, 4)
	n, err := b.Recv(buf)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if n != 4 {
		t.Errorf("Recv returned %d bytes into a 4-byte buffer, want 4", n)
	}
}

func TestRecvBlocksUntilSend(t *testing.T) {
	a, b := openPair(t)

	received := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 64)
		n, err := b.Recv(buf)
		if err != nil {
			return
		}
		received <- buf[:n]
	}()

	// Give the receiver a moment to block before sending.
	time.Sleep(10 * time.Millisecond)
	if err := a.Send([]byte("wake")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	got := testutil.RequireReceive(t, received, 2*time.Second, "datagram delivery")
	if string(got) != "wake" {
		t.Errorf("received %q, want %q", got, "wake")
	}
}

func TestOpenRejectsLongPath(t *testing.T) {
	long := "/tmp/" + strings.Repeat("x", 120)
	_, err := dgram.Open(long)
	if err == nil {
		t.Fatal("expected error for over-long socket path")
	}
	if !strings.Contains(err.Error(), "sockaddr_un") {
		t.Errorf("error %q does not mention the sockaddr_un limit", err)
	}
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	if _, err := dgram.Open(""); err == nil {
		t.Fatal("expected error for empty socket path")
	}
}

func TestCloseRemovesSocketFile(t *testing.T) {
	dir := testutil.SocketDir(t)
	path := filepath.Join(dir, "gone.sock")

	conn, err := dgram.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("socket file missing after Open: %v", err)
	}

	if err := conn.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("socket file still present after Close (stat err = %v)", err)
	}
}

func TestFileIsIndependentDuplicate(t *testing.T) {
	a, b := openPair(t)

	file, err := a.File()
	if err != nil {
		t.Fatalf("File: %v", err)
	}

	// Closing the duplicate must not break the original socket.
	if err := file.Close(); err != nil {
		t.Fatalf("closing duplicate: %v", err)
	}

	if err := a.Send([]byte("still alive")); err != nil {
		t.Fatalf("Send after duplicate close: %v", err)
	}

	buf := make([]byte, 64)
	n, err := b.Recv(buf)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if string(buf[:n]) != "still alive" {
		t.Errorf("Recv = %q, want %q", buf[:n], "still alive")
	}
}
