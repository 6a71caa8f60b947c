// Copyright 2026 The Wrapix Authors
// SPDX-License-Identifier: Apache-2.0

package guest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readEtcFile(t *testing.T, etcDir, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(etcDir, name))
	if err != nil {
		t.Fatalf("reading %s: %v", name, err)
	}
	return string(data)
}

func TestEnsureUserAppendsEntries(t *testing.T) {
	etcDir := t.TempDir()
	seed := "root:x:0:0:root:/root:/bin/bash\n"
	if err := os.WriteFile(filepath.Join(etcDir, "passwd"), []byte(seed), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(etcDir, "group"), []byte("root:x:0:\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := EnsureUser(etcDir, "dev", 1000); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}

	passwd := readEtcFile(t, etcDir, "passwd")
	if !strings.HasPrefix(passwd, seed) {
		t.Errorf("existing passwd content was disturbed:\n%s", passwd)
	}
	if !strings.Contains(passwd, "dev:x:1000:1000:wrapix host user:/home/dev:/bin/bash\n") {
		t.Errorf("passwd missing host user entry:\n%s", passwd)
	}

	group := readEtcFile(t, etcDir, "group")
	if !strings.Contains(group, "dev:x:1000:\n") {
		t.Errorf("group missing host group entry:\n%s", group)
	}
}

func TestEnsureUserIdempotent(t *testing.T) {
	etcDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(etcDir, "passwd"), []byte("root:x:0:0:root:/root:/bin/bash\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := EnsureUser(etcDir, "dev", 1000); err != nil {
		t.Fatalf("first EnsureUser: %v", err)
	}
	first := readEtcFile(t, etcDir, "passwd")

	if err := EnsureUser(etcDir, "dev", 1000); err != nil {
		t.Fatalf("second EnsureUser: %v", err)
	}
	second := readEtcFile(t, etcDir, "passwd")

	if first != second {
		t.Errorf("second EnsureUser changed passwd:\nfirst:\n%s\nsecond:\n%s", first, second)
	}
}

func TestEnsureUserCreatesMissingFiles(t *testing.T) {
	etcDir := t.TempDir()

	if err := EnsureUser(etcDir, "dev", 1000); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}

	if got := readEtcFile(t, etcDir, "passwd"); !strings.Contains(got, "dev:x:1000:1000:") {
		t.Errorf("passwd = %q", got)
	}
	if got := readEtcFile(t, etcDir, "group"); !strings.Contains(got, "dev:x:1000:") {
		t.Errorf("group = %q", got)
	}
}

func TestEnsureUserRepairsMissingNewline(t *testing.T) {
	etcDir := t.TempDir()
	// No trailing newline on the existing entry.
	if err := os.WriteFile(filepath.Join(etcDir, "passwd"), []byte("root:x:0:0:root:/root:/bin/bash"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := EnsureUser(etcDir, "dev", 1000); err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}

	passwd := readEtcFile(t, etcDir, "passwd")
	if strings.Contains(passwd, "bashdev:") {
		t.Errorf("appended entry ran into the previous line:\n%s", passwd)
	}
	lines := strings.Split(strings.TrimSuffix(passwd, "\n"), "\n")
	if len(lines) != 2 {
		t.Errorf("expected 2 passwd lines, got %d:\n%s", len(lines), passwd)
	}
}

func TestHomeDir(t *testing.T) {
	if got := HomeDir("dev"); got != "/home/dev" {
		t.Errorf("HomeDir = %q, want /home/dev", got)
	}
}
