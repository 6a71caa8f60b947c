// Copyright 2026 The Wrapix Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestParseMountSpec(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		want    MountRequest
		wantErr bool
	}{
		{
			name: "valid",
			spec: "/host/data:/guest/data",
			want: MountRequest{Host: "/host/data", Guest: "/guest/data"},
		},
		{
			name: "cleans trailing slash",
			spec: "/host/data/:/guest/data/",
			want: MountRequest{Host: "/host/data", Guest: "/guest/data"},
		},
		{name: "no separator", spec: "/host/data", wantErr: true},
		{name: "three parts", spec: "/a:/b:/c", wantErr: true},
		{name: "empty guest", spec: "/host/data:", wantErr: true},
		{name: "relative host", spec: "data:/guest/data", wantErr: true},
		{name: "comma in path", spec: "/host/a,b:/guest/ab", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMountSpec(tt.spec)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseMountSpec(%q) = %+v, want error", tt.spec, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseMountSpec(%q): %v", tt.spec, err)
			}
			if got != tt.want {
				t.Errorf("ParseMountSpec(%q) = %+v, want %+v", tt.spec, got, tt.want)
			}
		})
	}
}

// Files sharing a parent directory get exactly one staging share, and
// the copy table still carries one row per file.
func TestPlanMountsFileDedup(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"id_ed25519", "id_ed25519.pub", "known_hosts"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(name), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	plan, err := PlanMounts(discard(), nil, []string{
		dir + "/id_ed25519:/home/dev/.ssh/id_ed25519",
		dir + "/id_ed25519.pub:/home/dev/.ssh/id_ed25519.pub",
		dir + "/known_hosts:/home/dev/.ssh/known_hosts",
	}, nil)
	if err != nil {
		t.Fatalf("PlanMounts: %v", err)
	}

	if got := len(plan.Shares()); got != 1 {
		t.Fatalf("got %d staging shares, want 1 for a shared parent", got)
	}
	if got := plan.Shares()[0].HostDir; got != dir {
		t.Errorf("share host dir = %q, want %q", got, dir)
	}

	rows := strings.Split(plan.FileMountsEnv(), ",")
	if len(rows) != 3 {
		t.Fatalf("got %d copy rows, want 3: %q", len(rows), plan.FileMountsEnv())
	}
	want := "/run/wrapix/mounts/0/id_ed25519:/home/dev/.ssh/id_ed25519"
	if rows[0] != want {
		t.Errorf("first row = %q, want %q", rows[0], want)
	}
}

// Directories deduplicate on the exact path only: the same directory
// requested twice shares one staging share, different directories do
// not collapse even when they share a parent.
func TestPlanMountsDirDedup(t *testing.T) {
	parent := t.TempDir()
	first := filepath.Join(parent, "first")
	second := filepath.Join(parent, "second")
	for _, dir := range []string{first, second} {
		if err := os.Mkdir(dir, 0o755); err != nil {
			t.Fatal(err)
		}
	}

	plan, err := PlanMounts(discard(), []string{
		first + ":/data/a",
		first + ":/data/b",
		second + ":/data/c",
	}, nil, nil)
	if err != nil {
		t.Fatalf("PlanMounts: %v", err)
	}

	if got := len(plan.Shares()); got != 2 {
		t.Fatalf("got %d staging shares, want 2: %+v", got, plan.Shares())
	}
	rows := strings.Split(plan.DirMountsEnv(), ",")
	if len(rows) != 3 {
		t.Fatalf("got %d copy rows, want 3: %q", len(rows), plan.DirMountsEnv())
	}
	// Both destinations of the deduplicated directory stage from the
	// same share.
	if !strings.HasPrefix(rows[0], "/run/wrapix/mounts/0:") ||
		!strings.HasPrefix(rows[1], "/run/wrapix/mounts/0:") {
		t.Errorf("deduplicated rows do not share staging dir: %q", plan.DirMountsEnv())
	}
	if !strings.HasPrefix(rows[2], "/run/wrapix/mounts/1:") {
		t.Errorf("distinct directory does not get its own share: %q", plan.DirMountsEnv())
	}
}

// Missing or mistyped host paths skip that entry without failing the
// plan.
func TestPlanMountsBestEffort(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "present")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	plan, err := PlanMounts(discard(),
		[]string{
			"/does/not/exist:/data/missing",
			file + ":/data/file-as-dir",
		},
		[]string{
			"/also/missing:/data/gone",
			dir + ":/data/dir-as-file",
			file + ":/data/present",
		},
		nil)
	if err != nil {
		t.Fatalf("PlanMounts: %v", err)
	}

	if got := plan.DirMountsEnv(); got != "" {
		t.Errorf("dir rows = %q, want none", got)
	}
	rows := strings.Split(plan.FileMountsEnv(), ",")
	if len(rows) != 1 || !strings.HasSuffix(rows[0], ":/data/present") {
		t.Errorf("file rows = %q, want only the present file", plan.FileMountsEnv())
	}
}

// Staging indices are allocated across directory and file requests in
// order, and tags follow the index.
func TestPlanMountsIndexAllocation(t *testing.T) {
	dataDir := t.TempDir()
	keyDir := t.TempDir()
	key := filepath.Join(keyDir, "token")
	if err := os.WriteFile(key, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	plan, err := PlanMounts(discard(),
		[]string{dataDir + ":/data"},
		[]string{key + ":/secrets/token"},
		nil)
	if err != nil {
		t.Fatalf("PlanMounts: %v", err)
	}

	shares := plan.Shares()
	if len(shares) != 2 {
		t.Fatalf("got %d shares, want 2", len(shares))
	}
	if shares[0].Tag() != "wrapix.m0" || shares[1].Tag() != "wrapix.m1" {
		t.Errorf("tags = %q, %q, want wrapix.m0, wrapix.m1", shares[0].Tag(), shares[1].Tag())
	}
	if shares[0].GuestDir() != "/run/wrapix/mounts/0" {
		t.Errorf("guest dir = %q", shares[0].GuestDir())
	}
	if got, want := plan.FileMountsEnv(), "/run/wrapix/mounts/1/token:/secrets/token"; got != want {
		t.Errorf("file rows = %q, want %q", got, want)
	}
}

// Socket requests contribute no shares, only guest paths for the
// permission fix-up.
func TestPlanMountsSockets(t *testing.T) {
	plan, err := PlanMounts(discard(), nil, nil, []string{
		"/run/host/agent.sock:/run/agent.sock",
		"/run/host/gpg.sock:/home/dev/.gnupg/S.gpg-agent",
	})
	if err != nil {
		t.Fatalf("PlanMounts: %v", err)
	}

	if len(plan.Shares()) != 0 {
		t.Errorf("sockets allocated %d shares, want 0", len(plan.Shares()))
	}
	want := "/run/agent.sock,/home/dev/.gnupg/S.gpg-agent"
	if got := plan.SocketMountsEnv(); got != want {
		t.Errorf("socket env = %q, want %q", got, want)
	}
}

func TestPlanMountsRejectsUnrepresentablePath(t *testing.T) {
	if _, err := PlanMounts(discard(), []string{"/has,comma:/data"}, nil, nil); err == nil {
		t.Error("expected error for comma in mount path")
	}
	if _, err := PlanMounts(discard(), nil, []string{"/a:/b:/c"}, nil); err == nil {
		t.Error("expected error for extra colon in mount spec")
	}
}
