// Copyright 2026 The Wrapix Authors
// SPDX-License-Identifier: Apache-2.0

package guest

import "testing"

func TestUIDMappings(t *testing.T) {
	mappings := uidMappings(1000)
	if len(mappings) != 1 {
		t.Fatalf("got %d uid mappings, want exactly 1", len(mappings))
	}

	m := mappings[0]
	if m.ContainerID != 1000 {
		t.Errorf("ContainerID = %d, want 1000", m.ContainerID)
	}
	if m.HostID != 0 {
		t.Errorf("HostID = %d, want 0 (outer root)", m.HostID)
	}
	if m.Size != 1 {
		t.Errorf("Size = %d, want 1 (single uid, nothing else resolvable)", m.Size)
	}
}

func TestGIDMappingsMirrorsUID(t *testing.T) {
	uid := uidMappings(501)
	gid := gidMappings(501)
	if len(gid) != 1 {
		t.Fatalf("got %d gid mappings, want exactly 1", len(gid))
	}
	if gid[0] != uid[0] {
		t.Errorf("gid mapping %+v differs from uid mapping %+v", gid[0], uid[0])
	}
}
