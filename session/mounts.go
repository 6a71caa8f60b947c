// Copyright 2026 The Wrapix Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/taheris/wrapix/guest"
)

// MountRequest is one parsed host:guest mapping.
type MountRequest struct {
	Host  string
	Guest string
}

// ParseMountSpec parses a "host:guest" mount specification. Both sides
// must be absolute paths. Colons and commas inside paths are rejected:
// the plan is serialized to the guest as colon- and comma-separated
// environment variables, and such paths cannot be represented there.
func ParseMountSpec(spec string) (MountRequest, error) {
	parts := strings.Split(spec, ":")
	if len(parts) != 2 {
		return MountRequest{}, fmt.Errorf("mount spec %q must be host:guest", spec)
	}
	for _, p := range parts {
		if p == "" {
			return MountRequest{}, fmt.Errorf("mount spec %q has an empty path", spec)
		}
		if !filepath.IsAbs(p) {
			return MountRequest{}, fmt.Errorf("mount path %q must be absolute", p)
		}
		if strings.Contains(p, ",") {
			return MountRequest{}, fmt.Errorf("mount path %q contains a comma", p)
		}
	}
	return MountRequest{
		Host:  filepath.Clean(parts[0]),
		Guest: filepath.Clean(parts[1]),
	}, nil
}

// StagingShare is one directory exported to the guest through the
// shared filesystem. The guest's init mounts it before the entrypoint
// runs.
type StagingShare struct {
	// HostDir is the shared directory on the host.
	HostDir string

	// Index is the share's position in the plan. It determines the
	// mount tag and the guest mount point.
	Index int
}

// Tag returns the share's filesystem mount tag.
func (s StagingShare) Tag() string {
	return "wrapix.m" + strconv.Itoa(s.Index)
}

// GuestDir returns where the guest's init mounts the share.
func (s StagingShare) GuestDir() string {
	return path.Join(guest.StagingMountDir, strconv.Itoa(s.Index))
}

// MountPlan is the computed set of staging shares and guest-side copy
// instructions for one session. It is built once by PlanMounts and
// immutable afterwards.
type MountPlan struct {
	shares   []StagingShare
	dirRows  []mountRow
	fileRows []mountRow
	sockets  []string
}

// mountRow pairs a staged guest path with its final destination.
type mountRow struct {
	staging string
	dest    string
}

// PlanMounts resolves mount requests against the host filesystem.
//
// The shared-filesystem transport can only export directories, so
// every request maps to a directory share plus a guest-side copy.
// Each distinct host directory gets exactly one share no matter how
// many destinations reference it, and file mounts share their parent
// directory's share. Host paths that are missing or of the wrong type
// are skipped with a warning; the session proceeds without them.
// Socket requests are not shared at all: only their guest paths are
// recorded, for permission widening after the guest mounts them.
func PlanMounts(logger *slog.Logger, dirSpecs, fileSpecs, socketSpecs []string) (*MountPlan, error) {
	if logger == nil {
		logger = slog.Default()
	}
	plan := &MountPlan{}

	dirShares := make(map[string]int)
	for _, spec := range dirSpecs {
		req, err := ParseMountSpec(spec)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(req.Host)
		if err != nil {
			logger.Warn("skipping directory mount", "host", req.Host, "error", err)
			continue
		}
		if !info.IsDir() {
			logger.Warn("skipping directory mount: not a directory", "host", req.Host)
			continue
		}
		index, ok := dirShares[req.Host]
		if !ok {
			index = plan.addShare(req.Host)
			dirShares[req.Host] = index
		}
		plan.dirRows = append(plan.dirRows, mountRow{
			staging: plan.shares[index].GuestDir(),
			dest:    req.Guest,
		})
	}

	parentShares := make(map[string]int)
	for _, spec := range fileSpecs {
		req, err := ParseMountSpec(spec)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(req.Host)
		if err != nil {
			logger.Warn("skipping file mount", "host", req.Host, "error", err)
			continue
		}
		if !info.Mode().IsRegular() {
			logger.Warn("skipping file mount: not a regular file", "host", req.Host)
			continue
		}
		parent := filepath.Dir(req.Host)
		index, ok := parentShares[parent]
		if !ok {
			index = plan.addShare(parent)
			parentShares[parent] = index
		}
		plan.fileRows = append(plan.fileRows, mountRow{
			staging: path.Join(plan.shares[index].GuestDir(), filepath.Base(req.Host)),
			dest:    req.Guest,
		})
	}

	for _, spec := range socketSpecs {
		req, err := ParseMountSpec(spec)
		if err != nil {
			return nil, err
		}
		plan.sockets = append(plan.sockets, req.Guest)
	}

	return plan, nil
}

func (p *MountPlan) addShare(hostDir string) int {
	index := len(p.shares)
	p.shares = append(p.shares, StagingShare{HostDir: hostDir, Index: index})
	return index
}

// Shares returns the staging shares in index order. Callers must not
// modify the returned slice.
func (p *MountPlan) Shares() []StagingShare {
	return p.shares
}

// DirMountsEnv serializes the directory copy instructions as
// comma-joined "staging:destination" pairs.
func (p *MountPlan) DirMountsEnv() string {
	return joinRows(p.dirRows)
}

// FileMountsEnv serializes the file copy instructions as comma-joined
// "staging:destination" pairs.
func (p *MountPlan) FileMountsEnv() string {
	return joinRows(p.fileRows)
}

// SocketMountsEnv serializes the socket permission fix-up targets as
// comma-joined guest paths.
func (p *MountPlan) SocketMountsEnv() string {
	return strings.Join(p.sockets, ",")
}

func joinRows(rows []mountRow) string {
	parts := make([]string, len(rows))
	for i, row := range rows {
		parts[i] = row.staging + ":" + row.dest
	}
	return strings.Join(parts, ",")
}
