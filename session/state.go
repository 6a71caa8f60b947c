// Copyright 2026 The Wrapix Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/taheris/wrapix/lib/codec"
)

// instanceRecordName is the record file inside each instance
// directory.
const instanceRecordName = "instance.cbor"

// Instance lifecycle states as persisted in the record. A deleted
// instance has no record: deletion removes the whole directory.
const (
	StateCreated = "created"
	StateStarted = "started"
	StateRunning = "running"
	StateExited  = "exited"
)

// Instance is the persisted record of one session, written to
// <instances>/<name>/instance.cbor and rewritten atomically on each
// state transition.
type Instance struct {
	Name          string    `cbor:"name"`
	PID           int       `cbor:"pid"`
	State         string    `cbor:"state"`
	Workspace     string    `cbor:"workspace"`
	Image         string    `cbor:"image"`
	ImageDigest   string    `cbor:"image_digest"`
	Kernel        string    `cbor:"kernel"`
	KernelDigest  string    `cbor:"kernel_digest"`
	NetworkMode   string    `cbor:"network_mode"`
	CorrelatingID string    `cbor:"correlating_id,omitempty"`
	CreatedAt     time.Time `cbor:"created_at"`
}

// writeInstance persists the record into dir. The write is atomic:
// temporary file, sync, rename. A reader never observes a partial
// record.
func writeInstance(dir string, instance *Instance) error {
	data, err := codec.Marshal(instance)
	if err != nil {
		return fmt.Errorf("marshaling instance record: %w", err)
	}

	recordPath := filepath.Join(dir, instanceRecordName)
	temporaryPath := recordPath + ".tmp"

	file, err := os.OpenFile(temporaryPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating temporary instance record: %w", err)
	}

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("writing temporary instance record: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(temporaryPath)
		return fmt.Errorf("syncing temporary instance record: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing temporary instance record: %w", err)
	}

	if err := os.Rename(temporaryPath, recordPath); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming instance record into place: %w", err)
	}

	return nil
}

// readInstance loads the record from dir.
func readInstance(dir string) (*Instance, error) {
	data, err := os.ReadFile(filepath.Join(dir, instanceRecordName))
	if err != nil {
		return nil, err
	}
	var instance Instance
	if err := codec.Unmarshal(data, &instance); err != nil {
		return nil, fmt.Errorf("decoding instance record in %s: %w", dir, err)
	}
	return &instance, nil
}

// List returns the instance records under instancesDir, sorted by
// name. Directories without a record file are skipped: they belong to
// sessions that are mid-create or mid-delete. A missing instances
// directory yields an empty list.
func List(instancesDir string) ([]*Instance, error) {
	entries, err := os.ReadDir(instancesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading instances directory: %w", err)
	}

	var instances []*Instance
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		instance, err := readInstance(filepath.Join(instancesDir, entry.Name()))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		instances = append(instances, instance)
	}

	sort.Slice(instances, func(i, j int) bool {
		return instances[i].Name < instances[j].Name
	})
	return instances, nil
}
