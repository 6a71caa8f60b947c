// Copyright 2026 The Wrapix Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// auditRecord is one line of the append-only audit log. The pointer
// fields serialize as null when absent; every other field is always
// present.
type auditRecord struct {
	TimestampStart  string  `json:"timestamp_start"`
	TimestampEnd    string  `json:"timestamp_end"`
	DurationSeconds float64 `json:"duration_seconds"`
	ExitCode        int     `json:"exit_code"`
	Mode            string  `json:"mode"`
	CorrelatingID   *string `json:"correlating_id"`
	ChildSessionID  *string `json:"child_session_id"`
}

// appendAudit appends one record to the log at path. The serialized
// object contains no newlines and is written together with its
// trailing newline in a single write to an O_APPEND descriptor, so
// concurrent sessions never interleave partial lines.
func appendAudit(path string, record auditRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshaling audit record: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating audit log directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}

	if _, err := file.Write(append(data, '\n')); err != nil {
		file.Close()
		return fmt.Errorf("appending audit record: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("closing audit log: %w", err)
	}
	return nil
}
