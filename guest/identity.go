// Copyright 2026 The Wrapix Authors
// SPDX-License-Identifier: Apache-2.0

package guest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnsureUser adds the host user to the guest's user and group
// databases under etcDir. The entry uses the host uid for both uid and
// gid so that tools consulting the user database agree with what the
// remapped namespace reports. Idempotent: an existing entry with the
// same name is left alone.
//
// The image ships a minimal passwd containing only root; appending is
// safe because nothing else edits these files during a session.
func EnsureUser(etcDir, username string, uid int) error {
	passwdLine := fmt.Sprintf("%s:x:%d:%d:wrapix host user:%s:/bin/bash",
		username, uid, uid, HomeDir(username))
	if err := appendUnlessPresent(filepath.Join(etcDir, "passwd"), username, passwdLine); err != nil {
		return fmt.Errorf("updating passwd: %w", err)
	}

	groupLine := fmt.Sprintf("%s:x:%d:", username, uid)
	if err := appendUnlessPresent(filepath.Join(etcDir, "group"), username, groupLine); err != nil {
		return fmt.Errorf("updating group: %w", err)
	}

	return nil
}

// HomeDir returns the guest home directory for a username.
func HomeDir(username string) string {
	return "/home/" + username
}

// appendUnlessPresent appends line to the colon-delimited database at
// path unless an entry named name already exists. The file is created
// if missing, and a missing trailing newline on the existing content
// is repaired so the appended entry starts a fresh line.
func appendUnlessPresent(path, name, line string) error {
	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}

	for _, entry := range strings.Split(string(existing), "\n") {
		if entryName, _, found := strings.Cut(entry, ":"); found && entryName == name {
			return nil
		}
	}

	content := string(existing)
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	content += line + "\n"

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return err
	}
	return nil
}
