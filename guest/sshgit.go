// Copyright 2026 The Wrapix Authors
// SPDX-License-Identifier: Apache-2.0

package guest

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
)

// ConfigureSSH finalizes ssh and git state after key material has been
// copied into the home directory by the mount phase. The shared
// filesystem flattens permissions, so copied keys arrive too open for
// ssh to accept; this tightens ~/.ssh to 0700/0600, derives any
// missing .pub files from the private keys, and writes minimal ssh and
// git configuration when the workload brought none of its own.
//
// A home with no ~/.ssh directory is the common case and a no-op.
func ConfigureSSH(home, username, workspace string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	sshDir := filepath.Join(home, ".ssh")
	if info, err := os.Stat(sshDir); err == nil && info.IsDir() {
		if err := tightenSSHDir(sshDir, logger); err != nil {
			return err
		}
		if err := writeFileIfAbsent(filepath.Join(sshDir, "config"), sshClientConfig, 0o600); err != nil {
			return fmt.Errorf("writing ssh config: %w", err)
		}
	}

	gitconfig := gitConfig(username, workspace)
	if err := writeFileIfAbsent(filepath.Join(home, ".gitconfig"), gitconfig, 0o644); err != nil {
		return fmt.Errorf("writing gitconfig: %w", err)
	}

	return nil
}

// sshClientConfig is written to ~/.ssh/config when the workload did
// not bring one. Host key checking stays on, but first contact is
// accepted so non-interactive clones of new remotes work.
const sshClientConfig = `Host *
	StrictHostKeyChecking accept-new
`

// gitConfig returns the minimal ~/.gitconfig for the remapped user.
// The safe.directory entry matters: the workspace is root-owned from
// git's perspective until the namespace remap applies, and git
// refuses to operate on repositories owned by another user without it.
func gitConfig(username, workspace string) string {
	var builder strings.Builder
	builder.WriteString("[user]\n")
	builder.WriteString("\tname = " + username + "\n")
	if workspace != "" {
		builder.WriteString("[safe]\n")
		builder.WriteString("\tdirectory = " + workspace + "\n")
	}
	return builder.String()
}

// tightenSSHDir fixes modes on the ssh directory and its files and
// derives missing public keys. Individual key problems are warnings:
// one unparseable file must not block the keys that did copy cleanly.
func tightenSSHDir(sshDir string, logger *slog.Logger) error {
	if err := os.Chmod(sshDir, 0o700); err != nil {
		return fmt.Errorf("chmod %s: %w", sshDir, err)
	}

	entries, err := os.ReadDir(sshDir)
	if err != nil {
		return fmt.Errorf("reading %s: %w", sshDir, err)
	}

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		path := filepath.Join(sshDir, entry.Name())
		if err := os.Chmod(path, 0o600); err != nil {
			logger.Warn("ssh file permission fix failed", "path", path, "error", err)
			continue
		}
		if strings.HasSuffix(entry.Name(), ".pub") || entry.Name() == "config" || entry.Name() == "known_hosts" {
			continue
		}
		if err := derivePublicKey(path); err != nil {
			logger.Debug("no public key derived", "path", path, "reason", err)
		}
	}

	return nil
}

// derivePublicKey writes path.pub in authorized_keys format when path
// holds a parseable private key and no .pub exists yet. Agents need
// the public half for things like registering deploy keys, and file
// mounts often carry only the private file.
func derivePublicKey(path string) error {
	publicPath := path + ".pub"
	if _, err := os.Stat(publicPath); err == nil {
		return fmt.Errorf("%s already exists", publicPath)
	}

	material, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	signer, err := ssh.ParsePrivateKey(material)
	if err != nil {
		return fmt.Errorf("not a private key: %w", err)
	}

	authorized := ssh.MarshalAuthorizedKey(signer.PublicKey())
	if err := os.WriteFile(publicPath, authorized, 0o644); err != nil {
		return err
	}
	return nil
}

// writeFileIfAbsent writes content to path unless the file already
// exists. Copied-in configuration always wins over the generated
// defaults.
func writeFileIfAbsent(path, content string, mode os.FileMode) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	return os.WriteFile(path, []byte(content), mode)
}
