// Copyright 2026 The Wrapix Authors
// SPDX-License-Identifier: Apache-2.0

package guest

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// CopyInstruction is one staged-path-to-destination copy the guest
// performs during setup. Staging names a path under the mounted
// staging shares; Dest is the final guest path.
type CopyInstruction struct {
	Staging string
	Dest    string
}

// Contract is the parsed guest environment contract. All fields come
// from process environment variables, which the entrypoint populates
// from the control share's env file. The contract survives the
// namespace re-exec unchanged because the environment is inherited.
type Contract struct {
	// HostUID and HostUser are the true host identity. The workload
	// runs as HostUID inside the remapped namespace.
	HostUID  int
	HostUser string

	// DirMounts and FileMounts are the copy instructions computed by
	// the host-side mount planner.
	DirMounts  []CopyInstruction
	FileMounts []CopyInstruction

	// SocketMounts are guest paths whose permissions are widened after
	// mounting.
	SocketMounts []string

	// NetworkMode is NetModeOpen or NetModeRestricted.
	NetworkMode string

	// AllowedDomains is the egress allow-list, consumed only in
	// restricted mode.
	AllowedDomains []string

	// Workspace is the workspace path, identical on host and guest.
	Workspace string

	// DNS lists resolver addresses for /etc/resolv.conf. Empty leaves
	// the guest's resolver state alone.
	DNS []string

	// TermRows and TermCols are the initial console geometry for the
	// workload PTY.
	TermRows int
	TermCols int
}

// LoadEnvFile reads a newline-separated KEY=VALUE file and sets each
// pair in the process environment. Blank lines and lines starting with
// '#' are ignored. The entrypoint calls this with the control share's
// env file before anything else reads the environment, so the contract
// behaves exactly as if the monitor had been able to set guest
// environment variables directly.
func LoadEnvFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening environment file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found || key == "" {
			return fmt.Errorf("environment file %s line %d: not KEY=VALUE: %q", path, lineNumber, line)
		}
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("setting %s: %w", key, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading environment file %s: %w", path, err)
	}
	return nil
}

// ParseContract reads the guest contract from the process environment.
// HostUID and HostUser are required: without a host identity there is
// nothing to remap to and the session cannot safely proceed. Everything
// else defaults to the quiet behavior (no copies, open network, 24x80
// console).
func ParseContract() (*Contract, error) {
	contract := &Contract{
		NetworkMode: NetModeOpen,
		TermRows:    24,
		TermCols:    80,
	}

	uidValue := os.Getenv(EnvHostUID)
	if uidValue == "" {
		return nil, fmt.Errorf("%s is not set", EnvHostUID)
	}
	uid, err := strconv.Atoi(uidValue)
	if err != nil || uid < 0 {
		return nil, fmt.Errorf("%s=%q is not a valid uid", EnvHostUID, uidValue)
	}
	contract.HostUID = uid

	contract.HostUser = os.Getenv(EnvHostUser)
	if contract.HostUser == "" {
		return nil, fmt.Errorf("%s is not set", EnvHostUser)
	}

	if contract.DirMounts, err = parseCopyList(EnvDirMounts); err != nil {
		return nil, err
	}
	if contract.FileMounts, err = parseCopyList(EnvFileMounts); err != nil {
		return nil, err
	}
	contract.SocketMounts = splitList(os.Getenv(EnvSocketMounts))

	switch mode := os.Getenv(EnvNetMode); mode {
	case "":
	case NetModeOpen, NetModeRestricted:
		contract.NetworkMode = mode
	default:
		return nil, fmt.Errorf("%s=%q is not %q or %q", EnvNetMode, mode, NetModeOpen, NetModeRestricted)
	}
	contract.AllowedDomains = splitList(os.Getenv(EnvAllowedDomains))
	contract.Workspace = os.Getenv(EnvWorkspace)
	contract.DNS = splitList(os.Getenv(EnvDNS))

	if rows, ok := parseGeometry(EnvTermRows); ok {
		contract.TermRows = rows
	}
	if cols, ok := parseGeometry(EnvTermCols); ok {
		contract.TermCols = cols
	}

	return contract, nil
}

// parseCopyList parses a comma-joined list of "staging:dest" pairs from
// the named environment variable. The host-side planner rejects paths
// containing the separator characters, so a malformed entry here means
// the contract was corrupted in transit and the session must not guess
// at what was meant.
func parseCopyList(envName string) ([]CopyInstruction, error) {
	value := os.Getenv(envName)
	if value == "" {
		return nil, nil
	}

	entries := strings.Split(value, ",")
	instructions := make([]CopyInstruction, 0, len(entries))
	for _, entry := range entries {
		staging, dest, found := strings.Cut(entry, ":")
		if !found || staging == "" || dest == "" {
			return nil, fmt.Errorf("%s entry %q is not staging:dest", envName, entry)
		}
		instructions = append(instructions, CopyInstruction{Staging: staging, Dest: dest})
	}
	return instructions, nil
}

// splitList splits a comma-joined list, dropping empty entries.
func splitList(value string) []string {
	if value == "" {
		return nil
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}

// parseGeometry reads a positive integer from the environment,
// reporting whether a usable value was present. Malformed geometry is
// not worth failing a session over; the default applies.
func parseGeometry(envName string) (int, bool) {
	value := os.Getenv(envName)
	if value == "" {
		return 0, false
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
