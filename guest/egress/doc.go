// Copyright 2026 The Wrapix Authors
// SPDX-License-Identifier: Apache-2.0

// Package egress installs the default-deny outbound filter for
// restricted-mode sessions.
//
// The filter is one nftables ruleset applied inside the guest, as
// root, before the workload starts: policy drop on the output hook,
// with accepts for loopback, established connections, DNS, and the
// addresses the allow-listed domains resolve to at install time.
// [Ruleset] generates the script as a pure function; [Install]
// resolves and applies it. On guests without nftables the filter
// degrades to a logged warning; when nft exists but rejects the
// ruleset, installation fails rather than running the session
// unfiltered.
package egress
