// Copyright 2026 The Wrapix Authors
// SPDX-License-Identifier: Apache-2.0

package egress

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os/exec"
	"sort"
	"strings"
)

// tableName is the nftables table the filter owns. Declaring and
// deleting it at the top of the script makes installation idempotent:
// re-running replaces the previous ruleset instead of stacking rules.
const tableName = "wrapix_egress"

// Install resolves the allow-listed domains with the guest's own
// resolver, generates the default-deny ruleset, and applies it via
// nft. Resolution happens at install time so the addresses reflect
// what the guest's DNS state answers; an image-build-time snapshot
// would drift.
//
// A platform without nftables downgrades to a warning: the session
// proceeds unfiltered rather than failing. An nft that exists but
// rejects the ruleset is an error instead — restricted mode must not
// run unfiltered when filtering was available. Resolution failures
// only narrow the accept set, never widen it.
func Install(ctx context.Context, domains []string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	nftPath, err := exec.LookPath("nft")
	if err != nil {
		logger.Warn("nft not found, egress filtering disabled", "error", err)
		return nil
	}

	addrs := ResolveAllowed(ctx, net.DefaultResolver, domains, logger)
	script := Ruleset(addrs)

	cmd := exec.CommandContext(ctx, nftPath, "-f", "-")
	cmd.Stdin = strings.NewReader(script)
	if output, err := cmd.CombinedOutput(); err != nil {
		if detail := strings.TrimSpace(string(output)); detail != "" {
			return fmt.Errorf("applying egress ruleset: %w: %s", err, detail)
		}
		return fmt.Errorf("applying egress ruleset: %w", err)
	}

	logger.Info("egress filter installed",
		"domains", len(domains),
		"addresses", len(addrs),
	)
	return nil
}

// ResolveAllowed resolves each domain to its current addresses. A
// domain that does not resolve contributes nothing and is logged, it
// does not fail the install: the filter stays default-deny either way.
// The result is sorted and deduplicated so that identical inputs
// always generate an identical ruleset.
func ResolveAllowed(ctx context.Context, resolver *net.Resolver, domains []string, logger *slog.Logger) []netip.Addr {
	if logger == nil {
		logger = slog.Default()
	}

	seen := make(map[netip.Addr]bool)
	var addrs []netip.Addr
	for _, domain := range domains {
		resolved, err := resolver.LookupNetIP(ctx, "ip", domain)
		if err != nil {
			logger.Warn("allow-listed domain did not resolve", "domain", domain, "error", err)
			continue
		}
		for _, addr := range resolved {
			addr = addr.Unmap()
			if !seen[addr] {
				seen[addr] = true
				addrs = append(addrs, addr)
			}
		}
	}

	sort.Slice(addrs, func(i, j int) bool {
		return addrs[i].Less(addrs[j])
	})
	return addrs
}

// Ruleset generates the nft script for the given accept set. Pure
// function: same addresses in, same script out.
//
// Rule order is the contract: default policy drop, then loopback,
// established/related, DNS over UDP and TCP (the allow-list names
// still have to resolve at connect time from inside the guest), then
// one accept per allowed address. Anything not matched falls through
// to the drop policy.
func Ruleset(addrs []netip.Addr) string {
	var builder strings.Builder
	builder.WriteString("table inet " + tableName + "\n")
	builder.WriteString("delete table inet " + tableName + "\n")
	builder.WriteString("table inet " + tableName + " {\n")
	builder.WriteString("\tchain output {\n")
	builder.WriteString("\t\ttype filter hook output priority 0; policy drop;\n")
	builder.WriteString("\t\toifname \"lo\" accept\n")
	builder.WriteString("\t\tct state established,related accept\n")
	builder.WriteString("\t\tudp dport 53 accept\n")
	builder.WriteString("\t\ttcp dport 53 accept\n")
	for _, addr := range addrs {
		if addr.Is4() {
			fmt.Fprintf(&builder, "\t\tip daddr %s accept\n", addr)
		} else {
			fmt.Fprintf(&builder, "\t\tip6 daddr %s accept\n", addr)
		}
	}
	builder.WriteString("\t}\n")
	builder.WriteString("}\n")
	return builder.String()
}
