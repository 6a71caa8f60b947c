// Copyright 2026 The Wrapix Authors
// SPDX-License-Identifier: Apache-2.0

// wrapix-guest is the guest-side entrypoint for wrapix sessions. The
// guest init runs it as root after mounting the shared filesystems. It
// prepares the system from the control share's contract, then
// re-executes itself inside a user namespace that maps the host uid
// onto root and runs the workload there. The process exit code is the
// workload's exit code.
//
// Usage:
//
//	wrapix-guest            privileged setup, then namespace re-exec
//	wrapix-guest workload   internal: run the workload inside the namespace
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/taheris/wrapix/guest"
	"github.com/taheris/wrapix/lib/process"
)

func main() {
	// Set up logging. Output lands on the virtio console alongside the
	// workload's, so the default level stays quiet.
	logLevel := slog.LevelInfo
	if os.Getenv("WRAPIX_DEBUG") != "" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})).With("component", "guest")

	var (
		code int
		err  error
	)
	if len(os.Args) > 1 && os.Args[1] == guest.ReExecArg {
		code, err = workloadMain(logger)
	} else {
		code, err = setupMain(logger)
	}
	if err != nil {
		process.Fatal(err)
	}
	os.Exit(code)
}

// setupMain is the privileged phase: load the contract, prepare the
// system, then re-exec into the user namespace and wait for the
// workload.
func setupMain(logger *slog.Logger) (int, error) {
	setup := &guest.Setup{Logger: logger}
	contract, err := setup.Run(context.Background())
	if err != nil {
		return 0, err
	}
	return guest.ReExec(contract, logger)
}

// workloadMain runs inside the user namespace. The environment came
// through the re-exec unchanged, so the contract parses directly from
// it without touching the control share again.
func workloadMain(logger *slog.Logger) (int, error) {
	contract, err := guest.ParseContract()
	if err != nil {
		return 0, err
	}
	return guest.RunWorkload(contract, logger)
}
