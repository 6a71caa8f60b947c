// Copyright 2026 The Wrapix Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers for the wrapix
// host and guest binaries. It centralizes the one legitimate raw I/O
// pattern that exists before the structured logger: fatal error
// reporting to stderr from main() when run() fails.
//
// Everything after logger initialization reports through slog; session
// exit codes are mirrored via session.IsExitError in the command
// entrypoints, not here.
package process
