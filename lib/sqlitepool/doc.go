// Copyright 2026 The Wrapix Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides a wrapix-standard SQLite connection pool.
//
// The guest setup phase seeds a state database inside the sandbox: a
// workspace-resident SQL script is executed against a fresh database
// file so the workload starts with structured local state (task
// queues, tool caches, prior-session indexes). This package wraps
// zombiezen.com/go/sqlite with the pragmas that seeding and subsequent
// guest reads need: WAL journal mode, NORMAL synchronous, and a busy
// timeout for write contention.
//
// The pool is built on zombiezen's sqlitex.Pool, which manages a
// fixed-size set of connections. Callers [Pool.Take] a connection,
// perform work, and [Pool.Put] it back. Connections are NOT safe for
// concurrent use — each goroutine must hold its own connection for the
// duration of its work. [Pool.ExecScript] is the common path: it takes
// a connection, runs a multi-statement script inside a savepoint, and
// returns the connection.
//
// # Pragmas
//
// Every connection in the pool is initialized with these pragmas:
//
//   - journal_mode=WAL: write-ahead logging for concurrent readers and
//     a single writer. Reads never block writes; writes never block
//     reads.
//   - synchronous=NORMAL: transactions survive process crashes. Not
//     durable across OS crashes or power failure — acceptable for a
//     sandbox state database that is re-seeded on every session start.
//   - busy_timeout=5000: wait up to 5 seconds for a write lock instead
//     of returning SQLITE_BUSY immediately.
//   - temp_store=MEMORY: temporary tables and indexes in memory.
//
// # Usage
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{
//	    Path:   "/run/wrapix/state.db",
//	    Logger: logger,
//	})
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	if err := pool.ExecScript(ctx, seedSQL); err != nil {
//	    return err
//	}
//
// # Design
//
// This package is intentionally thin: it applies standard pragmas and
// exposes the underlying zombiezen types directly. There is no attempt
// to abstract away SQLite's connection model or invent a query builder.
// Callers write SQL and use sqlitex.Execute for anything beyond the
// seeding script.
package sqlitepool
