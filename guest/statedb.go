// Copyright 2026 The Wrapix Authors
// SPDX-License-Identifier: Apache-2.0

package guest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/taheris/wrapix/lib/sqlitepool"
)

// seedScriptName is the workspace-relative path of the optional seed
// script, and stateDBName the home-relative path of the database it
// initializes.
const (
	seedScriptName = ".wrapix/seed.sql"
	stateDBName    = ".local/share/wrapix/state.db"
)

// SeedStateDB initializes the workload's local state database from a
// workspace-resident seed script. Projects that want the agent to
// start with local state (task queues, tool caches) commit a
// .wrapix/seed.sql; everyone else gets a silent no-op. The script runs
// inside a savepoint, so a broken seed leaves no half-initialized
// database behind.
func SeedStateDB(ctx context.Context, workspace, home string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if workspace == "" {
		return nil
	}

	seedPath := filepath.Join(workspace, seedScriptName)
	script, err := os.ReadFile(seedPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading seed script: %w", err)
	}

	dbPath := filepath.Join(home, stateDBName)
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("creating state database directory: %w", err)
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   dbPath,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pool.ExecScript(ctx, string(script)); err != nil {
		return err
	}

	logger.Info("state database seeded", "seed", seedPath, "database", dbPath)
	return nil
}
