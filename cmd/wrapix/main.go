// Copyright 2026 The Wrapix Authors
// SPDX-License-Identifier: Apache-2.0

// wrapix runs coding agents in isolated virtual machines.
//
// Usage:
//
//	wrapix run [flags] [--] [command...]
//	wrapix list
//	wrapix version
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/taheris/wrapix/lib/config"
	"github.com/taheris/wrapix/lib/process"
	"github.com/taheris/wrapix/lib/version"
	"github.com/taheris/wrapix/session"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	// Set up logging.
	logLevel := slog.LevelInfo
	if os.Getenv("WRAPIX_DEBUG") != "" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "run":
		err = runCmd(args, logger)
	case "list":
		err = listCmd(args)
	case "version", "--version", "-v":
		fmt.Printf("wrapix %s\n", version.Info())
		return
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		// The workload's exit code passes through unchanged.
		if code, ok := session.IsExitError(err); ok {
			os.Exit(code)
		}
		process.Fatal(err)
	}
}

func printUsage() {
	fmt.Print(`wrapix - Run coding agents in isolated virtual machines

USAGE
    wrapix <command> [flags] [-- <args>...]

COMMANDS
    run       Launch a sandboxed session
    list      List active sessions
    version   Show version

EXAMPLES
    # Run an agent against the current directory
    wrapix run -- claude --model opus

    # Restricted egress with an explicit allow-list
    wrapix run --net restricted --allow github.com --allow anthropic.com -- bash

    # Extra mounts and a correlating run ID
    wrapix run --mount-dir /srv/models:/models --run-id build-42 --piped -- make test

ENVIRONMENT
    WRAPIX_CONFIG   Path to the wrapix.yaml config file
    WRAPIX_DEBUG    Enable debug logging

For more information, see: https://github.com/taheris/wrapix
`)
}

// loadConfig resolves configuration: the --config flag wins, then
// WRAPIX_CONFIG, then built-in defaults. The defaults alone are enough
// for a fully flag-specified session.
func loadConfig(path string) (*config.Config, error) {
	switch {
	case path != "":
		return config.LoadFile(path)
	case os.Getenv("WRAPIX_CONFIG") != "":
		return config.Load()
	default:
		return config.Default(), nil
	}
}

// runCmd implements the "run" command.
func runCmd(args []string, logger *slog.Logger) error {
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	// Everything from the first non-flag argument on belongs to the
	// workload, including its own flags.
	fs.SetInterspersed(false)

	configPath := fs.String("config", "", "Config file (overrides WRAPIX_CONFIG)")
	workspace := fs.String("workspace", "", "Workspace directory (default: current directory)")
	image := fs.String("image", "", "Root filesystem image")
	kernel := fs.String("kernel", "", "Kernel image to boot")
	kernelCmdline := fs.String("kernel-cmdline", "", "Kernel command line")
	cpus := fs.Int("cpus", 0, "Virtual CPU count")
	memory := fs.Int("memory", 0, "Guest memory in MiB")
	netMode := fs.String("net", "", "Network mode: open or restricted")
	bridgeHelper := fs.String("bridge", "", "Network bridge helper binary")
	runID := fs.String("run-id", "", "Correlating run ID recorded in the audit log")
	piped := fs.Bool("piped", false, "Pass stdio through without an interactive terminal")
	mountDirs := fs.StringArray("mount-dir", nil, "Directory mount host:guest (repeatable)")
	mountFiles := fs.StringArray("mount-file", nil, "File mount host:guest (repeatable)")
	mountSockets := fs.StringArray("mount-socket", nil, "Socket mount host:guest (repeatable)")
	allow := fs.StringArray("allow", nil, "Domain allowed in restricted mode (repeatable)")
	dns := fs.StringArray("dns", nil, "Guest DNS resolver (repeatable)")

	fs.Usage = func() {
		fmt.Print(`wrapix run - Launch a sandboxed session

USAGE
    wrapix run [flags] [--] [command...]

FLAGS
`)
		fmt.Print(fs.FlagUsages())
		fmt.Print(`
EXAMPLES
    wrapix run -- claude --model opus
    wrapix run --net restricted --allow github.com -- bash
    wrapix run --workspace /src/project --piped -- make test
`)
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Flags override the config file per invocation.
	if *image != "" {
		cfg.VM.Image = *image
	}
	if *kernel != "" {
		cfg.VM.Kernel = *kernel
	}
	if *kernelCmdline != "" {
		cfg.VM.KernelCmdline = *kernelCmdline
	}
	if *cpus > 0 {
		cfg.VM.CPUs = *cpus
	}
	if *memory > 0 {
		cfg.VM.MemoryMiB = *memory
	}
	if *netMode != "" {
		cfg.Session.NetworkMode = *netMode
	}
	if len(*allow) > 0 {
		cfg.Session.AllowedDomains = *allow
	}
	if len(*dns) > 0 {
		cfg.VM.NATDNS = *dns
	}
	if *bridgeHelper != "" {
		cfg.Bridge.Helper = *bridgeHelper
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	dir := *workspace
	if dir == "" {
		dir, err = os.Getwd()
		if err != nil {
			return fmt.Errorf("resolving working directory: %w", err)
		}
	}
	dir, err = filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolving workspace path: %w", err)
	}

	command := fs.Args()
	if len(command) == 0 {
		command = []string{cfg.Session.DefaultCommand}
	}

	monitorPath, err := cfg.BinaryPath(cfg.VM.Monitor)
	if err != nil {
		return fmt.Errorf("resolving VM monitor: %w", err)
	}

	sessionCfg := session.Config{
		Workspace:       dir,
		Image:           cfg.VM.Image,
		Kernel:          cfg.VM.Kernel,
		KernelCmdline:   cfg.VM.KernelCmdline,
		CPUs:            cfg.VM.CPUs,
		MemoryMiB:       cfg.VM.MemoryMiB,
		Command:         command,
		Piped:           *piped,
		DirMounts:       append(cfg.Session.DirMounts, *mountDirs...),
		FileMounts:      append(cfg.Session.FileMounts, *mountFiles...),
		SocketMounts:    append(cfg.Session.SocketMounts, *mountSockets...),
		NetworkMode:     cfg.Session.NetworkMode,
		AllowedDomains:  cfg.Session.AllowedDomains,
		DNS:             cfg.VM.NATDNS,
		MonitorPath:     monitorPath,
		BridgeExtraArgs: cfg.Bridge.ExtraArgs,
		InstancesDir:    cfg.Paths.Instances,
		AuditLogPath:    cfg.Paths.AuditLog,
		RunID:           *runID,
		Logger:          logger,
	}

	if cfg.Bridge.Helper != "" {
		helperPath, err := cfg.BinaryPath(cfg.Bridge.Helper)
		if err != nil {
			return fmt.Errorf("resolving bridge helper: %w", err)
		}
		sessionCfg.BridgeHelperPath = helperPath
	}

	// Set up signal handling.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	s, err := session.New(sessionCfg)
	if err != nil {
		return err
	}
	logger.Debug("session created", "name", s.Name())
	return s.Run(ctx)
}

// listCmd implements the "list" command.
func listCmd(args []string) error {
	fs := pflag.NewFlagSet("list", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)

	configPath := fs.String("config", "", "Config file (overrides WRAPIX_CONFIG)")

	fs.Usage = func() {
		fmt.Print(`wrapix list - List active sessions

USAGE
    wrapix list [flags]

FLAGS
`)
		fmt.Print(fs.FlagUsages())
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	instances, err := session.List(cfg.Paths.Instances)
	if err != nil {
		return err
	}
	if len(instances) == 0 {
		fmt.Println("No active sessions.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATE\tPID\tNET\tWORKSPACE\tCREATED")
	for _, instance := range instances {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			instance.Name,
			instance.State,
			instance.PID,
			instance.NetworkMode,
			instance.Workspace,
			instance.CreatedAt.UTC().Format(time.RFC3339),
		)
	}
	return w.Flush()
}
