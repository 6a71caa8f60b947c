// Copyright 2026 The Wrapix Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/taheris/wrapix/bridge"
	"github.com/taheris/wrapix/guest"
	"github.com/taheris/wrapix/lib/binhash"
	"github.com/taheris/wrapix/lib/clock"
)

// monitorGrace is how long a cancelled session waits after SIGTERM
// before escalating to SIGKILL.
const monitorGrace = 3 * time.Second

// Session owns one environment from creation through deletion.
type Session struct {
	cfg    *Config
	name   string
	runID  string
	logger *slog.Logger
	clk    clock.Clock

	instanceDir string
	controlDir  string

	plan      *MountPlan
	bridge    *bridge.Bridge
	bridgeDir string
	instance  *Instance
	monitor   *exec.Cmd
	reaped    bool
	exitCode  int
	childID   string
}

// New validates the configuration and prepares a session. Nothing
// touches the filesystem until Run.
func New(cfg Config) (*Session, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	runID := cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	name := fmt.Sprintf("wrapix-%d", os.Getpid())
	instanceDir := filepath.Join(cfg.InstancesDir, name)

	return &Session{
		cfg:         &cfg,
		name:        name,
		runID:       runID,
		logger:      logger,
		clk:         clk,
		instanceDir: instanceDir,
		controlDir:  filepath.Join(instanceDir, "ctl"),
	}, nil
}

// Name returns the session's instance name, derived from the owning
// process id.
func (s *Session) Name() string {
	return s.name
}

// Run drives the session from creation through deletion and blocks
// until the workload exits. The returned error is an *ExitError when
// the workload exited non-zero; anything else is a setup failure.
// Cancelling ctx terminates the monitor; teardown runs regardless.
func (s *Session) Run(ctx context.Context) error {
	start := s.clk.Now()

	// Deferred in this order so cleanup runs first and the audit
	// record is the session's last act on every path out.
	defer s.writeAuditRecord(start)
	defer s.cleanup()

	if err := s.create(ctx); err != nil {
		return err
	}
	return s.execute(ctx)
}

// create materializes the instance: directories, mount plan, network
// attachment, persisted record, and the guest control files.
func (s *Session) create(ctx context.Context) error {
	if err := os.MkdirAll(s.controlDir, 0o755); err != nil {
		return fmt.Errorf("creating instance directory: %w", err)
	}

	plan, err := PlanMounts(s.logger, s.cfg.DirMounts, s.cfg.FileMounts, s.cfg.SocketMounts)
	if err != nil {
		return err
	}
	s.plan = plan

	// A configured bridge either starts or the session does not. The
	// NAT attachment is chosen only when no helper was configured at
	// all, never as a runtime downgrade.
	if s.cfg.BridgeHelperPath != "" {
		// The helper's sockets live in their own short-named directory:
		// the instance directory's path can exceed what a sockaddr_un
		// holds.
		socketDir, err := os.MkdirTemp("", "wrapix-net-")
		if err != nil {
			return fmt.Errorf("creating bridge socket directory: %w", err)
		}
		s.bridgeDir = socketDir
		s.bridge = &bridge.Bridge{
			HelperPath: s.cfg.BridgeHelperPath,
			SocketDir:  socketDir,
			ExtraArgs:  s.cfg.BridgeExtraArgs,
			Logger:     s.logger,
			Clock:      s.clk,
		}
		if err := s.bridge.Start(ctx); err != nil {
			return err
		}
	}

	s.instance = &Instance{
		Name:          s.name,
		State:         StateCreated,
		Workspace:     s.cfg.Workspace,
		Image:         s.cfg.Image,
		ImageDigest:   s.digest(s.cfg.Image),
		Kernel:        s.cfg.Kernel,
		KernelDigest:  s.digest(s.cfg.Kernel),
		NetworkMode:   s.networkMode(),
		CorrelatingID: s.runID,
		CreatedAt:     s.clk.Now(),
	}
	if err := writeInstance(s.instanceDir, s.instance); err != nil {
		return err
	}

	rows, cols := terminalGeometry(s.cfg.Piped)
	env, err := s.guestEnv(rows, cols)
	if err != nil {
		return err
	}
	if err := writeGuestEnv(filepath.Join(s.controlDir, guest.EnvFileName), env); err != nil {
		return err
	}
	if err := writeEntryScript(filepath.Join(s.controlDir, guest.EntryScriptName), s.cfg.Command); err != nil {
		return err
	}

	s.logger.Info("session created",
		"name", s.name,
		"workspace", s.cfg.Workspace,
		"network_mode", s.networkMode(),
		"bridged", s.bridge != nil,
		"staging_shares", len(plan.Shares()),
	)
	return nil
}

// execute launches the monitor, tracks the Started/Running/Exited
// transitions, and waits for exit. While running, exactly two tasks
// are live: the exit wait and, with a terminal attached, the resize
// forwarder; the forwarder is cancelled the moment the exit wait
// completes.
func (s *Session) execute(ctx context.Context) error {
	args := monitorArgs(s.cfg, s.plan, s.controlDir, s.bridge != nil)
	cmd := exec.Command(s.cfg.MonitorPath, args...)

	// Own process group so termination reaches the monitor and
	// anything it forks.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if s.bridge != nil {
		frameFile, err := s.bridge.File()
		if err != nil {
			return err
		}
		defer frameFile.Close()
		cmd.ExtraFiles = []*os.File{frameFile}
	}

	var cons *console
	if s.cfg.Piped {
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("starting monitor %s: %w", s.cfg.MonitorPath, err)
		}
	} else {
		var err error
		cons, err = startInteractive(cmd, s.logger)
		if err != nil {
			return err
		}
		defer cons.Close()
	}
	s.monitor = cmd

	s.instance.PID = cmd.Process.Pid
	s.instance.State = StateStarted
	if err := writeInstance(s.instanceDir, s.instance); err != nil {
		return err
	}
	s.logger.Info("monitor started", "pid", cmd.Process.Pid, "monitor", s.cfg.MonitorPath)

	s.instance.State = StateRunning
	if err := writeInstance(s.instanceDir, s.instance); err != nil {
		return err
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	var waitErr error
	var terminated bool

	var group errgroup.Group
	group.Go(func() error {
		defer cancelRun()
		select {
		case waitErr = <-waitCh:
		case <-ctx.Done():
			terminated = true
			s.logger.Info("session cancelled, terminating monitor", "cause", ctx.Err())
			waitErr = s.terminateMonitor(waitCh)
		}
		return nil
	})
	if cons != nil {
		group.Go(func() error {
			cons.forwardResizes(runCtx)
			return nil
		})
	}
	_ = group.Wait()
	s.reaped = true

	code, err := exitCodeFromWait(waitErr)
	if err != nil {
		return fmt.Errorf("waiting for monitor: %w", err)
	}
	s.exitCode = code

	s.instance.State = StateExited
	if err := writeInstance(s.instanceDir, s.instance); err != nil {
		s.logger.Warn("exited state not recorded", "error", err)
	}
	s.logger.Info("session exited", "exit_code", code, "terminated", terminated)

	if code != 0 {
		return &ExitError{Code: code}
	}
	return nil
}

// terminateMonitor signals the monitor's process group and waits for
// it to die: SIGTERM, a bounded grace, then SIGKILL. Returns the wait
// result so the exit code of a termination is still the process's own.
func (s *Session) terminateMonitor(waitCh <-chan error) error {
	pid := s.monitor.Process.Pid

	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && err != syscall.ESRCH {
		s.logger.Warn("signalling monitor", "pid", pid, "error", err)
	}

	select {
	case err := <-waitCh:
		return err
	case <-s.clk.After(monitorGrace):
		s.logger.Warn("monitor ignored SIGTERM, killing", "pid", pid)
		if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
			s.logger.Warn("killing monitor", "pid", pid, "error", err)
		}
		return <-waitCh
	}
}

// cleanup deletes the environment instance. It runs on every path out
// of Run, and its failures are logged without changing the session's
// outcome.
func (s *Session) cleanup() {
	// The workload's result note must be read before the instance
	// directory goes away; the audit record needs it afterwards.
	s.childID = readResult(filepath.Join(s.controlDir, guest.ResultFileName))

	if s.monitor != nil && s.monitor.Process != nil && !s.reaped {
		pid := s.monitor.Process.Pid
		if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
			s.logger.Warn("killing monitor", "pid", pid, "error", err)
		}
		_ = s.monitor.Wait()
	}

	if s.bridge != nil {
		s.bridge.Stop()
	}
	if s.bridgeDir != "" {
		if err := os.RemoveAll(s.bridgeDir); err != nil {
			s.logger.Warn("bridge socket directory not removed", "path", s.bridgeDir, "error", err)
		}
	}

	if err := os.RemoveAll(s.instanceDir); err != nil {
		s.logger.Warn("instance directory not removed", "path", s.instanceDir, "error", err)
	}
}

// writeAuditRecord appends the session's one audit line. Runs after
// cleanup on every path out of Run; a session that never reached
// Running records exit code 0 with its setup failure reported through
// the process exit status instead.
func (s *Session) writeAuditRecord(start time.Time) {
	end := s.clk.Now()
	record := auditRecord{
		TimestampStart:  start.UTC().Format(time.RFC3339Nano),
		TimestampEnd:    end.UTC().Format(time.RFC3339Nano),
		DurationSeconds: end.Sub(start).Seconds(),
		ExitCode:        s.exitCode,
		Mode:            s.networkMode(),
		CorrelatingID:   optional(s.runID),
		ChildSessionID:  optional(s.childID),
	}
	if err := appendAudit(s.cfg.AuditLogPath, record); err != nil {
		s.logger.Error("audit record not written", "path", s.cfg.AuditLogPath, "error", err)
	}
}

// guestEnv assembles the environment contract consumed by the guest
// entrypoint.
func (s *Session) guestEnv(rows, cols int) (map[string]string, error) {
	uid, username, err := hostIdentity()
	if err != nil {
		return nil, err
	}
	return map[string]string{
		guest.EnvHostUID:        strconv.Itoa(uid),
		guest.EnvHostUser:       username,
		guest.EnvDirMounts:      s.plan.DirMountsEnv(),
		guest.EnvFileMounts:     s.plan.FileMountsEnv(),
		guest.EnvSocketMounts:   s.plan.SocketMountsEnv(),
		guest.EnvNetMode:        s.networkMode(),
		guest.EnvAllowedDomains: strings.Join(s.cfg.AllowedDomains, ","),
		guest.EnvWorkspace:      s.cfg.Workspace,
		guest.EnvDNS:            strings.Join(s.cfg.DNS, ","),
		guest.EnvTermRows:       strconv.Itoa(rows),
		guest.EnvTermCols:       strconv.Itoa(cols),
	}, nil
}

func (s *Session) networkMode() string {
	if s.cfg.NetworkMode == "" {
		return guest.NetModeOpen
	}
	return s.cfg.NetworkMode
}

// digest hashes a boot artifact for the instance record. Failures are
// warnings: a missing image fails monitor startup with a clearer error
// a moment later.
func (s *Session) digest(path string) string {
	digest, err := binhash.HashFileHex(path)
	if err != nil {
		s.logger.Warn("artifact not hashed", "path", path, "error", err)
		return ""
	}
	return digest
}

// hostIdentity returns the invoking user's uid and username, the
// identity the guest remaps to.
func hostIdentity() (int, string, error) {
	current, err := user.Current()
	if err != nil {
		return 0, "", fmt.Errorf("resolving host identity: %w", err)
	}
	return os.Getuid(), current.Username, nil
}

// exitCodeFromWait maps a Wait result to the session exit code. An
// unstarted or unreapable process is an infrastructure error; a process
// that died to a signal reports 1.
func exitCodeFromWait(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		if code < 0 {
			code = 1
		}
		return code, nil
	}
	return 0, err
}

// readResult returns the trimmed contents of the workload's result
// file, or empty when it was never written.
func readResult(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// optional converts a possibly-empty string to the pointer form the
// audit record serializes as value-or-null.
func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

// ExitError carries the workload's non-zero exit code out of Run. The
// code is surfaced unchanged, never interpreted.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("session exited with code %d", e.Code)
}

// IsExitError checks if an error is an ExitError and returns the code.
func IsExitError(err error) (int, bool) {
	if exitErr, ok := err.(*ExitError); ok {
		return exitErr.Code, true
	}
	return 0, false
}
