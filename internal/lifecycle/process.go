// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/tombee/functest/internal/log"
)

// Default shutdown timings.
const (
	// DefaultTermTimeout is how long to wait after SIGTERM.
	DefaultTermTimeout = 10 * time.Second

	// DefaultKillWait is the additional wait after SIGKILL.
	DefaultKillWait = 20 * time.Second

	pollInterval = 100 * time.Millisecond
)

var (
	// ErrProcessNotRunning is returned when the process does not exist.
	ErrProcessNotRunning = errors.New("process not running")

	// ErrShutdownTimeout is returned when the process doesn't exit within the timeout.
	ErrShutdownTimeout = errors.New("shutdown timeout exceeded")

	// ErrShutdownFailed is returned when the process survives SIGKILL.
	ErrShutdownFailed = errors.New("failed to shut down process")
)

// ProcessInfo contains information about a running process.
type ProcessInfo struct {
	PID     int
	Running bool
	Command string
}

// ShutdownOptions controls Shutdown timings.
type ShutdownOptions struct {
	// TermTimeout is the wait after SIGTERM before escalating.
	// Default: DefaultTermTimeout
	TermTimeout time.Duration

	// KillWait is the wait after SIGKILL before giving up.
	// Default: DefaultKillWait
	KillWait time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

func (o ShutdownOptions) withDefaults() ShutdownOptions {
	if o.TermTimeout <= 0 {
		o.TermTimeout = DefaultTermTimeout
	}
	if o.KillWait <= 0 {
		o.KillWait = DefaultKillWait
	}
	o.Logger = log.OrDefault(o.Logger)
	return o
}

// IsProcessRunning checks if a process with the given PID exists.
// Zombies count as exited.
func IsProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// On Unix, FindProcess always succeeds, so we need to send signal 0
	if err := proc.Signal(syscall.Signal(0)); err != nil {
		return false
	}

	return !isZombie(pid)
}

// SendSignal sends a signal to the given process.
func SendSignal(pid int, sig syscall.Signal) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}

	if err := proc.Signal(sig); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("%w: %d", ErrProcessNotRunning, pid)
		}
		return fmt.Errorf("failed to send signal %v to process %d: %w", sig, pid, err)
	}

	return nil
}

// WaitForExit waits for the process to exit, checking every 100ms.
// Returns ErrShutdownTimeout if the process is still running after timeout.
func WaitForExit(ctx context.Context, pid int, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if !IsProcessRunning(pid) {
			return nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return ErrShutdownTimeout
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Shutdown sends SIGTERM and waits opts.TermTimeout for the process to
// exit. If it is still alive, it sends SIGKILL and waits opts.KillWait.
// A process that exits on its own before SIGKILL counts as shut down.
func Shutdown(ctx context.Context, pid int, opts ShutdownOptions) error {
	opts = opts.withDefaults()
	logger := log.WithDaemon(opts.Logger, pid)

	if !IsProcessRunning(pid) {
		return ErrProcessNotRunning
	}

	if err := SendSignal(pid, syscall.SIGTERM); err != nil {
		if errors.Is(err, ErrProcessNotRunning) {
			return nil
		}
		return fmt.Errorf("failed to send SIGTERM: %w", err)
	}

	err := WaitForExit(ctx, pid, opts.TermTimeout)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrShutdownTimeout) {
		return err
	}

	logger.Info("process did not terminate, sending SIGKILL", "term_timeout", opts.TermTimeout)

	if err := SendSignal(pid, syscall.SIGKILL); err != nil {
		if errors.Is(err, ErrProcessNotRunning) || !IsProcessRunning(pid) {
			return nil
		}
		return fmt.Errorf("failed to send SIGKILL: %w", err)
	}

	if err := WaitForExit(ctx, pid, opts.KillWait); err != nil {
		cmd, _ := getProcessCommand(pid)
		return fmt.Errorf("%w %d (%s): %w", ErrShutdownFailed, pid, cmd, err)
	}

	return nil
}

// ShutdownWithChildren shuts down pid and then each of its direct
// children. The children are listed before the parent is signalled, since
// they get reparented once it exits. A missing parent is not an error and
// failures to stop children are only logged.
func ShutdownWithChildren(ctx context.Context, pid int, opts ShutdownOptions) error {
	opts = opts.withDefaults()

	if !IsProcessRunning(pid) {
		return nil
	}

	children, err := Children(pid)
	if err != nil {
		opts.Logger.Warn("failed to list child processes", log.PIDKey, pid, "error", err)
	}

	if err := Shutdown(ctx, pid, opts); err != nil && !errors.Is(err, ErrProcessNotRunning) {
		return err
	}

	for _, child := range children {
		if err := Shutdown(ctx, child, opts); err != nil && !errors.Is(err, ErrProcessNotRunning) {
			opts.Logger.Warn("failed to shut down child process", log.PIDKey, child, "error", err)
		}
	}

	return nil
}

// Children returns the PIDs of the direct children of pid.
func Children(pid int) ([]int, error) {
	return listChildren(pid)
}

// CommandContains reports whether the command line of pid contains
// needle. It guards against signalling an unrelated process that reused
// the PID from a stale PID file.
func CommandContains(pid int, needle string) bool {
	cmd, err := getProcessCommand(pid)
	if err != nil {
		return false
	}
	return strings.Contains(cmd, needle)
}

// GetProcessInfo returns information about the process with the given PID.
func GetProcessInfo(pid int) (*ProcessInfo, error) {
	info := &ProcessInfo{
		PID:     pid,
		Running: IsProcessRunning(pid),
	}

	if info.Running {
		cmd, err := getProcessCommand(pid)
		if err != nil {
			info.Command = "<unknown>"
		} else {
			info.Command = cmd
		}
	}

	return info, nil
}
