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

// Package daemon implements the "functest daemon" commands.
package daemon

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/tombee/functest/internal/commands/shared"
	"github.com/tombee/functest/internal/config"
	"github.com/tombee/functest/internal/lifecycle"
	"github.com/tombee/functest/internal/log"
)

// EventLogName is the lifecycle journal written next to the PID file.
const EventLogName = "lifecycle.jsonl"

// NewCommand creates the daemon command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Start, stop and signal the daemon under test",
		Long: `Manage the lifecycle of the daemon under test.

The daemon is addressed either by --pid or by the PID file it writes.
Every action is journalled to lifecycle.jsonl next to the PID file.`,
	}

	cmd.AddCommand(newStartCommand())
	cmd.AddCommand(newStopCommand())
	cmd.AddCommand(newSignalCommand())
	cmd.AddCommand(newStatusCommand())
	cmd.AddCommand(newWaitCommand())

	return cmd
}

// target identifies a running daemon by PID or PID file.
type target struct {
	pid     int
	pidFile string
}

func (t *target) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&t.pid, "pid", 0, "Daemon PID")
	cmd.Flags().StringVar(&t.pidFile, "pid-file", "", "Daemon PID file (default from config)")
	cmd.MarkFlagsMutuallyExclusive("pid", "pid-file")
}

// resolve returns the target PID. With neither flag set the configured
// PID file is read.
func (t *target) resolve(cfg *config.Config) (int, error) {
	if t.pid != 0 {
		if t.pid < 0 {
			return 0, shared.NewUsageError(fmt.Sprintf("invalid --pid %d", t.pid), nil)
		}
		return t.pid, nil
	}

	if t.pidFile == "" {
		t.pidFile = cfg.Daemon.PIDFile
	}
	pid, err := lifecycle.NewPIDFile(t.pidFile).Read()
	if err != nil {
		return 0, shared.Classify("failed to read PID file "+t.pidFile, err)
	}
	return pid, nil
}

// eventLog returns the journal for the target, or nil when it was
// addressed by bare PID.
func (t *target) eventLog() *lifecycle.EventLog {
	if t.pidFile == "" {
		return nil
	}
	return lifecycle.NewEventLog(filepath.Join(filepath.Dir(t.pidFile), EventLogName))
}

func logger() *slog.Logger {
	return log.WithComponent(slog.Default(), "daemon")
}

// journal runs write against l, logging rather than returning failures.
func journal(l *lifecycle.EventLog, write func(*lifecycle.EventLog) error) {
	if l == nil {
		return
	}
	if err := write(l); err != nil {
		logger().Warn("failed to write lifecycle event", "error", err)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := shared.LoadConfig()
	if err != nil {
		return nil, shared.Classify("failed to load config", err)
	}
	return cfg, nil
}

func notRunning(pid int) error {
	return shared.Classify(fmt.Sprintf("process %d", pid), lifecycle.ErrProcessNotRunning)
}

func isNotRunning(err error) bool {
	return errors.Is(err, lifecycle.ErrProcessNotRunning)
}

func isMissing(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
