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

package daemon

import (
	"fmt"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/functest/internal/commands/shared"
	"github.com/tombee/functest/internal/lifecycle"
)

type stopOptions struct {
	target
	termTimeout time.Duration
	killWait    time.Duration
	noChildren  bool
	match       string
}

// StopResponse is the JSON output of "daemon stop".
type StopResponse struct {
	shared.JSONResponse
	PID        int   `json:"pid"`
	WasRunning bool  `json:"was_running"`
	DurationMS int64 `json:"duration_ms"`
}

func newStopCommand() *cobra.Command {
	opts := &stopOptions{}

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon and its direct children",
		Long: `Send SIGTERM and wait --term-timeout for the daemon to exit. If it is still
alive, send SIGKILL and wait --kill-wait. Its direct children are then
stopped the same way. A daemon that is already gone is not an error.`,
		Example: `  functest daemon stop --pid-file /tmp/rspamd-test/rspamd.pid
  functest daemon stop --pid 4242 --term-timeout 2s --match rspamd`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStop(cmd, opts)
		},
	}

	opts.register(cmd)
	cmd.Flags().DurationVar(&opts.termTimeout, "term-timeout", 0, "Wait after SIGTERM (default from config)")
	cmd.Flags().DurationVar(&opts.killWait, "kill-wait", 0, "Wait after SIGKILL (default from config)")
	cmd.Flags().BoolVar(&opts.noChildren, "no-children", false, "Only stop the daemon itself")
	cmd.Flags().StringVar(&opts.match, "match", "", "Refuse to stop a process whose command line lacks this string")

	return cmd
}

func runStop(cmd *cobra.Command, opts *stopOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	pid, err := opts.resolve(cfg)
	if err != nil {
		if opts.pid == 0 && isMissing(err) {
			return reportStop(cmd, 0, false, 0)
		}
		return err
	}

	running := lifecycle.IsProcessRunning(pid)
	if running && opts.match != "" && !lifecycle.CommandContains(pid, opts.match) {
		return shared.NewFailure(fmt.Sprintf("process %d does not look like %q, refusing to stop it", pid, opts.match), nil)
	}

	shutdown := lifecycle.ShutdownOptions{
		TermTimeout: cfg.Shutdown.TermTimeout,
		KillWait:    cfg.Shutdown.KillWait,
		Logger:      logger(),
	}
	if opts.termTimeout > 0 {
		shutdown.TermTimeout = opts.termTimeout
	}
	if opts.killWait > 0 {
		shutdown.KillWait = opts.killWait
	}

	start := time.Now()
	if opts.noChildren {
		err = lifecycle.Shutdown(cmd.Context(), pid, shutdown)
		if isNotRunning(err) {
			err = nil
		}
	} else {
		err = lifecycle.ShutdownWithChildren(cmd.Context(), pid, shutdown)
	}
	elapsed := time.Since(start)

	if running {
		journal(opts.eventLog(), func(l *lifecycle.EventLog) error { return l.LogStop(pid, elapsed, err) })
	}
	if err != nil {
		return shared.Classify(fmt.Sprintf("failed to stop process %d", pid), err)
	}

	if opts.pidFile != "" {
		if err := lifecycle.NewPIDFile(opts.pidFile).Remove(); err != nil {
			logger().Warn("failed to remove PID file", "path", opts.pidFile, "error", err)
		}
	}

	return reportStop(cmd, pid, running, elapsed)
}

func reportStop(cmd *cobra.Command, pid int, wasRunning bool, elapsed time.Duration) error {
	if shared.GetJSON() {
		return shared.EmitJSON(cmd.OutOrStdout(), StopResponse{
			JSONResponse: shared.NewJSONResponse("daemon stop"),
			PID:          pid,
			WasRunning:   wasRunning,
			DurationMS:   elapsed.Milliseconds(),
		})
	}
	if shared.GetQuiet() {
		return nil
	}

	out := cmd.OutOrStdout()
	switch {
	case pid == 0:
		fmt.Fprintln(out, shared.RenderWarn("no PID file, nothing to stop"))
	case !wasRunning:
		fmt.Fprintln(out, shared.RenderWarn(fmt.Sprintf("process %d was not running", pid)))
	default:
		fmt.Fprintln(out, shared.RenderOK(fmt.Sprintf("stopped process %d in %s", pid, elapsed.Round(time.Millisecond))))
	}
	return nil
}

type signalOptions struct {
	target
	signal *shared.SignalValue
}

func newSignalCommand() *cobra.Command {
	opts := &signalOptions{signal: shared.NewSignalValue(syscall.SIGUSR1)}

	cmd := &cobra.Command{
		Use:   "signal",
		Short: "Send a signal to the daemon",
		Long: `Send a signal to the daemon, SIGUSR1 by default, which makes rspamd
reopen its logs and flush coverage stats.`,
		Example: `  functest daemon signal --pid-file /tmp/rspamd-test/rspamd.pid
  functest daemon signal --pid 4242 --signal HUP`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSignal(cmd, opts)
		},
	}

	opts.register(cmd)
	cmd.Flags().VarP(opts.signal, "signal", "s", "Signal name or number")

	return cmd
}

func runSignal(cmd *cobra.Command, opts *signalOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	pid, err := opts.resolve(cfg)
	if err != nil {
		return err
	}

	sig := opts.signal.Signal()
	err = lifecycle.SendSignal(pid, sig)
	journal(opts.eventLog(), func(l *lifecycle.EventLog) error { return l.LogSignal(pid, opts.signal.String(), err) })
	if err != nil {
		return shared.Classify(fmt.Sprintf("failed to send %s to process %d", opts.signal, pid), err)
	}

	logger().Debug("signal sent", "pid", pid, "signal", opts.signal.String())

	if shared.GetJSON() {
		return shared.EmitJSON(cmd.OutOrStdout(), struct {
			shared.JSONResponse
			PID    int    `json:"pid"`
			Signal string `json:"signal"`
		}{shared.NewJSONResponse("daemon signal"), pid, opts.signal.String()})
	}
	if !shared.GetQuiet() {
		fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK(fmt.Sprintf("sent SIG%s to process %d", opts.signal, pid)))
	}
	return nil
}
