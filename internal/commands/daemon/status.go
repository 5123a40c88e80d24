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
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/functest/internal/commands/shared"
	"github.com/tombee/functest/internal/lifecycle"
	"github.com/tombee/functest/internal/probe"
	functesterrors "github.com/tombee/functest/pkg/errors"
)

// StatusResponse is the JSON output of "daemon status".
type StatusResponse struct {
	shared.JSONResponse
	PID      int    `json:"pid"`
	Running  bool   `json:"running"`
	Command  string `json:"command,omitempty"`
	Children []int  `json:"children,omitempty"`
}

func newStatusCommand() *cobra.Command {
	opts := &target{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report whether the daemon is running",
		Long:  `Report whether the daemon is running. Exits with code 3 when it is not.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd, opts)
		},
	}

	opts.register(cmd)

	return cmd
}

func runStatus(cmd *cobra.Command, opts *target) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	pid, err := opts.resolve(cfg)
	if err != nil {
		return err
	}

	info, err := lifecycle.GetProcessInfo(pid)
	if err != nil {
		return shared.Classify("failed to inspect process", err)
	}

	resp := StatusResponse{
		JSONResponse: shared.NewJSONResponse("daemon status"),
		PID:          pid,
		Running:      info.Running,
		Command:      info.Command,
	}
	if info.Running {
		children, err := lifecycle.Children(pid)
		if err != nil {
			logger().Debug("failed to list children", "pid", pid, "error", err)
		}
		resp.Children = children
	}
	resp.Success = info.Running

	out := cmd.OutOrStdout()
	switch {
	case shared.GetJSON():
		if err := shared.EmitJSON(out, resp); err != nil {
			return err
		}
	case shared.GetQuiet():
	case info.Running:
		fmt.Fprintln(out, shared.RenderOK(fmt.Sprintf("process %d is running", pid)))
		fmt.Fprintf(out, "  %s %s\n", shared.RenderLabel("command:"), info.Command)
		if len(resp.Children) > 0 {
			fmt.Fprintf(out, "  %s %v\n", shared.RenderLabel("children:"), resp.Children)
		}
	default:
		fmt.Fprintln(out, shared.RenderWarn(fmt.Sprintf("process %d is not running", pid)))
	}

	if !info.Running {
		return notRunning(pid)
	}
	return nil
}

type waitOptions struct {
	target
	exit     bool
	tcp      string
	url      string
	timeout  time.Duration
	interval time.Duration
}

func newWaitCommand() *cobra.Command {
	opts := &waitOptions{}

	cmd := &cobra.Command{
		Use:   "wait",
		Short: "Wait for the daemon to become ready or to exit",
		Long: `Wait until the daemon is ready: its PID file holds a PID (when --pid-file
is given) and then its controller answers /ping, or, with --tcp, a TCP
connection to the given address succeeds.

With --exit, wait instead for the process to exit.`,
		Example: `  functest daemon wait --pid-file /tmp/rspamd-test/rspamd.pid
  functest daemon wait --tcp 127.0.0.1:56789 --timeout 10s
  functest daemon wait --exit --pid 4242`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWait(cmd, opts)
		},
	}

	opts.register(cmd)
	cmd.Flags().BoolVar(&opts.exit, "exit", false, "Wait for the process to exit")
	cmd.Flags().StringVar(&opts.tcp, "tcp", "", "Wait for a TCP connection to this address instead of /ping")
	cmd.Flags().StringVar(&opts.url, "url", "", "Readiness URL (default http://<controller>/ping)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "How long to wait (default: start_timeout from config)")
	cmd.Flags().DurationVar(&opts.interval, "interval", 100*time.Millisecond, "Poll interval for --tcp")
	cmd.MarkFlagsMutuallyExclusive("tcp", "url")
	cmd.MarkFlagsMutuallyExclusive("exit", "tcp")
	cmd.MarkFlagsMutuallyExclusive("exit", "url")

	return cmd
}

func runWait(cmd *cobra.Command, opts *waitOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	timeout := opts.timeout
	if timeout <= 0 {
		timeout = cfg.Daemon.StartTimeout
	}
	start := time.Now()

	var what string
	if opts.exit {
		pid, err := opts.resolve(cfg)
		if err != nil {
			return err
		}
		what = fmt.Sprintf("process %d exited", pid)
		if err := lifecycle.WaitForExit(cmd.Context(), pid, timeout); err != nil {
			return shared.Classify(fmt.Sprintf("process %d did not exit", pid), err)
		}
	} else {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		if opts.pidFile != "" {
			pid, err := lifecycle.WaitForPIDFile(ctx, opts.pidFile)
			if err != nil {
				return shared.Classify("PID file did not appear",
					&functesterrors.TimeoutError{Operation: "wait for PID file", Duration: timeout, Cause: err})
			}
			logger().Debug("PID file written", "pid", pid)
		}

		if opts.tcp != "" {
			what = opts.tcp + " accepts connections"
			client := probe.NewClient(cfg.Daemon.HTTPTimeout, logger())
			if err := client.WaitForTCP(ctx, opts.tcp, opts.interval); err != nil {
				return shared.Classify("daemon is not accepting connections",
					&functesterrors.TimeoutError{Operation: "wait for " + opts.tcp, Duration: timeout, Cause: err})
			}
		} else {
			url := opts.url
			if url == "" {
				url = "http://" + cfg.ControllerAddr() + "/ping"
			}
			what = url + " is healthy"
			if _, err := lifecycle.NewHealthChecker(url).WaitUntilHealthy(ctx, nil); err != nil {
				return shared.Classify("daemon is not healthy", err)
			}
		}
	}

	if shared.GetJSON() {
		return shared.EmitJSON(cmd.OutOrStdout(), struct {
			shared.JSONResponse
			DurationMS int64 `json:"duration_ms"`
		}{shared.NewJSONResponse("daemon wait"), time.Since(start).Milliseconds()})
	}
	if !shared.GetQuiet() {
		fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK(fmt.Sprintf("%s after %s", what, time.Since(start).Round(time.Millisecond))))
	}
	return nil
}
