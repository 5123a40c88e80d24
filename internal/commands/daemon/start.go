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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/functest/internal/commands/shared"
	"github.com/tombee/functest/internal/config"
	"github.com/tombee/functest/internal/lifecycle"
	"github.com/tombee/functest/internal/workdir"
	functesterrors "github.com/tombee/functest/pkg/errors"
	"github.com/tombee/functest/pkg/httpclient"
)

// errExited is the cancel cause when the spawned process dies before
// the PID file appears.
var errExited = errors.New("daemon exited before writing its PID file")

type startOptions struct {
	binary    string
	dir       string
	logFile   string
	pidFile   string
	healthURL string
	noHealth  bool
	timeout   time.Duration
	env       []string
}

// StartResponse is the JSON output of "daemon start".
type StartResponse struct {
	shared.JSONResponse
	PID        int    `json:"pid"`
	SpawnedPID int    `json:"spawned_pid"`
	Dir        string `json:"dir"`
	Log        string `json:"log"`
	PIDFile    string `json:"pid_file"`
	Attempts   int    `json:"health_attempts,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

func newStartCommand() *cobra.Command {
	opts := &startOptions{}

	cmd := &cobra.Command{
		Use:   "start [-- daemon-args...]",
		Short: "Start the daemon and wait until it is ready",
		Long: `Start the daemon detached in its own session with its output appended to
a log file in the run directory, then wait for its PID file and for the
controller to answer /ping.

The binary is --binary, else daemon.binary from the config, else the
rspamd binary resolved from RSPAMD, RSPAMD_INSTALLROOT or the source tree.`,
		Example: `  functest daemon start --dir /tmp/rspamd-test -- -c rspamd.conf -u nobody
  functest daemon start --no-health --binary ./fake-daemon`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd, args, opts)
		},
	}

	cmd.Flags().StringVar(&opts.binary, "binary", "", "Daemon binary")
	cmd.Flags().StringVar(&opts.dir, "dir", "", "Run directory (default: tmp_dir from config, else a new temp dir)")
	cmd.Flags().StringVar(&opts.logFile, "log", "", "Daemon output log (default <dir>/rspamd.log)")
	cmd.Flags().StringVar(&opts.pidFile, "pid-file", "", "PID file the daemon writes, relative to --dir (default from config)")
	cmd.Flags().StringVar(&opts.healthURL, "health-url", "", "Readiness URL (default http://<controller>/ping)")
	cmd.Flags().BoolVar(&opts.noHealth, "no-health", false, "Do not wait for the readiness URL")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "Start timeout (default from config)")
	cmd.Flags().StringArrayVar(&opts.env, "env", nil, "Extra KEY=VALUE for the daemon environment (repeatable)")

	return cmd
}

func runStart(cmd *cobra.Command, args []string, opts *startOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	binary, err := resolveBinary(cfg, opts.binary)
	if err != nil {
		return shared.Classify("failed to resolve daemon binary", err)
	}
	if len(args) == 0 {
		args = cfg.Daemon.Args
	}

	dir, err := runDir(cfg, opts.dir)
	if err != nil {
		return shared.NewFailure("failed to prepare run directory", err)
	}

	logPath := opts.logFile
	if logPath == "" {
		logPath = filepath.Join(dir, "rspamd.log")
	}
	pidPath := opts.pidFile
	if pidPath == "" {
		pidPath = cfg.Daemon.PIDFile
	}
	if !filepath.IsAbs(pidPath) {
		pidPath = filepath.Join(dir, pidPath)
	}
	timeout := opts.timeout
	if timeout <= 0 {
		timeout = cfg.Daemon.StartTimeout
	}

	events := lifecycle.NewEventLog(filepath.Join(dir, EventLogName))
	journal(events, func(l *lifecycle.EventLog) error { return l.LogStart(binary, args) })

	// a stale PID file would be mistaken for the new daemon's
	if err := lifecycle.NewPIDFile(pidPath).Remove(); err != nil {
		return shared.NewFailure("failed to remove stale PID file", err)
	}

	start := time.Now()
	spawner := lifecycle.NewSpawner().WithDir(dir).WithEnv(append(os.Environ(), opts.env...))
	spawned, err := spawner.SpawnDetached(binary, args, logPath)
	if err != nil {
		journal(events, func(l *lifecycle.EventLog) error { return l.LogStartFailure(0, err) })
		return shared.NewFailure("failed to start daemon", err)
	}
	logger().Info("daemon spawned", "pid", spawned, "binary", binary, "dir", dir)

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	pid, attempts, err := awaitReady(ctx, cfg, opts, spawned, pidPath)
	if errors.Is(err, context.DeadlineExceeded) {
		err = &functesterrors.TimeoutError{Operation: "daemon start", Duration: timeout, Cause: err}
	}
	if err != nil {
		journal(events, func(l *lifecycle.EventLog) error { return l.LogStartFailure(spawned, err) })
		abandon(cmd.Context(), cfg, spawned, pid)
		return shared.Classify(fmt.Sprintf("daemon did not become ready (see %s)", logPath), err)
	}

	elapsed := time.Since(start)
	journal(events, func(l *lifecycle.EventLog) error { return l.LogStartSuccess(pid, attempts, elapsed) })

	if shared.GetJSON() {
		return shared.EmitJSON(cmd.OutOrStdout(), StartResponse{
			JSONResponse: shared.NewJSONResponse("daemon start"),
			PID:          pid,
			SpawnedPID:   spawned,
			Dir:          dir,
			Log:          logPath,
			PIDFile:      pidPath,
			Attempts:     attempts,
			DurationMS:   elapsed.Milliseconds(),
		})
	}
	if shared.GetQuiet() {
		fmt.Fprintln(cmd.OutOrStdout(), pid)
		return nil
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, shared.RenderOK(fmt.Sprintf("daemon started (pid %d) in %s", pid, elapsed.Round(time.Millisecond))))
	fmt.Fprintf(out, "  %s %s\n", shared.RenderLabel("dir:"), dir)
	fmt.Fprintf(out, "  %s %s\n", shared.RenderLabel("log:"), logPath)
	fmt.Fprintf(out, "  %s %s\n", shared.RenderLabel("pid file:"), pidPath)
	return nil
}

// awaitReady waits for the PID file and then, unless disabled, for the
// health endpoint. It gives up early when the spawned process exits
// without leaving a PID file behind.
func awaitReady(ctx context.Context, cfg *config.Config, opts *startOptions, spawned int, pidPath string) (int, int, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !lifecycle.IsProcessRunning(spawned) && !lifecycle.NewPIDFile(pidPath).Exists() {
					cancel(errExited)
					return
				}
			}
		}
	}()

	pid, err := lifecycle.WaitForPIDFile(ctx, pidPath)
	if err != nil {
		return 0, 0, readyError(ctx, err)
	}
	logger().Debug("PID file written", "pid", pid, "path", pidPath)

	if opts.noHealth {
		return pid, 0, nil
	}

	url := opts.healthURL
	if url == "" {
		url = "http://" + cfg.ControllerAddr() + "/ping"
	}
	client, err := httpclient.New(httpclient.Config{Timeout: cfg.Daemon.HTTPTimeout, Logger: logger()})
	if err != nil {
		return pid, 0, err
	}
	checker := lifecycle.NewHealthChecker(url).WithHTTPClient(client)
	attempts, err := checker.WaitUntilHealthy(ctx, func(res *lifecycle.HealthCheckResult, n int) {
		logger().Debug("health check", "attempt", n, "url", url, "success", res.Success, "error", res.Error)
	})
	if err != nil {
		return pid, attempts, readyError(ctx, err)
	}
	return pid, attempts, nil
}

func readyError(ctx context.Context, err error) error {
	if cause := context.Cause(ctx); errors.Is(cause, errExited) {
		return cause
	}
	return err
}

// abandon stops whatever was started by a failed start.
func abandon(ctx context.Context, cfg *config.Config, spawned, pid int) {
	opts := lifecycle.ShutdownOptions{
		TermTimeout: cfg.Shutdown.TermTimeout,
		KillWait:    cfg.Shutdown.KillWait,
		Logger:      logger(),
	}
	for _, p := range []int{pid, spawned} {
		if p <= 0 {
			continue
		}
		if err := lifecycle.ShutdownWithChildren(ctx, p, opts); err != nil {
			logger().Warn("failed to stop daemon after failed start", "pid", p, "error", err)
		}
	}
}

func resolveBinary(cfg *config.Config, flag string) (string, error) {
	switch {
	case flag != "":
		return flag, nil
	case cfg.Daemon.Binary != "":
		return cfg.Daemon.Binary, nil
	default:
		return config.Rspamd.Resolve()
	}
}

func runDir(cfg *config.Config, flag string) (string, error) {
	dir := flag
	if dir == "" {
		dir = cfg.TmpDir
	}
	if dir == "" {
		return workdir.MakeTempDir("rspamd-test.")
	}
	if err := os.MkdirAll(dir, workdir.DirMode); err != nil {
		return "", err
	}
	return filepath.Abs(dir)
}
