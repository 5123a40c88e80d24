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

/*
Package lifecycle starts, probes and stops the daemon under test.

The daemon is treated as an opaque process addressed by PID. Nothing here
supervises it; the helpers only cover what a functional test suite needs
at setup and teardown.

# Starting

	pid, err := lifecycle.NewSpawner().WithDir(tmpDir).SpawnDetached(binary, args, logPath)

	// or wait for the daemon to report its own PID
	pid, err := lifecycle.WaitForPIDFile(ctx, filepath.Join(tmpDir, "rspamd.pid"))

	checker := lifecycle.NewHealthChecker("http://127.0.0.1:56790/ping")
	attempts, err := checker.WaitUntilHealthy(ctx, nil)

# Stopping

Shutdown sends SIGTERM, waits, and escalates to SIGKILL:

	err := lifecycle.ShutdownWithChildren(ctx, pid, lifecycle.ShutdownOptions{})

ShutdownWithChildren lists the direct children first, so forked workers
are stopped even after the main process is gone.

# Journal

EventLog appends start/stop/signal events as JSON lines next to the run
artefacts.
*/
package lifecycle
