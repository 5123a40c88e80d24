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

package shared

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/tombee/functest/internal/log"
)

// SetupLogger installs the process-wide logger from the environment and
// the --verbose/--quiet flags. Every invocation gets its own correlation
// id so interleaved runs can be told apart in a shared log.
func SetupLogger() *slog.Logger {
	cfg := log.FromEnv()
	switch {
	case verboseFlag:
		cfg.Level = "debug"
	case quietFlag:
		cfg.Level = "error"
	}

	logger := log.WithCorrelationID(log.New(cfg), uuid.NewString())
	slog.SetDefault(logger)
	return logger
}
