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
Package cli provides the root command and global flags for functest.

Individual commands live in the internal/commands subpackages and are
attached in cmd/functest.

# Command Tree

	functest
	├── coverage   collect, report
	├── daemon     start, stop, signal, status, wait
	├── probe      ping, scan, rspamc, spamc, tcp, redis, http
	├── workdir    mktemp, cleanup, save, read-log, cat, split, encode
	└── version

# Global Flags

	--verbose, -v   debug logging and extra detail
	--quiet, -q     errors only
	--json          machine-readable output
	--config        harness YAML config (FUNCTEST_* variables still apply)
*/
package cli
