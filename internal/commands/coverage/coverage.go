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

// Package coverage implements the "functest coverage" commands.
package coverage

import (
	"github.com/spf13/cobra"
)

// NewCommand creates the coverage command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "coverage",
		Short: "Merge and report luacov coverage stats",
		Long: `Merge the per-process luacov stats files a daemon run leaves behind into
one cumulative stats file, and summarise it.`,
	}

	cmd.AddCommand(newCollectCommand())
	cmd.AddCommand(newReportCommand())

	return cmd
}
