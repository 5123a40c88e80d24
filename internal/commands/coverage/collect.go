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

package coverage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/tombee/functest/internal/commands/shared"
	"github.com/tombee/functest/internal/luacov"
)

type collectOptions struct {
	dir         string
	pattern     string
	output      string
	metricsFile string
}

// CollectResponse is the JSON output of "coverage collect".
type CollectResponse struct {
	shared.JSONResponse
	Inputs     []string `json:"inputs"`
	Output     string   `json:"output,omitempty"`
	Cumulative bool     `json:"cumulative"`
	Sources    int      `json:"sources"`
}

func newCollectCommand() *cobra.Command {
	opts := &collectOptions{}

	cmd := &cobra.Command{
		Use:   "collect [dir]",
		Short: "Merge per-process stats files into the cumulative stats file",
		Long: `Merge every <dir>/*.luacov.stats.out into the cumulative stats file.

An existing output file is merged in too, so repeated runs accumulate.
When no stats files are found the output is left untouched.`,
		Example: `  functest coverage collect /tmp/rspamd-test.XXXX
  functest coverage collect --pattern '/tmp/run/**/*.luacov.stats.out' --output coverage/luacov.stats.out`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.dir = args[0]
			}
			return runCollect(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.pattern, "pattern", "", "Glob selecting stats files, relative to dir (default from config: *.luacov.stats.out)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Cumulative stats file (default from config: luacov.stats.out)")
	cmd.Flags().StringVar(&opts.metricsFile, "metrics-file", "", "Write collect metrics to this file in Prometheus text format")

	return cmd
}

func runCollect(cmd *cobra.Command, opts *collectOptions) error {
	cfg, err := shared.LoadConfig()
	if err != nil {
		return shared.Classify("failed to load config", err)
	}

	if opts.dir == "" {
		opts.dir = "."
	}
	if opts.pattern == "" {
		opts.pattern = cfg.Coverage.Pattern
	}
	if opts.output == "" {
		opts.output = cfg.Coverage.Output
	}
	if opts.metricsFile == "" {
		opts.metricsFile = cfg.Coverage.MetricsFile
	}

	pattern := opts.pattern
	if !filepath.IsAbs(pattern) {
		pattern = filepath.Join(opts.dir, pattern)
	}

	res, err := luacov.Collect(cmd.Context(), luacov.CollectOptions{
		Pattern: pattern,
		Output:  opts.output,
	})

	if opts.metricsFile != "" {
		if merr := prometheus.WriteToTextfile(opts.metricsFile, prometheus.DefaultGatherer); merr != nil && err == nil {
			err = fmt.Errorf("failed to write metrics: %w", merr)
		}
	}

	if err != nil {
		return shared.Classify("coverage collect failed", err)
	}

	if shared.GetJSON() {
		return shared.EmitJSON(cmd.OutOrStdout(), CollectResponse{
			JSONResponse: shared.NewJSONResponse("coverage collect"),
			Inputs:       nonNil(res.Inputs),
			Output:       res.Output,
			Cumulative:   res.Cumulative,
			Sources:      res.Sources,
		})
	}

	if shared.GetQuiet() {
		return nil
	}

	out := cmd.OutOrStdout()
	if res.NothingToDo() {
		fmt.Fprintln(out, shared.RenderWarn("no luacov stats files found"))
		return nil
	}

	size := ""
	if info, err := os.Stat(res.Output); err == nil {
		size = " (" + shared.FormatSize(info.Size()) + ")"
	}
	fmt.Fprintln(out, shared.RenderOK(fmt.Sprintf("merged %d file(s) into %s%s", len(res.Inputs), res.Output, size)))
	if shared.GetVerbose() {
		for _, in := range res.Inputs {
			fmt.Fprintf(out, "  %s\n", shared.RenderLabel(in))
		}
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
