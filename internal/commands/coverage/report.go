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
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/tombee/functest/internal/commands/shared"
	"github.com/tombee/functest/internal/luacov"
)

type reportOptions struct {
	filter    string
	failUnder float64
}

// ReportResponse is the JSON output of "coverage report".
type ReportResponse struct {
	shared.JSONResponse
	Files []luacov.FileSummary `json:"files"`
	Total luacov.FileSummary   `json:"total"`
}

func newReportCommand() *cobra.Command {
	opts := &reportOptions{}

	cmd := &cobra.Command{
		Use:   "report [stats-file]",
		Short: "Summarise line coverage per source file",
		Long: `Print the number of instrumented and executed lines per source file in a
luacov stats file. Exits with code 5 when total coverage is below --fail-under.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return runReport(cmd, path, opts)
		},
	}

	cmd.Flags().StringVar(&opts.filter, "filter", "", "Only include sources containing this substring")
	cmd.Flags().Float64Var(&opts.failUnder, "fail-under", 0, "Fail when total coverage percent is below this value")

	return cmd
}

func runReport(cmd *cobra.Command, path string, opts *reportOptions) error {
	if path == "" {
		cfg, err := shared.LoadConfig()
		if err != nil {
			return shared.Classify("failed to load config", err)
		}
		path = cfg.Coverage.Output
	}

	m := make(luacov.Map)
	if err := m.MergeFile(path); err != nil {
		return shared.Classify("coverage report failed", err)
	}

	var files []luacov.FileSummary
	for _, s := range luacov.Summarize(m) {
		if opts.filter == "" || strings.Contains(s.Source, opts.filter) {
			files = append(files, s)
		}
	}
	total := luacov.Total(files)

	if shared.GetJSON() {
		if files == nil {
			files = []luacov.FileSummary{}
		}
		if err := shared.EmitJSON(cmd.OutOrStdout(), ReportResponse{
			JSONResponse: shared.NewJSONResponse("coverage report"),
			Files:        files,
			Total:        total,
		}); err != nil {
			return err
		}
	} else if !shared.GetQuiet() {
		renderReport(cmd.OutOrStdout(), path, files, total)
	}

	if opts.failUnder > 0 && total.Percent < opts.failUnder {
		return shared.NewCheckFailedError(
			fmt.Sprintf("total coverage %.1f%% is below %.1f%%", total.Percent, opts.failUnder), nil)
	}
	return nil
}

func renderReport(w io.Writer, path string, files []luacov.FileSummary, total luacov.FileSummary) {
	fmt.Fprintln(w, shared.RenderHeader("Coverage of "+path))

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Source", "Lines", "Hit", "Coverage"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, Align: text.AlignRight},
		{Number: 4, Align: text.AlignRight},
	})

	for _, s := range files {
		t.AppendRow(table.Row{s.Source, s.Lines, s.Hit, fmt.Sprintf("%.1f%%", s.Percent)})
	}
	t.AppendFooter(table.Row{"Total", total.Lines, total.Hit, fmt.Sprintf("%.1f%%", total.Percent)})

	t.Render()
}
