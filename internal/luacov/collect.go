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

package luacov

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
)

const (
	// StatsFile is the file luacov itself reads and writes.
	StatsFile = "luacov.stats.out"

	// StatsSuffix is the suffix of per-process stats files left in the
	// test temp directory.
	StatsSuffix = ".luacov.stats.out"
)

// CollectOptions configures Collect.
type CollectOptions struct {
	// Pattern selects input files. Doublestar syntax, so "**" matches
	// nested directories.
	Pattern string

	// Output is the cumulative stats file. When it already exists its
	// contents are merged in as one more input.
	Output string

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// CollectResult describes what Collect did.
type CollectResult struct {
	// Inputs are the merged stats files in the order they were read.
	Inputs []string

	// Output is the written stats file. Empty when nothing was merged.
	Output string

	// Cumulative is true when a pre-existing Output was merged in.
	Cumulative bool

	// Sources is the number of source files in the written stats.
	Sources int
}

// NothingToDo reports whether no input files matched.
func (r *CollectResult) NothingToDo() bool {
	return len(r.Inputs) == 0
}

// CollectDir merges dir/*.luacov.stats.out into output.
func CollectDir(ctx context.Context, dir, output string, logger *slog.Logger) (*CollectResult, error) {
	return Collect(ctx, CollectOptions{
		Pattern: filepath.Join(dir, "*"+StatsSuffix),
		Output:  output,
		Logger:  logger,
	})
}

// Collect merges every file matching opts.Pattern, plus an existing
// opts.Output, and writes the sum to opts.Output.
//
// No matching files is not an error: the result reports NothingToDo and
// opts.Output is not touched. A malformed input aborts the whole collect
// before anything is written.
func Collect(ctx context.Context, opts CollectOptions) (*CollectResult, error) {
	start := time.Now()
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if opts.Output == "" {
		return nil, errors.New("collect: output path is required")
	}

	inputs, err := matchInputs(opts.Pattern, opts.Output)
	if err != nil {
		recordCollect(resultError, 0, 0, time.Since(start))
		return nil, err
	}

	result := &CollectResult{}
	if len(inputs) == 0 {
		logger.Info("no luacov stats files found", "pattern", opts.Pattern)
		recordCollect(resultEmpty, 0, 0, time.Since(start))
		return result, nil
	}

	cov := Map{}
	records := 0
	for _, in := range inputs {
		if err := ctx.Err(); err != nil {
			recordCollect(resultError, 0, 0, time.Since(start))
			return nil, err
		}

		recs, err := ParseFile(in)
		if err != nil {
			recordCollect(resultError, 0, 0, time.Since(start))
			return nil, err
		}
		for _, rec := range recs {
			cov.Merge(rec)
		}
		records += len(recs)
		logger.Debug("merged luacov stats", "file", in, "records", len(recs))
	}

	if _, err := os.Stat(opts.Output); err == nil {
		if err := cov.MergeFile(opts.Output); err != nil {
			recordCollect(resultError, 0, 0, time.Since(start))
			return nil, fmt.Errorf("failed to merge existing output: %w", err)
		}
		result.Cumulative = true
	} else if !errors.Is(err, fs.ErrNotExist) {
		recordCollect(resultError, 0, 0, time.Since(start))
		return nil, fmt.Errorf("failed to stat output: %w", err)
	}

	if err := cov.WriteFile(opts.Output); err != nil {
		recordCollect(resultError, 0, 0, time.Since(start))
		return nil, err
	}

	result.Inputs = inputs
	result.Output = opts.Output
	result.Sources = len(cov)

	logger.Info("luacov stats merged",
		"inputs", strings.Join(inputs, ", "),
		"output", opts.Output,
		"sources", result.Sources,
		"cumulative", result.Cumulative,
	)
	recordCollect(resultMerged, len(inputs), records, time.Since(start))

	return result, nil
}

// matchInputs globs pattern for regular files, sorted, never including
// the output file itself.
func matchInputs(pattern, output string) ([]string, error) {
	if pattern == "" {
		return nil, errors.New("collect: input pattern is required")
	}

	matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("invalid stats pattern %q: %w", pattern, err)
	}

	outAbs, err := filepath.Abs(output)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve output path: %w", err)
	}

	inputs := make([]string, 0, len(matches))
	for _, m := range matches {
		if abs, err := filepath.Abs(m); err == nil && abs == outAbs {
			continue
		}
		inputs = append(inputs, m)
	}
	slices.Sort(inputs)

	return inputs, nil
}
