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
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/functest/internal/cli"
	"github.com/tombee/functest/internal/commands/shared"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	shared.ResetForTest("")
	t.Cleanup(func() { shared.ResetForTest("") })

	root := cli.NewRootCommand()
	root.AddCommand(NewCommand())

	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)

	err := root.Execute()
	return buf.String(), err
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestCollect(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(t.TempDir(), "luacov.stats.out")

	writeFile(t, filepath.Join(dir, "1.luacov.stats.out"), "2:a.lua\n1 0\n")
	writeFile(t, filepath.Join(dir, "2.luacov.stats.out"), "3:a.lua\n0 2 5\n1:b.lua\n7\n")

	out, err := execute(t, "coverage", "collect", dir, "-o", output)
	require.NoError(t, err)
	assert.Contains(t, out, "merged 2 file(s)")

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "3:a.lua\n1 2 5\n1:b.lua\n7\n", string(data))
}

func TestCollect_JSON(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "luacov.stats.out")
	writeFile(t, filepath.Join(dir, "x.luacov.stats.out"), "1:a.lua\n4\n")
	writeFile(t, output, "1:a.lua\n1\n")

	out, err := execute(t, "--json", "coverage", "collect", dir, "--output", output)
	require.NoError(t, err)

	var resp CollectResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "coverage collect", resp.Command)
	assert.Len(t, resp.Inputs, 1)
	assert.True(t, resp.Cumulative)
	assert.Equal(t, 1, resp.Sources)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "1:a.lua\n5\n", string(data))
}

func TestCollect_NothingFound(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "luacov.stats.out")

	out, err := execute(t, "coverage", "collect", dir, "-o", output)
	require.NoError(t, err)
	assert.Contains(t, out, "no luacov stats files found")
	assert.NoFileExists(t, output)
}

func TestCollect_Malformed(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "luacov.stats.out")
	writeFile(t, filepath.Join(dir, "bad.luacov.stats.out"), "2:a.lua\n1\n")

	_, err := execute(t, "coverage", "collect", dir, "-o", output)
	require.Error(t, err)
	assert.Equal(t, shared.ExitFailure, shared.ExitCode(err))
	assert.NoFileExists(t, output)
}

func TestCollect_MetricsFile(t *testing.T) {
	dir := t.TempDir()
	metrics := filepath.Join(dir, "collect.prom")
	writeFile(t, filepath.Join(dir, "x.luacov.stats.out"), "1:a.lua\n1\n")

	_, err := execute(t, "coverage", "collect", dir, "-o", filepath.Join(dir, "out"), "--metrics-file", metrics)
	require.NoError(t, err)

	data, err := os.ReadFile(metrics)
	require.NoError(t, err)
	assert.Contains(t, string(data), "functest_luacov_collect_runs_total")
	assert.Contains(t, string(data), "functest_luacov_files_merged_total")
}

func TestCollect_RecursivePattern(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "luacov.stats.out")
	writeFile(t, filepath.Join(dir, "w1", "a.luacov.stats.out"), "1:a.lua\n1\n")
	writeFile(t, filepath.Join(dir, "w2", "deep", "b.luacov.stats.out"), "1:a.lua\n2\n")

	_, err := execute(t, "coverage", "collect", dir, "--pattern", "**/*.luacov.stats.out", "-o", output)
	require.NoError(t, err)

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Equal(t, "1:a.lua\n3\n", string(data))
}

func TestReport(t *testing.T) {
	stats := filepath.Join(t.TempDir(), "luacov.stats.out")
	writeFile(t, stats, "4:lualib/a.lua\n1 0 3 0\n2:rules/b.lua\n1 1\n")

	out, err := execute(t, "coverage", "report", stats)
	require.NoError(t, err)
	assert.Contains(t, out, "lualib/a.lua")
	assert.Contains(t, out, "50.0%")
	assert.Contains(t, out, "100.0%")
	assert.Contains(t, strings.ToLower(out), "total")
	assert.Contains(t, out, "66.7%")
}

func TestReport_JSONAndFilter(t *testing.T) {
	stats := filepath.Join(t.TempDir(), "luacov.stats.out")
	writeFile(t, stats, "4:lualib/a.lua\n1 0 3 0\n2:rules/b.lua\n1 1\n")

	out, err := execute(t, "--json", "coverage", "report", stats, "--filter", "lualib/")
	require.NoError(t, err)

	var resp ReportResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Files, 1)
	assert.Equal(t, "lualib/a.lua", resp.Files[0].Source)
	assert.Equal(t, 4, resp.Total.Lines)
	assert.Equal(t, 2, resp.Total.Hit)
	assert.InDelta(t, 50.0, resp.Total.Percent, 0.001)
}

func TestReport_FailUnder(t *testing.T) {
	stats := filepath.Join(t.TempDir(), "luacov.stats.out")
	writeFile(t, stats, "2:a.lua\n1 0\n")

	_, err := execute(t, "-q", "coverage", "report", stats, "--fail-under", "80")
	require.Error(t, err)
	assert.Equal(t, shared.ExitCheckFailed, shared.ExitCode(err))

	_, err = execute(t, "-q", "coverage", "report", stats, "--fail-under", "50")
	assert.NoError(t, err)
}

func TestReport_MissingFile(t *testing.T) {
	_, err := execute(t, "coverage", "report", filepath.Join(t.TempDir(), "none"))
	require.Error(t, err)
	assert.Equal(t, shared.ExitNotFound, shared.ExitCode(err))
}
