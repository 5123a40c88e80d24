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

package workdir

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

func TestMktempAndCleanup(t *testing.T) {
	t.Setenv("TMPDIR", t.TempDir())

	out, err := execute(t, "workdir", "mktemp")
	require.NoError(t, err)
	dir := strings.TrimSpace(out)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
	assert.True(t, strings.HasPrefix(filepath.Base(dir), "rspamd-test."))

	_, err = execute(t, "-q", "workdir", "cleanup", dir)
	require.NoError(t, err)
	assert.NoDirExists(t, dir)
}

func TestMktemp_File(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, "--json", "workdir", "mktemp", "--file", "--dir", dir, "--prefix", "sock.")
	require.NoError(t, err)

	var resp PathResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, dir, filepath.Dir(resp.Path))
	assert.True(t, strings.HasPrefix(filepath.Base(resp.Path), "sock."))
	assert.NoFileExists(t, resp.Path)
}

func TestMktemp_InvalidChown(t *testing.T) {
	t.Setenv("TMPDIR", t.TempDir())

	_, err := execute(t, "workdir", "mktemp", "--chown", "nobody")
	require.Error(t, err)
	assert.Equal(t, shared.ExitUsage, shared.ExitCode(err))

	entries, err := os.ReadDir(os.Getenv("TMPDIR"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCleanup_RefusesRoot(t *testing.T) {
	_, err := execute(t, "workdir", "cleanup", "/")
	require.Error(t, err)
	assert.Equal(t, shared.ExitFailure, shared.ExitCode(err))
}

func TestSave(t *testing.T) {
	run := t.TempDir()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(run, "rspamd.log"), []byte("log\n"), 0o644))

	out, err := execute(t, "--json", "workdir", "save", run, "rspamd.log", "missing.log",
		"--root", root, "--suite", "Antivirus", "--test", "Clam")
	require.NoError(t, err)

	var resp SaveResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, []string{"rspamd.log"}, resp.Saved)
	assert.Equal(t, filepath.Join(root, "robot-save", "Antivirus", "Clam"), resp.Dir)

	assert.FileExists(t, filepath.Join(resp.Dir, "rspamd.log"))
	assert.FileExists(t, filepath.Join(root, "robot-save", "rspamd.log.last"))
}

func TestSave_SuiteRequired(t *testing.T) {
	_, err := execute(t, "workdir", "save", t.TempDir(), "rspamd.log")
	require.Error(t, err)
}

func TestReadLog_State(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "rspamd.log")
	state := filepath.Join(dir, "rspamd.log.pos")

	require.NoError(t, os.WriteFile(logPath, []byte("first\n"), 0o644))

	out, err := execute(t, "workdir", "read-log", logPath, "--state", state)
	require.NoError(t, err)
	assert.Equal(t, "first\n", out)

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteString("second\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	out, err = execute(t, "--json", "workdir", "read-log", logPath, "--state", state)
	require.NoError(t, err)

	var resp ReadLogResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "second\n", resp.Content)
	assert.Equal(t, int64(13), resp.Offset)

	pos, err := os.ReadFile(state)
	require.NoError(t, err)
	assert.Equal(t, "13\n", string(pos))
}

func TestReadLog_Offset(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "rspamd.log")
	require.NoError(t, os.WriteFile(logPath, []byte("0123456789"), 0o644))

	out, err := execute(t, "workdir", "read-log", logPath, "--offset", "7")
	require.NoError(t, err)
	assert.Equal(t, "789", out)
}

func TestReadLog_Missing(t *testing.T) {
	_, err := execute(t, "workdir", "read-log", filepath.Join(t.TempDir(), "none.log"))
	require.Error(t, err)
	assert.Equal(t, shared.ExitNotFound, shared.ExitCode(err))
}

func TestCat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	out, err := execute(t, "workdir", "cat", path)
	require.NoError(t, err)
	assert.Equal(t, "hello", out)

	_, err = execute(t, "workdir", "cat", path+".missing")
	require.Error(t, err)
	assert.Equal(t, shared.ExitNotFound, shared.ExitCode(err))
}

func TestSplitAndEncode(t *testing.T) {
	out, err := execute(t, "workdir", "split", "/tmp/run/rspamd.log")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/run\nrspamd.log\n", out)

	out, err = execute(t, "workdir", "encode", "a b")
	require.NoError(t, err)
	assert.Equal(t, "%61%20%62\n", out)
}
