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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeTempDir(t *testing.T) {
	dir, err := MakeTempDir("functest-")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, os.FileMode(DirMode), info.Mode().Perm())
	assert.True(t, strings.HasPrefix(filepath.Base(dir), "functest-"))
}

func TestMakeTempFile(t *testing.T) {
	dir := t.TempDir()

	a, err := MakeTempFile(dir, "msg-*.eml")
	require.NoError(t, err)
	b, err := MakeTempFile(dir, "msg-*.eml")
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Equal(t, dir, filepath.Dir(a))
	assert.True(t, strings.HasSuffix(a, ".eml"))
	assert.NoFileExists(t, a)
}

func TestCleanup(t *testing.T) {
	dir := t.TempDir()
	run := filepath.Join(dir, "run")
	require.NoError(t, os.MkdirAll(filepath.Join(run, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(run, "nested", "rspamd.log"), []byte("x"), 0o644))

	require.NoError(t, Cleanup(run))
	assert.NoDirExists(t, run)

	assert.NoError(t, Cleanup(run), "missing directory")
	assert.Error(t, Cleanup(""))
	assert.Error(t, Cleanup("/"))
}

func TestSetOwnership(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	if os.Geteuid() != 0 {
		changed, err := SetOwnership(path, "nobody", "nogroup")
		require.NoError(t, err)
		assert.False(t, changed)
		return
	}

	_, err := SetOwnership(path, "functest-no-such-user", "root")
	assert.Error(t, err)

	changed, err := SetOwnership(path, "root", "root")
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestReadFrom(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rspamd.log")
	require.NoError(t, os.WriteFile(path, []byte("line one\n"), 0o644))

	data, off, err := ReadFrom(path, 0)
	require.NoError(t, err)
	assert.Equal(t, "line one\n", string(data))
	assert.Equal(t, int64(9), off)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteString("line two\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	data, off, err = ReadFrom(path, off)
	require.NoError(t, err)
	assert.Equal(t, "line two\n", string(data))
	assert.Equal(t, int64(18), off)

	data, off, err = ReadFrom(path, off)
	require.NoError(t, err)
	assert.Empty(t, data)
	assert.Equal(t, int64(18), off)

	_, _, err = ReadFrom(path, -1)
	assert.Error(t, err)

	_, _, err = ReadFrom(filepath.Join(t.TempDir(), "missing"), 0)
	assert.Error(t, err)
}

func TestSplitPath(t *testing.T) {
	tests := []struct {
		path, dir, base string
	}{
		{"/tmp/run/rspamd.log", "/tmp/run", "rspamd.log"},
		{"run/rspamd.log", "run", "rspamd.log"},
		{"rspamd.log", "", "rspamd.log"},
		{"/rspamd.log", "/", "rspamd.log"},
		{"/tmp/run/", "/tmp/run", ""},
		{"", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			dir, base := SplitPath(tt.path)
			assert.Equal(t, tt.dir, dir)
			assert.Equal(t, tt.base, base)
		})
	}
}

func TestReadIfExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rspamd.pid")

	content, ok, err := ReadIfExists(path)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, content)

	require.NoError(t, os.WriteFile(path, []byte("42\n"), 0o644))
	content, ok, err = ReadIfExists(path)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "42\n", content)

	_, _, err = ReadIfExists(t.TempDir())
	assert.Error(t, err, "directory")
}

func TestEncodeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"a", "%61"},
		{"a b", "%61%20%62"},
		{"/tmp/x", "%2F%74%6D%70%2F%78"},
		{"\n", "%A"},
		{"é", "%E9"},
		{"€", "%20AC"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, EncodeFilename(tt.in), "EncodeFilename(%q)", tt.in)
	}
}

func TestSaveRunResults(t *testing.T) {
	runDir := t.TempDir()
	root := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(runDir, "rspamd.log"), []byte("log"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(runDir, "rspamd.conf"), []byte("conf"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(runDir, "data"), 0o755))

	t.Run("test level", func(t *testing.T) {
		target := SaveTarget{Root: root, Suite: "Scan", Test: "GTUBE"}

		saved, err := SaveRunResults(runDir, target, []string{"rspamd.log", "rspamd.conf", "missing.log", "data", ""})
		require.NoError(t, err)
		assert.Equal(t, []string{"rspamd.log", "rspamd.conf"}, saved)

		dest := filepath.Join(root, "robot-save", "Scan", "GTUBE")
		assert.Equal(t, dest, target.Dir())

		data, err := os.ReadFile(filepath.Join(dest, "rspamd.log"))
		require.NoError(t, err)
		assert.Equal(t, "log", string(data))

		info, err := os.Stat(filepath.Join(dest, "rspamd.conf"))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

		data, err = os.ReadFile(filepath.Join(root, "robot-save", "rspamd.log.last"))
		require.NoError(t, err)
		assert.Equal(t, "log", string(data))

		assert.NoFileExists(t, filepath.Join(dest, "missing.log"))
	})

	t.Run("suite level overwrites last copy", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(runDir, "rspamd.log"), []byte("newer"), 0o644))

		saved, err := SaveRunResults(runDir, SaveTarget{Root: root, Suite: "Scan"}, []string{"rspamd.log"})
		require.NoError(t, err)
		assert.Equal(t, []string{"rspamd.log"}, saved)

		data, err := os.ReadFile(filepath.Join(root, "robot-save", "Scan", "rspamd.log"))
		require.NoError(t, err)
		assert.Equal(t, "newer", string(data))

		data, err = os.ReadFile(filepath.Join(root, "robot-save", "rspamd.log.last"))
		require.NoError(t, err)
		assert.Equal(t, "newer", string(data))
	})
}
