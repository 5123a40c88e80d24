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

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	functesterrors "github.com/tombee/functest/pkg/errors"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "127.0.0.1:56789", cfg.NormalAddr())
	assert.Equal(t, "127.0.0.1:56790", cfg.ControllerAddr())
	assert.Equal(t, 10*time.Second, cfg.Shutdown.TermTimeout)
	assert.Equal(t, 20*time.Second, cfg.Shutdown.KillWait)
	assert.Equal(t, "*.luacov.stats.out", cfg.Coverage.Pattern)
	assert.Equal(t, "luacov.stats.out", cfg.Coverage.Output)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_NoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Daemon.NormalPort, cfg.Daemon.NormalPort)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "functest.yaml")
	content := `
daemon:
  host: "::1"
  normal_port: 11333
  controller_port: 11334
  args: ["-f", "-u", "rspamd"]
shutdown:
  term_timeout: 2s
coverage:
  output: /tmp/cov/luacov.stats.out
log:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "[::1]:11333", cfg.NormalAddr())
	assert.Equal(t, []string{"-f", "-u", "rspamd"}, cfg.Daemon.Args)
	assert.Equal(t, 2*time.Second, cfg.Shutdown.TermTimeout)
	assert.Equal(t, 20*time.Second, cfg.Shutdown.KillWait, "unset field keeps default")
	assert.Equal(t, "/tmp/cov/luacov.stats.out", cfg.Coverage.Output)
	assert.Equal(t, "*.luacov.stats.out", cfg.Coverage.Pattern)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "functest.yaml")
	require.NoError(t, os.WriteFile(path, []byte("daemon:\n  normal_port: 11333\n"), 0o644))

	t.Setenv("FUNCTEST_NORMAL_PORT", "12000")
	t.Setenv("FUNCTEST_KILL_WAIT", "3s")
	t.Setenv("FUNCTEST_TMPDIR", "/var/tmp/ft")
	t.Setenv("LOG_FORMAT", "JSON")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 12000, cfg.Daemon.NormalPort)
	assert.Equal(t, 3*time.Second, cfg.Shutdown.KillWait)
	assert.Equal(t, "/var/tmp/ft", cfg.TmpDir)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		env     map[string]string
		key     string
	}{
		{name: "bad yaml", content: "daemon: [", key: "config_file"},
		{name: "bad port", content: "daemon:\n  normal_port: 70000\n", key: "validation"},
		{name: "same ports", content: "daemon:\n  normal_port: 5000\n  controller_port: 5000\n", key: "validation"},
		{name: "bad level", content: "log:\n  level: loud\n", key: "validation"},
		{name: "glob output", content: "coverage:\n  output: '*.out'\n", key: "validation"},
		{name: "bad env int", content: "", env: map[string]string{"FUNCTEST_CONTROLLER_PORT": "x"}, key: "FUNCTEST_CONTROLLER_PORT"},
		{name: "bad env duration", content: "", env: map[string]string{"FUNCTEST_TERM_TIMEOUT": "10"}, key: "FUNCTEST_TERM_TIMEOUT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := filepath.Join(dir, tt.name+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			_, err := Load(path)
			var cerr *functesterrors.ConfigError
			require.True(t, errors.As(err, &cerr), "got %v", err)
			assert.Equal(t, tt.key, cerr.Key)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(dir, "nope.yaml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("validation error wraps ErrInvalidConfig", func(t *testing.T) {
		path := filepath.Join(dir, "invalid.yaml")
		require.NoError(t, os.WriteFile(path, []byte("shutdown:\n  term_timeout: -1s\n"), 0o644))

		_, err := Load(path)
		assert.ErrorIs(t, err, ErrInvalidConfig)
		assert.ErrorContains(t, err, "shutdown.term_timeout")
	})
}

func TestBinaryPath(t *testing.T) {
	t.Run("explicit variable", func(t *testing.T) {
		t.Setenv("RSPAMC", "/opt/bin/rspamc")
		t.Setenv("RSPAMD_INSTALLROOT", "/usr/local")

		p, err := Rspamc.Path()
		require.NoError(t, err)
		assert.Equal(t, "/opt/bin/rspamc", p)
	})

	t.Run("install root", func(t *testing.T) {
		t.Setenv("RSPAMD", "")
		t.Setenv("RSPAMD_INSTALLROOT", "/usr/local")

		p, err := Rspamd.Path()
		require.NoError(t, err)
		assert.Equal(t, "/usr/local/bin/rspamd", p)
	})

	t.Run("source tree", func(t *testing.T) {
		t.Setenv("RSPAMADM", "")
		t.Setenv("RSPAMD_INSTALLROOT", "")
		t.Setenv("RSPAMD_TOPDIR", "/src/rspamd")

		p, err := Rspamadm.Path()
		require.NoError(t, err)
		assert.Equal(t, "/src/rspamd/src/rspamadm/rspamadm", p)
	})
}

func TestBinaryResolve(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, "rspamd")
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755))

	t.Setenv("RSPAMD", bin)
	p, err := Rspamd.Resolve()
	require.NoError(t, err)
	assert.Equal(t, bin, p)

	t.Setenv("RSPAMD", filepath.Join(dir, "missing"))
	_, err = Rspamd.Resolve()
	var nf *functesterrors.NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "binary", nf.Resource)
}

func TestTopDirAndInstallRoot(t *testing.T) {
	t.Setenv("RSPAMD_TOPDIR", "")
	t.Setenv("RSPAMD_INSTALLROOT", "")

	wd, err := os.Getwd()
	require.NoError(t, err)

	top, err := TopDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Clean(filepath.Join(wd, "..", "..")), top)

	root, err := InstallRoot()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(filepath.Dir(wd), "install"), root)

	t.Setenv("RSPAMD_INSTALLROOT", "rel/install")
	root, err = InstallRoot()
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(root))
}

func TestWhich(t *testing.T) {
	p, err := Which("sh")
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(p))

	_, err = Which("functest-definitely-not-installed")
	assert.Error(t, err)
}
